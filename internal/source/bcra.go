package source

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"chain-tracker/internal/config"
	"chain-tracker/internal/extract"
	"chain-tracker/internal/storage"
)

// BCRA data fields.
const (
	FieldReserves     = "reservas_internacionales_usd_mm"
	FieldMonetaryBase = "base_monetaria_ars_mm"
	FieldDataDate     = "data_date"
)

const tableHint = "in table"

var bcraMandatory = []string{FieldReserves, FieldMonetaryBase}

// BCRA scrapes the central bank's "Principales variables" table.
type BCRA struct {
	cfg  config.HTMLSourceConfig
	deps Deps
}

// NewBCRA constructs the BCRA source.
func NewBCRA(cfg config.HTMLSourceConfig, deps Deps) *BCRA {
	return &BCRA{cfg: cfg, deps: deps}
}

func (s *BCRA) ID() string   { return BCRAID }
func (s *BCRA) Name() string { return "BCRA International Reserves" }

// Pull fetches the variables table and reads reserves and monetary base.
func (s *BCRA) Pull(ctx context.Context) storage.SourcePayload {
	b := NewBuilder(BCRAID, s.deps.now(), bcraMandatory)

	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	page, err := s.deps.Documents.FetchDocument(ctx, s.cfg.URL)
	if err != nil {
		return b.Fail(&FetchError{SourceID: BCRAID, Err: err}).Build()
	}
	b.Snippet(string(page.Body))
	ParseBCRA(page.Doc, b)
	return b.Build()
}

// ParseBCRA extracts reserves, monetary base and the reported date into b.
// The date is optional: its absence is recorded but does not lower status.
func ParseBCRA(doc *goquery.Document, b *Builder) {
	rows, err := extract.Rows(doc)
	if err != nil {
		b.Fail(&StructureError{
			Detail: "no table rows found; page structure may have changed or requires JS rendering",
			Err:    err,
		})
		return
	}

	reserves := extract.RowValue(rows, "reservas internacionales")
	base := extract.RowValue(rows, "base monetaria")

	b.Set(FieldReserves, rowValue(reserves), tableHint)
	b.Set(FieldMonetaryBase, rowValue(base), tableHint)

	date := ""
	for _, row := range []*extract.Row{reserves, base} {
		if row != nil && row.Date != "" {
			date = row.Date
			break
		}
	}
	if date == "" {
		b.AddError(&FieldMissingError{Field: FieldDataDate, Hint: tableHint})
		return
	}
	b.DataDate(date)
}

func rowValue(row *extract.Row) *float64 {
	if row == nil {
		return nil
	}
	return row.Value
}
