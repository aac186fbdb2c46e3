package source

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"chain-tracker/internal/config"
	"chain-tracker/internal/extract"
	"chain-tracker/internal/storage"
)

// DolarHoy data fields.
const (
	FieldOficialCompra = "dolar_oficial_compra"
	FieldOficialVenta  = "dolar_oficial_venta"
	FieldBlueCompra    = "dolar_blue_compra"
	FieldBlueVenta     = "dolar_blue_venta"
	FieldMEP           = "dolar_mep"
	FieldCCL           = "dolar_ccl"
	FieldCrypto        = "dolar_crypto"
	FieldSpread        = "brecha_blue_vs_oficial_pct"
)

var (
	oficialKeywords = []string{"dolar oficial", "dólar oficial", "oficial"}
	blueKeywords    = []string{"dolar blue", "dólar blue", "blue"}
	mepKeywords     = []string{"mep", "bolsa"}
	cclKeywords     = []string{"ccl", "contado con liqui", "contado con liquidacion"}
	cryptoKeywords  = []string{"crypto", "cripto"}

	dolarHoyMandatory = []string{FieldOficialCompra, FieldOficialVenta, FieldBlueCompra, FieldBlueVenta}
	dolarHoyOptional  = []string{FieldMEP, FieldCCL, FieldCrypto, FieldSpread}

	hundred = decimal.NewFromInt(100)
)

const pageHint = "on page"

// DolarHoy scrapes ARS exchange rates from dolarhoy.com.
type DolarHoy struct {
	cfg  config.HTMLSourceConfig
	deps Deps
}

// NewDolarHoy constructs the DolarHoy source.
func NewDolarHoy(cfg config.HTMLSourceConfig, deps Deps) *DolarHoy {
	return &DolarHoy{cfg: cfg, deps: deps}
}

func (s *DolarHoy) ID() string   { return DolarHoyID }
func (s *DolarHoy) Name() string { return "DolarHoy FX Rates" }

// Pull fetches the page and extracts every rate card.
func (s *DolarHoy) Pull(ctx context.Context) storage.SourcePayload {
	b := NewBuilder(DolarHoyID, s.deps.now(), dolarHoyMandatory, dolarHoyOptional...)

	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	page, err := s.deps.Documents.FetchDocument(ctx, s.cfg.URL)
	if err != nil {
		return b.Fail(&FetchError{SourceID: DolarHoyID, Err: err}).Build()
	}
	b.Snippet(string(page.Body))
	ParseDolarHoy(page.Doc, b)
	return b.Build()
}

// ParseDolarHoy extracts the rate cards of a DolarHoy page into b.
func ParseDolarHoy(doc *goquery.Document, b *Builder) {
	if !extract.HasCards(doc) {
		b.Fail(&StructureError{Detail: "no rate cards found; page structure may have changed"})
		return
	}

	oficialCompra, oficialVenta := extract.PairedValues(extract.FindNode(doc, oficialKeywords...))
	blueCompra, blueVenta := extract.PairedValues(extract.FindNode(doc, blueKeywords...))

	b.Set(FieldOficialCompra, oficialCompra, pageHint)
	b.Set(FieldOficialVenta, oficialVenta, pageHint)
	b.Set(FieldBlueCompra, blueCompra, pageHint)
	b.Set(FieldBlueVenta, blueVenta, pageHint)
	b.Set(FieldMEP, extract.SingleValue(extract.FindNode(doc, mepKeywords...)), pageHint)
	b.Set(FieldCCL, extract.SingleValue(extract.FindNode(doc, cclKeywords...)), pageHint)
	b.Set(FieldCrypto, extract.SingleValue(extract.FindNode(doc, cryptoKeywords...)), pageHint)

	b.Derive(FieldSpread, SpreadPct, FieldBlueVenta, FieldOficialVenta)
}

// SpreadPct is the blue-over-official gap in percent, rounded to two
// decimals. It rejects a zero official rate.
func SpreadPct(in []float64) (float64, bool) {
	if len(in) != 2 || in[1] == 0 {
		return 0, false
	}
	blue := decimal.NewFromFloat(in[0])
	official := decimal.NewFromFloat(in[1])
	return blue.Div(official).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(2).InexactFloat64(), true
}
