package source

import (
	"fmt"
	"math"
	"time"

	"chain-tracker/internal/storage"
)

// DerivationFunc computes a derived field from its inputs, in declared
// order. It reports false when the inputs are not acceptable, for example a
// zero denominator.
type DerivationFunc func(inputs []float64) (float64, bool)

// Builder assembles a SourcePayload and derives its status from the
// completeness of the mandatory fields. It never panics; every problem ends
// up in the payload's errors.
type Builder struct {
	sourceID  string
	pulledAt  time.Time
	mandatory []string
	data      map[string]*float64
	errs      []string
	dataDate  string
	snippet   string
	failed    bool
}

// NewBuilder declares the mandatory and optional fields of a source. Declared
// fields always appear in the payload data, null when unset.
func NewBuilder(sourceID string, pulledAt time.Time, mandatory []string, optional ...string) *Builder {
	b := &Builder{
		sourceID:  sourceID,
		pulledAt:  pulledAt,
		mandatory: append([]string(nil), mandatory...),
		data:      make(map[string]*float64, len(mandatory)+len(optional)),
	}
	for _, field := range mandatory {
		b.declare(field)
	}
	for _, field := range optional {
		b.declare(field)
	}
	return b
}

func (b *Builder) declare(field string) {
	if _, ok := b.data[field]; ok {
		return
	}
	b.data[field] = nil
}

// Set records an extracted value. A nil value records a FieldMissingError
// with the given hint.
func (b *Builder) Set(field string, value *float64, hint string) *Builder {
	b.declare(field)
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return b.Missing(field, &FieldMissingError{Field: field, Hint: hint})
	}
	v := *value
	b.data[field] = &v
	return b
}

// Missing leaves field null and records reason in place of the generic
// FieldMissingError.
func (b *Builder) Missing(field string, reason error) *Builder {
	b.declare(field)
	b.data[field] = nil
	return b.AddError(reason)
}

// Derive computes field from inputs when all are present and fn accepts
// them. Otherwise the field stays null and one DerivationSkippedError is
// recorded.
func (b *Builder) Derive(field string, fn DerivationFunc, inputs ...string) *Builder {
	b.declare(field)
	values := make([]float64, 0, len(inputs))
	for _, in := range inputs {
		v := b.data[in]
		if v == nil {
			b.AddError(&DerivationSkippedError{Field: field, Inputs: inputs})
			return b
		}
		values = append(values, *v)
	}
	result, ok := fn(values)
	if !ok || math.IsNaN(result) || math.IsInf(result, 0) {
		b.AddError(&DerivationSkippedError{Field: field, Inputs: inputs})
		return b
	}
	b.data[field] = &result
	return b
}

// DataDate records the observation date reported by the source.
func (b *Builder) DataDate(date string) *Builder {
	b.dataDate = date
	return b
}

// Snippet keeps a bounded excerpt of the raw response.
func (b *Builder) Snippet(raw string) *Builder {
	b.snippet = storage.TruncateSnippet(raw)
	return b
}

// AddError appends a non-fatal message.
func (b *Builder) AddError(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err.Error())
	}
	return b
}

// Fail switches the builder to the fail-fast path: status error, a single
// message, and every declared field null.
func (b *Builder) Fail(err error) *Builder {
	if err == nil {
		err = fmt.Errorf("unknown failure")
	}
	b.failed = true
	for field := range b.data {
		b.data[field] = nil
	}
	b.dataDate = ""
	b.errs = []string{err.Error()}
	return b
}

// Build returns the payload.
func (b *Builder) Build() storage.SourcePayload {
	data := make(map[string]*float64, len(b.data))
	for field, v := range b.data {
		if v != nil {
			value := *v
			data[field] = &value
		} else {
			data[field] = nil
		}
	}
	errs := append([]string{}, b.errs...)

	return storage.SourcePayload{
		SourceID:   b.sourceID,
		PulledAt:   storage.NewTimestamp(b.pulledAt),
		Status:     b.status(),
		Data:       data,
		DataDate:   b.dataDate,
		Errors:     errs,
		RawSnippet: b.snippet,
	}
}

func (b *Builder) status() storage.Status {
	if b.failed {
		return storage.StatusError
	}
	return StatusFor(len(b.mandatory), b.present())
}

func (b *Builder) present() int {
	n := 0
	for _, field := range b.mandatory {
		if b.data[field] != nil {
			n++
		}
	}
	return n
}

// StatusFor maps mandatory-field completeness to a status: all present is
// ok, none is error, anything in between is partial. A source with no
// mandatory fields is ok.
func StatusFor(total, present int) storage.Status {
	switch {
	case present >= total:
		return storage.StatusOK
	case present <= 0:
		return storage.StatusError
	default:
		return storage.StatusPartial
	}
}
