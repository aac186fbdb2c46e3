package storage

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxSnippetLen bounds the raw response excerpt kept with each payload.
const MaxSnippetLen = 500

// DateLayout names snapshot directories and analysis dates.
const DateLayout = time.DateOnly

// Status classifies a source payload by field completeness.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Rank orders statuses from worst (0) to best.
func (s Status) Rank() int {
	switch s {
	case StatusOK:
		return 2
	case StatusPartial:
		return 1
	default:
		return 0
	}
}

// Timestamp serializes as ISO-8601 UTC with second precision and a trailing Z.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

// String formats the timestamp as 2006-01-02T15:04:05Z.
func (t Timestamp) String() string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed.UTC()
	return nil
}

// SourcePayload is the normalized result of pulling one source on one date.
type SourcePayload struct {
	SourceID   string              `json:"source_id"`
	PulledAt   Timestamp           `json:"pulled_at_utc"`
	Status     Status              `json:"status"`
	Data       map[string]*float64 `json:"data"`
	DataDate   string              `json:"data_date,omitempty"`
	Errors     []string            `json:"errors"`
	RawSnippet string              `json:"raw_response_snippet"`
}

// Value returns a data field or nil when absent.
func (p SourcePayload) Value(field string) *float64 {
	if p.Data == nil {
		return nil
	}
	return p.Data[field]
}

// PullLogEntry is one line of the append-only pull log.
type PullLogEntry struct {
	SourceID   string    `json:"source_id"`
	PulledAt   Timestamp `json:"pulled_at_utc"`
	Status     Status    `json:"status"`
	ErrorCount int       `json:"error_count"`
	Errors     []string  `json:"errors"`
}

// NewPullLogEntry summarises a payload for the pull log.
func NewPullLogEntry(p SourcePayload) PullLogEntry {
	errs := p.Errors
	if errs == nil {
		errs = []string{}
	}
	return PullLogEntry{
		SourceID:   p.SourceID,
		PulledAt:   p.PulledAt,
		Status:     p.Status,
		ErrorCount: len(errs),
		Errors:     errs,
	}
}

// Snapshot groups the payloads captured for one calendar date.
type Snapshot struct {
	Date     string
	Payloads map[string]SourcePayload
}

// Value looks up a field of a source's payload; nil when either is missing.
func (s Snapshot) Value(sourceID, field string) *float64 {
	p, ok := s.Payloads[sourceID]
	if !ok {
		return nil
	}
	return p.Value(field)
}

// TruncateSnippet bounds s to MaxSnippetLen characters without splitting runes.
func TruncateSnippet(s string) string {
	if utf8.RuneCountInString(s) <= MaxSnippetLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxSnippetLen])
}
