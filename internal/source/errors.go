package source

import (
	"errors"
	"fmt"
	"strings"
)

// FetchError aborts a source run when the upstream could not be read.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StructureError aborts a source run when the document lacks the rows or
// cards the extractor expects.
type StructureError struct {
	Detail string
	Err    error
}

func (e *StructureError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("unexpected document structure: %v", e.Err)
}

func (e *StructureError) Unwrap() error { return e.Err }

// FieldMissingError records one field that could not be located. Hint
// completes the message, e.g. "on page".
type FieldMissingError struct {
	Field string
	Hint  string
}

func (e *FieldMissingError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s not found %s", e.Field, e.Hint)
	}
	return fmt.Sprintf("%s not found", e.Field)
}

// DerivationSkippedError records a computed field left empty because its
// inputs were incomplete or invalid.
type DerivationSkippedError struct {
	Field  string
	Inputs []string
}

func (e *DerivationSkippedError) Error() string {
	return fmt.Sprintf("cannot calculate %s due to missing or invalid %s", e.Field, strings.Join(e.Inputs, "/"))
}

// IsFailFast reports whether err should abort a source run with no data.
func IsFailFast(err error) bool {
	var fetchErr *FetchError
	var structErr *StructureError
	return errors.As(err, &fetchErr) || errors.As(err, &structErr)
}
