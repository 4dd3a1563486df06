package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch marks a source that could not be retrieved or decoded.
	ErrFetch = errors.New("fetch failed")

	// ErrSchemaMismatch marks a declared origin column missing from a source.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrDateParse marks a date cell that does not match the source's layout.
	ErrDateParse = errors.New("date parse failed")

	// ErrInvalidRow marks a row without a name or usable coordinates.
	ErrInvalidRow = errors.New("invalid row")

	// ErrMalformedInfoBox marks an info-box fragment missing a labelled value.
	ErrMalformedInfoBox = errors.New("malformed info box")
)

// FetchError reports a source that was unreachable, answered with a non-2xx
// status, or returned a payload that could not be decoded.
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetch, e.Err}
}

// SchemaMismatchError names the declared column a source is missing.
// Row is -1 when the column is absent from the header.
type SchemaMismatchError struct {
	Source string
	Column string
	Row    int
}

func (e *SchemaMismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("source %s: column %q not found", e.Source, e.Column)
	}
	return fmt.Sprintf("source %s: row %d: column %q missing", e.Source, e.Row, e.Column)
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// DateParseError reports a date cell that failed to parse.
type DateParseError struct {
	Source string
	Row    int
	Value  string
	Layout string
	Err    error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("source %s: row %d: date %q does not match %q", e.Source, e.Row, e.Value, e.Layout)
}

func (e *DateParseError) Unwrap() []error {
	return []error{ErrDateParse, e.Err}
}
