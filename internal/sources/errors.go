package sources

import "fmt"

// SourceFetchError is an adapter-level failure: transport, non-2xx status, or
// a response whose top-level shape is not what the adapter expects.
type SourceFetchError struct {
	Source string
	Status int
	Err    error
}

func (e *SourceFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: fetch failed (status %d): %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: fetch failed: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

func shapeError(source, format string, args ...any) error {
	return &SourceFetchError{Source: source, Err: fmt.Errorf("unexpected response shape: "+format, args...)}
}

// RowParseError describes one skipped row. It never leaves the adapter.
type RowParseError struct {
	Source string
	Row    int
	Field  string
	Err    error
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("%s: row %d: %s: %v", e.Source, e.Row, e.Field, e.Err)
}

func (e *RowParseError) Unwrap() error { return e.Err }
