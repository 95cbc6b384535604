package core

import "fmt"

// ExtractionError wraps a fetch or parse failure of a single source,
// timeouts included.
type ExtractionError struct {
	Source Source
	Err    error
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewExtractionError wraps err unless it already is an ExtractionError for src.
func NewExtractionError(src Source, err error) error {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*ExtractionError); ok && ee.Source == src {
		return ee
	}
	return &ExtractionError{Source: src, Err: err}
}
