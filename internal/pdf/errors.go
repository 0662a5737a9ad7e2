package pdf

import "fmt"

// RenderError reports a field whose image could not be embedded. It aborts
// the whole composition; no placeholder is substituted.
type RenderError struct {
	Field string
	Path  string
	Err   error
}

func (e *RenderError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("render field %q (%s): %v", e.Field, e.Path, e.Err)
	}
	return fmt.Sprintf("render field %q: %v", e.Field, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
