package template

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a render does not finish in time.
var ErrTimeout = errors.New("template: render timed out")

// Error is a parse or render failure. Its message is safe to show to the
// client.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("TemplateError: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
