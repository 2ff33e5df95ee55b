package automation

import (
	"errors"
	"fmt"

	"github.com/openpeerpower/core/internal/core"
)

var (
	// ErrInvalidTrigger is wrapped by every trigger validation failure.
	ErrInvalidTrigger = errors.New("automation: invalid trigger")

	// ErrInvalidCondition is wrapped by every condition validation failure.
	ErrInvalidCondition = errors.New("automation: invalid condition")
)

func invalidTrigger(format string, args ...any) error {
	return &core.ValidationError{
		Message: "Invalid trigger: " + fmt.Sprintf(format, args...),
		Err:     ErrInvalidTrigger,
	}
}

func invalidCondition(format string, args ...any) error {
	return &core.ValidationError{
		Message: "Invalid condition: " + fmt.Sprintf(format, args...),
		Err:     ErrInvalidCondition,
	}
}
