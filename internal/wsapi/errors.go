package wsapi

import (
	"context"
	"errors"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/template"
)

// Error codes sent in failed results.
const (
	CodeIDReuse        = "id_reuse"
	CodeInvalidFormat  = "invalid_format"
	CodeNotFound       = "not_found"
	CodeNotSupported   = "not_supported"
	CodeOpenPeerPower  = "open_peer_power_error"
	CodeUnknownCommand = "unknown_command"
	CodeUnknownError   = "unknown_error"
	CodeUnauthorized   = "unauthorized"
	CodeTimeout        = "timeout"
	CodeTemplateError  = "template_error"
)

var (
	// ErrSerialization is returned by Encode for values JSON cannot represent.
	ErrSerialization = errors.New("wsapi: message not serializable")

	// ErrDuplicateCommand is returned when registering a command name twice.
	ErrDuplicateCommand = errors.New("wsapi: command already registered")

	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("wsapi: registry is frozen")

	// ErrInvalidCommand is returned when registering a command without a
	// name or handler.
	ErrInvalidCommand = errors.New("wsapi: invalid command")
)

// Disconnect reasons, available through context.Cause on the connection
// context and logged when a connection closes.
var (
	errAuthTimeout    = errors.New("auth timeout")
	errAuthRejected   = errors.New("auth rejected")
	errNonText        = errors.New("received non-text message")
	errInvalidJSON    = errors.New("received invalid JSON")
	errQueueFull      = errors.New("client exceeded max pending messages")
	errClientTooSlow  = errors.New("client unable to keep up with pending messages")
	errClientClosed   = errors.New("client closed connection")
	errServerShutdown = errors.New("server shutting down")
	errWriteFailed    = errors.New("write failed")
	errFinished       = errors.New("connection finished")
)

// Error is a failure with an explicit wire code. Handlers return it when the
// generic mapping is not what the client should see.
type Error struct {
	Code    string
	Message string
}

// NewError builds an Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// describeError maps err to a wire code and message. known is false when the
// error type is not recognised; its text must then not reach the client.
func describeError(err error) (code, message string, known bool) {
	var (
		wsErr       *Error
		unauthErr   *core.UnauthorizedError
		validErr    *core.ValidationError
		tmplErr     *template.Error
		notFoundErr *core.ServiceNotFoundError
		coreErr     *core.Error
	)

	switch {
	case errors.As(err, &wsErr):
		return wsErr.Code, wsErr.Message, true
	case errors.As(err, &unauthErr):
		return CodeUnauthorized, "Unauthorized", true
	case errors.As(err, &validErr):
		return CodeInvalidFormat, validErr.Message, true
	case errors.Is(err, template.ErrTimeout):
		return CodeTemplateError, err.Error(), true
	case errors.As(err, &tmplErr):
		return CodeTemplateError, tmplErr.Error(), true
	case errors.As(err, &notFoundErr):
		return CodeNotFound, "Service not found.", true
	case errors.As(err, &coreErr):
		return CodeOpenPeerPower, coreErr.Error(), true
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, "Timeout", true
	default:
		return CodeUnknownError, "Unknown error", false
	}
}
