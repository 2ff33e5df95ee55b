package wsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

// HandlerFunc handles one decoded command. msg is the command's schema
// struct, which embeds Envelope.
type HandlerFunc[T any] func(ctx context.Context, conn *Connection, msg *T) error

// Command is a registered command: its name, how it runs and how its frame is
// decoded. Build one with Immediate or Deferred.
type Command struct {
	name      string
	deferred  bool
	adminOnly bool

	// prepare decodes and validates raw, returning the invocation.
	prepare func(raw []byte) (func(ctx context.Context, conn *Connection) error, error)
}

// Name returns the command type clients send.
func (c Command) Name() string { return c.name }

// CommandOption configures a Command.
type CommandOption func(*Command)

// RequireAdmin restricts a command to admin users.
func RequireAdmin() CommandOption {
	return func(c *Command) { c.adminOnly = true }
}

// Immediate builds a command whose handler runs on the connection's reader
// before the next frame is read. Use it for cheap handlers.
func Immediate[T any](name string, handler HandlerFunc[T], opts ...CommandOption) Command {
	return newCommand(name, false, handler, opts)
}

// Deferred builds a command whose handler runs on its own goroutine within
// the connection's task group. Errors are delivered as a result for the
// command id whenever the handler returns.
func Deferred[T any](name string, handler HandlerFunc[T], opts ...CommandOption) Command {
	return newCommand(name, true, handler, opts)
}

func newCommand[T any](name string, deferred bool, handler HandlerFunc[T], opts []CommandOption) Command {
	c := Command{name: name, deferred: deferred}
	if handler != nil {
		c.prepare = func(raw []byte) (func(context.Context, *Connection) error, error) {
			msg := new(T)
			if err := decodeCommand(raw, msg); err != nil {
				return nil, err
			}
			return func(ctx context.Context, conn *Connection) error {
				return handler(ctx, conn, msg)
			}, nil
		}
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Registry maps command names to commands. Build it at start-up, register
// every command, then Freeze it before serving connections.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	frozen   atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds cmds. Registering a name that already exists fails with
// ErrDuplicateCommand and keeps the first registration. Commands before the
// failing one stay registered.
func (r *Registry) Register(cmds ...Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	for _, cmd := range cmds {
		if cmd.name == "" || cmd.prepare == nil {
			return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.name)
		}
		if _, exists := r.commands[cmd.name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.name)
		}
		r.commands[cmd.name] = cmd
	}
	return nil
}

// Freeze makes the registry read-only. Later Register calls fail with
// ErrRegistryFrozen and lookups stop taking the lock.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, bool) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// validate is shared by every command; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// selfValidator is implemented by schemas with rules struct tags cannot
// express.
type selfValidator interface {
	Validate() error
}

// decodeCommand decodes raw into msg rejecting unknown keys, then applies
// validate tags and the optional Validate method. Failures are invalid_format
// errors.
func decodeCommand(raw []byte, msg any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return invalidFormat(describeDecode(err))
	}

	if err := validate.Struct(msg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return invalidFormat(describeField(fieldErrs[0]))
		}
		return invalidFormat(err.Error())
	}

	if sv, ok := msg.(selfValidator); ok {
		if err := sv.Validate(); err != nil {
			return invalidFormat(err.Error())
		}
	}
	return nil
}

func invalidFormat(detail string) *Error {
	return NewError(CodeInvalidFormat, "Message format incorrect: "+detail)
}

func describeDecode(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("expected %s for dictionary value @ data['%s']", typeErr.Type, typeErr.Field)
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return fmt.Sprintf("extra keys not allowed @ data[%s]", strings.ReplaceAll(field, `"`, "'"))
	}
	return err.Error()
}

func describeField(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("required key not provided @ data['%s']", field)
	case "oneof":
		return fmt.Sprintf("value must be one of [%s] @ data['%s']", fe.Param(), field)
	case "gt", "gte", "min":
		return fmt.Sprintf("value must be at least %s @ data['%s']", fe.Param(), field)
	default:
		return fmt.Sprintf("invalid value @ data['%s'] (%s)", field, fe.Tag())
	}
}
