package wsapi

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type echoMsg struct {
	Envelope
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"omitempty,gt=0"`
	Mode  string `json:"mode" validate:"omitempty,oneof=fast slow"`
}

func (m *echoMsg) Validate() error {
	if m.Name == "forbidden" {
		return errors.New("name is reserved")
	}
	return nil
}

func handleEcho(_ context.Context, conn *Connection, msg *echoMsg) error {
	conn.SendResult(msg.ID, msg.Name)
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Immediate("echo", handleEcho), Deferred("slow_echo", handleEcho)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	cmd, ok := r.Lookup("echo")
	if !ok || cmd.Name() != "echo" || cmd.deferred {
		t.Errorf("Lookup(echo) = %+v, %v", cmd, ok)
	}
	if cmd, ok := r.Lookup("slow_echo"); !ok || !cmd.deferred {
		t.Errorf("Lookup(slow_echo) deferred = %v, want true", cmd.deferred)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) found a command")
	}
	if got := strings.Join(r.Names(), ","); got != "echo,slow_echo" {
		t.Errorf("Names() = %s", got)
	}
}

func TestRegistry_DuplicateKeepsFirst(t *testing.T) {
	r := NewRegistry()
	first := Immediate("echo", handleEcho)
	second := Immediate("echo", handleEcho, RequireAdmin())

	if err := r.Register(first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(second); !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("Register() duplicate error = %v, want ErrDuplicateCommand", err)
	}
	if cmd, _ := r.Lookup("echo"); cmd.adminOnly {
		t.Error("duplicate registration replaced the first command")
	}
}

func TestRegistry_Invalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Immediate("", handleEcho)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("empty name error = %v, want ErrInvalidCommand", err)
	}
	if err := r.Register(Immediate[echoMsg]("echo", nil)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("nil handler error = %v, want ErrInvalidCommand", err)
	}
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Immediate("echo", handleEcho)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r.Freeze()

	if err := r.Register(Immediate("late", handleEcho)); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Register() after Freeze error = %v, want ErrRegistryFrozen", err)
	}
	if _, ok := r.Lookup("echo"); !ok {
		t.Error("Lookup() after Freeze lost the command")
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"valid", `{"id":1,"type":"echo","name":"a"}`, ""},
		{"valid optional", `{"id":1,"type":"echo","name":"a","count":2,"mode":"fast"}`, ""},
		{"missing required", `{"id":1,"type":"echo"}`, "required key not provided @ data['name']"},
		{"extra key", `{"id":1,"type":"echo","name":"a","color":"red"}`, "extra keys not allowed @ data['color']"},
		{"wrong type", `{"id":1,"type":"echo","name":5}`, "expected string for dictionary value @ data['name']"},
		{"bad enum", `{"id":1,"type":"echo","name":"a","mode":"medium"}`, "value must be one of [fast slow] @ data['mode']"},
		{"below minimum", `{"id":1,"type":"echo","name":"a","count":-1}`, "@ data['count']"},
		{"self validation", `{"id":1,"type":"echo","name":"forbidden"}`, "name is reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeCommand([]byte(tt.raw), new(echoMsg))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("decodeCommand() error = %v", err)
				}
				return
			}

			var wsErr *Error
			if !errors.As(err, &wsErr) || wsErr.Code != CodeInvalidFormat {
				t.Fatalf("decodeCommand() error = %v, want invalid_format", err)
			}
			if !strings.Contains(wsErr.Message, tt.wantErr) {
				t.Errorf("message = %q, want it to contain %q", wsErr.Message, tt.wantErr)
			}
		})
	}
}
