package inputboolean

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
)

func setup(t *testing.T) (*core.Hub, *Component) {
	t.Helper()
	hub := core.NewHub(nil)
	c, err := Setup(hub, map[string]config.InputBooleanConfig{
		"guest_mode": {Name: "Guest mode", Initial: true, Icon: "mdi:account"},
		"vacation":   {},
	}, logging.Discard())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return hub, c
}

func stateOf(t *testing.T, hub *core.Hub, id string) *core.State {
	t.Helper()
	st, ok := hub.States.Get(id)
	if !ok {
		t.Fatalf("%s has no state", id)
	}
	return st
}

func TestSetup(t *testing.T) {
	hub, c := setup(t)

	if got := c.Entities(); !slices.Equal(got, []string{"input_boolean.guest_mode", "input_boolean.vacation"}) {
		t.Errorf("Entities() = %v", got)
	}
	guest := stateOf(t, hub, "input_boolean.guest_mode")
	if guest.State != StateOn || guest.Attributes["friendly_name"] != "Guest mode" || guest.Attributes["icon"] != "mdi:account" {
		t.Errorf("guest_mode = %+v", guest)
	}
	if st := stateOf(t, hub, "input_boolean.vacation"); st.State != StateOff {
		t.Errorf("vacation = %q, want off", st.State)
	}
	for _, svc := range []string{"turn_on", "turn_off", "toggle"} {
		if !hub.Services.Has(Domain, svc) {
			t.Errorf("service %s not registered", svc)
		}
	}
}

func TestSetup_InvalidObjectID(t *testing.T) {
	hub := core.NewHub(nil)
	_, err := Setup(hub, map[string]config.InputBooleanConfig{"Bad-Id": {}}, logging.Discard())
	if !errors.Is(err, core.ErrInvalidEntityID) {
		t.Errorf("Setup() error = %v, want ErrInvalidEntityID", err)
	}
}

func TestServices(t *testing.T) {
	tests := []struct {
		name    string
		service string
		target  any
		want    map[string]string
	}{
		{"turn on", "turn_on", "input_boolean.vacation", map[string]string{"guest_mode": StateOn, "vacation": StateOn}},
		{"turn off", "turn_off", "input_boolean.guest_mode", map[string]string{"guest_mode": StateOff, "vacation": StateOff}},
		{"toggle both", "toggle", []any{"input_boolean.guest_mode", "input_boolean.vacation"}, map[string]string{"guest_mode": StateOff, "vacation": StateOn}},
		{"toggle all", "toggle", "all", map[string]string{"guest_mode": StateOff, "vacation": StateOn}},
		{"unknown ignored", "turn_on", "input_boolean.vacation, input_boolean.nope", map[string]string{"guest_mode": StateOn, "vacation": StateOn}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, _ := setup(t)
			err := hub.Services.Call(context.Background(), Domain, tt.service, map[string]any{"entity_id": tt.target}, true, nil, nil)
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			for object, want := range tt.want {
				if got := stateOf(t, hub, Domain+"."+object).State; got != want {
					t.Errorf("%s = %q, want %q", object, got, want)
				}
			}
		})
	}
}

func TestServices_KeepAttributesAndContext(t *testing.T) {
	hub, _ := setup(t)
	origin := core.NewContext("user-1", "")

	if err := hub.Services.Call(context.Background(), Domain, "toggle", map[string]any{"entity_id": "input_boolean.guest_mode"}, true, &origin, nil); err != nil {
		t.Fatal(err)
	}
	st := stateOf(t, hub, "input_boolean.guest_mode")
	if st.Attributes["friendly_name"] != "Guest mode" {
		t.Errorf("attributes lost: %v", st.Attributes)
	}
	if st.Context.ID != origin.ID || st.Context.UserID != "user-1" {
		t.Errorf("context = %+v, want %+v", st.Context, origin)
	}
}

func TestServices_NoTarget(t *testing.T) {
	hub, _ := setup(t)
	err := hub.Services.Call(context.Background(), Domain, "turn_on", map[string]any{"entity_id": "light.kitchen"}, true, nil, nil)
	var v *core.ValidationError
	if !errors.As(err, &v) {
		t.Errorf("Call() error = %v, want ValidationError", err)
	}
}
