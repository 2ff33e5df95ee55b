package automation

import (
	"errors"
	"testing"

	"github.com/openpeerpower/core/internal/core"
)

func TestAttachTriggers_State(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		changes [][2]string // entity, state
		want    int
	}{
		{
			name:    "any change",
			config:  map[string]any{"platform": "state", "entity_id": "light.kitchen"},
			changes: [][2]string{{"light.kitchen", "on"}, {"light.kitchen", "off"}, {"light.hall", "on"}},
			want:    2,
		},
		{
			name:    "to filter",
			config:  map[string]any{"platform": "state", "entity_id": "light.kitchen", "to": "on"},
			changes: [][2]string{{"light.kitchen", "off"}, {"light.kitchen", "on"}},
			want:    1,
		},
		{
			name:    "from and to",
			config:  map[string]any{"platform": "state", "entity_id": []any{"light.kitchen"}, "from": "off", "to": "on"},
			changes: [][2]string{{"light.kitchen", "on"}, {"light.kitchen", "off"}, {"light.kitchen", "on"}},
			want:    1,
		},
		{
			name:    "comma separated entities",
			config:  map[string]any{"platform": "state", "entity_id": "light.kitchen, light.Hall"},
			changes: [][2]string{{"light.kitchen", "on"}, {"light.hall", "on"}},
			want:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, renderer := newTestHub(t)
			setState(t, hub, "light.kitchen", "unknown", nil)

			var rec recorder
			detach, err := AttachTriggers(hub, renderer, []map[string]any{tt.config}, nil, rec.action, "test")
			if err != nil {
				t.Fatalf("AttachTriggers() error = %v", err)
			}
			defer detach()

			for _, c := range tt.changes {
				setState(t, hub, c[0], c[1], nil)
			}
			if len(rec.fired) != tt.want {
				t.Errorf("fired %d times, want %d", len(rec.fired), tt.want)
			}
		})
	}
}

func TestAttachTriggers_StateAttribute(t *testing.T) {
	hub, renderer := newTestHub(t)
	setState(t, hub, "climate.living", "heat", map[string]any{"temperature": 20})

	var rec recorder
	cfg := map[string]any{"platform": "state", "entity_id": "climate.living", "attribute": "temperature"}
	detach, err := AttachTriggers(hub, renderer, []map[string]any{cfg}, nil, rec.action, "test")
	if err != nil {
		t.Fatalf("AttachTriggers() error = %v", err)
	}
	defer detach()

	setState(t, hub, "climate.living", "cool", map[string]any{"temperature": 20})
	setState(t, hub, "climate.living", "cool", map[string]any{"temperature": 22})

	if len(rec.fired) != 1 {
		t.Fatalf("fired %d times, want 1", len(rec.fired))
	}
	trig := rec.trigger(0)
	if trig["platform"] != "state" || trig["entity_id"] != "climate.living" {
		t.Errorf("trigger = %v", trig)
	}
	if to, ok := trig["to_state"].(*core.State); !ok || to.Attributes["temperature"] != 22 {
		t.Errorf("to_state = %v", trig["to_state"])
	}
}

func TestAttachTriggers_Event(t *testing.T) {
	hub, renderer := newTestHub(t)

	var rec recorder
	cfg := map[string]any{
		"platform":   "event",
		"event_type": "button_pressed",
		"event_data": map[string]any{"button": "a"},
		"id":         "press",
	}
	vars := map[string]any{"user": "x"}
	detach, err := AttachTriggers(hub, renderer, []map[string]any{cfg}, vars, rec.action, "test")
	if err != nil {
		t.Fatalf("AttachTriggers() error = %v", err)
	}

	hub.Bus.Fire("button_pressed", map[string]any{"button": "b"}, core.OriginLocal, nil)
	hub.Bus.Fire("button_pressed", map[string]any{"button": "a", "extra": 1}, core.OriginLocal, nil)
	hub.Bus.Fire("other", map[string]any{"button": "a"}, core.OriginLocal, nil)

	if len(rec.fired) != 1 {
		t.Fatalf("fired %d times, want 1", len(rec.fired))
	}
	if rec.fired[0]["user"] != "x" {
		t.Errorf("base variables not passed through: %v", rec.fired[0])
	}
	trig := rec.trigger(0)
	if trig["id"] != "press" || trig["idx"] != "0" {
		t.Errorf("id, idx = %v, %v, want press, 0", trig["id"], trig["idx"])
	}
	if _, ok := vars["trigger"]; ok {
		t.Error("base variables were mutated")
	}

	detach()
	detach()
	hub.Bus.Fire("button_pressed", map[string]any{"button": "a"}, core.OriginLocal, nil)
	if len(rec.fired) != 1 {
		t.Errorf("fired after detach")
	}
	if n := hub.Bus.Listeners()["button_pressed"]; n != 0 {
		t.Errorf("button_pressed listeners = %d, want 0", n)
	}
}

func TestAttachTriggers_Template(t *testing.T) {
	hub, renderer := newTestHub(t)
	setState(t, hub, "sensor.temp", "18", nil)

	var rec recorder
	cfg := map[string]any{"platform": "template", "value_template": `{{ gt (float (states "sensor.temp")) 20.0 }}`}
	detach, err := AttachTriggers(hub, renderer, []map[string]any{cfg}, nil, rec.action, "test")
	if err != nil {
		t.Fatalf("AttachTriggers() error = %v", err)
	}
	defer detach()

	for _, v := range []string{"19", "21", "22", "17", "25"} {
		setState(t, hub, "sensor.temp", v, nil)
	}
	if len(rec.fired) != 2 {
		t.Errorf("fired %d times, want 2 (one per rising edge)", len(rec.fired))
	}
}

func TestAttachTriggers_OpenPeerPower(t *testing.T) {
	hub, renderer := newTestHub(t)

	var rec recorder
	configs := []map[string]any{
		{"platform": "openpeerpower", "event": "start"},
		{"platform": "openpeerpower", "event": "shutdown", "id": "bye"},
	}
	detach, err := AttachTriggers(hub, renderer, configs, nil, rec.action, "test")
	if err != nil {
		t.Fatalf("AttachTriggers() error = %v", err)
	}
	defer detach()

	hub.Start()
	if err := hub.Stop(false); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if len(rec.fired) != 2 {
		t.Fatalf("fired %d times, want 2", len(rec.fired))
	}
	if got := rec.trigger(0)["event"]; got != "start" {
		t.Errorf("first event = %v, want start", got)
	}
	if got := rec.trigger(1); got["id"] != "bye" || got["idx"] != "1" {
		t.Errorf("second trigger = %v", got)
	}
}

func TestAttachTriggers_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		configs []map[string]any
	}{
		{"empty", nil},
		{"missing platform", []map[string]any{{"entity_id": "light.x"}}},
		{"unknown platform", []map[string]any{{"platform": "sun"}}},
		{"unknown key", []map[string]any{{"platform": "state", "entity_id": "light.x", "for": "00:05"}}},
		{"bad entity id", []map[string]any{{"platform": "state", "entity_id": "not an id"}}},
		{"missing event type", []map[string]any{{"platform": "event"}}},
		{"bad template", []map[string]any{{"platform": "template", "value_template": "{{ if }}"}}},
		{"bad hub event", []map[string]any{{"platform": "openpeerpower", "event": "reboot"}}},
		{"second invalid", []map[string]any{{"platform": "event", "event_type": "x"}, {"platform": "nope"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, renderer := newTestHub(t)
			_, err := AttachTriggers(hub, renderer, tt.configs, nil, func(map[string]any, core.Context) {}, "test")
			if !errors.Is(err, ErrInvalidTrigger) {
				t.Fatalf("error = %v, want ErrInvalidTrigger", err)
			}
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("error %T is not a *core.ValidationError", err)
			}
			if n := hub.Bus.Listeners()["x"]; n != 0 {
				t.Errorf("listeners left behind: %d", n)
			}
		})
	}
}
