package core

import (
	"errors"
	"strings"
	"testing"
)

func TestValidEntityID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"light.kitchen", true},
		{"sensor.temp_1", true},
		{"light", false},
		{"light.", false},
		{".kitchen", false},
		{"Light.Kitchen", false},
		{"light.kitchen.extra", false},
		{"light kitchen", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := ValidEntityID(tt.id); got != tt.want {
				t.Errorf("ValidEntityID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestStateMachine_SetFiresStateChanged(t *testing.T) {
	bus := NewEventBus()
	sm := NewStateMachine(bus)

	var events []Event
	bus.Listen(EventStateChanged, func(e Event) { events = append(events, e) })

	if _, err := sm.Set("light.kitchen", "on", map[string]any{"brightness": 100}, false, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := sm.Set("light.kitchen", "off", nil, false, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	entityID, oldState, newState := ChangedStates(events[0])
	if entityID != "light.kitchen" || oldState != nil || newState.State != "on" {
		t.Errorf("first event = %s %v %v", entityID, oldState, newState)
	}
	_, oldState, newState = ChangedStates(events[1])
	if oldState.State != "on" || newState.State != "off" {
		t.Errorf("second event old=%s new=%s, want on/off", oldState.State, newState.State)
	}
}

func TestStateMachine_SetUnchangedIsNoop(t *testing.T) {
	bus := NewEventBus()
	sm := NewStateMachine(bus)

	count := 0
	bus.Listen(EventStateChanged, func(Event) { count++ })

	first, _ := sm.Set("switch.fan", "on", map[string]any{"speed": "low"}, false, nil)
	again, _ := sm.Set("switch.fan", "on", map[string]any{"speed": "low"}, false, nil)

	if count != 1 {
		t.Errorf("state_changed fired %d times, want 1", count)
	}
	if first != again {
		t.Error("expected the unchanged write to return the existing snapshot")
	}

	forced, _ := sm.Set("switch.fan", "on", map[string]any{"speed": "low"}, true, nil)
	if count != 2 {
		t.Errorf("forced write fired %d events total, want 2", count)
	}
	if !forced.LastChanged.Equal(first.LastChanged) {
		t.Error("LastChanged moved although the state value did not change")
	}
}

func TestStateMachine_SetRejectsInvalidInput(t *testing.T) {
	sm := NewStateMachine(NewEventBus())

	if _, err := sm.Set("not_an_entity", "on", nil, false, nil); !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("Set(invalid id) error = %v, want ErrInvalidEntityID", err)
	}
	if _, err := sm.Set("sensor.long", strings.Repeat("x", 256), nil, false, nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Set(long state) error = %v, want ErrInvalidState", err)
	}
}

func TestStateMachine_SetLowercasesEntityID(t *testing.T) {
	sm := NewStateMachine(NewEventBus())

	if _, err := sm.Set("Light.Kitchen", "on", nil, false, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := sm.Get("light.kitchen"); !ok {
		t.Error("expected light.kitchen to exist")
	}
}

func TestStateMachine_AttributesAreCopied(t *testing.T) {
	sm := NewStateMachine(NewEventBus())

	attrs := map[string]any{"a": 1}
	sm.Set("sensor.x", "1", attrs, false, nil) //nolint:errcheck // valid input
	attrs["a"] = 2

	st, _ := sm.Get("sensor.x")
	if st.Attributes["a"] != 1 {
		t.Errorf("stored attribute = %v, want 1", st.Attributes["a"])
	}
}

func TestStateMachine_Remove(t *testing.T) {
	bus := NewEventBus()
	sm := NewStateMachine(bus)
	sm.Set("sensor.x", "1", nil, false, nil) //nolint:errcheck // valid input

	var last Event
	bus.Listen(EventStateChanged, func(e Event) { last = e })

	if !sm.Remove("sensor.x", nil) {
		t.Fatal("Remove returned false for an existing entity")
	}
	if sm.Remove("sensor.x", nil) {
		t.Error("Remove returned true for a missing entity")
	}
	_, oldState, newState := ChangedStates(last)
	if oldState == nil || newState != nil {
		t.Errorf("remove event old=%v new=%v, want old set and new nil", oldState, newState)
	}
}

func TestStateMachine_Queries(t *testing.T) {
	sm := NewStateMachine(NewEventBus())
	for _, id := range []string{"light.b", "light.a", "switch.c"} {
		sm.Set(id, "on", nil, false, nil) //nolint:errcheck // valid input
	}

	if n := len(sm.All()); n != 3 {
		t.Errorf("All() = %d states, want 3", n)
	}
	lights := sm.AllForDomain("light")
	if len(lights) != 2 || lights[0].EntityID != "light.a" {
		t.Errorf("AllForDomain(light) = %v", lights)
	}
	if ids := sm.EntityIDs(""); len(ids) != 3 {
		t.Errorf("EntityIDs() = %v", ids)
	}
}

func TestState_Name(t *testing.T) {
	s := &State{EntityID: "light.living_room"}
	if s.Name() != "living room" {
		t.Errorf("Name() = %q, want %q", s.Name(), "living room")
	}
	s.Attributes = map[string]any{"friendly_name": "Lounge"}
	if s.Name() != "Lounge" {
		t.Errorf("Name() = %q, want Lounge", s.Name())
	}
}
