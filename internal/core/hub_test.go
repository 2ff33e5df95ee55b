package core

import (
	"errors"
	"testing"
)

func TestHub_Lifecycle(t *testing.T) {
	hub := NewHub(nil)

	var fired []string
	hub.Bus.Listen(MatchAll, func(e Event) { fired = append(fired, e.EventType) })

	hub.Start()
	if hub.State() != Running {
		t.Errorf("State() = %v, want RUNNING", hub.State())
	}

	if err := hub.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-hub.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}
	if hub.ExitCode() != ExitCodeRestart {
		t.Errorf("ExitCode() = %d, want %d", hub.ExitCode(), ExitCodeRestart)
	}
	if err := hub.Stop(false); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop error = %v, want ErrNotRunning", err)
	}

	want := []string{EventOppStart, EventOppStarted, EventOppStop}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %q, want %q", i, fired[i], want[i])
		}
	}
}

func TestConfig_AsMap(t *testing.T) {
	cfg := &Config{LocationName: "Home", UnitSystem: UnitSystemImperial, TimeZone: "UTC", Version: "1"}
	cfg.AddComponent("websocket_api")
	cfg.AddComponent("api")

	m := cfg.AsMap()

	components, _ := m["components"].([]string)
	if len(components) != 2 || components[0] != "api" {
		t.Errorf("components = %v, want sorted [api websocket_api]", components)
	}
	units, _ := m["unit_system"].(map[string]string)
	if units["temperature"] != "°F" {
		t.Errorf("temperature unit = %q, want °F", units["temperature"])
	}
	if !cfg.HasComponent("api") || cfg.HasComponent("mqtt") {
		t.Error("HasComponent returned the wrong answer")
	}
}
