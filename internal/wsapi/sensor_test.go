package wsapi

import (
	"testing"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
)

func TestConnectedClients(t *testing.T) {
	hub := core.NewHub(&core.Config{})
	sensor := NewConnectedClients(hub, logging.Discard())

	stateOf := func() string {
		t.Helper()
		s, ok := hub.States.Get(ConnectedClientsEntityID)
		if !ok {
			t.Fatalf("%s missing", ConnectedClientsEntityID)
		}
		return s.State
	}

	if got := stateOf(); got != "0" {
		t.Errorf("initial state = %q, want %q", got, "0")
	}

	sensor.Connected(testAdmin)
	sensor.Connected(testUser)
	if got := stateOf(); got != "2" {
		t.Errorf("state after two connects = %q, want %q", got, "2")
	}

	sensor.Disconnected(testAdmin)
	sensor.Disconnected(testUser)
	sensor.Disconnected(testUser)
	if got := stateOf(); got != "0" {
		t.Errorf("state after extra disconnect = %q, want %q", got, "0")
	}
	if got := sensor.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	s, _ := hub.States.Get(ConnectedClientsEntityID)
	if got := s.Attributes["unit_of_measurement"]; got != "clients" {
		t.Errorf("unit_of_measurement = %v, want clients", got)
	}
}
