package wsapi

import (
	"strconv"
	"sync"

	"github.com/openpeerpower/core/internal/auth"
	"github.com/openpeerpower/core/internal/core"
)

// ConnectedClientsEntityID is the entity mirroring the number of
// authenticated WebSocket clients.
const ConnectedClientsEntityID = "sensor.connected_clients"

// ConnectedClients is an Observer keeping sensor.connected_clients current.
type ConnectedClients struct {
	states *core.StateMachine
	logger core.Logger

	mu    sync.Mutex
	count int
}

// NewConnectedClients creates the sensor and publishes its initial state.
func NewConnectedClients(hub *core.Hub, logger core.Logger) *ConnectedClients {
	s := &ConnectedClients{states: hub.States, logger: logger}
	s.mu.Lock()
	s.publish()
	s.mu.Unlock()
	return s
}

// Connected implements Observer.
func (s *ConnectedClients) Connected(*auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.publish()
}

// Disconnected implements Observer.
func (s *ConnectedClients) Disconnected(*auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
	}
	s.publish()
}

// Count returns the current number of authenticated clients.
func (s *ConnectedClients) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// publish writes the state. Callers hold s.mu so writes stay ordered.
func (s *ConnectedClients) publish() {
	_, err := s.states.Set(ConnectedClientsEntityID, strconv.Itoa(s.count), map[string]any{
		"friendly_name":       "Connected clients",
		"unit_of_measurement": "clients",
	}, false, nil)
	if err != nil && s.logger != nil {
		s.logger.Error("updating connected clients sensor", "error", err)
	}
}
