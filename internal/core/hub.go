package core

import (
	"sync"
)

// Exit codes returned by Hub.ExitCode.
const (
	ExitCodeStop    = 0
	ExitCodeRestart = 100
)

// RunState is the lifecycle stage of a Hub.
type RunState int

// Hub lifecycle stages.
const (
	NotRunning RunState = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return "NOT_RUNNING"
	}
}

// Hub bundles the collaborators shared by every component.
type Hub struct {
	Bus      *EventBus
	States   *StateMachine
	Services *ServiceRegistry
	Config   *Config

	mu       sync.Mutex
	state    RunState
	exitCode int
	done     chan struct{}
	logger   Logger
}

// NewHub creates a hub with empty collaborators and the given config.
// A nil cfg is replaced by an empty one.
func NewHub(cfg *Config) *Hub {
	if cfg == nil {
		cfg = &Config{UnitSystem: UnitSystemMetric, TimeZone: "UTC"}
	}
	bus := NewEventBus()
	return &Hub{
		Bus:      bus,
		States:   NewStateMachine(bus),
		Services: NewServiceRegistry(bus),
		Config:   cfg,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger on the hub and its collaborators.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
	h.Bus.SetLogger(logger)
	h.Services.SetLogger(logger)
}

// State returns the current lifecycle stage.
func (h *Hub) State() RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start fires openpeerpower_start, then openpeerpower_started once every
// start listener has returned.
func (h *Hub) Start() {
	h.mu.Lock()
	h.state = Starting
	h.mu.Unlock()

	h.Bus.Fire(EventOppStart, nil, OriginLocal, nil)

	h.mu.Lock()
	h.state = Running
	h.mu.Unlock()

	h.Bus.Fire(EventOppStarted, nil, OriginLocal, nil)
	h.logger.Info("hub started", "components", len(h.Config.Components()))
}

// Stop fires openpeerpower_stop and closes Done. With restart set the exit
// code becomes ExitCodeRestart. Stopping twice returns ErrNotRunning.
func (h *Hub) Stop(restart bool) error {
	h.mu.Lock()
	if h.state == Stopping || h.state == Stopped {
		h.mu.Unlock()
		return ErrNotRunning
	}
	h.state = Stopping
	if restart {
		h.exitCode = ExitCodeRestart
	}
	h.mu.Unlock()

	h.logger.Info("hub stopping", "restart", restart)
	h.Bus.Fire(EventOppStop, nil, OriginLocal, nil)

	h.mu.Lock()
	h.state = Stopped
	h.mu.Unlock()
	close(h.done)
	return nil
}

// Done is closed once Stop has finished.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ExitCode is the process exit code requested by the last Stop.
func (h *Hub) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}
