package statestream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
	"github.com/openpeerpower/core/internal/infrastructure/mqtt"
)

// queueSize bounds the publish backlog. Updates beyond it are dropped and
// counted; the next change of the same entity supersedes them anyway.
const queueSize = 1024

// ErrPayloadInvalid is returned for set messages that carry no state.
var ErrPayloadInvalid = errors.New("statestream: invalid set payload")

// MQTTClient is the broker surface used by the stream. *mqtt.Client
// implements it.
type MQTTClient interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// message is one pending retained publish.
type message struct {
	topic   string
	payload []byte
}

// setPayload is the JSON form of a set message.
type setPayload struct {
	State      *string        `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Stream publishes state changes and ingests state writes.
type Stream struct {
	hub    *core.Hub
	client MQTTClient
	cfg    config.StateStreamConfig
	qos    byte
	topics mqtt.Topics
	logger *logging.Logger

	queue    chan message
	unlisten func()
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	closed  bool
	dropped int
}

// New creates a stream. Nothing is published until Start.
func New(hub *core.Hub, client MQTTClient, cfg config.MQTTConfig, logger *logging.Logger) *Stream {
	return &Stream{
		hub:    hub,
		client: client,
		cfg:    cfg.StateStream,
		qos:    byte(cfg.QoS),
		topics: mqtt.Topics{Base: cfg.StateStream.BaseTopic},
		logger: logger.Component("statestream"),
		queue:  make(chan message, queueSize),
	}
}

// Start publishes the current state of every entity, then follows
// state_changed until Stop. It subscribes to the set topics when ingest is
// enabled.
func (s *Stream) Start(ctx context.Context) error {
	if s.cfg.Ingest {
		if err := s.client.Subscribe(s.topics.AllSets(), s.qos, s.handleSet); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.topics.AllSets(), err)
		}
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.unlisten = s.hub.Bus.Listen(core.EventStateChanged, s.handleStateChanged)
	for _, st := range s.hub.States.All() {
		s.enqueueState(st)
	}

	s.logger.Info("statestream started", "status_topic", s.topics.Status(), "ingest", s.cfg.Ingest)
	return nil
}

// Stop detaches from the bus and flushes the queued publishes.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		if s.unlisten != nil {
			s.unlisten()
		}
		if s.cfg.Ingest {
			if err := s.client.Unsubscribe(s.topics.AllSets()); err != nil {
				s.logger.Debug("unsubscribe set topics", "error", err)
			}
		}
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("statestream stopped")
	})
}

// Dropped returns how many publishes were discarded because the queue was full.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Stream) run(ctx context.Context) {
	defer s.wg.Done()
	for msg := range s.queue {
		if ctx.Err() != nil {
			continue
		}
		if err := s.client.PublishRetained(msg.topic, msg.payload); err != nil {
			s.logger.Warn("publish failed", "topic", msg.topic, "error", err)
		}
	}
}

func (s *Stream) handleStateChanged(e core.Event) {
	entityID, _, newState := core.ChangedStates(e)
	if newState == nil {
		// Empty retained payload deletes the retained message.
		s.enqueue(message{topic: s.topics.State(entityID), payload: []byte{}})
		return
	}
	s.enqueueState(newState)
}

func (s *Stream) enqueueState(st *core.State) {
	s.enqueue(message{topic: s.topics.State(st.EntityID), payload: []byte(st.State)})
	if !s.cfg.PublishAttributes {
		return
	}
	for name, value := range st.Attributes {
		payload, err := json.Marshal(value)
		if err != nil {
			s.logger.Debug("attribute not serializable", "entity_id", st.EntityID, "attribute", name, "error", err)
			continue
		}
		s.enqueue(message{topic: s.topics.Attribute(st.EntityID, name), payload: payload})
	}
}

func (s *Stream) enqueue(msg message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.dropped++
	}
}

// handleSet writes an inbound set message into the state machine.
func (s *Stream) handleSet(topic string, payload []byte) error {
	entityID, ok := s.topics.ParseSet(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrPayloadInvalid, topic)
	}

	state, attrs, err := parseSetPayload(payload)
	if err != nil {
		return err
	}
	if attrs == nil {
		// A bare value keeps the entity's current attributes.
		if current, ok := s.hub.States.Get(entityID); ok {
			attrs = current.Attributes
		}
	}

	ctx := core.NewContext("", "")
	if _, err := s.hub.States.Set(entityID, state, attrs, false, &ctx); err != nil {
		return fmt.Errorf("set %s: %w", entityID, err)
	}
	s.logger.Debug("state set from mqtt", "entity_id", entityID, "state", state)
	return nil
}

func parseSetPayload(payload []byte) (string, map[string]any, error) {
	var p setPayload
	if len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrPayloadInvalid, err)
		}
		if p.State == nil {
			return "", nil, fmt.Errorf("%w: missing state", ErrPayloadInvalid)
		}
		return *p.State, p.Attributes, nil
	}
	if len(payload) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrPayloadInvalid)
	}
	return string(payload), nil, nil
}
