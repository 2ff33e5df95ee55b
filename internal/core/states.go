package core

import (
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxStateLength is the longest state value accepted by Set.
const maxStateLength = 255

// entityIDPattern matches "<domain>.<object_id>" in lower snake case.
var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// ValidEntityID reports whether id has the "<domain>.<object_id>" form.
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// SplitEntityID returns the domain and object id of an entity id.
func SplitEntityID(id string) (domain, objectID string) {
	domain, objectID, _ = strings.Cut(id, ".")
	return domain, objectID
}

// State is an immutable snapshot of one entity. The state machine replaces
// snapshots on write; holders must not modify Attributes.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     Context        `json:"context"`
}

// Domain returns the part of the entity id before the dot.
func (s *State) Domain() string {
	d, _ := SplitEntityID(s.EntityID)
	return d
}

// ObjectID returns the part of the entity id after the dot.
func (s *State) ObjectID() string {
	_, o := SplitEntityID(s.EntityID)
	return o
}

// Name returns the friendly_name attribute, falling back to the object id
// with underscores turned into spaces.
func (s *State) Name() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return strings.ReplaceAll(s.ObjectID(), "_", " ")
}

// StateMachine stores the current State of every entity and fires
// state_changed on every write.
type StateMachine struct {
	mu     sync.RWMutex
	states map[string]*State
	bus    *EventBus
}

// NewStateMachine creates an empty state machine publishing on bus.
func NewStateMachine(bus *EventBus) *StateMachine {
	return &StateMachine{
		states: make(map[string]*State),
		bus:    bus,
	}
}

// Get returns the current state of entityID.
func (m *StateMachine) Get(entityID string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[strings.ToLower(entityID)]
	return s, ok
}

// All returns every state sorted by entity id.
func (m *StateMachine) All() []*State {
	return m.filter(func(*State) bool { return true })
}

// AllForDomain returns the states of one domain sorted by entity id.
func (m *StateMachine) AllForDomain(domain string) []*State {
	domain = strings.ToLower(domain)
	return m.filter(func(s *State) bool { return s.Domain() == domain })
}

// EntityIDs returns all known entity ids, optionally limited to a domain.
func (m *StateMachine) EntityIDs(domain string) []string {
	var states []*State
	if domain == "" {
		states = m.All()
	} else {
		states = m.AllForDomain(domain)
	}
	ids := make([]string, len(states))
	for i, s := range states {
		ids[i] = s.EntityID
	}
	return ids
}

func (m *StateMachine) filter(keep func(*State) bool) []*State {
	m.mu.RLock()
	out := make([]*State, 0, len(m.states))
	for _, s := range m.states {
		if keep(s) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Set writes a new state for entityID and fires state_changed. Writing the
// same state and attributes again is a no-op unless forceUpdate is set.
// LastChanged only moves when the state value itself changes.
func (m *StateMachine) Set(entityID, state string, attrs map[string]any, forceUpdate bool, ctx *Context) (*State, error) {
	entityID = strings.ToLower(entityID)
	if !ValidEntityID(entityID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	if len(state) > maxStateLength {
		return nil, fmt.Errorf("%w: %s is longer than %d characters", ErrInvalidState, entityID, maxStateLength)
	}
	if attrs == nil {
		attrs = map[string]any{}
	} else {
		attrs = maps.Clone(attrs)
	}

	m.mu.Lock()
	old := m.states[entityID]
	sameState := old != nil && old.State == state
	if sameState && !forceUpdate && reflect.DeepEqual(old.Attributes, attrs) {
		m.mu.Unlock()
		return old, nil
	}

	now := time.Now().UTC()
	lastChanged := now
	if sameState {
		lastChanged = old.LastChanged
	}
	next := &State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attrs,
		LastChanged: lastChanged,
		LastUpdated: now,
		Context:     contextOrNew(ctx),
	}
	m.states[entityID] = next
	m.mu.Unlock()

	m.bus.Fire(EventStateChanged, stateChangedData(entityID, old, next), OriginLocal, &next.Context)
	return next, nil
}

// Remove deletes entityID and fires state_changed with a nil new_state.
// It reports whether the entity existed.
func (m *StateMachine) Remove(entityID string, ctx *Context) bool {
	entityID = strings.ToLower(entityID)

	m.mu.Lock()
	old, ok := m.states[entityID]
	delete(m.states, entityID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.bus.Fire(EventStateChanged, stateChangedData(entityID, old, nil), OriginLocal, ctx)
	return true
}

func stateChangedData(entityID string, old, next *State) map[string]any {
	return map[string]any{
		"entity_id": entityID,
		"old_state": old,
		"new_state": next,
	}
}

// ChangedStates extracts the entity id and both snapshots from a
// state_changed event. Either snapshot may be nil.
func ChangedStates(e Event) (entityID string, oldState, newState *State) {
	entityID, _ = e.Data["entity_id"].(string)
	oldState, _ = e.Data["old_state"].(*State)
	newState, _ = e.Data["new_state"].(*State)
	return entityID, oldState, newState
}
