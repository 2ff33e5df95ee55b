package automation

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"sync"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/template"
)

// Trigger platforms.
const (
	PlatformState         = "state"
	PlatformEvent         = "event"
	PlatformTemplate      = "template"
	PlatformOpenPeerPower = "openpeerpower"
)

// Action is invoked every time a trigger fires. vars holds the variables
// passed to AttachTriggers plus a "trigger" entry describing the firing.
// It runs on the goroutine that fired the underlying event and must not block.
type Action func(vars map[string]any, origin core.Context)

// fireFunc receives the platform specific trigger data.
type fireFunc func(data map[string]any, origin core.Context)

// attacher starts watching the hub and returns the detach function.
type attacher func(hub *core.Hub, fire fireFunc) (func(), error)

type stateTrigger struct {
	Platform  string      `json:"platform"`
	ID        string      `json:"id"`
	EntityID  stringList  `json:"entity_id"`
	From      *stringList `json:"from"`
	To        *stringList `json:"to"`
	Attribute string      `json:"attribute"`
}

type eventTrigger struct {
	Platform  string         `json:"platform"`
	ID        string         `json:"id"`
	EventType stringList     `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

type templateTrigger struct {
	Platform      string `json:"platform"`
	ID            string `json:"id"`
	ValueTemplate string `json:"value_template"`
}

type hubTrigger struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	Event    string `json:"event"`
}

// ValidateTriggers checks configs without attaching anything.
func ValidateTriggers(renderer *template.Renderer, configs []map[string]any) error {
	_, _, err := buildTriggers(renderer, configs)
	return err
}

// AttachTriggers validates configs, attaches every trigger to hub and
// returns a function detaching all of them. Either every trigger is attached
// or none is.
func AttachTriggers(hub *core.Hub, renderer *template.Renderer, configs []map[string]any, vars map[string]any, action Action, name string) (func(), error) {
	attachers, ids, err := buildTriggers(renderer, configs)
	if err != nil {
		return nil, err
	}

	detachers := make([]func(), 0, len(attachers))
	detachAll := func() {
		for _, d := range detachers {
			d()
		}
	}

	for i, attach := range attachers {
		idx := strconv.Itoa(i)
		id := ids[i]
		fire := func(data map[string]any, origin core.Context) {
			data["idx"] = idx
			data["id"] = id
			out := maps.Clone(vars)
			if out == nil {
				out = make(map[string]any, 1)
			}
			out["trigger"] = data
			action(out, origin)
		}

		detach, err := attach(hub, fire)
		if err != nil {
			detachAll()
			return nil, fmt.Errorf("attaching trigger %s for %s: %w", idx, name, err)
		}
		detachers = append(detachers, detach)
	}

	var once sync.Once
	return func() { once.Do(detachAll) }, nil
}

func buildTriggers(renderer *template.Renderer, configs []map[string]any) ([]attacher, []string, error) {
	if len(configs) == 0 {
		return nil, nil, invalidTrigger("at least one trigger is required")
	}
	attachers := make([]attacher, 0, len(configs))
	ids := make([]string, 0, len(configs))
	for i, raw := range configs {
		a, id, err := buildTrigger(renderer, raw)
		if err != nil {
			return nil, nil, err
		}
		if id == "" {
			id = strconv.Itoa(i)
		}
		attachers = append(attachers, a)
		ids = append(ids, id)
	}
	return attachers, ids, nil
}

func buildTrigger(renderer *template.Renderer, raw map[string]any) (attacher, string, error) {
	platform, _ := raw["platform"].(string)
	switch platform {
	case PlatformState:
		var t stateTrigger
		if err := decodeStrict(raw, &t); err != nil {
			return nil, "", invalidTrigger("%v", err)
		}
		ids, err := lowerEntityIDs(t.EntityID)
		if err != nil {
			return nil, "", invalidTrigger("%v", err)
		}
		t.EntityID = ids
		return t.attach, t.ID, nil

	case PlatformEvent:
		var t eventTrigger
		if err := decodeStrict(raw, &t); err != nil {
			return nil, "", invalidTrigger("%v", err)
		}
		if len(t.EventType) == 0 {
			return nil, "", invalidTrigger("event_type is required")
		}
		return t.attach, t.ID, nil

	case PlatformTemplate:
		var t templateTrigger
		if err := decodeStrict(raw, &t); err != nil {
			return nil, "", invalidTrigger("%v", err)
		}
		if t.ValueTemplate == "" {
			return nil, "", invalidTrigger("value_template is required")
		}
		tmpl, err := renderer.Parse(t.ValueTemplate, false)
		if err != nil {
			return nil, "", invalidTrigger("%v", err)
		}
		return func(hub *core.Hub, fire fireFunc) (func(), error) {
			return t.attach(renderer, tmpl, fire)
		}, t.ID, nil

	case PlatformOpenPeerPower:
		var t hubTrigger
		if err := decodeStrict(raw, &t); err != nil {
			return nil, "", invalidTrigger("%v", err)
		}
		if t.Event != "start" && t.Event != "shutdown" {
			return nil, "", invalidTrigger("event must be start or shutdown, got %q", t.Event)
		}
		return t.attach, t.ID, nil

	case "":
		return nil, "", invalidTrigger("platform is required")
	default:
		return nil, "", invalidTrigger("platform %q is not supported", platform)
	}
}

func (t stateTrigger) attach(hub *core.Hub, fire fireFunc) (func(), error) {
	return hub.Bus.Listen(core.EventStateChanged, func(e core.Event) {
		entityID, oldState, newState := core.ChangedStates(e)
		if !t.EntityID.contains(entityID) || !t.matches(oldState, newState) {
			return
		}
		fire(map[string]any{
			"platform":    PlatformState,
			"entity_id":   entityID,
			"from_state":  oldState,
			"to_state":    newState,
			"attribute":   t.Attribute,
			"description": "state of " + entityID,
		}, e.Context)
	}), nil
}

func (t stateTrigger) matches(oldState, newState *core.State) bool {
	from, hadOld := t.value(oldState)
	to, hasNew := t.value(newState)

	if t.From != nil && (!hadOld || !t.From.contains(from)) {
		return false
	}
	if t.To != nil && (!hasNew || !t.To.contains(to)) {
		return false
	}
	if t.Attribute != "" {
		return hadOld != hasNew || from != to
	}
	if (t.From != nil || t.To != nil) && oldState != nil && newState != nil {
		return oldState.State != newState.State
	}
	return true
}

// value returns the watched value of s: its state, or the configured
// attribute rendered as text.
func (t stateTrigger) value(s *core.State) (string, bool) {
	if s == nil {
		return "", false
	}
	if t.Attribute == "" {
		return s.State, true
	}
	v, ok := s.Attributes[t.Attribute]
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

func (t eventTrigger) attach(hub *core.Hub, fire fireFunc) (func(), error) {
	unsubs := make([]func(), 0, len(t.EventType))
	for _, eventType := range t.EventType {
		unsubs = append(unsubs, hub.Bus.Listen(eventType, func(e core.Event) {
			if !dataMatches(t.EventData, e.Data) {
				return
			}
			fire(map[string]any{
				"platform":    PlatformEvent,
				"event":       e,
				"description": fmt.Sprintf("event '%s'", e.EventType),
			}, e.Context)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}, nil
}

// dataMatches reports whether every key of want is present in got with an
// equal value.
func dataMatches(want, got map[string]any) bool {
	for k, v := range want {
		actual, ok := got[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(v, actual) && fmt.Sprint(v) != fmt.Sprint(actual) {
			return false
		}
	}
	return true
}

func (t templateTrigger) attach(renderer *template.Renderer, tmpl *template.Template, fire fireFunc) (func(), error) {
	var (
		mu       sync.Mutex
		previous bool
		ready    bool
	)
	tracker, err := renderer.Track(context.Background(), tmpl, nil, nil, func(info template.RenderInfo) {
		current := info.Err == nil && asBool(info.Result)

		mu.Lock()
		rising := ready && current && !previous
		previous = current
		mu.Unlock()

		if rising {
			fire(map[string]any{
				"platform":       PlatformTemplate,
				"value_template": t.ValueTemplate,
				"description":    "template",
			}, core.NewContext("", ""))
		}
	})
	if err != nil {
		return nil, invalidTrigger("%v", err)
	}

	mu.Lock()
	if !ready {
		previous = asBool(tracker.Info().Result)
		ready = true
	}
	mu.Unlock()

	return tracker.Remove, nil
}

func (t hubTrigger) attach(hub *core.Hub, fire fireFunc) (func(), error) {
	eventType, description := core.EventOppStart, "Open Peer Power starting"
	if t.Event == "shutdown" {
		eventType, description = core.EventOppStop, "Open Peer Power stopping"
	}
	return hub.Bus.Listen(eventType, func(e core.Event) {
		fire(map[string]any{
			"platform":    PlatformOpenPeerPower,
			"event":       t.Event,
			"description": description,
		}, e.Context)
	}), nil
}
