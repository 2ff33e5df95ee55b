package template

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"github.com/openpeerpower/core/internal/core"
)

// unknownState is what states returns for entities that do not exist.
const unknownState = "unknown"

// Renderer parses and renders templates against a hub's state machine.
type Renderer struct {
	states *core.StateMachine
	bus    *core.EventBus
	now    func() time.Time
}

// NewRenderer creates a Renderer bound to hub.
func NewRenderer(hub *core.Hub) *Renderer {
	return &Renderer{
		states: hub.States,
		bus:    hub.Bus,
		now:    time.Now,
	}
}

// Template is a parsed template. It is immutable and may be rendered
// concurrently.
type Template struct {
	Source string
	Strict bool
	tmpl   *texttemplate.Template
}

// Parse compiles src. With strict set, referencing a missing variable is a
// render error instead of "<no value>".
func (r *Renderer) Parse(src string, strict bool) (*Template, error) {
	t := texttemplate.New("template").Funcs(newScope(context.Background(), r).funcs())
	if strict {
		t = t.Option("missingkey=error")
	}
	parsed, err := t.Parse(src)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return &Template{Source: src, Strict: strict, tmpl: parsed}, nil
}

// RenderInfo is the outcome of one render together with what it read.
type RenderInfo struct {
	Result    any
	Err       error
	Entities  []string
	Domains   []string
	AllStates bool
	Time      bool
}

// Listeners returns the subscription payload describing what the render
// depends on.
func (i RenderInfo) Listeners() map[string]any {
	entities := i.Entities
	if entities == nil {
		entities = []string{}
	}
	domains := i.Domains
	if domains == nil {
		domains = []string{}
	}
	return map[string]any{
		"all":      i.AllStates,
		"domains":  domains,
		"entities": entities,
		"time":     i.Time,
	}
}

// Render executes t with vars. Failures are reported in RenderInfo.Err as
// *Error, or ErrTimeout when ctx expires during the render.
func (r *Renderer) Render(ctx context.Context, t *Template, vars map[string]any) RenderInfo {
	scope := newScope(ctx, r)

	clone, err := t.tmpl.Clone()
	if err != nil {
		return RenderInfo{Err: &Error{Err: err}}
	}
	clone.Funcs(scope.funcs())

	if vars == nil {
		vars = map[string]any{}
	}

	var buf strings.Builder
	err = clone.Execute(&buf, vars)
	info := scope.info()
	switch {
	case ctx.Err() != nil:
		info.Err = ErrTimeout
	case err != nil:
		info.Err = &Error{Err: err}
	default:
		info.Result = parseResult(buf.String())
	}
	return info
}

// RenderWithTimeout renders t, giving up after timeout. A render that is
// abandoned returns RenderInfo{Err: ErrTimeout}; it stops at the next helper
// call.
func (r *Renderer) RenderWithTimeout(ctx context.Context, t *Template, vars map[string]any, timeout time.Duration) RenderInfo {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan RenderInfo, 1)
	go func() {
		done <- r.Render(ctx, t, vars)
	}()

	select {
	case info := <-done:
		return info
	case <-ctx.Done():
		return RenderInfo{Err: ErrTimeout}
	}
}

// RenderWillTimeout reports whether rendering t takes longer than timeout.
func (r *Renderer) RenderWillTimeout(ctx context.Context, t *Template, vars map[string]any, timeout time.Duration) bool {
	return errors.Is(r.RenderWithTimeout(ctx, t, vars, timeout).Err, ErrTimeout)
}

// scope collects what one render reads.
type scope struct {
	ctx      context.Context
	renderer *Renderer

	mu       sync.Mutex
	entities map[string]struct{}
	domains  map[string]struct{}
	all      bool
	time     bool
}

func newScope(ctx context.Context, r *Renderer) *scope {
	return &scope{
		ctx:      ctx,
		renderer: r,
		entities: make(map[string]struct{}),
		domains:  make(map[string]struct{}),
	}
}

func (s *scope) funcs() texttemplate.FuncMap {
	return texttemplate.FuncMap{
		"states":        s.state,
		"is_state":      s.isState,
		"state_attr":    s.stateAttr,
		"is_state_attr": s.isStateAttr,
		"states_domain": s.statesDomain,
		"all_states":    s.allStates,
		"now":           s.nowFunc,
		"float":         toFloat,
		"int":           toInt,
	}
}

func (s *scope) info() RenderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RenderInfo{
		Entities:  sortedKeys(s.entities),
		Domains:   sortedKeys(s.domains),
		AllStates: s.all,
		Time:      s.time,
	}
}

func (s *scope) lookup(entityID string) (*core.State, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	entityID = strings.ToLower(entityID)
	s.mu.Lock()
	s.entities[entityID] = struct{}{}
	s.mu.Unlock()

	st, _ := s.renderer.states.Get(entityID)
	return st, nil
}

func (s *scope) state(entityID string) (string, error) {
	st, err := s.lookup(entityID)
	if err != nil || st == nil {
		return unknownState, err
	}
	return st.State, nil
}

func (s *scope) isState(entityID string, value any) (bool, error) {
	st, err := s.lookup(entityID)
	if err != nil || st == nil {
		return false, err
	}
	return st.State == fmt.Sprint(value), nil
}

func (s *scope) stateAttr(entityID, name string) (any, error) {
	st, err := s.lookup(entityID)
	if err != nil || st == nil {
		return nil, err
	}
	return st.Attributes[name], nil
}

func (s *scope) isStateAttr(entityID, name string, value any) (bool, error) {
	attr, err := s.stateAttr(entityID, name)
	if err != nil || attr == nil {
		return false, err
	}
	return looselyEqual(attr, value), nil
}

func (s *scope) statesDomain(domain string) ([]*core.State, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	domain = strings.ToLower(domain)
	s.mu.Lock()
	s.domains[domain] = struct{}{}
	s.mu.Unlock()
	return s.renderer.states.AllForDomain(domain), nil
}

func (s *scope) allStates() ([]*core.State, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.all = true
	s.mu.Unlock()
	return s.renderer.states.All(), nil
}

func (s *scope) nowFunc() time.Time {
	s.mu.Lock()
	s.time = true
	s.mu.Unlock()
	return s.renderer.now()
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toInt(v any) int {
	return int(toFloat(v))
}

func looselyEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if isNumber(a) && isNumber(b) {
		return toFloat(a) == toFloat(b)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int64, float32, float64:
		return true
	default:
		return false
	}
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
