package template

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/openpeerpower/core/internal/core"
)

// timeRefreshInterval is how often templates that call now are re-rendered.
const timeRefreshInterval = time.Minute

// Tracker re-renders a template whenever an entity it depends on changes
// and hands every result to a callback.
type Tracker struct {
	renderer *Renderer
	tmpl     *Template
	vars     map[string]any
	callback func(RenderInfo)

	// fixed, when set, replaces the entities discovered by rendering.
	fixed []string

	renderMu sync.Mutex // serialises renders and callbacks

	mu   sync.Mutex
	info RenderInfo

	unsubscribe func()
	stop        chan struct{}
	once        sync.Once
}

// Track renders t once and starts tracking it. An error from the first
// render is returned and nothing is tracked. When entityIDs is non-empty the
// template is re-rendered only for those entities. The callback is not
// invoked for the first render; call Refresh to emit it.
func (r *Renderer) Track(ctx context.Context, t *Template, vars map[string]any, entityIDs []string, callback func(RenderInfo)) (*Tracker, error) {
	info := r.Render(ctx, t, vars)
	if info.Err != nil {
		return nil, info.Err
	}

	tr := &Tracker{
		renderer: r,
		tmpl:     t,
		vars:     vars,
		callback: callback,
		fixed:    entityIDs,
		stop:     make(chan struct{}),
	}
	tr.info = tr.withFixed(info)
	tr.unsubscribe = r.bus.Listen(core.EventStateChanged, tr.onStateChanged)
	if tr.info.Time {
		go tr.tick()
	}
	return tr, nil
}

// Info returns the result of the latest render.
func (tr *Tracker) Info() RenderInfo {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.info
}

// Refresh re-renders now and invokes the callback.
func (tr *Tracker) Refresh() {
	tr.renderMu.Lock()
	defer tr.renderMu.Unlock()

	select {
	case <-tr.stop:
		return
	default:
	}

	info := tr.renderer.Render(context.Background(), tr.tmpl, tr.vars)

	tr.mu.Lock()
	if info.Err == nil {
		tr.info = tr.withFixed(info)
	} else {
		// Keep the previous dependencies so a fix to the state can recover.
		prev := tr.info
		prev.Result = nil
		prev.Err = info.Err
		tr.info = prev
	}
	current := tr.info
	tr.mu.Unlock()

	tr.callback(current)
}

// Remove stops tracking. It is safe to call more than once.
func (tr *Tracker) Remove() {
	tr.once.Do(func() {
		tr.unsubscribe()
		close(tr.stop)
	})
}

func (tr *Tracker) onStateChanged(e core.Event) {
	entityID, _, _ := core.ChangedStates(e)
	if tr.relevant(entityID) {
		tr.Refresh()
	}
}

func (tr *Tracker) relevant(entityID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.info.AllStates {
		return true
	}
	if slices.Contains(tr.info.Entities, entityID) {
		return true
	}
	domain, _ := core.SplitEntityID(entityID)
	return slices.Contains(tr.info.Domains, domain)
}

func (tr *Tracker) withFixed(info RenderInfo) RenderInfo {
	if len(tr.fixed) == 0 {
		return info
	}
	info.Entities = slices.Clone(tr.fixed)
	info.Domains = nil
	info.AllStates = false
	return info
}

func (tr *Tracker) tick() {
	ticker := time.NewTicker(timeRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tr.stop:
			return
		case <-ticker.C:
			tr.Refresh()
		}
	}
}
