package automation

import (
	"testing"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/template"
)

func newTestHub(t *testing.T) (*core.Hub, *template.Renderer) {
	t.Helper()
	hub := core.NewHub(nil)
	return hub, template.NewRenderer(hub)
}

func setState(t *testing.T, hub *core.Hub, entityID, state string, attrs map[string]any) {
	t.Helper()
	if _, err := hub.States.Set(entityID, state, attrs, false, nil); err != nil {
		t.Fatalf("Set(%s) error = %v", entityID, err)
	}
}

// recorder collects the trigger variables of every firing.
type recorder struct {
	fired []map[string]any
}

func (r *recorder) action(vars map[string]any, _ core.Context) {
	r.fired = append(r.fired, vars)
}

func (r *recorder) trigger(i int) map[string]any {
	return r.fired[i]["trigger"].(map[string]any) //nolint:forcetypeassert // set by AttachTriggers
}
