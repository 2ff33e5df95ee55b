// Package inputboolean provides on/off helper entities declared in the
// input_boolean config section. Each entity starts in its configured initial
// state and is driven by the turn_on, turn_off and toggle services.
package inputboolean

import (
	"context"
	"slices"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
)

// Domain is the integration's domain.
const Domain = "input_boolean"

// Entity states.
const (
	StateOn  = "on"
	StateOff = "off"
)

// entityAll targets every input_boolean.
const entityAll = "all"

// Component owns the configured input_boolean entities.
type Component struct {
	hub      *core.Hub
	logger   *logging.Logger
	entities []string
}

// Setup creates one entity per configured object id and registers the
// services.
func Setup(hub *core.Hub, entities map[string]config.InputBooleanConfig, logger *logging.Logger) (*Component, error) {
	c := &Component{hub: hub, logger: logger.Component(Domain)}

	for objectID, cfg := range entities {
		entityID := Domain + "." + objectID
		attrs := map[string]any{"editable": false}
		if cfg.Name != "" {
			attrs["friendly_name"] = cfg.Name
		}
		if cfg.Icon != "" {
			attrs["icon"] = cfg.Icon
		}
		if _, err := hub.States.Set(entityID, onOff(cfg.Initial), attrs, false, nil); err != nil {
			return nil, err
		}
		c.entities = append(c.entities, entityID)
	}
	slices.Sort(c.entities)

	for svc, desc := range map[string]string{
		"turn_on":  "Turn on an input boolean.",
		"turn_off": "Turn off an input boolean.",
		"toggle":   "Toggle an input boolean.",
	} {
		hub.Services.Register(Domain, svc, c.handle, core.WithDescription(core.ServiceDescription{
			Description: desc,
			Fields: map[string]core.FieldDescription{
				"entity_id": {Description: "Entity id of the input boolean.", Example: "input_boolean.guest_mode"},
			},
		}))
	}

	hub.Config.AddComponent(Domain)
	c.logger.Info("input_boolean entities created", "count", len(c.entities))
	return c, nil
}

// Entities returns the managed entity ids, sorted.
func (c *Component) Entities() []string {
	return slices.Clone(c.entities)
}

func (c *Component) handle(_ context.Context, call core.ServiceCall) error {
	targets := c.targets(call.EntityIDs())
	if len(targets) == 0 {
		return core.NewValidationError("%s.%s requires an entity_id of this domain", Domain, call.Service)
	}

	for _, entityID := range targets {
		current, ok := c.hub.States.Get(entityID)
		if !ok {
			continue
		}
		next := current.State
		switch call.Service {
		case "turn_on":
			next = StateOn
		case "turn_off":
			next = StateOff
		case "toggle":
			next = onOff(current.State != StateOn)
		}
		ctx := call.Context
		if _, err := c.hub.States.Set(entityID, next, current.Attributes, false, &ctx); err != nil {
			return err
		}
	}
	return nil
}

// targets resolves the requested ids to managed entities. Unknown ids are
// ignored.
func (c *Component) targets(requested []string) []string {
	if slices.Contains(requested, entityAll) {
		return c.entities
	}
	out := make([]string, 0, len(requested))
	for _, id := range requested {
		if slices.Contains(c.entities, id) {
			out = append(out, id)
		}
	}
	return out
}

func onOff(on bool) string {
	if on {
		return StateOn
	}
	return StateOff
}
