// Package openpeerpower is the core integration. It owns the hub lifecycle
// services and the domain-agnostic turn_on, turn_off and toggle services.
package openpeerpower

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
)

// Domain is the integration's domain.
const Domain = "openpeerpower"

// Service names.
const (
	ServiceStop    = "stop"
	ServiceRestart = "restart"
	ServiceTurnOn  = "turn_on"
	ServiceTurnOff = "turn_off"
	ServiceToggle  = "toggle"
)

// Setup registers the core services and marks the component loaded.
func Setup(hub *core.Hub, logger *logging.Logger) error {
	c := &component{hub: hub, logger: logger.Component(Domain)}

	hub.Services.Register(Domain, ServiceStop, c.handleStop, core.WithDescription(core.ServiceDescription{
		Description: "Stop the Open Peer Power process.",
	}))
	hub.Services.Register(Domain, ServiceRestart, c.handleRestart, core.WithDescription(core.ServiceDescription{
		Description: "Restart the Open Peer Power process.",
	}))
	for _, svc := range []string{ServiceTurnOn, ServiceTurnOff, ServiceToggle} {
		hub.Services.Register(Domain, svc, c.handleTurn, core.WithDescription(core.ServiceDescription{
			Description: "Generic service to " + svc + " devices of any domain.",
			Fields: map[string]core.FieldDescription{
				"entity_id": {Description: "The entity_id of the entities to target.", Example: "light.living_room"},
			},
		}))
	}

	hub.Config.AddComponent(Domain)
	return nil
}

type component struct {
	hub    *core.Hub
	logger *logging.Logger
}

func (c *component) handleStop(context.Context, core.ServiceCall) error {
	return c.hub.Stop(false)
}

func (c *component) handleRestart(context.Context, core.ServiceCall) error {
	return c.hub.Stop(true)
}

// handleTurn forwards the call to <domain>.<service> for every domain among
// the targeted entities. The per-domain calls run concurrently and the first
// failure is returned; a domain lacking the service yields its
// *core.ServiceNotFoundError.
func (c *component) handleTurn(ctx context.Context, call core.ServiceCall) error {
	byDomain := make(map[string][]string)
	for _, id := range call.EntityIDs() {
		domain, _ := core.SplitEntityID(id)
		if domain == Domain {
			continue
		}
		byDomain[domain] = append(byDomain[domain], id)
	}
	if len(byDomain) == 0 {
		return core.NewValidationError("%s.%s requires at least one entity_id outside the %s domain", Domain, call.Service, Domain)
	}

	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	g, gctx := errgroup.WithContext(ctx)
	for _, domain := range domains {
		data := make(map[string]any, len(call.Data))
		for k, v := range call.Data {
			data[k] = v
		}
		data["entity_id"] = byDomain[domain]

		g.Go(func() error {
			c.logger.Debug("forwarding service call", "service", domain+"."+call.Service, "entities", len(byDomain[domain]))
			return c.hub.Services.Call(gctx, domain, call.Service, data, true, &call.Context, nil)
		})
	}
	return g.Wait()
}
