package core

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

// ServiceCall is what a service handler receives.
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
	Context Context
}

// EntityIDs returns the entity_id field of the call data as a list. Both a
// single string and a list of strings are accepted.
func (c ServiceCall) EntityIDs() []string {
	return StringList(c.Data["entity_id"])
}

// ServiceHandler executes a service call. Handlers should honour ctx.
type ServiceHandler func(ctx context.Context, call ServiceCall) error

// ServiceSchema validates (and may normalise) call data before the handler
// runs. Returning an error rejects the call with a ValidationError.
type ServiceSchema func(data map[string]any) (map[string]any, error)

// FieldDescription documents one field of a service.
type FieldDescription struct {
	Description string `json:"description"`
	Example     any    `json:"example,omitempty"`
}

// ServiceDescription is the get_services view of a service.
type ServiceDescription struct {
	Name        string                      `json:"name,omitempty"`
	Description string                      `json:"description"`
	Fields      map[string]FieldDescription `json:"fields"`
}

type service struct {
	handler     ServiceHandler
	schema      ServiceSchema
	description ServiceDescription
}

// ServiceOption configures a registered service.
type ServiceOption func(*service)

// WithSchema attaches a data validator.
func WithSchema(schema ServiceSchema) ServiceOption {
	return func(s *service) { s.schema = schema }
}

// WithDescription attaches the description returned by get_services.
func WithDescription(desc ServiceDescription) ServiceOption {
	return func(s *service) { s.description = desc }
}

// ServiceRegistry maps domain/service names to handlers.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]map[string]*service
	bus      *EventBus
	logger   Logger

	// detached tracks non-blocking calls still running.
	detached sync.WaitGroup
}

// NewServiceRegistry creates an empty registry publishing on bus.
func NewServiceRegistry(bus *EventBus) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]map[string]*service),
		bus:      bus,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger used for detached call failures.
func (r *ServiceRegistry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds or replaces a service and fires service_registered.
func (r *ServiceRegistry) Register(domain, name string, handler ServiceHandler, opts ...ServiceOption) {
	domain, name = strings.ToLower(domain), strings.ToLower(name)
	svc := &service{
		handler:     handler,
		description: ServiceDescription{Fields: map[string]FieldDescription{}},
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.description.Fields == nil {
		svc.description.Fields = map[string]FieldDescription{}
	}

	r.mu.Lock()
	if r.services[domain] == nil {
		r.services[domain] = make(map[string]*service)
	}
	r.services[domain][name] = svc
	r.mu.Unlock()

	r.bus.Fire(EventServiceRegistered, map[string]any{"domain": domain, "service": name}, OriginLocal, nil)
}

// Remove unregisters a service and fires service_removed when it existed.
func (r *ServiceRegistry) Remove(domain, name string) {
	domain, name = strings.ToLower(domain), strings.ToLower(name)

	r.mu.Lock()
	_, ok := r.services[domain][name]
	if ok {
		delete(r.services[domain], name)
		if len(r.services[domain]) == 0 {
			delete(r.services, domain)
		}
	}
	r.mu.Unlock()

	if ok {
		r.bus.Fire(EventServiceRemoved, map[string]any{"domain": domain, "service": name}, OriginLocal, nil)
	}
}

// Has reports whether domain.name is registered.
func (r *ServiceRegistry) Has(domain, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[strings.ToLower(domain)][strings.ToLower(name)]
	return ok
}

// Services returns the descriptions of every registered service by domain.
func (r *ServiceRegistry) Services() map[string]map[string]ServiceDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]ServiceDescription, len(r.services))
	for domain, svcs := range r.services {
		out[domain] = make(map[string]ServiceDescription, len(svcs))
		for name, svc := range svcs {
			desc := svc.description
			desc.Fields = maps.Clone(desc.Fields)
			out[domain][name] = desc
		}
	}
	return out
}

// Domains returns the registered domains, sorted.
func (r *ServiceRegistry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]string, 0, len(r.services))
	for d := range r.services {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// Call invokes domain.name.
//
// Target keys (entity_id, device_id, area_id) are merged over data. A missing
// service yields *ServiceNotFoundError, rejected data a *ValidationError.
// A non-blocking call returns as soon as the call is accepted; the handler
// then runs detached from ctx and its failure is only logged.
func (r *ServiceRegistry) Call(ctx context.Context, domain, name string, data map[string]any, blocking bool, origin *Context, target map[string]any) error {
	domain, name = strings.ToLower(domain), strings.ToLower(name)

	r.mu.RLock()
	svc, ok := r.services[domain][name]
	r.mu.RUnlock()
	if !ok {
		return &ServiceNotFoundError{Domain: domain, Service: name}
	}

	merged := make(map[string]any, len(data)+len(target))
	maps.Copy(merged, data)
	maps.Copy(merged, target)

	if svc.schema != nil {
		normalised, err := svc.schema(merged)
		if err != nil {
			return &ValidationError{Message: fmt.Sprintf("invalid data for %s.%s: %v", domain, name, err)}
		}
		merged = normalised
	}

	call := ServiceCall{
		Domain:  domain,
		Service: name,
		Data:    merged,
		Context: contextOrNew(origin),
	}
	r.bus.Fire(EventCallService, map[string]any{
		"domain":       domain,
		"service":      name,
		"service_data": merged,
	}, OriginLocal, &call.Context)

	if !blocking {
		r.detached.Add(1)
		go func() {
			defer r.detached.Done()
			if err := r.run(context.WithoutCancel(ctx), svc, call); err != nil {
				r.logger.Error("service call failed", "domain", domain, "service", name, "error", err)
			}
		}()
		return nil
	}
	return r.run(ctx, svc, call)
}

// Wait blocks until every detached call has returned.
func (r *ServiceRegistry) Wait() {
	r.detached.Wait()
}

func (r *ServiceRegistry) run(ctx context.Context, svc *service, call ServiceCall) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("service handler panicked",
				"domain", call.Domain,
				"service", call.Service,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("service %s.%s panicked: %v", call.Domain, call.Service, p)
		}
	}()
	return svc.handler(ctx, call)
}

// StringList normalises a string or list value into a slice of strings.
func StringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, strings.ToLower(p))
			}
		}
		return out
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, strings.ToLower(s))
			}
		}
		return out
	default:
		return nil
	}
}
