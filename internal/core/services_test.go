package core

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
)

func TestServiceRegistry_RegisterAndCall(t *testing.T) {
	bus := NewEventBus()
	reg := NewServiceRegistry(bus)

	var registered []any
	bus.Listen(EventServiceRegistered, func(e Event) { registered = append(registered, e.Data["service"]) })

	var got ServiceCall
	reg.Register("Light", "Turn_On", func(_ context.Context, call ServiceCall) error {
		got = call
		return nil
	})

	if !reg.Has("light", "turn_on") {
		t.Fatal("Has(light, turn_on) = false")
	}
	if len(registered) != 1 || registered[0] != "turn_on" {
		t.Errorf("service_registered events = %v", registered)
	}

	origin := NewContext("user-1", "")
	err := reg.Call(context.Background(), "light", "turn_on",
		map[string]any{"brightness": 10},
		true, &origin,
		map[string]any{"entity_id": "light.kitchen"},
	)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	want := map[string]any{"brightness": 10, "entity_id": "light.kitchen"}
	if !reflect.DeepEqual(got.Data, want) {
		t.Errorf("Data = %v, want %v", got.Data, want)
	}
	if got.Context.ID != origin.ID {
		t.Errorf("Context.ID = %q, want %q", got.Context.ID, origin.ID)
	}
	if ids := got.EntityIDs(); len(ids) != 1 || ids[0] != "light.kitchen" {
		t.Errorf("EntityIDs() = %v", ids)
	}
}

func TestServiceRegistry_CallMissingService(t *testing.T) {
	reg := NewServiceRegistry(NewEventBus())

	err := reg.Call(context.Background(), "light", "explode", nil, true, nil, nil)

	var notFound *ServiceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *ServiceNotFoundError", err)
	}
	if notFound.Error() != "Service light.explode not found" {
		t.Errorf("message = %q", notFound.Error())
	}
}

func TestServiceRegistry_SchemaRejection(t *testing.T) {
	reg := NewServiceRegistry(NewEventBus())

	called := false
	reg.Register("test", "strict", func(context.Context, ServiceCall) error {
		called = true
		return nil
	}, WithSchema(func(data map[string]any) (map[string]any, error) {
		if _, ok := data["value"]; !ok {
			return nil, errors.New("value is required")
		}
		return data, nil
	}))

	err := reg.Call(context.Background(), "test", "strict", nil, true, nil, nil)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if called {
		t.Error("handler ran although the schema rejected the data")
	}
}

func TestServiceRegistry_NonBlockingCallIsDetached(t *testing.T) {
	reg := NewServiceRegistry(NewEventBus())

	release := make(chan struct{})
	var finished atomic.Bool
	reg.Register("test", "slow", func(ctx context.Context, _ ServiceCall) error {
		<-release
		if ctx.Err() != nil {
			t.Error("detached call saw the caller's cancellation")
		}
		finished.Store(true)
		return errors.New("ignored")
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := reg.Call(ctx, "test", "slow", nil, false, nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	cancel()
	close(release)
	reg.Wait()

	if !finished.Load() {
		t.Error("detached handler did not finish before Wait returned")
	}
}

func TestServiceRegistry_PanicBecomesError(t *testing.T) {
	reg := NewServiceRegistry(NewEventBus())
	reg.Register("test", "panic", func(context.Context, ServiceCall) error { panic("boom") })

	if err := reg.Call(context.Background(), "test", "panic", nil, true, nil, nil); err == nil {
		t.Fatal("expected an error from a panicking handler")
	}
}

func TestServiceRegistry_CallFiresCallService(t *testing.T) {
	bus := NewEventBus()
	reg := NewServiceRegistry(bus)
	reg.Register("test", "noop", func(context.Context, ServiceCall) error { return nil })

	var fired Event
	bus.Listen(EventCallService, func(e Event) { fired = e })

	if err := reg.Call(context.Background(), "test", "noop", nil, true, nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if fired.Data["domain"] != "test" || fired.Data["service"] != "noop" {
		t.Errorf("call_service data = %v", fired.Data)
	}
}

func TestServiceRegistry_RemoveAndServices(t *testing.T) {
	bus := NewEventBus()
	reg := NewServiceRegistry(bus)
	reg.Register("a", "one", func(context.Context, ServiceCall) error { return nil },
		WithDescription(ServiceDescription{Description: "first"}))
	reg.Register("a", "two", func(context.Context, ServiceCall) error { return nil })

	services := reg.Services()
	if services["a"]["one"].Description != "first" {
		t.Errorf("description = %q, want first", services["a"]["one"].Description)
	}
	if services["a"]["two"].Fields == nil {
		t.Error("Fields = nil, want empty map")
	}

	removed := 0
	bus.Listen(EventServiceRemoved, func(Event) { removed++ })
	reg.Remove("a", "one")
	reg.Remove("a", "one")
	reg.Remove("a", "two")

	if removed != 2 {
		t.Errorf("service_removed fired %d times, want 2", removed)
	}
	if len(reg.Domains()) != 0 {
		t.Errorf("Domains() = %v, want none", reg.Domains())
	}
}

func TestStringList(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"single", "light.a", []string{"light.a"}},
		{"comma separated", "light.a, Light.B", []string{"light.a", "light.b"}},
		{"any slice", []any{"light.a", 3, "light.b"}, []string{"light.a", "light.b"}},
		{"string slice", []string{"x.y"}, []string{"x.y"}},
		{"number", 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StringList(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("StringList(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
