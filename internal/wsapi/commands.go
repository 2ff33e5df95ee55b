package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/openpeerpower/core/internal/auth"
	"github.com/openpeerpower/core/internal/automation"
	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/template"
)

// Built-in command types.
const (
	CmdSubscribeEvents   = "subscribe_events"
	CmdUnsubscribeEvents = "unsubscribe_events"
	CmdCallService       = "call_service"
	CmdGetStates         = "get_states"
	CmdGetServices       = "get_services"
	CmdGetConfig         = "get_config"
	CmdRenderTemplate    = "render_template"
	CmdSubscribeTrigger  = "subscribe_trigger"
	CmdTestCondition     = "test_condition"
	CmdPing              = "ping"
	CmdFireEvent         = "fire_event"
)

// coreDomain hosts the stop and restart services, which are called without
// waiting because they end the process serving the call.
const coreDomain = "openpeerpower"

// subscribeAllowList holds the event types non-admin users may subscribe to.
var subscribeAllowList = []string{
	core.EventStateChanged,
	core.EventComponentLoaded,
	core.EventCoreConfigUpdate,
	core.EventServiceRegistered,
	core.EventServiceRemoved,
	"themes_updated",
	"panels_updated",
	"persistent_notifications_updated",
}

// RegisterBuiltins registers the commands every hub serves.
func RegisterBuiltins(r *Registry) error {
	return r.Register(
		Immediate(CmdSubscribeEvents, handleSubscribeEvents),
		Immediate(CmdUnsubscribeEvents, handleUnsubscribeEvents),
		Deferred(CmdCallService, handleCallService),
		Deferred(CmdGetStates, handleGetStates),
		Deferred(CmdGetServices, handleGetServices),
		Immediate(CmdGetConfig, handleGetConfig),
		Deferred(CmdRenderTemplate, handleRenderTemplate, RequireAdmin()),
		Deferred(CmdSubscribeTrigger, handleSubscribeTrigger, RequireAdmin()),
		Deferred(CmdTestCondition, handleTestCondition, RequireAdmin()),
		Immediate(CmdPing, handlePing),
		Immediate(CmdFireEvent, handleFireEvent, RequireAdmin()),
	)
}

type emptyMsg struct {
	Envelope
}

type subscribeEventsMsg struct {
	Envelope
	EventType string `json:"event_type"`
}

func handleSubscribeEvents(_ context.Context, conn *Connection, msg *subscribeEventsMsg) error {
	eventType := msg.EventType
	if eventType == "" {
		eventType = core.MatchAll
	}

	admin := conn.User.IsAdmin()
	if !admin && !slices.Contains(subscribeAllowList, eventType) {
		conn.logger.Warn("refusing event subscription", "event_type", eventType)
		return &core.UnauthorizedError{UserID: conn.User.ID}
	}

	id := msg.ID
	forward := func(e core.Event) { conn.SendEvent(id, e) }
	if !admin && eventType == core.EventStateChanged {
		perms := conn.Permissions()
		forward = func(e core.Event) {
			entityID, _, _ := core.ChangedStates(e)
			if perms.CheckEntity(entityID, auth.PermRead) {
				conn.SendEvent(id, e)
			}
		}
	}

	conn.AddSubscription(id, conn.Hub.Bus.Listen(eventType, forward))
	conn.SendResult(id, nil)
	return nil
}

type unsubscribeEventsMsg struct {
	Envelope
	Subscription int `json:"subscription" validate:"required"`
}

func handleUnsubscribeEvents(_ context.Context, conn *Connection, msg *unsubscribeEventsMsg) error {
	if !conn.RemoveSubscription(msg.Subscription) {
		return NewError(CodeNotFound, "Subscription not found.")
	}
	conn.SendResult(msg.ID, nil)
	return nil
}

type callServiceMsg struct {
	Envelope
	Domain      string         `json:"domain" validate:"required"`
	Service     string         `json:"service" validate:"required"`
	ServiceData map[string]any `json:"service_data"`
	Target      map[string]any `json:"target"`
}

func handleCallService(ctx context.Context, conn *Connection, msg *callServiceMsg) error {
	domain, service := strings.ToLower(msg.Domain), strings.ToLower(msg.Service)
	blocking := domain != coreDomain || (service != "stop" && service != "restart")

	origin := conn.NewContext()
	err := conn.Hub.Services.Call(ctx, domain, service, msg.ServiceData, blocking, &origin, msg.Target)

	var notFound *core.ServiceNotFoundError
	switch {
	case err == nil:
		conn.SendResult(msg.ID, map[string]any{"context": origin})
		return nil
	case errors.As(err, &notFound) && notFound.Domain == domain && notFound.Service == service:
		return NewError(CodeNotFound, "Service not found.")
	case errors.As(err, &notFound):
		// A service the requested one depends on is missing.
		return NewError(CodeOpenPeerPower, err.Error())
	default:
		return err
	}
}

func handleGetStates(_ context.Context, conn *Connection, msg *emptyMsg) error {
	states := conn.Hub.States.All()
	perms := conn.Permissions()
	if !perms.AccessAllEntities(auth.PermRead) {
		states = slices.DeleteFunc(states, func(s *core.State) bool {
			return !perms.CheckEntity(s.EntityID, auth.PermRead)
		})
	}
	conn.SendBigResult(msg.ID, states)
	return nil
}

func handleGetServices(_ context.Context, conn *Connection, msg *emptyMsg) error {
	conn.SendBigResult(msg.ID, conn.Hub.Services.Services())
	return nil
}

func handleGetConfig(_ context.Context, conn *Connection, msg *emptyMsg) error {
	conn.SendResult(msg.ID, conn.Hub.Config.AsMap())
	return nil
}

// entityList accepts a single entity id, a comma separated string or a list.
type entityList []string

func (l *entityList) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case nil, string, []any:
	default:
		return errors.New("expected a string or a list of strings")
	}
	ids := core.StringList(v)
	for _, id := range ids {
		if !core.ValidEntityID(id) {
			return fmt.Errorf("entity ID %s is an invalid entity id", id)
		}
	}
	*l = ids
	return nil
}

type renderTemplateMsg struct {
	Envelope
	Template  string         `json:"template" validate:"required"`
	EntityIDs entityList     `json:"entity_ids"`
	Variables map[string]any `json:"variables"`
	Timeout   *float64       `json:"timeout" validate:"omitempty,gt=0"`
	Strict    bool           `json:"strict"`
}

func handleRenderTemplate(ctx context.Context, conn *Connection, msg *renderTemplateMsg) error {
	tmpl, err := conn.Renderer.Parse(msg.Template, msg.Strict)
	if err != nil {
		return err
	}

	if msg.Timeout != nil {
		timeout := time.Duration(*msg.Timeout * float64(time.Second))
		if conn.Renderer.RenderWillTimeout(ctx, tmpl, msg.Variables, timeout) {
			return NewError(CodeTemplateError, fmt.Sprintf("Exceeded maximum execution time of %ss",
				strconv.FormatFloat(*msg.Timeout, 'f', -1, 64)))
		}
	}

	id := msg.ID
	tracker, err := conn.Renderer.Track(ctx, tmpl, msg.Variables, msg.EntityIDs, func(info template.RenderInfo) {
		if info.Err != nil {
			conn.logger.Debug("template render failed", "id", id, "error", info.Err)
			conn.SendEvent(id, map[string]any{"error": info.Err.Error()})
			return
		}
		conn.SendEvent(id, map[string]any{
			"result":    info.Result,
			"listeners": info.Listeners(),
		})
	})
	if err != nil {
		return err
	}

	conn.AddSubscription(id, tracker.Remove)
	conn.SendResult(id, nil)
	tracker.Refresh()
	return nil
}

// triggerList accepts one trigger config or a list of them.
type triggerList []map[string]any

func (l *triggerList) UnmarshalJSON(data []byte) error {
	var one map[string]any
	if err := json.Unmarshal(data, &one); err == nil {
		if one != nil {
			*l = triggerList{one}
		}
		return nil
	}
	var many []map[string]any
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("expected a dictionary or a list of dictionaries")
	}
	*l = many
	return nil
}

type subscribeTriggerMsg struct {
	Envelope
	Trigger   triggerList    `json:"trigger" validate:"required"`
	Variables map[string]any `json:"variables"`
}

func handleSubscribeTrigger(_ context.Context, conn *Connection, msg *subscribeTriggerMsg) error {
	id := msg.ID
	detach, err := automation.AttachTriggers(conn.Hub, conn.Renderer, msg.Trigger, msg.Variables,
		func(vars map[string]any, origin core.Context) {
			conn.SendEvent(id, map[string]any{"variables": vars, "context": origin})
		},
		"websocket subscribe_trigger",
	)
	if err != nil {
		return err
	}
	if detach == nil {
		detach = func() {}
	}

	conn.AddSubscription(id, detach)
	conn.SendResult(id, nil)
	return nil
}

type testConditionMsg struct {
	Envelope
	Condition any            `json:"condition" validate:"required"`
	Variables map[string]any `json:"variables"`
}

func handleTestCondition(ctx context.Context, conn *Connection, msg *testConditionMsg) error {
	check, err := automation.BuildCondition(conn.Hub, conn.Renderer, msg.Condition)
	if err != nil {
		return err
	}
	ok, err := check(ctx, msg.Variables)
	if err != nil {
		return err
	}
	conn.SendResult(msg.ID, map[string]any{"result": ok})
	return nil
}

func handlePing(_ context.Context, conn *Connection, msg *emptyMsg) error {
	conn.Send(Pong(msg.ID))
	return nil
}

type fireEventMsg struct {
	Envelope
	EventType string         `json:"event_type" validate:"required"`
	EventData map[string]any `json:"event_data"`
}

func handleFireEvent(_ context.Context, conn *Connection, msg *fireEventMsg) error {
	origin := conn.NewContext()
	conn.Hub.Bus.Fire(msg.EventType, msg.EventData, core.OriginRemote, &origin)
	conn.SendResult(msg.ID, map[string]any{"context": origin})
	return nil
}
