// Package automation provides triggers and conditions for Open Peer Power.
//
// A trigger watches the hub (state changes, bus events, template results,
// hub start and shutdown) and invokes an Action with the trigger variables
// each time it fires. A condition is a predicate over the current states
// and a set of variables.
//
// Configs arrive as decoded JSON objects and are validated strictly: unknown
// keys are rejected, so a config that asks for a feature this package does
// not implement fails loudly instead of silently misbehaving. Validation
// failures are *core.ValidationError wrapping ErrInvalidTrigger or
// ErrInvalidCondition.
//
// # Usage
//
//	detach, err := automation.AttachTriggers(hub, renderer, configs, vars,
//	    func(v map[string]any, origin core.Context) {
//	        log.Info("triggered", "trigger", v["trigger"])
//	    }, "subscribe_trigger")
//	defer detach()
//
//	check, err := automation.BuildCondition(hub, renderer, config)
//	ok, err := check(ctx, vars)
package automation
