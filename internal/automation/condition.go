package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/template"
)

// Condition reports whether it holds for the current hub state.
type Condition func(ctx context.Context, vars map[string]any) (bool, error)

type stateCondition struct {
	Condition string     `json:"condition"`
	EntityID  stringList `json:"entity_id"`
	State     stringList `json:"state"`
	Attribute string     `json:"attribute"`
}

type numericStateCondition struct {
	Condition string     `json:"condition"`
	EntityID  stringList `json:"entity_id"`
	Above     *float64   `json:"above"`
	Below     *float64   `json:"below"`
	Attribute string     `json:"attribute"`
}

type templateCondition struct {
	Condition     string `json:"condition"`
	ValueTemplate string `json:"value_template"`
}

type compoundCondition struct {
	Condition  string `json:"condition"`
	Conditions []any  `json:"conditions"`
}

// BuildCondition validates config and returns the matching check. config is
// either a condition object or a string, which is shorthand for a template
// condition.
func BuildCondition(hub *core.Hub, renderer *template.Renderer, config any) (Condition, error) {
	if src, ok := config.(string); ok {
		return buildTemplateCondition(renderer, src)
	}
	raw, ok := config.(map[string]any)
	if !ok {
		return nil, invalidCondition("expected a dictionary or a template string")
	}

	kind, _ := raw["condition"].(string)
	switch kind {
	case "state":
		var c stateCondition
		if err := decodeStrict(raw, &c); err != nil {
			return nil, invalidCondition("%v", err)
		}
		ids, err := lowerEntityIDs(c.EntityID)
		if err != nil {
			return nil, invalidCondition("%v", err)
		}
		if len(c.State) == 0 {
			return nil, invalidCondition("state is required")
		}
		c.EntityID = ids
		return c.check(hub), nil

	case "numeric_state":
		var c numericStateCondition
		if err := decodeStrict(raw, &c); err != nil {
			return nil, invalidCondition("%v", err)
		}
		ids, err := lowerEntityIDs(c.EntityID)
		if err != nil {
			return nil, invalidCondition("%v", err)
		}
		if c.Above == nil && c.Below == nil {
			return nil, invalidCondition("one of above or below is required")
		}
		c.EntityID = ids
		return c.check(hub), nil

	case "template":
		var c templateCondition
		if err := decodeStrict(raw, &c); err != nil {
			return nil, invalidCondition("%v", err)
		}
		return buildTemplateCondition(renderer, c.ValueTemplate)

	case "and", "or", "not":
		var c compoundCondition
		if err := decodeStrict(raw, &c); err != nil {
			return nil, invalidCondition("%v", err)
		}
		if len(c.Conditions) == 0 {
			return nil, invalidCondition("conditions is required")
		}
		children := make([]Condition, 0, len(c.Conditions))
		for _, child := range c.Conditions {
			check, err := BuildCondition(hub, renderer, child)
			if err != nil {
				return nil, err
			}
			children = append(children, check)
		}
		return compound(kind, children), nil

	case "":
		return nil, invalidCondition("condition is required")
	default:
		return nil, invalidCondition("condition %q is not supported", kind)
	}
}

func (c stateCondition) check(hub *core.Hub) Condition {
	return func(context.Context, map[string]any) (bool, error) {
		for _, id := range c.EntityID {
			s, ok := hub.States.Get(id)
			if !ok {
				return false, nil
			}
			value := s.State
			if c.Attribute != "" {
				attr, ok := s.Attributes[c.Attribute]
				if !ok {
					return false, nil
				}
				value = fmt.Sprint(attr)
			}
			if !c.State.contains(value) {
				return false, nil
			}
		}
		return true, nil
	}
}

func (c numericStateCondition) check(hub *core.Hub) Condition {
	return func(context.Context, map[string]any) (bool, error) {
		for _, id := range c.EntityID {
			s, ok := hub.States.Get(id)
			if !ok {
				return false, nil
			}
			var raw any = s.State
			if c.Attribute != "" {
				if raw, ok = s.Attributes[c.Attribute]; !ok {
					return false, nil
				}
			}
			value, ok := numeric(raw)
			if !ok {
				return false, nil
			}
			if c.Above != nil && value <= *c.Above {
				return false, nil
			}
			if c.Below != nil && value >= *c.Below {
				return false, nil
			}
		}
		return true, nil
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func buildTemplateCondition(renderer *template.Renderer, src string) (Condition, error) {
	if strings.TrimSpace(src) == "" {
		return nil, invalidCondition("value_template is required")
	}
	tmpl, err := renderer.Parse(src, false)
	if err != nil {
		return nil, invalidCondition("%v", err)
	}
	return func(ctx context.Context, vars map[string]any) (bool, error) {
		info := renderer.Render(ctx, tmpl, vars)
		if info.Err != nil {
			return false, info.Err
		}
		return asBool(info.Result), nil
	}, nil
}

func compound(kind string, children []Condition) Condition {
	return func(ctx context.Context, vars map[string]any) (bool, error) {
		for _, child := range children {
			ok, err := child(ctx, vars)
			if err != nil {
				return false, err
			}
			switch {
			case kind == "and" && !ok:
				return false, nil
			case kind == "or" && ok:
				return true, nil
			case kind == "not" && ok:
				return false, nil
			}
		}
		return kind != "or", nil
	}
}
