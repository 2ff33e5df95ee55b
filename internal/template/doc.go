// Package template renders text/template templates against the live state
// machine.
//
// Templates use Go template syntax with a set of state helpers:
//
//	{{ states "light.kitchen" }}               state string, "unknown" if missing
//	{{ is_state "light.kitchen" "on" }}        bool
//	{{ state_attr "light.kitchen" "brightness" }}
//	{{ is_state_attr "climate.hall" "hvac_action" "heating" }}
//	{{ range states_domain "light" }}{{ .EntityID }} {{ end }}
//	{{ len all_states }}
//	{{ (now).Hour }}
//	{{ float (states "sensor.temp") | printf "%.1f" }}
//
// Every render records which entities and domains it read (RenderInfo), so
// a Tracker can re-render only when a relevant state_changed event arrives.
package template
