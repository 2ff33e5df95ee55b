// Package components holds the built-in integrations that register
// services and entities on the hub at startup.
//
//   - openpeerpower: hub lifecycle (stop, restart) and the generic
//     turn_on / turn_off / toggle services that fan out per domain.
//   - inputboolean: configurable on/off helper entities.
package components
