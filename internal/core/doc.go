// Package core holds the in-process collaborators every other subsystem
// builds on: the event bus, the state machine, the service registry and the
// installation config snapshot, bundled together in a Hub.
//
// All types are safe for concurrent use. Event listeners are invoked
// synchronously on the goroutine that fired the event, after the state
// machine and service registry have released their locks, so listeners may
// call back into the hub freely. Listeners must not block; anything slow
// belongs on its own goroutine.
package core
