// Package statestream mirrors the state machine onto MQTT.
//
// Every state_changed event is published, retained, to
// <base>/<domain>/<object_id>/state, and optionally each attribute to
// <base>/<domain>/<object_id>/<attribute> as JSON. Removing an entity
// clears its retained state topic.
//
// With ingest enabled, messages on <base>/set/<domain>/<object_id> are
// written into the state machine. The payload is either a bare state value
// or a JSON object {"state": "...", "attributes": {...}}.
//
// Publishing happens on a worker goroutine: bus listeners run on the firing
// goroutine and must not wait for broker acknowledgements.
package statestream
