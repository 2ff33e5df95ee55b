package mqtt

import (
	"fmt"
	"strings"
)

// DefaultBaseTopic is the root of every topic when no base is configured.
const DefaultBaseTopic = "openpeerpower"

// Topics builds the statestream topic hierarchy under a base topic:
//
//	<base>/status                          online/offline (retained, LWT)
//	<base>/<domain>/<object_id>/state      state value (retained)
//	<base>/<domain>/<object_id>/<attr>     attribute values (retained)
//	<base>/set/<domain>/<object_id>        inbound state writes
//
// The zero value uses DefaultBaseTopic.
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultBaseTopic
	}
	return strings.TrimSuffix(t.Base, "/")
}

// Status returns the hub availability topic.
//
// Example: openpeerpower/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// State returns the state topic of an entity.
//
// Example: openpeerpower/light/kitchen/state
func (t Topics) State(entityID string) string {
	return t.Attribute(entityID, "state")
}

// Attribute returns the topic carrying one attribute of an entity.
//
// Example: openpeerpower/light/kitchen/brightness
func (t Topics) Attribute(entityID, attr string) string {
	domain, object, _ := strings.Cut(entityID, ".")
	return fmt.Sprintf("%s/%s/%s/%s", t.base(), domain, object, attr)
}

// Set returns the inbound write topic of an entity.
//
// Example: openpeerpower/set/light/kitchen
func (t Topics) Set(entityID string) string {
	domain, object, _ := strings.Cut(entityID, ".")
	return fmt.Sprintf("%s/set/%s/%s", t.base(), domain, object)
}

// AllSets returns the subscription pattern matching every inbound write.
//
// Pattern: openpeerpower/set/+/+
func (t Topics) AllSets() string {
	return t.base() + "/set/+/+"
}

// ParseSet extracts the entity id from an inbound write topic.
func (t Topics) ParseSet(topic string) (entityID string, ok bool) {
	rest, ok := strings.CutPrefix(topic, t.base()+"/set/")
	if !ok {
		return "", false
	}
	domain, object, ok := strings.Cut(rest, "/")
	if !ok || domain == "" || object == "" || strings.Contains(object, "/") {
		return "", false
	}
	return domain + "." + object, true
}
