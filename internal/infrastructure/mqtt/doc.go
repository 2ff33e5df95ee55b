// Package mqtt connects the hub to an MQTT broker.
//
// The broker is optional. The statestream component uses it to mirror
// the state machine onto retained topics and to accept state writes from
// other systems; the hub runs unchanged when it is unreachable.
//
// Connect dials with paho's auto-reconnect, registers a retained "online"
// status message with an "offline" last will, and re-establishes every
// subscription after a reconnect. Topic names are built by Topics:
//
//	topics := mqtt.Topics{Base: cfg.MQTT.StateStream.BaseTopic}
//	client.PublishRetained(topics.State("light.kitchen"), []byte("on"))
//	client.Subscribe(topics.AllSets(), 1, handler)
package mqtt
