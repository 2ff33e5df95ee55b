package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/openpeerpower/core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = time.Minute
	quiesceMillis  = 1000

	maxQoS = 2
)

// Availability payloads on the status topic.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// clientOptions translates the mqtt config section into paho options. The
// broker is told to publish a retained "offline" on statusTopic if the hub
// drops off without disconnecting.
func clientOptions(cfg config.MQTTConfig, statusTopic string) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(statusTopic, payloadOffline, 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}
