// Package logging builds the hub's log/slog loggers.
//
// New picks a JSON or text handler from the logging section of the config
// and stamps every record with the service name and build version.
// Component returns a child logger tagged with the subsystem that emits it:
//
//	log := logging.New(cfg.Logging, version)
//	ws := log.Component("websocket_api")
//	ws.Debug("connection opened", "remote", addr)
//
// Tokens, passwords and api_password values must never be logged.
package logging
