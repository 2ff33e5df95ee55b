// Package config loads the hub's YAML configuration.
//
// Load reads the file, applies OPP_* environment overrides on top and
// validates the result. Secrets such as OPP_JWT_SECRET, OPP_API_PASSWORD
// and the broker and InfluxDB credentials are best supplied through the
// environment. There is no default JWT secret.
package config
