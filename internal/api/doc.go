// Package api implements the HTTP surface of Open Peer Power Core.
//
// This package provides:
//   - The WebSocket API endpoint (served by package wsapi)
//   - OAuth-style token endpoint issuing access and refresh tokens
//   - Read-only REST views of states and configuration
//   - Health, JSON metrics and Prometheus endpoints
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit)
//
// # Security
//
// REST endpoints require an "Authorization: Bearer <access token>" header.
// The WebSocket endpoint authenticates in-band with the auth message, so the
// token never appears in a URL.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
