package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the body of GET /api/metrics, a JSON view of the hub
// for clients that do not scrape Prometheus.
type SystemMetrics struct {
	Version       string  `json:"version"`
	Location      string  `json:"location_name"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	HeapMB        float64 `json:"heap_mb"`

	States    StateMetrics     `json:"states"`
	Services  int              `json:"services"`
	Listeners map[string]int   `json:"listeners"`
	WebSocket WebSocketMetrics `json:"websocket"`
}

// StateMetrics counts entities in the state machine.
type StateMetrics struct {
	Total    int            `json:"total"`
	ByDomain map[string]int `json:"by_domain"`
}

// WebSocketMetrics summarises the WebSocket API.
type WebSocketMetrics struct {
	Connections      int   `json:"connections"`
	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{
		Version:       s.version,
		Location:      s.hub.Config.LocationName,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Goroutines:    runtime.NumGoroutine(),
		HeapMB:        float64(mem.HeapAlloc) / (1 << 20),
		States:        StateMetrics{ByDomain: make(map[string]int)},
		Listeners:     s.hub.Bus.Listeners(),
	}
	for _, st := range s.hub.States.All() {
		m.States.Total++
		m.States.ByDomain[st.Domain()]++
	}
	for _, services := range s.hub.Services.Services() {
		m.Services += len(services)
	}
	if s.ws != nil {
		snap := s.ws.Metrics().Snapshot()
		m.WebSocket = WebSocketMetrics{
			Connections:      s.ws.ActiveConnections(),
			MessagesReceived: snap.MessagesReceived,
			MessagesSent:     snap.MessagesSent,
		}
	}

	writeJSON(w, http.StatusOK, m)
}
