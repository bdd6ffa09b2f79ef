package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/leonorpan/iot-fe/internal/socket"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Feed          FeedMetrics    `json:"feed"`
	Sensors       SensorMetrics  `json:"sensors"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// FeedMetrics describes the upstream sensor feed.
type FeedMetrics struct {
	Phase    socket.Phase `json:"phase"`
	Attempt  int          `json:"attempt"`
	Endpoint string       `json:"endpoint"`
}

// SensorMetrics contains store counts.
type SensorMetrics struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
}

// handleSystem returns runtime, hub and feed statistics in one document.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	view := s.dashboard.View()

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Feed: FeedMetrics{
			Phase:    view.Phase,
			Attempt:  view.Attempt,
			Endpoint: view.Endpoint,
		},
		Sensors: SensorMetrics{
			Total:     view.Total,
			Connected: view.ConnectedCount,
		},
	})
}
