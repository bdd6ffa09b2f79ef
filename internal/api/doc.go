// Package api implements the HTTP REST API and WebSocket server for sensorlink.
//
// This package provides:
//   - REST endpoints for the dashboard view, sensor records and commands
//   - WebSocket hub pushing a fresh view on every store or feed change
//   - Prometheus exposition on the configured metrics path
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between renderers (browser dashboards, scripts) and
// the dashboard service. Commands flow from the API through the service to
// the upstream sensor server; store changes flow back through the hub.
//
// # Graceful Degradation
//
// The server keeps answering while the sensor feed is down. Commands issued
// in that window are accepted and dropped by the feed with a warning.
package api
