// Package server exposes the client session websocket and the HTTP
// monitoring endpoints.
//
// Every websocket connection becomes one session.Session; binary
// packet-sent frames feed its audio aggregator and JSON text frames carry
// playback reports. The monitoring API reports health, per-session state,
// the sanitized configuration and aggregate statistics, and serves
// Prometheus metrics.
package server
