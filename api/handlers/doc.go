// Package handlers implements the HTTP API: session start, status and
// report retrieval, live progress over websocket, and health probes.
package handlers
