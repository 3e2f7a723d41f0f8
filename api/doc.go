// Package api exposes a Mesh over HTTP with chi.
//
// Routes live under /api and speak JSON; /metrics serves the Prometheus
// collector shared by the mesh.
package api
