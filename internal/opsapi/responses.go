// Package opsapi is the worker's small operator-facing HTTP surface:
// liveness/readiness, Prometheus metrics, and a rate-limited, bearer
// gated endpoint to trigger an offline sweep. It never touches the
// domain datastore tables beyond what HealthCheck and SweepOffline
// already expose — there is no dashboard or token-management API here.
package opsapi

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}
