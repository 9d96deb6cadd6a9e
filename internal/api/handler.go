// Package api provides HTTP handlers for the REST surface: project
// listing and lifecycle, plus health probes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/liamavtal/vibe-agents/internal/project"
	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/sandbox"
	"github.com/liamavtal/vibe-agents/internal/store"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	repo    store.Repository
	ctxB    *project.ContextBuilder
	prov    provider.Provider
	pool    *sandbox.Pool
	version string
}

// NewHandler creates a Handler with common dependencies.
func NewHandler(repo store.Repository, ctxB *project.ContextBuilder, prov provider.Provider, pool *sandbox.Pool, version string) *Handler {
	return &Handler{repo: repo, ctxB: ctxB, prov: prov, pool: pool, version: version}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
