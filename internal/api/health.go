package api

import (
	"net/http"
	"time"
)

// HandleHealth handles GET /health. Liveness only.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// HandleHealthDetailed handles GET /health/detailed: database
// connectivity plus capability provider availability. The provider being
// unavailable degrades the report but does not fail it; chat still works
// in limited form.
func (h *Handler) HandleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if err := h.repo.Ping(r.Context()); err != nil {
		checks["database"] = "unreachable: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.prov == nil {
		checks["provider"] = "disabled"
	} else if err := h.prov.Available(); err != nil {
		checks["provider"] = "unavailable: " + err.Error()
	} else {
		checks["provider"] = "ok"
	}

	body := map[string]any{
		"status":  statusWord(status),
		"version": h.version,
		"checks":  checks,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.pool != nil {
		body["sandboxes"] = h.pool.Len()
	}
	JSON(w, status, body)
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
