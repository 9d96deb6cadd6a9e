package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/store"
)

// defaultListLimit bounds unpaginated project listings.
const defaultListLimit = 50

// RegisterRoutes registers the project routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/", h.HandleListProjects)
		r.Get("/{id}", h.HandleGetProject)
		r.Get("/{id}/context", h.HandleGetProjectContext)
		r.Post("/{id}/resume", h.HandleResumeProject)
		r.Post("/{id}/archive", h.HandleArchiveProject)
		r.Delete("/{id}", h.HandleDeleteProject)
	})
}

// HandleListProjects handles GET /api/projects.
func (h *Handler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	status := domain.ProjectStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = domain.ProjectActive
	case domain.ProjectActive, domain.ProjectArchived:
	default:
		Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	projects, err := h.repo.ListProjects(r.Context(), status, limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

// HandleGetProject handles GET /api/projects/{id}.
func (h *Handler) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}
	p, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "project not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"project": p, "plan": p.Plan()})
}

// HandleGetProjectContext handles GET /api/projects/{id}/context. It
// returns the same context block the pipeline injects into role prompts.
func (h *Handler) HandleGetProjectContext(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}
	if _, err := h.repo.GetProject(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "project not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"context": h.ctxB.Build(r.Context(), id),
		"summary": h.ctxB.Summary(r.Context(), id),
	})
}

// HandleResumeProject handles POST /api/projects/{id}/resume: the
// metadata handshake a client performs before binding the project to a
// session over the WebSocket.
func (h *Handler) HandleResumeProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}
	p, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "project not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	tokens, err := h.repo.GetAllTokens(r.Context(), id)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load role tokens")
		return
	}
	roleNames := make([]string, 0, len(tokens))
	for role := range tokens {
		roleNames = append(roleNames, role)
	}

	JSON(w, http.StatusOK, map[string]any{
		"project":         p,
		"plan":            p.Plan(),
		"summary":         h.ctxB.Summary(r.Context(), id),
		"resumable_roles": roleNames,
	})
}

// HandleArchiveProject handles POST /api/projects/{id}/archive.
func (h *Handler) HandleArchiveProject(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.ProjectArchived, "archived")
}

// HandleDeleteProject handles DELETE /api/projects/{id}. Deletion is
// soft; files on disk are left alone.
func (h *Handler) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.ProjectDeleted, "deleted")
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status domain.ProjectStatus, verb string) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}
	if err := h.repo.UpdateProjectStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "project not found")
			return
		}
		Error(w, http.StatusInternalServerError, "failed to update project")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"id": id, "status": verb})
}

func (h *Handler) projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid project id")
		return 0, false
	}
	return id, true
}
