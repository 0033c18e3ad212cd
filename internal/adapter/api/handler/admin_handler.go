package handler

import (
	"log/slog"
	"net/http"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// AdminHandler exposes consumer-group lag, pending-message, and DLQ-depth
// introspection for a source's Memory Buffer stream — operational surface
// the cluster components imply but spec.md does not name as an endpoint.
type AdminHandler struct {
	repo   domain.StreamAdminRepository
	logger *slog.Logger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(repo domain.StreamAdminRepository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{repo: repo, logger: logger}
}

// HealthCheck answers GET /health.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetGroupInfo handles GET /admin/sources/{token}/groups.
func (h *AdminHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		http.Error(w, "source token is required", http.StatusBadRequest)
		return
	}

	groups, err := h.repo.GetGroupInfo(r.Context(), token)
	if err != nil {
		h.logger.Error("failed to get group info", "source_token", token, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, groups)
}

// GetConsumerInfo handles GET /admin/sources/{token}/groups/{group}/consumers.
func (h *AdminHandler) GetConsumerInfo(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	group := r.PathValue("group")

	consumers, err := h.repo.GetConsumerInfo(r.Context(), token, group)
	if err != nil {
		h.logger.Error("failed to get consumer info", "source_token", token, "group", group, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, consumers)
}

// GetPendingSummary handles GET /admin/sources/{token}/groups/{group}/pending.
func (h *AdminHandler) GetPendingSummary(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	group := r.PathValue("group")

	summary, err := h.repo.GetPendingSummary(r.Context(), token, group)
	if err != nil {
		h.logger.Error("failed to get pending summary", "source_token", token, "group", group, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// GetDLQDepth handles GET /admin/sources/{token}/dlq.
func (h *AdminHandler) GetDLQDepth(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		http.Error(w, "source token is required", http.StatusBadRequest)
		return
	}

	depth, err := h.repo.DLQDepth(r.Context(), token)
	if err != nil {
		h.logger.Error("failed to get dlq depth", "source_token", token, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"dlq_depth": depth})
}
