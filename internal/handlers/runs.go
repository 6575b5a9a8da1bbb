package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/middleware"
	"stratis-backend/internal/models"
	"stratis-backend/internal/repository"
)

type runReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Run, int, error)
}

type RunHandler struct {
	runs runReader
	log  *logger.Logger
}

func NewRunHandler(runs runReader, log *logger.Logger) *RunHandler {
	return &RunHandler{runs: runs, log: log}
}

func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	runs, total, err := h.runs.ListByUser(r.Context(), middleware.GetUserID(r.Context()), limit, offset)
	if err != nil {
		h.log.Error("Failed to list runs", "error", err)
		handleServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get returns the latest persisted snapshot of a run. Clients that missed
// socket updates poll this.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid run ID", r))
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Run not found", r))
			return
		}
		handleServiceError(w, r, err)
		return
	}
	if run.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return
	}
	writeJSON(w, http.StatusOK, run)
}
