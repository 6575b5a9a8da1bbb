package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/middleware"
	"stratis-backend/internal/models"
	"stratis-backend/internal/pipeline"
	"stratis-backend/internal/repository"
	"stratis-backend/internal/resilience"
)

type runCreator interface {
	Create(ctx context.Context, run *models.Run) error
	Fail(ctx context.Context, id uuid.UUID, steps []models.GenerationStep, article *models.Article, message string) error
}

type articleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Article, uuid.UUID, error)
	SaveRepurpose(ctx context.Context, userID uuid.UUID, res *models.RepurposeResult) error
}

type runQueue interface {
	AcquireUser(ctx context.Context, userID, runID uuid.UUID) error
	ReleaseUser(ctx context.Context, userID, runID uuid.UUID) error
	Enqueue(ctx context.Context, job models.Job) error
}

type repurposer interface {
	Repurpose(ctx context.Context, article *models.Article, target string) (string, error)
}

const enqueueFailedMessage = "The generation could not be scheduled. Please try again."

type ArticleHandler struct {
	runs       runCreator
	articles   articleRepository
	queue      runQueue
	repurposer repurposer
	executor   *resilience.Executor
	log        *logger.Logger
}

func NewArticleHandler(runs runCreator, articles articleRepository, queue runQueue, repurposer repurposer, executor *resilience.Executor, log *logger.Logger) *ArticleHandler {
	return &ArticleHandler{runs: runs, articles: articles, queue: queue, repurposer: repurposer, executor: executor, log: log}
}

// Generate validates the request and queues a fresh run. An empty topic is
// rejected here; no run exists for it.
func (h *ArticleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if fields := req.Normalize(); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	reqBytes, _ := json.Marshal(req)
	run := &models.Run{
		ID:          uuid.New(),
		UserID:      middleware.GetUserID(r.Context()),
		Kind:        models.RunKindGenerate,
		Topic:       req.Topic,
		RequestJSON: reqBytes,
	}
	h.queueRun(w, r, run)
}

// Regenerate queues a new layout of an existing article, optionally for a
// different platform.
func (h *ArticleHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	articleID, ok := urlUUID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid article ID", r))
		return
	}

	var req models.RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if fields := req.Normalize(); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	article, ok := h.ownedArticle(w, r, articleID)
	if !ok {
		return
	}

	reqBytes, _ := json.Marshal(req)
	run := &models.Run{
		ID:             uuid.New(),
		UserID:         middleware.GetUserID(r.Context()),
		Kind:           models.RunKindRegenerate,
		Topic:          article.Topic,
		RequestJSON:    reqBytes,
		PriorArticleID: &article.ID,
	}
	h.queueRun(w, r, run)
}

func (h *ArticleHandler) queueRun(w http.ResponseWriter, r *http.Request, run *models.Run) {
	ctx := r.Context()

	for _, title := range pipeline.StepTitles() {
		run.Steps = append(run.Steps, models.GenerationStep{Title: title, Status: models.StepPending})
	}

	if err := h.queue.AcquireUser(ctx, run.UserID, run.ID); err != nil {
		if errors.Is(err, repository.ErrRunActive) {
			writeJSON(w, http.StatusConflict, errorResp("RUN_IN_PROGRESS", "A generation is already in progress. Wait for it to finish.", r))
			return
		}
		h.log.Error("Failed to acquire active run slot", "user_id", run.UserID.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to start generation", r))
		return
	}

	if err := h.runs.Create(ctx, run); err != nil {
		h.queue.ReleaseUser(ctx, run.UserID, run.ID)
		h.log.Error("Failed to create run", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to start generation", r))
		return
	}

	job := models.Job{RunID: run.ID, UserID: run.UserID, Kind: run.Kind, CreatedAt: time.Now().UTC()}
	if err := h.queue.Enqueue(ctx, job); err != nil {
		h.log.Error("Failed to enqueue run", "run_id", run.ID.String(), "error", err)
		h.runs.Fail(ctx, run.ID, run.Steps, nil, enqueueFailedMessage)
		h.queue.ReleaseUser(ctx, run.UserID, run.ID)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue generation", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": run.ID,
		"status": run.Status,
		"steps":  run.Steps,
	})
}

func (h *ArticleHandler) Get(w http.ResponseWriter, r *http.Request) {
	articleID, ok := urlUUID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid article ID", r))
		return
	}
	article, ok := h.ownedArticle(w, r, articleID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, article)
}

// Repurpose rewrites a finished article for a short-form channel.
func (h *ArticleHandler) Repurpose(w http.ResponseWriter, r *http.Request) {
	articleID, ok := urlUUID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid article ID", r))
		return
	}

	var req models.RepurposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	target := strings.TrimSpace(req.Platform)
	if !slices.Contains(models.RepurposeTargets, target) {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"platform": "Must be one of: " + strings.Join(models.RepurposeTargets, ", ")}, r))
		return
	}

	article, ok := h.ownedArticle(w, r, articleID)
	if !ok {
		return
	}

	content, err := resilience.Do(r.Context(), h.executor, func(ctx context.Context) (string, error) {
		return h.repurposer.Repurpose(ctx, article, target)
	})
	if err != nil {
		h.log.Warn("Repurpose failed", "article_id", articleID.String(), "error", err)
		writeAIError(w, r, err)
		return
	}

	res := &models.RepurposeResult{ArticleID: article.ID, Platform: target, Content: content}
	if err := h.articles.SaveRepurpose(r.Context(), middleware.GetUserID(r.Context()), res); err != nil {
		h.log.Warn("Failed to save repurposed post", "article_id", articleID.String(), "error", err)
	}
	writeJSON(w, http.StatusOK, res)
}

// ownedArticle loads an article and writes 404/403 itself when the caller
// may not see it.
func (h *ArticleHandler) ownedArticle(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*models.Article, bool) {
	article, owner, err := h.articles.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Article not found", r))
		} else {
			handleServiceError(w, r, err)
		}
		return nil, false
	}
	if owner != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}
	return article, true
}
