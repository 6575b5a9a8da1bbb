package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

type ideaSource interface {
	FindKeywords(ctx context.Context, topic string) ([]models.KeywordSuggestion, error)
	ExploreTopicIdeas(ctx context.Context, topic string) ([]models.TopicIdea, error)
}

// IdeasHandler serves the synchronous helpers used before a run is started.
type IdeasHandler struct {
	ai       ideaSource
	executor *resilience.Executor
	log      *logger.Logger
}

func NewIdeasHandler(ai ideaSource, executor *resilience.Executor, log *logger.Logger) *IdeasHandler {
	return &IdeasHandler{ai: ai, executor: executor, log: log}
}

func (h *IdeasHandler) Keywords(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}
	keywords, err := resilience.Do(r.Context(), h.executor, func(ctx context.Context) ([]models.KeywordSuggestion, error) {
		return h.ai.FindKeywords(ctx, topic)
	})
	if err != nil {
		h.log.Warn("Keyword research failed", "error", err)
		writeAIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keywords": keywords})
}

func (h *IdeasHandler) Topics(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}
	ideas, err := resilience.Do(r.Context(), h.executor, func(ctx context.Context) ([]models.TopicIdea, error) {
		return h.ai.ExploreTopicIdeas(ctx, topic)
	})
	if err != nil {
		h.log.Warn("Topic exploration failed", "error", err)
		writeAIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ideas": ideas})
}

func (h *IdeasHandler) topic(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.IdeasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return "", false
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"topic": "Topic is required"}, r))
		return "", false
	}
	return topic, true
}
