package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunKind string

const (
	RunKindGenerate   RunKind = "generate"
	RunKindRegenerate RunKind = "regenerate"
)

type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepComplete   StepStatus = "complete"
	StepError      StepStatus = "error"
)

type GenerationStep struct {
	Title  string     `json:"title"`
	Status StepStatus `json:"status"`
}

// Snapshot is one observable state of a run: the step list, the article as
// far as it has been built, and the user-facing error once the run failed.
type Snapshot struct {
	RunID   uuid.UUID        `json:"run_id"`
	Kind    RunKind          `json:"kind"`
	Steps   []GenerationStep `json:"steps"`
	Article *Article         `json:"article,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Run is the persisted ledger entry for one generation or regeneration.
type Run struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	Kind           RunKind          `json:"kind"`
	Topic          string           `json:"topic"`
	RequestJSON    json.RawMessage  `json:"request"`
	PriorArticleID *uuid.UUID       `json:"prior_article_id,omitempty"`
	Status         RunStatus        `json:"status"`
	Steps          []GenerationStep `json:"steps"`
	ArticleID      *uuid.UUID       `json:"article_id,omitempty"`
	Article        *Article         `json:"article,omitempty"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// Job is the queue payload handed from the API to the worker pool.
type Job struct {
	RunID     uuid.UUID `json:"run_id"`
	UserID    uuid.UUID `json:"user_id"`
	Kind      RunKind   `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// StaleRun identifies a run failed by the stale run reaper.
type StaleRun struct {
	RunID  uuid.UUID
	UserID uuid.UUID
}

// WebSocket message types
const (
	WSTypeRunUpdate = "run_update"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
