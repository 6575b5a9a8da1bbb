package pipeline

import (
	"context"
	"time"

	"stratis-backend/internal/models"
)

type ResearchInput struct {
	Topic     string
	Reference *models.Reference
}

type PlanInput struct {
	Topic          string
	Platform       models.Platform
	Research       *models.ResearchData
	AuthorProfile  models.AuthorProfile
	LengthOverride *models.LengthOverride
	SEOKeyword     string
	// Regenerate asks for a layout materially different from earlier runs.
	Regenerate bool
}

type ContentInput struct {
	Topic          string
	Plan           *models.ArticlePlan
	Platform       models.Platform
	Research       *models.ResearchData
	AuthorProfile  models.AuthorProfile
	LengthOverride *models.LengthOverride
	Regenerate     bool
}

// Backend is the text side of the AI provider.
type Backend interface {
	Research(ctx context.Context, in ResearchInput) (*models.ResearchData, error)
	Plan(ctx context.Context, in PlanInput) (*models.ArticlePlan, error)
	StreamContent(ctx context.Context, in ContentInput) (ContentStream, error)
}

// ContentStream yields body chunks in order. Next returns io.EOF once the
// stream is exhausted. A stream has exactly one consumer.
type ContentStream interface {
	Next() (string, error)
	Close() error
}

type ImageGenerator interface {
	// GenerateImage returns a URL or data URI for the rendered prompt.
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ResearchCache keeps research between a run and its regenerations.
type ResearchCache interface {
	Get(ctx context.Context, key string) (*models.ResearchData, bool, error)
	Put(ctx context.Context, key string, data *models.ResearchData) error
}

type Publisher interface {
	Publish(snap models.Snapshot)
}

type PublisherFunc func(snap models.Snapshot)

func (f PublisherFunc) Publish(snap models.Snapshot) { f(snap) }

// Observer receives run telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	StepFinished(step string, status models.StepStatus, elapsed time.Duration)
	RunFinished(kind models.RunKind, outcome models.RunStatus)
	ImageFailed()
}

type nopObserver struct{}

func (nopObserver) StepFinished(string, models.StepStatus, time.Duration) {}
func (nopObserver) RunFinished(models.RunKind, models.RunStatus)          {}
func (nopObserver) ImageFailed()                                          {}

type nopPublisher struct{}

func (nopPublisher) Publish(models.Snapshot) {}
