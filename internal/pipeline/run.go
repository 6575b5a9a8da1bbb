package pipeline

import (
	"time"

	"github.com/google/uuid"

	"stratis-backend/internal/models"
)

const (
	stepResearch = iota
	stepPlan
	stepStream
	stepRender
	stepFinalize
)

var stepTitles = [...]string{
	stepResearch: "Researching topic",
	stepPlan:     "Planning article",
	stepStream:   "Synthesising content",
	stepRender:   "Rendering visuals",
	stepFinalize: "Finalising post",
}

// StepTitles lists the fixed step sequence of every run.
func StepTitles() []string {
	return append([]string(nil), stepTitles[:]...)
}

// run owns the mutable state of one pipeline execution. Only the pipeline
// goroutine touches it; publishers receive deep copies.
type run struct {
	id        uuid.UUID
	kind      models.RunKind
	steps     []models.GenerationStep
	current   int
	started   time.Time
	article   *models.Article
	pub       Publisher
	obs       Observer
	errorText string
}

func newRun(id uuid.UUID, kind models.RunKind, pub Publisher, obs Observer) *run {
	steps := make([]models.GenerationStep, len(stepTitles))
	for i, title := range stepTitles {
		steps[i] = models.GenerationStep{Title: title, Status: models.StepPending}
	}
	return &run{id: id, kind: kind, steps: steps, current: -1, pub: pub, obs: obs}
}

// begin moves the previous step (if any) to complete and step i to
// in-progress in a single publication, so no snapshot ever shows two
// in-progress steps or a gap between them.
func (r *run) begin(i int) {
	r.closeCurrent(models.StepComplete)
	r.steps[i].Status = models.StepInProgress
	r.current = i
	r.started = time.Now()
	r.publish()
}

// skip marks step i complete without running it.
func (r *run) skip(i int) {
	r.steps[i].Status = models.StepComplete
}

func (r *run) finish() {
	r.closeCurrent(models.StepComplete)
	r.publish()
}

// fail marks the in-progress step as error. Later steps stay pending.
func (r *run) fail(message string) {
	r.closeCurrent(models.StepError)
	r.errorText = message
	r.publish()
}

func (r *run) closeCurrent(status models.StepStatus) {
	if r.current < 0 {
		return
	}
	r.steps[r.current].Status = status
	r.obs.StepFinished(stepTitles[r.current], status, time.Since(r.started))
	r.current = -1
}

func (r *run) publish() {
	r.pub.Publish(r.snapshot())
}

func (r *run) snapshot() models.Snapshot {
	return models.Snapshot{
		RunID:   r.id,
		Kind:    r.kind,
		Steps:   append([]models.GenerationStep(nil), r.steps...),
		Article: r.article.Clone(),
		Error:   r.errorText,
	}
}
