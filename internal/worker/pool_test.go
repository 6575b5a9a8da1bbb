package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/pipeline"
	"stratis-backend/internal/repository"
)

type stubRuns struct {
	mu        sync.Mutex
	run       *models.Run
	progress  int
	completed *models.Article
	failedMsg string
	failSteps []models.GenerationStep
	// closed mimics a run the reaper already failed.
	closed    bool
}

func (s *stubRuns) GetByID(_ context.Context, id uuid.UUID) (*models.Run, error) {
	if s.run == nil || s.run.ID != id {
		return nil, repository.ErrNotFound
	}
	return s.run, nil
}

func (s *stubRuns) UpdateProgress(context.Context, uuid.UUID, []models.GenerationStep, *models.Article) error {
	s.mu.Lock()
	s.progress++
	s.mu.Unlock()
	return nil
}

func (s *stubRuns) Complete(_ context.Context, _ *models.Run, _ []models.GenerationStep, a *models.Article) error {
	if s.closed {
		return repository.ErrRunClosed
	}
	s.completed = a
	return nil
}

func (s *stubRuns) Fail(_ context.Context, _ uuid.UUID, steps []models.GenerationStep, _ *models.Article, message string) error {
	if s.closed {
		return repository.ErrRunClosed
	}
	s.failedMsg = message
	s.failSteps = steps
	return nil
}

type stubArticles map[uuid.UUID]struct {
	article *models.Article
	owner   uuid.UUID
}

func (s stubArticles) GetByID(_ context.Context, id uuid.UUID) (*models.Article, uuid.UUID, error) {
	e, ok := s[id]
	if !ok {
		return nil, uuid.Nil, repository.ErrNotFound
	}
	return e.article, e.owner, nil
}

// stubGenerator publishes a two-snapshot step progression and returns art.
type stubGenerator struct {
	art          *models.Article
	err          error
	gotPrior     *models.Article
	regenerated  bool
	chunkUpdates int
}

func (g *stubGenerator) emit(runID uuid.UUID, pub pipeline.Publisher) {
	steps := []models.GenerationStep{{Title: "Researching topic", Status: models.StepInProgress}}
	pub.Publish(models.Snapshot{RunID: runID, Steps: steps})
	for i := 0; i < g.chunkUpdates; i++ {
		pub.Publish(models.Snapshot{RunID: runID, Steps: steps})
	}
	pub.Publish(models.Snapshot{RunID: runID, Steps: []models.GenerationStep{{Title: "Researching topic", Status: models.StepComplete}}})
}

func (g *stubGenerator) Start(_ context.Context, runID uuid.UUID, _ models.GenerationRequest, pub pipeline.Publisher) (*models.Article, error) {
	g.emit(runID, pub)
	return g.art, g.err
}

func (g *stubGenerator) Regenerate(_ context.Context, runID uuid.UUID, prior *models.Article, _ models.RegenerateRequest, pub pipeline.Publisher) (*models.Article, error) {
	g.regenerated = true
	g.gotPrior = prior
	g.emit(runID, pub)
	return g.art, g.err
}

type notifications struct {
	mu   sync.Mutex
	msgs []models.WSMessage
}

func (n *notifications) notify(_ context.Context, _ uuid.UUID, msg models.WSMessage) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func queuedRun(kind models.RunKind, req any) *models.Run {
	raw, _ := json.Marshal(req)
	return &models.Run{ID: uuid.New(), UserID: uuid.New(), Kind: kind, Status: models.RunStatusQueued, RequestJSON: raw}
}

func TestProcessGenerateStoresArticle(t *testing.T) {
	run := queuedRun(models.RunKindGenerate, models.GenerationRequest{Topic: "tea"})
	runs := &stubRuns{run: run}
	gen := &stubGenerator{art: &models.Article{ID: uuid.New(), Title: "Tea"}, chunkUpdates: 3}
	n := &notifications{}

	p := NewProcessor(runs, stubArticles{}, gen, n.notify, time.Minute, logger.Nop())
	p.Process(context.Background(), models.Job{RunID: run.ID, UserID: run.UserID, Kind: run.Kind})

	if runs.completed == nil || runs.completed.Title != "Tea" {
		t.Fatalf("article not stored: %+v", runs.completed)
	}
	if len(n.msgs) != 5 || n.msgs[0].Type != models.WSTypeRunUpdate {
		t.Fatalf("expected every snapshot forwarded, got %d", len(n.msgs))
	}
	if runs.progress != 2 {
		t.Fatalf("only step transitions should be persisted, got %d writes", runs.progress)
	}
}

func TestProcessFailureRecordsMessage(t *testing.T) {
	run := queuedRun(models.RunKindGenerate, models.GenerationRequest{Topic: "tea"})
	runs := &stubRuns{run: run}
	gen := &stubGenerator{err: errors.New("model is overloaded (503)")}
	n := &notifications{}

	p := NewProcessor(runs, stubArticles{}, gen, n.notify, time.Minute, logger.Nop())
	p.Process(context.Background(), models.Job{RunID: run.ID})

	if runs.failedMsg == "" || runs.completed != nil {
		t.Fatalf("expected failure recorded, got msg=%q completed=%v", runs.failedMsg, runs.completed)
	}
	last := n.msgs[len(n.msgs)-1].Payload.(models.Snapshot)
	if last.Error != runs.failedMsg {
		t.Fatalf("final snapshot error = %q, want %q", last.Error, runs.failedMsg)
	}
	if len(runs.failSteps) != 1 || runs.failSteps[0].Status != models.StepComplete {
		t.Fatalf("failure should keep the last published steps: %+v", runs.failSteps)
	}
}

func TestProcessLeavesReapedRunClosed(t *testing.T) {
	run := queuedRun(models.RunKindGenerate, models.GenerationRequest{Topic: "tea"})
	runs := &stubRuns{run: run, closed: true}
	gen := &stubGenerator{art: &models.Article{ID: uuid.New(), Title: "Tea"}}

	NewProcessor(runs, stubArticles{}, gen, nil, time.Minute, logger.Nop()).
		Process(context.Background(), models.Job{RunID: run.ID})

	if runs.completed != nil || runs.failedMsg != "" {
		t.Fatalf("closed run must not be rewritten: completed=%v failed=%q", runs.completed, runs.failedMsg)
	}
}

func TestProcessRegenerateLoadsPrior(t *testing.T) {
	run := queuedRun(models.RunKindRegenerate, models.RegenerateRequest{})
	priorID := uuid.New()
	run.PriorArticleID = &priorID
	prior := &models.Article{ID: priorID, Topic: "tea"}

	runs := &stubRuns{run: run}
	gen := &stubGenerator{art: &models.Article{ID: uuid.New()}}
	articles := stubArticles{priorID: {article: prior, owner: run.UserID}}

	NewProcessor(runs, articles, gen, nil, time.Minute, logger.Nop()).
		Process(context.Background(), models.Job{RunID: run.ID})

	if !gen.regenerated || gen.gotPrior != prior {
		t.Fatal("prior article not handed to the pipeline")
	}
	if runs.completed == nil {
		t.Fatal("regenerated article not stored")
	}
}

func TestProcessRegenerateRejectsForeignArticle(t *testing.T) {
	run := queuedRun(models.RunKindRegenerate, models.RegenerateRequest{})
	priorID := uuid.New()
	run.PriorArticleID = &priorID

	runs := &stubRuns{run: run}
	gen := &stubGenerator{}
	articles := stubArticles{priorID: {article: &models.Article{ID: priorID}, owner: uuid.New()}}
	n := &notifications{}

	NewProcessor(runs, articles, gen, n.notify, time.Minute, logger.Nop()).
		Process(context.Background(), models.Job{RunID: run.ID})

	if gen.regenerated {
		t.Fatal("pipeline must not run on another user's article")
	}
	if runs.failedMsg != pipeline.ErrNoPriorArticle.Error() {
		t.Fatalf("failure message = %q", runs.failedMsg)
	}
	snap := n.msgs[0].Payload.(models.Snapshot)
	if len(snap.Steps) != len(pipeline.StepTitles()) || snap.Steps[0].Status != models.StepPending {
		t.Fatalf("early failure should publish the pending step list: %+v", snap.Steps)
	}
}

func TestProcessSkipsRunsNoLongerQueued(t *testing.T) {
	run := queuedRun(models.RunKindGenerate, models.GenerationRequest{Topic: "tea"})
	run.Status = models.RunStatusFailed
	gen := &stubGenerator{}

	NewProcessor(&stubRuns{run: run}, stubArticles{}, gen, nil, time.Minute, logger.Nop()).
		Process(context.Background(), models.Job{RunID: run.ID})

	if gen.regenerated || gen.art != nil {
		t.Fatal("generator should not run")
	}
}

func TestProcessCorruptRequest(t *testing.T) {
	run := &models.Run{ID: uuid.New(), Kind: models.RunKindGenerate, Status: models.RunStatusQueued, RequestJSON: json.RawMessage(`{"topic":`)}
	runs := &stubRuns{run: run}

	NewProcessor(runs, stubArticles{}, &stubGenerator{}, nil, time.Minute, logger.Nop()).
		Process(context.Background(), models.Job{RunID: run.ID})

	if runs.failedMsg != errCorruptRequest.Error() {
		t.Fatalf("failure message = %q", runs.failedMsg)
	}
}
