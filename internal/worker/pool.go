package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/pipeline"
	"stratis-backend/internal/repository"
	"stratis-backend/internal/resilience"
)

const (
	popTimeout    = 5 * time.Second
	depthInterval = 15 * time.Second
)

var errCorruptRequest = errors.New("the stored run request could not be read")

// RunStore persists run progress. Implemented by repository.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, steps []models.GenerationStep, article *models.Article) error
	Complete(ctx context.Context, run *models.Run, steps []models.GenerationStep, article *models.Article) error
	Fail(ctx context.Context, id uuid.UUID, steps []models.GenerationStep, article *models.Article, message string) error
}

type ArticleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Article, uuid.UUID, error)
}

// Generator runs the generation pipeline. Implemented by pipeline.Pipeline.
type Generator interface {
	Start(ctx context.Context, runID uuid.UUID, req models.GenerationRequest, pub pipeline.Publisher) (*models.Article, error)
	Regenerate(ctx context.Context, runID uuid.UUID, prior *models.Article, req models.RegenerateRequest, pub pipeline.Publisher) (*models.Article, error)
}

// Notifier delivers a message to a user's live sockets.
type Notifier func(ctx context.Context, userID uuid.UUID, msg models.WSMessage)

type DepthRecorder interface {
	SetQueueDepth(queue string, depth int64)
}

type Pool struct {
	redis       *redis.Client
	queue       *repository.RunQueue
	processor   *Processor
	depth       DepthRecorder
	workerCount int
	log         *logger.Logger
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

func NewPool(
	redisClient *redis.Client,
	queue *repository.RunQueue,
	processor *Processor,
	depth DepthRecorder,
	workerCount int,
	log *logger.Logger,
) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		queue:       queue,
		processor:   processor,
		depth:       depth,
		workerCount: workerCount,
		log:         log,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	queues := []string{repository.QueueGeneration, repository.QueueRegeneration}

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, queues)
	}
	if p.depth != nil {
		p.wg.Add(1)
		go p.depthLoop(queues)
	}

	p.log.Info("Started worker goroutines", "count", p.workerCount)
}

// Stop signals the workers and waits for in-flight runs to finish.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *Pool) worker(id int, queues []string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			p.log.Debug("Worker shutting down", "worker", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, queues...).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				p.log.Warn("Queue pop failed", "worker", id, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			p.log.Error("Failed to parse job", "worker", id, "error", err)
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.RunID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", p.processor.runTimeout+time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		p.log.Info("Processing run", "worker", id, "run_id", job.RunID.String(), "kind", string(job.Kind))
		p.processor.Process(ctx, job)

		p.redis.Del(ctx, lockKey)
		if err := p.queue.ReleaseUser(ctx, job.UserID, job.RunID); err != nil {
			p.log.Warn("Failed to release active run", "run_id", job.RunID.String(), "error", err)
		}
	}
}

func (p *Pool) depthLoop(queues []string) {
	defer p.wg.Done()
	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			for _, q := range queues {
				n, err := p.queue.Depth(context.Background(), q)
				if err == nil {
					p.depth.SetQueueDepth(q, n)
				}
			}
		}
	}
}

// Processor executes one queued run and records its outcome.
type Processor struct {
	runs       RunStore
	articles   ArticleStore
	generator  Generator
	notify     Notifier
	runTimeout time.Duration
	log        *logger.Logger
}

func NewProcessor(runs RunStore, articles ArticleStore, generator Generator, notify Notifier, runTimeout time.Duration, log *logger.Logger) *Processor {
	if notify == nil {
		notify = func(context.Context, uuid.UUID, models.WSMessage) {}
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	return &Processor{
		runs:       runs,
		articles:   articles,
		generator:  generator,
		notify:     notify,
		runTimeout: runTimeout,
		log:        log,
	}
}

func (p *Processor) Process(ctx context.Context, job models.Job) {
	log := p.log.With("run_id", job.RunID.String())

	run, err := p.runs.GetByID(ctx, job.RunID)
	if err != nil {
		log.Error("Failed to load run", "error", err)
		return
	}
	if run.Status != models.RunStatusQueued {
		log.Info("Skipping run that is no longer queued", "status", string(run.Status))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()

	pub := newRunPublisher(run, p.runs, p.notify, log)

	var article *models.Article
	switch run.Kind {
	case models.RunKindGenerate:
		var req models.GenerationRequest
		if jerr := json.Unmarshal(run.RequestJSON, &req); jerr != nil {
			err = errCorruptRequest
		} else {
			article, err = p.generator.Start(runCtx, run.ID, req, pub)
		}
	case models.RunKindRegenerate:
		article, err = p.regenerate(runCtx, run, pub)
	default:
		err = fmt.Errorf("unknown run kind %q", run.Kind)
	}

	// Persisting the outcome must survive a run that timed out.
	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer storeCancel()

	if err != nil {
		message := resilience.Message(err)
		pub.failed(storeCtx, message)
		ferr := p.runs.Fail(storeCtx, run.ID, pub.steps(), article, message)
		switch {
		case errors.Is(ferr, repository.ErrRunClosed):
			log.Warn("Run was closed before its failure was recorded")
		case ferr != nil:
			log.Error("Failed to record run failure", "error", ferr)
		}
		return
	}

	cerr := p.runs.Complete(storeCtx, run, pub.steps(), article)
	if errors.Is(cerr, repository.ErrRunClosed) {
		log.Warn("Run was closed before it finished, discarding article", "article_id", article.ID.String())
		return
	}
	if cerr != nil {
		log.Error("Failed to store completed run", "error", cerr)
		return
	}
	log.Info("Run stored", "article_id", article.ID.String())
}

func (p *Processor) regenerate(ctx context.Context, run *models.Run, pub *runPublisher) (*models.Article, error) {
	var req models.RegenerateRequest
	if err := json.Unmarshal(run.RequestJSON, &req); err != nil {
		return nil, errCorruptRequest
	}
	if run.PriorArticleID == nil {
		return nil, pipeline.ErrNoPriorArticle
	}
	prior, owner, err := p.articles.GetByID(ctx, *run.PriorArticleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, pipeline.ErrNoPriorArticle
	}
	if err != nil {
		return nil, err
	}
	if owner != run.UserID {
		return nil, pipeline.ErrNoPriorArticle
	}
	return p.generator.Regenerate(ctx, run.ID, prior, req, pub)
}

// runPublisher forwards every snapshot to the user's sockets and persists
// step transitions. Content chunks only go to the sockets.
type runPublisher struct {
	mu     sync.Mutex
	run    *models.Run
	store  RunStore
	notify Notifier
	log    *logger.Logger
	last   *models.Snapshot
}

func newRunPublisher(run *models.Run, store RunStore, notify Notifier, log *logger.Logger) *runPublisher {
	return &runPublisher{run: run, store: store, notify: notify, log: log}
}

func (p *runPublisher) Publish(snap models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stepChanged := p.last == nil || !sameSteps(p.last.Steps, snap.Steps)
	p.last = &snap

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.notify(ctx, p.run.UserID, models.WSMessage{Type: models.WSTypeRunUpdate, Payload: snap})

	if stepChanged && snap.Error == "" {
		if err := p.store.UpdateProgress(ctx, p.run.ID, snap.Steps, snap.Article); err != nil {
			p.log.Warn("Failed to persist run progress", "error", err)
		}
	}
}

// failed publishes a terminal snapshot for runs that failed before the
// pipeline published one of its own.
func (p *runPublisher) failed(ctx context.Context, message string) {
	p.mu.Lock()
	if p.last != nil && p.last.Error != "" {
		p.mu.Unlock()
		return
	}
	snap := models.Snapshot{RunID: p.run.ID, Kind: p.run.Kind, Error: message}
	if p.last != nil {
		snap.Steps = p.last.Steps
		snap.Article = p.last.Article
	} else {
		for _, title := range pipeline.StepTitles() {
			snap.Steps = append(snap.Steps, models.GenerationStep{Title: title, Status: models.StepPending})
		}
	}
	p.last = &snap
	p.mu.Unlock()

	p.notify(ctx, p.run.UserID, models.WSMessage{Type: models.WSTypeRunUpdate, Payload: snap})
}

func (p *runPublisher) steps() []models.GenerationStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return []models.GenerationStep{}
	}
	return p.last.Steps
}

func sameSteps(a, b []models.GenerationStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
