package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

var (
	ErrEmptyTopic     = errors.New("topic is required")
	ErrNoPriorArticle = errors.New("prior article is required for regeneration")
)

const defaultImageConcurrency = 4

type Options struct {
	Executor         *resilience.Executor
	ImageConcurrency int
	Observer         Observer
	Log              *logger.Logger
	// NewID and Now are replaceable for tests.
	NewID func() uuid.UUID
	Now   func() time.Time
}

// Pipeline sequences research, planning, streaming, image rendering and
// finalisation for one article at a time per call.
type Pipeline struct {
	backend  Backend
	images   ImageGenerator
	cache    ResearchCache
	exec     *resilience.Executor
	imageCap int
	obs      Observer
	log      *logger.Logger
	newID    func() uuid.UUID
	now      func() time.Time
}

func New(backend Backend, images ImageGenerator, cache ResearchCache, opts Options) *Pipeline {
	p := &Pipeline{
		backend:  backend,
		images:   images,
		cache:    cache,
		exec:     opts.Executor,
		imageCap: opts.ImageConcurrency,
		obs:      opts.Observer,
		log:      opts.Log,
		newID:    opts.NewID,
		now:      opts.Now,
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if p.exec == nil {
		p.exec = resilience.NewExecutor(resilience.DefaultMaxAttempts, p.log)
	}
	if p.imageCap <= 0 {
		p.imageCap = defaultImageConcurrency
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	if p.cache == nil {
		p.cache = NewMemoryCache()
	}
	if p.newID == nil {
		p.newID = uuid.New
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// input is everything one execution needs, after request defaults and
// regeneration fallbacks have been applied.
type input struct {
	topic          string
	platform       models.Platform
	profile        models.AuthorProfile
	lengthOverride *models.LengthOverride
	seoKeyword     string
	reference      *models.Reference
	researchKey    string
	regenerate     bool
}

// Start runs a fresh generation. An empty topic is rejected before any step
// exists or any call is made. On failure the returned article is whatever
// had been built so far (nil before planning completes).
func (p *Pipeline) Start(ctx context.Context, runID uuid.UUID, req models.GenerationRequest, pub Publisher) (*models.Article, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	in := input{
		topic:          topic,
		platform:       req.Platform,
		profile:        req.AuthorProfile,
		lengthOverride: req.LengthOverride,
		seoKeyword:     req.SEOKeyword,
		reference:      req.Reference,
		researchKey:    researchKey(p.newID()),
	}
	return p.execute(ctx, runID, models.RunKindGenerate, in, pub)
}

// Regenerate re-plans and re-writes a prior article's topic with a new
// layout. Research is reused from the cache when it is still there. The
// result always has a new ID.
func (p *Pipeline) Regenerate(ctx context.Context, runID uuid.UUID, prior *models.Article, req models.RegenerateRequest, pub Publisher) (*models.Article, error) {
	if prior == nil {
		return nil, ErrNoPriorArticle
	}
	topic := strings.TrimSpace(prior.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	in := input{
		topic:          topic,
		platform:       prior.Platform,
		profile:        prior.AuthorProfile,
		lengthOverride: prior.LengthOverride,
		seoKeyword:     prior.SEOKeywordUsed,
		researchKey:    prior.ResearchKey,
		regenerate:     true,
	}
	if req.Platform != nil {
		in.platform = *req.Platform
	}
	if req.AuthorProfile != nil {
		in.profile = *req.AuthorProfile
	}
	switch {
	case req.ClearLengthOverride:
		in.lengthOverride = nil
	case req.LengthOverride != nil:
		in.lengthOverride = req.LengthOverride
	}
	if req.SEOKeyword != "" {
		in.seoKeyword = req.SEOKeyword
	}
	if in.platform.Name == "" {
		in.platform.Name = prior.PlatformName
	}
	if in.researchKey == "" {
		in.researchKey = researchKey(p.newID())
	}
	return p.execute(ctx, runID, models.RunKindRegenerate, in, pub)
}

func (p *Pipeline) execute(ctx context.Context, runID uuid.UUID, kind models.RunKind, in input, pub Publisher) (*models.Article, error) {
	if runID == uuid.Nil {
		runID = p.newID()
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	r := newRun(runID, kind, pub, p.obs)
	log := p.log.With("run_id", runID.String(), "kind", string(kind))

	article, err := p.runSteps(ctx, r, in, log)
	if err != nil {
		final := resilience.Terminal(err)
		log.Warn("Run failed",
			"step", stepTitles[max(r.current, 0)],
			"kind", string(final.Kind),
			"attempts", final.Attempts,
			"error", errors.Unwrap(final),
		)
		r.fail(final.Message)
		p.obs.RunFinished(kind, models.RunStatusFailed)
		return r.article.Clone(), final
	}

	r.finish()
	p.obs.RunFinished(kind, models.RunStatusComplete)
	log.Info("Run complete", "article_id", article.ID.String(), "images", len(article.ImageURLs))
	return article.Clone(), nil
}

func (p *Pipeline) runSteps(ctx context.Context, r *run, in input, log *logger.Logger) (*models.Article, error) {
	// Researching
	research, err := p.research(ctx, r, in, log)
	if err != nil {
		return nil, err
	}

	// Planning
	r.begin(stepPlan)
	plan, err := resilience.Do(ctx, p.exec, func(ctx context.Context) (*models.ArticlePlan, error) {
		return p.backend.Plan(ctx, PlanInput{
			Topic:          in.topic,
			Platform:       in.platform,
			Research:       research,
			AuthorProfile:  in.profile,
			LengthOverride: in.lengthOverride,
			SEOKeyword:     in.seoKeyword,
			Regenerate:     in.regenerate,
		})
	})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, resilience.Malformed("plan", "empty plan")
	}

	r.article = p.newArticle(in, plan, research)
	r.publish()

	// Streaming
	r.begin(stepStream)
	if err := p.stream(ctx, r, in, plan, research); err != nil {
		return nil, err
	}

	// Rendering visuals
	r.begin(stepRender)
	urls := p.renderVisuals(ctx, r.article.VisualPrompts, log)
	r.article.BodyContent = Substitute(r.article.BodyContent, r.article.VisualPrompts, urls)
	r.article.ImageURLs = urls

	// Finalizing
	r.begin(stepFinalize)
	r.article.PlatformName = in.platform.Name
	r.article.Topic = in.topic
	r.article.SEOKeywordUsed = plan.SEOKeywordUsed
	if r.article.SEOKeywordUsed == "" {
		r.article.SEOKeywordUsed = in.seoKeyword
	}
	return r.article, nil
}

func (p *Pipeline) research(ctx context.Context, r *run, in input, log *logger.Logger) (*models.ResearchData, error) {
	if in.regenerate {
		cached, ok, err := p.cache.Get(ctx, in.researchKey)
		if err != nil {
			log.Warn("Research cache read failed", "key", in.researchKey, "error", err)
		}
		if ok && cached != nil {
			log.Debug("Reusing cached research", "key", in.researchKey)
			r.skip(stepResearch)
			return cached, nil
		}
	}

	r.begin(stepResearch)
	data, err := resilience.Do(ctx, p.exec, func(ctx context.Context) (*models.ResearchData, error) {
		return p.backend.Research(ctx, ResearchInput{Topic: in.topic, Reference: in.reference})
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, resilience.Malformed("research", "empty research")
	}
	if err := p.cache.Put(ctx, in.researchKey, data); err != nil {
		log.Warn("Research cache write failed", "key", in.researchKey, "error", err)
	}
	return data, nil
}

// stream appends chunks to the article body in arrival order, publishing
// after each one.
func (p *Pipeline) stream(ctx context.Context, r *run, in input, plan *models.ArticlePlan, research *models.ResearchData) error {
	s, err := p.backend.StreamContent(ctx, ContentInput{
		Topic:          in.topic,
		Plan:           plan,
		Platform:       in.platform,
		Research:       research,
		AuthorProfile:  in.profile,
		LengthOverride: in.lengthOverride,
		Regenerate:     in.regenerate,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	var body strings.Builder
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk == "" {
			continue
		}
		body.WriteString(chunk)
		r.article.BodyContent = body.String()
		r.publish()
	}
}

func (p *Pipeline) newArticle(in input, plan *models.ArticlePlan, research *models.ResearchData) *models.Article {
	sources := plan.Sources
	if len(sources) == 0 && research != nil {
		sources = research.Sources
	}
	a := &models.Article{
		ID:             p.newID(),
		Title:          plan.Title,
		Hashtags:       plan.Hashtags,
		Links:          plan.Links,
		VisualPrompts:  plan.VisualPrompts,
		ImageURLs:      []string{},
		SEOAnalysis:    plan.SEOAnalysis,
		Sources:        sources,
		SEOKeywordUsed: plan.SEOKeywordUsed,
		PlatformName:   in.platform.Name,
		Topic:          in.topic,
		Platform:       in.platform,
		AuthorProfile:  in.profile,
		LengthOverride: in.lengthOverride,
		ResearchKey:    in.researchKey,
		CreatedAt:      p.now(),
	}
	// Own copies: the plan may be shared with the caller's backend.
	return a.Clone()
}

func researchKey(id uuid.UUID) string {
	return "research:" + id.String()
}
