package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type sliceStream struct {
	chunks []string
	i      int
	err    error
	closed bool
}

func (s *sliceStream) Next() (string, error) {
	if s.i < len(s.chunks) {
		c := s.chunks[s.i]
		s.i++
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeBackend struct {
	mu            sync.Mutex
	researchCalls int
	planCalls     int
	streamCalls   int
	planInputs    []PlanInput
	contentInputs []ContentInput

	researchErr error
	planErr     error
	prompts     []models.VisualPrompt
	chunks      []string
	streamErr   error
	lastStream  *sliceStream
}

func (f *fakeBackend) Research(ctx context.Context, in ResearchInput) (*models.ResearchData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.researchCalls++
	if f.researchErr != nil {
		return nil, f.researchErr
	}
	return &models.ResearchData{
		History: "A long history of " + in.Topic,
		Facts:   []string{"fact"},
		Sources: []models.Source{{URI: "https://example.org/a", Title: "A"}},
	}, nil
}

func (f *fakeBackend) Plan(ctx context.Context, in PlanInput) (*models.ArticlePlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	f.planInputs = append(f.planInputs, in)
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &models.ArticlePlan{
		Title:         "On " + in.Topic,
		Hashtags:      []string{"#go"},
		Links:         []models.Link{{Text: "docs", URL: "https://go.dev"}},
		VisualPrompts: append([]models.VisualPrompt(nil), f.prompts...),
		Sources:       in.Research.Sources,
	}, nil
}

func (f *fakeBackend) StreamContent(ctx context.Context, in ContentInput) (ContentStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	f.contentInputs = append(f.contentInputs, in)
	f.lastStream = &sliceStream{chunks: f.chunks, err: f.streamErr}
	return f.lastStream, nil
}

type fakeImages struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(prompt string) (string, error)
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[prompt]++
	f.mu.Unlock()
	return f.fn(prompt)
}

func (f *fakeImages) count(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prompt]
}

type recorder struct {
	snaps []models.Snapshot
}

func (r *recorder) Publish(s models.Snapshot) { r.snaps = append(r.snaps, s) }

func (r *recorder) last() models.Snapshot { return r.snaps[len(r.snaps)-1] }

type testEnv struct {
	backend *fakeBackend
	images  *fakeImages
	cache   *MemoryCache
	sleeps  []time.Duration
	p       *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		backend: &fakeBackend{},
		images: &fakeImages{fn: func(prompt string) (string, error) {
			return "https://img.test/" + prompt + ".png", nil
		}},
		cache: NewMemoryCache(),
	}
	ex := resilience.NewExecutor(3, logger.Nop())
	var mu sync.Mutex
	ex.Sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		env.sleeps = append(env.sleeps, d)
		mu.Unlock()
		return nil
	}
	ex.Jitter = func() time.Duration { return 0 }
	env.p = New(env.backend, env.images, env.cache, Options{
		Executor:         ex,
		ImageConcurrency: 4,
		Log:              logger.Nop(),
	})
	return env
}

func request(topic string) models.GenerationRequest {
	p, _ := models.LookupPlatform("LinkedIn Article")
	return models.GenerationRequest{
		Topic:         topic,
		Platform:      p,
		AuthorProfile: models.DefaultAuthorProfile(),
	}
}

func statuses(steps []models.GenerationStep) []models.StepStatus {
	out := make([]models.StepStatus, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

func assertStatuses(t *testing.T, steps []models.GenerationStep, want ...models.StepStatus) {
	t.Helper()
	got := statuses(steps)
	if len(got) != len(want) {
		t.Fatalf("got %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step statuses = %v, want %v", got, want)
		}
	}
}

// ─── Scenarios ──────────────────────────────────────────────────────

func TestStart_EmptyTopicRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := &recorder{}

	for _, topic := range []string{"", "   \t"} {
		article, err := env.p.Start(context.Background(), uuid.New(), request(topic), rec)
		if !errors.Is(err, ErrEmptyTopic) {
			t.Fatalf("expected ErrEmptyTopic, got %v", err)
		}
		if article != nil {
			t.Fatal("expected no article")
		}
	}

	if len(rec.snaps) != 0 {
		t.Fatalf("expected no published steps, got %d snapshots", len(rec.snaps))
	}
	if env.backend.researchCalls+env.backend.planCalls+env.backend.streamCalls != 0 {
		t.Fatal("expected no backend calls")
	}
}

func TestStart_StreamsChunksAndSubstitutesImages(t *testing.T) {
	env := newTestEnv(t)
	env.backend.prompts = []models.VisualPrompt{
		{Placeholder: "[IMAGE_1]", Type: "header", Prompt: "one"},
		{Placeholder: "[IMAGE_2]", Type: "inline", Prompt: "two"},
	}
	env.backend.chunks = []string{`A<img src="[IMAGE_1]" />`, "B", `C<img src="[IMAGE_2]" />`}
	rec := &recorder{}

	article, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var streamed []string
	for _, s := range rec.snaps {
		if s.Steps[stepStream].Status == models.StepInProgress && s.Article != nil && s.Article.BodyContent != "" {
			streamed = append(streamed, s.Article.BodyContent)
		}
	}
	want := []string{
		`A<img src="[IMAGE_1]" />`,
		`A<img src="[IMAGE_1]" />B`,
		`A<img src="[IMAGE_1]" />BC<img src="[IMAGE_2]" />`,
	}
	if len(streamed) != len(want) {
		t.Fatalf("streamed bodies = %q", streamed)
	}
	for i := range want {
		if streamed[i] != want[i] {
			t.Fatalf("streamed[%d] = %q, want %q", i, streamed[i], want[i])
		}
	}

	wantBody := `A<img src="https://img.test/one.png" alt="one" />BC<img src="https://img.test/two.png" alt="two" />`
	if article.BodyContent != wantBody {
		t.Fatalf("final body = %q", article.BodyContent)
	}
	if len(article.ImageURLs) != 2 {
		t.Fatalf("expected 2 image urls, got %v", article.ImageURLs)
	}
	if article.PlatformName != "LinkedIn Article" || article.Topic != "Tea" {
		t.Fatalf("finalised fields missing: %q %q", article.PlatformName, article.Topic)
	}
	if !env.backend.lastStream.closed {
		t.Fatal("stream not closed")
	}
	assertStatuses(t, rec.last().Steps,
		models.StepComplete, models.StepComplete, models.StepComplete, models.StepComplete, models.StepComplete)
}

func TestStart_PlainChunksConcatenateInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.backend.prompts = []models.VisualPrompt{
		{Placeholder: "[IMAGE_1]", Prompt: "one"},
		{Placeholder: "[IMAGE_2]", Prompt: "two"},
	}
	env.backend.chunks = []string{"A", "B", "C"}

	article, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), &recorder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if article.BodyContent != "ABC" {
		t.Fatalf("body = %q, want ABC", article.BodyContent)
	}
	if len(article.ImageURLs) != 2 {
		t.Fatalf("expected 2 image urls, got %d", len(article.ImageURLs))
	}
}

func TestStart_PlanOverloadedFailsAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	env.backend.planErr = errors.New("[503 Service Unavailable] model overloaded")
	rec := &recorder{}

	article, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), rec)
	if err == nil {
		t.Fatal("expected failure")
	}
	if err.Error() != resilience.MessageTransient {
		t.Fatalf("error = %q", err.Error())
	}
	if article != nil {
		t.Fatal("no article should exist when planning fails")
	}
	if env.backend.planCalls != 3 {
		t.Fatalf("plan called %d times, want 3", env.backend.planCalls)
	}
	if len(env.sleeps) != 2 || env.sleeps[0] >= env.sleeps[1] {
		t.Fatalf("expected two increasing delays, got %v", env.sleeps)
	}

	last := rec.last()
	assertStatuses(t, last.Steps,
		models.StepComplete, models.StepError, models.StepPending, models.StepPending, models.StepPending)
	if last.Error != resilience.MessageTransient {
		t.Fatalf("snapshot error = %q", last.Error)
	}

	withError := 0
	for _, s := range rec.snaps {
		if s.Error != "" {
			withError++
		}
	}
	if withError != 1 {
		t.Fatalf("error surfaced %d times, want once", withError)
	}
	if env.backend.streamCalls != 0 {
		t.Fatal("streaming must not start after a failed plan")
	}
}

func TestStart_FailedVisualLeavesPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.backend.prompts = []models.VisualPrompt{
		{Placeholder: "[IMAGE_1]", Prompt: "bad"},
		{Placeholder: "[IMAGE_2]", Prompt: "good"},
	}
	env.backend.chunks = []string{`<img src="[IMAGE_1]" />`, `<img src="[IMAGE_2]" />`}
	env.images.fn = func(prompt string) (string, error) {
		if prompt == "bad" {
			return "", errors.New("invalid api_key")
		}
		return "https://img.test/good.png", nil
	}
	rec := &recorder{}

	article, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), rec)
	if err != nil {
		t.Fatalf("run should complete, got %v", err)
	}
	if !strings.Contains(article.BodyContent, `src="[IMAGE_1]"`) {
		t.Fatalf("failed placeholder should stay unresolved: %q", article.BodyContent)
	}
	if !strings.Contains(article.BodyContent, `src="https://img.test/good.png" alt="good"`) {
		t.Fatalf("successful placeholder not substituted: %q", article.BodyContent)
	}
	if article.ImageURLs[0] != "" || article.ImageURLs[1] != "https://img.test/good.png" {
		t.Fatalf("image urls = %v", article.ImageURLs)
	}
	if env.images.count("bad") != 1 {
		t.Fatalf("non-retryable image failure retried %d times", env.images.count("bad"))
	}
	if rec.last().Error != "" {
		t.Fatal("a partial visual failure must not surface a run error")
	}
}

// ─── Invariants ─────────────────────────────────────────────────────

func TestStart_ImageOrderIndependentOfCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.backend.prompts = []models.VisualPrompt{
		{Placeholder: "[A]", Prompt: "first"},
		{Placeholder: "[B]", Prompt: "second"},
		{Placeholder: "[C]", Prompt: "third"},
	}
	env.backend.chunks = []string{"body"}

	// Each image waits for the one after it, so they resolve last to first.
	gates := map[string]chan struct{}{"first": make(chan struct{}), "second": make(chan struct{}), "third": make(chan struct{})}
	next := map[string]string{"second": "first", "third": "second"}
	close(gates["third"])
	var order []string
	var mu sync.Mutex
	env.images.fn = func(prompt string) (string, error) {
		<-gates[prompt]
		mu.Lock()
		order = append(order, prompt)
		mu.Unlock()
		if n, ok := next[prompt]; ok {
			close(gates[n])
		}
		return "url-" + prompt, nil
	}

	article, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), &recorder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(order, ",") != "third,second,first" {
		t.Fatalf("images resolved in %v", order)
	}
	want := []string{"url-first", "url-second", "url-third"}
	for i := range want {
		if article.ImageURLs[i] != want[i] {
			t.Fatalf("ImageURLs = %v, want %v", article.ImageURLs, want)
		}
	}
}

func statusRank(s models.StepStatus) int {
	switch s {
	case models.StepInProgress:
		return 1
	case models.StepComplete, models.StepError:
		return 2
	default:
		return 0
	}
}

func TestStart_StepInvariants(t *testing.T) {
	env := newTestEnv(t)
	env.backend.prompts = []models.VisualPrompt{{Placeholder: "[X]", Prompt: "x"}}
	env.backend.chunks = []string{"a", "b"}
	rec := &recorder{}

	if _, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.snaps) < 2 {
		t.Fatalf("expected several snapshots, got %d", len(rec.snaps))
	}

	for i, s := range rec.snaps {
		inProgress := 0
		for _, st := range s.Steps {
			if st.Status == models.StepInProgress {
				inProgress++
			}
		}
		final := i == len(rec.snaps)-1
		if !final && inProgress != 1 {
			t.Fatalf("snapshot %d has %d in-progress steps: %v", i, inProgress, statuses(s.Steps))
		}
		if final && inProgress != 0 {
			t.Fatalf("final snapshot still has in-progress steps: %v", statuses(s.Steps))
		}
		if i > 0 {
			prev := rec.snaps[i-1]
			for j := range s.Steps {
				if statusRank(s.Steps[j].Status) < statusRank(prev.Steps[j].Status) {
					t.Fatalf("step %d reverted from %s to %s", j, prev.Steps[j].Status, s.Steps[j].Status)
				}
			}
		}
	}
}

func TestStart_SnapshotsAreIndependentCopies(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chunks = []string{"one", "two"}
	rec := &recorder{}

	if _, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := rec.snaps[0]
	first.Steps[0].Status = models.StepError
	if rec.snaps[1].Steps[0].Status == models.StepError {
		t.Fatal("snapshots share step storage")
	}
}

func TestStart_StreamErrorKeepsPartialArticle(t *testing.T) {
	env := newTestEnv(t)
	env.backend.prompts = []models.VisualPrompt{{Placeholder: "[X]", Prompt: "x"}}
	env.backend.chunks = []string{"Half a "}
	env.backend.streamErr = errors.New("stream reset by peer")
	rec := &recorder{}

	article, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), rec)
	if err == nil {
		t.Fatal("expected failure")
	}
	if article == nil || article.BodyContent != "Half a " {
		t.Fatalf("partial article lost: %+v", article)
	}
	assertStatuses(t, rec.last().Steps,
		models.StepComplete, models.StepComplete, models.StepError, models.StepPending, models.StepPending)
	if env.images.count("x") != 0 {
		t.Fatal("no visuals should be rendered after a stream failure")
	}
}

func TestStart_ResearchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.backend.researchErr = errors.New("invalid api_key")
	rec := &recorder{}

	article, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), rec)
	if err == nil || err.Error() != resilience.MessageAuth {
		t.Fatalf("error = %v", err)
	}
	if article != nil {
		t.Fatal("no article should exist when research fails")
	}
	if env.backend.researchCalls != 1 {
		t.Fatalf("auth failure retried: %d calls", env.backend.researchCalls)
	}
	assertStatuses(t, rec.last().Steps,
		models.StepError, models.StepPending, models.StepPending, models.StepPending, models.StepPending)
}

// ─── Regeneration ───────────────────────────────────────────────────

func TestRegenerate_ReusesResearchAndAssignsNewID(t *testing.T) {
	env := newTestEnv(t)
	env.backend.chunks = []string{"x"}

	first, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), &recorder{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	x, _ := models.LookupPlatform("X (Twitter) Thread")
	rec := &recorder{}
	second, err := env.p.Regenerate(context.Background(), uuid.New(), first, models.RegenerateRequest{Platform: &x}, rec)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	third, err := env.p.Regenerate(context.Background(), uuid.New(), second, models.RegenerateRequest{}, &recorder{})
	if err != nil {
		t.Fatalf("regenerate again: %v", err)
	}

	if env.backend.researchCalls != 1 {
		t.Fatalf("research called %d times, want 1", env.backend.researchCalls)
	}
	if first.ID == second.ID || second.ID == third.ID || first.ID == third.ID {
		t.Fatal("every run must produce a fresh article id")
	}
	if second.Topic != "Tea" || second.PlatformName != "X (Twitter) Thread" {
		t.Fatalf("regenerated article = %q on %q", second.Topic, second.PlatformName)
	}
	if third.PlatformName != "X (Twitter) Thread" {
		t.Fatalf("platform should carry over from the prior article, got %q", third.PlatformName)
	}

	if env.backend.planInputs[0].Regenerate || !env.backend.planInputs[1].Regenerate {
		t.Fatal("layout flag not passed to planning")
	}
	if env.backend.contentInputs[0].Regenerate || !env.backend.contentInputs[1].Regenerate {
		t.Fatal("layout flag not passed to streaming")
	}

	firstSnap := rec.snaps[0]
	if firstSnap.Kind != models.RunKindRegenerate {
		t.Fatalf("kind = %q", firstSnap.Kind)
	}
	if firstSnap.Steps[stepResearch].Status != models.StepComplete || firstSnap.Steps[stepPlan].Status != models.StepInProgress {
		t.Fatalf("research should be skipped straight to planning: %v", statuses(firstSnap.Steps))
	}
}

func TestRegenerate_ResearchesAgainOnCacheMiss(t *testing.T) {
	env := newTestEnv(t)
	prior := &models.Article{
		ID:           uuid.New(),
		Topic:        "Tea",
		PlatformName: "Medium Story",
		ResearchKey:  "research:gone",
	}

	article, err := env.p.Regenerate(context.Background(), uuid.New(), prior, models.RegenerateRequest{}, &recorder{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.backend.researchCalls != 1 {
		t.Fatalf("expected research on a cache miss, got %d calls", env.backend.researchCalls)
	}
	if article.ResearchKey != "research:gone" {
		t.Fatalf("research should be re-cached under the prior key, got %q", article.ResearchKey)
	}
	if _, ok, _ := env.cache.Get(context.Background(), "research:gone"); !ok {
		t.Fatal("research not cached")
	}
}

func TestRegenerate_LengthOverride(t *testing.T) {
	prior := func() *models.Article {
		return &models.Article{
			ID:             uuid.New(),
			Topic:          "Tea",
			PlatformName:   "Medium Story",
			LengthOverride: &models.LengthOverride{Max: 300, Unit: models.LengthUnitWords},
		}
	}
	tests := []struct {
		name string
		req  models.RegenerateRequest
		want *models.LengthOverride
	}{
		{"kept", models.RegenerateRequest{}, &models.LengthOverride{Max: 300, Unit: models.LengthUnitWords}},
		{"replaced", models.RegenerateRequest{LengthOverride: &models.LengthOverride{Min: 50, Unit: models.LengthUnitChars}}, &models.LengthOverride{Min: 50, Unit: models.LengthUnitChars}},
		{"cleared", models.RegenerateRequest{ClearLengthOverride: true}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			article, err := env.p.Regenerate(context.Background(), uuid.New(), prior(), tc.req, &recorder{})
			if err != nil {
				t.Fatalf("regenerate: %v", err)
			}
			got := env.backend.planInputs[0].LengthOverride
			if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
				t.Fatalf("plan length override = %+v, want %+v", got, tc.want)
			}
			if (article.LengthOverride == nil) != (tc.want == nil) {
				t.Fatalf("article length override = %+v, want %+v", article.LengthOverride, tc.want)
			}
		})
	}
}

func TestRegenerate_RequiresPrior(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.p.Regenerate(context.Background(), uuid.New(), nil, models.RegenerateRequest{}, nil); !errors.Is(err, ErrNoPriorArticle) {
		t.Fatalf("expected ErrNoPriorArticle, got %v", err)
	}
}

type countingObserver struct {
	imageFailures atomic.Int32
	runs          map[models.RunStatus]int
	mu            sync.Mutex
}

func (o *countingObserver) StepFinished(string, models.StepStatus, time.Duration) {}
func (o *countingObserver) RunFinished(_ models.RunKind, outcome models.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = map[models.RunStatus]int{}
	}
	o.runs[outcome]++
}
func (o *countingObserver) ImageFailed() { o.imageFailures.Add(1) }

func TestObserverSeesOutcomes(t *testing.T) {
	env := newTestEnv(t)
	obs := &countingObserver{}
	env.p.obs = obs
	env.backend.prompts = []models.VisualPrompt{{Placeholder: "[X]", Prompt: "x"}}
	env.images.fn = func(string) (string, error) { return "", errors.New("unauthorized") }

	if _, err := env.p.Start(context.Background(), uuid.New(), request("Tea"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.imageFailures.Load() != 1 {
		t.Fatalf("image failures = %d", obs.imageFailures.Load())
	}
	if obs.runs[models.RunStatusComplete] != 1 {
		t.Fatalf("runs = %v", obs.runs)
	}
}
