package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

type embedderFake struct {
	calls int
	err   error
}

func (f *embedderFake) Embed(_ context.Context, _ string) (domain.QueryVectors, error) {
	f.calls++
	if f.err != nil {
		return domain.QueryVectors{}, f.err
	}
	return domain.QueryVectors{Dense: []float32{0.1, 0.2}}, nil
}

type vectorStoreFake struct {
	mu         sync.Mutex
	calls      int
	lastK      int
	lastFilter domain.FileFilter
	candidates []domain.Candidate
	err        error
}

func (f *vectorStoreFake) Retrieve(_ context.Context, _ domain.QueryVectors, k int, filter domain.FileFilter) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastK = k
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type generatorFake struct {
	needs      bool
	needsErr   error
	needsCalls int
	chunks     []string
	failAfter  int
	genErr     error
	lastReq    domain.GenerationRequest
	genCalls   int
}

func (f *generatorFake) NeedsRetrieval(context.Context, string) (bool, error) {
	f.needsCalls++
	return f.needs, f.needsErr
}

func (f *generatorFake) Generate(ctx context.Context, req domain.GenerationRequest, sink ports.TokenSink) error {
	f.genCalls++
	f.lastReq = req
	chunks := f.chunks
	if len(chunks) == 0 {
		chunks = []string{"ok"}
	}
	for i, chunk := range chunks {
		if f.genErr != nil && i == f.failAfter {
			return f.genErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink(chunk); err != nil {
			return err
		}
	}
	return nil
}

// retryFake retries ErrTemporary failures up to attempts times without sleeping.
type retryFake struct {
	attempts int
	calls    map[string]int
}

func (r *retryFake) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	var err error
	for i := 0; i < r.attempts; i++ {
		r.calls[operation]++
		err = fn(ctx)
		if err == nil || !domain.IsKind(err, domain.ErrTemporary) {
			return err
		}
	}
	return err
}

type observerFake struct {
	decisions []domain.RoutingDecision
	degraded  int
}

func (o *observerFake) ObserveRouting(_ domain.IntentLabel, decision domain.RoutingDecision, degraded bool) {
	o.decisions = append(o.decisions, decision)
	if degraded {
		o.degraded++
	}
}

func (o *observerFake) ObserveStage(string, string, float64) {}

type routingFixture struct {
	embedder  *embedderFake
	store     *vectorStoreFake
	generator *generatorFake
	retrier   *retryFake
	observer  *observerFake
	cfg       RoutingConfig
}

func newRoutingFixture() *routingFixture {
	return &routingFixture{
		embedder: &embedderFake{},
		store: &vectorStoreFake{candidates: []domain.Candidate{
			{ID: "id1", File: "fileA", Score: 0.9, Excerpt: "alpha"},
			{ID: "id2", File: "fileB", Score: 0.85, Excerpt: "beta"},
			{ID: "id3", File: "fileA", Score: 0.8, Excerpt: "gamma"},
			{ID: "id4", File: "fileC", Score: 0.75, Excerpt: "delta"},
		}},
		generator: &generatorFake{needs: true},
		retrier:   &retryFake{attempts: 3},
		observer:  &observerFake{},
		cfg:       RoutingConfig{LocalRoutingEnabled: true, RoutingDecisionTimeout: time.Second},
	}
}

func (f *routingFixture) useCase() *QueryUseCase {
	router := NewRoutingStateMachine(NewIntentClassifier(DefaultPhraseTable(), f.cfg.LocalRoutingEnabled), f.generator, f.cfg, f.observer)
	return NewQueryUseCase(f.embedder, f.store, f.generator, f.retrier, defaultPlanner(), router, QueryConfig{
		MetricsMaxFileList: 2,
		StyleMaxWords:      map[domain.Style]int{domain.StyleMinimal: 60, domain.StyleConcise: 150, domain.StyleDetailed: 400},
		EmbeddingTimeout:   time.Second,
		RetrievalTimeout:   time.Second,
		GenerationTimeout:  time.Second,
	})
}

func query(text string) domain.Query {
	return domain.Query{Text: text, RequestedTopK: 5, UseFunctionCalling: true}
}

func TestGreetingShortCircuitsRetrieval(t *testing.T) {
	f := newRoutingFixture()
	answer, err := f.useCase().Answer(context.Background(), query("Hello"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Metrics.RoutingDecision != domain.DecisionDirectAnswer {
		t.Fatalf("expected direct answer, got %s", answer.Metrics.RoutingDecision)
	}
	if answer.Metrics.Intent != domain.IntentGreeting {
		t.Fatalf("expected greeting intent, got %s", answer.Metrics.Intent)
	}
	if f.store.calls != 0 || f.embedder.calls != 0 {
		t.Fatalf("expected no retrieval, got store=%d embed=%d", f.store.calls, f.embedder.calls)
	}
	if f.generator.needsCalls != 0 {
		t.Fatalf("expected no model routing decision for greeting")
	}
	if len(f.generator.lastReq.Context) != 0 {
		t.Fatalf("expected empty generation context")
	}
	if len(answer.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(answer.Sources))
	}
}

func TestRetrievalFailureDegradesToDirectAnswer(t *testing.T) {
	f := newRoutingFixture()
	f.store.err = domain.WrapError(domain.ErrTemporary, "qdrant.query", errors.New("connection refused"))

	answer, err := f.useCase().Answer(context.Background(), query("What is the refund window?"))
	if err != nil {
		t.Fatalf("expected degraded answer, got error %v", err)
	}
	if answer.Metrics.RoutingDecision != domain.DecisionDirectAnswer {
		t.Fatalf("expected direct answer, got %s", answer.Metrics.RoutingDecision)
	}
	if !answer.Metrics.RetrievalDegraded {
		t.Fatalf("expected degraded flag")
	}
	if len(answer.Metrics.Warnings) != 1 || answer.Metrics.Warnings[0] != domain.WarningRetrievalDegraded {
		t.Fatalf("expected retrieval warning, got %v", answer.Metrics.Warnings)
	}
	if f.store.calls != 3 {
		t.Fatalf("expected 3 retrieval attempts, got %d", f.store.calls)
	}
	if f.generator.genCalls != 1 || len(f.generator.lastReq.Context) != 0 {
		t.Fatalf("expected one context-free generation call")
	}
	if f.observer.degraded != 1 {
		t.Fatalf("expected degraded routing to be observed")
	}
}

func TestSummaryQueryDiversifiesContext(t *testing.T) {
	f := newRoutingFixture()
	q := query("Give me an overview")
	q.SelectedFiles = []string{"fileA", "fileB", "fileC"}

	answer, err := f.useCase().Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if f.store.lastK != 30 {
		t.Fatalf("expected prefetch 30, got %d", f.store.lastK)
	}
	if len(f.store.lastFilter.Files) != 3 {
		t.Fatalf("expected file filter passed through, got %v", f.store.lastFilter.Files)
	}
	m := answer.Metrics
	if m.Intent != domain.IntentSummary || !m.Diversified || m.EffectiveTopK != 15 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.RoutingDecision != domain.DecisionRetrieveThenAnswer {
		t.Fatalf("expected retrieve_then_answer, got %s", m.RoutingDecision)
	}
	gotFiles := []string{}
	for _, s := range answer.Sources {
		gotFiles = append(gotFiles, s.File)
	}
	if strings.Join(gotFiles, ",") != "fileA,fileB,fileC,fileA" {
		t.Fatalf("unexpected source order %v", gotFiles)
	}
	if m.DistinctFilesRepresented != 3 {
		t.Fatalf("expected 3 distinct files, got %d", m.DistinctFilesRepresented)
	}
	if len(m.Files) != 2 {
		t.Fatalf("expected file list capped at 2, got %v", m.Files)
	}
	if m.Evaluation == nil || m.Evaluation.NumSourcesUsed != 4 {
		t.Fatalf("expected evaluation metrics for 4 sources, got %+v", m.Evaluation)
	}
	if f.generator.lastReq.MaxWords != 150 {
		t.Fatalf("expected concise word budget, got %d", f.generator.lastReq.MaxWords)
	}
}

func TestModelDecisionCanSkipRetrieval(t *testing.T) {
	f := newRoutingFixture()
	f.generator.needs = false

	answer, err := f.useCase().Answer(context.Background(), query("What is 2 + 2?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Metrics.RoutingDecision != domain.DecisionDirectAnswer {
		t.Fatalf("expected direct answer, got %s", answer.Metrics.RoutingDecision)
	}
	if f.generator.needsCalls != 1 || f.store.calls != 0 {
		t.Fatalf("expected one routing call and no retrieval, got %d/%d", f.generator.needsCalls, f.store.calls)
	}
}

func TestModelDecisionFailureFallsBackToRetrieval(t *testing.T) {
	f := newRoutingFixture()
	f.generator.needsErr = errors.New("model offline")

	answer, err := f.useCase().Answer(context.Background(), query("What is the refund window?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Metrics.RoutingDecision != domain.DecisionRetrieveThenAnswer {
		t.Fatalf("expected retrieve_then_answer, got %s", answer.Metrics.RoutingDecision)
	}
	if len(answer.Metrics.Warnings) != 1 || answer.Metrics.Warnings[0] != domain.WarningRoutingDecisionFailed {
		t.Fatalf("expected routing warning, got %v", answer.Metrics.Warnings)
	}
}

func TestEagerRetrievalBypassesModelDecision(t *testing.T) {
	f := newRoutingFixture()
	f.cfg.EagerRetrieval = true
	f.generator.needs = false

	answer, err := f.useCase().Answer(context.Background(), query("What is the refund window?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if f.generator.needsCalls != 0 {
		t.Fatalf("expected model decision to be skipped")
	}
	if answer.Metrics.RoutingDecision != domain.DecisionRetrieveThenAnswer {
		t.Fatalf("expected retrieval, got %s", answer.Metrics.RoutingDecision)
	}
}

func TestNoFunctionCallingRetrievesEagerly(t *testing.T) {
	f := newRoutingFixture()
	f.generator.needs = false
	q := query("What is the refund window?")
	q.UseFunctionCalling = false

	if _, err := f.useCase().Answer(context.Background(), q); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if f.generator.needsCalls != 0 || f.store.calls != 1 {
		t.Fatalf("expected eager retrieval, got needs=%d store=%d", f.generator.needsCalls, f.store.calls)
	}
}

func TestRoutingTrailWithoutLocalRouting(t *testing.T) {
	f := newRoutingFixture()
	f.cfg.LocalRoutingEnabled = false
	router := NewRoutingStateMachine(NewIntentClassifier(nil, false), f.generator, f.cfg, nil)

	outcome, err := router.Run(context.Background(), query("Hello"),
		func(context.Context, domain.Query, domain.IntentLabel) (RetrievalResult, error) {
			return RetrievalResult{}, nil
		},
		func(context.Context, domain.RoutingDecision, []domain.Candidate) error { return nil },
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []RoutingState{StateInit, StateModelDecision, StateRetrieving, StateAnswering, StateDone}
	if len(outcome.Trail) != len(want) {
		t.Fatalf("expected trail %v, got %v", want, outcome.Trail)
	}
	for i := range want {
		if outcome.Trail[i] != want[i] {
			t.Fatalf("expected trail %v, got %v", want, outcome.Trail)
		}
	}
}

func TestEmbeddingFailureFailsQuery(t *testing.T) {
	f := newRoutingFixture()
	f.embedder.err = domain.WrapError(domain.ErrTemporary, "ollama.embed", errors.New("503"))

	_, err := f.useCase().Answer(context.Background(), query("What is the refund window?"))
	if !domain.IsKind(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if f.embedder.calls != 3 {
		t.Fatalf("expected 3 embedding attempts, got %d", f.embedder.calls)
	}
	if f.store.calls != 0 || f.generator.genCalls != 0 {
		t.Fatalf("expected no retrieval or generation after embedding failure")
	}
}

func TestGenerationFailurePreservesPartialOutput(t *testing.T) {
	f := newRoutingFixture()
	f.generator.chunks = []string{"The refund ", "window is ", "30 days."}
	f.generator.failAfter = 2
	f.generator.genErr = errors.New("stream reset")

	var streamed []string
	answer, err := f.useCase().Stream(context.Background(), query("What is the refund window?"), func(chunk string) error {
		streamed = append(streamed, chunk)
		return nil
	})
	if !domain.IsKind(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if answer == nil {
		t.Fatalf("expected partial answer")
	}
	if answer.Text != "The refund window is "+GenerationErrorMarker {
		t.Fatalf("unexpected partial text %q", answer.Text)
	}
	if len(streamed) != 2 {
		t.Fatalf("expected 2 streamed chunks, got %d", len(streamed))
	}
	if f.generator.genCalls != 1 {
		t.Fatalf("generation must not be retried, got %d calls", f.generator.genCalls)
	}
}

func TestCancelledQueryStopsGeneration(t *testing.T) {
	f := newRoutingFixture()
	f.generator.chunks = []string{"one ", "two ", "three"}

	ctx, cancel := context.WithCancel(context.Background())
	var streamed int
	_, err := f.useCase().Stream(ctx, query("What is the refund window?"), func(string) error {
		streamed++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if streamed != 1 {
		t.Fatalf("expected generation to stop after cancellation, streamed %d", streamed)
	}
}

func TestInvalidQueryRejected(t *testing.T) {
	f := newRoutingFixture()
	for _, q := range []domain.Query{
		{Text: "", RequestedTopK: 5},
		{Text: "q", RequestedTopK: 0},
		{Text: "q", RequestedTopK: 5, Style: "verbose"},
	} {
		_, err := f.useCase().Answer(context.Background(), q)
		if !domain.IsKind(err, domain.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", q, err)
		}
	}
	if f.store.calls != 0 || f.generator.genCalls != 0 {
		t.Fatalf("expected no collaborator calls for invalid input")
	}
}
