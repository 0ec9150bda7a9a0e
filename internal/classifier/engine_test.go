package classifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"kometaai/internal/audit"
	"kometaai/internal/catalog"
	"kometaai/internal/collections"
	"kometaai/internal/recovery"
	"kometaai/internal/services"
	"kometaai/internal/services/llm"
	"kometaai/internal/state"
)

type fakeClassifier struct {
	verdicts    map[int]recovery.Decision
	failOn      map[int]error
	extra       []recovery.Decision
	refinements map[int]llm.Refinement
	onCall      func(n int)

	calls       []llm.BatchRequest
	refineCalls []llm.RefineRequest
}

func (f *fakeClassifier) ClassifyBatch(_ context.Context, req llm.BatchRequest) (llm.BatchResult, error) {
	f.calls = append(f.calls, req)
	n := len(f.calls)
	if f.onCall != nil {
		f.onCall(n)
	}
	usage := llm.UsageStats{InputTokens: 100, OutputTokens: 10, Cost: 0.01, Requests: 1}
	if err := f.failOn[n]; err != nil {
		return llm.BatchResult{Usage: usage}, err
	}
	var decisions []recovery.Decision
	for _, item := range req.Items {
		if d, ok := f.verdicts[item.MovieID]; ok {
			d.MovieID = item.MovieID
			decisions = append(decisions, d)
		}
	}
	decisions = append(decisions, f.extra...)
	return llm.BatchResult{CollectionName: req.CollectionName, Decisions: decisions, Usage: usage}, nil
}

func (f *fakeClassifier) RefineOne(_ context.Context, req llm.RefineRequest) (llm.Refinement, error) {
	f.refineCalls = append(f.refineCalls, req)
	r, ok := f.refinements[req.Item.MovieID]
	if !ok {
		return llm.Refinement{}, errors.New("no refinement scripted")
	}
	r.Usage = llm.UsageStats{Requests: 1}
	return r, nil
}

func (f *fakeClassifier) itemsSent() []int {
	var ids []int
	for _, call := range f.calls {
		for _, item := range call.Items {
			ids = append(ids, item.MovieID)
		}
	}
	slices.Sort(ids)
	return ids
}

type recordingAnalyses struct {
	records []audit.Analysis
}

func (r *recordingAnalyses) Record(_ context.Context, a audit.Analysis) error {
	r.records = append(r.records, a)
	return nil
}

type countingStore struct {
	*state.Store
	saves int
}

func (c *countingStore) Save() error {
	c.saves++
	return c.Store.Save()
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	store := state.New(t.TempDir(), nil)
	store.Load()
	return store
}

func testCollection() collections.Collection {
	return collections.Collection{
		Name:                "Christmas",
		Slug:                "christmas",
		Enabled:             true,
		Prompt:              "Movies where Christmas is central to the plot, setting or themes.",
		ConfidenceThreshold: 0.7,
		RefinementThreshold: 0.15,
	}
}

func testItems(n int) []catalog.Item {
	items := make([]catalog.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, catalog.Item{
			ID:       i,
			Title:    fmt.Sprintf("Movie %d", i),
			Year:     2000 + i,
			Overview: fmt.Sprintf("Overview %d", i),
			Genres:   []string{"Drama"},
		})
	}
	return items
}

func confident(include bool) recovery.Decision {
	if include {
		return recovery.Decision{Include: true, Confidence: 0.95}
	}
	return recovery.Decision{Include: false, Confidence: 0.05}
}

func TestRunIsIdempotent(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{verdicts: map[int]recovery.Decision{
		1: confident(true), 2: confident(false), 3: confident(true),
	}}
	engine := NewEngine(store, fake)
	items := testItems(3)

	first, err := engine.Run(context.Background(), testCollection(), items, RunOptions{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("first run made %d calls, want 1", len(fake.calls))
	}
	if first.Stats.Processed != 3 || first.Stats.FromCache != 0 {
		t.Fatalf("unexpected first stats %+v", first.Stats)
	}

	second, err := engine.Run(context.Background(), testCollection(), items, RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("second run made model calls: %d total", len(fake.calls))
	}
	if !slices.Equal(first.Included, second.Included) || !slices.Equal(first.Excluded, second.Excluded) {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
	if !slices.Equal(second.Included, []int{1, 3}) || !slices.Equal(second.Excluded, []int{2}) {
		t.Fatalf("unexpected membership %+v", second)
	}
	if second.Stats.FromCache != 3 || second.Stats.Batches != 0 {
		t.Fatalf("unexpected second stats %+v", second.Stats)
	}
}

func TestRunReclassifiesOnlyChangedItems(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{verdicts: map[int]recovery.Decision{
		1: confident(true), 2: confident(false), 3: confident(true),
	}}
	engine := NewEngine(store, fake)
	items := testItems(3)
	if _, err := engine.Run(context.Background(), testCollection(), items, RunOptions{}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	fake.calls = nil

	items[0].Tags = []int{42}
	items[0].TMDBID = 999
	if _, err := engine.Run(context.Background(), testCollection(), items, RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatal("irrelevant field change triggered reclassification")
	}

	items[1].Overview = "A completely different plot set on Christmas Eve"
	if _, err := engine.Run(context.Background(), testCollection(), items, RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := fake.itemsSent(); !slices.Equal(got, []int{2}) {
		t.Fatalf("reclassified %v, want [2]", got)
	}
}

func TestThresholdScenario(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{verdicts: map[int]recovery.Decision{
		1: {Include: true, Confidence: 0.82},
		2: {Include: true, Confidence: 0.65},
	}}
	engine := NewEngine(store, fake, WithReprocessMargin(0.04))
	items := testItems(2)

	first, err := engine.Run(context.Background(), testCollection(), items, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(first.Included, []int{1}) || !slices.Equal(first.Excluded, []int{2}) {
		t.Fatalf("unexpected membership %+v", first)
	}

	fake.calls = nil
	second, err := engine.Run(context.Background(), testCollection(), items, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.calls) != 0 || second.Stats.FromCache != 2 {
		t.Fatalf("expected cache hits, got %d calls and stats %+v", len(fake.calls), second.Stats)
	}
	if !slices.Equal(second.Excluded, []int{2}) {
		t.Fatalf("cached low-confidence item must stay excluded: %+v", second)
	}
}

func TestBorderlineCachedDecisionsAreReclassified(t *testing.T) {
	store := newStore(t)
	items := testItems(2)
	store.Set(state.Decision{ItemID: 1, Collection: "Christmas", Include: true, Confidence: 0.75, ContentHash: catalog.ContentHash(items[0])})
	store.Set(state.Decision{ItemID: 2, Collection: "Christmas", Include: true, Confidence: 0.95, ContentHash: catalog.ContentHash(items[1])})

	fake := &fakeClassifier{verdicts: map[int]recovery.Decision{1: confident(false)}}
	result, err := NewEngine(store, fake).Run(context.Background(), testCollection(), items, RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fake.itemsSent(); !slices.Equal(got, []int{1}) {
		t.Fatalf("reclassified %v, want [1]", got)
	}
	if !slices.Equal(result.Included, []int{2}) || !slices.Equal(result.Excluded, []int{1}) {
		t.Fatalf("unexpected membership %+v", result)
	}
}

func TestInclusionRequiresIncludeAndThreshold(t *testing.T) {
	store := newStore(t)
	verdicts := map[int]recovery.Decision{
		1: {Include: true, Confidence: 0.7},
		2: {Include: true, Confidence: 0.69},
		3: {Include: false, Confidence: 0.99},
		4: {Include: false, Confidence: 0.1},
		5: {Include: true, Confidence: 1},
	}
	fake := &fakeClassifier{verdicts: verdicts}
	result, err := NewEngine(store, fake).Run(context.Background(), testCollection(), testItems(5), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for id, d := range verdicts {
		want := d.Include && d.Confidence >= 0.7
		got := slices.Contains(result.Included, id)
		if got != want {
			t.Fatalf("item %d included=%v, want %v", id, got, want)
		}
		if got == slices.Contains(result.Excluded, id) {
			t.Fatalf("item %d must be in exactly one set", id)
		}
	}
}

func TestBatchFailureIsLoggedAndSkipped(t *testing.T) {
	store := &countingStore{Store: newStore(t)}
	verdicts := map[int]recovery.Decision{}
	for i := 1; i <= 5; i++ {
		verdicts[i] = confident(true)
	}
	fake := &fakeClassifier{
		verdicts: verdicts,
		failOn:   map[int]error{2: services.Wrap(services.ErrTransient, "llm", "complete", "http 503", nil)},
	}
	engine := NewEngine(store, fake, WithBatchSize(2))
	result, err := engine.Run(context.Background(), testCollection(), testItems(5), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.calls) != 3 || result.Stats.Batches != 3 || result.Stats.FailedBatches != 1 {
		t.Fatalf("unexpected calls=%d stats=%+v", len(fake.calls), result.Stats)
	}
	if !slices.Equal(result.Included, []int{1, 2, 5}) || !slices.Equal(result.Excluded, []int{3, 4}) {
		t.Fatalf("unexpected membership %+v", result)
	}
	errs := store.Errors()
	if len(errs) != 1 || errs[0].Context != "collection:Christmas,batch:2" {
		t.Fatalf("unexpected error log %+v", errs)
	}
	if store.saves != 3 {
		t.Fatalf("store saved %d times, want once per batch", store.saves)
	}
	if result.Stats.Usage.Requests != 3 {
		t.Fatalf("usage = %+v, want 3 requests", result.Stats.Usage)
	}
	if _, ok := store.Get(3, "Christmas"); ok {
		t.Fatal("failed batch items must keep no decision")
	}
}

func TestFatalBatchFailureStopsCollection(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{
		verdicts: map[int]recovery.Decision{1: confident(true)},
		failOn:   map[int]error{1: services.Wrap(services.ErrCritical, "llm", "complete", "authentication failed", nil)},
	}
	_, err := NewEngine(store, fake, WithBatchSize(1)).Run(context.Background(), testCollection(), testItems(3), RunOptions{})
	if !errors.Is(err, services.ErrCritical) {
		t.Fatalf("expected critical error, got %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(fake.calls))
	}
}

type policyBlockingProvider struct {
	calls int
}

func (p *policyBlockingProvider) Name() string { return "blocking" }

func (p *policyBlockingProvider) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	p.calls++
	if p.calls == 1 {
		return llm.Completion{}, &llm.StatusError{Provider: "blocking", StatusCode: 400, Body: "Output blocked by content policy"}
	}
	return llm.Completion{
		Text:         `{"collection_name":"Christmas","decisions":[{"movie_id":2,"include":true,"confidence":0.9}]}`,
		InputTokens:  100,
		OutputTokens: 10,
	}, nil
}

func TestContentPolicyRejectionSkipsOnlyThatBatch(t *testing.T) {
	store := newStore(t)
	provider := &policyBlockingProvider{}
	gateway := llm.New(provider, llm.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	result, err := NewEngine(store, gateway, WithBatchSize(1)).Run(context.Background(), testCollection(), testItems(2), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.calls)
	}
	if result.Stats.Batches != 2 || result.Stats.FailedBatches != 1 {
		t.Fatalf("unexpected stats %+v", result.Stats)
	}
	if !slices.Equal(result.Included, []int{2}) {
		t.Fatalf("included = %v, want [2]", result.Included)
	}
	errs := store.Errors()
	if len(errs) != 1 || errs[0].Context != "collection:Christmas,batch:1" {
		t.Fatalf("unexpected error log %+v", errs)
	}
}

func TestDisabledCollectionHasNoSideEffects(t *testing.T) {
	store := &countingStore{Store: newStore(t)}
	fake := &fakeClassifier{}
	coll := testCollection()
	coll.Enabled = false
	result, err := NewEngine(store, fake).Run(context.Background(), coll, testItems(3), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Included)+len(result.Excluded) != 0 || len(fake.calls) != 0 || store.saves != 0 {
		t.Fatalf("disabled collection had effects: %+v calls=%d saves=%d", result, len(fake.calls), store.saves)
	}
}

func TestForceRefreshReclassifiesEverything(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{verdicts: map[int]recovery.Decision{1: confident(true), 2: confident(false)}}
	engine := NewEngine(store, fake)
	items := testItems(2)
	if _, err := engine.Run(context.Background(), testCollection(), items, RunOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fake.calls = nil
	result, err := engine.Run(context.Background(), testCollection(), items, RunOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fake.itemsSent(); !slices.Equal(got, []int{1, 2}) || result.Stats.FromCache != 0 {
		t.Fatalf("force refresh sent %v, stats %+v", got, result.Stats)
	}
}

func TestCancellationStopsBetweenBatches(t *testing.T) {
	store := newStore(t)
	cancel := services.NewCancellation()
	verdicts := map[int]recovery.Decision{}
	for i := 1; i <= 6; i++ {
		verdicts[i] = confident(true)
	}
	fake := &fakeClassifier{verdicts: verdicts, onCall: func(n int) {
		if n == 1 {
			cancel.Cancel()
		}
	}}
	result, err := NewEngine(store, fake, WithBatchSize(2), WithCancellation(cancel)).
		Run(context.Background(), testCollection(), testItems(6), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.calls) != 1 || !result.Stats.Cancelled {
		t.Fatalf("expected one batch then stop, got %d calls stats %+v", len(fake.calls), result.Stats)
	}
	if !slices.Equal(result.Included, []int{1, 2}) {
		t.Fatalf("in-flight batch should complete: %+v", result)
	}
}

func TestDuplicateDecisionsFavourInclusion(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{
		verdicts: map[int]recovery.Decision{1: {Include: true, Confidence: 0.9}},
		extra: []recovery.Decision{
			{MovieID: 1, Include: false, Confidence: 0.1},
			{MovieID: 77, Include: true, Confidence: 0.99},
		},
	}
	result, err := NewEngine(store, fake).Run(context.Background(), testCollection(), testItems(1), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(result.Included, []int{1}) {
		t.Fatalf("duplicate should resolve to inclusion: %+v", result)
	}
	d, _ := store.Get(1, "Christmas")
	if !d.Include || d.Confidence != 0.9 {
		t.Fatalf("stored decision %+v should be the inclusive one", d)
	}
	if _, ok := store.Get(77, "Christmas"); ok {
		t.Fatal("unknown item id must be ignored")
	}
	if result.Stats.Processed != 1 {
		t.Fatalf("processed = %d, want 1", result.Stats.Processed)
	}
}

func TestRefinementOverridesBorderlineDecisions(t *testing.T) {
	store := newStore(t)
	analyses := &recordingAnalyses{}
	fake := &fakeClassifier{
		verdicts: map[int]recovery.Decision{
			1: {Include: true, Confidence: 0.72, Reasoning: "maybe"},
			2: confident(true),
		},
		refinements: map[int]llm.Refinement{
			1: {Include: false, Confidence: 0.4, Reasoning: "only one scene", DetailedAnalysis: "The holiday is incidental."},
		},
	}
	coll := testCollection()
	coll.UseIterativeRefinement = true
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	engine := NewEngine(store, fake, WithAnalysisRecorder(analyses), WithClock(func() time.Time { return now }))

	ctx := services.WithRunID(context.Background(), "run-42")
	result, err := engine.Run(ctx, coll, testItems(2), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.refineCalls) != 1 || fake.refineCalls[0].Item.MovieID != 1 {
		t.Fatalf("unexpected refinement calls %+v", fake.refineCalls)
	}
	if fake.refineCalls[0].Prior.Confidence != 0.72 {
		t.Fatalf("prior decision not passed: %+v", fake.refineCalls[0].Prior)
	}
	if !slices.Equal(result.Included, []int{2}) || !slices.Equal(result.Excluded, []int{1}) {
		t.Fatalf("unexpected membership %+v", result)
	}
	d, _ := store.Get(1, "Christmas")
	if d.Include || d.Confidence != 0.4 || d.Reasoning != "only one scene" {
		t.Fatalf("refined decision not stored: %+v", d)
	}
	if len(analyses.records) != 1 {
		t.Fatalf("expected one analysis record, got %d", len(analyses.records))
	}
	rec := analyses.records[0]
	if rec.DetailedAnalysis != "The holiday is incidental." || rec.RunID != "run-42" || rec.PriorConfidence != 0.72 {
		t.Fatalf("unexpected analysis %+v", rec)
	}
	if result.Stats.Refined != 1 || result.Stats.Usage.Requests != 2 {
		t.Fatalf("unexpected stats %+v", result.Stats)
	}
}

func TestRefinementFailureKeepsBatchDecision(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{verdicts: map[int]recovery.Decision{1: {Include: true, Confidence: 0.75}}}
	coll := testCollection()
	coll.UseIterativeRefinement = true
	result, err := NewEngine(store, fake).Run(context.Background(), coll, testItems(1), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(result.Included, []int{1}) {
		t.Fatalf("batch decision should stand: %+v", result)
	}
	errs := store.Errors()
	if len(errs) != 1 || errs[0].Context != "collection:Christmas,refine:1" {
		t.Fatalf("unexpected error log %+v", errs)
	}
}

func TestSweepRunsAfterEachBatch(t *testing.T) {
	store := newStore(t)
	fake := &fakeClassifier{verdicts: map[int]recovery.Decision{}}
	engine := NewEngine(store, fake, WithBatchSize(1), WithSweepAfterBatch(true))
	sweeps := 0
	engine.sweepFn = func() { sweeps++ }
	if _, err := engine.Run(context.Background(), testCollection(), testItems(3), RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeps != 3 {
		t.Fatalf("sweeps = %d, want 3", sweeps)
	}
}
