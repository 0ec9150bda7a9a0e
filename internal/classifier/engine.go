package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"kometaai/internal/audit"
	"kometaai/internal/catalog"
	"kometaai/internal/collections"
	"kometaai/internal/logging"
	"kometaai/internal/recovery"
	"kometaai/internal/services"
	"kometaai/internal/services/llm"
	"kometaai/internal/state"
)

const (
	DefaultBatchSize       = 150
	DefaultReprocessMargin = 0.15
	minPromptLength        = 50
)

// DecisionStore is the subset of the decision store the engine uses.
type DecisionStore interface {
	Get(itemID int, collection string) (state.Decision, bool)
	Set(d state.Decision)
	Save() error
	LogError(context, message string)
}

// Classifier is the language model gateway.
type Classifier interface {
	ClassifyBatch(ctx context.Context, req llm.BatchRequest) (llm.BatchResult, error)
	RefineOne(ctx context.Context, req llm.RefineRequest) (llm.Refinement, error)
}

// AnalysisRecorder stores refinement rationale out of band.
type AnalysisRecorder interface {
	Record(ctx context.Context, a audit.Analysis) error
}

// RunOptions modify a single Run.
type RunOptions struct {
	// ForceRefresh reclassifies every item regardless of cached decisions.
	ForceRefresh bool
}

// Stats summarizes one collection run.
type Stats struct {
	Considered    int
	Processed     int
	FromCache     int
	Batches       int
	FailedBatches int
	Refined       int
	Undecided     int
	Cancelled     bool
	Usage         llm.UsageStats
}

// Result is the membership verdict for one collection.
type Result struct {
	Collection string
	Included   []int
	Excluded   []int
	Stats      Stats
}

// Engine runs incremental classification.
type Engine struct {
	store           DecisionStore
	classifier      Classifier
	analyses        AnalysisRecorder
	logger          *slog.Logger
	batchSize       int
	reprocessMargin float64
	sweep           bool
	sweepFn         func()
	cancel          *services.Cancellation
	now             func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.NewComponentLogger(logger, "classifier") }
}

// WithBatchSize overrides the number of items per model call.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithReprocessMargin overrides the distance from the threshold inside which
// cached decisions are reclassified.
func WithReprocessMargin(margin float64) Option {
	return func(e *Engine) {
		if margin >= 0 {
			e.reprocessMargin = margin
		}
	}
}

// WithSweepAfterBatch forces a garbage collection after every batch.
func WithSweepAfterBatch(enabled bool) Option {
	return func(e *Engine) { e.sweep = enabled }
}

// WithCancellation sets the token polled between batches.
func WithCancellation(c *services.Cancellation) Option {
	return func(e *Engine) { e.cancel = c }
}

// WithAnalysisRecorder stores refinement rationale.
func WithAnalysisRecorder(r AnalysisRecorder) Option {
	return func(e *Engine) { e.analyses = r }
}

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an engine over store and classifier.
func NewEngine(store DecisionStore, classifier Classifier, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		classifier:      classifier,
		logger:          logging.NewComponentLogger(nil, "classifier"),
		batchSize:       DefaultBatchSize,
		reprocessMargin: DefaultReprocessMargin,
		sweepFn: func() {
			runtime.GC()
			debug.FreeOSMemory()
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run holds the per-collection working set.
type run struct {
	coll     collections.Collection
	tag      string
	items    map[int]catalog.Item
	order    []int
	hashes   map[int]string
	verdicts map[int]bool
	fresh    map[int]recovery.Decision
	stats    Stats
}

// Run classifies items for coll. The returned error is non-nil only when the
// context ends or a fatal failure (authentication, configuration) makes
// further batches pointless; the partial result is still returned.
func (e *Engine) Run(ctx context.Context, coll collections.Collection, items []catalog.Item, opts RunOptions) (Result, error) {
	if !coll.Enabled {
		return Result{Collection: coll.Name, Included: []int{}, Excluded: []int{}}, nil
	}
	ctx = services.WithCollection(ctx, coll.Name)
	logger := logging.WithContext(ctx, e.logger)

	if len(strings.TrimSpace(coll.Prompt)) < minPromptLength {
		logging.WarnWithContext(logger, "collection prompt is short", "collection_prompt_short",
			logging.Int("prompt_length", len(strings.TrimSpace(coll.Prompt))),
			logging.String(logging.FieldErrorHint, "describe the collection criteria in the KOMETA-AI block"),
			logging.String(logging.FieldImpact, "classification may be inaccurate"),
		)
	}

	r := &run{
		coll:     coll,
		tag:      coll.Tag(),
		items:    make(map[int]catalog.Item, len(items)),
		hashes:   make(map[int]string, len(items)),
		verdicts: make(map[int]bool, len(items)),
		fresh:    make(map[int]recovery.Decision),
	}
	var selected []catalog.Item
	for _, item := range items {
		if _, dup := r.items[item.ID]; dup {
			continue
		}
		r.items[item.ID] = item
		r.order = append(r.order, item.ID)
		hash := catalog.ContentHash(item)
		r.hashes[item.ID] = hash

		prior, ok := e.store.Get(item.ID, coll.Name)
		if opts.ForceRefresh || e.needsClassification(prior, ok, hash, coll.ConfidenceThreshold) {
			selected = append(selected, item)
			continue
		}
		r.verdicts[item.ID] = included(prior.Include, prior.Confidence, coll.ConfidenceThreshold)
		r.stats.FromCache++
	}
	r.stats.Considered = len(r.order)

	logger.Info("classification plan",
		logging.Int("items", r.stats.Considered),
		logging.Int("cached", r.stats.FromCache),
		logging.Int("to_classify", len(selected)),
		logging.Bool("force_refresh", opts.ForceRefresh),
	)

	err := e.classifyBatches(ctx, r, selected)
	if err == nil && coll.UseIterativeRefinement && !r.stats.Cancelled {
		err = e.refine(ctx, r)
	}

	result := r.result()
	logger.Info("classification finished",
		logging.Int("included", len(result.Included)),
		logging.Int("excluded", len(result.Excluded)),
		logging.Int("processed", r.stats.Processed),
		logging.Int("batches", r.stats.Batches),
		logging.Int("failed_batches", r.stats.FailedBatches),
		logging.Int("refined", r.stats.Refined),
		logging.Float64("cost", r.stats.Usage.Cost),
	)
	return result, err
}

func (e *Engine) needsClassification(prior state.Decision, ok bool, hash string, threshold float64) bool {
	if !ok {
		return true
	}
	if prior.ContentHash != hash {
		return true
	}
	return math.Abs(prior.Confidence-threshold) < e.reprocessMargin
}

func included(include bool, confidence, threshold float64) bool {
	return include && confidence >= threshold
}

func (e *Engine) classifyBatches(ctx context.Context, r *run, selected []catalog.Item) error {
	total := (len(selected) + e.batchSize - 1) / e.batchSize
	for start, n := 0, 1; start < len(selected); start, n = start+e.batchSize, n+1 {
		if e.cancel.Cancelled() {
			r.stats.Cancelled = true
			logging.WarnWithContext(logging.WithContext(ctx, e.logger), "cancellation requested; stopping before next batch", "classification_cancelled",
				logging.Int("remaining_batches", total-n+1),
				logging.String(logging.FieldImpact, "unprocessed items are classified on the next run"),
			)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+e.batchSize, len(selected))
		batch := selected[start:end]
		batchCtx := services.WithBatch(ctx, n)
		logger := logging.WithContext(batchCtx, e.logger)

		logger.Info("classifying batch", logging.Int("batch_total", total), logging.Int("items", len(batch)))
		res, err := e.classifier.ClassifyBatch(batchCtx, llm.BatchRequest{
			CollectionName: r.coll.Name,
			Criteria:       r.coll.Prompt,
			Threshold:      r.coll.ConfidenceThreshold,
			Items:          catalog.SummarizeAll(batch),
		})
		r.stats.Usage = r.stats.Usage.Add(res.Usage)
		r.stats.Batches++
		if err != nil {
			r.stats.FailedBatches++
			logging.ErrorWithContext(logger, "batch failed", "batch_failed",
				logging.Error(err),
				logging.String("category", string(services.Categorize(err))),
				logging.String(logging.FieldErrorHint, "items in this batch are retried on the next run"),
			)
			e.store.LogError(fmt.Sprintf("collection:%s,batch:%d", r.coll.Name, n), err.Error())
			e.save(logger)
			if services.Categorize(err).IsFatal() {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}

		e.merge(logger, r, batch, res.Decisions)
		e.save(logger)
		if e.sweep {
			e.sweepFn()
		}
	}
	return nil
}

func (e *Engine) merge(logger *slog.Logger, r *run, batch []catalog.Item, decisions []recovery.Decision) {
	inBatch := make(map[int]bool, len(batch))
	for _, item := range batch {
		inBatch[item.ID] = true
	}
	now := e.now()
	answered := make(map[int]bool, len(decisions))
	for _, d := range decisions {
		if !inBatch[d.MovieID] {
			logging.WarnWithContext(logger, "model returned unknown item id", "unknown_item_id",
				logging.Int(logging.FieldItemID, d.MovieID),
				logging.String(logging.FieldImpact, "decision ignored"),
			)
			continue
		}
		verdict := included(d.Include, d.Confidence, r.coll.ConfidenceThreshold)
		if answered[d.MovieID] && r.verdicts[d.MovieID] && !verdict {
			// Duplicate answers resolve in favour of inclusion.
			continue
		}
		if !answered[d.MovieID] {
			r.stats.Processed++
			answered[d.MovieID] = true
		}
		e.store.Set(state.Decision{
			ItemID:      d.MovieID,
			Collection:  r.coll.Name,
			Include:     d.Include,
			Confidence:  d.Confidence,
			ContentHash: r.hashes[d.MovieID],
			Tag:         r.tag,
			Reasoning:   d.Reasoning,
			Timestamp:   now,
		})
		r.fresh[d.MovieID] = d
		r.verdicts[d.MovieID] = verdict
	}
	if missing := len(batch) - len(answered); missing > 0 {
		r.stats.Undecided += missing
		logging.WarnWithContext(logger, "model skipped items in batch", "batch_incomplete",
			logging.Int("missing", missing),
			logging.String(logging.FieldImpact, "skipped items are excluded until the next run"),
		)
	}
}

func (e *Engine) refine(ctx context.Context, r *run) error {
	threshold := r.coll.ConfidenceThreshold
	var candidates []int
	for id, d := range r.fresh {
		if math.Abs(d.Confidence-threshold) < r.coll.RefinementThreshold {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	slices.Sort(candidates)
	logger := logging.WithContext(ctx, e.logger)
	logger.Info("refining borderline decisions", logging.Int("candidates", len(candidates)))

	for _, id := range candidates {
		if e.cancel.Cancelled() {
			r.stats.Cancelled = true
			break
		}
		if err := ctx.Err(); err != nil {
			e.save(logger)
			return err
		}
		prior := r.fresh[id]
		item := r.items[id]
		refined, err := e.classifier.RefineOne(ctx, llm.RefineRequest{
			CollectionName: r.coll.Name,
			Criteria:       r.coll.Prompt,
			Threshold:      threshold,
			Item:           catalog.Summarize(item),
			Prior:          prior,
		})
		r.stats.Usage = r.stats.Usage.Add(refined.Usage)
		if err != nil {
			logging.ErrorWithContext(logger, "refinement failed", "refinement_failed",
				logging.Int(logging.FieldItemID, id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the batch decision is kept"),
			)
			e.store.LogError(fmt.Sprintf("collection:%s,refine:%d", r.coll.Name, id), err.Error())
			if services.Categorize(err).IsFatal() {
				e.save(logger)
				return err
			}
			continue
		}

		reasoning := refined.Reasoning
		if reasoning == "" {
			reasoning = prior.Reasoning
		}
		e.store.Set(state.Decision{
			ItemID:      id,
			Collection:  r.coll.Name,
			Include:     refined.Include,
			Confidence:  refined.Confidence,
			ContentHash: r.hashes[id],
			Tag:         r.tag,
			Reasoning:   reasoning,
			Timestamp:   e.now(),
		})
		r.verdicts[id] = included(refined.Include, refined.Confidence, threshold)
		r.fresh[id] = recovery.Decision{MovieID: id, Title: item.Title, Include: refined.Include, Confidence: refined.Confidence, Reasoning: reasoning}
		r.stats.Refined++
		logger.Debug("decision refined",
			logging.Args(append(logging.DecisionAttrs("refinement", fmt.Sprintf("include=%t", refined.Include), reasoning),
				logging.Int(logging.FieldItemID, id),
				logging.Float64("prior_confidence", prior.Confidence),
				logging.Float64("confidence", refined.Confidence),
			)...)...,
		)

		if e.analyses != nil && refined.DetailedAnalysis != "" {
			runID, _ := services.RunIDFromContext(ctx)
			if err := e.analyses.Record(ctx, audit.Analysis{
				ItemID:           id,
				Collection:       r.coll.Name,
				RunID:            runID,
				Title:            item.Title,
				DetailedAnalysis: refined.DetailedAnalysis,
				Include:          refined.Include,
				Confidence:       refined.Confidence,
				PriorConfidence:  prior.Confidence,
				Reasoning:        reasoning,
			}); err != nil {
				logging.WarnWithContext(logger, "could not store refinement analysis", "analysis_store_failed",
					logging.Int(logging.FieldItemID, id),
					logging.Error(err),
					logging.String(logging.FieldImpact, "detailed analysis unavailable for this decision"),
				)
			}
		}
	}
	e.save(logger)
	return nil
}

func (e *Engine) save(logger *slog.Logger) {
	if err := e.store.Save(); err != nil {
		logging.ErrorWithContext(logger, "checkpoint failed", "state_checkpoint_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next successful save catches up"),
		)
	}
}

func (r *run) result() Result {
	res := Result{Collection: r.coll.Name, Included: []int{}, Excluded: []int{}, Stats: r.stats}
	for _, id := range r.order {
		if r.verdicts[id] {
			res.Included = append(res.Included, id)
		} else {
			res.Excluded = append(res.Excluded, id)
		}
	}
	slices.Sort(res.Included)
	slices.Sort(res.Excluded)
	return res
}
