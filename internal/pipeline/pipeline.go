package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kometaai/internal/catalog"
	"kometaai/internal/classifier"
	"kometaai/internal/collections"
	"kometaai/internal/config"
	"kometaai/internal/logging"
	"kometaai/internal/notifications"
	"kometaai/internal/services"
	"kometaai/internal/state"
	"kometaai/internal/tags"
)

// CollectionSource lists the collections a run processes.
type CollectionSource interface {
	Enabled() ([]collections.Collection, error)
}

// Dependencies are the collaborators a run drives.
type Dependencies struct {
	Catalog     catalog.Service
	Classifier  classifier.Classifier
	Collections CollectionSource
	Notifier    notifications.Notifier
	Analyses    classifier.AnalysisRecorder
}

// RunOptions tune a single run.
type RunOptions struct {
	ForceRefresh bool
	DryRun       bool
	ResetState   bool
	Collections  []string
	BatchSize    int
	NextRun      time.Time
}

// Pipeline runs classification and tag reconciliation end to end.
type Pipeline struct {
	cfg      *config.Config
	store    *state.Store
	deps     Dependencies
	logger   *slog.Logger
	version  string
	cancel   *services.Cancellation
	now      func() time.Time
	newRunID func() string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.NewComponentLogger(logger, "pipeline") }
}

func WithVersion(version string) Option {
	return func(p *Pipeline) { p.version = version }
}

// WithCancellation sets the graceful-stop token checked between collections
// and batches.
func WithCancellation(c *services.Cancellation) Option {
	return func(p *Pipeline) { p.cancel = c }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(next func() string) Option {
	return func(p *Pipeline) {
		if next != nil {
			p.newRunID = next
		}
	}
}

// New builds a pipeline over store and deps.
func New(cfg *config.Config, store *state.Store, deps Dependencies, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		store:    store,
		deps:     deps,
		logger:   logging.NewComponentLogger(nil, "pipeline"),
		version:  "dev",
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one pass over every selected collection and returns its
// summary. The summary is populated even when an error is returned, except
// when the run lock could not be taken.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (notifications.Summary, error) {
	lock := newRunLock(p.cfg.Paths.StateDir)
	if err := lock.acquire(); err != nil {
		return notifications.Summary{}, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			logging.WarnWithContext(p.logger, "failed to release run lock", "lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next run may report a held lock until this process exits"),
			)
		}
	}()

	runID := p.newRunID()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, p.logger)
	started := p.now()
	summary := notifications.Summary{
		RunID:   runID,
		Version: p.version,
		Started: started,
		DryRun:  opts.DryRun,
		NextRun: opts.NextRun,
	}

	outcome := p.store.Load()
	logger.Info("run started",
		logging.String("state", string(outcome)),
		logging.Bool("dry_run", opts.DryRun),
		logging.Bool("force_refresh", opts.ForceRefresh),
		logging.String("collections", strings.Join(opts.Collections, ",")),
	)
	if opts.ResetState {
		if err := p.store.Reset(); err != nil {
			return summary, fmt.Errorf("reset state: %w", err)
		}
		logging.WarnWithContext(logger, "decision state reset", "state_reset",
			logging.String(logging.FieldImpact, "every item is reclassified"),
		)
	}

	err := p.execute(ctx, logger, opts, &summary)
	if err != nil {
		var recorded recordedError
		if !errors.As(err, &recorded) {
			p.store.LogError("run", err.Error())
		}
		logging.ErrorWithContext(logger, "run aborted", "run_aborted",
			logging.Error(err),
			logging.String("category", string(services.Categorize(err))),
		)
	}
	if saveErr := p.store.Save(); saveErr != nil {
		logging.ErrorWithContext(logger, "final state save failed", "state_save_failed",
			logging.Error(saveErr),
			logging.String(logging.FieldErrorHint, "check permissions on the state directory"),
		)
		err = errors.Join(err, saveErr)
	}

	summary.Finished = p.now()
	summary.Errors = p.errorsSince(started)
	p.notify(ctx, logger, summary)

	logger.Info("run finished",
		logging.Int("collections", len(summary.Collections)),
		logging.Int("changes", len(summary.Changes)),
		logging.Int("errors", len(summary.Errors)),
		logging.Float64("cost", summary.TotalCost()),
		logging.Duration("duration", summary.Finished.Sub(started)),
		logging.Bool("cancelled", summary.Cancelled),
	)
	return summary, err
}

func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, opts RunOptions, summary *notifications.Summary) error {
	available, err := p.deps.Collections.Enabled()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "pipeline", "collections", "load collection definitions", err)
	}
	selected, err := selectCollections(available, opts.Collections)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		logging.WarnWithContext(logger, "no enabled collections found", "no_collections",
			logging.String(logging.FieldErrorHint, "add a KOMETA-AI block to a collection in the Kometa config directory"),
			logging.String(logging.FieldImpact, "nothing to classify"),
		)
		return nil
	}

	items, err := p.deps.Catalog.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("fetch catalog items: %w", err)
	}
	logger.Info("catalog loaded", logging.Int("items", len(items)), logging.Int("collections", len(selected)))

	manager := tags.NewManager(p.deps.Catalog, p.logger)
	if err := manager.Refresh(ctx); err != nil {
		return fmt.Errorf("load catalog tags: %w", err)
	}

	engine := classifier.NewEngine(p.store, p.deps.Classifier, p.engineOptions(opts)...)
	for _, coll := range selected {
		if p.cancel.Cancelled() {
			summary.Cancelled = true
			logging.WarnWithContext(logger, "cancellation requested; skipping remaining collections", "run_cancelled",
				logging.String(logging.FieldImpact, "remaining collections are processed on the next run"),
			)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, cancelled, err := p.processCollection(ctx, engine, manager, coll, items, opts, summary)
		summary.Collections = append(summary.Collections, stats)
		if err != nil && (services.Categorize(err).IsFatal() || ctx.Err() != nil) {
			return recordedError{err}
		}
		if cancelled {
			summary.Cancelled = true
			break
		}
	}
	return nil
}

func (p *Pipeline) engineOptions(opts RunOptions) []classifier.Option {
	batchSize := p.cfg.Classification.BatchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}
	out := []classifier.Option{
		classifier.WithLogger(p.logger),
		classifier.WithBatchSize(batchSize),
		classifier.WithReprocessMargin(p.cfg.Classification.ReprocessMargin),
		classifier.WithSweepAfterBatch(p.cfg.Classification.SweepAfterBatch),
		classifier.WithCancellation(p.cancel),
		classifier.WithClock(p.now),
	}
	if p.deps.Analyses != nil {
		out = append(out, classifier.WithAnalysisRecorder(p.deps.Analyses))
	}
	return out
}

// processCollection classifies and reconciles one collection. Errors are
// recorded in the store before being returned.
func (p *Pipeline) processCollection(
	ctx context.Context,
	engine *classifier.Engine,
	manager *tags.Manager,
	coll collections.Collection,
	items []catalog.Item,
	opts RunOptions,
	summary *notifications.Summary,
) (notifications.CollectionStats, bool, error) {
	ctx = services.WithCollection(ctx, coll.Name)
	logger := logging.WithContext(ctx, p.logger)
	stats := notifications.CollectionStats{Name: coll.Name}

	candidates := filterByTags(ctx, logger, manager, coll, items)
	result, err := engine.Run(ctx, coll, candidates, classifier.RunOptions{ForceRefresh: opts.ForceRefresh})
	fillStats(&stats, result)
	if err != nil {
		return stats, false, p.recordFailure(logger, &stats, "collection:"+coll.Name, "classification failed", err)
	}
	if result.Stats.Cancelled {
		logging.WarnWithContext(logger, "classification cancelled; tags left unchanged", "reconcile_skipped",
			logging.String(logging.FieldImpact, "membership is reconciled on the next complete run"),
		)
		return stats, true, nil
	}

	if opts.DryRun {
		tagID := -1
		tag, ok, err := manager.Lookup(ctx, coll.Tag())
		if err != nil {
			return stats, false, p.recordFailure(logger, &stats, "collection:"+coll.Name+",tag", "tag lookup failed", err)
		}
		if ok {
			tagID = tag.ID
		}
		toAdd, toRemove := tags.Plan(tagID, result.Included, items)
		stats.Added, stats.Removed = len(toAdd), len(toRemove)
		logger.Info("dry run: membership changes not applied",
			logging.String("tag", coll.Tag()),
			logging.Int("would_add", len(toAdd)),
			logging.Int("would_remove", len(toRemove)),
		)
		return stats, false, nil
	}

	tag, err := manager.CollectionTag(ctx, coll.Name)
	if err != nil {
		return stats, false, p.recordFailure(logger, &stats, "collection:"+coll.Name+",tag", "tag resolution failed", err)
	}
	changes, err := manager.Reconcile(ctx, coll.Name, tag, result.Included, items)
	for _, change := range changes {
		entry := state.ChangeEntry{
			Timestamp:  p.now().UTC().Format(time.RFC3339),
			ItemID:     change.ItemID,
			Title:      change.Title,
			Collection: change.Collection,
			Action:     string(change.Action),
			Tag:        change.Tag,
		}
		p.store.LogChange(entry)
		summary.Changes = append(summary.Changes, entry)
		if change.Action == tags.ActionAdded {
			stats.Added++
		} else {
			stats.Removed++
		}
	}
	if err != nil {
		err = p.recordFailure(logger, &stats, "collection:"+coll.Name+",reconcile", "tag reconciliation failed", err)
	}
	if saveErr := p.store.Save(); saveErr != nil {
		logging.ErrorWithContext(logger, "checkpoint failed", "state_checkpoint_failed", logging.Error(saveErr))
	}
	return stats, false, err
}

func (p *Pipeline) recordFailure(logger *slog.Logger, stats *notifications.CollectionStats, where, msg string, err error) error {
	stats.Error = err.Error()
	p.store.LogError(where, err.Error())
	logging.ErrorWithContext(logger, msg, "collection_failed",
		logging.Error(err),
		logging.String("category", string(services.Categorize(err))),
		logging.String(logging.FieldImpact, "collection skipped for this run"),
	)
	return err
}

// recordedError marks a failure already written to the store's error log.
type recordedError struct{ error }

func (e recordedError) Unwrap() error { return e.error }

func fillStats(stats *notifications.CollectionStats, result classifier.Result) {
	s := result.Stats
	stats.Considered = s.Considered
	stats.Processed = s.Processed
	stats.FromCache = s.FromCache
	stats.Batches = s.Batches
	stats.FailedBatches = s.FailedBatches
	stats.Refined = s.Refined
	stats.Included = len(result.Included)
	stats.Excluded = len(result.Excluded)
	stats.InputTokens = s.Usage.InputTokens
	stats.OutputTokens = s.Usage.OutputTokens
	stats.Cost = s.Usage.Cost
}

// selectCollections narrows available to names. An empty filter keeps all.
func selectCollections(available []collections.Collection, names []string) ([]collections.Collection, error) {
	if len(names) == 0 {
		return available, nil
	}
	seen := make(map[string]bool, len(names))
	var out []collections.Collection
	for _, name := range names {
		coll, ok := collections.Find(available, name)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "select collections",
				fmt.Sprintf("unknown or disabled collection %q", name), nil)
		}
		if seen[coll.Name] {
			continue
		}
		seen[coll.Name] = true
		out = append(out, coll)
	}
	collections.Sort(out)
	return out, nil
}

// filterByTags drops items carrying an exclude tag and, when include tags are
// set, items carrying none of them.
func filterByTags(ctx context.Context, logger *slog.Logger, manager *tags.Manager, coll collections.Collection, items []catalog.Item) []catalog.Item {
	if len(coll.ExcludeTags) == 0 && len(coll.IncludeTags) == 0 {
		return items
	}
	exclude := resolveTags(ctx, logger, manager, coll.ExcludeTags)
	include := resolveTags(ctx, logger, manager, coll.IncludeTags)
	out := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if hasAny(item, exclude) {
			continue
		}
		if len(coll.IncludeTags) > 0 && !hasAny(item, include) {
			continue
		}
		out = append(out, item)
	}
	logger.Debug("tag filters applied",
		logging.Int("items", len(items)),
		logging.Int("eligible", len(out)),
	)
	return out
}

func resolveTags(ctx context.Context, logger *slog.Logger, manager *tags.Manager, labels []string) map[int]bool {
	ids := make(map[int]bool, len(labels))
	for _, label := range labels {
		tag, ok, err := manager.Lookup(ctx, label)
		if err != nil || !ok {
			logging.WarnWithContext(logger, "filter tag not found in catalog", "filter_tag_missing",
				logging.String("tag", label),
				logging.String(logging.FieldImpact, "filter ignores this tag"),
			)
			continue
		}
		ids[tag.ID] = true
	}
	return ids
}

func hasAny(item catalog.Item, ids map[int]bool) bool {
	for _, id := range item.Tags {
		if ids[id] {
			return true
		}
	}
	return false
}

func (p *Pipeline) errorsSince(started time.Time) []state.ErrorEntry {
	cutoff := started.UTC().Truncate(time.Second)
	var out []state.ErrorEntry
	for _, entry := range p.store.Errors() {
		ts, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, summary notifications.Summary) {
	if p.deps.Notifier == nil {
		return
	}
	// The run context may already be cancelled; delivery gets its own budget.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.NotificationTimeout()+5*time.Second)
	defer cancel()
	if err := p.deps.Notifier.Notify(notifyCtx, summary); err != nil {
		logging.WarnWithContext(logger, "summary notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the [notifications] settings"),
			logging.String(logging.FieldImpact, "run summary not delivered"),
		)
	}
}
