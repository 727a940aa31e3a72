package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/logging"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
)

// DefaultInterval is the pause between two reconciliation cycles.
const DefaultInterval = time.Hour

// ErrNoCycle is returned by LastCycle before any cycle has finished.
var ErrNoCycle = errors.New("no reconciliation cycle has run yet")

// PlantLister returns the current status of every tracked plant.
type PlantLister interface {
	ListPlants(ctx context.Context) ([]plant.Plant, error)
}

// StatusPatcher applies a status change to a plant.
type StatusPatcher interface {
	PatchStatus(ctx context.Context, plantID int64, status plant.Label) error
}

// Notifier announces applied status changes.
type Notifier interface {
	PublishStatusChange(ctx context.Context, event plant.StatusChanged) error
}

// CycleObserver is told about every finished cycle.
type CycleObserver interface {
	ObserveCycle(report *CycleReport)
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// WithCache stores every cycle report in cache.
func WithCache(cache Cache) Option {
	return func(r *Reconciler) { r.cache = cache }
}

// WithNotifier publishes an event for every applied status change.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithObserver registers a cycle observer.
func WithObserver(o CycleObserver) Option {
	return func(r *Reconciler) { r.observers = append(r.observers, o) }
}

// Reconciler periodically classifies every plant and patches mismatching statuses.
// Plants are processed one at a time; a failing plant never stops the cycle.
type Reconciler struct {
	lister    PlantLister
	patcher   StatusPatcher
	evaluator *Evaluator
	cache     Cache
	notifier  Notifier
	observers []CycleObserver
	logger    *zap.Logger
	interval  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() string

	mu   sync.RWMutex
	last *CycleReport
}

// NewReconciler constructs a reconciler.
func NewReconciler(lister PlantLister, patcher StatusPatcher, evaluator *Evaluator, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		lister:    lister,
		patcher:   patcher,
		evaluator: evaluator,
		logger:    logger.Named("reconciler"),
		interval:  DefaultInterval,
		sleep:     sleepContext,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cycles separated by the fixed interval. cycles <= 0 runs until ctx
// is cancelled. Cancellation is only observed between cycles: a started cycle
// always completes its plant list.
func (r *Reconciler) Run(ctx context.Context, cycles int) error {
	for n := 0; cycles <= 0 || n < cycles; n++ {
		if n > 0 {
			if err := r.sleep(ctx, r.interval); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.RunCycle(context.WithoutCancel(ctx))
	}
	return nil
}

// RunCycle lists plants once and reconciles each of them in order. A failed
// listing skips the whole cycle.
func (r *Reconciler) RunCycle(ctx context.Context) *CycleReport {
	report := &CycleReport{
		CycleID:   r.newID(),
		StartedAt: r.now(),
		Decisions: []plant.UpdateDecision{},
	}
	cycleLogger := logging.WithOperation(r.logger, "reconciler.cycle", report.CycleID)

	plants, err := r.lister.ListPlants(ctx)
	if err != nil {
		wrapped := logging.NewOperationError("plantapi.list_plants", report.CycleID, 0, err)
		cycleLogger.Error("plant listing failed, skipping cycle", zap.Error(wrapped))
		report.ListError = wrapped.Error()
		r.finish(ctx, cycleLogger, report)
		return report
	}
	report.Listed = len(plants)
	cycleLogger.Info("reconciliation cycle started", zap.Int("plants", len(plants)))

	for _, p := range plants {
		r.reconcilePlant(ctx, cycleLogger, report, p)
	}

	r.finish(ctx, cycleLogger, report)
	return report
}

func (r *Reconciler) reconcilePlant(ctx context.Context, cycleLogger *zap.Logger, report *CycleReport, p plant.Plant) {
	plantLogger := logging.WithPlant(cycleLogger, p.ID, p.Status)

	defer func() {
		if rec := recover(); rec != nil {
			report.Failed++
			plantLogger.Error("plant evaluation panicked", zap.Any("panic", rec))
		}
	}()

	ev, err := r.evaluator.Evaluate(ctx, p)
	if err != nil {
		report.Failed++
		plantLogger.Error("plant evaluation failed", zap.String("stage", failureStage(err)), zap.Error(err))
		return
	}
	if !ev.Photographed {
		report.NoPhoto++
		plantLogger.Debug("no photo on record")
		return
	}
	report.Evaluated++

	decision := ev.Decision
	if decision == nil {
		return
	}
	report.Decisions = append(report.Decisions, *decision)

	if err := r.patcher.PatchStatus(ctx, decision.PlantID, decision.NewStatus); err != nil {
		report.PatchFailed++
		wrapped := logging.NewOperationError("plantapi.patch_status", report.CycleID, p.ID, err)
		plantLogger.Error("status update failed", zap.String("new_status", string(decision.NewStatus)), zap.Error(wrapped))
		return
	}
	report.Patched++
	plantLogger.Info("plant status updated",
		zap.String("new_status", string(decision.NewStatus)),
		zap.Float32("p_sick", decision.Probability),
	)

	if r.notifier == nil {
		return
	}
	event := plant.StatusChanged{
		PlantID:        decision.PlantID,
		PreviousStatus: decision.PreviousStatus,
		NewStatus:      decision.NewStatus,
		Probability:    decision.Probability,
		CycleID:        report.CycleID,
		ChangedAt:      r.now(),
	}
	if err := r.notifier.PublishStatusChange(ctx, event); err != nil {
		plantLogger.Warn("failed to publish status change", zap.Error(err))
	}
}

func (r *Reconciler) finish(ctx context.Context, cycleLogger *zap.Logger, report *CycleReport) {
	report.FinishedAt = r.now()

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	if r.cache != nil {
		if err := storeReport(ctx, r.cache, report); err != nil {
			cycleLogger.Warn("failed to cache cycle report", zap.Error(err))
		}
	}
	for _, o := range r.observers {
		o.ObserveCycle(report)
	}

	cycleLogger.Info("reconciliation cycle finished",
		zap.Bool("listing_ok", report.ListingSucceeded()),
		zap.Int("listed", report.Listed),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("no_photo", report.NoPhoto),
		zap.Int("failed", report.Failed),
		zap.Int("patched", report.Patched),
		zap.Int("patch_failed", report.PatchFailed),
		zap.Duration("duration", report.Duration()),
	)
}

// LastCycle returns the most recent cycle report, preferring the shared cache.
func (r *Reconciler) LastCycle(ctx context.Context) (*CycleReport, error) {
	if r.cache != nil {
		report, err := loadReport(ctx, r.cache)
		if err == nil {
			return report, nil
		}
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("failed to read cached cycle report", zap.Error(err))
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil, ErrNoCycle
	}
	report := *r.last
	return &report, nil
}

// Interval is the fixed pause between cycles.
func (r *Reconciler) Interval() time.Duration {
	return r.interval
}

func failureStage(err error) string {
	switch {
	case errors.Is(err, plant.ErrDecode):
		return "decode"
	case errors.Is(err, plant.ErrInference):
		return "inference"
	case errors.Is(err, plant.ErrCollaborator):
		return "fetch"
	}
	return "unknown"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
