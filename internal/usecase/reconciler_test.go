package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/classifier"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/repository"
)

type fixture struct {
	lister   *stubLister
	photos   *stubPhotos
	clf      *stubClassifier
	patcher  *stubPatcher
	sleeps   []time.Duration
	sleepErr error
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		lister:  &stubLister{},
		photos:  &stubPhotos{photos: map[int64]*repository.Photo{}},
		clf:     &stubClassifier{probability: 0.83},
		patcher: &stubPatcher{},
	}
}

func (f *fixture) reconciler(opts ...Option) *Reconciler {
	ev := NewEvaluator(f.photos, f.clf, zap.NewNop())
	r := NewReconciler(f.lister, f.patcher, ev, zap.NewNop(), opts...)
	ids := 0
	r.newID = func() string {
		ids++
		return fmt.Sprintf("cycle-%d", ids)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return f.sleepErr
	}
	return r
}

func TestRunCycleIsolatesDecodeFailure(t *testing.T) {
	f := newFixture(t)
	f.lister.plants = []plant.Plant{{ID: 1, Status: "Healthy"}, {ID: 2, Status: "Healthy"}}
	f.photos.photos[1] = corruptPhoto(1)
	f.photos.photos[2] = pngPhoto(t, 2)

	report := f.reconciler().RunCycle(context.Background())

	if len(report.Decisions) != 1 || report.Decisions[0].PlantID != 2 {
		t.Fatalf("expected exactly one decision for plant 2, got %+v", report.Decisions)
	}
	if len(f.patcher.calls) != 1 || f.patcher.calls[0] != (patchCall{plantID: 2, status: plant.Sick}) {
		t.Fatalf("unexpected patch calls: %+v", f.patcher.calls)
	}
	if report.Failed != 1 || report.Evaluated != 1 || report.Patched != 1 {
		t.Fatalf("unexpected counters: %+v", report)
	}
}

func TestRunCycleIsolatesPerPlantFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, f *fixture)
		inferCalls int
	}{
		{
			name: "photo fetch",
			setup: func(t *testing.T, f *fixture) {
				f.photos.errs = map[int64]error{1: errors.New("connection reset")}
			},
			inferCalls: 1,
		},
		{
			name: "inference",
			setup: func(t *testing.T, f *fixture) {
				f.photos.photos[1] = pngPhoto(t, 1)
				f.clf.errs = []error{&classifier.InferenceError{Err: errors.New("session run failed")}}
			},
			inferCalls: 2,
		},
		{
			name: "decode",
			setup: func(t *testing.T, f *fixture) {
				f.photos.photos[1] = corruptPhoto(1)
			},
			inferCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.lister.plants = []plant.Plant{{ID: 1, Status: "Healthy"}, {ID: 2, Status: "Healthy"}}
			f.photos.photos[2] = pngPhoto(t, 2)
			tt.setup(t, f)

			report := f.reconciler().RunCycle(context.Background())

			if len(f.patcher.calls) != 1 || f.patcher.calls[0] != (patchCall{plantID: 2, status: plant.Sick}) {
				t.Fatalf("expected only plant 2 to be patched, got %+v", f.patcher.calls)
			}
			if report.Failed != 1 || report.Evaluated != 1 || report.Patched != 1 {
				t.Fatalf("unexpected counters: %+v", report)
			}
			if f.clf.calls != tt.inferCalls {
				t.Fatalf("expected %d inference calls, got %d", tt.inferCalls, f.clf.calls)
			}
		})
	}
}

func TestRunCycleSkipsPlantsWithoutPhoto(t *testing.T) {
	f := newFixture(t)
	f.lister.plants = []plant.Plant{{ID: 9, Status: "Sick"}}

	report := f.reconciler().RunCycle(context.Background())

	if len(f.patcher.calls) != 0 {
		t.Fatalf("expected no patch calls, got %+v", f.patcher.calls)
	}
	if report.NoPhoto != 1 {
		t.Fatalf("expected one plant without photo, got %d", report.NoPhoto)
	}
}

func TestRunCycleListingFailureIssuesNoPatches(t *testing.T) {
	f := newFixture(t)
	f.lister.plants = []plant.Plant{{ID: 1, Status: "Healthy"}}
	f.lister.errs = []error{fmt.Errorf("%w: 502", plant.ErrCollaborator)}
	f.photos.photos[1] = pngPhoto(t, 1)

	observer := &recordingObserver{}
	r := f.reconciler(WithObserver(observer), WithInterval(time.Minute))
	if err := r.Run(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.lister.calls != 2 {
		t.Fatalf("expected listing to be retried next cycle, got %d calls", f.lister.calls)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != time.Minute {
		t.Fatalf("expected one fixed sleep between cycles, got %v", f.sleeps)
	}
	if len(observer.reports) != 2 {
		t.Fatalf("expected two reports, got %d", len(observer.reports))
	}
	if observer.reports[0].ListingSucceeded() || len(observer.reports[0].Decisions) != 0 {
		t.Fatalf("first cycle should have failed listing: %+v", observer.reports[0])
	}
	if len(f.patcher.calls) != 1 {
		t.Fatalf("expected only the second cycle to patch, got %+v", f.patcher.calls)
	}
}

func TestRunCyclePatchFailureDoesNotAbortCycle(t *testing.T) {
	f := newFixture(t)
	f.lister.plants = []plant.Plant{{ID: 1, Status: "Healthy"}, {ID: 2, Status: "Healthy"}}
	f.photos.photos[1] = pngPhoto(t, 1)
	f.photos.photos[2] = pngPhoto(t, 2)
	f.patcher.errs = map[int64]error{1: errors.New("500")}

	report := f.reconciler().RunCycle(context.Background())

	if len(f.patcher.calls) != 2 {
		t.Fatalf("expected both plants to be patched once, got %+v", f.patcher.calls)
	}
	if report.PatchFailed != 1 || report.Patched != 1 {
		t.Fatalf("unexpected counters: %+v", report)
	}
}

func TestRunCyclePublishesAppliedChanges(t *testing.T) {
	f := newFixture(t)
	f.lister.plants = []plant.Plant{{ID: 7, Status: "Healthy"}, {ID: 8, Status: "Healthy"}}
	f.photos.photos[7] = pngPhoto(t, 7)
	f.photos.photos[8] = pngPhoto(t, 8)
	f.patcher.errs = map[int64]error{8: errors.New("500")}
	notifier := &stubNotifier{err: errors.New("broker down")}

	report := f.reconciler(WithNotifier(notifier)).RunCycle(context.Background())

	if len(notifier.events) != 1 {
		t.Fatalf("expected one event for the applied change, got %d", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.PlantID != 7 || ev.PreviousStatus != "Healthy" || ev.NewStatus != plant.Sick || ev.CycleID != report.CycleID {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if report.Patched != 1 {
		t.Fatalf("publish failure must not affect the patch count: %+v", report)
	}
}

func TestRunStopsWhenSleepIsInterrupted(t *testing.T) {
	f := newFixture(t)
	f.sleepErr = context.Canceled

	err := f.reconciler().Run(context.Background(), 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.lister.calls != 1 {
		t.Fatalf("expected exactly one cycle, got %d", f.lister.calls)
	}
}

func TestRunDoesNotStartCycleAfterCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.reconciler().Run(ctx, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.lister.calls != 0 {
		t.Fatalf("expected no cycle, got %d", f.lister.calls)
	}
}

func TestLastCycleReadsCacheThenMemory(t *testing.T) {
	f := newFixture(t)
	cache := &stubCache{}
	r := f.reconciler(WithCache(cache))

	if _, err := r.LastCycle(context.Background()); !errors.Is(err, ErrNoCycle) {
		t.Fatalf("expected ErrNoCycle before the first cycle, got %v", err)
	}

	report := r.RunCycle(context.Background())
	if len(cache.setKeys) != 1 || cache.setKeys[0] != lastCycleKey {
		t.Fatalf("expected report to be cached, got keys %v", cache.setKeys)
	}

	cached, err := r.LastCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached.CycleID != report.CycleID {
		t.Fatalf("expected cached cycle %s, got %s", report.CycleID, cached.CycleID)
	}

	cache.getErr = redis.Nil
	fromMemory, err := r.LastCycle(context.Background())
	if err != nil {
		t.Fatalf("expected memory fallback, got %v", err)
	}
	if fromMemory.CycleID != report.CycleID {
		t.Fatalf("expected %s, got %s", report.CycleID, fromMemory.CycleID)
	}
}

func TestCacheFailureDoesNotFailCycle(t *testing.T) {
	f := newFixture(t)
	f.lister.plants = []plant.Plant{{ID: 1, Status: "Healthy"}}
	f.photos.photos[1] = pngPhoto(t, 1)
	cache := &stubCache{setErr: errors.New("redis unavailable")}

	report := f.reconciler(WithCache(cache)).RunCycle(context.Background())
	if report.Patched != 1 {
		t.Fatalf("expected the patch to go through, got %+v", report)
	}
}

func TestFailureStageFollowsEvaluationErrors(t *testing.T) {
	f := newFixture(t)
	f.photos.errs = map[int64]error{1: errors.New("connection reset")}
	f.photos.photos[2] = corruptPhoto(2)
	f.photos.photos[3] = pngPhoto(t, 3)
	f.clf.err = &classifier.InferenceError{Err: errors.New("session run failed")}
	ev := NewEvaluator(f.photos, f.clf, zap.NewNop())

	want := map[int64]string{1: "fetch", 2: "decode", 3: "inference"}
	for id, stage := range want {
		_, err := ev.Evaluate(context.Background(), plant.Plant{ID: id, Status: "Healthy"})
		if err == nil {
			t.Fatalf("plant %d: expected error", id)
		}
		if got := failureStage(err); got != stage {
			t.Fatalf("plant %d: expected stage %q, got %q (%v)", id, stage, got, err)
		}
	}
}
