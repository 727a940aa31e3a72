package usecase

import (
	"time"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
)

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	CycleID     string                 `json:"cycle_id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Listed      int                    `json:"listed"`
	Evaluated   int                    `json:"evaluated"`
	NoPhoto     int                    `json:"no_photo"`
	Failed      int                    `json:"failed"`
	Patched     int                    `json:"patched"`
	PatchFailed int                    `json:"patch_failed"`
	Decisions   []plant.UpdateDecision `json:"decisions"`
	ListError   string                 `json:"list_error,omitempty"`
}

// ListingSucceeded reports whether the plant list could be fetched.
func (r *CycleReport) ListingSucceeded() bool {
	return r.ListError == ""
}

// Duration is the wall time the cycle took.
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
