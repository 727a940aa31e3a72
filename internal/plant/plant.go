package plant

import (
	"errors"
	"time"
)

// Label is the discrete health status of a plant.
type Label string

const (
	Healthy Label = "Healthy"
	Sick    Label = "Sick"
)

// SickThreshold is the probability above which a plant is considered sick.
// A probability exactly equal to the threshold resolves to Healthy.
const SickThreshold = 0.5

var (
	// ErrDecode marks photos whose bytes are not a decodable image.
	ErrDecode = errors.New("decode error")
	// ErrInference marks model runtime failures.
	ErrInference = errors.New("inference error")
	// ErrCollaborator marks failures of the photo store or the plant API.
	ErrCollaborator = errors.New("collaborator error")
)

// Plant is a snapshot of a tracked plant as reported by the plant API.
type Plant struct {
	ID     int64  `json:"plantId"`
	Status string `json:"status"`
}

// UpdateDecision records that a plant's status must change.
type UpdateDecision struct {
	PlantID        int64   `json:"plant_id"`
	PreviousStatus string  `json:"previous_status"`
	NewStatus      Label   `json:"new_status"`
	Probability    float32 `json:"probability"`
}

// Resolve maps a sickness probability to a label.
func Resolve(probability float32) Label {
	if probability > SickThreshold {
		return Sick
	}
	return Healthy
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	return l == Healthy || l == Sick
}

// ParseLabel returns the label matching s, or false when s is not a known label.
func ParseLabel(s string) (Label, bool) {
	l := Label(s)
	return l, l.Valid()
}

// StatusChanged is published after a status update was applied.
type StatusChanged struct {
	PlantID        int64     `json:"plant_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      Label     `json:"new_status"`
	Probability    float32   `json:"probability"`
	CycleID        string    `json:"cycle_id"`
	ChangedAt      time.Time `json:"changed_at"`
}
