package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/classifier"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/imageprocessor"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/logging"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/repository"
)

// PhotoStore returns the newest photo of a plant, or nil when there is none.
type PhotoStore interface {
	LatestPhoto(ctx context.Context, plantID int64) (*repository.Photo, error)
}

// Evaluation is the outcome of classifying one plant.
type Evaluation struct {
	PlantID      int64
	Photographed bool
	Label        plant.Label
	Probability  float32
	// Decision is nil when the resolved label matches the known status.
	Decision *plant.UpdateDecision
}

// Evaluator classifies a single plant from its latest photo. It never patches
// anything; applying decisions is the reconciler's job.
type Evaluator struct {
	photos     PhotoStore
	decode     func([]byte) (*imageprocessor.Tensor, error)
	classifier classifier.Classifier
	logger     *zap.Logger
}

// NewEvaluator constructs an evaluator around a loaded classifier.
func NewEvaluator(photos PhotoStore, clf classifier.Classifier, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		photos:     photos,
		decode:     imageprocessor.Decode,
		classifier: clf,
		logger:     logger.Named("evaluator"),
	}
}

// Evaluate runs fetch, decode, infer, resolve and compare for p. The status is
// compared against the snapshot in p, not re-fetched.
func (e *Evaluator) Evaluate(ctx context.Context, p plant.Plant) (*Evaluation, error) {
	ev := &Evaluation{PlantID: p.ID}

	photo, err := e.photos.LatestPhoto(ctx, p.ID)
	if err != nil {
		return nil, logging.NewOperationError("evaluator.fetch_photo", "", p.ID, fmt.Errorf("%w: %w", plant.ErrCollaborator, err))
	}
	if photo == nil {
		return ev, nil
	}
	ev.Photographed = true

	probability, label, err := e.Classify(photo.Photo)
	if err != nil {
		return nil, logging.NewOperationError("evaluator.classify", "", p.ID, err)
	}
	ev.Probability = probability
	ev.Label = label

	e.logger.Debug("plant classified",
		zap.Int64("plant_id", p.ID),
		zap.Int64("photo_id", photo.ID),
		zap.Float32("p_sick", probability),
		zap.Float32("p_healthy", 1-probability),
		zap.String("label", string(label)),
	)

	if string(label) != p.Status {
		ev.Decision = &plant.UpdateDecision{
			PlantID:        p.ID,
			PreviousStatus: p.Status,
			NewStatus:      label,
			Probability:    probability,
		}
	}
	return ev, nil
}

// Classify decodes raw photo bytes and returns the sickness probability and label.
func (e *Evaluator) Classify(raw []byte) (float32, plant.Label, error) {
	tensor, err := e.decode(raw)
	if err != nil {
		return 0, "", err
	}
	probability, err := e.classifier.Infer(tensor)
	if err != nil {
		return 0, "", err
	}
	return probability, plant.Resolve(probability), nil
}
