package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/logging"
)

// ErrPhotoNotFound is returned when a photo id does not exist.
var ErrPhotoNotFound = errors.New("photo not found")

// Photo is one stored plant photo. The table keeps the historical name "plants".
type Photo struct {
	ID      int64     `gorm:"column:id;primaryKey"`
	Photo   []byte    `gorm:"column:photo"`
	Status  string    `gorm:"column:status;type:varchar"`
	PlantID int64     `gorm:"column:plant_id;type:integer;index"`
	TakenAt time.Time `gorm:"column:photo_timestamp;default:CURRENT_TIMESTAMP;index"`
}

// TableName overrides the default table name.
func (Photo) TableName() string {
	return "plants"
}

// metadataColumns selects everything except the image payload.
var metadataColumns = []string{"id", "status", "plant_id", "photo_timestamp"}

// PhotoRepository provides persistence APIs for plant photos.
type PhotoRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPhotoRepository creates a new repository instance.
func NewPhotoRepository(db *gorm.DB, logger *zap.Logger) *PhotoRepository {
	return &PhotoRepository{
		db:             db,
		logger:         logger.Named("photo_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PhotoRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", 0, func() error {
		return r.db.WithContext(ctx).AutoMigrate(&Photo{})
	})
}

// SavePhoto stores a new photo for plantID taken now.
func (r *PhotoRepository) SavePhoto(ctx context.Context, plantID int64, status string, data []byte) (*Photo, error) {
	photo := &Photo{
		Photo:   data,
		Status:  status,
		PlantID: plantID,
		TakenAt: time.Now().UTC(),
	}
	err := r.executeWithRetry(ctx, "repository.save_photo", plantID, func() error {
		return r.db.WithContext(ctx).Create(photo).Error
	})
	if err != nil {
		return nil, err
	}
	return photo, nil
}

// FindPhoto loads a photo, including its bytes, by row id.
func (r *PhotoRepository) FindPhoto(ctx context.Context, id int64) (*Photo, error) {
	var photos []Photo
	err := r.executeWithRetry(ctx, "repository.find_photo", 0, func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&photos).Error
	})
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, ErrPhotoNotFound
	}
	return &photos[0], nil
}

// LatestPhoto returns the most recent photo of plantID, or nil when the plant was
// never photographed.
func (r *PhotoRepository) LatestPhoto(ctx context.Context, plantID int64) (*Photo, error) {
	var photos []Photo
	err := r.executeWithRetry(ctx, "repository.latest_photo", plantID, func() error {
		return r.db.WithContext(ctx).
			Where("plant_id = ?", plantID).
			Order("photo_timestamp DESC").
			Order("id DESC").
			Limit(1).
			Find(&photos).Error
	})
	if err != nil {
		return nil, err
	}
	if len(photos) == 0 {
		return nil, nil
	}
	return &photos[0], nil
}

// PhotosByStatus lists photo metadata recorded with status, newest first.
func (r *PhotoRepository) PhotosByStatus(ctx context.Context, status string) ([]Photo, error) {
	return r.listMetadata(ctx, "repository.photos_by_status", 0, "status = ?", status)
}

// PhotosByPlant lists photo metadata of a plant, newest first.
func (r *PhotoRepository) PhotosByPlant(ctx context.Context, plantID int64) ([]Photo, error) {
	return r.listMetadata(ctx, "repository.photos_by_plant", plantID, "plant_id = ?", plantID)
}

// PhotosByPlantAndStatus lists photo metadata of a plant recorded with status, newest first.
func (r *PhotoRepository) PhotosByPlantAndStatus(ctx context.Context, plantID int64, status string) ([]Photo, error) {
	return r.listMetadata(ctx, "repository.photos_by_plant_and_status", plantID, "plant_id = ? AND status = ?", plantID, status)
}

func (r *PhotoRepository) listMetadata(ctx context.Context, operation string, plantID int64, query string, args ...interface{}) ([]Photo, error) {
	var photos []Photo
	err := r.executeWithRetry(ctx, operation, plantID, func() error {
		return r.db.WithContext(ctx).
			Select(metadataColumns).
			Where(query, args...).
			Order("photo_timestamp DESC").
			Order("id DESC").
			Find(&photos).Error
	})
	if err != nil {
		return nil, err
	}
	return photos, nil
}

func (r *PhotoRepository) executeWithRetry(ctx context.Context, operation string, plantID int64, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := r.initialBackoff
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.NewExponential(base)
	if r.maxBackoff > 0 {
		backoff = retry.WithCappedDuration(r.maxBackoff, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(attempts-1), backoff)

	opLogger := r.logger.With(zap.String("operation", operation))
	if plantID != 0 {
		opLogger = opLogger.With(zap.Int64("plant_id", plantID))
	}

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if isTransientError(err) && attempt < attempts {
			opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt))
			return retry.RetryableError(err)
		}
		return err
	})
	return logging.NewOperationError(operation, "", plantID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
