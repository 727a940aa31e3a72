package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/auth"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/repository"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/usecase"
)

// MaxUploadSize caps uploaded photos at 10 MiB.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for form boundaries and other fields.
const multipartOverhead = 1 << 20

// PhotoService is the photo store as used by the HTTP surface.
type PhotoService interface {
	SavePhoto(ctx context.Context, plantID int64, status string, data []byte) (*repository.Photo, error)
	FindPhoto(ctx context.Context, id int64) (*repository.Photo, error)
	PhotosByStatus(ctx context.Context, status string) ([]repository.Photo, error)
	PhotosByPlant(ctx context.Context, plantID int64) ([]repository.Photo, error)
	PhotosByPlantAndStatus(ctx context.Context, plantID int64, status string) ([]repository.Photo, error)
}

// ImageClassifier classifies raw photo bytes without touching any plant.
type ImageClassifier interface {
	Classify(raw []byte) (float32, plant.Label, error)
}

// CycleReader exposes the latest reconciliation report.
type CycleReader interface {
	LastCycle(ctx context.Context) (*usecase.CycleReport, error)
}

// Dependencies groups what the routes need.
type Dependencies struct {
	Photos     PhotoService
	Classifier ImageClassifier
	Cycles     CycleReader
	Logger     *zap.Logger
}

type photoResponse struct {
	ID      int64     `json:"id"`
	PlantID int64     `json:"plant_id"`
	Status  string    `json:"status"`
	TakenAt time.Time `json:"taken_at"`
}

func toResponse(p repository.Photo) photoResponse {
	return photoResponse{ID: p.ID, PlantID: p.PlantID, Status: p.Status, TakenAt: p.TakenAt}
}

func toResponses(photos []repository.Photo) []photoResponse {
	out := make([]photoResponse, 0, len(photos))
	for _, p := range photos {
		out = append(out, toResponse(p))
	}
	return out
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Writes and
// classification go through authMiddleware.
func RegisterRoutes(router *gin.Engine, deps Dependencies, authMiddleware gin.HandlerFunc) {
	h := &handler{Dependencies: deps}
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/cycles/last", h.lastCycle)
	router.GET("/photos", h.photosByStatus)
	router.GET("/photos/:id", h.photo)
	router.GET("/plants/:id/photos", h.plantPhotos)

	protected := router.Group("/", authMiddleware)
	protected.POST("/plants/:id/photos", h.uploadPhoto)
	protected.POST("/classify", h.classify)
}

type handler struct {
	Dependencies
}

func (h *handler) lastCycle(c *gin.Context) {
	report, err := h.Cycles.LastCycle(c.Request.Context())
	if errors.Is(err, usecase.ErrNoCycle) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.Logger.Error("failed to load last cycle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load last cycle"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) photosByStatus(c *gin.Context) {
	status := c.Query("status")
	if status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	photos, err := h.Photos.PhotosByStatus(c.Request.Context(), status)
	if err != nil {
		h.internalError(c, "failed to list photos", err)
		return
	}
	c.JSON(http.StatusOK, toResponses(photos))
}

func (h *handler) photo(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	photo, err := h.Photos.FindPhoto(c.Request.Context(), id)
	if errors.Is(err, repository.ErrPhotoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}
	if err != nil {
		h.internalError(c, "failed to load photo", err)
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(photo.Photo).String(), photo.Photo)
}

func (h *handler) plantPhotos(c *gin.Context) {
	plantID, ok := pathID(c)
	if !ok {
		return
	}

	var (
		photos []repository.Photo
		err    error
	)
	if status := c.Query("status"); status != "" {
		photos, err = h.Photos.PhotosByPlantAndStatus(c.Request.Context(), plantID, status)
	} else {
		photos, err = h.Photos.PhotosByPlant(c.Request.Context(), plantID)
	}
	if err != nil {
		h.internalError(c, "failed to list plant photos", err)
		return
	}
	c.JSON(http.StatusOK, toResponses(photos))
}

func (h *handler) uploadPhoto(c *gin.Context) {
	plantID, ok := pathID(c)
	if !ok {
		return
	}

	data, ok := readImage(c)
	if !ok {
		return
	}

	status := plant.Healthy
	if raw := c.PostForm("status"); raw != "" {
		parsed, valid := plant.ParseLabel(raw)
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be Healthy or Sick"})
			return
		}
		status = parsed
	}

	photo, err := h.Photos.SavePhoto(c.Request.Context(), plantID, string(status), data)
	if err != nil {
		h.internalError(c, "failed to store photo", err)
		return
	}

	subject, _ := auth.Subject(c.Request.Context())
	h.Logger.Info("photo stored",
		zap.Int64("plant_id", plantID),
		zap.Int64("photo_id", photo.ID),
		zap.String("uploaded_by", subject),
		zap.Int("bytes", len(data)),
	)
	c.JSON(http.StatusCreated, toResponse(*photo))
}

func (h *handler) classify(c *gin.Context) {
	data, ok := readImage(c)
	if !ok {
		return
	}

	probability, label, err := h.Classifier.Classify(data)
	if errors.Is(err, plant.ErrDecode) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "classification failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"probability": probability, "label": label})
}

func (h *handler) internalError(c *gin.Context, message string, err error) {
	h.Logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// readImage extracts the "image" form file and checks its size and content.
func readImage(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}

	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type " + mt.String()})
		return nil, false
	}
	return data, true
}
