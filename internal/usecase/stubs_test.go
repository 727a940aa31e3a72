package usecase

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/imageprocessor"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/repository"
)

type stubPhotos struct {
	photos map[int64]*repository.Photo
	errs   map[int64]error
	calls  []int64
}

func (s *stubPhotos) LatestPhoto(ctx context.Context, plantID int64) (*repository.Photo, error) {
	s.calls = append(s.calls, plantID)
	if err := s.errs[plantID]; err != nil {
		return nil, err
	}
	return s.photos[plantID], nil
}

type stubClassifier struct {
	probability float32
	err         error
	// errs fail calls in order before err applies.
	errs  []error
	calls int
}

func (s *stubClassifier) Infer(tensor *imageprocessor.Tensor) (float32, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if s.err != nil {
		return 0, s.err
	}
	return s.probability, nil
}

type stubLister struct {
	plants []plant.Plant
	errs   []error
	calls  int
}

func (s *stubLister) ListPlants(ctx context.Context) ([]plant.Plant, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.plants, nil
}

type patchCall struct {
	plantID int64
	status  plant.Label
}

type stubPatcher struct {
	calls []patchCall
	errs  map[int64]error
}

func (s *stubPatcher) PatchStatus(ctx context.Context, plantID int64, status plant.Label) error {
	s.calls = append(s.calls, patchCall{plantID: plantID, status: status})
	return s.errs[plantID]
}

type stubNotifier struct {
	events []plant.StatusChanged
	err    error
}

func (s *stubNotifier) PublishStatusChange(ctx context.Context, event plant.StatusChanged) error {
	s.events = append(s.events, event)
	return s.err
}

type stubCache struct {
	values  map[string]string
	setErr  error
	getErr  error
	setKeys []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if s.setErr != nil {
		return s.setErr
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.values[key], nil
}

type recordingObserver struct {
	reports []*CycleReport
}

func (o *recordingObserver) ObserveCycle(report *CycleReport) {
	o.reports = append(o.reports, report)
}

func pngPhoto(t *testing.T, id int64) *repository.Photo {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 30, 160, 40, 255
	}
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return &repository.Photo{ID: id, Photo: buf.Bytes(), PlantID: id}
}

func corruptPhoto(id int64) *repository.Photo {
	return &repository.Photo{ID: id, Photo: []byte("\xff\xd8\xff truncated jpeg"), PlantID: id}
}
