package plantapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
)

// ErrPlantNotFound is returned by GetPlant for unknown ids.
var ErrPlantNotFound = errors.New("plant not found")

// StatusError reports an unexpected HTTP status from the plant API.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap classifies API failures as collaborator errors.
func (e *StatusError) Unwrap() error {
	return plant.ErrCollaborator
}

// BaseURL builds the plants collection endpoint from the [api] config section.
func BaseURL(host string, port int, base string) (string, error) {
	root, err := url.Parse(fmt.Sprintf("http://%s:%d/", host, port))
	if err != nil {
		return "", fmt.Errorf("invalid api host %q: %w", host, err)
	}
	ref, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid api base %q: %w", base, err)
	}
	return strings.TrimSuffix(root.ResolveReference(ref).String(), "/"), nil
}

// Client talks to the plant API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient returns a client for the plants collection at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("plantapi"),
	}
}

// ListPlants returns every tracked plant with its current status.
func (c *Client) ListPlants(ctx context.Context) ([]plant.Plant, error) {
	var plants []plant.Plant
	if err := c.getJSON(ctx, c.baseURL, &plants); err != nil {
		return nil, err
	}
	c.logger.Debug("listed plants", zap.Int("count", len(plants)))
	return plants, nil
}

// GetPlant returns a single plant.
func (c *Client) GetPlant(ctx context.Context, plantID int64) (*plant.Plant, error) {
	var p plant.Plant
	err := c.getJSON(ctx, c.plantURL(plantID), &p)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %d", ErrPlantNotFound, plantID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PatchStatus sets the status of a plant. It is attempted exactly once.
func (c *Client) PatchStatus(ctx context.Context, plantID int64, status plant.Label) error {
	form := url.Values{"statusNew": {string(status)}}
	target := c.plantURL(plantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) plantURL(plantID int64) string {
	return c.baseURL + "/" + strconv.FormatInt(plantID, 10)
}

func (c *Client) getJSON(ctx context.Context, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", plant.ErrCollaborator, target, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", plant.ErrCollaborator, req.Method, req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Method: req.Method,
			URL:    req.URL.String(),
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
