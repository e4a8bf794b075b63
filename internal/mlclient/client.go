// Package mlclient is the gateway's HTTP client for the classifier service.
// Calls go through a circuit breaker so a dead classifier fails fast.
package mlclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Brownie44l1/hazard-services/internal/api"
	"github.com/Brownie44l1/hazard-services/internal/config"
	"github.com/Brownie44l1/hazard-services/internal/logging"
	"github.com/Brownie44l1/hazard-services/internal/metrics"
	"github.com/Brownie44l1/hazard-services/internal/model"
)

var (
	// ErrUnavailable is returned without contacting the classifier while the
	// breaker is open.
	ErrUnavailable = errors.New("classifier unavailable")

	// ErrUpload means the caller's image could not be read; the classifier
	// was never contacted.
	ErrUpload = errors.New("failed to read upload")

	// errCallerGone marks calls whose own context ended first. The breaker
	// ignores them.
	errCallerGone = errors.New("caller gave up")
)

// StatusError is a non-2xx answer from the classifier.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier returned %d: %s", e.Code, e.Detail)
}

// ClientError reports whether the classifier rejected the request itself.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*model.Prediction]
}

func New(cfg config.GatewayConfig) *Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.ClassifierTimeout})
}

// NewWithHTTPClient lets tests substitute the transport.
func NewWithHTTPClient(cfg config.GatewayConfig, hc *http.Client) *Client {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.ClientError())
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, errCallerGone)
		},
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.ClassifierURL, "/"),
		http:    hc,
		breaker: gobreaker.NewCircuitBreaker[*model.Prediction](settings),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// BreakerState exposes the breaker for readiness checks.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// Classify uploads an image to the classifier's /predict/ endpoint.
func (c *Client) Classify(ctx context.Context, filename string, image io.Reader) (*model.Prediction, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	start := time.Now()
	pred, err := c.breaker.Execute(func() (*model.Prediction, error) {
		pred, err := c.postPredict(ctx, mw.FormDataContentType(), body.Bytes())
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerGone, err)
		}
		return pred, err
	})
	metrics.UpstreamRequests.WithLabelValues(outcome(err)).Inc()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Debug().Int("id", pred.ID).Str("label", pred.Label).
		Dur("elapsed", time.Since(start)).Msg("classifier answered")
	return pred, nil
}

func (c *Client) postPredict(ctx context.Context, contentType string, payload []byte) (*model.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict/", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(api.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var pred model.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}
	return &pred, nil
}

// Health checks the classifier's /health endpoint. An open breaker counts as
// unhealthy without a network round trip.
func (c *Client) Health(ctx context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Code: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
	var body api.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		se.Detail = body.Detail
	}
	return se
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case errors.Is(err, errCallerGone):
		return "canceled"
	case errors.As(err, &se) && se.ClientError():
		return "client_error"
	default:
		return "error"
	}
}
