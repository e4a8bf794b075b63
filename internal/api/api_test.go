package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/hazard-services/internal/config"
	"github.com/Brownie44l1/hazard-services/internal/logging"
	"github.com/Brownie44l1/hazard-services/internal/metrics"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTimestampLayout(t *testing.T) {
	ts := Timestamp()
	parsed, err := time.Parse(TimestampLayout, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)
	assert.NotContains(t, ts, "Z")
}

func TestWrapRedactsInternalErrors(t *testing.T) {
	h := NewErrorHandler(false).Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("model exploded at /secret/path")
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody(t, rec)
	assert.Equal(t, "Internal server error", body.Error)
	assert.Equal(t, "An error occurred", body.Detail)
	assert.NotEmpty(t, body.Timestamp)
}

func TestWrapShowsDetailInDebug(t *testing.T) {
	h := NewErrorHandler(true).Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("model exploded")
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "model exploded", decodeBody(t, rec).Detail)
}

func TestWrapClientErrors(t *testing.T) {
	h := NewErrorHandler(false).Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return BadRequest("file is required", errors.New("http: no such file"))
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/predict/", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Bad Request", body.Error)
	assert.Equal(t, "file is required", body.Detail)
}

func TestWrapServiceUnavailableKeepsDetail(t *testing.T) {
	h := NewErrorHandler(false).Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return NewHTTPError(http.StatusServiceUnavailable, "classifier unavailable", errors.New("breaker open"))
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Service Unavailable", body.Error)
	assert.Equal(t, "classifier unavailable", body.Detail)
}

func TestHTTPErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := NewHTTPError(http.StatusBadGateway, "upstream", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "502 upstream")
}

func TestRecoverPanics(t *testing.T) {
	errs := NewErrorHandler(false)
	h := errs.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An error occurred", decodeBody(t, rec).Detail)
}

func TestRecoverRepanicsAbort(t *testing.T) {
	h := NewErrorHandler(false).Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestStackRequestIDAndNotFound(t *testing.T) {
	errs := NewErrorHandler(false)
	sec := config.Default().Security
	r := chi.NewRouter()
	NewMiddleware("api-test", sec).Stack(r, errs)
	r.NotFound(errs.NotFound)
	r.MethodNotAllowed(errs.MethodNotAllowed)
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "abc")
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "Not Found", decodeBody(t, rec).Error)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ok", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStackObservesRecoveredPanics(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { logging.Init(logging.Config{}) })

	errs := NewErrorHandler(false)
	sec := config.Default().Security
	sec.RateLimitDisabled = true
	r := chi.NewRouter()
	NewMiddleware("panic-test", sec).Stack(r, errs)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	})

	before := testutil.CollectAndCount(metrics.HTTPRequestDuration)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An error occurred", decodeBody(t, rec).Detail)
	assert.Equal(t, before+1, testutil.CollectAndCount(metrics.HTTPRequestDuration))
	assert.Zero(t, testutil.ToFloat64(metrics.HTTPRequestsInFlight.WithLabelValues("panic-test")))

	var access map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "request" {
			access = entry
		}
	}
	require.NotNil(t, access, "no access log line in %s", buf.String())
	assert.Equal(t, "/boom", access["route"])
	assert.EqualValues(t, 500, access["status"])
}

func TestCORSPreflight(t *testing.T) {
	r := chi.NewRouter()
	NewMiddleware("api-test", config.Default().Security).Stack(r, NewErrorHandler(false))
	r.Post("/predict/", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodOptions, "/predict/", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	sec := config.Default().Security
	sec.RateLimitRequests = 2
	r := chi.NewRouter()
	NewMiddleware("api-test", sec).Stack(r, NewErrorHandler(false))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	sec.RateLimitDisabled = true
	assert.NotNil(t, NewMiddleware("api-test", sec).RateLimit())
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Image []float32 `json:"image"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"image":[0.5,1]}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, 1<<10, &v))
	assert.Equal(t, []float32{0.5, 1}, v.Image)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	err := DecodeJSON(httptest.NewRecorder(), req, 1<<10, &v)
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusBadRequest, herr.Status)
}
