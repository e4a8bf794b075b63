package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Brownie44l1/hazard-services/internal/logging"
)

// ErrorBody is the only error shape either service returns.
type ErrorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

const (
	internalMessage = "Internal server error"
	redactedDetail  = "An error occurred"
)

// HTTPError is an error the client caused or is allowed to see. Its Detail is
// always shown; Err is only logged.
type HTTPError struct {
	Status int
	Detail string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewHTTPError builds an HTTPError with an explicit status.
func NewHTTPError(status int, detail string, err error) *HTTPError {
	return &HTTPError{Status: status, Detail: detail, Err: err}
}

// BadRequest is a 400 HTTPError.
func BadRequest(detail string, err error) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, detail, err)
}

// HandlerFunc is an http handler that reports failure by returning an error
// instead of writing the response itself.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandler is the process-wide catch-all: it turns returned errors and
// panics into ErrorBody responses. With debug off, 5xx details are redacted.
type ErrorHandler struct {
	debug bool
}

func NewErrorHandler(debug bool) *ErrorHandler {
	return &ErrorHandler{debug: debug}
}

// Wrap adapts fn to http.HandlerFunc.
func (e *ErrorHandler) Wrap(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			e.Write(w, r, err)
		}
	}
}

// Write sends err as an ErrorBody.
func (e *ErrorHandler) Write(w http.ResponseWriter, r *http.Request, err error) {
	var herr *HTTPError
	if errors.As(err, &herr) && herr.Status < http.StatusInternalServerError {
		logging.Ctx(r.Context()).Info().Err(err).Int("status", herr.Status).Msg("request rejected")
		WriteJSON(w, herr.Status, ErrorBody{
			Error:     http.StatusText(herr.Status),
			Detail:    herr.Detail,
			Timestamp: Timestamp(),
		})
		return
	}

	status := http.StatusInternalServerError
	message := internalMessage
	if herr != nil {
		status = herr.Status
		if status != http.StatusInternalServerError {
			message = http.StatusText(status)
		}
	}

	logging.Ctx(r.Context()).Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")

	detail := redactedDetail
	if e.debug {
		detail = err.Error()
	} else if herr != nil && status != http.StatusInternalServerError {
		detail = herr.Detail
	}
	WriteJSON(w, status, ErrorBody{Error: message, Detail: detail, Timestamp: Timestamp()})
}

// Recover is middleware converting a panic into a 500 ErrorBody.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func (e *ErrorHandler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared as panic value
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			logging.Ctx(r.Context()).Error().Str("stack", string(debug.Stack())).Msg("panic recovered")
			e.Write(w, r, fmt.Errorf("panic: %w", err))
		}()
		next.ServeHTTP(w, r)
	})
}

// NotFound and MethodNotAllowed give router misses the same body shape.
func (e *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	e.Write(w, r, NewHTTPError(http.StatusNotFound, "no route for "+r.URL.Path, nil))
}

func (e *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	e.Write(w, r, NewHTTPError(http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path, nil))
}
