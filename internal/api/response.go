// Package api holds the HTTP plumbing shared by the gateway and the
// classifier: JSON responses, the uniform error body, and the chi middleware
// stack.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/Brownie44l1/hazard-services/internal/logging"
)

// TimestampLayout is UTC ISO-8601 without a zone suffix, microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Timestamp formats now in TimestampLayout.
func Timestamp() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

// DecodeJSON reads at most limit bytes of JSON from r into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return BadRequest("invalid JSON body", err)
	}
	return nil
}
