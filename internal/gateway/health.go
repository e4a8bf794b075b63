package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/Brownie44l1/hazard-services/internal/api"
)

func (g *Gateway) health(w http.ResponseWriter, _ *http.Request) error {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"service":        g.cfg.Gateway.ServiceName,
		"version":        g.cfg.Gateway.Version,
		"timestamp":      api.Timestamp(),
		"uptime_seconds": int64(time.Since(g.started).Seconds()),
	})
	return nil
}

func (g *Gateway) live(w http.ResponseWriter, _ *http.Request) error {
	api.WriteJSON(w, http.StatusOK, map[string]bool{"alive": true})
	return nil
}

// ready is 200 only while the classifier answers its own health check.
func (g *Gateway) ready(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Gateway.ClassifierTimeout)
	defer cancel()

	if err := g.classifier.Health(ctx); err != nil {
		return api.NewHTTPError(http.StatusServiceUnavailable, "classifier not ready", err)
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "ready",
		"classifier": "ok",
		"timestamp":  api.Timestamp(),
	})
	return nil
}
