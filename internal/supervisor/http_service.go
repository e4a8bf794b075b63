package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Brownie44l1/hazard-services/internal/logging"
)

// HTTPServer is the part of *http.Server the service needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTPServer as a suture.Service: it listens until
// the supervisor cancels ctx, then drains connections for up to
// shutdownTimeout.
type HTTPServerService struct {
	server          HTTPServer
	name            string
	shutdownTimeout time.Duration
}

func NewHTTPServerService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, name: name, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	served := make(chan error, 1)
	go func() { served <- h.server.ListenAndServe() }()

	select {
	case err := <-served:
		return h.listenResult(err)
	case <-ctx.Done():
	}

	logging.Info().Str("server", h.name).Dur("timeout", h.shutdownTimeout).Msg("draining connections")
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("failed to shut down %s: %w", h.name, err)
	}
	if err := h.listenResult(<-served); err != nil {
		return err
	}
	return ctx.Err()
}

// listenResult treats http.ErrServerClosed as a clean stop.
func (h *HTTPServerService) listenResult(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("failed to serve %s: %w", h.name, err)
}

func (h *HTTPServerService) String() string { return h.name }
