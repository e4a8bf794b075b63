// Package gateway is the front door of the platform: service metadata,
// health, and the ml, mesh and analytics route groups. Image classification
// is proxied to the classifier service.
package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Brownie44l1/hazard-services/internal/api"
	"github.com/Brownie44l1/hazard-services/internal/config"
	"github.com/Brownie44l1/hazard-services/internal/model"
)

// Classifier is the part of mlclient.Client the gateway uses.
type Classifier interface {
	Classify(ctx context.Context, filename string, image io.Reader) (*model.Prediction, error)
	Health(ctx context.Context) error
	BaseURL() string
}

type Gateway struct {
	cfg        *config.Config
	classifier Classifier
	tally      *Tally
	started    time.Time
}

func New(cfg *config.Config, classifier Classifier) *Gateway {
	return &Gateway{
		cfg:        cfg,
		classifier: classifier,
		tally:      NewTally(),
		started:    time.Now(),
	}
}

// Router builds the gateway's http.Handler.
func (g *Gateway) Router() http.Handler {
	errs := api.NewErrorHandler(g.cfg.Server.Debug)
	mw := api.NewMiddleware("gateway", g.cfg.Security)

	r := chi.NewRouter()
	mw.Stack(r, errs)
	r.NotFound(errs.NotFound)
	r.MethodNotAllowed(errs.MethodNotAllowed)

	r.Get("/", errs.Wrap(g.root))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", errs.Wrap(g.health))
		r.Get("/live", errs.Wrap(g.live))
		r.Get("/ready", errs.Wrap(g.ready))
	})
	r.Route("/ml", func(r chi.Router) {
		r.Get("/", errs.Wrap(g.mlIndex))
		r.Post("/hazard/classify", errs.Wrap(g.classify))
	})
	r.Route("/mesh", func(r chi.Router) {
		r.Get("/", errs.Wrap(g.mesh))
	})
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/", errs.Wrap(g.analyticsIndex))
		r.Get("/classifications", errs.Wrap(g.classifications))
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
