package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Brownie44l1/hazard-services/internal/api"
)

// NewRouter wires the classifier endpoints:
//
//	GET  /health         liveness and class list
//	POST /predict/       multipart image upload ("file" or "image")
//	POST /predict/image  same as /predict/
//	POST /predict        preprocessed tensor as JSON
//	GET  /metrics        Prometheus
func NewRouter(h *Handler, mw *api.Middleware, errs *api.ErrorHandler) http.Handler {
	r := chi.NewRouter()
	mw.Stack(r, errs)
	r.NotFound(errs.NotFound)
	r.MethodNotAllowed(errs.MethodNotAllowed)

	r.Get("/health", errs.Wrap(h.Health))
	r.Post("/predict", errs.Wrap(h.Predict))
	r.Post("/predict/", errs.Wrap(h.PredictFromImage))
	r.Post("/predict/image", errs.Wrap(h.PredictFromImage))
	r.Handle("/metrics", promhttp.Handler())

	return r
}
