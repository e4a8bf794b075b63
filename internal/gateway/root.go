package gateway

import (
	"net/http"

	"github.com/Brownie44l1/hazard-services/internal/api"
)

var mlModels = map[string]string{
	"hazard_classification":    "CNN + CLIP",
	"flood_prediction":         "LSTM + Weather APIs",
	"rescue_prioritization":    "Multi-factor scoring",
	"safe_zone_recommendation": "Graph algorithms",
}

var communication = map[string]string{
	"mesh_simulation":    "BLE + Wi-Fi",
	"lora_gateway":       "Laptop emulation",
	"convex_integration": "Real-time sync",
}

var endpoints = map[string]string{
	"health":       "/health",
	"ml_services":  "/ml",
	"mesh_network": "/mesh",
	"analytics":    "/analytics",
	"metrics":      "/metrics",
}

type rootResponse struct {
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Endpoints     map[string]string `json:"endpoints"`
	MLModels      map[string]string `json:"ml_models"`
	Communication map[string]string `json:"communication"`
}

func (g *Gateway) root(w http.ResponseWriter, _ *http.Request) error {
	api.WriteJSON(w, http.StatusOK, rootResponse{
		Service:       g.cfg.Gateway.ServiceName,
		Version:       g.cfg.Gateway.Version,
		Status:        "online",
		Timestamp:     api.Timestamp(),
		Endpoints:     endpoints,
		MLModels:      mlModels,
		Communication: communication,
	})
	return nil
}
