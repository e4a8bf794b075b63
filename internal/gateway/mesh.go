package gateway

import (
	"net/http"

	"github.com/Brownie44l1/hazard-services/internal/api"
)

// mesh only describes the communication stack; nothing here talks to a radio.
func (g *Gateway) mesh(w http.ResponseWriter, _ *http.Request) error {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"mode":          "declared",
		"communication": communication,
	})
	return nil
}
