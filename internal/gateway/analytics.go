package gateway

import (
	"net/http"
	"sync"

	"github.com/Brownie44l1/hazard-services/internal/api"
)

// Tally counts classifications by label since process start.
type Tally struct {
	mu     sync.Mutex
	counts map[string]int64
	total  int64
	since  string
}

func NewTally() *Tally {
	return &Tally{counts: make(map[string]int64), since: api.Timestamp()}
}

func (t *Tally) Record(label string) {
	t.mu.Lock()
	t.counts[label]++
	t.total++
	t.mu.Unlock()
}

type TallySnapshot struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
	Since  string           `json:"since"`
}

func (t *Tally) Snapshot() TallySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[string]int64, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}
	return TallySnapshot{Counts: counts, Total: t.total, Since: t.since}
}

func (g *Gateway) analyticsIndex(w http.ResponseWriter, _ *http.Request) error {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"endpoints": map[string]string{
			"classifications": "/analytics/classifications",
		},
	})
	return nil
}

func (g *Gateway) classifications(w http.ResponseWriter, _ *http.Request) error {
	api.WriteJSON(w, http.StatusOK, g.tally.Snapshot())
	return nil
}
