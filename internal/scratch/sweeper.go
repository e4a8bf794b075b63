package scratch

import (
	"context"
	"time"

	"github.com/Brownie44l1/hazard-services/internal/logging"
)

// Sweeper runs Sweep on an interval. It implements suture.Service.
type Sweeper struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(dir string, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{dir: dir, interval: interval, maxAge: maxAge}
}

// Serve sweeps once immediately, then every interval until ctx is done.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep() {
	n, err := Sweep(s.dir, s.maxAge)
	if err != nil {
		logging.Warn().Err(err).Str("dir", s.dir).Msg("scratch sweep incomplete")
	}
	if n > 0 {
		logging.Info().Int("removed", n).Str("dir", s.dir).Msg("removed orphaned scratch files")
	}
}

func (s *Sweeper) String() string { return "scratch-sweeper" }
