package sessions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Purger is satisfied by Store.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// RunJanitor calls Purge every interval until ctx is cancelled. It blocks, so callers
// normally start it in its own goroutine.
func RunJanitor(ctx context.Context, p Purger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("session janitor stopped")
			return
		case <-ticker.C:
			if _, err := p.Purge(ctx); err != nil {
				log.Err(err).Msg("session purge failed")
			}
		}
	}
}
