package store

import (
	"context"
	"log"
	"time"
)

type expiredPurger interface {
	PurgeExpired(context.Context) ([]string, error)
}

// StartExpirySweeper purges expired records every interval until ctx is
// cancelled. onPurged, when set, receives the tokens removed by each pass.
func StartExpirySweeper(ctx context.Context, purger expiredPurger, interval time.Duration, onPurged func([]string)) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, purger, onPurged)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, purger expiredPurger, onPurged func([]string)) {
	tokens, err := purger.PurgeExpired(ctx)
	if err != nil {
		log.Printf("store: purge expired forms: %v", err)
		return
	}
	if len(tokens) == 0 {
		return
	}
	log.Printf("store: purged %d expired forms", len(tokens))
	if onPurged != nil {
		onPurged(tokens)
	}
}
