package app

import (
	"context"
	"log"
	"time"
)

// RunSweeper runs the membership expiry sweep on a fixed interval until
// ctx is cancelled. One pass also runs immediately at startup so a long
// downtime never leaves stale active rows for a full interval.
func RunSweeper(ctx context.Context, membership *MembershipService, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	sweep := func() {
		if _, err := membership.SweepExpired(ctx, time.Now()); err != nil {
			log.Printf("membership sweep failed: %v", err)
		}
	}
	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
