package gimbal

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Scheduler calls fn periodically until ctx is cancelled
type Scheduler interface {
	Every(ctx context.Context, fn func(ctx context.Context)) error
}

// TickerScheduler runs fn on a fixed period. A slow fn delays the next tick
// instead of queueing ticks.
type TickerScheduler struct {
	Period time.Duration
}

// NewTickerScheduler creates a scheduler with the given period
func NewTickerScheduler(period time.Duration) (*TickerScheduler, error) {
	if period <= 0 {
		return nil, errors.Errorf("invalid tick period %s", period)
	}
	return &TickerScheduler{Period: period}, nil
}

// Every blocks until ctx is cancelled and returns nil
func (s *TickerScheduler) Every(ctx context.Context, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
