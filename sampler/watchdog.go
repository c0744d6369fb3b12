package sampler

import (
	"context"
	"errors"
	"log"
	"time"
)

// ErrNoMap is reported when no global map has been received
var ErrNoMap = errors.New("no global map received")

// ReadinessSource reports which inputs have arrived
type ReadinessSource interface {
	HasMap() bool
	HasOdometry() bool
}

// Watchdog checks input readiness on a fixed interval. The first failed
// check ends Run with the missing input; the caller shuts the service down.
type Watchdog struct {
	Interval time.Duration
	Source   ReadinessSource
}

// Check reports the first missing input, or nil when everything arrived
func (w *Watchdog) Check() error {
	if !w.Source.HasMap() {
		return ErrNoMap
	}
	if !w.Source.HasOdometry() {
		return ErrNoOdometry
	}
	return nil
}

// Run ticks until a check fails or ctx is cancelled. A cancelled context
// returns nil. A non-positive interval disables the watchdog.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Check(); err != nil {
				log.Printf("Watchdog: %v after %v", err, w.Interval)
				return err
			}
		}
	}
}
