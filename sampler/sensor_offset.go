package sampler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrTransformTimeout is returned when the sensor offset does not become
// available in time
var ErrTransformTimeout = errors.New("timed out waiting for sensor transform")

// TransformLookup resolves the static transform between two frames
type TransformLookup interface {
	// Lookup blocks until the parent→child transform is known or ctx ends
	Lookup(ctx context.Context, parent, child string) (Pose2D, error)
}

// StaticTransformLookup answers from a fixed table
type StaticTransformLookup map[string]Pose2D

// Lookup implements TransformLookup
func (s StaticTransformLookup) Lookup(ctx context.Context, parent, child string) (Pose2D, error) {
	if p, ok := s[transformKey(parent, child)]; ok {
		return p, nil
	}
	<-ctx.Done()
	return Pose2D{}, ctx.Err()
}

// NewStaticTransformLookup answers a single parent→child transform
func NewStaticTransformLookup(parent, child string, p Pose2D) StaticTransformLookup {
	return StaticTransformLookup{transformKey(parent, child): p}
}

func transformKey(parent, child string) string {
	return parent + "->" + child
}

// TransformBuffer collects announced transforms and wakes waiting lookups.
// It is fed by the transport's transform subscription.
type TransformBuffer struct {
	mu         sync.Mutex
	transforms map[string]Pose2D
	changed    chan struct{}
}

// NewTransformBuffer creates an empty buffer
func NewTransformBuffer() *TransformBuffer {
	return &TransformBuffer{
		transforms: make(map[string]Pose2D),
		changed:    make(chan struct{}),
	}
}

// Add records a transform and wakes every waiter
func (b *TransformBuffer) Add(tf TransformStamped) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transforms[transformKey(tf.Parent, tf.Child)] = tf.Transform
	close(b.changed)
	b.changed = make(chan struct{})
}

// Lookup implements TransformLookup
func (b *TransformBuffer) Lookup(ctx context.Context, parent, child string) (Pose2D, error) {
	key := transformKey(parent, child)
	for {
		b.mu.Lock()
		p, ok := b.transforms[key]
		changed := b.changed
		b.mu.Unlock()
		if ok {
			return p, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return Pose2D{}, ctx.Err()
		}
	}
}

// AcquireSensorOffset waits up to timeout for the base→laser transform.
// Failure is fatal for the service.
func AcquireSensorOffset(ctx context.Context, lookup TransformLookup, base, laser string, timeout time.Duration) (Pose2D, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Printf("Waiting up to %v for transform %s -> %s", timeout, base, laser)
	offset, err := lookup.Lookup(ctx, base, laser)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Pose2D{}, fmt.Errorf("%w: %s -> %s after %v", ErrTransformTimeout, base, laser, timeout)
		}
		return Pose2D{}, fmt.Errorf("looking up %s -> %s: %w", base, laser, err)
	}
	log.Printf("Sensor offset %s -> %s: (%.3f, %.3f, %.3f rad)", base, laser, offset.X, offset.Y, offset.Yaw)
	return offset, nil
}
