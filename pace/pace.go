// Package pace provides randomized, context-aware suspension points used to
// make browsing look human. Every delay in the scan task goes through a
// Pacer so tests can run with Instant.
package pace

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Pacer draws random durations and sizes and sleeps on them.
type Pacer struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	instant bool
}

// New returns a Pacer seeded from the runtime source.
func New() *Pacer {
	return &Pacer{rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// Seeded returns a Pacer with a fixed seed, for reproducible sampling.
func Seeded(seed uint64) *Pacer {
	return &Pacer{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Instant returns a seeded Pacer whose Sleep returns immediately.
func Instant() *Pacer {
	p := Seeded(1)
	p.instant = true
	return p
}

// Duration returns a uniform duration in [min, max].
func (p *Pacer) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rnd.Int64N(int64(max-min)+1))
}

// IntN returns a uniform int in [min, max].
func (p *Pacer) IntN(min, max int) int {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + p.rnd.IntN(max-min+1)
}

// Sample returns k distinct elements of items in random order. When k
// covers the whole slice the result is a shuffled copy.
func Sample[T any](p *Pacer, items []T, k int) []T {
	out := make([]T, len(items))
	copy(out, items)
	p.mu.Lock()
	p.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	p.mu.Unlock()
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Sleep blocks for d or until ctx is done.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	if p.instant || d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Between sleeps for a random duration in [min, max].
func (p *Pacer) Between(ctx context.Context, min, max time.Duration) error {
	return p.Sleep(ctx, p.Duration(min, max))
}
