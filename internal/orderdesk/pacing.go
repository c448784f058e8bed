package orderdesk

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBatchSize   = 20
	defaultPacingDelay = time.Second
)

// Pacer is the shared pacing policy for every batched path: how many
// units make up a batch, and how long to pause between batches. The
// pause is deliberate blocking backpressure against external rate
// limits, applied regardless of whether the batch succeeded.
type Pacer struct {
	batchSize int
	delay     time.Duration
	limiter   *rate.Limiter
	wait      func(ctx context.Context) error
}

func NewPacer(batchSize int, delay time.Duration) *Pacer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if delay < 0 {
		delay = defaultPacingDelay
	}
	p := &Pacer{batchSize: batchSize, delay: delay}
	if delay > 0 {
		p.limiter = rate.NewLimiter(rate.Every(delay), 1)
		// Drain the initial burst token so the first pause waits a
		// full interval like every later one.
		p.limiter.Allow()
		p.wait = p.limiter.Wait
	}
	return p
}

func (p *Pacer) BatchSize() int {
	if p == nil || p.batchSize <= 0 {
		return defaultBatchSize
	}
	return p.batchSize
}

func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	return p.delay
}

// Due reports whether a pause is owed after processing the given number
// of units.
func (p *Pacer) Due(processed int) bool {
	if p == nil || processed <= 0 {
		return false
	}
	return processed%p.BatchSize() == 0
}

// Pause blocks for one pacing interval or until the context is done.
func (p *Pacer) Pause(ctx context.Context) error {
	if p == nil || p.delay <= 0 || p.wait == nil {
		return nil
	}
	return p.wait(ctx)
}
