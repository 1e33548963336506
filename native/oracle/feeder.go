package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/time/rate"

	"collend/crypto"
)

var errNilFeeder = errors.New("oracle feeder: engine not configured")

// Feeder is the price-feed collaborator: it pushes updates into the engine
// under a fixed updater identity, throttled by a token-bucket limiter so a
// runaway upstream cannot monopolise the call sequence. Each spot entry
// consumes one token; batches larger than the burst are rejected outright.
type Feeder struct {
	engine  *Engine
	updater crypto.Address
	limiter *rate.Limiter
}

// NewFeeder wires a feeder pushing as updater at most perSecond updates per
// second with the given burst.
func NewFeeder(engine *Engine, updater crypto.Address, perSecond float64, burst int) *Feeder {
	if burst <= 0 {
		burst = 1
	}
	return &Feeder{
		engine:  engine,
		updater: updater,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Push throttles and forwards one spot observation.
func (f *Feeder) Push(ctx context.Context, class, id string, price *big.Int) error {
	if f == nil || f.engine == nil {
		return errNilFeeder
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("oracle feeder: wait for capacity: %w", err)
	}
	return f.engine.SetSpotPrice(f.updater, class, id, price)
}

// PushBatch throttles and forwards a batch, preserving its all-or-nothing
// semantics. The batch reserves one token per entry.
func (f *Feeder) PushBatch(ctx context.Context, updates []SpotUpdate) error {
	if f == nil || f.engine == nil {
		return errNilFeeder
	}
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > f.limiter.Burst() {
		return fmt.Errorf("oracle feeder: batch of %d exceeds burst %d", len(updates), f.limiter.Burst())
	}
	if err := f.limiter.WaitN(ctx, len(updates)); err != nil {
		return fmt.Errorf("oracle feeder: wait for capacity: %w", err)
	}
	return f.engine.BatchSetSpotPrices(f.updater, updates)
}

// PushFloor throttles and forwards a floor re-anchor.
func (f *Feeder) PushFloor(ctx context.Context, class string, price *big.Int) error {
	if f == nil || f.engine == nil {
		return errNilFeeder
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("oracle feeder: wait for capacity: %w", err)
	}
	return f.engine.SetFloorPrice(f.updater, class, price)
}
