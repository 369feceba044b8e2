package tracker

import (
	"context"
	"time"
)

// DefaultPollInterval is the polling cadence used when Watch gets no interval.
const DefaultPollInterval = 5 * time.Second

/*
Watch polls a tracked transaction until it is terminal or ctx is done.

Parameters:
  - ctx: stops the loop; the transaction stays tracked until StopTracking
  - t: the tracker holding the transaction
  - h: handle returned by StartTracking
  - interval: time between polls, DefaultPollInterval when zero
  - fn: called with every snapshot, may be nil

Returns:
  - the last snapshot
  - ErrUnknownHandle if the handle is stopped while watching, or ctx.Err()
*/
func Watch(
	ctx context.Context,
	t *Tracker,
	h Handle,
	interval time.Duration,
	fn func(TrackedTransaction),
) (TrackedTransaction, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tx, err := t.Poll(ctx, h)
		if err != nil {
			return tx, err
		}
		if fn != nil {
			fn(tx)
		}
		if tx.Status.Terminal() {
			return tx, nil
		}

		select {
		case <-ctx.Done():
			return tx, ctx.Err()
		case <-ticker.C:
		}
	}
}
