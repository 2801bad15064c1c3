package segment

import (
	"errors"
	"fmt"
	"time"
)

// reconnect replaces the current connection and fails every read pending at that point with cause.
// If no connection can be established the slot is left empty and Read reports ErrNotConnected.
func (r *Reader) reconnect(cause error) error {
	if cause == nil {
		cause = ErrConnectionFailed
	}

	for round := 1; ; round++ {
		ref, err := r.establish()
		if r.closed.Load() {
			cause = ErrClosed
		}

		var old Connection
		if err != nil {
			old = r.slot.takeAndClear()
		} else {
			old = r.slot.swap(ref)
			if r.closed.Load() {
				if conn := r.slot.takeAndClear(); conn != nil {
					conn.Drop()
				}
			}
		}

		if old != nil {
			old.Drop()
		}

		if n := r.pending.drainAndFail(cause); n > 0 {
			r.logger.Printf("Failed %d pending read(s) on segment '%s': %v", n, r.segment, cause)
		}

		if err != nil {
			r.logger.Printf("Unable to connect to '%s' for segment '%s': %v", r.endpoint, r.segment, err)
			return err
		}

		if r.closed.Load() {
			return ErrClosed
		}

		if ref.settle() {
			return nil
		}

		// The new session ended before it settled, so nobody else will replace it.
		cause = fmt.Errorf("%w: connection to '%s' dropped", ErrConnectionFailed, r.endpoint)
		if round >= r.opts.maxAttempts {
			if r.slot.clearIf(ref) {
				ref.conn.Drop()
			}
			r.pending.drainAndFail(cause)
			r.logger.Printf("Giving up on '%s' for segment '%s' after %d unstable connections.", r.endpoint, r.segment, round)
			return cause
		}
	}
}

// establish makes up to maxAttempts connection attempts, sleeping between them according to the
// backoff schedule. It gives up early if the reader is closed or the factory reports a failure
// wrapping ErrPermanent.
func (r *Reader) establish() (*connRef, error) {
	b := r.opts.backoff

	var err error
	for attempt := 1; ; attempt++ {
		ref := &connRef{}

		ref.conn, err = r.factory.Establish(r.endpoint, &responseProcessor{r: r, ref: ref})
		if err == nil {
			return ref, nil
		}

		if errors.Is(err, ErrPermanent) {
			return nil, fmt.Errorf("%w: cannot connect to '%s': %w", ErrConnectionFailed, r.endpoint, err)
		}

		if attempt >= r.opts.maxAttempts {
			return nil, fmt.Errorf("%w: giving up on '%s' after %d attempt(s): %w", ErrConnectionFailed, r.endpoint, attempt, err)
		}

		d := b.Duration()
		r.logger.Printf("Trying to reconnect to %s for segment '%s'. Sleeping for %s.", r.endpoint, r.segment, d)

		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-r.done:
			t.Stop()
			return nil, ErrClosed
		}
	}
}
