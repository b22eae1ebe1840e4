package imapsmtp

import (
	"context"
	"time"

	"mailengine/internal/apperr"
)

// idleRenewal is RFC 2177's recommended cap; the spec requires exiting and
// re-entering IDLE at most every 29 minutes.
const idleRenewal = 29 * time.Minute

// reconnectDelay is the fixed backoff before a reconnect attempt after an
// I/O error, per spec §4.2 step 4.
const reconnectDelay = 30 * time.Second

// IdleLoop selects folder and enters IDLE, calling onNew on every
// EXISTS/EXPUNGE notification, renewing the IDLE command at most every 29
// minutes, and reconnecting with a fixed 30s delay on I/O errors. It
// returns only when ctx is cancelled.
//
// Grounded on other_examples' coreseekdev-emx-mail watch.go: an IDLE
// command raced against a capped timer and the context's Done channel,
// with a NOOP-equivalent re-entry on timeout rather than a hard error.
func (c *Client) IdleLoop(ctx context.Context, folder string, onNew func(folder string)) error {
	for {
		if err := ctx.Err(); err != nil {
			return apperr.ErrCancelled
		}

		if err := c.idleOnce(ctx, folder, onNew); err != nil {
			if err == apperr.ErrCancelled {
				return err
			}
			// A failed reconnect is retried on the next pass (idleOnce
			// fails on the dead connection and reconnect waits again).
			if err := c.reconnect(ctx); err == apperr.ErrCancelled {
				return err
			}
		}
	}
}

func (c *Client) idleOnce(ctx context.Context, folder string, onNew func(folder string)) error {
	c.mu.Lock()
	if _, err := c.conn.Select(folder, nil).Wait(); err != nil {
		c.mu.Unlock()
		return apperr.ErrTransportTransient
	}

	notifications := make(chan struct{}, 1)
	c.conn.SetUnilateralDataHandler(unilateralHandler(notifications))

	idleCmd, err := c.conn.Idle()
	c.mu.Unlock()
	if err != nil {
		return apperr.ErrTransportTransient
	}

	timer := time.NewTimer(idleRenewal)
	defer timer.Stop()

	select {
	case <-notifications:
		idleCmd.Close()
		onNew(folder)
		return nil
	case <-timer.C:
		idleCmd.Close()
		return nil
	case <-ctx.Done():
		idleCmd.Close()
		return apperr.ErrCancelled
	}
}
