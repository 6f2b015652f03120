package daemon

import (
	"context"
	"time"

	"whisperd/internal/logging"
)

// Watch runs the idle checker until ctx ends or the daemon shuts down.
func (d *Daemon) Watch(ctx context.Context) {
	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			if d.checkIdle() {
				return
			}
		}
	}
}

// checkIdle reports whether the daemon is shutting down after the check.
func (d *Daemon) checkIdle() bool {
	d.mu.Lock()
	if d.state == StateShuttingDown {
		d.mu.Unlock()
		return true
	}
	if d.busy {
		d.mu.Unlock()
		return false
	}
	idle := d.now().Sub(d.lastActivity)
	if idle < d.idleTimeout {
		if idle >= d.checkInterval {
			d.state = StateIdle
		}
		d.mu.Unlock()
		return false
	}
	first, release := d.enterShutdownLocked(ReasonIdleTimeout)
	d.mu.Unlock()

	d.logger.Info("idle timeout reached",
		logging.String(logging.FieldEventType, "idle_timeout"),
		logging.Duration("idle", idle),
		logging.Duration("idle_timeout", d.idleTimeout),
	)
	d.finishShutdown(first, release, ReasonIdleTimeout)
	return true
}
