package touch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// watchdog periodically fires a liveness probe. It is armed by the
// session lifecycle and held off while the exclusive token is in use.
type watchdog struct {
	mx       sync.Mutex
	interval time.Duration
	fire     func()
	timer    *time.Timer
	armed    bool
	holds    int
	closed   bool
}

func newWatchdog(interval time.Duration, fire func()) *watchdog {
	return &watchdog{interval: interval, fire: fire}
}

func (w *watchdog) start() {
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.closed {
		return
	}
	w.armed = true
	w.schedule()
}

func (w *watchdog) stop() {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.armed = false
	w.cancel()
}

// shutdown disarms the watchdog for good.
func (w *watchdog) shutdown() {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.closed = true
	w.armed = false
	w.cancel()
}

func (w *watchdog) hold() {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.holds++
	w.cancel()
}

func (w *watchdog) unhold() {
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.holds > 0 {
		w.holds--
	}
	w.schedule()
}

// active reports whether a probe result still matters.
func (w *watchdog) active() bool {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.armed && w.holds == 0
}

func (w *watchdog) schedule() {
	if w.interval <= 0 || w.closed || !w.armed || w.holds > 0 {
		return
	}
	w.cancel()
	w.timer = time.AfterFunc(w.interval, w.fire)
}

func (w *watchdog) cancel() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// watchdogExpired runs on the timer goroutine and only enqueues the probe.
func (c *Core) watchdogExpired() {
	if err := c.submit("watchdog", c.probe); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		c.log.Warn("could not schedule watchdog probe", "error", err)
		c.watchdog.start()
	}
}

// probe checks that the controller still runs its application. Failing
// to get the token or finding the bootloader schedules a restart.
func (c *Core) probe(ctx context.Context) {
	if !c.watchdog.active() {
		return
	}
	restart := false
	if err := c.arbiter.Acquire(ctx, c, c.opts.WatchdogProbeTimeout); err != nil {
		// an exclusive holder pauses the watchdog, so a busy token here
		// means someone bypassed the session
		restart = c.watchdog.active()
		c.log.Debug("watchdog could not get exclusive access", "error", err, "restart", restart)
		if !restart {
			return
		}
	} else {
		hdr, err := c.read(ctx, regBase, 2)
		switch {
		case err != nil:
			c.log.Error("watchdog failed to access device", "error", err)
			restart = true
		case isBootloader(hdr[0], hdr[1]):
			c.log.Error("watchdog found device in bootloader mode")
			restart = true
		}
		if err := c.arbiter.Release(c); err != nil {
			c.log.Error("watchdog could not release exclusive access", "error", err)
		}
	}
	if restart {
		c.mx.Lock()
		c.queueStartupLocked()
		c.mx.Unlock()
		return
	}
	c.watchdog.start()
}
