package touch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

// queueStartupLocked schedules a restart unless one is already queued
// or running. Must hold c.mx.
func (c *Core) queueStartupLocked() {
	if c.startup != StartupNone || c.closed {
		return
	}
	if err := c.submit("startup", c.startupTask); err != nil {
		c.log.Error("could not queue startup", "error", err)
		return
	}
	c.startup = StartupQueued
	c.restarts++
	c.broadcast()
	c.log.Info("startup queued")
}

func (c *Core) startupTask(ctx context.Context) {
	if err := c.runStartup(ctx); err != nil {
		c.log.Error("startup failed", "error", err)
	}
}

// runStartup brings the controller up holding the exclusive token.
func (c *Core) runStartup(ctx context.Context) error {
	c.mx.Lock()
	c.startup = StartupRunning
	c.broadcast()
	c.mx.Unlock()

	defer func() {
		c.mx.Lock()
		c.startup = StartupNone
		c.broadcast()
		c.mx.Unlock()
	}()

	if err := c.RequestExclusive(ctx, c, c.opts.ExclusiveTimeout); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	err := c.bringUp(ctx)
	if rerr := c.ReleaseExclusive(c); rerr != nil {
		c.log.Error("could not release exclusive access", "op", "startup", "error", rerr)
	}
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	return nil
}

func (c *Core) bringUp(ctx context.Context) error {
	c.watchdog.stop()
	detected := false
	err := Retry(ctx, c.opts.StartupRetries, func(attempt int) error {
		if attempt > 0 {
			c.log.Warn("retrying startup", "attempt", attempt)
		}
		if err := c.resetAndWait(ctx); err != nil {
			c.log.Error("controller did not answer reset", "error", err)
			return err
		}
		detected = true
		return c.launch(ctx)
	})
	if err != nil {
		if !detected {
			return fmt.Errorf("%w: %w", ErrNotDetected, err)
		}
		if errors.Is(err, ErrCorruptedApplication) {
			return err
		}
		// leave the watchdog running so a later probe retries
		c.watchdog.start()
		return err
	}

	c.events.Publish(Event{Class: OnStartupComplete, Device: c.name, Mode: ModeOperational})

	c.mx.Lock()
	c.blFastExit = true
	restoreSleep := c.sleep == Asleep
	if restoreSleep {
		c.sleep = Awake
	}
	c.mx.Unlock()
	if restoreSleep {
		c.log.Info("restoring sleep state")
		if err := c.enterSleep(ctx); err != nil {
			c.log.Error("could not restore sleep state", "error", err)
		}
		return nil
	}
	c.watchdog.start()
	return nil
}

// launch exits the bootloader, loads the system information and puts
// the controller in operational mode.
func (c *Core) launch(ctx context.Context) error {
	c.mx.Lock()
	c.ignoreIRQ = false
	c.gestureArmed = false
	exit := ldrExit
	if c.opts.Flags&FlagPowerOffOnSleep != 0 && c.blFastExit {
		exit = ldrFastExit
	}
	c.modeChange.raise()
	err := c.write(ctx, regBase, exit)
	c.mx.Unlock()
	if err != nil {
		c.mx.Lock()
		c.modeChange.clear()
		c.mx.Unlock()
		return fmt.Errorf("bootloader exit: %w", err)
	}

	if err := c.waitState(ctx, c.opts.SysInfoTimeout, "sysinfo mode", func() bool { return c.mode == ModeSysInfo }); err != nil {
		c.mx.Lock()
		c.modeChange.clear()
		c.mx.Unlock()
		status, rerr := c.read(ctx, regBase, len(ldrErrApp))
		if rerr == nil && bytes.Equal(status, ldrErrApp) {
			c.mx.Lock()
			c.invalidApp = true
			c.mx.Unlock()
			c.log.Error("bootloader reports an invalid application")
			return Permanent(ErrCorruptedApplication)
		}
		return err
	}

	c.mx.Lock()
	c.invalidApp = false
	c.mx.Unlock()

	layout, hst, err := loadLayout(ctx, c.read)
	if err != nil {
		return fmt.Errorf("system information: %w", err)
	}
	c.mx.Lock()
	c.layout = layout
	c.window = make([]byte, layout.WindowSize())
	if !layout.Capability.TTSP.AtLeast(2, 5) {
		c.gesture = deepSleepGesture
	}
	c.mx.Unlock()
	c.log.Info("system information loaded",
		"ttsp", layout.Capability.TTSP,
		"firmware", layout.Capability.Firmware,
		"maxTouches", layout.MaxTouches,
		"buttons", layout.NumButtons)
	if err := c.Handshake(ctx, hst); err != nil {
		return err
	}

	if err := c.RequestMode(ctx, ModeOperational); err != nil {
		return err
	}

	if err := c.initScanType(ctx); err != nil {
		return fmt.Errorf("scan type: %w", err)
	}
	if err := c.loadConfigInfo(ctx); err != nil {
		return fmt.Errorf("touch configuration info: %w", err)
	}
	if v, err := c.getParameter(ctx, ParamRefreshInterval); err != nil {
		c.log.Warn("could not read refresh interval", "error", err)
	} else if v > 0 {
		c.mx.Lock()
		c.refreshCycle = time.Duration(v) * time.Millisecond
		c.mx.Unlock()
	}
	return nil
}

// resetAndWait resets the controller and waits for the bootloader.
func (c *Core) resetAndWait(ctx context.Context) error {
	c.mx.Lock()
	c.setModeLocked(ModeUnknown)
	c.heartbeats = 0
	c.mx.Unlock()

	if c.opts.Reset != nil {
		if err := c.opts.Reset(ctx); err != nil {
			return fmt.Errorf("hardware reset: %w", err)
		}
	} else if err := c.write(ctx, regBase, []byte{hstReset}); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}
	return c.waitState(ctx, c.opts.ResetTimeout, "bootloader", func() bool { return c.mode == ModeBootloader })
}

// Restart runs a full startup. With wait false it is only queued. A
// fast bootloader exit is never used for explicit restarts.
func (c *Core) Restart(ctx context.Context, wait bool) error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return ErrClosed
	}
	c.blFastExit = false
	if !wait {
		c.queueStartupLocked()
		c.mx.Unlock()
		return nil
	}
	c.mx.Unlock()
	if err := c.runStartup(ctx); err != nil {
		return err
	}
	if c.opts.CalibrateOnRestart {
		return c.Calibrate(ctx)
	}
	return nil
}

// WaitStartup blocks until no startup is queued or running.
func (c *Core) WaitStartup(ctx context.Context, timeout time.Duration) error {
	return c.waitState(ctx, timeout, "startup", func() bool { return c.startup == StartupNone })
}
