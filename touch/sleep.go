package touch

import (
	"context"
	"fmt"
	"time"
)

// time the controller needs to wake from easy wakeup compared to deep sleep
const easyWakeupFactor = 4

// Sleep puts the controller into low power. When the exclusive token
// cannot be obtained in time the request is dropped.
func (c *Core) Sleep(ctx context.Context) error {
	if err := c.RequestExclusive(ctx, c, c.opts.SleepExclusiveTimeout); err != nil {
		c.log.Warn("sleep skipped, exclusive access unavailable", "error", err)
		return nil
	}
	if c.powerOffOnSleep() {
		c.mx.Lock()
		c.disableIRQLocked()
		c.mx.Unlock()
	}
	err := c.enterSleep(ctx)
	if rerr := c.ReleaseExclusive(c); rerr != nil {
		c.log.Error("could not release exclusive access", "op", "sleep", "error", rerr)
	}
	if err != nil {
		return fmt.Errorf("sleep: %w", err)
	}
	// let an in-flight scan finish
	c.mx.Lock()
	settle := 2 * c.refreshCycle
	c.mx.Unlock()
	return sleepCtx(ctx, settle)
}

func (c *Core) powerOffOnSleep() bool {
	return c.opts.Flags&FlagPowerOffOnSleep != 0
}

// enterSleep runs the configured sleep strategy. It is a no-op unless
// the controller is awake. The watchdog is not restarted.
func (c *Core) enterSleep(ctx context.Context) error {
	c.mx.Lock()
	if c.sleep != Awake {
		c.mx.Unlock()
		return nil
	}
	c.sleep = Sleeping
	c.broadcast()
	c.mx.Unlock()

	c.watchdog.stop()
	var err error
	if c.powerOffOnSleep() {
		c.log.Debug("powering controller off")
		err = c.opts.Power(ctx, false)
	} else {
		err = c.sleepDevice(ctx)
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if err != nil {
		c.sleep = Awake
		c.broadcast()
		return err
	}
	c.sleep = Asleep
	c.broadcast()
	c.log.Info("controller asleep")
	return nil
}

// sleepDevice uses register level sleep: deep sleep through the host
// mode register, or easy wakeup through a wait-for-event command.
func (c *Core) sleepDevice(ctx context.Context) error {
	hdr, err := c.read(ctx, regBase, 2)
	if err != nil {
		return err
	}
	if isBootloader(hdr[0], hdr[1]) {
		return fmt.Errorf("%w: controller in bootloader", ErrInvalidArgument)
	}
	if deviceMode(hdr[0]) != ModeOperational {
		if err := c.RequestMode(ctx, ModeOperational); err != nil {
			c.log.Error("could not return to operational mode before sleep", "error", err)
			c.mx.Lock()
			c.queueStartupLocked()
			c.mx.Unlock()
			return nil
		}
		if hdr, err = c.read(ctx, regBase, 1); err != nil {
			return err
		}
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if deepSleepConfigured(c.gesture) {
		return c.enterDeepSleepLocked(ctx, hdr[0])
	}
	if c.layout == nil || !c.layout.Capability.TTSP.AtLeast(2, 5) {
		return fmt.Errorf("%w: easy wakeup needs TTSP 2.5", ErrInvalidArgument)
	}
	if err := c.issueLocked(ctx, ModeOperational, []byte{OpWaitForEvent, c.gesture}); err != nil {
		c.exec.clear()
		return fmt.Errorf("wait for event: %w", err)
	}
	// the completion arrives as the wake signal, not as a command result
	c.exec.clear()
	c.gestureArmed = true
	c.ignoreIRQ = true
	return nil
}

// enterDeepSleepLocked sets the sleep bit of the host mode register.
// Must hold c.mx.
func (c *Core) enterDeepSleepLocked(ctx context.Context, hst byte) error {
	c.ignoreIRQ = true
	if err := c.write(ctx, regBase, []byte{hst | hstSleep}); err != nil {
		return err
	}
	if c.opts.Power != nil {
		if err := c.opts.Power(ctx, false); err != nil {
			return fmt.Errorf("power off: %w", err)
		}
	}
	return nil
}

// Wake brings the controller back from low power and waits for any
// restart the wakeup triggered.
func (c *Core) Wake(ctx context.Context) error {
	if err := c.RequestExclusive(ctx, c, c.opts.ExclusiveTimeout); err != nil {
		return fmt.Errorf("wake: %w", err)
	}
	if c.powerOffOnSleep() {
		c.mx.Lock()
		c.enableIRQLocked()
		c.mx.Unlock()
	}
	err := c.leaveSleep(ctx)
	if rerr := c.ReleaseExclusive(c); rerr != nil {
		c.log.Error("could not release exclusive access", "op", "wake", "error", rerr)
	}
	if err != nil {
		return fmt.Errorf("wake: %w", err)
	}
	return c.WaitStartup(ctx, c.opts.ResetTimeout)
}

// leaveSleep runs the wake strategy. Failures queue a restart rather
// than leave the controller in an unknown state.
func (c *Core) leaveSleep(ctx context.Context) error {
	c.mx.Lock()
	if c.sleep != Asleep {
		c.mx.Unlock()
		return nil
	}
	c.sleep = Waking
	c.ignoreIRQ = false
	c.gestureArmed = false
	c.broadcast()
	c.mx.Unlock()

	var err error
	if c.powerOffOnSleep() {
		err = c.powerOn(ctx)
	} else {
		err = c.awakeDevice(ctx)
	}

	c.mx.Lock()
	if err != nil {
		c.log.Error("wakeup failed, restarting", "error", err)
		c.queueStartupLocked()
	}
	c.sleep = Awake
	c.broadcast()
	c.mx.Unlock()
	c.watchdog.start()
	return nil
}

// powerOn restores the rails and walks the controller through the
// bootloader into operational mode.
func (c *Core) powerOn(ctx context.Context) error {
	c.mx.Lock()
	c.setModeLocked(ModeUnknown)
	c.mx.Unlock()
	if err := c.opts.Power(ctx, true); err != nil {
		return fmt.Errorf("power on: %w", err)
	}
	if err := c.waitState(ctx, c.opts.ResetTimeout, "bootloader", func() bool { return c.mode == ModeBootloader }); err != nil {
		return err
	}
	c.mx.Lock()
	c.ignoreIRQ = false
	exit := ldrExit
	if c.blFastExit {
		exit = ldrFastExit
	}
	c.modeChange.raise()
	err := c.write(ctx, regBase, exit)
	if err != nil {
		c.modeChange.clear()
	}
	c.mx.Unlock()
	if err != nil {
		return fmt.Errorf("bootloader exit: %w", err)
	}
	if err := c.waitState(ctx, c.opts.SysInfoTimeout, "sysinfo mode", func() bool { return c.mode == ModeSysInfo }); err != nil {
		c.mx.Lock()
		c.modeChange.clear()
		c.mx.Unlock()
		return err
	}
	return c.RequestMode(ctx, ModeOperational)
}

// awakeDevice wakes a controller in register level sleep. A controller
// woken by its own gesture only needs a refresh cycle to settle.
func (c *Core) awakeDevice(ctx context.Context) error {
	c.mx.Lock()
	if c.wakeByDevice {
		c.wakeByDevice = false
		c.mx.Unlock()
		return sleepCtx(ctx, c.opts.RefreshCycle)
	}
	timeout := c.opts.WakeupTimeout
	if !deepSleepConfigured(c.gesture) {
		timeout *= easyWakeupFactor
	}
	c.awake.raise()
	c.mx.Unlock()

	var err error
	if c.opts.Power != nil {
		err = c.opts.Power(ctx, true)
	} else if _, err = c.read(ctx, regBase, 1); err != nil {
		// the first transfer may only wake the bus interface
		_, err = c.read(ctx, regBase, 1)
	}
	if err != nil {
		c.mx.Lock()
		c.awake.clear()
		c.mx.Unlock()
		return err
	}

	if werr := c.waitCleared(ctx, &c.awake, timeout, "wake signal"); werr != nil {
		hst, err := c.read(ctx, regBase, 1)
		if err != nil {
			return err
		}
		if deviceMode(hst[0]) != ModeOperational {
			return fmt.Errorf("%w: controller in %s mode after wakeup", ErrProtocol, deviceMode(hst[0]))
		}
		c.log.Debug("wake signal missed, controller operational", "error", werr)
	}
	return nil
}

// Stop parks the touch path: the controller is put to sleep and the
// interrupt line masked until Resume.
func (c *Core) Stop(ctx context.Context) error {
	c.mx.Lock()
	if c.stopped {
		c.mx.Unlock()
		return nil
	}
	c.stopped = true
	c.mx.Unlock()
	err := c.Sleep(ctx)
	c.mx.Lock()
	c.disableIRQLocked()
	c.mx.Unlock()
	return err
}

func (c *Core) Resume(ctx context.Context) error {
	c.mx.Lock()
	if !c.stopped {
		c.mx.Unlock()
		return nil
	}
	c.stopped = false
	c.enableIRQLocked()
	c.mx.Unlock()
	return c.Wake(ctx)
}

// SleepState returns the sleep sequencer state.
func (c *Core) SleepState() SleepState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.sleep
}

// SetEasyWakeGesture selects the gesture armed on the next sleep. 0xFF
// selects deep sleep.
func (c *Core) SetEasyWakeGesture(g byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if g != deepSleepGesture && (c.layout == nil || !c.layout.Capability.TTSP.AtLeast(2, 5)) {
		return fmt.Errorf("%w: easy wakeup gesture needs TTSP 2.5", ErrInvalidArgument)
	}
	c.gesture = g
	return nil
}

func (c *Core) EasyWakeGesture() byte {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.gesture
}

// RefreshCycle is the scan period reported by the controller.
func (c *Core) RefreshCycle() time.Duration {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.refreshCycle
}
