package touch

import (
	"context"
	"time"
)

// maximum consecutive bootloader idle interrupts tolerated
const bootloaderIdleLimit = 3

// HandleInterrupt is the single entry point for controller interrupts.
// It updates the session state, resolves pending waits and acknowledges
// the event. Subscribers are invoked after the state lock is released;
// restarts are only queued.
func (c *Core) HandleInterrupt(ctx context.Context) {
	c.mx.Lock()
	events, settle := c.route(ctx)
	c.mx.Unlock()
	if settle > 0 {
		time.Sleep(settle)
	}
	for _, ev := range events {
		ev.Device = c.name
		c.events.Publish(ev)
	}
}

func (c *Core) headerSize() int {
	n := 3
	if c.layout != nil && c.layout.CommandOffset+1 > n {
		n = c.layout.CommandOffset + 1
	}
	return n
}

// route runs the interrupt state machine. Must hold c.mx.
func (c *Core) route(ctx context.Context) ([]Event, time.Duration) {
	if c.sleep == Asleep && !c.gestureArmed && c.startup != StartupRunning {
		c.log.Debug("ignoring interrupt while asleep")
		return nil, 0
	}
	hdr, err := c.read(ctx, regBase, c.headerSize())
	if err != nil {
		c.log.Error("could not read interrupt status", "error", err)
		return nil, 0
	}

	if isBootloader(hdr[0], hdr[1]) {
		return c.routeBootloader(hdr), 0
	}

	cur := deviceMode(hdr[0])
	cmdStatus := hdr[c.statusRegister(cur)]
	var events []Event

	switch {
	case c.ignoreIRQ && deepSleepConfigured(c.gesture):
		if err := c.enterDeepSleepLocked(ctx, hdr[0]); err != nil {
			c.log.Error("could not re-enter deep sleep", "error", err)
		}
		return nil, 0
	case c.ignoreIRQ && cmdStatus&cmdMask == OpWaitForEvent && cmdStatus&cmdComplete != 0:
		c.log.Debug("wake gesture detected")
		c.wakeByDevice = true
		c.gestureArmed = false
		events = append(events, Event{Class: OnWakeSignal})
		return events, c.handshakeLocked(ctx, hdr[0])
	case c.awake.clear():
		c.log.Debug("controller awake")
		c.broadcast()
		return nil, c.handshakeLocked(ctx, hdr[0])
	case c.modeChange.set && hdr[0]&hstModeChange == 0:
		c.modeChange.clear()
		c.setModeLocked(cur)
		return nil, c.handshakeLocked(ctx, hdr[0])
	case hdr[0]&hstModeChange == 0 && c.mode != cur:
		c.log.Warn("unexpected mode change", "have", c.mode, "device", cur)
		c.queueStartupLocked()
		return nil, 0
	}

	complete := false
	if c.exec.set && cmdStatus&cmdComplete != 0 {
		complete = true
		c.exec.clear()
		c.log.Debug("command complete")
	}

	ev := Event{Class: OnInterrupt, Mode: c.mode}
	if c.mode == ModeOperational && c.layout != nil {
		copy(c.window, hdr)
		report, err := c.loadReport(ctx, !complete)
		if err != nil {
			c.log.Error("could not load touch report", "error", err)
		} else {
			ev.Report = report
		}
	}
	events = append(events, ev)
	return events, c.handshakeLocked(ctx, hdr[0])
}

// routeBootloader handles bootloader traffic: heartbeats confirm a
// reset, anything else means the application dropped out. Must hold c.mx.
func (c *Core) routeBootloader(hdr []byte) []Event {
	events := []Event{{Class: OnInterrupt, Mode: ModeBootloader}}
	if c.mode != ModeBootloader {
		c.heartbeats = 0
	}
	if c.mode != ModeBootloader && c.mode != ModeUnknown {
		c.log.Warn("device dropped into bootloader", "mode", c.mode)
		c.setModeLocked(ModeUnknown)
		c.queueStartupLocked()
		return events
	}
	if c.mode == ModeBootloader && isBootloaderIdle(hdr[0], hdr[1]) {
		c.heartbeats++
		if c.heartbeats > bootloaderIdleLimit {
			c.log.Warn("device stuck in bootloader idle", "count", c.heartbeats)
			c.heartbeats = 0
			c.queueStartupLocked()
			return events
		}
	}
	c.setModeLocked(ModeBootloader)
	return events
}

// statusRegister is the header index of the command status byte.
func (c *Core) statusRegister(m Mode) int {
	if m == ModeOperational && c.layout != nil {
		return c.layout.CommandOffset
	}
	return regCATCmd
}

// handshakeLocked acknowledges the interrupt and returns the settle
// delay for level triggered lines. Must hold c.mx.
func (c *Core) handshakeLocked(ctx context.Context, mode byte) time.Duration {
	if err := c.Handshake(ctx, mode); err != nil {
		c.log.Error("handshake failed", "error", err)
	}
	return c.opts.LevelIRQDelay
}

// loadReport reads the status and touch registers of an operational
// interrupt into the window and decodes it. With optimize the first
// touch record is fetched together with the status. Must hold c.mx.
func (c *Core) loadReport(ctx context.Context, optimize bool) (*Report, error) {
	l := c.layout
	first := l.ReportHeaderSize
	if optimize {
		first += l.RecordSize
	}
	if l.ReportOffset+first > len(c.window) {
		first = len(c.window) - l.ReportOffset
	}
	if err := c.readInto(ctx, uint16(l.ReportOffset), c.window[l.ReportOffset:l.ReportOffset+first]); err != nil {
		return nil, err
	}
	n, err := l.touchCount(c.window)
	if err != nil {
		return nil, err
	}
	remaining := n
	next := l.DataOffset()
	if optimize {
		remaining--
		next += l.RecordSize
	}
	if remaining > 0 {
		if err := c.readInto(ctx, uint16(next), c.window[next:next+remaining*l.RecordSize]); err != nil {
			return nil, err
		}
	}
	report, err := l.DecodeReport(c.window[:l.DataOffset()+n*l.RecordSize])
	if err != nil {
		return nil, err
	}
	if l.NoiseSize > 0 {
		if report.Noise, err = c.read(ctx, uint16(l.NoiseOffset), l.NoiseSize); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func deepSleepConfigured(gesture byte) bool {
	return gesture == deepSleepGesture
}
