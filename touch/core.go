// Package touch implements the protocol and session layer of TrueTouch
// standard product (TTSP) capacitive touch controllers: the mode state
// machine, command execution, interrupt routing, exclusive access,
// system information parsing, touch decoding, configuration blocks,
// sleep and wake sequencing and the liveness watchdog.
package touch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/ttsp"
)

// ConfigInfo describes the persistent touch configuration.
type ConfigInfo struct {
	Version   uint16 `yaml:"version"`
	Length    uint16 `yaml:"length"`
	MaxLength uint16 `yaml:"maxLength"`
	CRC       uint16 `yaml:"crc"`
}

// waitFlag is a pending operation resolved by the interrupt router.
// It is guarded by Core.mx.
type waitFlag struct {
	set  bool
	done chan struct{}
}

func (f *waitFlag) raise() {
	if f.set {
		return
	}
	f.set = true
	f.done = make(chan struct{})
}

func (f *waitFlag) clear() bool {
	if !f.set {
		return false
	}
	f.set = false
	close(f.done)
	return true
}

// Core is a session with one controller.
type Core struct {
	name string
	bus  ttsp.RegisterBus
	opts Opts
	log  *slog.Logger

	// transport lock
	busMx sync.Mutex

	// state lock
	mx           sync.Mutex
	changed      chan struct{}
	mode         Mode
	sleep        SleepState
	startup      StartupState
	modeChange   waitFlag
	exec         waitFlag
	awake        waitFlag
	ignoreIRQ    bool
	gestureArmed bool
	heartbeats   int
	wakeByDevice bool
	invalidApp   bool
	blFastExit   bool
	stopped      bool
	irqEnabled   bool
	closed       bool
	layout       *Layout
	window       []byte
	ttconfig     ConfigInfo
	refreshCycle time.Duration
	gesture      byte
	scan         scanState
	restarts     int

	arbiter     *Arbiter
	events      *EventBus
	executor    *Executor
	ownExecutor bool
	watchdog    *watchdog
	submit      func(name string, fn func(ctx context.Context)) error
}

// New creates a session on bus. The controller is not touched until
// Start is called.
func New(name string, bus ttsp.RegisterBus, opts ...Opt) (*Core, error) {
	o := DefaultOpts()
	for _, opt := range opts {
		opt(&o)
	}
	if bus == nil {
		return nil, fmt.Errorf("%w: nil register bus", ErrInvalidArgument)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", name)
	c := &Core{
		name:         name,
		bus:          bus,
		opts:         o,
		log:          logger,
		changed:      make(chan struct{}),
		gesture:      o.EasyWakeGesture,
		refreshCycle: o.RefreshCycle,
		irqEnabled:   true,
		arbiter:      NewArbiter(),
		events:       NewEventBus(),
		executor:     o.Executor,
	}
	if c.executor == nil {
		c.executor = NewExecutor(o.Workers, o.QueueSize, logger)
		c.ownExecutor = true
	}
	c.submit = c.executor.Submit
	c.watchdog = newWatchdog(o.WatchdogInterval, c.watchdogExpired)
	return c, nil
}

func (c *Core) Name() string {
	return c.name
}

// Start brings the controller up synchronously. It fails with
// ErrNotDetected when nothing answered the reset and with
// ErrCorruptedApplication when the bootloader refused to launch the
// touch application.
func (c *Core) Start(ctx context.Context) error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return ErrClosed
	}
	c.mx.Unlock()
	return c.runStartup(ctx)
}

// Close stops the watchdog and the background executor. It does not
// touch the controller.
func (c *Core) Close() error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return nil
	}
	c.closed = true
	c.broadcast()
	c.mx.Unlock()
	c.watchdog.shutdown()
	if c.ownExecutor {
		c.executor.Close()
	}
	return nil
}

// Events is the attention bus of the session.
func (c *Core) Events() *EventBus {
	return c.events
}

// Subscribe is a shortcut for Events().Subscribe.
func (c *Core) Subscribe(class EventClass, mode Mode, fn Handler) (string, error) {
	return c.events.Subscribe(class, mode, fn)
}

func (c *Core) Unsubscribe(class EventClass, id string) error {
	return c.events.Unsubscribe(class, id)
}

// RequestExclusive takes the exclusive token for owner. The watchdog
// probe is held off while the token is held or awaited.
func (c *Core) RequestExclusive(ctx context.Context, owner any, timeout time.Duration) error {
	c.watchdog.hold()
	if err := c.arbiter.Acquire(ctx, owner, timeout); err != nil {
		c.watchdog.unhold()
		return err
	}
	return nil
}

func (c *Core) ReleaseExclusive(owner any) error {
	if err := c.arbiter.Release(owner); err != nil {
		return err
	}
	c.watchdog.unhold()
	return nil
}

// exclusive runs fn holding the token on behalf of the core itself.
func (c *Core) exclusive(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	if err := c.RequestExclusive(ctx, c, c.opts.ExclusiveTimeout); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	err := fn(ctx)
	if rerr := c.ReleaseExclusive(c); rerr != nil {
		c.log.Error("could not release exclusive access", "op", what, "error", rerr)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// Mode returns the current mode.
func (c *Core) Mode() Mode {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.mode
}

// Layout returns the current system information or nil before the first
// successful startup.
func (c *Core) Layout() *Layout {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.layout
}

func (c *Core) requireLayout() (*Layout, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.layout == nil {
		return nil, ErrNotReady
	}
	return c.layout, nil
}

func (c *Core) read(ctx context.Context, addr uint16, n int) ([]byte, error) {
	buf := make([]byte, n)
	c.busMx.Lock()
	err := c.bus.ReadReg(ctx, addr, buf)
	c.busMx.Unlock()
	if err != nil {
		return nil, ioError(fmt.Sprintf("read %d bytes at 0x%02X", n, addr), err)
	}
	return buf, nil
}

func (c *Core) readInto(ctx context.Context, addr uint16, buf []byte) error {
	c.busMx.Lock()
	err := c.bus.ReadReg(ctx, addr, buf)
	c.busMx.Unlock()
	if err != nil {
		return ioError(fmt.Sprintf("read %d bytes at 0x%02X", len(buf), addr), err)
	}
	return nil
}

func (c *Core) write(ctx context.Context, addr uint16, data []byte) error {
	c.busMx.Lock()
	err := c.bus.WriteReg(ctx, addr, data)
	c.busMx.Unlock()
	if err != nil {
		return ioError(fmt.Sprintf("write %d bytes at 0x%02X", len(data), addr), err)
	}
	return nil
}

// broadcast wakes every state waiter. Must hold c.mx.
func (c *Core) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Core) setModeLocked(m Mode) {
	if c.mode != m {
		c.log.Debug("mode changed", "from", c.mode, "to", m)
	}
	c.mode = m
	c.broadcast()
}

// waitCleared blocks until the router clears f. On timeout the flag is
// cleared by the waiter itself.
func (c *Core) waitCleared(ctx context.Context, f *waitFlag, timeout time.Duration, what string) error {
	c.mx.Lock()
	if !f.set {
		c.mx.Unlock()
		return nil
	}
	done := f.done
	c.mx.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var err error
	select {
	case <-done:
		return nil
	case <-timer.C:
		err = fmt.Errorf("%w: waiting for %s", ErrTimeout, what)
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	if f.done != done || !f.set {
		// resolved while the timer fired
		return nil
	}
	f.clear()
	return err
}

// waitState blocks until cond, evaluated under c.mx, holds.
func (c *Core) waitState(ctx context.Context, timeout time.Duration, what string, cond func() bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mx.Lock()
		if cond() {
			c.mx.Unlock()
			return nil
		}
		changed := c.changed
		c.mx.Unlock()
		select {
		case <-changed:
		case <-timer.C:
			c.mx.Lock()
			ok := cond()
			c.mx.Unlock()
			if ok {
				return nil
			}
			return fmt.Errorf("%w: waiting for %s", ErrTimeout, what)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IRQ line control. The line is owned by the platform; the core only
// masks it around power transitions.
func (c *Core) enableIRQLocked() {
	if c.irqEnabled {
		return
	}
	c.irqEnabled = true
	if c.opts.IRQ != nil {
		c.opts.IRQ.Enable()
	}
}

func (c *Core) disableIRQLocked() {
	if !c.irqEnabled {
		return
	}
	c.irqEnabled = false
	if c.opts.IRQ != nil {
		c.opts.IRQ.Disable()
	}
}
