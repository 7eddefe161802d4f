package touch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// cmdOffset returns the command register of mode. Must hold c.mx.
func (c *Core) cmdOffset(m Mode) (int, error) {
	switch m {
	case ModeDiagnostic:
		return regCATCmd, nil
	case ModeOperational:
		if c.layout == nil {
			return 0, ErrNotReady
		}
		return c.layout.CommandOffset, nil
	}
	return 0, fmt.Errorf("%w: no command interface in %s mode", ErrAccessDenied, m)
}

// issueLocked writes one command if the previous one has completed.
// The command pending flag is raised either way so the caller can wait
// for the completion interrupt. Must hold c.mx.
func (c *Core) issueLocked(ctx context.Context, mode Mode, cmd []byte) error {
	if mode != c.mode {
		return fmt.Errorf("%w: command for %s mode while in %s", ErrAccessDenied, mode, c.mode)
	}
	ofs, err := c.cmdOffset(mode)
	if err != nil {
		return err
	}
	status, err := c.read(ctx, uint16(ofs), 1)
	if err != nil {
		return err
	}
	c.exec.raise()
	if status[0]&cmdComplete == 0 {
		return ErrBusy
	}
	if len(cmd) > 1 {
		if err := c.write(ctx, uint16(ofs+1), cmd[1:]); err != nil {
			return err
		}
	}
	return c.write(ctx, uint16(ofs), []byte{cmd[0] & cmdMask})
}

// Exec runs one command in mode and returns respLen response bytes read
// after the command register. When the previous command is still
// running, Exec waits for its completion and retries once. A zero
// timeout returns right after the command was written. The caller must
// hold the exclusive token when other sessions may issue commands.
func (c *Core) Exec(ctx context.Context, mode Mode, cmd []byte, respLen int, timeout time.Duration) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidArgument)
	}
	c.mx.Lock()
	err := c.issueLocked(ctx, mode, cmd)
	c.mx.Unlock()
	if errors.Is(err, ErrBusy) {
		c.log.Debug("command interface busy, waiting", "cmd", commandName(mode, cmd[0]))
		if werr := c.waitCleared(ctx, &c.exec, c.opts.CommandTimeout, "previous command"); werr != nil {
			return nil, commandError(mode, cmd[0], werr)
		}
		c.mx.Lock()
		err = c.issueLocked(ctx, mode, cmd)
		c.mx.Unlock()
	}
	if err != nil {
		return nil, commandError(mode, cmd[0], err)
	}
	if timeout == 0 {
		return nil, nil
	}
	if err := c.waitCleared(ctx, &c.exec, timeout, "command completion"); err != nil {
		return nil, commandError(mode, cmd[0], err)
	}
	if respLen == 0 {
		return nil, nil
	}
	c.mx.Lock()
	ofs, err := c.cmdOffset(mode)
	c.mx.Unlock()
	if err != nil {
		return nil, commandError(mode, cmd[0], err)
	}
	resp, err := c.read(ctx, uint16(ofs+1), respLen)
	if err != nil {
		return nil, commandError(mode, cmd[0], err)
	}
	return resp, nil
}

// command runs cmd with the default timeout and checks the status byte.
func (c *Core) command(ctx context.Context, mode Mode, cmd []byte, respLen int, timeout time.Duration) ([]byte, error) {
	resp, err := c.Exec(ctx, mode, cmd, respLen, timeout)
	if err != nil {
		return nil, err
	}
	if respLen > 0 && resp[0] != statusSuccess {
		return resp, commandError(mode, cmd[0], fmt.Errorf("%w: status 0x%02X", ErrProtocol, resp[0]))
	}
	return resp, nil
}

// RequestMode switches the controller to target and blocks until the
// interrupt router confirms the change.
func (c *Core) RequestMode(ctx context.Context, target Mode) error {
	bits, err := modeBits(target)
	if err != nil {
		return err
	}
	c.mx.Lock()
	hst, err := c.read(ctx, regBase, 1)
	if err != nil {
		c.mx.Unlock()
		return fmt.Errorf("set mode %s: %w", target, err)
	}
	next := hst[0]&^hstModeMask | bits | hstModeChange
	c.modeChange.raise()
	err = c.write(ctx, regBase, []byte{next})
	if err != nil {
		c.modeChange.clear()
	}
	c.mx.Unlock()
	if err != nil {
		return fmt.Errorf("set mode %s: %w", target, err)
	}
	if err := c.waitCleared(ctx, &c.modeChange, c.opts.ModeChangeTimeout, "mode change"); err != nil {
		return fmt.Errorf("set mode %s: %w", target, err)
	}
	c.log.Debug("mode change confirmed", "mode", target)
	return nil
}

// Handshake acknowledges an event by writing mode back with its toggle
// bit flipped. Nothing is written while a mode change is in progress.
func (c *Core) Handshake(ctx context.Context, mode byte) error {
	if mode&hstModeChange != 0 {
		return nil
	}
	return c.write(ctx, regBase, []byte{mode ^ hstToggle})
}

// ToggleLowPower flips the low power bit of the host mode register.
func (c *Core) ToggleLowPower(ctx context.Context, mode byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.write(ctx, regBase, []byte{mode ^ hstLowPower})
}

// Read reads registers while the controller is in mode.
func (c *Core) Read(ctx context.Context, mode Mode, addr uint16, n int) ([]byte, error) {
	c.mx.Lock()
	cur := c.mode
	c.mx.Unlock()
	if mode != cur {
		return nil, fmt.Errorf("%w: read in %s mode while in %s", ErrAccessDenied, mode, cur)
	}
	return c.read(ctx, addr, n)
}

// Write writes registers while the controller is in mode.
func (c *Core) Write(ctx context.Context, mode Mode, addr uint16, data []byte) error {
	c.mx.Lock()
	cur := c.mode
	c.mx.Unlock()
	if mode != cur {
		return fmt.Errorf("%w: write in %s mode while in %s", ErrAccessDenied, mode, cur)
	}
	return c.write(ctx, addr, data)
}
