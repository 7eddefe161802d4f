package touch

import (
	"context"
	"errors"
	"fmt"
)

// getParameter reads a RAM parameter. The controller must be in
// operational mode.
func (c *Core) getParameter(ctx context.Context, id byte) (uint32, error) {
	resp, err := c.Exec(ctx, ModeOperational, []byte{OpGetParam, id}, 6, c.opts.CommandTimeout)
	if err != nil {
		return 0, err
	}
	if resp[0] != id {
		return 0, commandError(ModeOperational, OpGetParam, fmt.Errorf("%w: parameter 0x%02X returned for 0x%02X", ErrProtocol, resp[0], id))
	}
	size := int(resp[1])
	if size > 4 {
		return 0, commandError(ModeOperational, OpGetParam, fmt.Errorf("%w: parameter size %d", ErrProtocol, size))
	}
	var v uint32
	for _, b := range resp[2 : 2+size] {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

func (c *Core) setParameter(ctx context.Context, id byte, size int, value uint32) error {
	cmd := []byte{OpSetParam, id, byte(size)}
	switch size {
	case 1:
		cmd = append(cmd, byte(value))
	case 2:
		cmd = append(cmd, byte(value>>8), byte(value))
	case 4:
		cmd = append(cmd, byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
	default:
		return fmt.Errorf("%w: parameter size %d", ErrInvalidArgument, size)
	}
	resp, err := c.Exec(ctx, ModeOperational, cmd, 2, c.opts.CommandTimeout)
	if err != nil {
		return err
	}
	if resp[0] != id || int(resp[1]) != size {
		return commandError(ModeOperational, OpSetParam, fmt.Errorf("%w: parameter 0x%02X not acknowledged", ErrProtocol, id))
	}
	return nil
}

// GetParameter reads RAM parameter id.
func (c *Core) GetParameter(ctx context.Context, id byte) (uint32, error) {
	var v uint32
	err := c.exclusive(ctx, "get parameter", func(ctx context.Context) error {
		var err error
		v, err = c.getParameter(ctx, id)
		return err
	})
	return v, err
}

// SetParameter writes RAM parameter id. size is 1, 2 or 4 bytes.
func (c *Core) SetParameter(ctx context.Context, id byte, size int, value uint32) error {
	return c.exclusive(ctx, "set parameter", func(ctx context.Context) error {
		return c.setParameter(ctx, id, size, value)
	})
}

// inDiagnostic runs fn in diagnostic mode and always returns to
// operational mode. Must hold the exclusive token.
func (c *Core) inDiagnostic(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.RequestMode(ctx, ModeDiagnostic); err != nil {
		return err
	}
	err := fn(ctx)
	if merr := c.RequestMode(ctx, ModeOperational); merr != nil {
		return errors.Join(err, merr)
	}
	return err
}

// Calibrate recalibrates the sensing IDACs of the mutual capacitance
// screen, the buttons and self capacitance, then reinitializes the
// baselines. The controller is returned to operational mode even when
// a step fails.
func (c *Core) Calibrate(ctx context.Context) error {
	return c.exclusive(ctx, "calibrate", func(ctx context.Context) error {
		return c.inDiagnostic(ctx, c.calibrate)
	})
}

func (c *Core) calibrate(ctx context.Context) error {
	for _, target := range []byte{0x00, 0x01, 0x02} {
		c.log.Debug("calibrating idacs", "target", target)
		if _, err := c.command(ctx, ModeDiagnostic, []byte{CatCalibrateIDACs, target}, 1, c.opts.CalibrateTimeout); err != nil {
			return err
		}
	}
	return c.initBaselines(ctx, 0x07)
}

func (c *Core) initBaselines(ctx context.Context, mask byte) error {
	_, err := c.command(ctx, ModeDiagnostic, []byte{CatInitBaselines, mask}, 1, c.opts.InitBaselinesTimeout)
	return err
}

// InitBaselines reinitializes the self, button and mutual baselines
// selected by mask.
func (c *Core) InitBaselines(ctx context.Context, mask byte) error {
	return c.exclusive(ctx, "init baselines", func(ctx context.Context) error {
		return c.inDiagnostic(ctx, func(ctx context.Context) error {
			return c.initBaselines(ctx, mask)
		})
	})
}

// RefreshLayout reloads the system information without a restart.
func (c *Core) RefreshLayout(ctx context.Context) (*Layout, error) {
	var l *Layout
	err := c.exclusive(ctx, "refresh layout", func(ctx context.Context) error {
		if err := c.RequestMode(ctx, ModeSysInfo); err != nil {
			return err
		}
		layout, _, err := loadLayout(ctx, c.read)
		if err == nil {
			c.mx.Lock()
			c.layout = layout
			c.window = make([]byte, layout.WindowSize())
			c.mx.Unlock()
			l = layout
		}
		if merr := c.RequestMode(ctx, ModeOperational); merr != nil {
			return errors.Join(err, merr)
		}
		return err
	})
	return l, err
}
