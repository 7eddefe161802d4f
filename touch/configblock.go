package touch

import (
	"context"
	"fmt"
)

// ConfigRowSize returns the row size of the configuration memory. The
// controller must be in diagnostic mode.
func (c *Core) ConfigRowSize(ctx context.Context) (int, error) {
	resp, err := c.Exec(ctx, ModeDiagnostic, []byte{CatGetConfigRowSize}, 2, c.opts.CommandTimeout)
	if err != nil {
		return 0, err
	}
	return int(be16(resp)), nil
}

// ReadConfigBlock reads length bytes of row in block ebid and checks
// the returned checksum.
func (c *Core) ReadConfigBlock(ctx context.Context, ebid byte, row uint16, length int) ([]byte, error) {
	if length < 0 || length > 0xFFFF {
		return nil, fmt.Errorf("%w: config read of %d bytes", ErrInvalidArgument, length)
	}
	cmd := []byte{CatReadConfigBlock, byte(row >> 8), byte(row), byte(length >> 8), byte(length), ebid}
	resp, err := c.command(ctx, ModeDiagnostic, cmd, readBlockHeaderSize+length+2, c.opts.CommandTimeout)
	if err != nil {
		return nil, err
	}
	data := resp[readBlockHeaderSize : readBlockHeaderSize+length]
	crc := be16(resp[readBlockHeaderSize+length:])
	switch {
	case resp[1] != ebid:
		return nil, commandError(ModeDiagnostic, CatReadConfigBlock, fmt.Errorf("%w: block 0x%02X returned for 0x%02X", ErrProtocol, resp[1], ebid))
	case int(be16(resp[2:])) != length:
		return nil, commandError(ModeDiagnostic, CatReadConfigBlock, fmt.Errorf("%w: %d bytes returned for %d", ErrProtocol, be16(resp[2:]), length))
	case crc != Checksum(data):
		return nil, commandError(ModeDiagnostic, CatReadConfigBlock, fmt.Errorf("%w: row checksum 0x%04X, computed 0x%04X", ErrProtocol, crc, Checksum(data)))
	}
	return append([]byte(nil), data...), nil
}

// WriteConfigBlock writes data to row of block ebid. The frame carries
// the security key and the checksum of data.
func (c *Core) WriteConfigBlock(ctx context.Context, ebid byte, row uint16, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("%w: config write of %d bytes", ErrInvalidArgument, len(data))
	}
	n := len(data)
	cmd := make([]byte, 0, writeBlockHeaderSize+n+len(securityKey)+2)
	cmd = append(cmd, CatWriteConfigBlock, byte(row>>8), byte(row), byte(n>>8), byte(n), ebid)
	cmd = append(cmd, data...)
	cmd = append(cmd, securityKey...)
	crc := Checksum(data)
	cmd = append(cmd, byte(crc>>8), byte(crc))
	resp, err := c.command(ctx, ModeDiagnostic, cmd, writeBlockReturnSize, c.opts.CommandTimeout)
	if err != nil {
		return err
	}
	if resp[1] != ebid || int(be16(resp[2:])) != n {
		return commandError(ModeDiagnostic, CatWriteConfigBlock, fmt.Errorf("%w: write of block 0x%02X not acknowledged", ErrProtocol, ebid))
	}
	return nil
}

// VerifyConfigBlockCRC asks the controller to compute the checksum of
// block ebid and compare it with the stored one.
func (c *Core) VerifyConfigBlockCRC(ctx context.Context, ebid byte) (calculated, stored uint16, match bool, err error) {
	resp, err := c.Exec(ctx, ModeDiagnostic, []byte{CatVerifyConfigBlockCRC, ebid}, 5, c.opts.CommandTimeout)
	if err != nil {
		return 0, 0, false, err
	}
	return be16(resp[1:]), be16(resp[3:]), resp[0] == statusSuccess, nil
}

// BlockCRC returns the checksum of block ebid as reported in
// operational mode.
func (c *Core) BlockCRC(ctx context.Context, ebid byte) (uint16, error) {
	resp, err := c.command(ctx, ModeOperational, []byte{OpGetCRC, ebid}, 3, c.opts.CommandTimeout)
	if err != nil {
		return 0, err
	}
	return be16(resp[1:]), nil
}

// field16 decodes a 16 bit configuration field. Controllers before
// TTSP 2.5 store them little endian.
func (c *Core) field16(b []byte) uint16 {
	c.mx.Lock()
	l := c.layout
	c.mx.Unlock()
	if l != nil && l.Capability.TTSP.AtLeast(2, 5) {
		return be16(b)
	}
	return le16(b)
}

func (c *Core) putField16(v uint16) []byte {
	c.mx.Lock()
	l := c.layout
	c.mx.Unlock()
	if l != nil && l.Capability.TTSP.AtLeast(2, 5) {
		return []byte{byte(v >> 8), byte(v)}
	}
	return []byte{byte(v), byte(v >> 8)}
}

func (c *Core) configVersion(ctx context.Context) (uint16, error) {
	data, err := c.ReadConfigBlock(ctx, EBIDTouchParams, ttconfigVersionRow, ttconfigVersionOffset+ttconfigVersionSize)
	if err != nil {
		return 0, fmt.Errorf("config version: %w", err)
	}
	return c.field16(data[ttconfigVersionOffset:]), nil
}

// configLength returns the used and maximum length of block ebid. The
// block checksum is stored at the maximum length offset.
func (c *Core) configLength(ctx context.Context, ebid byte) (length, maxLength uint16, err error) {
	data, err := c.ReadConfigBlock(ctx, ebid, configLengthRow, configLengthInfoSize)
	if err != nil {
		return 0, 0, fmt.Errorf("config length: %w", err)
	}
	return c.field16(data[configLengthOffset:]), c.field16(data[configMaxLengthOffset:]), nil
}

// loadConfigInfo refreshes the touch configuration metadata. It leaves
// the controller in operational mode.
func (c *Core) loadConfigInfo(ctx context.Context) error {
	if err := c.RequestMode(ctx, ModeDiagnostic); err != nil {
		return err
	}
	version, verr := c.configVersion(ctx)
	var length, maxLength uint16
	var lerr error
	if verr == nil {
		length, maxLength, lerr = c.configLength(ctx, EBIDTouchParams)
	}
	if err := c.RequestMode(ctx, ModeOperational); err != nil {
		return err
	}
	if verr != nil {
		return verr
	}
	if lerr != nil {
		return lerr
	}
	crc, err := c.BlockCRC(ctx, EBIDTouchParams)
	if err != nil {
		return fmt.Errorf("config crc: %w", err)
	}
	info := ConfigInfo{Version: version, Length: length, MaxLength: maxLength, CRC: crc}
	c.mx.Lock()
	c.ttconfig = info
	c.mx.Unlock()
	c.log.Debug("touch configuration", "version", fmt.Sprintf("%04X", version), "length", length, "maxLength", maxLength, "crc", fmt.Sprintf("%04X", crc))
	return nil
}

// ConfigInfo returns the touch configuration metadata read at startup.
func (c *Core) ConfigInfo() ConfigInfo {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.ttconfig
}

// writeConfigRows writes data at offset of block ebid row by row. A
// partially covered first row is merged with its current content; the
// trailing row is written only up to the end of data.
func (c *Core) writeConfigRows(ctx context.Context, ebid byte, offset int, data []byte) error {
	rowSize, err := c.ConfigRowSize(ctx)
	if err != nil {
		return fmt.Errorf("config row size: %w", err)
	}
	if rowSize <= 0 {
		return fmt.Errorf("%w: config row size %d", ErrProtocol, rowSize)
	}
	cur, curOff := offset/rowSize, offset%rowSize
	end, endOff := (offset+len(data))/rowSize, (offset+len(data))%rowSize

	if curOff != 0 {
		n := rowSize - curOff
		if cur == end {
			n = len(data)
		}
		head, err := c.ReadConfigBlock(ctx, ebid, uint16(cur), curOff)
		if err != nil {
			return fmt.Errorf("row %d: %w", cur, err)
		}
		row := append(head, data[:n]...)
		if err := c.WriteConfigBlock(ctx, ebid, uint16(cur), row); err != nil {
			return fmt.Errorf("row %d: %w", cur, err)
		}
		data = data[n:]
		cur++
	}
	for ; cur < end; cur++ {
		if err := c.WriteConfigBlock(ctx, ebid, uint16(cur), data[:rowSize]); err != nil {
			return fmt.Errorf("row %d: %w", cur, err)
		}
		data = data[rowSize:]
	}
	if cur == end && endOff > 0 {
		if err := c.WriteConfigBlock(ctx, ebid, uint16(end), data[:endOff]); err != nil {
			return fmt.Errorf("row %d: %w", end, err)
		}
	}
	return nil
}

// writeConfig writes data, verifies the block and rewrites the stored
// checksum when it no longer matches. Must run in diagnostic mode.
func (c *Core) writeConfig(ctx context.Context, ebid byte, offset int, data []byte) error {
	_, crcOffset, err := c.configLength(ctx, ebid)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > int(crcOffset)+2 {
		return fmt.Errorf("%w: write of %d bytes at %d exceeds block size %d", ErrInvalidArgument, len(data), offset, int(crcOffset)+2)
	}
	if err := c.writeConfigRows(ctx, ebid, offset, data); err != nil {
		return err
	}
	calculated, stored, _, err := c.VerifyConfigBlockCRC(ctx, ebid)
	if err != nil {
		return err
	}
	if calculated == stored {
		return nil
	}
	c.log.Debug("updating stored config checksum", "ebid", ebid, "calculated", calculated, "stored", stored)
	return c.writeConfigRows(ctx, ebid, int(crcOffset), c.putField16(calculated))
}

// WriteConfig writes data at offset of configuration block ebid. The
// stored checksum field may be part of the write.
func (c *Core) WriteConfig(ctx context.Context, ebid byte, offset int, data []byte) error {
	if _, err := c.requireLayout(); err != nil {
		return err
	}
	return c.exclusive(ctx, "write config", func(ctx context.Context) error {
		return c.inDiagnostic(ctx, func(ctx context.Context) error {
			return c.writeConfig(ctx, ebid, offset, data)
		})
	})
}

// ReadConfig reads length bytes at offset of block ebid.
func (c *Core) ReadConfig(ctx context.Context, ebid byte, offset, length int) ([]byte, error) {
	if _, err := c.requireLayout(); err != nil {
		return nil, err
	}
	var out []byte
	err := c.exclusive(ctx, "read config", func(ctx context.Context) error {
		return c.inDiagnostic(ctx, func(ctx context.Context) error {
			var err error
			out, err = c.readConfig(ctx, ebid, offset, length)
			return err
		})
	})
	return out, err
}

func (c *Core) readConfig(ctx context.Context, ebid byte, offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: config read of %d bytes at %d", ErrInvalidArgument, length, offset)
	}
	rowSize, err := c.ConfigRowSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("config row size: %w", err)
	}
	if rowSize <= 0 {
		return nil, fmt.Errorf("%w: config row size %d", ErrProtocol, rowSize)
	}
	out := make([]byte, 0, length)
	for row := offset / rowSize; len(out) < length; row++ {
		data, err := c.ReadConfigBlock(ctx, ebid, uint16(row), rowSize)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if len(out) == 0 {
			data = data[offset%rowSize:]
		}
		out = append(out, data[:min(len(data), length-len(out))]...)
	}
	return out, nil
}
