package touch

import (
	"context"
	"fmt"
)

// ScanType is a sensing mode bit of RAM parameter SCAN_TYPE.
type ScanType byte

const (
	ScanAPAMutualCap ScanType = 0x80
	ScanGlove        ScanType = 0x08
	ScanStylus       ScanType = 0x10
	ScanProximity    ScanType = 0x40
)

func (s ScanType) String() string {
	switch s {
	case ScanAPAMutualCap:
		return "apa-mc"
	case ScanGlove:
		return "glove"
	case ScanStylus:
		return "stylus"
	case ScanProximity:
		return "proximity"
	}
	return fmt.Sprintf("scan-type(0x%02X)", byte(s))
}

// ParseScanType maps a scan type name to its value.
func ParseScanType(s string) (ScanType, error) {
	for _, t := range []ScanType{ScanAPAMutualCap, ScanGlove, ScanStylus, ScanProximity} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown scan type %q", ErrInvalidArgument, s)
}

// scanState reference counts the requested scan types on top of the
// controller default. Guarded by Core.mx.
type scanState struct {
	defaultType byte
	counts      map[ScanType]int
}

func (s *scanState) value() byte {
	v := s.defaultType
	for t, n := range s.counts {
		if n > 0 {
			v |= byte(t)
		}
	}
	return v
}

func (s *scanState) add(t ScanType, delta int) {
	if s.counts == nil {
		s.counts = make(map[ScanType]int)
	}
	s.counts[t] += delta
}

func (c *Core) usesScanTypeParam() bool {
	return c.opts.Flags&FlagScanTypeRAMID != 0
}

// initScanType applies the default scan configuration after startup:
// proximity starts disabled.
func (c *Core) initScanType(ctx context.Context) error {
	if !c.usesScanTypeParam() {
		return c.setProximity(ctx, false)
	}
	v, err := c.getParameter(ctx, ParamScanType)
	if err != nil {
		return err
	}
	c.mx.Lock()
	c.scan.defaultType = byte(v) &^ byte(ScanProximity)
	next := c.scan.value()
	c.mx.Unlock()
	return c.setParameter(ctx, ParamScanType, 1, uint32(next))
}

// setProximity flips the proximity bit of TOUCHMODE_ENABLED. Nothing is
// written when the bit already has the requested value.
func (c *Core) setProximity(ctx context.Context, enable bool) error {
	v, err := c.getParameter(ctx, ParamTouchmodeEnabled)
	if err != nil {
		return err
	}
	next := v &^ touchmodeProximity
	if enable {
		next |= touchmodeProximity
	}
	if next == v {
		return nil
	}
	return c.setParameter(ctx, ParamTouchmodeEnabled, 1, next)
}

func (c *Core) changeScanType(ctx context.Context, t ScanType, enable bool) error {
	switch t {
	case ScanAPAMutualCap, ScanGlove, ScanStylus, ScanProximity:
	default:
		return fmt.Errorf("%w: unknown scan type 0x%02X", ErrInvalidArgument, byte(t))
	}
	if !c.usesScanTypeParam() {
		if t != ScanProximity {
			return fmt.Errorf("%w: %s needs the scan type parameter", ErrInvalidArgument, t)
		}
		return c.setProximity(ctx, enable)
	}
	delta := 1
	if !enable {
		delta = -1
	}
	c.mx.Lock()
	c.scan.add(t, delta)
	next := c.scan.value()
	c.mx.Unlock()
	if err := c.setParameter(ctx, ParamScanType, 1, uint32(next)); err != nil {
		c.mx.Lock()
		c.scan.add(t, -delta)
		c.mx.Unlock()
		return err
	}
	return nil
}

// EnableScanType adds a reference to scan type t.
func (c *Core) EnableScanType(ctx context.Context, t ScanType) error {
	return c.exclusive(ctx, "enable scan type", func(ctx context.Context) error {
		return c.changeScanType(ctx, t, true)
	})
}

// DisableScanType drops a reference to scan type t. The bit is cleared
// once nobody needs it.
func (c *Core) DisableScanType(ctx context.Context, t ScanType) error {
	return c.exclusive(ctx, "disable scan type", func(ctx context.Context) error {
		return c.changeScanType(ctx, t, false)
	})
}

// ExecPanelScan starts a panel scan. The controller must be in
// diagnostic mode and the caller must hold the exclusive token.
func (c *Core) ExecPanelScan(ctx context.Context) error {
	_, err := c.command(ctx, ModeDiagnostic, []byte{CatExecPanelScan}, 1, c.opts.CommandTimeout)
	return err
}

// retrieveHeader describes one page of retrieved elements.
type retrieveHeader struct {
	count       int
	elementSize int
}

// retrievePage runs one retrieve command and returns its header.
func (c *Core) retrievePage(ctx context.Context, opcode byte, offset, count int, dataType byte) (retrieveHeader, error) {
	cmd := []byte{opcode, byte(offset >> 8), byte(offset), byte(count >> 8), byte(count), dataType}
	resp, err := c.command(ctx, ModeDiagnostic, cmd, retrieveReturnSize, c.opts.CommandTimeout)
	if err != nil {
		return retrieveHeader{}, err
	}
	return retrieveHeader{
		count:       int(be16(resp[2:])),
		elementSize: int(resp[4] & retrieveElementMask),
	}, nil
}

// RetrievePanelScan returns up to count elements of the last panel scan
// starting at element offset. The controller must be in diagnostic mode.
func (c *Core) RetrievePanelScan(ctx context.Context, offset, count int, dataType byte) (*PanelScan, error) {
	return c.retrieve(ctx, CatRetrievePanelScan, offset, count, dataType)
}

// RetrieveDataStructure returns count bytes of data structure id
// starting at offset. The controller must be in diagnostic mode.
func (c *Core) RetrieveDataStructure(ctx context.Context, offset, count int, id byte) ([]byte, error) {
	scan, err := c.retrieve(ctx, CatRetrieveDataStructure, offset, count, id)
	if err != nil {
		return nil, err
	}
	return scan.Elements, nil
}

// PanelScan holds raw elements retrieved from the controller.
type PanelScan struct {
	Elements    []byte
	ElementSize int
	// Count is the number of elements retrieved. It may be smaller than
	// requested when the controller has no more data.
	Count int
}

// retrieve pages elements until count is satisfied or the controller
// returns none.
func (c *Core) retrieve(ctx context.Context, opcode byte, offset, count int, dataType byte) (*PanelScan, error) {
	if count <= 0 || offset < 0 || offset+count > 0xFFFF {
		return nil, fmt.Errorf("%w: retrieve %d elements at %d", ErrInvalidArgument, count, offset)
	}
	start := uint16(regCATCmd + 1 + retrieveReturnSize)
	out := &PanelScan{}
	for left := count; left > 0; {
		hdr, err := c.retrievePage(ctx, opcode, offset, left, dataType)
		if err != nil {
			return out, err
		}
		if opcode == CatRetrieveDataStructure {
			hdr.elementSize = 1
		}
		if out.ElementSize == 0 {
			out.ElementSize = hdr.elementSize
		}
		if hdr.count == 0 || hdr.elementSize == 0 {
			break
		}
		data, err := c.read(ctx, start, hdr.count*hdr.elementSize)
		if err != nil {
			return out, err
		}
		out.Elements = append(out.Elements, data...)
		out.Count += hdr.count
		offset += hdr.count
		left -= hdr.count
	}
	return out, nil
}

// ScanRequest selects what ScanAndRetrieve does.
type ScanRequest struct {
	// SwitchToDiagnostic enters diagnostic mode first and returns to
	// operational mode afterwards.
	SwitchToDiagnostic bool
	// Scan starts a new panel scan before retrieving.
	Scan     bool
	Offset   int
	Count    int
	DataType byte
}

// ScanAndRetrieve optionally scans the panel and retrieves req.Count
// elements as one exclusive sequence.
func (c *Core) ScanAndRetrieve(ctx context.Context, req ScanRequest) (*PanelScan, error) {
	var out *PanelScan
	err := c.exclusive(ctx, "scan and retrieve", func(ctx context.Context) error {
		run := func(ctx context.Context) error {
			if req.Scan {
				if err := c.ExecPanelScan(ctx); err != nil {
					return err
				}
			}
			var err error
			out, err = c.RetrievePanelScan(ctx, req.Offset, req.Count, req.DataType)
			return err
		}
		if req.SwitchToDiagnostic {
			return c.inDiagnostic(ctx, run)
		}
		return run(ctx)
	})
	return out, err
}

// ReadDataStructure retrieves count bytes of data structure id as one
// exclusive diagnostic sequence.
func (c *Core) ReadDataStructure(ctx context.Context, offset, count int, id byte) ([]byte, error) {
	var out []byte
	err := c.exclusive(ctx, "retrieve data structure", func(ctx context.Context) error {
		return c.inDiagnostic(ctx, func(ctx context.Context) error {
			var err error
			out, err = c.RetrieveDataStructure(ctx, offset, count, id)
			return err
		})
	})
	return out, err
}
