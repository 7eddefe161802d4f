package touch

import (
	"context"
	"fmt"
)

// Version is a major.minor pair as reported by the controller.
type Version struct {
	Major uint8 `yaml:"major"`
	Minor uint8 `yaml:"minor"`
}

func (v Version) AtLeast(major, minor uint8) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// CapabilityData identifies the silicon, firmware and protocol revision.
type CapabilityData struct {
	ProductID       uint16
	Firmware        Version
	RevisionControl [8]byte
	Bootloader      Version
	JTAGID          [4]byte
	ManufacturingID []byte
	ITOID           uint16
	ITOVersion      uint16
	TTSP            Version
	DeviceInfo      byte
}

// TestData holds the power-on self test result.
type TestData struct {
	PostCode uint16
}

func (t TestData) WatchdogReset() bool   { return t.PostCode&0x01 != 0 }
func (t TestData) ConfigCRCOK() bool     { return t.PostCode&0x02 != 0 }
func (t TestData) PanelTestOK() bool     { return t.PostCode&0x04 != 0 }
func (t TestData) ScanningEnabled() bool { return t.PostCode&0x08 != 0 }

// PanelConfig describes the sensor geometry.
type PanelConfig struct {
	ElectrodesX uint8
	ElectrodesY uint8
	LengthX     uint16
	LengthY     uint16
	MaxX        uint16
	MaxY        uint16
	// origin flags, set when the axis origin is at the far edge
	OriginX   bool
	OriginY   bool
	MaxZ      uint16
	PanelInfo byte
}

// TouchField names one abstract value of a touch record.
type TouchField int

const (
	FieldX TouchField = iota
	FieldY
	FieldPressure
	FieldTrackID
	FieldEvent
	FieldObjectType
	FieldWidth
	FieldMajor
	FieldMinor
	FieldOrientation
	NumTouchFields
)

// fields present in every record table; the rest need TTSP 2.3
const baseTouchFields = FieldWidth + 1

var touchFieldNames = [NumTouchFields]string{"X", "Y", "P", "T", "E", "O", "W", "MAJ", "MIN", "OR"}

func (f TouchField) String() string {
	if f < 0 || f >= NumTouchFields {
		return "INVALID"
	}
	return touchFieldNames[f]
}

// Field locates a packed value inside a touch record. The value spans
// Size bytes starting at Offset; every byte is shifted right by
// BitOffset before accumulation and the result is masked to Bits.
type Field struct {
	Offset    int
	Size      int
	BitOffset uint8
	Bits      uint8
	Max       int
}

func newField(loc, bits byte) Field {
	return Field{
		Offset:    int(loc & 0x1F),
		BitOffset: (loc & 0xE0) >> 5,
		Bits:      bits,
		Size:      (int(bits) + 7) / 8,
		Max:       1 << bits,
	}
}

// Decode extracts the field from one touch record.
func (f Field) Decode(rec []byte) int {
	if f.Size == 0 || f.Offset+f.Size > len(rec) {
		return 0
	}
	v := 0
	for i := 0; i < f.Size; i++ {
		v = v*256 + int(rec[f.Offset+i]>>f.BitOffset)
	}
	return v & (f.Max - 1)
}

// Encodable reports whether Encode can represent every value of the field.
func (f Field) Encodable() bool {
	if f.Size == 1 {
		return int(f.BitOffset)+int(f.Bits) <= 8
	}
	return f.BitOffset == 0
}

// Encode stores v into rec, preserving bits that do not belong to the
// field. It is the inverse of Decode for encodable fields.
func (f Field) Encode(rec []byte, v int) error {
	switch {
	case f.Size == 0:
		return nil
	case !f.Encodable():
		return fmt.Errorf("%w: field at %d cannot be encoded (bits=%d bofs=%d)", ErrInvalidArgument, f.Offset, f.Bits, f.BitOffset)
	case f.Offset+f.Size > len(rec):
		return fmt.Errorf("%w: field at %d outside %d byte record", ErrInvalidArgument, f.Offset, len(rec))
	case v < 0 || v >= f.Max:
		return fmt.Errorf("%w: value %d outside field range %d", ErrInvalidArgument, v, f.Max)
	}
	if f.Size == 1 {
		mask := byte(f.Max-1) << f.BitOffset
		rec[f.Offset] = rec[f.Offset]&^mask | byte(v)<<f.BitOffset
		return nil
	}
	for i := f.Size - 1; i >= 0; i-- {
		rec[f.Offset+i] = byte(v)
		v >>= 8
	}
	return nil
}

// Layout is the structured map of the controller memory parsed from its
// system information block. It is replaced as a whole on every startup.
type Layout struct {
	Capability CapabilityData
	Test       TestData
	Panel      PanelConfig

	CommandOffset    int
	ReportOffset     int
	ReportSize       int
	NumButtons       int
	NumButtonRegs    int
	StatusOffset     int
	ObjectConfig     byte
	MaxTouches       int
	RecordSize       int
	Fields           [NumTouchFields]Field
	ButtonRecordSize int
	ButtonDiffOffset int
	ButtonDiffSize   int
	NoiseOffset      int
	NoiseSize        int

	// derived sizes of the operational register window
	ModeSize         int
	DataSize         int
	ReportHeaderSize int

	DesignData        []byte
	ManufacturingData []byte
}

// DataOffset is the register address of the first touch record.
func (l *Layout) DataOffset() int {
	return l.StatusOffset + 1
}

// WindowSize is the size of the operational mode register window.
func (l *Layout) WindowSize() int {
	return l.ModeSize + l.DataSize
}

type readFunc func(ctx context.Context, addr uint16, n int) ([]byte, error)

const (
	sysInfoHeaderSize = 16
	cydataFixedHead   = 19
	cydataFixedTail   = 7
	pcfgSize          = 13
	opcfgBaseSize     = 26
	opcfgExtSize      = 32
	opcfgNoiseSize    = 34
	testDataSize      = 2
)

type sectionOffsets struct {
	mapSize, cydata, test, pcfg, opcfg, ddata, mdata int
}

func sectionSize(name string, from, to int) (int, error) {
	if to <= from {
		return 0, fmt.Errorf("%w: %s section offsets not increasing (%d >= %d)", ErrProtocol, name, from, to)
	}
	return to - from, nil
}

// loadLayout reads the system information block through read and
// returns the parsed layout along with the host mode byte observed in
// the block header.
func loadLayout(ctx context.Context, read readFunc) (*Layout, byte, error) {
	hdr, err := read(ctx, regBase, sysInfoHeaderSize)
	if err != nil {
		return nil, 0, fmt.Errorf("sysinfo header: %w", err)
	}
	ofs := sectionOffsets{
		mapSize: int(be16(hdr[2:])),
		cydata:  int(be16(hdr[4:])),
		test:    int(be16(hdr[6:])),
		pcfg:    int(be16(hdr[8:])),
		opcfg:   int(be16(hdr[10:])),
		ddata:   int(be16(hdr[12:])),
		mdata:   int(be16(hdr[14:])),
	}
	l := &Layout{}
	if err := l.loadCapability(ctx, read, ofs); err != nil {
		return nil, 0, err
	}
	if err := l.loadTest(ctx, read, ofs); err != nil {
		return nil, 0, err
	}
	if err := l.loadPanel(ctx, read, ofs); err != nil {
		return nil, 0, err
	}
	if err := l.loadOperational(ctx, read, ofs); err != nil {
		return nil, 0, err
	}
	if l.DesignData, err = loadBlob(ctx, read, "ddata", ofs.ddata, ofs.mdata); err != nil {
		return nil, 0, err
	}
	if l.ManufacturingData, err = loadBlob(ctx, read, "mdata", ofs.mdata, ofs.mapSize); err != nil {
		return nil, 0, err
	}
	return l, hdr[0], nil
}

func (l *Layout) loadCapability(ctx context.Context, read readFunc, ofs sectionOffsets) error {
	size, err := sectionSize("cydata", ofs.cydata, ofs.test)
	if err != nil {
		return err
	}
	head, err := read(ctx, uint16(ofs.cydata), cydataFixedHead)
	if err != nil {
		return fmt.Errorf("cydata: %w", err)
	}
	mfgSize := int(head[18])
	if mfgSize != size-cydataFixedHead-cydataFixedTail {
		return fmt.Errorf("%w: cydata manufacturing id size %d does not fit section of %d bytes", ErrProtocol, mfgSize, size)
	}
	c := &l.Capability
	c.ProductID = be16(head[0:])
	c.Firmware = Version{Major: head[2], Minor: head[3]}
	copy(c.RevisionControl[:], head[4:12])
	c.Bootloader = Version{Major: head[12], Minor: head[13]}
	copy(c.JTAGID[:], head[14:18])
	if mfgSize > 0 {
		mfg, err := read(ctx, uint16(ofs.cydata+cydataFixedHead), mfgSize)
		if err != nil {
			return fmt.Errorf("cydata manufacturing id: %w", err)
		}
		c.ManufacturingID = mfg
	}
	tail, err := read(ctx, uint16(ofs.cydata+cydataFixedHead+mfgSize), cydataFixedTail)
	if err != nil {
		return fmt.Errorf("cydata: %w", err)
	}
	c.ITOID = be16(tail[0:])
	c.ITOVersion = be16(tail[2:])
	c.TTSP = Version{Major: tail[4], Minor: tail[5]}
	c.DeviceInfo = tail[6]
	return nil
}

func (l *Layout) loadTest(ctx context.Context, read readFunc, ofs sectionOffsets) error {
	size, err := sectionSize("test", ofs.test, ofs.pcfg)
	if err != nil {
		return err
	}
	if size < testDataSize {
		return fmt.Errorf("%w: test section too short (%d)", ErrProtocol, size)
	}
	data, err := read(ctx, uint16(ofs.test), size)
	if err != nil {
		return fmt.Errorf("test data: %w", err)
	}
	l.Test.PostCode = be16(data)
	return nil
}

func (l *Layout) loadPanel(ctx context.Context, read readFunc, ofs sectionOffsets) error {
	size, err := sectionSize("pcfg", ofs.pcfg, ofs.opcfg)
	if err != nil {
		return err
	}
	if size < pcfgSize {
		return fmt.Errorf("%w: panel config section too short (%d)", ErrProtocol, size)
	}
	d, err := read(ctx, uint16(ofs.pcfg), size)
	if err != nil {
		return fmt.Errorf("panel config: %w", err)
	}
	l.Panel = PanelConfig{
		ElectrodesX: d[0],
		ElectrodesY: d[1],
		LengthX:     be16(d[2:]),
		LengthY:     be16(d[4:]),
		MaxX:        uint16(d[6]&0x7F)<<8 | uint16(d[7]),
		OriginX:     d[6]&0x80 != 0,
		MaxY:        uint16(d[8]&0x7F)<<8 | uint16(d[9]),
		OriginY:     d[8]&0x80 != 0,
		MaxZ:        be16(d[10:]),
		PanelInfo:   d[12],
	}
	return nil
}

func (l *Layout) loadOperational(ctx context.Context, read readFunc, ofs sectionOffsets) error {
	size, err := sectionSize("opcfg", ofs.opcfg, ofs.ddata)
	if err != nil {
		return err
	}
	if size < opcfgBaseSize {
		return fmt.Errorf("%w: operational config section too short (%d)", ErrProtocol, size)
	}
	d, err := read(ctx, uint16(ofs.opcfg), size)
	if err != nil {
		return fmt.Errorf("operational config: %w", err)
	}
	l.CommandOffset = int(d[0])
	l.ReportOffset = int(d[1])
	l.ReportSize = int(be16(d[2:]))
	l.NumButtons = int(d[4])
	l.StatusOffset = int(d[5])
	l.ObjectConfig = d[6]
	l.MaxTouches = int(d[7] & maxTouchRecordMask)
	l.RecordSize = int(d[8] & maxTouchRecordMask)
	for i := FieldX; i < baseTouchFields; i++ {
		l.Fields[i] = newField(d[9+2*int(i)], d[10+2*int(i)])
	}
	l.ButtonRecordSize = int(d[23])
	l.ButtonDiffOffset = int(d[24])
	l.ButtonDiffSize = int(d[25])

	ttsp := l.Capability.TTSP
	if ttsp.AtLeast(2, 3) {
		if size < opcfgExtSize {
			return fmt.Errorf("%w: operational config lacks extended touch fields (%d)", ErrProtocol, size)
		}
		for i := FieldMajor; i < NumTouchFields; i++ {
			j := int(i - FieldMajor)
			l.Fields[i] = newField(d[26+2*j], d[27+2*j])
		}
	}
	if ttsp.AtLeast(2, 4) && size >= opcfgNoiseSize {
		l.NoiseOffset = int(d[32])
		l.NoiseSize = int(d[33])
	}

	l.NumButtonRegs = (l.NumButtons + buttonsPerRegister - 1) / buttonsPerRegister
	l.ModeSize = l.StatusOffset + 1
	l.DataSize = l.MaxTouches * l.RecordSize
	l.ReportHeaderSize = l.ModeSize - l.ReportOffset
	return l.validate()
}

func (l *Layout) validate() error {
	if l.ReportHeaderSize < 2 {
		return fmt.Errorf("%w: report offset %d outside operational window of %d bytes", ErrProtocol, l.ReportOffset, l.ModeSize)
	}
	if l.CommandOffset >= l.ReportOffset {
		return fmt.Errorf("%w: command offset %d overlaps report at %d", ErrProtocol, l.CommandOffset, l.ReportOffset)
	}
	for i, f := range l.Fields {
		if f.Size > 0 && f.Offset+f.Size > l.RecordSize {
			return fmt.Errorf("%w: touch field %s exceeds %d byte record", ErrProtocol, TouchField(i), l.RecordSize)
		}
	}
	return nil
}

func loadBlob(ctx context.Context, read readFunc, name string, from, to int) ([]byte, error) {
	size, err := sectionSize(name, from, to)
	if err != nil {
		return nil, err
	}
	data, err := read(ctx, uint16(from), size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return data, nil
}

// ParseLayout parses a system information block captured in memory,
// starting at register zero.
func ParseLayout(sysinfo []byte) (*Layout, error) {
	l, _, err := loadLayout(context.Background(), func(_ context.Context, addr uint16, n int) ([]byte, error) {
		if int(addr)+n > len(sysinfo) {
			return nil, fmt.Errorf("%w: read %d bytes at %d beyond %d byte block", ErrProtocol, n, addr, len(sysinfo))
		}
		out := make([]byte, n)
		copy(out, sysinfo[addr:])
		return out, nil
	})
	return l, err
}
