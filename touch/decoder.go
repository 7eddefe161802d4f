package touch

import "fmt"

// Touch record event values.
const (
	EventNone      = 0
	EventTouchDown = 1
	EventMove      = 2
	EventLiftOff   = 3
)

// TouchRecord is one decoded touch. Every value is masked to the bit
// width declared by the layout.
type TouchRecord [NumTouchFields]int

func (r TouchRecord) Get(f TouchField) int {
	return r[f]
}

// Report is the payload of an operational interrupt.
type Report struct {
	HostMode    byte
	Records     []TouchRecord
	LargeObject bool
	BadPacket   bool
	// two bits of state per button, four buttons per byte
	Buttons []byte
	Noise   []byte
}

// ButtonPressed reports the state of button i.
func (r *Report) ButtonPressed(i int) bool {
	reg := i / buttonsPerRegister
	if i < 0 || reg >= len(r.Buttons) {
		return false
	}
	return (r.Buttons[reg]>>(2*(i%buttonsPerRegister)))&0x03 != 0
}

// DecodeRecord extracts all touch fields of one record.
func (l *Layout) DecodeRecord(rec []byte) TouchRecord {
	var t TouchRecord
	for i, f := range l.Fields {
		t[i] = f.Decode(rec)
	}
	return t
}

// EncodeRecord is the inverse of DecodeRecord for encodable fields.
func (l *Layout) EncodeRecord(rec []byte, t TouchRecord) error {
	for i, f := range l.Fields {
		if err := f.Encode(rec, t[i]); err != nil {
			return fmt.Errorf("field %s: %w", TouchField(i), err)
		}
	}
	return nil
}

// touchCount returns the number of records announced by the status
// bytes of an operational window, clamped to the layout maximum.
func (l *Layout) touchCount(window []byte) (int, error) {
	repLen := window[l.ReportOffset]
	n := int(window[l.StatusOffset] & touchCountMask)
	if repLen == 0 && n > 0 {
		return 0, fmt.Errorf("%w: report length 0 with %d touch records", ErrProtocol, n)
	}
	if n > l.MaxTouches {
		n = l.MaxTouches
	}
	return n, nil
}

// DecodeReport decodes an operational register window starting at
// register zero.
func (l *Layout) DecodeReport(window []byte) (*Report, error) {
	if len(window) < l.ModeSize {
		return nil, fmt.Errorf("%w: %d byte window shorter than mode area %d", ErrProtocol, len(window), l.ModeSize)
	}
	n, err := l.touchCount(window)
	if err != nil {
		return nil, err
	}
	if limit := (len(window) - l.DataOffset()) / max(l.RecordSize, 1); n > limit {
		n = limit
	}
	r := &Report{
		HostMode:    window[regBase],
		BadPacket:   window[l.ReportOffset+1]&badPacketMask != 0,
		LargeObject: window[l.StatusOffset]&largeObjectMask != 0,
		Records:     make([]TouchRecord, 0, n),
	}
	if b := l.ReportOffset + 2; l.NumButtonRegs > 0 && b+l.NumButtonRegs <= l.StatusOffset {
		r.Buttons = append([]byte(nil), window[b:b+l.NumButtonRegs]...)
	}
	for i := 0; i < n; i++ {
		start := l.DataOffset() + i*l.RecordSize
		r.Records = append(r.Records, l.DecodeRecord(window[start:start+l.RecordSize]))
	}
	return r, nil
}

// Orientation flags for Transform.
type Orientation uint8

const (
	Flip Orientation = 1 << iota
	InvertX
	InvertY
)

// Transform maps a record into panel orientation. Flip swaps the axes,
// the invert flags mirror an axis against the panel maximum of the axis
// it ends up on. A pressed contact without a reported size gets a 1x1
// ellipse.
func (p PanelConfig) Transform(t TouchRecord, o Orientation) TouchRecord {
	if t[FieldPressure] > 0 && t[FieldMajor] == 0 {
		t[FieldMajor] = 1
		t[FieldMinor] = 1
	}
	maxX, maxY := int(p.MaxX), int(p.MaxY)
	if o&Flip != 0 {
		t[FieldX], t[FieldY] = t[FieldY], t[FieldX]
		maxX, maxY = maxY, maxX
	}
	if o&InvertX != 0 {
		t[FieldX] = maxX - t[FieldX]
	}
	if o&InvertY != 0 {
		t[FieldY] = maxY - t[FieldY]
	}
	return t
}
