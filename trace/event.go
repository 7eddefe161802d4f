// Package trace records register bus transfers to a CBOR file and reads
// them back for offline analysis of a controller session.
package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a recorded transfer.
type Direction uint8

const (
	DirectionRead  Direction = 0
	DirectionWrite Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionRead:
		return "read"
	case DirectionWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Event is one register transfer. CBOR encoding uses integer keys.
type Event struct {
	Timestamp time.Time     `cbor:"1,keyasint"`
	Session   string        `cbor:"2,keyasint"`
	Device    string        `cbor:"3,keyasint,omitempty"`
	Direction Direction     `cbor:"4,keyasint"`
	Register  uint16        `cbor:"5,keyasint"`
	Length    int           `cbor:"6,keyasint"`
	Data      []byte        `cbor:"7,keyasint,omitempty"`
	Duration  time.Duration `cbor:"8,keyasint,omitempty"`
	Error     string        `cbor:"9,keyasint,omitempty"`
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %-5s 0x%02X len=%d % X", e.Timestamp.Format("15:04:05.000000"), e.Direction, e.Register, e.Length, e.Data)
	if e.Error != "" {
		s += " error=" + e.Error
	}
	return s
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor decoder mode: %v", err))
	}
}

// EncodeEvent returns the CBOR encoding of one event.
func EncodeEvent(e Event) ([]byte, error) {
	return encMode.Marshal(e)
}

// DecodeEvent decodes one CBOR encoded event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
