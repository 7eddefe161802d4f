package trace

import (
	"errors"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events; zero fields match everything.
type Filter struct {
	Session   string
	Device    string
	Direction *Direction
	// Register matches events whose transfer covers this address.
	Register *uint16
	// ErrorsOnly keeps failed transfers only.
	ErrorsOnly bool
}

func (f Filter) matches(e Event) bool {
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.Device != "" && e.Device != f.Device {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.Register != nil {
		reg := int(*f.Register)
		if reg < int(e.Register) || reg >= int(e.Register)+max(e.Length, 1) {
			return false
		}
	}
	if f.ErrorsOnly && e.Error == "" {
		return false
	}
	return true
}

// Reader streams events from a CBOR trace.
type Reader struct {
	closer io.Closer
	dec    *cbor.Decoder
	filter Filter
}

func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{dec: newDecoder(r), filter: filter}
}

// OpenReader opens a trace file written by OpenRecorder.
func OpenReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f, filter)
	r.closer = f
	return r, nil
}

// Next returns the next matching event or io.EOF at the end of the trace.
// A file cut short in the middle of an event yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.dec.Decode(&e); err != nil {
			return Event{}, err
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAll returns every matching event of the trace file.
func ReadAll(path string, filter Filter) ([]Event, error) {
	r, err := OpenReader(path, filter)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var events []Event
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}
