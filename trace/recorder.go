package trace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/mklimuk/ttsp"
)

var ErrClosed = errors.New("trace: recorder closed")

var _ ttsp.RegisterBus = (*Recorder)(nil)

type Opts struct {
	Device string
	// MaxData caps the number of payload bytes kept per event; 0 keeps all.
	MaxData int
	Clock   func() time.Time
}

type Opt func(*Opts)

func WithDevice(name string) Opt {
	return func(o *Opts) {
		o.Device = name
	}
}

func WithMaxData(n int) Opt {
	return func(o *Opts) {
		o.MaxData = n
	}
}

func WithClock(clock func() time.Time) Opt {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// Recorder is a ttsp.RegisterBus that forwards every transfer to the
// wrapped bus and appends an Event describing it. Encoding failures are
// logged and never fail the transfer.
type Recorder struct {
	mx      sync.Mutex
	bus     ttsp.RegisterBus
	out     io.Writer
	closer  io.Closer
	enc     *cbor.Encoder
	session string
	opts    Opts
	closed  bool
}

// NewRecorder records the transfers of bus into w.
func NewRecorder(bus ttsp.RegisterBus, w io.Writer, opts ...Opt) *Recorder {
	o := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return &Recorder{
		bus:     bus,
		out:     w,
		enc:     newEncoder(w),
		session: uuid.New().String(),
		opts:    o,
	}
}

// OpenRecorder appends the transfers of bus to the file at path, creating
// it when it does not exist.
func OpenRecorder(path string, bus ttsp.RegisterBus, opts ...Opt) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	r := NewRecorder(bus, f, opts...)
	r.closer = f
	return r, nil
}

// Session is the id stamped on every event of this recorder.
func (r *Recorder) Session() string {
	return r.session
}

func (r *Recorder) ReadReg(ctx context.Context, addr uint16, buffer []byte) error {
	start := r.opts.Clock()
	err := r.bus.ReadReg(ctx, addr, buffer)
	var data []byte
	if err == nil {
		data = buffer
	}
	r.record(start, DirectionRead, addr, len(buffer), data, err)
	return err
}

func (r *Recorder) WriteReg(ctx context.Context, addr uint16, data []byte) error {
	start := r.opts.Clock()
	err := r.bus.WriteReg(ctx, addr, data)
	r.record(start, DirectionWrite, addr, len(data), data, err)
	return err
}

func (r *Recorder) record(start time.Time, dir Direction, addr uint16, length int, data []byte, err error) {
	if r.opts.MaxData > 0 && len(data) > r.opts.MaxData {
		data = data[:r.opts.MaxData]
	}
	e := Event{
		Timestamp: start,
		Session:   r.session,
		Device:    r.opts.Device,
		Direction: dir,
		Register:  addr,
		Length:    length,
		Data:      append([]byte(nil), data...),
		Duration:  r.opts.Clock().Sub(start),
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return
	}
	if encErr := r.enc.Encode(e); encErr != nil {
		slog.Warn("could not record bus transfer", "register", addr, "error", encErr)
	}
}

// Close stops recording and closes the file opened by OpenRecorder. The
// wrapped bus is left open.
func (r *Recorder) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
