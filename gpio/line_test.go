package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type recorder struct {
	mx     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) all() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.events...)
}

type recordedOutput struct {
	name string
	rec  *recorder
	err  error
}

func (o *recordedOutput) Set(_ context.Context, high bool) error {
	if o.err != nil {
		return o.err
	}
	o.rec.add(fmt.Sprintf("%s=%t", o.name, high))
	return nil
}

type fakeLevel struct {
	high atomic.Bool
}

func (f *fakeLevel) Level(context.Context) (bool, error) {
	return f.high.Load(), nil
}

func TestResetPin(t *testing.T) {
	rec := &recorder{}
	r := NewResetPin(&recordedOutput{name: "xres", rec: rec}, time.Millisecond)
	require.NoError(t, r.Reset(context.Background()))
	assert.Equal(t, []string{"xres=true", "xres=false", "xres=true"}, rec.all())

	failing := NewResetPin(&recordedOutput{err: errors.New("gone")}, time.Millisecond)
	assert.Error(t, failing.Reset(context.Background()))
}

func TestPowerRails_Order(t *testing.T) {
	rec := &recorder{}
	p := NewPowerRails(time.Millisecond,
		&recordedOutput{name: "vddo", rec: rec},
		&recordedOutput{name: "avdd", rec: rec},
	)
	ctx := context.Background()
	require.NoError(t, p.Power(ctx, true))
	require.NoError(t, p.Power(ctx, false))
	assert.Equal(t, []string{"vddo=true", "avdd=true", "avdd=false", "vddo=false"}, rec.all())
}

func TestLine_Watch(t *testing.T) {
	pin := &gpiotest.Pin{N: "IRQ", EdgesChan: make(chan gpio.Level)}
	l, err := NewLine(pin, 5*time.Millisecond)
	require.NoError(t, err)
	asserted, err := l.Asserted()
	require.NoError(t, err)
	assert.False(t, asserted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	go l.Watch(ctx, func(context.Context) { calls.Add(1) })

	pin.EdgesChan <- gpio.Low
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
	asserted, _ = l.Asserted()
	assert.True(t, asserted)

	pin.EdgesChan <- gpio.High
	time.Sleep(20 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "a released line is not reported")

	l.Disable()
	pin.EdgesChan <- gpio.Low
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "a disabled line is not reported")
}

func TestPolledLine_Watch(t *testing.T) {
	in := &fakeLevel{}
	in.high.Store(true)
	l := NewPolledLine(in, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	go l.Watch(ctx, func(context.Context) { calls.Add(1) })

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, calls.Load())

	in.high.Store(false)
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)
	asserted, err := l.Asserted()
	require.NoError(t, err)
	assert.True(t, asserted)

	l.Disable()
	time.Sleep(5 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}
