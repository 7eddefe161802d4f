package touch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedCore(t *testing.T, s *simDevice, opts ...Opt) *Core {
	t.Helper()
	c := newTestCore(t, s, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestCore_FreshBoot(t *testing.T) {
	s := newSimDevice()
	s.notReady = 2
	c := newTestCore(t, s)

	var completed atomic.Int32
	_, err := c.Subscribe(OnStartupComplete, ModeAny, func(ev Event) {
		assert.Equal(t, "tt0", ev.Device)
		completed.Add(1)
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, ModeOperational, c.Mode())
	assert.Equal(t, int32(1), completed.Load())
	s.with(func(s *simDevice) {
		assert.Equal(t, 2, s.failed)
		assert.Equal(t, 1, s.resets)
		assert.Equal(t, 1, s.exits)
	})

	l := c.Layout()
	require.NotNil(t, l)
	assert.Equal(t, Version{2, 5}, l.Capability.TTSP)
	assert.Equal(t, Version{1, 2}, l.Capability.Firmware)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, l.Capability.ManufacturingID)
	assert.Equal(t, 4, l.MaxTouches)
	assert.Equal(t, 2, l.NumButtons)
	assert.Equal(t, uint16(720), l.Panel.MaxX)
	assert.Equal(t, uint16(1280), l.Panel.MaxY)
	assert.True(t, l.Panel.OriginY)
	assert.Equal(t, 60, l.WindowSize())

	info := c.ConfigInfo()
	assert.Equal(t, uint16(0x1234), info.Version)
	assert.Equal(t, uint16(0xC0), info.Length)
	assert.Equal(t, uint16(simMaxLength), info.MaxLength)
	s.with(func(s *simDevice) {
		assert.Equal(t, Checksum(s.block[:simMaxLength]), info.CRC)
	})
	assert.Equal(t, 5*time.Millisecond, c.RefreshCycle())
	assert.Equal(t, StartupNone, c.Info().Startup)
}

func TestCore_StartNotDetected(t *testing.T) {
	s := newSimDevice()
	s.silent = true
	c := newTestCore(t, s, WithStartupRetries(1), WithResetTimeout(20*time.Millisecond))

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotDetected)
	assert.ErrorIs(t, err, ErrTimeout)
	s.with(func(s *simDevice) {
		assert.Equal(t, 2, s.resets)
	})
}

func TestCore_StartCorruptedApplication(t *testing.T) {
	s := newSimDevice()
	s.corrupt = true
	c := newTestCore(t, s, WithOpts(Opts{SysInfoTimeout: 30 * time.Millisecond}))

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrCorruptedApplication)
	assert.ErrorIs(t, err, ErrProtocol)
	s.with(func(s *simDevice) {
		assert.Equal(t, 1, s.resets, "corrupted image must not be retried")
	})
	assert.True(t, c.Info().CorruptedApp)
	assert.Nil(t, c.Layout())
}

func TestCore_ExecWaitsForBusyCommand(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	ctx := context.Background()

	var before int
	s.with(func(s *simDevice) {
		s.busy = true
		before = s.cmdReads
	})

	c.mx.Lock()
	err := c.issueLocked(ctx, ModeOperational, []byte{OpGetParam, ParamRefreshInterval})
	c.mx.Unlock()
	require.ErrorIs(t, err, ErrBusy)

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Exec(ctx, ModeOperational, []byte{OpGetParam, ParamRefreshInterval}, 6, time.Second)
		done <- result{resp, err}
	}()

	assert.Eventually(t, func() bool {
		var n int
		s.with(func(s *simDevice) { n = s.cmdReads })
		return n >= before+2
	}, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("command issued while the previous one was running")
	default:
	}

	s.completeBusy()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, []byte{ParamRefreshInterval, 1, 5}, r.resp[:3])
	case <-time.After(2 * time.Second):
		t.Fatal("command did not complete")
	}
}

func TestCore_CommandInWrongModeIsDenied(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	ctx := context.Background()

	var before int
	s.with(func(s *simDevice) { before = s.ops })

	_, err := c.Exec(ctx, ModeDiagnostic, []byte{CatGetConfigRowSize}, 2, time.Second)
	assert.ErrorIs(t, err, ErrAccessDenied)
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, ModeDiagnostic, cmdErr.Mode)
	assert.Equal(t, CatGetConfigRowSize, cmdErr.Opcode)

	_, err = c.Read(ctx, ModeSysInfo, 0, 16)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, c.Write(ctx, ModeDiagnostic, 3, []byte{0}), ErrAccessDenied)

	s.with(func(s *simDevice) {
		assert.Equal(t, before, s.ops, "denied operations must not touch the bus")
	})
}

func TestCore_WriteConfigSpanningRows(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	s.with(func(s *simDevice) {
		s.rowReads = nil
		s.rowWrites = nil
	})

	data := make([]byte, 60)
	for i := range data {
		data[i] = 0xE0 | byte(i&0x0F)
	}
	require.NoError(t, c.WriteConfig(context.Background(), EBIDTouchParams, 100, data))
	assert.Equal(t, ModeOperational, c.Mode())

	s.with(func(s *simDevice) {
		assert.Equal(t, []simRow{{0, 128}, {1, 32}, {2, 2}}, s.rowWrites)
		merges := 0
		for _, r := range s.rowReads {
			if r == (simRow{0, 100}) {
				merges++
			}
		}
		assert.Equal(t, 1, merges)
		assert.Equal(t, data, s.block[100:160])
		assert.Equal(t, Checksum(s.block[:simMaxLength]), be16(s.block[simMaxLength:]))
	})
}

func TestCore_WriteConfigKeepsMatchingCRC(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	var same []byte
	s.with(func(s *simDevice) {
		s.rowWrites = nil
		same = append(same, s.block[10:20]...)
	})

	require.NoError(t, c.WriteConfig(context.Background(), EBIDTouchParams, 10, same))
	s.with(func(s *simDevice) {
		assert.Equal(t, []simRow{{0, 20}}, s.rowWrites)
	})
}

func TestCore_WriteConfigBeyondBlock(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)

	err := c.WriteConfig(context.Background(), EBIDTouchParams, 250, make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, ModeOperational, c.Mode())
}

func TestCore_ReadConfig(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)

	got, err := c.ReadConfig(context.Background(), EBIDTouchParams, 100, 60)
	require.NoError(t, err)
	s.with(func(s *simDevice) {
		assert.Equal(t, s.block[100:160], got)
	})
}

// recordSubmits replaces deferred task submission with a recorder.
func recordSubmits(c *Core) func() []string {
	var mx sync.Mutex
	var names []string
	c.mx.Lock()
	c.submit = func(name string, _ func(ctx context.Context)) error {
		mx.Lock()
		defer mx.Unlock()
		names = append(names, name)
		return nil
	}
	c.mx.Unlock()
	return func() []string {
		mx.Lock()
		defer mx.Unlock()
		return append([]string(nil), names...)
	}
}

func TestCore_BootloaderIdleRestartsOnce(t *testing.T) {
	s := newSimDevice()
	s.bl[0], s.bl[1] = 0x01, 0x01
	c, err := New("tt0", s, WithWatchdogInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	submitted := recordSubmits(c)
	ctx := context.Background()

	c.mx.Lock()
	c.mode = ModeBootloader
	c.mx.Unlock()

	for i := 0; i < 3; i++ {
		c.HandleInterrupt(ctx)
	}
	assert.Empty(t, submitted())

	c.HandleInterrupt(ctx)
	assert.Equal(t, []string{"startup"}, submitted())
	c.mx.Lock()
	assert.Equal(t, 0, c.heartbeats)
	assert.Equal(t, StartupQueued, c.startup)
	c.mx.Unlock()

	for i := 0; i < 4; i++ {
		c.HandleInterrupt(ctx)
	}
	assert.Equal(t, []string{"startup"}, submitted(), "a queued restart is not queued twice")
}

func TestCore_UnexpectedBootloaderRestarts(t *testing.T) {
	s := newSimDevice()
	c, err := New("tt0", s, WithWatchdogInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	submitted := recordSubmits(c)

	var modes []Mode
	_, err = c.Subscribe(OnInterrupt, ModeAny, func(ev Event) { modes = append(modes, ev.Mode) })
	require.NoError(t, err)

	c.mx.Lock()
	c.mode = ModeOperational
	c.mx.Unlock()

	c.HandleInterrupt(context.Background())
	assert.Equal(t, []string{"startup"}, submitted())
	assert.Equal(t, ModeUnknown, c.Mode())
	assert.Equal(t, []Mode{ModeBootloader}, modes)
}

func TestCore_TouchReport(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	l := c.Layout()

	events := make(chan Event, 8)
	_, err := c.Subscribe(OnInterrupt, ModeOperational, func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})
	require.NoError(t, err)

	var want TouchRecord
	want[FieldX] = 100
	want[FieldY] = 1200
	want[FieldPressure] = 50
	want[FieldTrackID] = 3
	want[FieldEvent] = EventTouchDown
	want[FieldObjectType] = 1
	want[FieldWidth] = 7
	want[FieldMajor] = 9
	want[FieldMinor] = 8
	want[FieldOrientation] = 4
	rec := make([]byte, l.RecordSize)
	require.NoError(t, l.EncodeRecord(rec, want))

	s.touch(0x04, rec)
	select {
	case ev := <-events:
		require.NotNil(t, ev.Report)
		require.Len(t, ev.Report.Records, 1)
		assert.Equal(t, want, ev.Report.Records[0])
		assert.True(t, ev.Report.ButtonPressed(1))
		assert.False(t, ev.Report.ButtonPressed(0))
		assert.Equal(t, []byte{0x0A, 0x0B}, ev.Report.Noise)
		assert.False(t, ev.Report.LargeObject)
	case <-time.After(2 * time.Second):
		t.Fatal("no touch report")
	}
}

func TestCore_DeepSleepAndWake(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	ctx := context.Background()

	require.NoError(t, c.Sleep(ctx))
	assert.Equal(t, Asleep, c.SleepState())
	s.with(func(s *simDevice) {
		assert.True(t, s.asleep)
		assert.NotZero(t, s.op[0]&hstSleep)
	})

	require.NoError(t, c.Wake(ctx))
	assert.Equal(t, Awake, c.SleepState())
	assert.Equal(t, ModeOperational, c.Mode())
	s.with(func(s *simDevice) {
		assert.False(t, s.asleep)
	})
}

func TestCore_EasyWakeGesture(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	ctx := context.Background()
	require.NoError(t, c.SetEasyWakeGesture(0x02))

	woken := make(chan Event, 1)
	_, err := c.Subscribe(OnWakeSignal, ModeAny, func(ev Event) {
		select {
		case woken <- ev:
		default:
		}
	})
	require.NoError(t, err)

	require.NoError(t, c.Sleep(ctx))
	assert.Equal(t, Asleep, c.SleepState())
	s.with(func(s *simDevice) {
		assert.Equal(t, 2, s.armedGesture)
	})

	s.gesture()
	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("no wake signal")
	}
	require.NoError(t, c.Wake(ctx))
	assert.Equal(t, Awake, c.SleepState())
}

func TestCore_PowerOffSleep(t *testing.T) {
	s := newSimDevice()
	power := func(_ context.Context, on bool) error {
		s.with(func(s *simDevice) {
			if on {
				s.silent = false
				s.reset()
				return
			}
			s.silent = true
			s.mode = ModeBootloader
		})
		return nil
	}
	c := startedCore(t, s, WithFlags(FlagPowerOffOnSleep), WithPower(power))
	ctx := context.Background()

	require.NoError(t, c.Sleep(ctx))
	assert.Equal(t, Asleep, c.SleepState())

	require.NoError(t, c.Wake(ctx))
	assert.Equal(t, Awake, c.SleepState())
	assert.Equal(t, ModeOperational, c.Mode())
	s.with(func(s *simDevice) {
		assert.Equal(t, 2, s.exits)
	})
}

func TestCore_WatchdogProbe(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	submitted := recordSubmits(c)
	ctx := context.Background()
	c.watchdog.start()

	c.probe(ctx)
	assert.Empty(t, submitted())

	require.NoError(t, c.RequestExclusive(ctx, t, time.Second))
	c.probe(ctx)
	assert.Empty(t, submitted(), "probe is held off while the token is held")
	require.NoError(t, c.ReleaseExclusive(t))

	s.with(func(s *simDevice) { s.failReads = true })
	c.probe(ctx)
	assert.Equal(t, []string{"startup"}, submitted())
}

func TestCore_CalibrateAndScan(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	ctx := context.Background()

	require.NoError(t, c.Calibrate(ctx))
	assert.Equal(t, ModeOperational, c.Mode())

	var want []byte
	s.with(func(s *simDevice) { want = append(want, s.scanData...) })

	tests := []struct {
		name  string
		count int
		want  int
	}{
		{"single page", 5, 5},
		{"several pages", 20, 20},
		{"more than available", 25, 20},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			scan, err := c.ScanAndRetrieve(ctx, ScanRequest{SwitchToDiagnostic: true, Scan: true, Count: test.count})
			require.NoError(t, err)
			assert.Equal(t, 2, scan.ElementSize)
			assert.Equal(t, test.want, scan.Count)
			assert.Equal(t, want[:2*test.want], scan.Elements)
			assert.Equal(t, ModeOperational, c.Mode())
		})
	}

	data, err := c.ReadDataStructure(ctx, 4, 12, 0x01)
	require.NoError(t, err)
	assert.Equal(t, want[4:16], data)
}

func TestCore_Parameters(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	ctx := context.Background()

	v, err := c.GetParameter(ctx, ParamRefreshInterval)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)

	require.NoError(t, c.SetParameter(ctx, ParamLowPowerInterval, 2, 0x1234))
	v, err = c.GetParameter(ctx, ParamLowPowerInterval)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), v)

	assert.ErrorIs(t, c.SetParameter(ctx, ParamLowPowerInterval, 3, 1), ErrInvalidArgument)
}

func TestCore_ScanTypeReferenceCounting(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s, WithFlags(FlagScanTypeRAMID))
	ctx := context.Background()
	scanType := func() uint32 {
		var v uint32
		s.with(func(s *simDevice) { v = s.params[ParamScanType].value })
		return v
	}
	assert.Equal(t, uint32(0x01), scanType())

	require.NoError(t, c.EnableScanType(ctx, ScanGlove))
	require.NoError(t, c.EnableScanType(ctx, ScanGlove))
	assert.Equal(t, uint32(0x09), scanType())
	require.NoError(t, c.DisableScanType(ctx, ScanGlove))
	assert.Equal(t, uint32(0x09), scanType())
	require.NoError(t, c.DisableScanType(ctx, ScanGlove))
	assert.Equal(t, uint32(0x01), scanType())
}

func TestCore_ProximityWithoutScanTypeParameter(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s)
	ctx := context.Background()

	assert.ErrorIs(t, c.EnableScanType(ctx, ScanGlove), ErrInvalidArgument)
	require.NoError(t, c.EnableScanType(ctx, ScanProximity))
	s.with(func(s *simDevice) {
		assert.Equal(t, uint32(0x81), s.params[ParamTouchmodeEnabled].value)
	})
	require.NoError(t, c.DisableScanType(ctx, ScanProximity))
	s.with(func(s *simDevice) {
		assert.Equal(t, uint32(0x01), s.params[ParamTouchmodeEnabled].value)
	})
}

func TestCore_Restart(t *testing.T) {
	s := newSimDevice()
	c := startedCore(t, s, WithCalibrateOnRestart(true))
	ctx := context.Background()

	require.NoError(t, c.Restart(ctx, true))
	assert.Equal(t, ModeOperational, c.Mode())

	require.NoError(t, c.Restart(ctx, false))
	require.NoError(t, c.WaitStartup(ctx, 2*time.Second))
	assert.Equal(t, ModeOperational, c.Mode())
	assert.Equal(t, 1, c.Info().Restarts)
	s.with(func(s *simDevice) {
		assert.Equal(t, 3, s.resets)
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New("tt0", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New("tt0", newSimDevice(), WithFlags(FlagPowerOffOnSleep))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New("tt0", newSimDevice(), WithStartupRetries(-1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCore_ClosedRejectsStart(t *testing.T) {
	c, err := New("tt0", newSimDevice())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.Restart(context.Background(), false), ErrClosed)
}

func TestCore_WatchdogStaysDownAfterClose(t *testing.T) {
	c, err := New("tt0", newSimDevice(), WithWatchdogInterval(5*time.Millisecond))
	require.NoError(t, err)
	c.watchdog.start()
	require.NoError(t, c.Close())

	c.watchdogExpired()
	c.probe(context.Background())
	c.watchdog.start()
	c.watchdog.unhold()
	time.Sleep(30 * time.Millisecond)

	c.watchdog.mx.Lock()
	defer c.watchdog.mx.Unlock()
	assert.False(t, c.watchdog.armed)
	assert.Nil(t, c.watchdog.timer)
}

func TestCore_TimeoutClearsPendingFlag(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T) (*Core, *waitFlag, error)
	}{
		{
			name: "mode change",
			run: func(t *testing.T) (*Core, *waitFlag, error) {
				c, err := New("tt0", newSimDevice(), WithWatchdogInterval(0), WithOpts(Opts{ModeChangeTimeout: 20 * time.Millisecond}))
				require.NoError(t, err)
				t.Cleanup(func() { _ = c.Close() })
				err = c.RequestMode(context.Background(), ModeDiagnostic)
				return c, &c.modeChange, err
			},
		},
		{
			name: "command completion",
			run: func(t *testing.T) (*Core, *waitFlag, error) {
				s := newSimDevice()
				c := startedCore(t, s)
				s.muted.Store(true)
				_, err := c.Exec(context.Background(), ModeOperational, []byte{OpGetParam, ParamRefreshInterval}, 6, 20*time.Millisecond)
				return c, &c.exec, err
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, flag, err := test.run(t)
			assert.ErrorIs(t, err, ErrTimeout)
			c.mx.Lock()
			defer c.mx.Unlock()
			assert.False(t, flag.set)
		})
	}
}

func TestCore_UnexpectedModeQueuesRestart(t *testing.T) {
	tests := []struct {
		name    string
		device  Mode
		hst     byte
		have    Mode
		restart bool
	}{
		{"diagnostic while operational", ModeDiagnostic, hstCAT, ModeOperational, true},
		{"sysinfo while diagnostic", ModeSysInfo, hstSysInfo, ModeDiagnostic, true},
		{"mode change in flight", ModeDiagnostic, hstCAT | hstModeChange, ModeOperational, false},
		{"expected mode", ModeDiagnostic, hstCAT, ModeDiagnostic, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSimDevice()
			s.mode = test.device
			s.regs()[0] = test.hst
			c, err := New("tt0", s, WithWatchdogInterval(0))
			require.NoError(t, err)
			t.Cleanup(func() { _ = c.Close() })
			submitted := recordSubmits(c)

			c.mx.Lock()
			c.mode = test.have
			c.mx.Unlock()

			c.HandleInterrupt(context.Background())
			if test.restart {
				assert.Equal(t, []string{"startup"}, submitted())
				assert.Equal(t, StartupQueued, c.Info().Startup)
				return
			}
			assert.Empty(t, submitted())
			assert.Equal(t, test.have, c.Mode())
		})
	}
}

func TestCore_InterruptWhileAsleep(t *testing.T) {
	tests := []struct {
		name    string
		gesture bool
		startup StartupState
		handled bool
	}{
		{"ignored", false, StartupNone, false},
		{"gesture armed", true, StartupNone, true},
		{"startup running", false, StartupRunning, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSimDevice()
			s.mode = ModeOperational
			c, err := New("tt0", s, WithWatchdogInterval(0))
			require.NoError(t, err)
			t.Cleanup(func() { _ = c.Close() })
			submitted := recordSubmits(c)

			var interrupts atomic.Int32
			_, err = c.Subscribe(OnInterrupt, ModeAny, func(Event) { interrupts.Add(1) })
			require.NoError(t, err)

			c.mx.Lock()
			c.mode = ModeOperational
			c.sleep = Asleep
			c.gestureArmed = test.gesture
			c.startup = test.startup
			c.mx.Unlock()

			var before int
			s.with(func(s *simDevice) { before = s.ops })
			c.HandleInterrupt(context.Background())

			var after int
			s.with(func(s *simDevice) { after = s.ops })
			assert.Empty(t, submitted())
			if !test.handled {
				assert.Equal(t, before, after, "no bus traffic")
				assert.Zero(t, interrupts.Load())
				return
			}
			assert.Greater(t, after, before)
			assert.Equal(t, int32(1), interrupts.Load())
		})
	}
}

func TestCore_StartRetriesConfigInfo(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		s := newSimDevice()
		s.failConfig = 1
		c := newTestCore(t, s)

		require.NoError(t, c.Start(context.Background()))
		assert.Equal(t, uint16(0x1234), c.ConfigInfo().Version)
		s.with(func(s *simDevice) {
			assert.Equal(t, 2, s.resets)
		})
	})
	t.Run("persistent", func(t *testing.T) {
		s := newSimDevice()
		s.failConfig = 100
		c := newTestCore(t, s, WithStartupRetries(1))

		err := c.Start(context.Background())
		assert.ErrorIs(t, err, ErrProtocol)
		assert.NotErrorIs(t, err, ErrNotDetected)
		s.with(func(s *simDevice) {
			assert.Equal(t, 2, s.resets)
		})
	})
}
