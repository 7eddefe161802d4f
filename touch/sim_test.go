package touch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errNotReady = errors.New("sim: device not ready")

const (
	simRowSize   = 128
	simBlockSize = 3 * simRowSize
	simMaxLength = 256
	simRecord    = 10
	simReportOfs = 16
	simStatusOfs = 19
	simRecordOfs = 20
	simNoiseOfs  = 60
	simPageMax   = 8
)

type simParam struct {
	size  int
	value uint32
}

type simRow struct {
	row    int
	length int
}

// simDevice emulates a TTSP controller behind a register bus. Host
// writes are interpreted synchronously; interrupts are delivered to the
// attached core from a single goroutine.
type simDevice struct {
	mx   sync.Mutex
	mode Mode

	bl, sysinfo, op, cat [256]byte

	asleep       bool
	silent       bool
	corrupt      bool
	busy         bool
	notReady     int
	failReads    bool
	failConfig   int
	armedGesture int

	params    map[byte]simParam
	block     [simBlockSize]byte
	scanData  []byte
	resets    int
	exits     int
	cmdReads  int
	rowReads  []simRow
	rowWrites []simRow
	ops       int
	failed    int

	irq   chan struct{}
	muted atomic.Bool
	wg    sync.WaitGroup
}

func newSimDevice() *simDevice {
	s := &simDevice{
		mode:         ModeBootloader,
		armedGesture: -1,
		params: map[byte]simParam{
			ParamTouchmodeEnabled: {1, 0x01},
			ParamScanType:         {1, 0x01},
			ParamRefreshInterval:  {1, 5},
		},
		irq: make(chan struct{}, 1),
	}
	s.bl[1] = 0x01
	s.buildSysInfo()
	s.block[0], s.block[1] = 0x00, 0xC0
	s.block[2], s.block[3] = byte(simMaxLength>>8), byte(simMaxLength&0xFF)
	s.block[8], s.block[9] = 0x12, 0x34
	for i := 10; i < simMaxLength; i++ {
		s.block[i] = byte(i)
	}
	s.storeBlockCRC()
	for i := 0; i < 20; i++ {
		s.scanData = append(s.scanData, byte(i), byte(0x80|i))
	}
	return s
}

func (s *simDevice) storeBlockCRC() {
	crc := Checksum(s.block[:simMaxLength])
	s.block[simMaxLength], s.block[simMaxLength+1] = byte(crc>>8), byte(crc)
}

// buildSysInfo lays out a TTSP 2.5 system information block.
func (s *simDevice) buildSysInfo() {
	b := &s.sysinfo
	const (
		cydata = 16
		mfg    = 4
		test   = cydata + 19 + mfg + 7
		pcfg   = test + 2
		opcfg  = pcfg + 13
		ddata  = opcfg + 34
		mdata  = ddata + 4
		end    = mdata + 4
	)
	b[0] = hstSysInfo
	put16 := func(at, v int) { b[at], b[at+1] = byte(v>>8), byte(v) }
	put16(2, end)
	put16(4, cydata)
	put16(6, test)
	put16(8, pcfg)
	put16(10, opcfg)
	put16(12, ddata)
	put16(14, mdata)

	cy := b[cydata:]
	cy[0], cy[1] = 0x12, 0x34
	cy[2], cy[3] = 1, 2
	copy(cy[4:12], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	cy[12], cy[13] = 1, 1
	copy(cy[14:18], []byte{0x0E, 0x10, 0x00, 0x69})
	cy[18] = mfg
	copy(cy[19:23], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	tail := cy[19+mfg:]
	tail[4], tail[5] = 2, 5

	b[test], b[test+1] = 0x00, 0x0F

	pc := b[pcfg:]
	pc[0], pc[1] = 18, 30
	pc[6], pc[7] = 0x02, 0xD0
	pc[8], pc[9] = 0x85, 0x00
	pc[10], pc[11] = 0x00, 0xFF

	oc := b[opcfg:]
	oc[0] = regCATCmd
	oc[1] = simReportOfs
	oc[2], oc[3] = 0, simRecordOfs-simReportOfs
	oc[4] = 2
	oc[5] = simStatusOfs
	oc[7] = 4
	oc[8] = simRecord
	fields := [][2]byte{
		{0x00, 16},
		{0x02, 16},
		{0x04, 8},
		{0x05, 5},
		{0x05 | 5<<5, 2},
		{0x06, 3},
		{0x07, 8},
	}
	for i, f := range fields {
		oc[9+2*i], oc[10+2*i] = f[0], f[1]
	}
	ext := [][2]byte{
		{0x08, 8},
		{0x09, 8},
		{0x06 | 3<<5, 5},
	}
	for i, f := range ext {
		oc[26+2*i], oc[27+2*i] = f[0], f[1]
	}
	oc[32], oc[33] = simNoiseOfs, 2
}

func (s *simDevice) regs() *[256]byte {
	switch s.mode {
	case ModeSysInfo:
		return &s.sysinfo
	case ModeOperational:
		return &s.op
	case ModeDiagnostic:
		return &s.cat
	}
	return &s.bl
}

// attach starts interrupt delivery to c and bootloader heartbeats.
func (s *simDevice) attach(t *testing.T, c *Core) {
	ctx, cancel := context.WithCancel(context.Background())
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.irq:
				c.HandleInterrupt(ctx)
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mx.Lock()
				heartbeat := s.mode == ModeBootloader && !s.silent && s.resets > 0
				s.mx.Unlock()
				if heartbeat {
					s.raise()
				}
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		s.wg.Wait()
		_ = c.Close()
	})
}

// raise asserts the interrupt line. Pending interrupts coalesce; the
// router always reads the current registers.
func (s *simDevice) raise() {
	if s.muted.Load() {
		return
	}
	select {
	case s.irq <- struct{}{}:
	default:
	}
}

func (s *simDevice) ReadReg(_ context.Context, addr uint16, buf []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.ops++
	if s.failReads {
		s.failed++
		return errNotReady
	}
	if s.notReady > 0 {
		s.notReady--
		s.failed++
		return errNotReady
	}
	if s.asleep && s.armedGesture < 0 {
		// any transfer wakes the controller from deep sleep
		s.asleep = false
		s.op[0] &^= hstSleep
		defer s.raise()
	}
	r := s.regs()
	if s.mode == ModeDiagnostic || s.mode == ModeOperational {
		if int(addr) == regCATCmd {
			s.cmdReads++
		}
	}
	if int(addr)+len(buf) > len(r) {
		return errors.New("sim: read beyond register file")
	}
	copy(buf, r[addr:])
	if s.busy && int(addr) <= regCATCmd && int(addr)+len(buf) > regCATCmd {
		buf[regCATCmd-int(addr)] &^= cmdComplete
	}
	return nil
}

func (s *simDevice) WriteReg(_ context.Context, addr uint16, data []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.ops++
	if s.mode == ModeBootloader {
		return s.writeBootloader(addr, data)
	}
	r := s.regs()
	if int(addr)+len(data) > len(r) {
		return errors.New("sim: write beyond register file")
	}
	switch {
	case addr == regBase && len(data) == 1:
		s.writeHostMode(data[0])
	case int(addr) == regCATCmd && len(data) == 1:
		s.execute(data[0])
	default:
		copy(r[addr:], data)
	}
	return nil
}

func (s *simDevice) writeBootloader(addr uint16, data []byte) error {
	switch {
	case addr == regBase && len(data) == 1 && data[0]&hstReset != 0:
		s.reset()
	case addr == regBase && (bytes.Equal(data, ldrExit) || bytes.Equal(data, ldrFastExit)):
		s.exits++
		if s.corrupt {
			copy(s.bl[:], ldrErrApp)
			return nil
		}
		s.mode = ModeSysInfo
		s.sysinfo[0] = hstSysInfo
		s.raise()
	}
	return nil
}

func (s *simDevice) reset() {
	s.resets++
	s.mode = ModeBootloader
	s.asleep = false
	s.armedGesture = -1
	s.bl[0], s.bl[1] = 0x00, 0x01
}

func (s *simDevice) writeHostMode(v byte) {
	switch {
	case v&hstReset != 0:
		s.reset()
	case v&hstModeChange != 0:
		switch v & hstModeMask {
		case hstOperate:
			s.mode = ModeOperational
			s.op[regCATCmd] |= cmdComplete
		case hstSysInfo:
			s.mode = ModeSysInfo
		case hstCAT:
			s.mode = ModeDiagnostic
			s.cat[regCATCmd] |= cmdComplete
		}
		s.regs()[0] = v &^ hstModeChange
		s.raise()
	case v&hstSleep != 0:
		s.asleep = true
		s.regs()[0] = v
	default:
		s.regs()[0] = v
	}
}

// execute runs the command whose parameters were written after the
// command register.
func (s *simDevice) execute(opcode byte) {
	r := s.regs()
	p := r[regCATCmd+1:]
	resp := make([]byte, 0, 160)
	switch s.mode {
	case ModeOperational:
		switch opcode {
		case OpGetParam:
			v := s.params[p[0]]
			resp = append(resp, p[0], byte(v.size))
			for i := v.size - 1; i >= 0; i-- {
				resp = append(resp, byte(v.value>>(8*i)))
			}
		case OpSetParam:
			size := int(p[1])
			var v uint32
			for _, b := range p[2 : 2+size] {
				v = v<<8 | uint32(b)
			}
			s.params[p[0]] = simParam{size, v}
			resp = append(resp, p[0], p[1])
		case OpGetCRC:
			crc := Checksum(s.block[:simMaxLength])
			resp = append(resp, statusSuccess, byte(crc>>8), byte(crc))
		case OpWaitForEvent:
			s.armedGesture = int(p[0])
			s.asleep = true
			r[regCATCmd] = opcode
			return
		}
	case ModeDiagnostic:
		switch opcode {
		case CatGetConfigRowSize:
			resp = append(resp, 0, simRowSize)
		case CatReadConfigBlock:
			row, n, ebid := int(be16(p[0:])), int(be16(p[2:])), p[4]
			s.rowReads = append(s.rowReads, simRow{row, n})
			data := s.block[row*simRowSize : row*simRowSize+n]
			crc := Checksum(data)
			status := byte(statusSuccess)
			if s.failConfig > 0 {
				s.failConfig--
				status = 0x01
			}
			resp = append(resp, status, ebid, p[2], p[3], 0)
			resp = append(resp, data...)
			resp = append(resp, byte(crc>>8), byte(crc))
		case CatWriteConfigBlock:
			row, n, ebid := int(be16(p[0:])), int(be16(p[2:])), p[4]
			data := p[5 : 5+n]
			key := p[5+n : 5+n+len(securityKey)]
			crc := be16(p[5+n+len(securityKey):])
			status := byte(statusSuccess)
			if !bytes.Equal(key, securityKey) || crc != Checksum(data) {
				status = 0x01
			} else {
				s.rowWrites = append(s.rowWrites, simRow{row, n})
				copy(s.block[row*simRowSize:], data)
			}
			resp = append(resp, status, ebid, p[2], p[3], 0)
		case CatVerifyConfigBlockCRC:
			calc := Checksum(s.block[:simMaxLength])
			stored := be16(s.block[simMaxLength:])
			status := byte(statusSuccess)
			if calc != stored {
				status = 0x01
			}
			resp = append(resp, status, byte(calc>>8), byte(calc), byte(stored>>8), byte(stored))
		case CatCalibrateIDACs, CatInitBaselines, CatExecPanelScan:
			resp = append(resp, statusSuccess)
		case CatRetrievePanelScan, CatRetrieveDataStructure:
			ofs, n := int(be16(p[0:])), int(be16(p[2:]))
			size := 2
			if opcode == CatRetrieveDataStructure {
				size = 1
			}
			total := len(s.scanData) / size
			count := max(0, min(n, simPageMax, total-ofs))
			resp = append(resp, statusSuccess, p[4], byte(count>>8), byte(count), byte(size))
			if count > 0 {
				resp = append(resp, s.scanData[ofs*size:(ofs+count)*size]...)
			}
		}
	}
	copy(p, resp)
	r[regCATCmd] = opcode | cmdComplete
	s.raise()
}

// touch publishes touch records in the operational window.
func (s *simDevice) touch(buttons byte, records ...[]byte) {
	s.mx.Lock()
	s.op[simReportOfs] = byte(len(records) * simRecord)
	s.op[simReportOfs+2] = buttons
	s.op[simStatusOfs] = byte(len(records))
	for i, rec := range records {
		copy(s.op[simRecordOfs+i*simRecord:], rec)
	}
	s.op[simNoiseOfs], s.op[simNoiseOfs+1] = 0x0A, 0x0B
	s.mx.Unlock()
	s.raise()
}

// gesture completes an armed wait-for-event command.
func (s *simDevice) gesture() {
	s.mx.Lock()
	s.op[regCATCmd] = OpWaitForEvent | cmdComplete
	s.armedGesture = -1
	s.asleep = false
	s.mx.Unlock()
	s.raise()
}

// completeBusy finishes a command the host did not issue.
func (s *simDevice) completeBusy() {
	s.mx.Lock()
	s.busy = false
	s.mx.Unlock()
	s.raise()
}

func (s *simDevice) with(fn func(s *simDevice)) {
	s.mx.Lock()
	defer s.mx.Unlock()
	fn(s)
}

// newTestCore returns a session attached to s with short timeouts and
// no watchdog.
func newTestCore(t *testing.T, s *simDevice, opts ...Opt) *Core {
	t.Helper()
	base := []Opt{
		WithWatchdogInterval(0),
		WithOpts(Opts{
			ResetTimeout:      time.Second,
			SysInfoTimeout:    time.Second,
			ModeChangeTimeout: time.Second,
			CommandTimeout:    time.Second,
			ExclusiveTimeout:  time.Second,
		}),
	}
	c, err := New("tt0", s, append(base, opts...)...)
	require.NoError(t, err)
	s.attach(t, c)
	return c
}
