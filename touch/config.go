package touch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Flags select platform behavior of a controller.
type Flags uint8

const (
	// FlagWakeOnGesture keeps the controller listening for the easy
	// wakeup gesture while asleep.
	FlagWakeOnGesture Flags = 1 << iota
	// FlagPowerOffOnSleep cuts the power rails on sleep instead of
	// putting the controller to sleep through its registers.
	FlagPowerOffOnSleep
	// FlagScanTypeRAMID manages scan types through the SCAN_TYPE RAM id.
	FlagScanTypeRAMID
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagWakeOnGesture, "wake-on-gesture"},
	{FlagPowerOffOnSleep, "power-off-on-sleep"},
	{FlagScanTypeRAMID, "scan-type-ram-id"},
}

func (f Flags) String() string {
	var names []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// UnmarshalYAML accepts a list of flag names.
func (f *Flags) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	if err := value.Decode(&names); err != nil {
		return err
	}
	var out Flags
	for _, name := range names {
		found := false
		for _, n := range flagNames {
			if n.name == name {
				out |= n.f
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown platform flag %q", name)
		}
	}
	*f = out
	return nil
}

func (f Flags) MarshalYAML() (any, error) {
	var names []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			names = append(names, n.name)
		}
	}
	return names, nil
}

// PowerFunc switches the controller supply on or off.
type PowerFunc func(ctx context.Context, on bool) error

// ResetFunc pulses the hardware reset line of the controller.
type ResetFunc func(ctx context.Context) error

// IRQ is the interrupt line of a controller as seen by the core.
type IRQ interface {
	Enable()
	Disable()
	// Asserted reports the current line level (active low).
	Asserted() (bool, error)
}

// Opts configures a Core. The same structure is decoded from the
// configuration file; collaborators are wired with options.
type Opts struct {
	Flags           Flags `yaml:"flags"`
	EasyWakeGesture byte  `yaml:"easyWakeGesture"`
	// StartupRetries is the number of additional startup attempts.
	StartupRetries     int  `yaml:"startupRetries"`
	CalibrateOnRestart bool `yaml:"calibrateOnRestart"`

	ResetTimeout          time.Duration `yaml:"resetTimeout"`
	SysInfoTimeout        time.Duration `yaml:"sysInfoTimeout"`
	ModeChangeTimeout     time.Duration `yaml:"modeChangeTimeout"`
	CommandTimeout        time.Duration `yaml:"commandTimeout"`
	CalibrateTimeout      time.Duration `yaml:"calibrateTimeout"`
	InitBaselinesTimeout  time.Duration `yaml:"initBaselinesTimeout"`
	ExclusiveTimeout      time.Duration `yaml:"exclusiveTimeout"`
	SleepExclusiveTimeout time.Duration `yaml:"sleepExclusiveTimeout"`
	WakeupTimeout         time.Duration `yaml:"wakeupTimeout"`
	WatchdogInterval      time.Duration `yaml:"watchdogInterval"`
	WatchdogProbeTimeout  time.Duration `yaml:"watchdogProbeTimeout"`
	RefreshCycle          time.Duration `yaml:"refreshCycle"`
	LevelIRQDelay         time.Duration `yaml:"levelIrqDelay"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`

	Logger *slog.Logger `yaml:"-"`
	Power  PowerFunc    `yaml:"-"`
	Reset  ResetFunc    `yaml:"-"`
	IRQ    IRQ          `yaml:"-"`
	// Executor runs deferred work; when nil the core owns one.
	Executor *Executor `yaml:"-"`
}

type Opt func(*Opts)

// DefaultOpts returns the timing used by the controller family.
func DefaultOpts() Opts {
	return Opts{
		EasyWakeGesture:       deepSleepGesture,
		StartupRetries:        3,
		ResetTimeout:          5 * time.Second,
		SysInfoTimeout:        5 * time.Second,
		ModeChangeTimeout:     time.Second,
		CommandTimeout:        time.Second,
		CalibrateTimeout:      10 * time.Second,
		InitBaselinesTimeout:  500 * time.Millisecond,
		ExclusiveTimeout:      5 * time.Second,
		SleepExclusiveTimeout: 5 * time.Second,
		WakeupTimeout:         500 * time.Millisecond,
		WatchdogInterval:      time.Second,
		WatchdogProbeTimeout:  time.Millisecond,
		RefreshCycle:          20 * time.Millisecond,
		Workers:               1,
		QueueSize:             8,
	}
}

// WithOpts overlays the non-zero values of o, typically decoded from a
// configuration file.
func WithOpts(o Opts) Opt {
	return func(dst *Opts) {
		if o.Flags != 0 {
			dst.Flags = o.Flags
		}
		if o.EasyWakeGesture != 0 {
			dst.EasyWakeGesture = o.EasyWakeGesture
		}
		if o.StartupRetries != 0 {
			dst.StartupRetries = o.StartupRetries
		}
		if o.CalibrateOnRestart {
			dst.CalibrateOnRestart = true
		}
		for _, d := range []struct {
			src time.Duration
			dst *time.Duration
		}{
			{o.ResetTimeout, &dst.ResetTimeout},
			{o.SysInfoTimeout, &dst.SysInfoTimeout},
			{o.ModeChangeTimeout, &dst.ModeChangeTimeout},
			{o.CommandTimeout, &dst.CommandTimeout},
			{o.CalibrateTimeout, &dst.CalibrateTimeout},
			{o.InitBaselinesTimeout, &dst.InitBaselinesTimeout},
			{o.ExclusiveTimeout, &dst.ExclusiveTimeout},
			{o.SleepExclusiveTimeout, &dst.SleepExclusiveTimeout},
			{o.WakeupTimeout, &dst.WakeupTimeout},
			{o.WatchdogInterval, &dst.WatchdogInterval},
			{o.WatchdogProbeTimeout, &dst.WatchdogProbeTimeout},
			{o.RefreshCycle, &dst.RefreshCycle},
			{o.LevelIRQDelay, &dst.LevelIRQDelay},
		} {
			if d.src != 0 {
				*d.dst = d.src
			}
		}
		if o.Workers != 0 {
			dst.Workers = o.Workers
		}
		if o.QueueSize != 0 {
			dst.QueueSize = o.QueueSize
		}
	}
}

func WithLogger(l *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = l
	}
}

func WithPower(fn PowerFunc) Opt {
	return func(o *Opts) {
		o.Power = fn
	}
}

func WithReset(fn ResetFunc) Opt {
	return func(o *Opts) {
		o.Reset = fn
	}
}

func WithIRQ(irq IRQ) Opt {
	return func(o *Opts) {
		o.IRQ = irq
	}
}

func WithFlags(f Flags) Opt {
	return func(o *Opts) {
		o.Flags = f
	}
}

// WithEasyWakeGesture selects the wakeup gesture; 0xFF selects deep sleep.
func WithEasyWakeGesture(g byte) Opt {
	return func(o *Opts) {
		o.EasyWakeGesture = g
	}
}

func WithStartupRetries(n int) Opt {
	return func(o *Opts) {
		o.StartupRetries = n
	}
}

func WithCalibrateOnRestart(enabled bool) Opt {
	return func(o *Opts) {
		o.CalibrateOnRestart = enabled
	}
}

func WithResetTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.ResetTimeout = d
	}
}

func WithModeChangeTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.ModeChangeTimeout = d
	}
}

func WithCommandTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.CommandTimeout = d
	}
}

func WithExclusiveTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.ExclusiveTimeout = d
	}
}

// WithWatchdogInterval sets the liveness probe period; zero disables it.
func WithWatchdogInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.WatchdogInterval = d
	}
}

func WithRefreshCycle(d time.Duration) Opt {
	return func(o *Opts) {
		o.RefreshCycle = d
	}
}

func WithLevelIRQDelay(d time.Duration) Opt {
	return func(o *Opts) {
		o.LevelIRQDelay = d
	}
}

func WithExecutor(e *Executor) Opt {
	return func(o *Opts) {
		o.Executor = e
	}
}

func (o *Opts) validate() error {
	if o.Flags&FlagPowerOffOnSleep != 0 && o.Power == nil {
		return fmt.Errorf("%w: power-off sleep requires a power function", ErrInvalidArgument)
	}
	if o.StartupRetries < 0 {
		return fmt.Errorf("%w: negative startup retries", ErrInvalidArgument)
	}
	if o.Workers <= 0 || o.QueueSize <= 0 {
		return fmt.Errorf("%w: executor needs workers and queue", ErrInvalidArgument)
	}
	return nil
}
