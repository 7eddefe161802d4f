package touch

import "strings"

// Mode is the operating personality of the controller.
type Mode uint8

const (
	ModeUnknown     Mode = 0
	ModeBootloader  Mode = 1 << 0
	ModeOperational Mode = 1 << 1
	ModeSysInfo     Mode = 1 << 2
	ModeDiagnostic  Mode = 1 << 3
	ModeChanging    Mode = 1 << 6
)

// ModeAny subscribes to interrupts in every mode.
const ModeAny = ModeBootloader | ModeOperational | ModeSysInfo | ModeDiagnostic

var modeNames = []struct {
	m    Mode
	name string
}{
	{ModeBootloader, "bootloader"},
	{ModeOperational, "operational"},
	{ModeSysInfo, "sysinfo"},
	{ModeDiagnostic, "diagnostic"},
	{ModeChanging, "changing"},
}

func (m Mode) String() string {
	if m == ModeUnknown {
		return "unknown"
	}
	var parts []string
	for _, n := range modeNames {
		if m&n.m != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "invalid"
	}
	return strings.Join(parts, "|")
}

// ParseMode maps a mode name to its value. It is used by the CLI and
// the configuration file.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "unknown":
		return ModeUnknown, true
	case "bootloader", "bl":
		return ModeBootloader, true
	case "operational", "op":
		return ModeOperational, true
	case "sysinfo", "si":
		return ModeSysInfo, true
	case "diagnostic", "cat":
		return ModeDiagnostic, true
	}
	return ModeUnknown, false
}

// SleepState guards re-entrant sleep and wake requests.
type SleepState uint8

const (
	Awake SleepState = iota
	Sleeping
	Waking
	Asleep
)

func (s SleepState) String() string {
	switch s {
	case Awake:
		return "awake"
	case Sleeping:
		return "sleeping"
	case Waking:
		return "waking"
	case Asleep:
		return "asleep"
	}
	return "invalid"
}

// StartupState tracks the deferred restart queue.
type StartupState uint8

const (
	StartupNone StartupState = iota
	StartupQueued
	StartupRunning
)

func (s StartupState) String() string {
	switch s {
	case StartupNone:
		return "none"
	case StartupQueued:
		return "queued"
	case StartupRunning:
		return "running"
	}
	return "invalid"
}

func (s SleepState) MarshalText() ([]byte, error)   { return []byte(s.String()), nil }
func (s StartupState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (m Mode) MarshalText() ([]byte, error)         { return []byte(m.String()), nil }
