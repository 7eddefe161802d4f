package console

import (
	"github.com/fatih/color"

	"github.com/mklimuk/ttsp/touch"
)

var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
)

// Mode colors a controller mode: green when it reports touches, red for
// the bootloader and unknown states.
func Mode(m touch.Mode) string {
	switch m {
	case touch.ModeOperational:
		return Green(m)
	case touch.ModeSysInfo, touch.ModeDiagnostic:
		return Yellow(m)
	}
	return Red(m)
}

// Sleep colors a sleep state.
func Sleep(s touch.SleepState) string {
	if s == touch.Awake {
		return Green(s)
	}
	return Cyan(s)
}
