package touch

import (
	"errors"
	"fmt"
)

var (
	// ErrIO wraps every failed bus transaction.
	ErrIO = errors.New("touch: bus transaction failed")
	// ErrTimeout is returned when a bounded wait elapses. The pending flag
	// the caller waited on is always cleared before it is returned.
	ErrTimeout = errors.New("touch: timed out")
	// ErrAccessDenied is returned for operations in the wrong mode or
	// without holding the exclusive token.
	ErrAccessDenied = errors.New("touch: access denied")
	// ErrBusy means the previous command has not completed yet.
	ErrBusy = errors.New("touch: command in progress")
	// ErrProtocol covers CRC mismatches, malformed descriptors and
	// unexpected command status.
	ErrProtocol = errors.New("touch: protocol fault")

	// ErrCorruptedApplication is the protocol fault of a bootloader that
	// refuses to launch the touch application.
	ErrCorruptedApplication = fmt.Errorf("%w: corrupted touch application", ErrProtocol)

	ErrInvalidArgument = errors.New("touch: invalid argument")
	ErrNotDetected     = errors.New("touch: device not detected")
	ErrNotReady        = errors.New("touch: system information not loaded")
	ErrClosed          = errors.New("touch: core closed")
	ErrQueueFull       = errors.New("touch: task queue full")
)

// CommandError carries the mode and opcode of a failed command.
type CommandError struct {
	Mode   Mode
	Opcode byte
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("touch: %s command %s: %v", e.Mode, commandName(e.Mode, e.Opcode), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

func commandError(mode Mode, opcode byte, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Mode: mode, Opcode: opcode, Err: err}
}
