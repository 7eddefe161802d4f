package touch

import (
	"context"
	"errors"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to retries+1 times until it succeeds. An error
// wrapped with Permanent stops the loop and is returned unwrapped, as is
// a cancelled context. Otherwise the last error is returned.
func Retry(ctx context.Context, retries int, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
