package touch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Arbiter is the exclusive access token serializing multi-step command
// sequences. Owners are compared with ==, so they must be comparable.
type Arbiter struct {
	mx      sync.Mutex
	owner   any
	waiters int
	freed   chan struct{}
}

func NewArbiter() *Arbiter {
	return &Arbiter{freed: make(chan struct{})}
}

// Acquire takes the token for owner. A caller gets it immediately only
// when nobody holds it and nobody is waiting; otherwise it queues until
// the token is released or timeout elapses. A zero timeout waits until
// ctx is done.
func (a *Arbiter) Acquire(ctx context.Context, owner any, timeout time.Duration) error {
	if owner == nil {
		return fmt.Errorf("%w: nil exclusive owner", ErrInvalidArgument)
	}
	a.mx.Lock()
	if a.owner == nil && a.waiters == 0 {
		a.owner = owner
		a.mx.Unlock()
		return nil
	}
	a.waiters++
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		freed := a.freed
		a.mx.Unlock()
		select {
		case <-freed:
		case <-expired:
			a.mx.Lock()
			a.waiters--
			a.mx.Unlock()
			return fmt.Errorf("%w: waiting for exclusive access", ErrTimeout)
		case <-ctx.Done():
			a.mx.Lock()
			a.waiters--
			a.mx.Unlock()
			return ctx.Err()
		}
		a.mx.Lock()
		if a.owner == nil {
			a.owner = owner
			a.waiters--
			a.mx.Unlock()
			return nil
		}
	}
}

// Release frees the token. Only the current holder may release it.
func (a *Arbiter) Release(owner any) error {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.owner == nil || a.owner != owner {
		return fmt.Errorf("%w: exclusive access not held by caller", ErrAccessDenied)
	}
	a.owner = nil
	close(a.freed)
	a.freed = make(chan struct{})
	return nil
}

// Owner returns the current holder or nil.
func (a *Arbiter) Owner() any {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.owner
}

// Waiters returns the number of callers queued for the token.
func (a *Arbiter) Waiters() int {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.waiters
}
