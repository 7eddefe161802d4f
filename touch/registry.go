package touch

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps device names to sessions.
type Registry struct {
	mx    sync.RWMutex
	cores map[string]*Core
}

func NewRegistry() *Registry {
	return &Registry{cores: make(map[string]*Core)}
}

func (r *Registry) Register(c *Core) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if _, ok := r.cores[c.Name()]; ok {
		return fmt.Errorf("%w: device %q already registered", ErrInvalidArgument, c.Name())
	}
	r.cores[c.Name()] = c
	return nil
}

// Unregister removes the named session and returns it. It is not closed.
func (r *Registry) Unregister(name string) (*Core, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	c, ok := r.cores[name]
	delete(r.cores, name)
	return c, ok
}

func (r *Registry) Lookup(name string) (*Core, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	c, ok := r.cores[name]
	return c, ok
}

// Names returns the registered device names in order.
func (r *Registry) Names() []string {
	r.mx.RLock()
	defer r.mx.RUnlock()
	names := make([]string, 0, len(r.cores))
	for n := range r.cores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
