package touch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var cores []*Core
	for _, name := range []string{"tt1", "tt0"} {
		c, err := New(name, newSimDevice())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		require.NoError(t, r.Register(c))
		cores = append(cores, c)
	}
	assert.Equal(t, []string{"tt0", "tt1"}, r.Names())

	dup, err := New("tt0", newSimDevice())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dup.Close() })
	assert.ErrorIs(t, r.Register(dup), ErrInvalidArgument)

	c, ok := r.Lookup("tt1")
	require.True(t, ok)
	assert.Same(t, cores[0], c)

	c, ok = r.Unregister("tt1")
	require.True(t, ok)
	assert.Same(t, cores[0], c)
	_, ok = r.Lookup("tt1")
	assert.False(t, ok)
	_, ok = r.Unregister("tt1")
	assert.False(t, ok)
	assert.Equal(t, []string{"tt0"}, r.Names())
}
