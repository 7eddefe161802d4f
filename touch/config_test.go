package touch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOpts_YAML(t *testing.T) {
	doc := `
flags: [wake-on-gesture, scan-type-ram-id]
easyWakeGesture: 2
startupRetries: 5
resetTimeout: 2s
watchdogInterval: 500ms
`
	var o Opts
	require.NoError(t, yaml.Unmarshal([]byte(doc), &o))
	assert.Equal(t, FlagWakeOnGesture|FlagScanTypeRAMID, o.Flags)
	assert.Equal(t, "wake-on-gesture,scan-type-ram-id", o.Flags.String())
	assert.Equal(t, byte(2), o.EasyWakeGesture)
	assert.Equal(t, 2*time.Second, o.ResetTimeout)

	out, err := yaml.Marshal(o.Flags)
	require.NoError(t, err)
	assert.Equal(t, "- wake-on-gesture\n- scan-type-ram-id\n", string(out))

	var bad Opts
	assert.Error(t, yaml.Unmarshal([]byte("flags: [teleport]"), &bad))
}

func TestWithOpts_OverlaysNonZero(t *testing.T) {
	o := DefaultOpts()
	WithOpts(Opts{
		StartupRetries:   5,
		ResetTimeout:     2 * time.Second,
		WatchdogInterval: 500 * time.Millisecond,
	})(&o)

	def := DefaultOpts()
	assert.Equal(t, 5, o.StartupRetries)
	assert.Equal(t, 2*time.Second, o.ResetTimeout)
	assert.Equal(t, 500*time.Millisecond, o.WatchdogInterval)
	assert.Equal(t, def.SysInfoTimeout, o.SysInfoTimeout)
	assert.Equal(t, def.EasyWakeGesture, o.EasyWakeGesture)
	assert.Equal(t, byte(deepSleepGesture), o.EasyWakeGesture)
}

func TestOpts_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts []Opt
		ok   bool
	}{
		{"defaults", nil, true},
		{"power-off sleep without power", []Opt{WithFlags(FlagPowerOffOnSleep)}, false},
		{"power-off sleep", []Opt{WithFlags(FlagPowerOffOnSleep), WithPower(func(_ context.Context, _ bool) error { return nil })}, true},
		{"negative retries", []Opt{WithStartupRetries(-1)}, false},
		{"no workers", []Opt{WithOpts(Opts{}), func(o *Opts) { o.Workers = 0 }}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			o := DefaultOpts()
			for _, opt := range test.opts {
				opt(&o)
			}
			err := o.validate()
			if test.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidArgument)
			}
		})
	}
}
