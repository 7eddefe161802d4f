package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mklimuk/ttsp/touch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
devices:
  - name: main
    bus:
      kind: periph
      device: /dev/i2c-1
      address: 0x24
      maxTransfer: 256
    irq:
      kind: periph
      name: GPIO17
    reset:
      kind: mcp23017
      expander: 0x21
      port: a
      bit: 3
    power:
      - kind: periph
        name: GPIO5
      - kind: periph
        name: GPIO6
    powerSettle: 80ms
    trace: /tmp/main.cbor
    touch:
      flags: [power-off-on-sleep, scan-type-ram-id]
      easyWakeGesture: 2
      resetTimeout: 2s
      watchdogInterval: 0s
  - name: bench
    bus:
      kind: mcp2221
      address: 0x24
    irq:
      kind: mcp2221
      index: 1
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 2)

	main := cfg.Devices[0]
	assert.Equal(t, BusPeriph, main.Bus.Kind)
	assert.Equal(t, "/dev/i2c-1", main.Bus.Device)
	assert.Equal(t, 0x24, main.Bus.Address)
	assert.Equal(t, 256, main.Bus.MaxTransfer)
	require.NotNil(t, main.IRQ)
	assert.Equal(t, "GPIO17", main.IRQ.String())
	require.NotNil(t, main.Reset)
	assert.Equal(t, "MCP23017/0x21/A3", main.Reset.String())
	require.Len(t, main.Power, 2)
	assert.Equal(t, "GPIO5", main.Power[0].Name)
	assert.Equal(t, 80*time.Millisecond, main.PowerSettle)
	assert.Equal(t, 10*time.Millisecond, main.PollInterval)
	assert.Equal(t, "/tmp/main.cbor", main.Trace)
	assert.Equal(t, touch.FlagPowerOffOnSleep|touch.FlagScanTypeRAMID, main.Touch.Flags)
	assert.Equal(t, byte(2), main.Touch.EasyWakeGesture)
	assert.Equal(t, 2*time.Second, main.Touch.ResetTimeout)

	bench := cfg.Devices[1]
	assert.Equal(t, BusMCP2221, bench.Bus.Kind)
	assert.Equal(t, "MCP2221/GP1", bench.IRQ.String())
	assert.Nil(t, bench.Reset)
}

func TestLookup(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	d, err := cfg.Lookup("bench")
	require.NoError(t, err)
	assert.Equal(t, "bench", d.Name)

	_, err = cfg.Lookup("")
	assert.Error(t, err)
	_, err = cfg.Lookup("missing")
	assert.Error(t, err)

	single := &Config{Devices: []Device{{Name: "only"}}}
	d, err = single.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "only", d.Name)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "devices: [\n"},
		{"missing name", "devices:\n  - bus: {address: 0x24}\n"},
		{"duplicate name", "devices:\n  - {name: a, bus: {address: 0x24}}\n  - {name: a, bus: {address: 0x25}}\n"},
		{"bus kind", "devices:\n  - {name: a, bus: {kind: spi, address: 0x24}}\n"},
		{"address", "devices:\n  - {name: a, bus: {address: 0x80}}\n"},
		{"missing address", "devices:\n  - {name: a, bus: {kind: gobot}}\n"},
		{"pin kind", "devices:\n  - {name: a, bus: {address: 0x24}, irq: {kind: usb}}\n"},
		{"periph pin name", "devices:\n  - {name: a, bus: {address: 0x24}, irq: {kind: periph}}\n"},
		{"mcp2221 pin", "devices:\n  - {name: a, bus: {address: 0x24}, reset: {kind: mcp2221, index: 4}}\n"},
		{"expander port", "devices:\n  - {name: a, bus: {address: 0x24}, reset: {kind: mcp23017, expander: 0x21, port: c}}\n"},
		{"expander bit", "devices:\n  - {name: a, bus: {address: 0x24}, reset: {kind: mcp23017, expander: 0x21, port: b, bit: 8}}\n"},
		{"power-off without rails", "devices:\n  - {name: a, bus: {address: 0x24}, touch: {flags: [power-off-on-sleep]}}\n"},
		{"unknown flag", "devices:\n  - {name: a, bus: {address: 0x24}, touch: {flags: [turbo]}}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
