// Package config holds the YAML description of the touch controllers a
// host drives: the bus each one sits on, its interrupt, reset and power
// lines, and the session options handed to touch.New.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mklimuk/ttsp/touch"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "ttsp.yaml"

var ErrInvalid = errors.New("invalid configuration")

type BusKind string

const (
	BusPeriph  BusKind = "periph"
	BusMCP2221 BusKind = "mcp2221"
	BusGobot   BusKind = "gobot"
)

type PinKind string

const (
	PinPeriph   PinKind = "periph"
	PinMCP2221  PinKind = "mcp2221"
	PinMCP23017 PinKind = "mcp23017"
)

// Bus locates the I2C bus and the controller address on it.
type Bus struct {
	Kind BusKind `yaml:"kind"`
	// Device is the periph bus name, e.g. "/dev/i2c-1" or "1".
	Device string `yaml:"device,omitempty"`
	// Number is the gobot bus number.
	Number int `yaml:"number,omitempty"`
	// Index selects one of several MCP2221 bridges.
	Index       int `yaml:"index,omitempty"`
	Address     int `yaml:"address"`
	MaxTransfer int `yaml:"maxTransfer,omitempty"`
	RetryLimit  int `yaml:"retryLimit,omitempty"`
}

// Pin is one GPIO line. Expander pins live on an MCP23017 reached over
// the device's own bus.
type Pin struct {
	Kind PinKind `yaml:"kind"`
	// Name is the periph pin name, e.g. "GPIO17".
	Name string `yaml:"name,omitempty"`
	// Index is the MCP2221 GP pin.
	Index    int    `yaml:"index,omitempty"`
	Expander int    `yaml:"expander,omitempty"`
	Port     string `yaml:"port,omitempty"`
	Bit      int    `yaml:"bit,omitempty"`
}

func (p Pin) String() string {
	switch p.Kind {
	case PinPeriph:
		return p.Name
	case PinMCP2221:
		return fmt.Sprintf("MCP2221/GP%d", p.Index)
	case PinMCP23017:
		return fmt.Sprintf("MCP23017/0x%02X/%s%d", p.Expander, strings.ToUpper(p.Port), p.Bit)
	default:
		return string(p.Kind)
	}
}

type Device struct {
	Name  string `yaml:"name"`
	Bus   Bus    `yaml:"bus"`
	IRQ   *Pin   `yaml:"irq,omitempty"`
	Reset *Pin   `yaml:"reset,omitempty"`
	// Power rails in switch-on order.
	Power []Pin `yaml:"power,omitempty"`

	ResetPulse  time.Duration `yaml:"resetPulse,omitempty"`
	PowerSettle time.Duration `yaml:"powerSettle,omitempty"`
	// PollInterval is the IRQ edge wait or level poll period.
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`
	// Trace names a file receiving every register transfer.
	Trace string `yaml:"trace,omitempty"`

	Touch touch.Opts `yaml:"touch"`
}

type Config struct {
	Devices []Device `yaml:"devices"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for i := range cfg.Devices {
		cfg.Devices[i].defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (d *Device) defaults() {
	if d.Bus.Kind == "" {
		d.Bus.Kind = BusPeriph
	}
	if d.PollInterval == 0 {
		d.PollInterval = 10 * time.Millisecond
	}
}

// Lookup returns the named device; an empty name selects the only one.
func (c *Config) Lookup(name string) (*Device, error) {
	if name == "" {
		if len(c.Devices) != 1 {
			return nil, fmt.Errorf("%d devices configured, select one by name", len(c.Devices))
		}
		return &c.Devices[0], nil
	}
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i], nil
		}
	}
	return nil, fmt.Errorf("device %q is not configured", name)
}

func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("device %d: missing name", i))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Errorf("device %q: duplicate name", d.Name))
		}
		seen[d.Name] = true
		if err := d.validate(); err != nil {
			errs = append(errs, fmt.Errorf("device %q: %w", d.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (d Device) validate() error {
	switch d.Bus.Kind {
	case BusPeriph, BusMCP2221, BusGobot:
	default:
		return fmt.Errorf("unknown bus kind %q", d.Bus.Kind)
	}
	if d.Bus.Address <= 0 || d.Bus.Address > 0x7F {
		return fmt.Errorf("bus address 0x%X is not a 7-bit address", d.Bus.Address)
	}
	pins := append([]Pin(nil), d.Power...)
	if d.IRQ != nil {
		pins = append(pins, *d.IRQ)
	}
	if d.Reset != nil {
		pins = append(pins, *d.Reset)
	}
	for _, p := range pins {
		if err := p.validate(); err != nil {
			return fmt.Errorf("pin %s: %w", p, err)
		}
	}
	if d.Touch.Flags&touch.FlagPowerOffOnSleep != 0 && len(d.Power) == 0 {
		return errors.New("power-off-on-sleep needs power rails")
	}
	return nil
}

func (p Pin) validate() error {
	switch p.Kind {
	case PinPeriph:
		if p.Name == "" {
			return errors.New("missing periph pin name")
		}
	case PinMCP2221:
		if p.Index < 0 || p.Index > 3 {
			return errors.New("MCP2221 has pins GP0 to GP3")
		}
	case PinMCP23017:
		if p.Expander <= 0 || p.Expander > 0x7F {
			return errors.New("missing expander address")
		}
		if port := strings.ToUpper(p.Port); port != "A" && port != "B" {
			return fmt.Errorf("unknown expander port %q", p.Port)
		}
		if p.Bit < 0 || p.Bit > 7 {
			return errors.New("expander bit out of range")
		}
	default:
		return fmt.Errorf("unknown pin kind %q", p.Kind)
	}
	return nil
}
