package touch

import "fmt"

// Info is a point in time snapshot of a session, suitable for YAML
// output.
type Info struct {
	Device       string       `yaml:"device"`
	Mode         Mode         `yaml:"mode"`
	Sleep        SleepState   `yaml:"sleep"`
	Startup      StartupState `yaml:"startup"`
	Restarts     int          `yaml:"restarts"`
	CorruptedApp bool         `yaml:"corruptedApplication"`
	IRQAsserted  *bool        `yaml:"irqAsserted,omitempty"`
	Gesture      string       `yaml:"easyWakeGesture"`

	TTSP            *Version    `yaml:"ttsp,omitempty"`
	Firmware        *Version    `yaml:"firmware,omitempty"`
	Bootloader      *Version    `yaml:"bootloader,omitempty"`
	ProductID       string      `yaml:"productId,omitempty"`
	RevisionControl string      `yaml:"revisionControl,omitempty"`
	JTAGID          string      `yaml:"jtagId,omitempty"`
	ManufacturingID string      `yaml:"manufacturingId,omitempty"`
	Panel           *PanelInfo  `yaml:"panel,omitempty"`
	Config          *ConfigInfo `yaml:"config,omitempty"`
	MaxTouches      int         `yaml:"maxTouches,omitempty"`
	Buttons         int         `yaml:"buttons,omitempty"`
}

// PanelInfo is the panel geometry part of Info.
type PanelInfo struct {
	ElectrodesX int  `yaml:"electrodesX"`
	ElectrodesY int  `yaml:"electrodesY"`
	MaxX        int  `yaml:"maxX"`
	MaxY        int  `yaml:"maxY"`
	MaxZ        int  `yaml:"maxZ"`
	OriginX     bool `yaml:"originRight"`
	OriginY     bool `yaml:"originBottom"`
}

// Info returns a snapshot of the session and, once started, of the
// controller identity.
func (c *Core) Info() Info {
	c.mx.Lock()
	info := Info{
		Device:       c.name,
		Mode:         c.mode,
		Sleep:        c.sleep,
		Startup:      c.startup,
		Restarts:     c.restarts,
		CorruptedApp: c.invalidApp,
		Gesture:      fmt.Sprintf("0x%02X", c.gesture),
	}
	l := c.layout
	cfg := c.ttconfig
	c.mx.Unlock()

	if c.opts.IRQ != nil {
		if asserted, err := c.opts.IRQ.Asserted(); err == nil {
			info.IRQAsserted = &asserted
		} else {
			c.log.Warn("could not read interrupt line", "error", err)
		}
	}
	if l == nil {
		return info
	}
	id := l.Capability
	info.TTSP = &id.TTSP
	info.Firmware = &id.Firmware
	info.Bootloader = &id.Bootloader
	info.ProductID = fmt.Sprintf("%04X", id.ProductID)
	info.RevisionControl = fmt.Sprintf("%X", id.RevisionControl)
	info.JTAGID = fmt.Sprintf("%X", id.JTAGID)
	info.ManufacturingID = fmt.Sprintf("%X", id.ManufacturingID)
	info.Panel = &PanelInfo{
		ElectrodesX: int(l.Panel.ElectrodesX),
		ElectrodesY: int(l.Panel.ElectrodesY),
		MaxX:        int(l.Panel.MaxX),
		MaxY:        int(l.Panel.MaxY),
		MaxZ:        int(l.Panel.MaxZ),
		OriginX:     l.Panel.OriginX,
		OriginY:     l.Panel.OriginY,
	}
	info.Config = &cfg
	info.MaxTouches = l.MaxTouches
	info.Buttons = l.NumButtons
	return info
}
