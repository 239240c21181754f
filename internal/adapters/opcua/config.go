package opcua

import (
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AxisFlow/internal/domain"
)

// Config captures the runtime details required to open an OPC UA session and
// the nodes that make up each machine's axes.
type Config struct {
	Enabled         bool            `yaml:"enabled"`
	Endpoint        string          `yaml:"endpoint"`
	Username        string          `yaml:"username"`
	Password        string          `yaml:"password"`
	SecurityMode    string          `yaml:"security_mode"`
	SecurityPolicy  string          `yaml:"security_policy"`
	ApplicationName string          `yaml:"application_name"`
	PollInterval    time.Duration   `yaml:"poll_interval"`
	Machines        []MachineConfig `yaml:"machines"`
}

// MachineConfig maps a registered machine to its controller nodes, keyed by axis letter.
type MachineConfig struct {
	MachineID   string               `yaml:"machine_id"`
	MachineName string               `yaml:"machine_name"`
	Axes        map[string]AxisNodes `yaml:"axes"`
}

// AxisNodes holds the node ids of one axis.
type AxisNodes struct {
	ToolOffset string `yaml:"tool_offset"`
	Feedrate   string `yaml:"feedrate"`
	ToolInUse  string `yaml:"tool_in_use"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AxisFlow"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Machines) == 0 {
		return errors.New("at least one machine must be configured")
	}
	for i, m := range c.Machines {
		if m.MachineID == "" {
			return fmt.Errorf("machines[%d]: machine_id is required", i)
		}
		if _, err := domain.ParseMachineSeq(m.MachineID); err != nil {
			return fmt.Errorf("machines[%d]: %w", i, err)
		}
		if len(m.Axes) == 0 {
			return fmt.Errorf("machine %s: at least one axis is required", m.MachineID)
		}
		for axis, nodes := range m.Axes {
			if _, err := domain.ParseAxis(axis); err != nil {
				return fmt.Errorf("machine %s: %w", m.MachineID, err)
			}
			if nodes.ToolOffset == "" || nodes.Feedrate == "" || nodes.ToolInUse == "" {
				return fmt.Errorf("machine %s axis %s: tool_offset, feedrate and tool_in_use nodes are required", m.MachineID, axis)
			}
		}
	}
	return nil
}
