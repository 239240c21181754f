package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const machineIDPrefix = "M"

// Machine is a registered machine tool.
type Machine struct {
	MachineID    string    `json:"machineId"`
	MachineName  string    `json:"machineName"`
	ToolCapacity int       `json:"toolCapacity"`
	CreatedAt    time.Time `json:"createdAt"`
}

// MachinePatch carries the optional fields of an update request.
type MachinePatch struct {
	MachineName  *string `json:"machineName,omitempty"`
	ToolCapacity *int    `json:"toolCapacity,omitempty"`
	ToolInUse    *int    `json:"toolInUse,omitempty"`
}

// FormatMachineID renders the n-th machine id, e.g. 1 -> "M00000001".
func FormatMachineID(n int) string {
	return fmt.Sprintf("%s%08d", machineIDPrefix, n)
}

// ParseMachineSeq returns the sequence number encoded in a machine id.
func ParseMachineSeq(id string) (int, error) {
	if !strings.HasPrefix(id, machineIDPrefix) || len(id) != len(machineIDPrefix)+8 {
		return 0, fmt.Errorf("%w: malformed machine id %q", ErrValidation, id)
	}
	n, err := strconv.Atoi(id[len(machineIDPrefix):])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: malformed machine id %q", ErrValidation, id)
	}
	return n, nil
}

// ValidateNewMachine checks the inputs of a create request.
func ValidateNewMachine(name string, toolCapacity int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: machineName is required", ErrValidation)
	}
	if toolCapacity < 1 {
		return fmt.Errorf("%w: toolCapacity must be >= 1, got %d", ErrValidation, toolCapacity)
	}
	return nil
}

// Validate checks the persisted fields of a patch. ToolInUse is not a machine column and is ignored here.
func (p MachinePatch) Validate() error {
	if p.MachineName != nil && strings.TrimSpace(*p.MachineName) == "" {
		return fmt.Errorf("%w: machineName must not be empty", ErrValidation)
	}
	if p.ToolCapacity != nil && *p.ToolCapacity < 1 {
		return fmt.Errorf("%w: toolCapacity must be >= 1, got %d", ErrValidation, *p.ToolCapacity)
	}
	return nil
}

// Apply copies the set fields onto m.
func (p MachinePatch) Apply(m *Machine) {
	if p.MachineName != nil {
		m.MachineName = *p.MachineName
	}
	if p.ToolCapacity != nil {
		m.ToolCapacity = *p.ToolCapacity
	}
}
