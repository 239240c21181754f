// Package access maps caller roles to the operations they may perform.
package access

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ghalamif/AxisFlow/internal/domain"
)

type Role string

const (
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleManager    Role = "MANAGER"
	RoleSupervisor Role = "SUPERVISOR"
	RoleOperator   Role = "OPERATOR"
)

type Operation string

const (
	OpListMachines    Operation = "machines.list"
	OpReadHistory     Operation = "history.read"
	OpLiveSubscribe   Operation = "live.subscribe"
	OpCreateMachine   Operation = "machines.create"
	OpUpdateMachine   Operation = "machines.update"
	OpIngestSamples   Operation = "samples.ingest"
	OpUpdateToolInUse Operation = "machines.update.tool_in_use"
	OpDeleteMachine   Operation = "machines.delete"
)

var everyone = []Role{RoleSuperAdmin, RoleManager, RoleSupervisor, RoleOperator}

var table = map[Operation][]Role{
	OpListMachines:    everyone,
	OpReadHistory:     everyone,
	OpLiveSubscribe:   everyone,
	OpCreateMachine:   {RoleSuperAdmin, RoleManager},
	OpUpdateMachine:   {RoleSuperAdmin, RoleManager},
	OpIngestSamples:   {RoleSuperAdmin, RoleManager},
	OpUpdateToolInUse: {RoleSuperAdmin},
	OpDeleteMachine:   {RoleSuperAdmin},
}

// ErrForbidden is returned by Check when the role lacks the capability.
var ErrForbidden = errors.New("forbidden")

// ParseRole accepts role names case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleSuperAdmin, RoleManager, RoleSupervisor, RoleOperator:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", domain.ErrValidation, s)
}

// Allowed reports whether role may perform op. Unknown operations are denied.
func Allowed(role Role, op Operation) bool {
	for _, r := range table[op] {
		if r == role {
			return true
		}
	}
	return false
}

func Check(role Role, op Operation) error {
	if Allowed(role, op) {
		return nil
	}
	return fmt.Errorf("%w: role %s may not %s", ErrForbidden, role, op)
}

// Operations lists every known operation, for diagnostics.
func Operations() []Operation {
	return []Operation{
		OpListMachines, OpReadHistory, OpLiveSubscribe,
		OpCreateMachine, OpUpdateMachine, OpIngestSamples,
		OpUpdateToolInUse, OpDeleteMachine,
	}
}
