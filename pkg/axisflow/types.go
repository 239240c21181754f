package axisflow

import (
	"github.com/ghalamif/AxisFlow/internal/app/access"
	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Record is one machine reading across its axes at a single instant.
type Record = domain.MachineRecord

// AxisReading is the tool offset, feedrate and tool in use of one axis.
type AxisReading = domain.AxisReading

// Axis names one of the five controlled axes.
type Axis = domain.Axis

const (
	AxisX = domain.AxisX
	AxisY = domain.AxisY
	AxisZ = domain.AxisZ
	AxisA = domain.AxisA
	AxisC = domain.AxisC
)

// Machine is a registered machine tool.
type Machine = domain.Machine

// MachinePatch carries a partial machine update.
type MachinePatch = domain.MachinePatch

// Store is the durable backend for machines and samples.
type Store = ports.Store

// Collector feeds records from an external source (OPC UA, simulators, etc.) into the runtime.
type Collector = ports.Collector

// Distributor persists a record and pushes it to live subscribers.
type Distributor = ports.Distributor

// Subscriber receives pushed records. Push must not block.
type Subscriber = ports.LiveConn

// Observability emits metrics and structured logs.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Policy holds the runtime cadences and limits derived from Config.
type Policy = ports.Policy

// Clock abstracts time for the scheduler, stores and collectors.
type Clock = clock.Clock

// Role is the caller's access level.
type Role = access.Role

const (
	RoleSuperAdmin = access.RoleSuperAdmin
	RoleManager    = access.RoleManager
	RoleSupervisor = access.RoleSupervisor
	RoleOperator   = access.RoleOperator
)

// RoleResolver extracts the caller's role from a request.
type RoleResolver = access.RoleResolver

var (
	ErrValidation = domain.ErrValidation
	ErrNotFound   = domain.ErrNotFound
	ErrStorage    = domain.ErrStorage
	ErrDelivery   = domain.ErrDelivery
	ErrForbidden  = access.ErrForbidden
)
