// Package machines implements machine management on top of the store.
package machines

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Generator produces readings for one machine, or all when m is nil.
type Generator interface {
	Generate(ctx context.Context, m *domain.Machine) ([]domain.MachineRecord, error)
}

type Service struct {
	store ports.MachineStore
	gen   Generator
	obs   ports.Observability
}

func NewService(store ports.MachineStore, gen Generator, obs ports.Observability) *Service {
	return &Service{store: store, gen: gen, obs: obs}
}

// Create registers a machine and immediately generates one record for it.
// A generation failure is logged; the machine is still returned.
func (s *Service) Create(ctx context.Context, name string, toolCapacity int) (domain.Machine, error) {
	m, err := s.store.CreateMachine(ctx, name, toolCapacity)
	if err != nil {
		return domain.Machine{}, err
	}
	s.obs.LogInfo("machine_created",
		ports.F("machine_id", m.MachineID),
		ports.F("machine_name", m.MachineName),
		ports.F("tool_capacity", m.ToolCapacity))

	if s.gen != nil {
		if recs, err := s.gen.Generate(ctx, &m); err != nil || len(recs) == 0 {
			if err == nil {
				err = errors.New("no record distributed")
			}
			s.obs.LogError("initial_generation_failed", err, ports.F("machine_id", m.MachineID))
		}
	}
	return m, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Machine, error) {
	return s.store.ListMachines(ctx)
}

func (s *Service) Get(ctx context.Context, machineID string) (domain.Machine, error) {
	return s.store.GetMachine(ctx, machineID)
}

// Update applies patch. ToolInUse is only honoured for callers that may set
// it, and even then it is not persisted because machines carry no such column.
func (s *Service) Update(ctx context.Context, machineID string, patch domain.MachinePatch, mayUpdateToolInUse bool) (domain.Machine, error) {
	if patch.ToolInUse != nil {
		if mayUpdateToolInUse {
			s.obs.LogInfo("tool_in_use_update_ignored",
				ports.F("machine_id", machineID), ports.F("tool_in_use", *patch.ToolInUse))
		}
		patch.ToolInUse = nil
	}
	m, err := s.store.UpdateMachine(ctx, machineID, patch)
	if err != nil {
		return domain.Machine{}, err
	}
	s.obs.LogInfo("machine_updated", ports.F("machine_id", m.MachineID))
	return m, nil
}

func (s *Service) Delete(ctx context.Context, machineID string) error {
	if err := s.store.DeleteMachine(ctx, machineID); err != nil {
		return err
	}
	s.obs.LogInfo("machine_deleted", ports.F("machine_id", machineID))
	return nil
}

// Seed creates count machines named prefix1..prefixN when the store is empty.
// It returns how many machines were created.
func (s *Service) Seed(ctx context.Context, count int, prefix string, toolCapacity int) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	existing, err := s.store.CountMachines(ctx)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, nil
	}
	for i := 1; i <= count; i++ {
		if _, err := s.store.CreateMachine(ctx, fmt.Sprintf("%s%d", prefix, i), toolCapacity); err != nil {
			return i - 1, err
		}
	}
	s.obs.LogInfo("machines_seeded", ports.F("count", count), ports.F("prefix", prefix))
	return count, nil
}
