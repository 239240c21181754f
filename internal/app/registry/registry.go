// Package registry tracks which live connection watches which machine.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Stats is a point-in-time view of the registry sizes.
type Stats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
}

// Registry maps connection -> machine with a reverse index for fan-out.
// A connection holds at most one subscription.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]ports.LiveConn
	subs      map[string]string
	byMachine map[string]map[string]struct{}
	obs       ports.Observability
}

// New returns an empty registry. obs may be nil.
func New(obs ports.Observability) *Registry {
	return &Registry{
		conns:     make(map[string]ports.LiveConn),
		subs:      make(map[string]string),
		byMachine: make(map[string]map[string]struct{}),
		obs:       obs,
	}
}

func (r *Registry) Register(conn ports.LiveConn) error {
	if conn == nil || conn.ID() == "" {
		return fmt.Errorf("%w: connection id is required", domain.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID()]; ok {
		return fmt.Errorf("%w: connection %s already registered", domain.ErrValidation, conn.ID())
	}
	r.conns[conn.ID()] = conn
	r.publishLocked()
	return nil
}

// Subscribe points connID at machineID, replacing any previous subscription.
func (r *Registry) Subscribe(connID, machineID string) error {
	if machineID == "" {
		return fmt.Errorf("%w: machineId is required", domain.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connID)
	}
	r.dropLocked(connID)
	r.subs[connID] = machineID
	set, ok := r.byMachine[machineID]
	if !ok {
		set = make(map[string]struct{})
		r.byMachine[machineID] = set
	}
	set[connID] = struct{}{}
	r.publishLocked()
	return nil
}

// Unsubscribe removes the subscription only when it matches machineID.
func (r *Registry) Unsubscribe(connID, machineID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subs[connID]; !ok || cur != machineID {
		return false
	}
	r.dropLocked(connID)
	r.publishLocked()
	return true
}

// SubscribersOf returns a snapshot ordered by connection id.
func (r *Registry) SubscribersOf(machineID string) []ports.LiveConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byMachine[machineID]
	out := make([]ports.LiveConn, 0, len(set))
	for id := range set {
		out = append(out, r.conns[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Subscription returns the machine connID currently watches.
func (r *Registry) Subscription(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.subs[connID]
	return m, ok
}

func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return
	}
	r.dropLocked(connID)
	delete(r.conns, connID)
	r.publishLocked()
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Connections: len(r.conns), Subscriptions: len(r.subs)}
}

func (r *Registry) dropLocked(connID string) {
	machineID, ok := r.subs[connID]
	if !ok {
		return
	}
	delete(r.subs, connID)
	if set := r.byMachine[machineID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byMachine, machineID)
		}
	}
}

func (r *Registry) publishLocked() {
	if r.obs == nil {
		return
	}
	r.obs.SetGauge(ports.MetricLiveConnections, float64(len(r.conns)))
	r.obs.SetGauge(ports.MetricSubscriptions, float64(len(r.subs)))
}
