// Package httpapi exposes machine management, historical queries and record
// ingestion over REST/JSON.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/ghalamif/AxisFlow/internal/app/access"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

const maxBodyBytes = 1 << 20

type Machines interface {
	Create(ctx context.Context, name string, toolCapacity int) (domain.Machine, error)
	List(ctx context.Context) ([]domain.Machine, error)
	Get(ctx context.Context, machineID string) (domain.Machine, error)
	Update(ctx context.Context, machineID string, patch domain.MachinePatch, mayUpdateToolInUse bool) (domain.Machine, error)
	Delete(ctx context.Context, machineID string) error
}

type History interface {
	GetHistoricalData(ctx context.Context, machineID string, window time.Duration) ([]domain.MachineRecord, error)
}

type Deps struct {
	Machines Machines
	History  History
	Ingest   ports.Distributor
	Resolve  access.RoleResolver
	Obs      ports.Observability
	// Live is mounted at GET /api/live outside the gzip wrapper. Optional.
	Live http.Handler
}

type Server struct {
	deps Deps
}

func NewServer(deps Deps) *Server {
	if deps.Resolve == nil {
		deps.Resolve = access.HeaderResolver("")
	}
	return &Server{deps: deps}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/machines", s.guard(access.OpCreateMachine, s.createMachine))
	api.HandleFunc("GET /api/machines", s.guard(access.OpListMachines, s.listMachines))
	api.HandleFunc("PUT /api/machines/{machineId}", s.guard(access.OpUpdateMachine, s.updateMachine))
	api.HandleFunc("DELETE /api/machines/{machineId}", s.guard(access.OpDeleteMachine, s.deleteMachine))
	api.HandleFunc("GET /api/historical-data", s.guard(access.OpReadHistory, s.historicalData))
	api.HandleFunc("POST /api/ingest", s.guard(access.OpIngestSamples, s.ingest))

	root := http.NewServeMux()
	root.Handle("/api/", gzhttp.GzipHandler(api))
	if s.deps.Live != nil {
		root.Handle("GET /api/live", s.deps.Live)
	}
	return root
}

type roleKey struct{}

func roleFrom(ctx context.Context) access.Role {
	r, _ := ctx.Value(roleKey{}).(access.Role)
	return r
}

func (s *Server) guard(op access.Operation, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := s.deps.Resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if err := access.Check(role, op); err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
	}
}

type createRequest struct {
	MachineName  string `json:"machineName"`
	ToolCapacity *int   `json:"toolCapacity"`
}

func (s *Server) createMachine(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ToolCapacity == nil {
		s.fail(w, r, fmt.Errorf("%w: toolCapacity is required", domain.ErrValidation))
		return
	}
	m, err := s.deps.Machines.Create(r.Context(), req.MachineName, *req.ToolCapacity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) listMachines(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Machines.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) updateMachine(w http.ResponseWriter, r *http.Request) {
	var patch domain.MachinePatch
	if !s.decode(w, r, &patch) {
		return
	}
	mayToolInUse := access.Allowed(roleFrom(r.Context()), access.OpUpdateToolInUse)
	m, err := s.deps.Machines.Update(r.Context(), r.PathValue("machineId"), patch, mayToolInUse)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMachine(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Machines.Delete(r.Context(), r.PathValue("machineId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) historicalData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	machineID := q.Get("machineId")
	if machineID == "" {
		s.fail(w, r, fmt.Errorf("%w: machineId is required", domain.ErrValidation))
		return
	}
	var window time.Duration
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.fail(w, r, fmt.Errorf("%w: window %q is not a positive duration", domain.ErrValidation, raw))
			return
		}
		window = d
	}
	views, err := s.deps.History.GetHistoricalData(r.Context(), machineID, window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var rec domain.MachineRecord
	if !s.decode(w, r, &rec) {
		return
	}
	if err := rec.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.deps.Machines.Get(r.Context(), rec.MachineID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec.MachineName = m.MachineName
	if err := s.deps.Ingest.Distribute(r.Context(), rec); err != nil {
		s.fail(w, r, err)
		return
	}
	rec.Timestamp = domain.NormalizeTimestamp(rec.Timestamp)
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.fail(w, r, fmt.Errorf("%w: malformed body: %v", domain.ErrValidation, err))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.deps.Obs.LogError("http_request_failed", err,
			ports.F("method", r.Method), ports.F("path", r.URL.Path))
	}
	writeError(w, status, err)
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, access.ErrNoRole):
		return http.StatusUnauthorized
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeJSON encodes before committing the status so an unencodable value
// turns into a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(map[string]string{"error": fmt.Sprintf("encode response: %v", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
