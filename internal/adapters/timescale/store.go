package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Store keeps machines and samples in PostgreSQL (plain or TimescaleDB).
// Machine deletion relies on the ON DELETE CASCADE foreign key.
type Store struct {
	db        *sql.DB
	tableName string
	clock     clock.Clock
}

func NewStore(db *sql.DB, table string, clk clock.Clock) *Store {
	if table == "" {
		table = "samples"
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{db: db, tableName: table, clock: clk}
}

func (t *Store) Name() string { return "timescaledb" }

func (t *Store) Close() error { return t.db.Close() }

// EnsureSchema creates the tables and the (machine_id, ts) range index.
func (t *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS machines (
	seq           BIGSERIAL,
	machine_id    TEXT PRIMARY KEY,
	machine_name  TEXT NOT NULL,
	tool_capacity INTEGER NOT NULL CHECK (tool_capacity > 0),
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[1]s (
	id          BIGSERIAL,
	machine_id  TEXT NOT NULL REFERENCES machines(machine_id) ON DELETE CASCADE,
	axis        TEXT NOT NULL CHECK (axis IN ('X', 'Y', 'Z', 'A', 'C')),
	tool_offset DOUBLE PRECISION NOT NULL,
	feedrate    INTEGER NOT NULL,
	tool_in_use INTEGER NOT NULL,
	ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_machine_ts ON %[1]s (machine_id, ts);`, t.tableName)

	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return storageErr(err)
	}
	return nil
}

func (t *Store) CreateMachine(ctx context.Context, name string, toolCapacity int) (domain.Machine, error) {
	if err := domain.ValidateNewMachine(name, toolCapacity); err != nil {
		return domain.Machine{}, err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serializes id allocation across concurrent creators.
	if _, err := tx.ExecContext(ctx, "LOCK TABLE machines IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return domain.Machine{}, storageErr(err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM machines").Scan(&count); err != nil {
		return domain.Machine{}, storageErr(err)
	}

	seq := count + 1
	for {
		var existing string
		err := tx.QueryRowContext(ctx, "SELECT machine_id FROM machines WHERE machine_id = $1",
			domain.FormatMachineID(seq)).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return domain.Machine{}, storageErr(err)
		}
		seq++
	}

	m := domain.Machine{
		MachineID:    domain.FormatMachineID(seq),
		MachineName:  name,
		ToolCapacity: toolCapacity,
		CreatedAt:    domain.NormalizeTimestamp(t.clock.Now()),
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO machines (machine_id, machine_name, tool_capacity, created_at) VALUES ($1,$2,$3,$4)",
		m.MachineID, m.MachineName, m.ToolCapacity, m.CreatedAt); err != nil {
		return domain.Machine{}, storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Machine{}, storageErr(err)
	}
	return m, nil
}

func (t *Store) GetMachine(ctx context.Context, machineID string) (domain.Machine, error) {
	row := t.db.QueryRowContext(ctx,
		"SELECT machine_id, machine_name, tool_capacity, created_at FROM machines WHERE machine_id = $1", machineID)
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Machine{}, notFound(machineID)
	}
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	return m, nil
}

func (t *Store) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	rows, err := t.db.QueryContext(ctx,
		"SELECT machine_id, machine_name, tool_capacity, created_at FROM machines ORDER BY seq")
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	machines := make([]domain.Machine, 0)
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return machines, nil
}

func (t *Store) UpdateMachine(ctx context.Context, machineID string, patch domain.MachinePatch) (domain.Machine, error) {
	if err := patch.Validate(); err != nil {
		return domain.Machine{}, err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT machine_id, machine_name, tool_capacity, created_at FROM machines WHERE machine_id = $1 FOR UPDATE",
		machineID)
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Machine{}, notFound(machineID)
	}
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}

	patch.Apply(&m)
	if _, err := tx.ExecContext(ctx,
		"UPDATE machines SET machine_name = $1, tool_capacity = $2 WHERE machine_id = $3",
		m.MachineName, m.ToolCapacity, m.MachineID); err != nil {
		return domain.Machine{}, storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Machine{}, storageErr(err)
	}
	return m, nil
}

func (t *Store) DeleteMachine(ctx context.Context, machineID string) error {
	res, err := t.db.ExecContext(ctx, "DELETE FROM machines WHERE machine_id = $1", machineID)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return notFound(machineID)
	}
	return nil
}

func (t *Store) CountMachines(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM machines").Scan(&n); err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

func (t *Store) Append(ctx context.Context, s domain.Sample) error {
	return t.AppendBatch(ctx, []domain.Sample{s})
}

// AppendBatch validates every sample against its machine row and writes them
// with one multi-row INSERT inside a transaction.
func (t *Store) AppendBatch(ctx context.Context, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	capacities := make(map[string]int, 1)
	for _, s := range samples {
		capacity, ok := capacities[s.MachineID]
		if !ok {
			err := tx.QueryRowContext(ctx,
				"SELECT tool_capacity FROM machines WHERE machine_id = $1 FOR SHARE", s.MachineID).Scan(&capacity)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: machine %s does not exist", domain.ErrValidation, s.MachineID)
			}
			if err != nil {
				return storageErr(err)
			}
			capacities[s.MachineID] = capacity
		}
		if err := s.CheckCapacity(capacity); err != nil {
			return err
		}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (machine_id, axis, tool_offset, feedrate, tool_in_use, ts) VALUES ")

	args := make([]any, 0, len(samples)*6)
	for i, s := range samples {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		args = append(args,
			s.MachineID,
			string(s.Axis),
			s.ToolOffset,
			s.Feedrate,
			s.ToolInUse,
			domain.NormalizeTimestamp(s.Timestamp),
		)
	}

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (t *Store) QueryRange(ctx context.Context, machineID string, start, end time.Time) ([]domain.Sample, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: machineId is required", domain.ErrValidation)
	}

	var one int
	err := t.db.QueryRowContext(ctx, "SELECT 1 FROM machines WHERE machine_id = $1", machineID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(machineID)
	}
	if err != nil {
		return nil, storageErr(err)
	}

	query := "SELECT machine_id, axis, tool_offset, feedrate, tool_in_use, ts FROM " + t.tableName +
		" WHERE machine_id = $1 AND ts BETWEEN $2 AND $3 ORDER BY ts, id"
	rows, err := t.db.QueryContext(ctx, query, machineID, start.UTC(), end.UTC())
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	samples := make([]domain.Sample, 0)
	for rows.Next() {
		var (
			s    domain.Sample
			axis string
			ts   time.Time
		)
		if err := rows.Scan(&s.MachineID, &axis, &s.ToolOffset, &s.Feedrate, &s.ToolInUse, &ts); err != nil {
			return nil, storageErr(err)
		}
		s.Axis = domain.Axis(axis)
		s.Timestamp = ts.UTC()
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return samples, nil
}

func (t *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, "DELETE FROM "+t.tableName+" WHERE ts < $1", cutoff.UTC())
	if err != nil {
		return 0, storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (domain.Machine, error) {
	var m domain.Machine
	if err := row.Scan(&m.MachineID, &m.MachineName, &m.ToolCapacity, &m.CreatedAt); err != nil {
		return domain.Machine{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: postgres: %v", domain.ErrStorage, err)
}

func notFound(machineID string) error {
	return fmt.Errorf("%w: machine %s", domain.ErrNotFound, machineID)
}

var _ ports.Store = (*Store)(nil)
