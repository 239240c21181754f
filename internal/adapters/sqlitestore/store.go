package sqlitestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ghalamif/AxisFlow/internal/clock"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Config holds the parameters for opening a SQLite-backed store.
type Config struct {
	// Path of the database file. The parent directory must exist.
	Path string
	// PoolSize defaults to 4.
	PoolSize int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Store keeps machines and samples in one SQLite database. Writes run in
// IMMEDIATE transactions so concurrent distribute calls serialize cleanly;
// reads use their own pooled connections and never block writers.
type Store struct {
	pool  *pool
	clock clock.Clock
}

func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: Path is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	p, err := openPool(cfg.Path, cfg.PoolSize, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, clock: cfg.Clock}, nil
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) Close() error { return s.pool.close() }

func (s *Store) CreateMachine(ctx context.Context, name string, toolCapacity int) (m domain.Machine, err error) {
	if err := domain.ValidateNewMachine(name, toolCapacity); err != nil {
		return domain.Machine{}, err
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	defer endTransaction(&err)

	count, err := countMachines(conn)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}

	// The id is count+1; after deletions that id may still be taken, so step forward.
	seq := count + 1
	for {
		_, found, lookupErr := lookupMachine(conn, domain.FormatMachineID(seq))
		if lookupErr != nil {
			return domain.Machine{}, storageErr(lookupErr)
		}
		if !found {
			break
		}
		seq++
	}

	m = domain.Machine{
		MachineID:    domain.FormatMachineID(seq),
		MachineName:  name,
		ToolCapacity: toolCapacity,
		CreatedAt:    domain.NormalizeTimestamp(s.clock.Now()),
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO machines (machine_id, machine_name, tool_capacity, created_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{m.MachineID, m.MachineName, m.ToolCapacity, m.CreatedAt.UnixNano()}})
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	return m, nil
}

func (s *Store) GetMachine(ctx context.Context, machineID string) (domain.Machine, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	defer s.pool.put(conn)

	m, found, err := lookupMachine(conn, machineID)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	if !found {
		return domain.Machine{}, notFound(machineID)
	}
	return m, nil
}

func (s *Store) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	defer s.pool.put(conn)

	machines := make([]domain.Machine, 0)
	err = sqlitex.Execute(conn,
		`SELECT machine_id, machine_name, tool_capacity, created_at FROM machines ORDER BY rowid`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				machines = append(machines, scanMachine(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, storageErr(err)
	}
	return machines, nil
}

func (s *Store) UpdateMachine(ctx context.Context, machineID string, patch domain.MachinePatch) (m domain.Machine, err error) {
	if err := patch.Validate(); err != nil {
		return domain.Machine{}, err
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	defer endTransaction(&err)

	m, found, err := lookupMachine(conn, machineID)
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	if !found {
		return domain.Machine{}, notFound(machineID)
	}

	patch.Apply(&m)
	err = sqlitex.Execute(conn,
		`UPDATE machines SET machine_name = ?, tool_capacity = ? WHERE machine_id = ?`,
		&sqlitex.ExecOptions{Args: []any{m.MachineName, m.ToolCapacity, m.MachineID}})
	if err != nil {
		return domain.Machine{}, storageErr(err)
	}
	return m, nil
}

func (s *Store) DeleteMachine(ctx context.Context, machineID string) (err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return storageErr(err)
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return storageErr(err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, `DELETE FROM machines WHERE machine_id = ?`,
		&sqlitex.ExecOptions{Args: []any{machineID}}); err != nil {
		return storageErr(err)
	}
	if conn.Changes() == 0 {
		return notFound(machineID)
	}
	if err = sqlitex.Execute(conn, `DELETE FROM samples WHERE machine_id = ?`,
		&sqlitex.ExecOptions{Args: []any{machineID}}); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *Store) CountMachines(ctx context.Context) (int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, storageErr(err)
	}
	defer s.pool.put(conn)

	n, err := countMachines(conn)
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

func (s *Store) Append(ctx context.Context, sample domain.Sample) error {
	return s.AppendBatch(ctx, []domain.Sample{sample})
}

// AppendBatch inserts all samples in a single IMMEDIATE transaction. Either
// every sample is written or none is.
func (s *Store) AppendBatch(ctx context.Context, samples []domain.Sample) (err error) {
	if len(samples) == 0 {
		return nil
	}
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			return err
		}
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return storageErr(err)
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return storageErr(err)
	}
	defer endTransaction(&err)

	capacities := make(map[string]int, 1)
	for _, sample := range samples {
		capacity, ok := capacities[sample.MachineID]
		if !ok {
			m, found, lookupErr := lookupMachine(conn, sample.MachineID)
			if lookupErr != nil {
				return storageErr(lookupErr)
			}
			if !found {
				return fmt.Errorf("%w: machine %s does not exist", domain.ErrValidation, sample.MachineID)
			}
			capacity = m.ToolCapacity
			capacities[sample.MachineID] = capacity
		}
		if err = sample.CheckCapacity(capacity); err != nil {
			return err
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO samples (machine_id, axis, tool_offset, feedrate, tool_in_use, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				sample.MachineID,
				string(sample.Axis),
				sample.ToolOffset,
				sample.Feedrate,
				sample.ToolInUse,
				domain.NormalizeTimestamp(sample.Timestamp).UnixNano(),
			}})
		if err != nil {
			return storageErr(err)
		}
	}
	return nil
}

// QueryRange returns samples with start <= ts <= end, oldest first.
func (s *Store) QueryRange(ctx context.Context, machineID string, start, end time.Time) ([]domain.Sample, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: machineId is required", domain.ErrValidation)
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	defer s.pool.put(conn)

	_, found, err := lookupMachine(conn, machineID)
	if err != nil {
		return nil, storageErr(err)
	}
	if !found {
		return nil, notFound(machineID)
	}

	samples := make([]domain.Sample, 0)
	err = sqlitex.Execute(conn,
		`SELECT machine_id, axis, tool_offset, feedrate, tool_in_use, ts
		FROM samples
		WHERE machine_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts, id`,
		&sqlitex.ExecOptions{
			Args: []any{machineID, start.UnixNano(), end.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				samples = append(samples, domain.Sample{
					MachineID:  stmt.ColumnText(0),
					Axis:       domain.Axis(stmt.ColumnText(1)),
					ToolOffset: stmt.ColumnFloat(2),
					Feedrate:   stmt.ColumnInt(3),
					ToolInUse:  stmt.ColumnInt(4),
					Timestamp:  time.Unix(0, stmt.ColumnInt64(5)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, storageErr(err)
	}
	return samples, nil
}

func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, storageErr(err)
	}
	defer s.pool.put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM samples WHERE ts < ?`,
		&sqlitex.ExecOptions{Args: []any{cutoff.UnixNano()}}); err != nil {
		return 0, storageErr(err)
	}
	return int64(conn.Changes()), nil
}

func lookupMachine(conn *sqlite.Conn, machineID string) (domain.Machine, bool, error) {
	var (
		m     domain.Machine
		found bool
	)
	err := sqlitex.Execute(conn,
		`SELECT machine_id, machine_name, tool_capacity, created_at FROM machines WHERE machine_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{machineID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				m = scanMachine(stmt)
				found = true
				return nil
			},
		})
	return m, found, err
}

func countMachines(conn *sqlite.Conn) (int, error) {
	var n int
	err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM machines`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt(0)
			return nil
		},
	})
	return n, err
}

func scanMachine(stmt *sqlite.Stmt) domain.Machine {
	return domain.Machine{
		MachineID:    stmt.ColumnText(0),
		MachineName:  stmt.ColumnText(1),
		ToolCapacity: stmt.ColumnInt(2),
		CreatedAt:    time.Unix(0, stmt.ColumnInt64(3)).UTC(),
	}
}

func storageErr(err error) error {
	return fmt.Errorf("%w: sqlite: %v", domain.ErrStorage, err)
}

func notFound(machineID string) error {
	return fmt.Errorf("%w: machine %s", domain.ErrNotFound, machineID)
}

var _ ports.Store = (*Store)(nil)
