package persist

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	user_id  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS appointments (
	appointment_id INTEGER PRIMARY KEY,
	user_id        INTEGER NOT NULL,
	doctor_id      INTEGER NOT NULL,
	time           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS medical_history (
	record_id INTEGER PRIMARY KEY,
	payload   TEXT NOT NULL
);
`

// sqlitePragmas are applied to every pooled connection. WAL gives
// concurrent readers with one writer; NORMAL synchronous survives
// process crashes without an fsync per commit.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// SQLite is a Gateway backed by a SQLite database file.
type SQLite struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenSQLite opens (or creates) the database at path and its schema.
// Use ":memory:" only with a pool size of 1; each in-memory connection
// is an independent database.
func OpenSQLite(path string, poolSize int, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range sqlitePragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}

	logger.Info("sqlite gateway opened", "path", path, "pool_size", poolSize)
	return &SQLite{pool: pool, logger: logger, path: path}, nil
}

// Close closes every pooled connection.
func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite gateway closed", "path", s.path)
	return nil
}

// LoadAll reads every table in primary key order.
func (s *SQLite) LoadAll(ctx context.Context) (snap *Snapshot, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load: %w", err)
	}
	defer s.pool.Put(conn)

	snap = &Snapshot{}
	err = sqlitex.Execute(conn, `SELECT username, user_id FROM users ORDER BY username`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			snap.Users = append(snap.Users, User{
				Username: stmt.ColumnText(0),
				ID:       stmt.ColumnInt64(1),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: load users: %w", err)
	}

	err = sqlitex.Execute(conn, `SELECT appointment_id, user_id, doctor_id, time FROM appointments ORDER BY appointment_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			snap.Appointments = append(snap.Appointments, Appointment{
				ID:       stmt.ColumnInt64(0),
				UserID:   stmt.ColumnInt64(1),
				DoctorID: stmt.ColumnInt64(2),
				Time:     stmt.ColumnText(3),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: load appointments: %w", err)
	}

	err = sqlitex.Execute(conn, `SELECT record_id, payload FROM medical_history ORDER BY record_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			snap.History = append(snap.History, History{
				ID:      stmt.ColumnInt64(0),
				Payload: stmt.ColumnText(1),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: load history: %w", err)
	}
	return snap, nil
}

// OnMutation upserts the mutated record.
func (s *SQLite) OnMutation(ctx context.Context, m Mutation) error {
	if err := m.validate(); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", m.Kind, err)
	}
	defer s.pool.Put(conn)

	var query string
	var args []any
	switch m.Kind {
	case KindUser:
		query = `INSERT INTO users (username, user_id) VALUES (?, ?)
			ON CONFLICT(username) DO UPDATE SET user_id = excluded.user_id`
		args = []any{m.User.Username, m.User.ID}
	case KindAppointment:
		query = `INSERT INTO appointments (appointment_id, user_id, doctor_id, time) VALUES (?, ?, ?, ?)
			ON CONFLICT(appointment_id) DO UPDATE SET
				user_id = excluded.user_id, doctor_id = excluded.doctor_id, time = excluded.time`
		a := m.Appointment
		args = []any{a.ID, a.UserID, a.DoctorID, a.Time}
	case KindHistory:
		query = `INSERT INTO medical_history (record_id, payload) VALUES (?, ?)
			ON CONFLICT(record_id) DO UPDATE SET payload = excluded.payload`
		args = []any{m.History.ID, m.History.Payload}
	}

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", m.Kind, err)
	}
	return nil
}
