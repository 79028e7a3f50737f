package persist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	user_id  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS appointments (
	appointment_id BIGINT PRIMARY KEY,
	user_id        BIGINT NOT NULL,
	doctor_id      BIGINT NOT NULL,
	time           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS medical_history (
	record_id BIGINT PRIMARY KEY,
	payload   TEXT NOT NULL
);
`

// Postgres is a Gateway backed by a PostgreSQL database.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	logger.Info("postgres gateway opened", "host", pool.Config().ConnConfig.Host)
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close closes every pooled connection.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// LoadAll reads every table in primary key order.
func (p *Postgres) LoadAll(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, _ := p.pool.Query(ctx, `SELECT username, user_id FROM users ORDER BY username`)
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		var u User
		err := row.Scan(&u.Username, &u.ID)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: load users: %w", err)
	}
	snap.Users = users

	rows, _ = p.pool.Query(ctx, `SELECT appointment_id, user_id, doctor_id, time FROM appointments ORDER BY appointment_id`)
	appts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Appointment, error) {
		var a Appointment
		err := row.Scan(&a.ID, &a.UserID, &a.DoctorID, &a.Time)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: load appointments: %w", err)
	}
	snap.Appointments = appts

	rows, _ = p.pool.Query(ctx, `SELECT record_id, payload FROM medical_history ORDER BY record_id`)
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (History, error) {
		var h History
		err := row.Scan(&h.ID, &h.Payload)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: load history: %w", err)
	}
	snap.History = history
	return snap, nil
}

// OnMutation upserts the mutated record.
func (p *Postgres) OnMutation(ctx context.Context, m Mutation) error {
	if err := m.validate(); err != nil {
		return err
	}
	var err error
	switch m.Kind {
	case KindUser:
		_, err = p.pool.Exec(ctx, `INSERT INTO users (username, user_id) VALUES ($1, $2)
			ON CONFLICT (username) DO UPDATE SET user_id = EXCLUDED.user_id`,
			m.User.Username, m.User.ID)
	case KindAppointment:
		a := m.Appointment
		_, err = p.pool.Exec(ctx, `INSERT INTO appointments (appointment_id, user_id, doctor_id, time) VALUES ($1, $2, $3, $4)
			ON CONFLICT (appointment_id) DO UPDATE SET
				user_id = EXCLUDED.user_id, doctor_id = EXCLUDED.doctor_id, time = EXCLUDED.time`,
			a.ID, a.UserID, a.DoctorID, a.Time)
	case KindHistory:
		_, err = p.pool.Exec(ctx, `INSERT INTO medical_history (record_id, payload) VALUES ($1, $2)
			ON CONFLICT (record_id) DO UPDATE SET payload = EXCLUDED.payload`,
			m.History.ID, m.History.Payload)
	}
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", m.Kind, err)
	}
	return nil
}
