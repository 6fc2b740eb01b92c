package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists health records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS health_data (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			steps BIGINT,
			heart_rate DOUBLE PRECISION,
			calories DOUBLE PRECISION,
			sleep_hours DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_health_data_user_created ON health_data (user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_health_data_created ON health_data (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, record Record) (Record, error) {
	record.UserID = strings.TrimSpace(record.UserID)
	record, err := prepare(record, uuid.NewString, time.Now().UTC())
	if err != nil {
		return Record{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO health_data (id, user_id, steps, heart_rate, calories, sleep_hours, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.UserID,
		record.Steps,
		record.HeartRate,
		record.Calories,
		record.SleepHours,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert health record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT id, user_id, steps, heart_rate, calories, sleep_hours, created_at, updated_at
		 FROM health_data`
	args := []any{}
	if filter.UserID != "" {
		query += ` WHERE user_id=$1`
		args = append(args, filter.UserID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query health records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Steps, &r.HeartRate, &r.Calories, &r.SleepHours, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan health record: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health records: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
