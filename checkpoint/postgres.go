package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSaver persists checkpoints in PostgreSQL via a pgx pool.
type PostgresSaver struct {
	pool       *pgxpool.Pool
	serializer Serializer
}

// PostgresConfig holds connection settings for NewPostgresSaverWithConfig.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MinConnections  int
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

// NewPostgresSaver connects using a pgx connection string and prepares the
// checkpoint table.
func NewPostgresSaver(connString string) (*PostgresSaver, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	return newPostgresSaver(config)
}

// NewPostgresSaverWithConfig connects using explicit settings.
func NewPostgresSaverWithConfig(cfg *PostgresConfig) (*PostgresSaver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	sslMode := "disable"
	if cfg.SSLMode != "" {
		sslMode = cfg.SSLMode
	}

	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConnections > 0 {
		config.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		config.MinConns = int32(cfg.MinConnections)
	}
	if cfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = cfg.MaxConnLifetime
	}

	return newPostgresSaver(config)
}

func newPostgresSaver(config *pgxpool.Config) (*PostgresSaver, error) {
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	saver := &PostgresSaver{pool: pool, serializer: JSONSerializer{}}
	if err := saver.setup(); err != nil {
		pool.Close()
		return nil, err
	}
	return saver, nil
}

// setup creates the checkpoint table.
func (s *PostgresSaver) setup() error {
	ctx := context.Background()
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq BIGSERIAL PRIMARY KEY,
			checkpoint_id UUID NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_seq
			ON checkpoints(thread_id, seq DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Save implements Saver.
func (s *PostgresSaver) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is required")
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}

	payload, err := s.serializer.Serialize(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (checkpoint_id, thread_id, step, payload) VALUES ($1, $2, $3, $4)`,
		cp.CheckpointID, cp.ThreadID, cp.Step, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Saver.
func (s *PostgresSaver) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM checkpoints WHERE thread_id = $1 ORDER BY seq DESC LIMIT 1`,
		threadID,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp, err := s.serializer.Deserialize(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// Load implements Saver.
func (s *PostgresSaver) Load(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM checkpoints WHERE thread_id = $1 AND checkpoint_id = $2`,
		threadID, checkpointID,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp, err := s.serializer.Deserialize(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Saver.
func (s *PostgresSaver) List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	query := `SELECT payload FROM checkpoints WHERE thread_id = $1 ORDER BY seq DESC`
	args := []interface{}{threadID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*Checkpoint
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp, err := s.serializer.Deserialize(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return result, nil
}

// Delete implements Saver.
func (s *PostgresSaver) Delete(ctx context.Context, threadID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSaver) Close() {
	s.pool.Close()
}
