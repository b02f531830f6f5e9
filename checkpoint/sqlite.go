package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteSaver persists checkpoints in a SQLite database. Pass ":memory:"
// as the path for an ephemeral database.
type SqliteSaver struct {
	db         *sql.DB
	serializer Serializer
}

// NewSqliteSaver opens (or creates) the database at dbPath and prepares
// the checkpoint table.
func NewSqliteSaver(dbPath string) (*SqliteSaver, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	saver := &SqliteSaver{db: db, serializer: JSONSerializer{}}
	if err := saver.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return saver, nil
}

// setup creates the checkpoint table. seq preserves save order so the
// latest checkpoint is well defined even within one timestamp tick.
func (s *SqliteSaver) setup() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		checkpoint_id TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		payload BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, seq);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Save implements Saver.
func (s *SqliteSaver) Save(ctx context.Context, cp *Checkpoint) error {
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

	query := `INSERT INTO checkpoints (checkpoint_id, thread_id, step, payload) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, cp.CheckpointID, cp.ThreadID, cp.Step, payload); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Saver.
func (s *SqliteSaver) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	query := `SELECT payload FROM checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&payload)
	if err == sql.ErrNoRows {
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
func (s *SqliteSaver) Load(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	query := `SELECT payload FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, threadID, checkpointID).Scan(&payload)
	if err == sql.ErrNoRows {
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
func (s *SqliteSaver) List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	query := `SELECT payload FROM checkpoints WHERE thread_id = ? ORDER BY seq DESC`
	args := []interface{}{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SqliteSaver) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SqliteSaver) Close() error {
	return s.db.Close()
}
