package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fractalmind-ai/bytebpe/internal/bpe"
	_ "modernc.org/sqlite"
)

// ErrModelNotFound is returned when no model has the requested name.
var ErrModelNotFound = errors.New("model not found")

// ModelInfo summarizes a stored model.
type ModelInfo struct {
	Name      string
	VocabSize int
	NumMerges int
	CreatedAt time.Time
}

// Store persists trained models in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates a SQLite store at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveModel stores model under name, replacing any previous model of that name.
func (s *Store) SaveModel(ctx context.Context, name string, model *bpe.Model) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is nil")
	}
	if model == nil {
		return fmt.Errorf("model is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := deleteModel(ctx, tx, name); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO models(name,vocab_size,num_merges,created_at) VALUES(?,?,?,?)",
		name, model.VocabSize(), model.NumMerges(), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert model: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO merges(model,merge_index,left_id,right_id) VALUES(?,?,?,?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, pair := range model.Merges() {
		if _, err := stmt.ExecContext(ctx, name, i, pair.Left, pair.Right); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert merge %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadModel rebuilds the named model with its merges in learning order.
func (s *Store) LoadModel(ctx context.Context, name string) (*bpe.Model, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}

	var numMerges int
	err := s.db.QueryRowContext(ctx, "SELECT num_merges FROM models WHERE name = ?", name).Scan(&numMerges)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT merge_index,left_id,right_id FROM merges WHERE model = ? ORDER BY merge_index", name)
	if err != nil {
		return nil, fmt.Errorf("failed to query merges: %w", err)
	}
	defer rows.Close()

	merges := make([]bpe.Pair, 0, numMerges)
	for rows.Next() {
		var index int
		var pair bpe.Pair
		if err := rows.Scan(&index, &pair.Left, &pair.Right); err != nil {
			return nil, fmt.Errorf("failed to scan merge: %w", err)
		}
		if index != len(merges) {
			return nil, fmt.Errorf("model %s: merge %d is missing", name, len(merges))
		}
		merges = append(merges, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(merges) != numMerges {
		return nil, fmt.Errorf("model %s: expected %d merges, found %d", name, numMerges, len(merges))
	}

	model, err := bpe.NewModel(merges)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}
	return model, nil
}

// ListModels returns stored models sorted by name.
func (s *Store) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}
	rows, err := s.db.QueryContext(ctx, "SELECT name,vocab_size,num_merges,created_at FROM models ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var models []ModelInfo
	for rows.Next() {
		var info ModelInfo
		var created string
		if err := rows.Scan(&info.Name, &info.VocabSize, &info.NumMerges, &created); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		models = append(models, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return models, nil
}

// DeleteModel removes the named model.
func (s *Store) DeleteModel(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := deleteModel(ctx, tx, name); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func deleteModel(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM merges WHERE model = ?", name); err != nil {
		return fmt.Errorf("failed to delete merges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM models WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS models (
	name TEXT PRIMARY KEY,
	vocab_size INTEGER NOT NULL,
	num_merges INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS merges (
	model TEXT NOT NULL,
	merge_index INTEGER NOT NULL,
	left_id INTEGER NOT NULL,
	right_id INTEGER NOT NULL,
	PRIMARY KEY (model, merge_index)
);
`); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
