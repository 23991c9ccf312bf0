package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/webcanary/webcanary/internal/database"
)

// PgStore is the PostgreSQL-backed Store. Every mutation writes the target
// row and its change event in one transaction, so the feed never misses or
// invents a mutation.
type PgStore struct {
	DB *database.DB
}

func NewPgStore(db *database.DB) *PgStore { return &PgStore{DB: db} }

const targetColumns = `id, name, url, enabled, created_at, updated_at`

func (s *PgStore) List(ctx context.Context) ([]Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at`)
}

func (s *PgStore) ListEnabled(ctx context.Context) ([]Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetColumns+` FROM targets WHERE enabled ORDER BY created_at`)
}

func (s *PgStore) queryTargets(ctx context.Context, q string, args ...any) ([]Target, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()
	var out []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.Name, &t.URL, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PgStore) Get(ctx context.Context, id string) (*Target, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id)
	var t Target
	if err := row.Scan(&t.ID, &t.Name, &t.URL, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get target: %w", err)
	}
	return &t, nil
}

func (s *PgStore) Create(ctx context.Context, name, rawURL string, enabled bool) (*Target, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := Target{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       rawURL,
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := s.DB.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()
	const q = `INSERT INTO targets (id, name, url, enabled, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, q, t.ID, t.Name, t.URL, t.Enabled, t.CreatedAt, t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert target: %w", err)
	}
	if err := appendChangeEvent(ctx, tx, ChangeCreated, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}
	return &t, nil
}

func (s *PgStore) Update(ctx context.Context, id string, upd Update) (*Target, error) {
	if upd.Name != nil {
		if err := ValidateName(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.URL != nil {
		if err := ValidateURL(*upd.URL); err != nil {
			return nil, err
		}
	}
	tx, err := s.DB.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1 FOR UPDATE`, id)
	var t Target
	if err := row.Scan(&t.ID, &t.Name, &t.URL, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get target for update: %w", err)
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.URL != nil {
		t.URL = *upd.URL
	}
	if upd.Enabled != nil {
		t.Enabled = *upd.Enabled
	}
	t.UpdatedAt = time.Now().UTC()

	const q = `UPDATE targets SET name=$2, url=$3, enabled=$4, updated_at=$5 WHERE id=$1`
	if _, err := tx.ExecContext(ctx, q, t.ID, t.Name, t.URL, t.Enabled, t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update target: %w", err)
	}
	if err := appendChangeEvent(ctx, tx, ChangeUpdated, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return &t, nil
}

func (s *PgStore) Delete(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	// the change event carries the pre-delete snapshot
	row := tx.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1 FOR UPDATE`, id)
	var t Target
	if err := row.Scan(&t.ID, &t.Name, &t.URL, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("get target for delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if err := appendChangeEvent(ctx, tx, ChangeDeleted, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func appendChangeEvent(ctx context.Context, tx *sql.Tx, kind ChangeKind, t Target) error {
	snapshot, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	const q = `INSERT INTO target_change_events (target_id, kind, snapshot, occurred_at)
	           VALUES ($1, $2, $3::jsonb, NOW())`
	if _, err := tx.ExecContext(ctx, q, t.ID, string(kind), string(snapshot)); err != nil {
		return fmt.Errorf("append change event: %w", err)
	}
	return nil
}
