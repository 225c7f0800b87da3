package storage

import (
	"database/sql"
	"errors"

	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// WorkspaceRepository persists Workspace records.
type WorkspaceRepository struct {
	db *DB
}

func NewWorkspaceRepository(db *DB) *WorkspaceRepository { return &WorkspaceRepository{db: db} }

// Create inserts a new workspace.
func (r *WorkspaceRepository) Create(w types.Workspace) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO workspaces(id, name, encryption_key_salt, created_at, updated_at) VALUES (?,?,?,?,?)`,
			w.ID, w.Name, w.EncryptionKeySalt, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "insert workspace", err)
		}
		return nil
	})
}

// Get fetches a workspace by ID.
func (r *WorkspaceRepository) Get(id string) (*types.Workspace, error) {
	row := r.db.Raw().QueryRow(
		`SELECT id, name, encryption_key_salt, created_at, updated_at FROM workspaces WHERE id = ?`, id)
	var w types.Workspace
	err := row.Scan(&w.ID, &w.Name, &w.EncryptionKeySalt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, zerrors.New(zerrors.NotFound, "workspace not found")
	}
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query workspace", err)
	}
	return &w, nil
}

// List returns every workspace, ordered by name.
func (r *WorkspaceRepository) List() ([]types.Workspace, error) {
	rows, err := r.db.Raw().Query(
		`SELECT id, name, encryption_key_salt, created_at, updated_at FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query workspaces", err)
	}
	defer rows.Close()

	var out []types.Workspace
	for rows.Next() {
		var w types.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.EncryptionKeySalt, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan workspace", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Rename updates a workspace's display name and updated_at timestamp.
func (r *WorkspaceRepository) Rename(id, name string, now int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE workspaces SET name = ?, updated_at = ? WHERE id = ?`, name, now, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "rename workspace", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "workspace not found")
		}
		return nil
	})
}
