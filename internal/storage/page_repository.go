package storage

import (
	"database/sql"
	"errors"

	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// PageRepository persists Page records and backs title search.
type PageRepository struct {
	db *DB
}

func NewPageRepository(db *DB) *PageRepository { return &PageRepository{db: db} }

// Create inserts a new page.
func (r *PageRepository) Create(p types.Page) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO pages(id, workspace_id, parent_page_id, title, sort_order, is_archived, created_at, updated_at, crdt_doc_id)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			p.ID, p.WorkspaceID, p.ParentPageID, p.Title, p.SortOrder, p.Archived, p.CreatedAt, p.UpdatedAt, p.CrdtDocID,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "insert page", err)
		}
		return nil
	})
}

// Get fetches a page by ID.
func (r *PageRepository) Get(id string) (*types.Page, error) {
	row := r.db.Raw().QueryRow(
		`SELECT id, workspace_id, parent_page_id, title, sort_order, is_archived, created_at, updated_at, crdt_doc_id
		 FROM pages WHERE id = ?`, id)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, zerrors.New(zerrors.NotFound, "page not found")
	}
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query page", err)
	}
	return p, nil
}

// ListByWorkspace returns every non-archived page in a workspace, ordered
// by sort_order.
func (r *PageRepository) ListByWorkspace(workspaceID string) ([]types.Page, error) {
	rows, err := r.db.Raw().Query(
		`SELECT id, workspace_id, parent_page_id, title, sort_order, is_archived, created_at, updated_at, crdt_doc_id
		 FROM pages WHERE workspace_id = ? AND is_archived = 0 ORDER BY sort_order`, workspaceID)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query pages", err)
	}
	defer rows.Close()

	var out []types.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan page", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Archive marks a page archived without deleting it or its blocks.
func (r *PageRepository) Archive(id string, now int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE pages SET is_archived = 1, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "archive page", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "page not found")
		}
		return nil
	})
}

// Remove permanently deletes a page and cascades to its blocks.
func (r *PageRepository) Remove(id string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM pages WHERE id = ?`, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "delete page", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "page not found")
		}
		return nil
	})
}

// Rename updates a page's title; the fts5 page_title column follows via
// the pages_au_title trigger.
func (r *PageRepository) Rename(id, title string, now int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE pages SET title = ?, updated_at = ? WHERE id = ?`, title, now, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "rename page", err)
		}
		return nil
	})
}

// SearchByTitle returns pages in a workspace whose title or block content
// match an FTS5 query string.
func (r *PageRepository) SearchByTitle(workspaceID, query string) ([]types.Page, error) {
	rows, err := r.db.Raw().Query(`
		SELECT DISTINCT p.id, p.workspace_id, p.parent_page_id, p.title, p.sort_order, p.is_archived, p.created_at, p.updated_at, p.crdt_doc_id
		FROM block_fts f
		JOIN pages p ON p.id = f.page_id
		WHERE p.workspace_id = ? AND block_fts MATCH ?
		ORDER BY p.sort_order
	`, workspaceID, query)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "search pages", err)
	}
	defer rows.Close()

	var out []types.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan page search result", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Backlinks returns every block that links to pageID.
func (r *PageRepository) Backlinks(pageID string) ([]types.BlockLink, error) {
	rows, err := r.db.Raw().Query(
		`SELECT source_block_id, target_page_id, target_block_id FROM block_links WHERE target_page_id = ?`, pageID)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query backlinks", err)
	}
	defer rows.Close()

	var out []types.BlockLink
	for rows.Next() {
		var l types.BlockLink
		var targetBlock sql.NullString
		if err := rows.Scan(&l.SourceBlockID, &l.TargetPageID, &targetBlock); err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan backlink", err)
		}
		if targetBlock.Valid {
			l.TargetBlockID = &targetBlock.String
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanPage(row rowScanner) (*types.Page, error) {
	var p types.Page
	var parent sql.NullString
	var archived int
	if err := row.Scan(&p.ID, &p.WorkspaceID, &parent, &p.Title, &p.SortOrder, &archived, &p.CreatedAt, &p.UpdatedAt, &p.CrdtDocID); err != nil {
		return nil, err
	}
	if parent.Valid {
		p.ParentPageID = &parent.String
	}
	p.Archived = archived != 0
	return &p, nil
}
