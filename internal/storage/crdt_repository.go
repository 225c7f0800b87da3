package storage

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// CrdtRepository persists CrdtDocument snapshots and their append-only
// CrdtChange log, plus per-device delivery confirmation.
type CrdtRepository struct {
	db *DB
}

func NewCrdtRepository(db *DB) *CrdtRepository { return &CrdtRepository{db: db} }

// CreateDocument inserts a new (initially empty) CRDT document for a page.
func (r *CrdtRepository) CreateDocument(doc types.CrdtDocument) error {
	vc, err := json.Marshal(doc.VectorClock)
	if err != nil {
		return zerrors.Wrap(zerrors.IoError, "marshal vector clock", err)
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO crdt_documents(doc_id, page_id, snapshot, vector_clock, updated_at) VALUES (?,?,?,?,?)`,
			doc.DocID, doc.PageID, doc.Snapshot, string(vc), doc.UpdatedAt,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "insert crdt document", err)
		}
		return nil
	})
}

// GetDocument fetches a document by ID.
func (r *CrdtRepository) GetDocument(docID string) (*types.CrdtDocument, error) {
	row := r.db.Raw().QueryRow(
		`SELECT doc_id, page_id, snapshot, vector_clock, updated_at FROM crdt_documents WHERE doc_id = ?`, docID)
	var doc types.CrdtDocument
	var vc string
	if err := row.Scan(&doc.DocID, &doc.PageID, &doc.Snapshot, &vc, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, zerrors.New(zerrors.NotFound, "crdt document not found")
		}
		return nil, zerrors.Wrap(zerrors.IoError, "query crdt document", err)
	}
	if err := json.Unmarshal([]byte(vc), &doc.VectorClock); err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "unmarshal vector clock", err)
	}
	return &doc, nil
}

// UpdateSnapshot overwrites a document's materialized snapshot and vector
// clock after applying one or more changes.
func (r *CrdtRepository) UpdateSnapshot(docID string, snapshot []byte, vectorClock map[string]int64, now int64) error {
	vc, err := json.Marshal(vectorClock)
	if err != nil {
		return zerrors.Wrap(zerrors.IoError, "marshal vector clock", err)
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE crdt_documents SET snapshot=?, vector_clock=?, updated_at=? WHERE doc_id=?`,
			snapshot, string(vc), now, docID,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "update crdt document", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "crdt document not found")
		}
		return nil
	})
}

// AppendChange records a new change in the append-only log. Duplicate
// (doc_id, actor_id, seq_num) tuples are rejected by the unique index;
// callers see that as a *zerrors.Error with Code == zerrors.Conflict, which
// at-least-once redelivery treats as a successful no-op rather than a
// retryable failure.
func (r *CrdtRepository) AppendChange(c types.CrdtChange, now int64) (int64, error) {
	var row int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO crdt_changes(doc_id, change_bytes, actor_id, seq_num, created_at) VALUES (?,?,?,?,?)`,
			c.DocID, c.ChangeBytes, c.ActorID, c.SeqNum, now,
		)
		if err != nil {
			if isUniqueConstraintErr(err) {
				return zerrors.New(zerrors.Conflict, "change already recorded")
			}
			return zerrors.Wrap(zerrors.IoError, "insert crdt change", err)
		}
		row, err = res.LastInsertId()
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "read inserted change row id", err)
		}
		return nil
	})
	return row, err
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// ChangesFor returns every change recorded for docID, ordered by row id
// (arrival order on this node, per the append-only log's contract).
func (r *CrdtRepository) ChangesFor(docID string) ([]types.CrdtChange, error) {
	rows, err := r.db.Raw().Query(
		`SELECT id, doc_id, change_bytes, actor_id, seq_num, created_at FROM crdt_changes WHERE doc_id = ? ORDER BY id`,
		docID,
	)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query changes for document", err)
	}
	defer rows.Close()
	return scanCrdtChanges(rows)
}

// ChangesSince returns actorID's changes for docID with seq_num greater
// than seq, ordered by seq_num ascending.
func (r *CrdtRepository) ChangesSince(docID, actorID string, seq int64) ([]types.CrdtChange, error) {
	rows, err := r.db.Raw().Query(
		`SELECT id, doc_id, change_bytes, actor_id, seq_num, created_at FROM crdt_changes
		 WHERE doc_id = ? AND actor_id = ? AND seq_num > ? ORDER BY seq_num`,
		docID, actorID, seq,
	)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query changes since sequence", err)
	}
	defer rows.Close()
	return scanCrdtChanges(rows)
}

func scanCrdtChanges(rows *sql.Rows) ([]types.CrdtChange, error) {
	var out []types.CrdtChange
	for rows.Next() {
		var c types.CrdtChange
		if err := rows.Scan(&c.Row, &c.DocID, &c.ChangeBytes, &c.ActorID, &c.SeqNum, &c.CreatedAt); err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan crdt change", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Compact replaces docID's materialized snapshot and vector clock with
// newSnapshot/newClock and discards the change log entries that snapshot
// now subsumes, reclaiming the space an unbounded append-only log would
// otherwise consume. change_synced_to rows for the discarded changes are
// removed by the foreign key's cascade.
func (r *CrdtRepository) Compact(docID string, newSnapshot []byte, newClock map[string]int64, now int64) error {
	vc, err := json.Marshal(newClock)
	if err != nil {
		return zerrors.Wrap(zerrors.IoError, "marshal vector clock", err)
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE crdt_documents SET snapshot=?, vector_clock=?, updated_at=? WHERE doc_id=?`,
			newSnapshot, string(vc), now, docID,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "update crdt document", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "crdt document not found")
		}
		if _, err := tx.Exec(`DELETE FROM crdt_changes WHERE doc_id = ?`, docID); err != nil {
			return zerrors.Wrap(zerrors.IoError, "compact change log", err)
		}
		return nil
	})
}

// UnsyncedChanges returns every change for docID not yet confirmed
// delivered to deviceID, via a LEFT JOIN against change_synced_to (the
// join-table replacement for a JSON synced_to column).
func (r *CrdtRepository) UnsyncedChanges(docID, deviceID string) ([]types.CrdtChange, error) {
	rows, err := r.db.Raw().Query(`
		SELECT c.id, c.doc_id, c.change_bytes, c.actor_id, c.seq_num, c.created_at
		FROM crdt_changes c
		LEFT JOIN change_synced_to s ON s.change_row = c.id AND s.device_id = ?
		WHERE c.doc_id = ? AND s.device_id IS NULL
		ORDER BY c.id
	`, deviceID, docID)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query unsynced changes", err)
	}
	defer rows.Close()
	return scanCrdtChanges(rows)
}

// MarkSynced records that changeRow has been confirmed delivered to
// deviceID.
func (r *CrdtRepository) MarkSynced(changeRow int64, deviceID string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO change_synced_to(change_row, device_id) VALUES (?,?)`,
			changeRow, deviceID,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "mark change synced", err)
		}
		return nil
	})
}
