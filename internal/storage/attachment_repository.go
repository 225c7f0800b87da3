package storage

import (
	"database/sql"
	"errors"

	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// AttachmentRepository persists Attachment records, stored either inline
// (EncryptedBlob) or by reference to a file under the host application's
// attachments directory (ExternalPath).
type AttachmentRepository struct {
	db *DB
}

func NewAttachmentRepository(db *DB) *AttachmentRepository { return &AttachmentRepository{db: db} }

// Create inserts a new attachment.
func (r *AttachmentRepository) Create(a types.Attachment) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO attachments(id, block_id, filename, mime_type, size_bytes, hash_sha256, encrypted_blob, external_path, created_at)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			a.ID, a.BlockID, a.Filename, a.MimeType, a.SizeBytes, a.HashSHA256, a.EncryptedBlob, a.ExternalPath, a.CreatedAt,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "insert attachment", err)
		}
		return nil
	})
}

// Get fetches an attachment by ID.
func (r *AttachmentRepository) Get(id string) (*types.Attachment, error) {
	row := r.db.Raw().QueryRow(
		`SELECT id, block_id, filename, mime_type, size_bytes, hash_sha256, encrypted_blob, external_path, created_at
		 FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, zerrors.New(zerrors.NotFound, "attachment not found")
	}
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query attachment", err)
	}
	return a, nil
}

// ListByBlock returns every attachment on a block, ordered by creation
// time.
func (r *AttachmentRepository) ListByBlock(blockID string) ([]types.Attachment, error) {
	rows, err := r.db.Raw().Query(
		`SELECT id, block_id, filename, mime_type, size_bytes, hash_sha256, encrypted_blob, external_path, created_at
		 FROM attachments WHERE block_id = ? ORDER BY created_at`, blockID)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query attachments", err)
	}
	defer rows.Close()

	var out []types.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan attachment", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Remove permanently deletes an attachment. Removing its block instead
// cascades via the attachments.block_id foreign key.
func (r *AttachmentRepository) Remove(id string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM attachments WHERE id = ?`, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "delete attachment", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "attachment not found")
		}
		return nil
	})
}

func scanAttachment(row rowScanner) (*types.Attachment, error) {
	var a types.Attachment
	var blockID, externalPath sql.NullString
	var blob []byte
	if err := row.Scan(&a.ID, &blockID, &a.Filename, &a.MimeType, &a.SizeBytes, &a.HashSHA256, &blob, &externalPath, &a.CreatedAt); err != nil {
		return nil, err
	}
	if blockID.Valid {
		a.BlockID = &blockID.String
	}
	if externalPath.Valid {
		a.ExternalPath = &externalPath.String
	}
	a.EncryptedBlob = blob
	return &a, nil
}
