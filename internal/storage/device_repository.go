package storage

import (
	"database/sql"
	"errors"

	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// DeviceRepository persists paired Device records.
type DeviceRepository struct {
	db *DB
}

func NewDeviceRepository(db *DB) *DeviceRepository { return &DeviceRepository{db: db} }

// Create inserts a newly paired device.
func (r *DeviceRepository) Create(d types.Device) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO devices(id, workspace_id, device_name, public_key, paired_at, last_seen, is_revoked)
			 VALUES (?,?,?,?,?,?,?)`,
			d.ID, d.WorkspaceID, d.Name, d.PublicKey, d.PairedAt, d.LastSeen, d.Revoked,
		)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "insert device", err)
		}
		return nil
	})
}

// Get fetches a device by ID.
func (r *DeviceRepository) Get(id string) (*types.Device, error) {
	row := r.db.Raw().QueryRow(
		`SELECT id, workspace_id, device_name, public_key, paired_at, last_seen, is_revoked FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, zerrors.New(zerrors.NotFound, "device not found")
	}
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query device", err)
	}
	return d, nil
}

// ListByWorkspace returns every device paired to a workspace.
func (r *DeviceRepository) ListByWorkspace(workspaceID string) ([]types.Device, error) {
	rows, err := r.db.Raw().Query(
		`SELECT id, workspace_id, device_name, public_key, paired_at, last_seen, is_revoked
		 FROM devices WHERE workspace_id = ? ORDER BY device_name`, workspaceID)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "query devices", err)
	}
	defer rows.Close()

	var out []types.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.IoError, "scan device", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// TouchLastSeen updates a device's last_seen timestamp, used on every
// successful Hello.
func (r *DeviceRepository) TouchLastSeen(id string, now int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE devices SET last_seen = ? WHERE id = ?`, now, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "touch device last_seen", err)
		}
		return nil
	})
}

// Revoke marks a device as revoked. The flag is recorded only: the sync
// coordinator's Hello handling does not read the devices table, so a
// revoked device is not refused a connection by this alone.
func (r *DeviceRepository) Revoke(id string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE devices SET is_revoked = 1 WHERE id = ?`, id)
		if err != nil {
			return zerrors.Wrap(zerrors.IoError, "revoke device", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return zerrors.New(zerrors.NotFound, "device not found")
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*types.Device, error) {
	var d types.Device
	var revoked int
	if err := row.Scan(&d.ID, &d.WorkspaceID, &d.Name, &d.PublicKey, &d.PairedAt, &d.LastSeen, &revoked); err != nil {
		return nil, err
	}
	d.Revoked = revoked != 0
	return &d, nil
}
