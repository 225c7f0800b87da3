package storage

import (
	"database/sql"
	"fmt"

	"github.com/zincnote/zincsync/internal/zerrors"
)

// Migration is a single versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations lists every migration in order. Ported from the original
// schema with one deliberate change in version 4: synced_to is a join
// table (change_synced_to) rather than a JSON text column, avoiding an
// unindexed substring-match query to find a change's unsynced devices.
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS workspaces (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				encryption_key_salt BLOB,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS pages (
				id TEXT PRIMARY KEY,
				workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
				parent_page_id TEXT REFERENCES pages(id) ON DELETE SET NULL,
				title TEXT NOT NULL DEFAULT '',
				sort_order INTEGER NOT NULL DEFAULT 0,
				is_archived INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				crdt_doc_id TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_pages_workspace ON pages(workspace_id);
			CREATE INDEX IF NOT EXISTS idx_pages_parent ON pages(parent_page_id);

			CREATE TABLE IF NOT EXISTS blocks (
				id TEXT PRIMARY KEY,
				page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				parent_block_id TEXT REFERENCES blocks(id) ON DELETE SET NULL,
				block_type TEXT NOT NULL,
				content_markdown TEXT NOT NULL DEFAULT '',
				properties_json TEXT NOT NULL DEFAULT '{}',
				sort_order TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_blocks_page ON blocks(page_id);
			CREATE INDEX IF NOT EXISTS idx_blocks_parent ON blocks(parent_block_id);

			CREATE TABLE IF NOT EXISTS devices (
				id TEXT PRIMARY KEY,
				workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
				device_name TEXT NOT NULL,
				public_key BLOB NOT NULL,
				paired_at INTEGER NOT NULL,
				last_seen INTEGER NOT NULL,
				is_revoked INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_devices_workspace ON devices(workspace_id);
		`,
		Down: `
			DROP TABLE IF EXISTS devices;
			DROP TABLE IF EXISTS blocks;
			DROP TABLE IF EXISTS pages;
			DROP TABLE IF EXISTS workspaces;
		`,
	},
	{
		Version: 2,
		Name:    "fts5_search",
		Up: `
			CREATE VIRTUAL TABLE IF NOT EXISTS block_fts USING fts5(
				block_id UNINDEXED,
				page_id UNINDEXED,
				page_title,
				content,
				tokenize='porter unicode61 remove_diacritics 2'
			);

			CREATE TRIGGER IF NOT EXISTS blocks_ai AFTER INSERT ON blocks BEGIN
				INSERT INTO block_fts(block_id, page_id, page_title, content)
				VALUES (
					new.id,
					new.page_id,
					(SELECT title FROM pages WHERE id = new.page_id),
					new.content_markdown
				);
			END;

			CREATE TRIGGER IF NOT EXISTS blocks_ad AFTER DELETE ON blocks BEGIN
				DELETE FROM block_fts WHERE block_id = old.id;
			END;

			CREATE TRIGGER IF NOT EXISTS blocks_au AFTER UPDATE ON blocks BEGIN
				DELETE FROM block_fts WHERE block_id = old.id;
				INSERT INTO block_fts(block_id, page_id, page_title, content)
				VALUES (
					new.id,
					new.page_id,
					(SELECT title FROM pages WHERE id = new.page_id),
					new.content_markdown
				);
			END;

			CREATE TRIGGER IF NOT EXISTS pages_au_title AFTER UPDATE OF title ON pages BEGIN
				UPDATE block_fts SET page_title = new.title WHERE page_id = new.id;
			END;
		`,
		Down: `
			DROP TRIGGER IF EXISTS pages_au_title;
			DROP TRIGGER IF EXISTS blocks_au;
			DROP TRIGGER IF EXISTS blocks_ad;
			DROP TRIGGER IF EXISTS blocks_ai;
			DROP TABLE IF EXISTS block_fts;
		`,
	},
	{
		Version: 3,
		Name:    "block_links",
		Up: `
			CREATE TABLE IF NOT EXISTS block_links (
				source_block_id TEXT NOT NULL REFERENCES blocks(id) ON DELETE CASCADE,
				target_page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				target_block_id TEXT REFERENCES blocks(id) ON DELETE SET NULL,
				PRIMARY KEY (source_block_id, target_page_id, COALESCE(target_block_id, ''))
			);
			CREATE INDEX IF NOT EXISTS idx_block_links_target ON block_links(target_page_id);
			CREATE INDEX IF NOT EXISTS idx_block_links_target_block ON block_links(target_block_id);
		`,
		Down: `DROP TABLE IF EXISTS block_links;`,
	},
	{
		Version: 4,
		Name:    "crdt_storage",
		Up: `
			CREATE TABLE IF NOT EXISTS crdt_documents (
				doc_id TEXT PRIMARY KEY,
				page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				snapshot BLOB NOT NULL,
				vector_clock TEXT NOT NULL DEFAULT '{}',
				updated_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_crdt_documents_page ON crdt_documents(page_id);

			CREATE TABLE IF NOT EXISTS crdt_changes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				doc_id TEXT NOT NULL REFERENCES crdt_documents(doc_id) ON DELETE CASCADE,
				change_bytes BLOB NOT NULL,
				actor_id TEXT NOT NULL,
				seq_num INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				UNIQUE(doc_id, actor_id, seq_num)
			);
			CREATE INDEX IF NOT EXISTS idx_crdt_changes_doc ON crdt_changes(doc_id);

			-- Join table tracking per-device delivery confirmation, replacing a
			-- synced_to JSON column: lets "find unsynced changes for device X"
			-- be a plain indexed LEFT JOIN ... IS NULL instead of a LIKE scan.
			CREATE TABLE IF NOT EXISTS change_synced_to (
				change_row INTEGER NOT NULL REFERENCES crdt_changes(id) ON DELETE CASCADE,
				device_id TEXT NOT NULL,
				PRIMARY KEY (change_row, device_id)
			);
			CREATE INDEX IF NOT EXISTS idx_change_synced_to_device ON change_synced_to(device_id);
		`,
		Down: `
			DROP TABLE IF EXISTS change_synced_to;
			DROP TABLE IF EXISTS crdt_changes;
			DROP TABLE IF EXISTS crdt_documents;
		`,
	},
	{
		Version: 5,
		Name:    "attachments",
		Up: `
			CREATE TABLE IF NOT EXISTS attachments (
				id TEXT PRIMARY KEY,
				block_id TEXT REFERENCES blocks(id) ON DELETE CASCADE,
				filename TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				size_bytes INTEGER NOT NULL,
				hash_sha256 TEXT NOT NULL,
				encrypted_blob BLOB,
				external_path TEXT,
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_attachments_block ON attachments(block_id);
			CREATE INDEX IF NOT EXISTS idx_attachments_hash ON attachments(hash_sha256);
		`,
		Down: `DROP TABLE IF EXISTS attachments;`,
	},
}

// MigrationRunner applies AllMigrations against a DB, tracking the current
// schema version in a dedicated table.
type MigrationRunner struct {
	db *DB
}

// NewMigrationRunner constructs a runner bound to db.
func NewMigrationRunner(db *DB) *MigrationRunner { return &MigrationRunner{db: db} }

func (r *MigrationRunner) ensureMigrationsTable() error {
	_, err := r.db.sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY
		);
	`)
	if err != nil {
		return zerrors.Wrap(zerrors.IoError, "create schema_migrations table", err)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version, or 0 if
// none have run.
func (r *MigrationRunner) CurrentVersion() (int, error) {
	if err := r.ensureMigrationsTable(); err != nil {
		return 0, err
	}
	var version sql.NullInt64
	err := r.db.sqlDB.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, zerrors.Wrap(zerrors.IoError, "query schema version", err)
	}
	return int(version.Int64), nil
}

// LatestVersion returns the newest version known to AllMigrations.
func LatestVersion() int {
	if len(AllMigrations) == 0 {
		return 0
	}
	return AllMigrations[len(AllMigrations)-1].Version
}

// Migrate applies every migration newer than the current schema version,
// each in its own transaction, recording its version as it goes.
func (r *MigrationRunner) Migrate() error {
	return r.MigrateTo(LatestVersion())
}

// MigrateTo applies migrations up to and including targetVersion.
func (r *MigrationRunner) MigrateTo(targetVersion int) error {
	current, err := r.CurrentVersion()
	if err != nil {
		return err
	}
	for _, m := range AllMigrations {
		if m.Version <= current || m.Version > targetVersion {
			continue
		}
		if err := r.runMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (r *MigrationRunner) runMigration(m Migration) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(m.Up); err != nil {
			return zerrors.Wrap(zerrors.IoError, "apply migration up", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, m.Version); err != nil {
			return zerrors.Wrap(zerrors.IoError, "record migration version", err)
		}
		return nil
	})
}

// RollbackTo reverts migrations down to (but not including) targetVersion,
// applying each migration's Down SQL in reverse order.
func (r *MigrationRunner) RollbackTo(targetVersion int) error {
	current, err := r.CurrentVersion()
	if err != nil {
		return err
	}
	for i := len(AllMigrations) - 1; i >= 0; i-- {
		m := AllMigrations[i]
		if m.Version > current || m.Version <= targetVersion {
			continue
		}
		if err := r.db.WithTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.Down); err != nil {
				return zerrors.Wrap(zerrors.IoError, "apply migration down", err)
			}
			if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
				return zerrors.Wrap(zerrors.IoError, "unrecord migration version", err)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("rollback %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}
