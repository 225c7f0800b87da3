package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateReachesLatestVersion(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)
	version, err := runner.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, LatestVersion(), version)
}

func TestWorkspaceRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewWorkspaceRepository(db)

	w := types.Workspace{ID: "ws-1", Name: "Personal", CreatedAt: 1, UpdatedAt: 1}
	require.NoError(t, repo.Create(w))

	got, err := repo.Get("ws-1")
	require.NoError(t, err)
	require.Equal(t, "Personal", got.Name)

	require.NoError(t, repo.Rename("ws-1", "Renamed", 2))
	got, err = repo.Get("ws-1")
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Name)
}

func TestBlockContentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	wsRepo := NewWorkspaceRepository(db)
	pageRepo := NewPageRepository(db)
	blockRepo := NewBlockRepository(db)

	require.NoError(t, wsRepo.Create(types.Workspace{ID: "ws-1", Name: "W", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, pageRepo.Create(types.Page{
		ID: "pg-1", WorkspaceID: "ws-1", Title: "Notes", CrdtDocID: "doc-1", CreatedAt: 1, UpdatedAt: 1,
	}))

	cases := []types.BlockContent{
		types.Paragraph{Markdown: "hello"},
		types.Heading{Level: 2, Markdown: "Section"},
		types.Todo{Checked: true, Markdown: "ship it"},
		types.Code{Language: "go", Content: "func main() {}"},
		types.Quote{Markdown: "quoted"},
		types.Divider{},
		types.Toggle{Collapsed: true, Summary: "details"},
	}

	for i, content := range cases {
		id := string(rune('a' + i))
		require.NoError(t, blockRepo.Create(types.Block{
			ID: id, PageID: "pg-1", Content: content,
			SortOrder: types.FractionalIndex("m"), CreatedAt: 1, UpdatedAt: 1,
		}))
		got, err := blockRepo.Get(id)
		require.NoError(t, err)
		require.Equal(t, content, got.Content)
	}
}

func TestUnsyncedChangesExcludesConfirmedDeliveries(t *testing.T) {
	db := openTestDB(t)
	wsRepo := NewWorkspaceRepository(db)
	pageRepo := NewPageRepository(db)
	crdtRepo := NewCrdtRepository(db)

	require.NoError(t, wsRepo.Create(types.Workspace{ID: "ws-1", Name: "W", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, pageRepo.Create(types.Page{
		ID: "pg-1", WorkspaceID: "ws-1", Title: "Notes", CrdtDocID: "doc-1", CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, crdtRepo.CreateDocument(types.CrdtDocument{
		DocID: "doc-1", PageID: "pg-1", Snapshot: []byte{}, VectorClock: map[string]int64{}, UpdatedAt: 1,
	}))

	row1, err := crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("c1")}, 10)
	require.NoError(t, err)
	_, err = crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 2, ChangeBytes: []byte("c2")}, 11)
	require.NoError(t, err)

	unsynced, err := crdtRepo.UnsyncedChanges("doc-1", "dev-b")
	require.NoError(t, err)
	require.Len(t, unsynced, 2)

	require.NoError(t, crdtRepo.MarkSynced(row1, "dev-b"))
	unsynced, err = crdtRepo.UnsyncedChanges("doc-1", "dev-b")
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	require.Equal(t, int64(2), unsynced[0].SeqNum)
}

func TestAppendChangeDuplicateIsConflict(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewWorkspaceRepository(db).Create(types.Workspace{ID: "ws-1", Name: "W", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, NewPageRepository(db).Create(types.Page{
		ID: "pg-1", WorkspaceID: "ws-1", Title: "Notes", CrdtDocID: "doc-1", CreatedAt: 1, UpdatedAt: 1,
	}))
	crdtRepo := NewCrdtRepository(db)
	require.NoError(t, crdtRepo.CreateDocument(types.CrdtDocument{
		DocID: "doc-1", PageID: "pg-1", Snapshot: []byte{}, VectorClock: map[string]int64{}, UpdatedAt: 1,
	}))

	_, err := crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("c1")}, 10)
	require.NoError(t, err)

	_, err = crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("c1-again")}, 11)
	require.Error(t, err)
	require.True(t, zerrors.Is(err, zerrors.Conflict))
}

func TestChangesForAndChangesSince(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewWorkspaceRepository(db).Create(types.Workspace{ID: "ws-1", Name: "W", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, NewPageRepository(db).Create(types.Page{
		ID: "pg-1", WorkspaceID: "ws-1", Title: "Notes", CrdtDocID: "doc-1", CreatedAt: 1, UpdatedAt: 1,
	}))
	crdtRepo := NewCrdtRepository(db)
	require.NoError(t, crdtRepo.CreateDocument(types.CrdtDocument{
		DocID: "doc-1", PageID: "pg-1", Snapshot: []byte{}, VectorClock: map[string]int64{}, UpdatedAt: 1,
	}))

	_, err := crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("a1")}, 10)
	require.NoError(t, err)
	_, err = crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-b", SeqNum: 1, ChangeBytes: []byte("b1")}, 11)
	require.NoError(t, err)
	_, err = crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 2, ChangeBytes: []byte("a2")}, 12)
	require.NoError(t, err)

	all, err := crdtRepo.ChangesFor("doc-1")
	require.NoError(t, err)
	require.Len(t, all, 3)

	sinceA1, err := crdtRepo.ChangesSince("doc-1", "dev-a", 1)
	require.NoError(t, err)
	require.Len(t, sinceA1, 1)
	require.Equal(t, []byte("a2"), sinceA1[0].ChangeBytes)
}

func TestCompactReplacesSnapshotAndClearsLog(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewWorkspaceRepository(db).Create(types.Workspace{ID: "ws-1", Name: "W", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, NewPageRepository(db).Create(types.Page{
		ID: "pg-1", WorkspaceID: "ws-1", Title: "Notes", CrdtDocID: "doc-1", CreatedAt: 1, UpdatedAt: 1,
	}))
	crdtRepo := NewCrdtRepository(db)
	require.NoError(t, crdtRepo.CreateDocument(types.CrdtDocument{
		DocID: "doc-1", PageID: "pg-1", Snapshot: []byte{}, VectorClock: map[string]int64{}, UpdatedAt: 1,
	}))
	_, err := crdtRepo.AppendChange(types.CrdtChange{DocID: "doc-1", ActorID: "dev-a", SeqNum: 1, ChangeBytes: []byte("a1")}, 10)
	require.NoError(t, err)

	require.NoError(t, crdtRepo.Compact("doc-1", []byte("final text"), map[string]int64{"dev-a": 1}, 20))

	doc, err := crdtRepo.GetDocument("doc-1")
	require.NoError(t, err)
	require.Equal(t, []byte("final text"), doc.Snapshot)
	require.Equal(t, int64(1), doc.VectorClock["dev-a"])

	remaining, err := crdtRepo.ChangesFor("doc-1")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestAttachmentRoundTripAndCascade(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewWorkspaceRepository(db).Create(types.Workspace{ID: "ws-1", Name: "W", CreatedAt: 1, UpdatedAt: 1}))
	require.NoError(t, NewPageRepository(db).Create(types.Page{
		ID: "pg-1", WorkspaceID: "ws-1", Title: "Notes", CrdtDocID: "doc-1", CreatedAt: 1, UpdatedAt: 1,
	}))
	blockRepo := NewBlockRepository(db)
	require.NoError(t, blockRepo.Create(types.Block{
		ID: "blk-1", PageID: "pg-1", Content: types.Paragraph{Markdown: "see attached"},
		SortOrder: types.FractionalIndex("m"), CreatedAt: 1, UpdatedAt: 1,
	}))

	attachRepo := NewAttachmentRepository(db)
	blockID := "blk-1"
	require.NoError(t, attachRepo.Create(types.Attachment{
		ID: "att-1", BlockID: &blockID, Filename: "photo.png", MimeType: "image/png",
		SizeBytes: 1024, HashSHA256: "deadbeef", EncryptedBlob: []byte("cipher"), CreatedAt: 5,
	}))

	got, err := attachRepo.Get("att-1")
	require.NoError(t, err)
	require.Equal(t, "photo.png", got.Filename)
	require.Equal(t, []byte("cipher"), got.EncryptedBlob)
	require.NotNil(t, got.BlockID)
	require.Equal(t, "blk-1", *got.BlockID)

	list, err := attachRepo.ListByBlock("blk-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, blockRepo.Remove("blk-1"))
	_, err = attachRepo.Get("att-1")
	require.Error(t, err)
	require.True(t, zerrors.Is(err, zerrors.NotFound))
}

func TestAttachmentExternalPathRoundTrip(t *testing.T) {
	db := openTestDB(t)
	attachRepo := NewAttachmentRepository(db)
	path := "/var/lib/zincsync/attachments/deadbeef.bin"
	require.NoError(t, attachRepo.Create(types.Attachment{
		ID: "att-2", Filename: "large.bin", MimeType: "application/octet-stream",
		SizeBytes: 1 << 20, HashSHA256: "deadbeef2", ExternalPath: &path, CreatedAt: 7,
	}))

	got, err := attachRepo.Get("att-2")
	require.NoError(t, err)
	require.Nil(t, got.BlockID)
	require.NotNil(t, got.ExternalPath)
	require.Equal(t, path, *got.ExternalPath)

	require.NoError(t, attachRepo.Remove("att-2"))
	_, err = attachRepo.Get("att-2")
	require.True(t, zerrors.Is(err, zerrors.NotFound))
}
