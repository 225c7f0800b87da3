package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/storage"
	"github.com/zincnote/zincsync/internal/types"
)

func newTestCoordinator(t *testing.T, deviceID, workspaceID string) (*Coordinator, *storage.CrdtRepository) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewWorkspaceRepository(db).Create(types.Workspace{
		ID: workspaceID, Name: "test", CreatedAt: 1, UpdatedAt: 1,
	}))
	pageRepo := storage.NewPageRepository(db)
	require.NoError(t, pageRepo.Create(types.Page{
		ID: "page-1", WorkspaceID: workspaceID, Title: "Home", CreatedAt: 1, UpdatedAt: 1, CrdtDocID: "doc-1",
	}))
	crdtRepo := storage.NewCrdtRepository(db)
	require.NoError(t, crdtRepo.CreateDocument(types.CrdtDocument{
		DocID: "doc-1", PageID: "page-1", Snapshot: []byte{}, VectorClock: map[string]int64{}, UpdatedAt: 1,
	}))

	identity, err := zcrypto.GenerateDHKeyPair()
	require.NoError(t, err)

	c := NewCoordinator(identity, deviceID, workspaceID, "device-"+deviceID, crdtRepo, pageRepo, nil, nil)
	c.DisableDiscovery(true)
	return c, crdtRepo
}

func TestCoordinatorHandshakeAndSyncRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := newTestCoordinator(t, "device-a", "ws-shared")
	b, crdtRepoB := newTestCoordinator(t, "device-b", "ws-shared")

	_, err := crdtRepoB.AppendChange(types.CrdtChange{
		DocID: "doc-1", ActorID: "device-b", SeqNum: 1, ChangeBytes: []byte("change-1"),
	}, time.Now().Unix())
	require.NoError(t, err)

	connectedA := make(chan string, 1)
	a.OnPeerConnected(func(deviceID string) { connectedA <- deviceID })
	receivedA := make(chan []byte, 4)
	a.OnChangeReceived(func(docID string, changeBytes []byte) { receivedA <- changeBytes })

	addrA, err := a.Start(ctx, 0)
	require.NoError(t, err)
	defer a.Stop()

	_, err = b.Start(ctx, 0)
	require.NoError(t, err)
	defer b.Stop()

	require.NoError(t, b.ConnectToPeer(ctx, addrA))

	select {
	case id := <-connectedA:
		require.Equal(t, "device-b", id)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for peer connection")
	}

	require.NoError(t, a.RequestSync("device-b", "doc-1"))

	select {
	case change := <-receivedA:
		require.Equal(t, []byte("change-1"), change)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for synced change")
	}
}

func TestCoordinatorConcurrentEditsMergeWithConflictMarkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, crdtRepoA := newTestCoordinator(t, "device-a", "ws-shared")
	b, crdtRepoB := newTestCoordinator(t, "device-b", "ws-shared")

	// Both sides start from the same base text "a\nb\nc", then diverge
	// locally before ever syncing with each other.
	_, err := crdtRepoA.AppendChange(types.CrdtChange{
		DocID: "doc-1", ActorID: "device-a", SeqNum: 1, ChangeBytes: []byte("a\nb\nc"),
	}, 1)
	require.NoError(t, err)
	_, err = crdtRepoA.AppendChange(types.CrdtChange{
		DocID: "doc-1", ActorID: "device-a", SeqNum: 2, ChangeBytes: []byte("a\nX\nc"),
	}, 2)
	require.NoError(t, err)
	require.NoError(t, crdtRepoA.UpdateSnapshot("doc-1", []byte("a\nX\nc"), map[string]int64{"device-a": 2}, 2))

	_, err = crdtRepoB.AppendChange(types.CrdtChange{
		DocID: "doc-1", ActorID: "device-b", SeqNum: 1, ChangeBytes: []byte("a\nY\nc"),
	}, time.Now().Unix())
	require.NoError(t, err)

	connectedA := make(chan string, 1)
	a.OnPeerConnected(func(deviceID string) { connectedA <- deviceID })

	addrA, err := a.Start(ctx, 0)
	require.NoError(t, err)
	defer a.Stop()
	_, err = b.Start(ctx, 0)
	require.NoError(t, err)
	defer b.Stop()

	require.NoError(t, b.ConnectToPeer(ctx, addrA))
	select {
	case id := <-connectedA:
		require.Equal(t, "device-b", id)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for peer connection")
	}

	require.NoError(t, a.RequestSync("device-b", "doc-1"))

	require.Eventually(t, func() bool {
		doc, err := crdtRepoA.GetDocument("doc-1")
		return err == nil && string(doc.Snapshot) != "a\nX\nc"
	}, 3*time.Second, 20*time.Millisecond)

	doc, err := crdtRepoA.GetDocument("doc-1")
	require.NoError(t, err)
	require.Equal(t, "a\n<<<<<<< ours\nX\n=======\nY\n>>>>>>> theirs\nc", string(doc.Snapshot))
}
