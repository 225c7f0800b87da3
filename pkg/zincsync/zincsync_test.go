package zincsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zincnote/zincsync/internal/types"
)

func TestNewWithoutWorkspaceIDHasNoCoordinator(t *testing.T) {
	n, err := New(context.Background(), Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer n.Close()

	require.Nil(t, n.Coordinator)
	require.NotEmpty(t, n.DeviceID())
}

func TestNewWithWorkspaceIDBuildsCoordinator(t *testing.T) {
	n, err := New(context.Background(), Options{
		DataDir:          t.TempDir(),
		WorkspaceID:      "ws-1",
		DeviceName:       "laptop",
		DisableDiscovery: true,
	})
	require.NoError(t, err)
	defer n.Close()

	require.NotNil(t, n.Coordinator)
}

func TestNewRejectsEmptyDataDir(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}

func TestRepositoriesAreUsable(t *testing.T) {
	n, err := New(context.Background(), Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Workspaces.Create(types.Workspace{ID: "ws-1", Name: "Personal", CreatedAt: 1, UpdatedAt: 1}))
	ws, err := n.Workspaces.Get("ws-1")
	require.NoError(t, err)
	require.Equal(t, "Personal", ws.Name)
}

func TestTwoNodesInSameProcessDoNotCollideOnMetrics(t *testing.T) {
	a, err := New(context.Background(), Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	b, err := New(context.Background(), Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer b.Close()
}
