// Package zincsync is the public facade over the internal workspace/page
// storage and peer-sync machinery, mirroring the shape a host application
// (CLI, desktop shell, mobile bridge) embeds against.
package zincsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/logging"
	"github.com/zincnote/zincsync/internal/monitoring"
	"github.com/zincnote/zincsync/internal/storage"
	"github.com/zincnote/zincsync/internal/sync"
)

// Options configures a Node. DataDir is the only required field.
type Options struct {
	// DataDir holds the SQLite database file. Created if absent.
	DataDir string

	// WorkspaceID, if set, starts the Node bound to that workspace's sync
	// coordinator. Leave empty for storage-only use (a CLI subcommand that
	// never calls Serve).
	WorkspaceID string
	DeviceName  string

	// Identity is this device's Noise/pairing key pair. zincsync does not
	// define an on-disk key storage format; callers that want a stable
	// device identity across restarts persist and supply it themselves. A
	// fresh identity is generated if nil.
	Identity *zcrypto.DHKeyPair

	DisableDiscovery bool

	// LogLevel and LogFormat configure the Node's logger; see
	// internal/logging.NewLogger. Both default if left empty.
	LogLevel  string
	LogFormat string
}

// Node is the top-level handle a host application holds: database access
// plus, if configured, an active sync coordinator.
type Node struct {
	db       *storage.DB
	identity *zcrypto.DHKeyPair
	deviceID string

	Workspaces  *storage.WorkspaceRepository
	Pages       *storage.PageRepository
	Blocks      *storage.BlockRepository
	Devices     *storage.DeviceRepository
	Crdt        *storage.CrdtRepository
	Attachments *storage.AttachmentRepository
	Coordinator *sync.Coordinator
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
}

// New opens (creating if absent) the database under opts.DataDir and
// constructs every repository. If opts.WorkspaceID is set, it also
// constructs (but does not start) a sync coordinator for that workspace.
func New(ctx context.Context, opts Options) (*Node, error) {
	if ctx == nil {
		return nil, fmt.Errorf("zincsync: context cannot be nil")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("zincsync: DataDir cannot be empty")
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("zincsync: create data directory: %w", err)
	}

	logLevel, logFormat := opts.LogLevel, opts.LogFormat
	if logLevel == "" {
		logLevel = "info"
	}
	if logFormat == "" {
		logFormat = "console"
	}
	logger, err := logging.NewLogger(logLevel, logFormat)
	if err != nil {
		return nil, fmt.Errorf("zincsync: build logger: %w", err)
	}

	db, err := storage.Open(filepath.Join(opts.DataDir, "zincsync.db"))
	if err != nil {
		return nil, fmt.Errorf("zincsync: open database: %w", err)
	}

	identity := opts.Identity
	if identity == nil {
		identity, err = zcrypto.GenerateDHKeyPair()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("zincsync: generate device identity: %w", err)
		}
	}
	deviceID := zcrypto.Fingerprint(identity.Public[:])

	crdtRepo := storage.NewCrdtRepository(db)
	// Each Node gets its own registry rather than the global default, so a
	// process (or test binary) embedding more than one Node never hits a
	// duplicate-registration panic.
	metrics := monitoring.NewMetricsWithRegisterer(prometheus.NewRegistry())

	n := &Node{
		db:         db,
		identity:   identity,
		deviceID:   deviceID,
		Workspaces:  storage.NewWorkspaceRepository(db),
		Pages:       storage.NewPageRepository(db),
		Blocks:      storage.NewBlockRepository(db),
		Devices:     storage.NewDeviceRepository(db),
		Crdt:        crdtRepo,
		Attachments: storage.NewAttachmentRepository(db),
		Logger:      logger,
		Metrics:     metrics,
	}

	if opts.WorkspaceID != "" {
		deviceName := opts.DeviceName
		if deviceName == "" {
			deviceName = deviceID
		}
		n.Coordinator = sync.NewCoordinator(identity, deviceID, opts.WorkspaceID, deviceName, crdtRepo, n.Pages, logger, metrics)
		n.Coordinator.DisableDiscovery(opts.DisableDiscovery)
	}

	return n, nil
}

// DeviceID returns this Node's fingerprint-derived device identifier.
func (n *Node) DeviceID() string { return n.deviceID }

// Identity returns this Node's key pair.
func (n *Node) Identity() *zcrypto.DHKeyPair { return n.identity }

// Serve starts the sync coordinator (listening on port, 0 for ephemeral)
// and returns its bound address. Panics if New was called without a
// WorkspaceID, since there is no coordinator to start.
func (n *Node) Serve(ctx context.Context, port int) (string, error) {
	if n.Coordinator == nil {
		panic("zincsync: Serve called on a Node with no WorkspaceID configured")
	}
	return n.Coordinator.Start(ctx, port)
}

// Close stops the sync coordinator (if running) and closes the database.
func (n *Node) Close() error {
	if n.Coordinator != nil {
		if err := n.Coordinator.Stop(); err != nil {
			n.Logger.WithError(err).Warn("coordinator stop error")
		}
	}
	return n.db.Close()
}
