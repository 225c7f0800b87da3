// Package sync coordinates CRDT synchronization with peers: it decides
// whether to accept a peer's Hello, drives full-sync request/response
// exchanges, and streams individual change notifications once two devices
// are caught up.
package sync

import (
	"context"
	"fmt"
	"net"
	stdsync "sync"
	"time"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/discovery"
	"github.com/zincnote/zincsync/internal/logging"
	"github.com/zincnote/zincsync/internal/merge"
	"github.com/zincnote/zincsync/internal/monitoring"
	"github.com/zincnote/zincsync/internal/resolver"
	"github.com/zincnote/zincsync/internal/storage"
	"github.com/zincnote/zincsync/internal/transport"
	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// SyncState tracks where a single peer sits in the sync lifecycle.
type SyncState int

const (
	Idle SyncState = iota
	Connecting
	Syncing
	Streaming
	Error
)

func (s SyncState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Streaming:
		return "streaming"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 90 * time.Second
)

// PeerConnection tracks one active peer link and its sync progress.
type PeerConnection struct {
	DeviceID      string
	Conn          *transport.Connection
	State         SyncState
	LastSync      time.Time
	LastPong      time.Time
	RequestSentAt time.Time
	RetryCount    int
}

// Coordinator owns the transport manager, discovery service, and CRDT
// storage for a single workspace, wiring Hello decisions, sync requests,
// and change propagation between them. It replaces the teacher's direct
// Qt-signal event model with plain registered callbacks.
type Coordinator struct {
	identity    *zcrypto.DHKeyPair
	deviceID    string
	workspaceID string
	deviceName  string

	allowRekeyOnHello bool
	disableDiscovery  bool

	transportMgr *transport.Manager
	discoverySvc *discovery.Service
	crdtRepo     *storage.CrdtRepository
	pageRepo     *storage.PageRepository
	resolver     *resolver.Resolver
	logger       *logging.Logger
	metrics      *monitoring.Metrics

	mu      stdsync.RWMutex
	peers   map[string]*PeerConnection
	syncing bool
	started bool

	onPeerConnected    func(deviceID string)
	onPeerDisconnected func(deviceID string)
	onChangeReceived   func(docID string, changeBytes []byte)
	onSyncRequested    func(deviceID, docID string)
	onError            func(error)
}

// NewCoordinator constructs a Coordinator bound to one identity/workspace.
// pageRepo may be nil, in which case PagesSnapshot push/receive is a no-op
// (storage-only callers that never Start a coordinator never hit this).
func NewCoordinator(
	identity *zcrypto.DHKeyPair,
	deviceID, workspaceID, deviceName string,
	crdtRepo *storage.CrdtRepository,
	pageRepo *storage.PageRepository,
	logger *logging.Logger,
	metrics *monitoring.Metrics,
) *Coordinator {
	return &Coordinator{
		identity:    identity,
		deviceID:    deviceID,
		workspaceID: workspaceID,
		deviceName:  deviceName,
		crdtRepo:    crdtRepo,
		pageRepo:    pageRepo,
		resolver:    resolver.New(crdtRepo, metrics),
		logger:      logger,
		metrics:     metrics,
		peers:       make(map[string]*PeerConnection),
	}
}

// AllowRekeyOnHello toggles whether incoming Hellos from an unexpected
// device identity or mismatched workspace may be accepted as a pairing
// bootstrap exchange. Pairing flows turn this on for the duration of the
// exchange; it is off by default.
func (c *Coordinator) AllowRekeyOnHello(allow bool) { c.allowRekeyOnHello = allow }

// DisableDiscovery turns off UDP multicast advertising/listening, for
// environments where multicast isn't routable (containers, tests) or
// where the operator prefers only explicit ConnectToPeer dialing.
func (c *Coordinator) DisableDiscovery(disable bool) { c.disableDiscovery = disable }

func (c *Coordinator) OnPeerConnected(fn func(deviceID string))       { c.onPeerConnected = fn }
func (c *Coordinator) OnPeerDisconnected(fn func(deviceID string))    { c.onPeerDisconnected = fn }
func (c *Coordinator) OnChangeReceived(fn func(docID string, changeBytes []byte)) {
	c.onChangeReceived = fn
}
func (c *Coordinator) OnSyncRequested(fn func(deviceID, docID string)) { c.onSyncRequested = fn }
func (c *Coordinator) OnError(fn func(error))                         { c.onError = fn }

// Start begins listening for inbound connections and advertising/observing
// discovery announcements. port 0 binds an ephemeral port.
func (c *Coordinator) Start(ctx context.Context, port int) (string, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return "", zerrors.New(zerrors.BadInput, "coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	c.transportMgr = transport.NewManager(c.identity, c.buildHelloPayload, c.logger)
	c.transportMgr.OnConnected(c.handleConnected)
	c.transportMgr.OnDisconnected(c.handleDisconnected)

	addr, err := c.transportMgr.Listen(ctx, fmt.Sprintf(":%d", port))
	if err != nil {
		return "", err
	}

	if !c.disableDiscovery {
		c.discoverySvc = discovery.NewService(discovery.ServiceInfo{
			DeviceID:        c.deviceID,
			WorkspaceID:     c.workspaceID,
			DeviceName:      c.deviceName,
			Port:            listenPort(addr),
			PublicKeyBase64: zcrypto.Fingerprint(c.identity.Public[:]),
		}, c.logger)
		c.discoverySvc.OnPeerDiscovered(func(p discovery.Peer) {
			if c.metrics != nil {
				c.metrics.DiscoveryPeersSeen.Set(float64(len(c.discoverySvc.Peers())))
			}
		})
		if err := c.discoverySvc.Start(ctx); err != nil {
			return "", err
		}
	}

	c.setSyncing(true)
	return addr, nil
}

// Stop tears down the transport manager and discovery service.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	c.setSyncing(false)

	if c.discoverySvc != nil {
		c.discoverySvc.Stop()
	}
	if c.transportMgr != nil {
		return c.transportMgr.Close()
	}
	return nil
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

func (c *Coordinator) buildHelloPayload() []byte {
	return marshalMessage(helloMessage{
		DeviceID:    c.deviceID,
		WorkspaceID: c.workspaceID,
		DeviceName:  c.deviceName,
	})
}

// ConnectToPeer dials addr and, once the handshake completes, evaluates its
// Hello via DecideHello exactly as an inbound connection would.
func (c *Coordinator) ConnectToPeer(ctx context.Context, addr string) error {
	_, err := c.transportMgr.Connect(ctx, addr)
	return err
}

// DisconnectFromPeer closes the active connection to a device, if any.
func (c *Coordinator) DisconnectFromPeer(deviceID string) {
	c.mu.Lock()
	peer, ok := c.peers[deviceID]
	c.mu.Unlock()
	if !ok {
		return
	}
	peer.Conn.Close()
}

// BroadcastChange sends a change notification to every synced peer. The
// caller is expected to have already persisted the change locally via the
// CRDT repository, with row the id AppendChange returned for it; row is
// carried on the wire so a peer's later ChangeAck tells us exactly which
// row to mark synced.
func (c *Coordinator) BroadcastChange(docID, actorID string, seqNum, row int64, changeBytes []byte) {
	notify := changeNotifyMessage{DocID: docID, Change: changeMessage{
		Row: row, ActorID: actorID, SeqNum: seqNum, ChangeBytes: changeBytes, CreatedAt: time.Now().Unix(),
	}}
	c.transportMgr.Broadcast(types.MsgChangeNotify, marshalMessage(notify))
	if c.metrics != nil {
		c.metrics.ChangesSent.Inc()
	}
}

// RequestSync asks a specific peer for every change on docID that the peer
// has not yet marked synced to us. Our locally stored vector clock travels
// with the request but does not narrow what the peer sends.
func (c *Coordinator) RequestSync(deviceID, docID string) error {
	c.mu.RLock()
	peer, ok := c.peers[deviceID]
	c.mu.RUnlock()
	if !ok {
		return zerrors.New(zerrors.NotFound, "peer not connected")
	}

	doc, err := c.crdtRepo.GetDocument(docID)
	if err != nil {
		return err
	}
	c.setPeerState(deviceID, Syncing)
	c.mu.Lock()
	peer.RequestSentAt = time.Now()
	c.mu.Unlock()
	req := syncRequestMessage{DocID: docID, VectorClock: doc.VectorClock}
	return peer.Conn.Send(types.MsgSyncRequest, marshalMessage(req))
}

func (c *Coordinator) IsSyncing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncing
}

func (c *Coordinator) setSyncing(v bool) {
	c.mu.Lock()
	c.syncing = v
	c.mu.Unlock()
}

// ConnectedPeerCount returns the number of peers that completed Hello
// negotiation (as opposed to every raw transport connection, some of
// which may still be mid-handshake or about to be rejected).
func (c *Coordinator) ConnectedPeerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// PeerPublicKey returns deviceID's authenticated long-term public key, for
// callers (pairing completion) that need to persist it alongside the
// device record. ok is false if deviceID isn't currently connected.
func (c *Coordinator) PeerPublicKey(deviceID string) (key [zcrypto.KeySize]byte, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, found := c.peers[deviceID]
	if !found {
		return key, false
	}
	return peer.Conn.RemoteStatic(), true
}

func (c *Coordinator) setPeerState(deviceID string, state SyncState) {
	c.mu.Lock()
	if peer, ok := c.peers[deviceID]; ok {
		peer.State = state
	}
	c.mu.Unlock()
}

// handleConnected runs after a Noise handshake completes (inbound or
// outbound); it evaluates the peer's Hello payload (carried as the
// handshake's final cleartext-at-rest payload) and either registers the
// peer or disconnects it per DecideHello.
func (c *Coordinator) handleConnected(conn *transport.Connection, handshakePayload []byte) {
	if c.metrics != nil {
		c.metrics.HandshakesTotal.Inc()
	}
	if len(handshakePayload) == 0 {
		conn.Close()
		return
	}
	var hello helloMessage
	if err := unmarshalMessage(handshakePayload, &hello); err != nil {
		if c.metrics != nil {
			c.metrics.HandshakeFailuresTotal.Inc()
		}
		conn.Close()
		return
	}

	decision := DecideHello(c.deviceID, c.workspaceID, hello.DeviceID, c.allowRekeyOnHello, hello.DeviceID, hello.WorkspaceID)
	if decision.Kind == DisconnectSelf || decision.Kind == DisconnectIdentityMismatch || decision.Kind == DisconnectWorkspaceMismatch {
		if c.logger != nil {
			c.logger.WithPeer(hello.DeviceID).Warn(decision.Reason)
		}
		conn.Close()
		return
	}

	peer := &PeerConnection{DeviceID: hello.DeviceID, Conn: conn, State: Idle, LastPong: time.Now()}
	conn.OnMessage(func(conn *transport.Connection, msgType types.MessageType, payload []byte) {
		c.handleMessage(peer, msgType, payload)
	})

	c.mu.Lock()
	c.peers[hello.DeviceID] = peer
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.PeersConnected.Set(float64(c.ConnectedPeerCount()))
	}

	go c.livenessLoop(peer)
	c.sendPagesSnapshot(peer)

	if c.onPeerConnected != nil {
		c.onPeerConnected(hello.DeviceID)
	}
}

// sendPagesSnapshot pushes every non-archived page's metadata and current
// CRDT snapshot to a newly accepted peer, so it bootstraps the workspace's
// page tree immediately instead of waiting on a per-document SyncRequest.
func (c *Coordinator) sendPagesSnapshot(peer *PeerConnection) {
	if c.pageRepo == nil {
		return
	}
	pages, err := c.pageRepo.ListByWorkspace(c.workspaceID)
	if err != nil {
		c.reportError(err)
		return
	}
	entries := make([]pageWireEntry, 0, len(pages))
	for _, p := range pages {
		doc, err := c.crdtRepo.GetDocument(p.CrdtDocID)
		if err != nil {
			c.reportError(err)
			continue
		}
		entries = append(entries, pageWireEntry{
			ID: p.ID, ParentPageID: p.ParentPageID, Title: p.Title, SortOrder: p.SortOrder,
			CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt, CrdtDocID: p.CrdtDocID,
			Snapshot: doc.Snapshot, VectorClock: doc.VectorClock,
		})
	}
	if err := peer.Conn.Send(types.MsgPagesSnapshot, marshalMessage(pagesSnapshotMessage{Pages: entries})); err != nil {
		c.reportError(err)
	}
}

// handlePagesSnapshot bootstraps any page we don't already have from a
// peer's snapshot. Existing pages are left untouched: ongoing sync of an
// already-known document happens via SyncRequest/ChangeNotify, not here.
func (c *Coordinator) handlePagesSnapshot(peer *PeerConnection, payload []byte) {
	if c.pageRepo == nil {
		return
	}
	var snapshot pagesSnapshotMessage
	if err := unmarshalMessage(payload, &snapshot); err != nil {
		c.reportError(err)
		return
	}
	for _, entry := range snapshot.Pages {
		if _, err := c.pageRepo.Get(entry.ID); err == nil {
			continue
		}
		now := time.Now().Unix()
		if err := c.pageRepo.Create(types.Page{
			ID: entry.ID, WorkspaceID: c.workspaceID, ParentPageID: entry.ParentPageID,
			Title: entry.Title, SortOrder: entry.SortOrder, CreatedAt: entry.CreatedAt,
			UpdatedAt: entry.UpdatedAt, CrdtDocID: entry.CrdtDocID,
		}); err != nil {
			c.reportError(err)
			continue
		}
		if err := c.crdtRepo.CreateDocument(types.CrdtDocument{
			DocID: entry.CrdtDocID, PageID: entry.ID, Snapshot: entry.Snapshot,
			VectorClock: entry.VectorClock, UpdatedAt: now,
		}); err != nil {
			c.reportError(err)
		}
	}
}

func (c *Coordinator) handleDisconnected(conn *transport.Connection) {
	c.mu.Lock()
	var deviceID string
	for id, p := range c.peers {
		if p.Conn == conn {
			deviceID = id
			delete(c.peers, id)
			break
		}
	}
	c.mu.Unlock()
	if deviceID == "" {
		return
	}
	if c.metrics != nil {
		c.metrics.PeersConnected.Set(float64(c.ConnectedPeerCount()))
	}
	if c.onPeerDisconnected != nil {
		c.onPeerDisconnected(deviceID)
	}
}

// livenessLoop pings a peer every pingInterval and closes the connection if
// no pong has arrived within pongTimeout.
func (c *Coordinator) livenessLoop(peer *PeerConnection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.RLock()
		current, ok := c.peers[peer.DeviceID]
		c.mu.RUnlock()
		if !ok || current != peer {
			return
		}
		if time.Since(peer.LastPong) > pongTimeout {
			peer.Conn.Close()
			return
		}
		if err := peer.Conn.Send(types.MsgPing, nil); err != nil {
			return
		}
	}
}

func (c *Coordinator) handleMessage(peer *PeerConnection, msgType types.MessageType, payload []byte) {
	switch msgType {
	case types.MsgPing:
		peer.Conn.Send(types.MsgPong, nil)
	case types.MsgPong:
		c.mu.Lock()
		peer.LastPong = time.Now()
		c.mu.Unlock()
	case types.MsgSyncRequest:
		c.handleSyncRequest(peer, payload)
	case types.MsgSyncResponse:
		c.handleSyncResponse(peer, payload)
	case types.MsgChangeNotify:
		c.handleChangeNotify(peer, payload)
	case types.MsgChangeAck:
		c.handleChangeAck(peer, payload)
	case types.MsgPagesSnapshot:
		c.handlePagesSnapshot(peer, payload)
	case types.MsgDisconnect:
		peer.Conn.Close()
	default:
		if c.logger != nil {
			c.logger.WithPeer(peer.DeviceID).Warn("unrecognized message type")
		}
	}
}

func (c *Coordinator) handleSyncRequest(peer *PeerConnection, payload []byte) {
	var req syncRequestMessage
	if err := unmarshalMessage(payload, &req); err != nil {
		c.reportError(err)
		return
	}
	if c.onSyncRequested != nil {
		c.onSyncRequested(peer.DeviceID, req.DocID)
	}

	changes, err := c.crdtRepo.UnsyncedChanges(req.DocID, peer.DeviceID)
	if err != nil {
		c.reportError(err)
		return
	}
	wire := make([]changeMessage, 0, len(changes))
	for _, ch := range changes {
		wire = append(wire, changeMessage{
			Row:         ch.Row,
			ActorID:     ch.ActorID,
			SeqNum:      ch.SeqNum,
			ChangeBytes: ch.ChangeBytes,
			CreatedAt:   ch.CreatedAt,
		})
	}
	resp := syncResponseMessage{DocID: req.DocID, Changes: wire}
	if err := peer.Conn.Send(types.MsgSyncResponse, marshalMessage(resp)); err != nil {
		c.reportError(err)
		return
	}
	// Rows are marked synced only once the peer's ChangeAck confirms it
	// actually persisted them, not merely that we handed them off here — a
	// dropped connection mid-send must not count as delivered.
	if c.metrics != nil {
		c.metrics.ChangesSent.Add(float64(len(changes)))
	}
}

func (c *Coordinator) handleSyncResponse(peer *PeerConnection, payload []byte) {
	var resp syncResponseMessage
	if err := unmarshalMessage(payload, &resp); err != nil {
		c.reportError(err)
		return
	}
	var applied []int64
	for _, ch := range resp.Changes {
		if c.applyReceivedChange(resp.DocID, ch) {
			applied = append(applied, ch.Row)
		}
	}
	c.ackRows(peer, resp.DocID, applied)
	if c.metrics != nil {
		c.metrics.ChangesReceived.Add(float64(len(resp.Changes)))
		if !peer.RequestSentAt.IsZero() {
			c.metrics.SyncLatency.Observe(time.Since(peer.RequestSentAt).Seconds())
		}
	}
	peer.LastSync = time.Now()
	c.setPeerState(peer.DeviceID, Streaming)
}

func (c *Coordinator) handleChangeNotify(peer *PeerConnection, payload []byte) {
	var notify changeNotifyMessage
	if err := unmarshalMessage(payload, &notify); err != nil {
		c.reportError(err)
		return
	}
	if c.applyReceivedChange(notify.DocID, notify.Change) {
		c.ackRows(peer, notify.DocID, []int64{notify.Change.Row})
	}
	if c.metrics != nil {
		c.metrics.ChangesReceived.Inc()
	}
}

// ackRows confirms to peer that every row in rows is now durably applied
// here, so peer can mark its own crdt_changes rows synced to us. A nil/empty
// rows (nothing newly applied) sends nothing.
func (c *Coordinator) ackRows(peer *PeerConnection, docID string, rows []int64) {
	if len(rows) == 0 {
		return
	}
	ack := changeAckMessage{DocID: docID, Rows: rows}
	if err := peer.Conn.Send(types.MsgChangeAck, marshalMessage(ack)); err != nil {
		c.reportError(err)
	}
}

func (c *Coordinator) handleChangeAck(peer *PeerConnection, payload []byte) {
	var ack changeAckMessage
	if err := unmarshalMessage(payload, &ack); err != nil {
		c.reportError(err)
		return
	}
	for _, row := range ack.Rows {
		if err := c.crdtRepo.MarkSynced(row, peer.DeviceID); err != nil {
			c.reportError(err)
		}
	}
}

// applyReceivedChange folds a wire change into docID's materialized
// snapshot via the resolver, then notifies callers with the change's own
// bytes regardless of how the resolver reconciled it against local state —
// the caller decided what to store, the resolver decides what to persist.
// It reports whether the change is now durably applied, so the caller can
// decide whether to ChangeAck it back to the sender.
func (c *Coordinator) applyReceivedChange(docID string, ch changeMessage) bool {
	change := types.CrdtChange{
		DocID: docID, ActorID: ch.ActorID, SeqNum: ch.SeqNum,
		ChangeBytes: ch.ChangeBytes, CreatedAt: ch.CreatedAt,
	}
	kind, err := c.resolver.ApplyChange(docID, change, time.Now().Unix())
	if err != nil {
		c.reportError(err)
		return false
	}
	if kind == merge.Conflict && c.logger != nil {
		c.logger.WithDoc(docID).Warn("concurrent edits merged with conflict markers")
	}
	if c.onChangeReceived != nil {
		c.onChangeReceived(docID, ch.ChangeBytes)
	}
	return true
}

func (c *Coordinator) reportError(err error) {
	if c.metrics != nil {
		c.metrics.ErrorCount.Inc()
	}
	if c.logger != nil {
		c.logger.WithError(err).Error("sync coordinator error")
	}
	if c.onError != nil {
		c.onError(err)
	}
}
