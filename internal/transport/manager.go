package transport

import (
	"context"
	"net"
	"sync"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/logging"
	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// Manager accepts inbound connections and tracks outbound ones, keyed by
// the peer's static public key fingerprint. It generalizes the teacher's
// flat peerID->net.Conn map into a fingerprint-keyed *Connection map with
// Noise handshakes in front of every link.
type Manager struct {
	localStatic *zcrypto.DHKeyPair
	logger      *logging.Logger
	helloPayload func() []byte

	listener net.Listener

	mu          sync.RWMutex
	connections map[string]*Connection

	onConnected    func(*Connection, []byte)
	onDisconnected func(*Connection)
}

// NewManager constructs a connection manager for the given static identity.
// helloPayload is called fresh for each handshake to produce the payload
// this side sends during the handshake (typically a Hello): in message 2
// when responding, in message 3 when initiating.
func NewManager(localStatic *zcrypto.DHKeyPair, helloPayload func() []byte, logger *logging.Logger) *Manager {
	return &Manager{
		localStatic:  localStatic,
		logger:       logger,
		helloPayload: helloPayload,
		connections:  make(map[string]*Connection),
	}
}

// OnConnected registers a callback invoked once a handshake completes,
// receiving the peer's handshake payload (its Hello, typically).
func (m *Manager) OnConnected(fn func(*Connection, []byte)) { m.onConnected = fn }

// OnDisconnected registers a callback invoked once a connection closes.
func (m *Manager) OnDisconnected(fn func(*Connection)) { m.onDisconnected = fn }

// Listen starts accepting inbound connections on the given address
// ("" binds an ephemeral port on all interfaces).
func (m *Manager) Listen(ctx context.Context, bindAddr string) (string, error) {
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", zerrors.Wrap(zerrors.IoError, "start transport listener", err)
	}
	m.listener = listener
	go m.acceptLoop(ctx)
	return listener.Addr().String(), nil
}

func (m *Manager) acceptLoop(ctx context.Context) {
	for {
		raw, err := m.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if m.logger != nil {
					m.logger.WithError(err).Warn("accept failed")
				}
				continue
			}
		}
		go m.handleInbound(raw)
	}
}

func (m *Manager) handleInbound(raw net.Conn) {
	payload := m.payload()
	conn, remotePayload, err := AcceptAndHandshake(raw, m.localStatic, payload, m.logger)
	if err != nil {
		if m.logger != nil {
			m.logger.WithError(err).Warn("inbound handshake failed")
		}
		return
	}
	m.register(conn, remotePayload)
}

func (m *Manager) payload() []byte {
	if m.helloPayload == nil {
		return nil
	}
	return m.helloPayload()
}

// Connect dials addr and completes the initiator side of the handshake.
func (m *Manager) Connect(ctx context.Context, addr string) (*Connection, error) {
	conn, remotePayload, err := DialAndHandshake(ctx, addr, m.localStatic, m.payload(), m.logger)
	if err != nil {
		return nil, err
	}
	m.register(conn, remotePayload)
	return conn, nil
}

func (m *Manager) register(conn *Connection, handshakePayload []byte) {
	fp := fingerprintOf(conn.RemoteStatic())

	m.mu.Lock()
	if existing, ok := m.connections[fp]; ok {
		// Two simultaneous dials can race to connect to the same peer;
		// keep the connection whose lower fingerprint byte sorts first so
		// both sides converge on the same winner deterministically.
		if rankWins(fp, conn, existing) {
			existing.Close()
		} else {
			m.mu.Unlock()
			conn.Close()
			return
		}
	}
	m.connections[fp] = conn
	m.mu.Unlock()

	conn.OnClose(func(c *Connection) {
		m.mu.Lock()
		if m.connections[fp] == c {
			delete(m.connections, fp)
		}
		m.mu.Unlock()
		if m.onDisconnected != nil {
			m.onDisconnected(c)
		}
	})

	if m.onConnected != nil {
		m.onConnected(conn, handshakePayload)
	}
	go conn.Run()
}

func rankWins(fp string, incoming, existing *Connection) bool {
	return fp < fingerprintOf(existing.RemoteStatic())
}

func fingerprintOf(pub [zcrypto.KeySize]byte) string {
	return zcrypto.Fingerprint(pub[:])
}

// Peer returns the active connection for a peer fingerprint, if any.
func (m *Manager) Peer(fingerprint string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[fingerprint]
	return c, ok
}

// Connected lists fingerprints of all currently connected peers.
func (m *Manager) Connected() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.connections))
	for fp := range m.connections {
		out = append(out, fp)
	}
	return out
}

// Broadcast sends a message to every connected peer, skipping any that
// fail to accept the send without blocking the caller.
func (m *Manager) Broadcast(msgType types.MessageType, payload []byte) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(msgType, payload); err != nil && m.logger != nil {
			m.logger.WithError(err).Debug("broadcast send failed")
		}
	}
}

// Close shuts down the listener and every active connection.
func (m *Manager) Close() error {
	if m.listener != nil {
		m.listener.Close()
	}
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}
