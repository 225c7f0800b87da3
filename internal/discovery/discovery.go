// Package discovery implements local peer discovery over UDP multicast
// (with a broadcast fallback), exchanging a small JSON datagram advertising
// a device's workspace, listen port, and public-key fingerprint.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/zincnote/zincsync/internal/logging"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// MulticastGroup and Port are the fixed discovery rendezvous point.
const (
	MulticastGroup = "239.255.77.77"
	Port           = 47777
	protocolVersion = 1
)

// datagram is the wire JSON shape for a discovery announcement.
type datagram struct {
	Type        string `json:"t"`
	Version     int    `json:"v"`
	DeviceID    string `json:"id"`
	WorkspaceID string `json:"ws"`
	Name        string `json:"name"`
	Port        int    `json:"port"`
	PublicKey   string `json:"pk"`
	Timestamp   int64  `json:"ts"`
}

const datagramType = "zinc-sync"

// ServiceInfo is the local description advertised on each announcement.
type ServiceInfo struct {
	DeviceID        string
	WorkspaceID     string
	DeviceName      string
	Port            int
	PublicKeyBase64 string
}

// Peer is a discovered remote endpoint, as decoded locally: LastSeen is
// set from our own clock on receipt, not trusted from the sender's `ts`
// field, since a sender's clock may be skewed or malicious.
type Peer struct {
	DeviceID        string
	WorkspaceID     string
	DeviceName      string
	Port            int
	PublicKeyBase64 string
	Address         net.IP
	LastSeen        time.Time
}

func encode(info ServiceInfo, nowMillis int64) ([]byte, error) {
	d := datagram{
		Type:        datagramType,
		Version:     protocolVersion,
		DeviceID:    info.DeviceID,
		WorkspaceID: info.WorkspaceID,
		Name:        info.DeviceName,
		Port:        info.Port,
		PublicKey:   info.PublicKeyBase64,
		Timestamp:   nowMillis,
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.IoError, "marshal discovery datagram", err)
	}
	return data, nil
}

func decode(data []byte, from net.IP) (*Peer, error) {
	var d datagram
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, zerrors.Wrap(zerrors.BadInput, "unmarshal discovery datagram", err)
	}
	if d.Type != datagramType {
		return nil, zerrors.New(zerrors.BadInput, "unexpected datagram type")
	}
	if d.DeviceID == "" || d.WorkspaceID == "" {
		return nil, zerrors.New(zerrors.BadInput, "missing device or workspace id")
	}
	if d.Port < 1 || d.Port > 65535 {
		return nil, zerrors.New(zerrors.BadInput, "invalid port")
	}
	return &Peer{
		DeviceID:        d.DeviceID,
		WorkspaceID:     d.WorkspaceID,
		DeviceName:      d.Name,
		Port:            d.Port,
		PublicKeyBase64: d.PublicKey,
		Address:         from,
		LastSeen:        time.Now(),
	}, nil
}

// Service advertises ServiceInfo over multicast and tracks peers announced
// by others.
type Service struct {
	info   ServiceInfo
	logger *logging.Logger
	conn   *net.UDPConn

	mu    sync.Mutex
	peers map[string]*Peer

	onPeer func(Peer)
	onLost func(deviceID string)
}

// NewService constructs a discovery service; call Start to begin listening
// and advertising.
func NewService(info ServiceInfo, logger *logging.Logger) *Service {
	return &Service{info: info, logger: logger, peers: make(map[string]*Peer)}
}

// OnPeerDiscovered registers a callback invoked (from the receive
// goroutine) whenever a new or refreshed peer announcement is decoded.
func (s *Service) OnPeerDiscovered(fn func(Peer)) { s.onPeer = fn }

// OnPeerLost registers a callback invoked when a peer's announcements stop
// arriving for longer than the liveness window (see Start's sweep loop).
func (s *Service) OnPeerLost(fn func(deviceID string)) { s.onLost = fn }

// Start joins the multicast group, spawns the receive and periodic
// announce loops, and returns once the socket is bound. It stops when ctx
// is cancelled.
func (s *Service) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", MulticastGroup, Port))
	if err != nil {
		return zerrors.Wrap(zerrors.IoError, "resolve discovery multicast address", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return zerrors.Wrap(zerrors.IoError, "join discovery multicast group", err)
	}
	conn.SetReadBuffer(1 << 16)
	s.conn = conn

	go s.receiveLoop(ctx)
	go s.announceLoop(ctx, addr)
	go s.sweepLoop(ctx)
	return nil
}

func (s *Service) receiveLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		peer, err := decode(buf[:n], from.IP)
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Debug("discarding malformed discovery datagram")
			}
			continue
		}
		if peer.DeviceID == s.info.DeviceID {
			continue
		}
		s.mu.Lock()
		s.peers[peer.DeviceID] = peer
		s.mu.Unlock()
		if s.onPeer != nil {
			s.onPeer(*peer)
		}
	}
}

func (s *Service) announceLoop(ctx context.Context, addr *net.UDPAddr) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	bcast := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}
	for {
		payload, err := encode(s.info, time.Now().UnixMilli())
		if err == nil {
			s.conn.WriteToUDP(payload, addr)
			s.conn.WriteToUDP(payload, bcast)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweepLoop evicts peers that haven't announced in 3x the announce
// interval, matching typical liveness-via-absence discovery protocols.
func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	const staleAfter = 15 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		for id, p := range s.peers {
			if time.Since(p.LastSeen) > staleAfter {
				delete(s.peers, id)
				if s.onLost != nil {
					s.onLost(id)
				}
			}
		}
		s.mu.Unlock()
	}
}

// Peers returns a snapshot of currently known peers.
func (s *Service) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	return out
}

// Stop closes the underlying socket.
func (s *Service) Stop() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
