package transport

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/logging"
	"github.com/zincnote/zincsync/internal/noise"
	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// handshakeFrameType carries raw (pre-transport) Noise handshake messages;
// it is never delivered to a Connection's message handler.
const handshakeFrameType types.MessageType = 0

// MessageHandler processes a single decrypted application message.
type MessageHandler func(conn *Connection, msgType types.MessageType, payload []byte)

// Connection is one secured peer link: a Noise_XX session layered over a
// net.Conn, with a dedicated send goroutine so writers never block on each
// other and a receive loop that calls the message handler inline, so the
// next frame is read only after the handler returns.
type Connection struct {
	conn   net.Conn
	noise  *noise.Session
	logger *logging.Logger

	remoteStatic [zcrypto.KeySize]byte

	sendCh  chan frameToSend
	closeCh chan struct{}
	closeOnce sync.Once

	onMessage MessageHandler
	onClose   func(*Connection)
}

type frameToSend struct {
	msgType types.MessageType
	payload []byte
}

// DialAndHandshake opens a TCP connection to addr and runs the Noise_XX
// handshake as the initiator side.
func DialAndHandshake(ctx context.Context, addr string, localStatic *zcrypto.DHKeyPair, helloPayload []byte, logger *logging.Logger) (*Connection, []byte, error) {
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, zerrors.Wrap(zerrors.IoError, "dial peer", err)
	}
	return initiatorHandshake(raw, localStatic, helloPayload, logger)
}

// DialWithConn runs the initiator side of the handshake over an
// already-established connection (used directly in tests against
// net.Pipe, and by callers that manage dialing themselves).
func DialWithConn(raw net.Conn, localStatic *zcrypto.DHKeyPair, helloPayload []byte) (*Connection, []byte, error) {
	return initiatorHandshake(raw, localStatic, helloPayload, nil)
}

func initiatorHandshake(raw net.Conn, localStatic *zcrypto.DHKeyPair, helloPayload []byte, logger *logging.Logger) (*Connection, []byte, error) {
	session := noise.NewSession(noise.Initiator, localStatic)
	msg1, err := session.CreateMessage1()
	if err != nil {
		raw.Close()
		return nil, nil, err
	}
	if err := writeHandshakeFrame(raw, msg1); err != nil {
		raw.Close()
		return nil, nil, err
	}

	var msg2 noise.Message2
	if err := readHandshakeFrame(raw, &msg2); err != nil {
		raw.Close()
		return nil, nil, err
	}
	msg3, remotePayload, err := session.ProcessMessage2(&msg2, helloPayload)
	if err != nil {
		raw.Close()
		return nil, nil, err
	}
	if err := writeHandshakeFrame(raw, msg3); err != nil {
		raw.Close()
		return nil, nil, err
	}

	return newConnection(raw, session, logger), remotePayload, nil
}

// AcceptAndHandshake runs the Noise_XX handshake as the responder side over
// an already-accepted net.Conn. responderPayload is carried in message 2 and
// remotePayload returns the initiator's final (message 3) payload.
func AcceptAndHandshake(raw net.Conn, localStatic *zcrypto.DHKeyPair, responderPayload []byte, logger *logging.Logger) (*Connection, []byte, error) {
	session := noise.NewSession(noise.Responder, localStatic)

	var msg1 noise.Message1
	if err := readHandshakeFrame(raw, &msg1); err != nil {
		raw.Close()
		return nil, nil, err
	}
	msg2, err := session.ProcessMessage1(&msg1, responderPayload)
	if err != nil {
		raw.Close()
		return nil, nil, err
	}
	if err := writeHandshakeFrame(raw, msg2); err != nil {
		raw.Close()
		return nil, nil, err
	}

	var msg3 noise.Message3
	if err := readHandshakeFrame(raw, &msg3); err != nil {
		raw.Close()
		return nil, nil, err
	}
	remotePayload, err := session.ProcessMessage3(&msg3)
	if err != nil {
		raw.Close()
		return nil, nil, err
	}

	return newConnection(raw, session, logger), remotePayload, nil
}

func writeHandshakeFrame(w net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return zerrors.Wrap(zerrors.ProtocolError, "marshal handshake frame", err)
	}
	return WriteFrame(w, handshakeFrameType, data)
}

func readHandshakeFrame(r net.Conn, v any) error {
	msgType, payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if msgType != handshakeFrameType {
		return zerrors.New(zerrors.ProtocolError, "expected handshake frame")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return zerrors.Wrap(zerrors.ProtocolError, "unmarshal handshake frame", err)
	}
	return nil
}

func newConnection(raw net.Conn, session *noise.Session, logger *logging.Logger) *Connection {
	c := &Connection{
		conn:         raw,
		noise:        session,
		logger:       logger,
		remoteStatic: session.RemoteStatic(),
		sendCh:       make(chan frameToSend, 64),
		closeCh:      make(chan struct{}),
	}
	return c
}

// RemoteStatic returns the authenticated peer's long-term public key.
func (c *Connection) RemoteStatic() [zcrypto.KeySize]byte { return c.remoteStatic }

// RemoteAddr returns the underlying network address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// OnMessage registers the handler invoked for each decrypted message.
func (c *Connection) OnMessage(fn MessageHandler) { c.onMessage = fn }

// OnClose registers a callback invoked once the connection's loops exit.
func (c *Connection) OnClose(fn func(*Connection)) { c.onClose = fn }

// Run starts the send and receive loops; it blocks until the connection
// closes, either from an error or from Close being called.
func (c *Connection) Run() {
	go c.sendLoop()
	c.receiveLoop()
}

// Send queues an application message for the send loop. It never blocks
// the caller on network I/O.
func (c *Connection) Send(msgType types.MessageType, payload []byte) error {
	select {
	case c.sendCh <- frameToSend{msgType: msgType, payload: payload}:
		return nil
	case <-c.closeCh:
		return zerrors.New(zerrors.IoError, "connection closed")
	}
}

func (c *Connection) sendLoop() {
	for {
		select {
		case f := <-c.sendCh:
			sealed, err := c.noise.Encrypt(f.payload)
			if err != nil {
				if c.logger != nil {
					c.logger.WithError(err).Error("encrypt outgoing frame")
				}
				c.Close()
				return
			}
			if err := WriteFrame(c.conn, f.msgType, sealed); err != nil {
				c.Close()
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) receiveLoop() {
	defer c.Close()
	for {
		msgType, sealed, err := ReadFrame(c.conn)
		if err != nil {
			return
		}
		plaintext, err := c.noise.Decrypt(sealed)
		if err != nil {
			if c.logger != nil {
				c.logger.WithError(err).Warn("dropping frame that failed to decrypt")
			}
			return
		}
		if c.onMessage != nil {
			c.onMessage(c, msgType, plaintext)
		}
	}
}

// Close shuts down the connection exactly once, closing the underlying
// socket and notifying OnClose.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}
