// Package noise implements the Noise_XX handshake (mutual authentication,
// forward secrecy) used to secure every peer connection before any sync
// traffic is exchanged. The construction follows Noise_XX_25519_ChaChaPoly_BLAKE2b:
// X25519 Diffie-Hellman, BLAKE2b hashing, ChaCha20-Poly1305 transport AEAD.
package noise

import (
	"encoding/binary"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/zerrors"
	"golang.org/x/crypto/chacha20poly1305"
)

const protocolName = "Noise_XX_25519_ChaChaPoly_BLAKE2b"

// Role distinguishes the two handshake participants.
type Role int

const (
	Initiator Role = iota
	Responder
)

// State tracks handshake progress.
type State int

const (
	StateInitial State = iota
	StateWaitingForResponse
	StateWaitingForFinal
	StateTransport
)

// Session is a single Noise_XX handshake/transport state machine. It is not
// safe for concurrent use; callers serialize access per connection (the
// transport layer's single read/send-loop-per-connection already does
// this).
type Session struct {
	role  Role
	state State

	localStatic  *zcrypto.DHKeyPair
	localEph     *zcrypto.DHKeyPair
	remoteEph    [zcrypto.KeySize]byte
	remoteStatic [zcrypto.KeySize]byte

	chainingKey [32]byte
	hashState   []byte

	sendKey   [32]byte
	recvKey   [32]byte
	sendNonce uint64
	recvNonce uint64
}

// NewSession starts a handshake with the given role and our long-term
// identity (static) key pair.
func NewSession(role Role, localStatic *zcrypto.DHKeyPair) *Session {
	s := &Session{role: role, localStatic: localStatic, state: StateInitial}
	s.hashState = []byte(protocolName)
	h := hash(s.hashState, 32)
	copy(s.chainingKey[:], h)
	return s
}

func hash(data []byte, n int) []byte {
	return blake2bVar(data, n)
}

func (s *Session) mixHash(data []byte) {
	s.hashState = append(s.hashState, data...)
	s.hashState = hash(s.hashState, 64)
}

// mixKey ratchets the chaining key forward with newly agreed DH output,
// using HKDF (salted by the prior chaining key) rather than a single hash
// so each ratchet step is a proper key-derivation expand, not a digest.
func (s *Session) mixKey(ikm []byte) {
	h, err := zcrypto.HKDFExpand(ikm, s.chainingKey[:], []byte("zincsync noise mixkey"), 32)
	if err != nil {
		// HKDFExpand only fails if asked for an absurd output length; 32
		// bytes is always satisfiable.
		panic(err)
	}
	copy(s.chainingKey[:], h)
}

func (s *Session) splitKeys() {
	h, err := zcrypto.HKDFExpand(s.chainingKey[:], nil, []byte("zincsync noise split"), 64)
	if err != nil {
		panic(err)
	}
	if s.role == Initiator {
		copy(s.sendKey[:], h[:32])
		copy(s.recvKey[:], h[32:])
	} else {
		copy(s.recvKey[:], h[:32])
		copy(s.sendKey[:], h[32:])
	}
	s.state = StateTransport
}

func (s *Session) encryptSymmetric(plaintext []byte) ([]byte, error) {
	var key [32]byte
	copy(key[:], s.chainingKey[:])
	return zcrypto.Box(key, plaintext, nil)
}

func (s *Session) decryptSymmetric(sealed []byte) ([]byte, error) {
	var key [32]byte
	copy(key[:], s.chainingKey[:])
	return zcrypto.Open(key, sealed, nil)
}

// Message1 is "-> e".
type Message1 struct {
	Ephemeral [zcrypto.KeySize]byte
}

// Message2 is "<- e, ee, s, es".
type Message2 struct {
	Ephemeral       [zcrypto.KeySize]byte
	EncryptedStatic []byte
	EncryptedPayload []byte
}

// Message3 is "-> s, se".
type Message3 struct {
	EncryptedStatic  []byte
	EncryptedPayload []byte
}

// CreateMessage1 produces the first handshake message (initiator only).
func (s *Session) CreateMessage1() (*Message1, error) {
	if s.role != Initiator || s.state != StateInitial {
		return nil, zerrors.New(zerrors.ProtocolError, "invalid state for noise message 1")
	}
	kp, err := zcrypto.GenerateDHKeyPair()
	if err != nil {
		return nil, err
	}
	s.localEph = kp
	s.mixHash(kp.Public[:])
	s.state = StateWaitingForResponse
	return &Message1{Ephemeral: kp.Public}, nil
}

// ProcessMessage1 consumes the first message and produces the second
// (responder only). payload is an optional cleartext-at-rest application
// payload (e.g. a Hello preview) encrypted under the current chaining key.
func (s *Session) ProcessMessage1(msg *Message1, payload []byte) (*Message2, error) {
	if s.role != Responder || s.state != StateInitial {
		return nil, zerrors.New(zerrors.ProtocolError, "invalid state for processing noise message 1")
	}
	s.remoteEph = msg.Ephemeral
	s.mixHash(s.remoteEph[:])

	kp, err := zcrypto.GenerateDHKeyPair()
	if err != nil {
		return nil, err
	}
	s.localEph = kp
	s.mixHash(kp.Public[:])

	ee, err := zcrypto.SharedSecret(s.localEph.Private, s.remoteEph)
	if err != nil {
		return nil, err
	}
	s.mixKey(ee[:])

	encStatic, err := s.encryptSymmetric(s.localStatic.Public[:])
	if err != nil {
		return nil, err
	}
	s.mixHash(encStatic)

	es, err := zcrypto.SharedSecret(s.localStatic.Private, s.remoteEph)
	if err != nil {
		return nil, err
	}
	s.mixKey(es[:])

	encPayload, err := s.encryptSymmetric(payload)
	if err != nil {
		return nil, err
	}
	s.mixHash(encPayload)

	s.state = StateWaitingForFinal
	return &Message2{Ephemeral: s.localEph.Public, EncryptedStatic: encStatic, EncryptedPayload: encPayload}, nil
}

// ProcessMessage2 consumes the second message and produces the third
// (initiator only), completing key derivation on our side. It also returns
// the responder's handshake payload from message 2 (e.g. its Hello
// preview), decrypted under the chaining key established so far.
func (s *Session) ProcessMessage2(msg *Message2, payload []byte) (*Message3, []byte, error) {
	if s.role != Initiator || s.state != StateWaitingForResponse {
		return nil, nil, zerrors.New(zerrors.ProtocolError, "invalid state for processing noise message 2")
	}
	s.remoteEph = msg.Ephemeral
	s.mixHash(s.remoteEph[:])

	ee, err := zcrypto.SharedSecret(s.localEph.Private, s.remoteEph)
	if err != nil {
		return nil, nil, err
	}
	s.mixKey(ee[:])

	s.mixHash(msg.EncryptedStatic)
	remoteStatic, err := s.decryptSymmetric(msg.EncryptedStatic)
	if err != nil {
		return nil, nil, zerrors.Wrap(zerrors.CryptoError, "decrypt remote static key", err)
	}
	if len(remoteStatic) != zcrypto.KeySize {
		return nil, nil, zerrors.New(zerrors.CryptoError, "invalid remote static key size")
	}
	copy(s.remoteStatic[:], remoteStatic)

	es, err := zcrypto.SharedSecret(s.localEph.Private, s.remoteStatic)
	if err != nil {
		return nil, nil, err
	}
	s.mixKey(es[:])

	remotePayload, err := s.decryptSymmetric(msg.EncryptedPayload)
	if err != nil {
		return nil, nil, zerrors.Wrap(zerrors.CryptoError, "decrypt message 2 payload", err)
	}
	s.mixHash(msg.EncryptedPayload)

	encStatic, err := s.encryptSymmetric(s.localStatic.Public[:])
	if err != nil {
		return nil, nil, err
	}
	s.mixHash(encStatic)

	se, err := zcrypto.SharedSecret(s.localStatic.Private, s.remoteEph)
	if err != nil {
		return nil, nil, err
	}
	s.mixKey(se[:])

	encPayload, err := s.encryptSymmetric(payload)
	if err != nil {
		return nil, nil, err
	}
	s.mixHash(encPayload)

	s.splitKeys()
	return &Message3{EncryptedStatic: encStatic, EncryptedPayload: encPayload}, remotePayload, nil
}

// ProcessMessage3 consumes the final message (responder only), completing
// key derivation on our side and returning the initiator's final payload.
func (s *Session) ProcessMessage3(msg *Message3) ([]byte, error) {
	if s.role != Responder || s.state != StateWaitingForFinal {
		return nil, zerrors.New(zerrors.ProtocolError, "invalid state for processing noise message 3")
	}
	s.mixHash(msg.EncryptedStatic)
	remoteStatic, err := s.decryptSymmetric(msg.EncryptedStatic)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "decrypt remote static key", err)
	}
	if len(remoteStatic) != zcrypto.KeySize {
		return nil, zerrors.New(zerrors.CryptoError, "invalid remote static key size")
	}
	copy(s.remoteStatic[:], remoteStatic)

	se, err := zcrypto.SharedSecret(s.localEph.Private, s.remoteStatic)
	if err != nil {
		return nil, err
	}
	s.mixKey(se[:])

	s.mixHash(msg.EncryptedPayload)
	payload, err := s.decryptSymmetric(msg.EncryptedPayload)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "decrypt final payload", err)
	}

	s.splitKeys()
	return payload, nil
}

// RemoteStatic returns the authenticated peer's long-term public key. Only
// valid once the handshake reaches StateTransport.
func (s *Session) RemoteStatic() [zcrypto.KeySize]byte { return s.remoteStatic }

// StateNow reports the current handshake state.
func (s *Session) StateNow() State { return s.state }

// Encrypt seals a transport-phase message using the send key and an
// incrementing nonce counter.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if s.state != StateTransport {
		return nil, zerrors.New(zerrors.ProtocolError, "transport not ready")
	}
	aead, err := chacha20poly1305.New(s.sendKey[:])
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "init transport aead", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce, s.sendNonce)
	s.sendNonce++
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens a transport-phase message. Messages must arrive in order;
// the receive nonce is a strict counter, matching the send side.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	if s.state != StateTransport {
		return nil, zerrors.New(zerrors.ProtocolError, "transport not ready")
	}
	aead, err := chacha20poly1305.New(s.recvKey[:])
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "init transport aead", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce, s.recvNonce)
	s.recvNonce++
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "open transport message", err)
	}
	return plaintext, nil
}
