// Package pairing implements the device-pairing handshake a workspace
// owner runs once to introduce a new device: a numeric code, passphrase,
// or QR code carries a verification secret, and the connection itself is
// authenticated by the transport's Noise_XX handshake. GenerateSessionToken
// and VerifySessionToken (token.go) sign and check short-lived
// pairing-session tokens keyed from that secret; Session neither issues
// nor verifies one during pairing.
package pairing

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// Method is the channel used to exchange the verification secret.
type Method int

const (
	QRCode Method = iota
	NumericCode
	Passphrase
)

func (m Method) String() string {
	switch m {
	case QRCode:
		return "qr_code"
	case NumericCode:
		return "numeric_code"
	case Passphrase:
		return "passphrase"
	default:
		return "unknown"
	}
}

// State tracks a pairing session's progress.
type State int

const (
	Idle State = iota
	WaitingForPeer
	Connecting
	Verifying
	Exchanging
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForPeer:
		return "waiting_for_peer"
	case Connecting:
		return "connecting"
	case Verifying:
		return "verifying"
	case Exchanging:
		return "exchanging"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Info describes the peer device once pairing completes (or is in
// progress), equivalent to the QR payload's contents.
type Info struct {
	DeviceID         string `json:"id"`
	WorkspaceID      string `json:"ws,omitempty"`
	DeviceName       string `json:"name"`
	PublicKeyBase64  string `json:"pk"`
	Address          string `json:"addr,omitempty"`
	Port             int    `json:"port,omitempty"`
	VerificationCode string `json:"code,omitempty"`
	Method           Method `json:"-"`
}

const qrVersion = 1

type qrPayload struct {
	Version     int    `json:"v"`
	DeviceID    string `json:"id"`
	DeviceName  string `json:"name"`
	PublicKey   string `json:"pk"`
	Address     string `json:"addr"`
	Port        int    `json:"port"`
	Code        string `json:"code"`
	WorkspaceID string `json:"ws,omitempty"`
}

// Session drives one pairing exchange end to end, mirroring the original
// PairingSession state machine with Go callbacks in place of Qt signals.
type Session struct {
	identity    *zcrypto.DHKeyPair
	workspaceID string
	deviceName  string
	listenPort  int

	method           Method
	state            State
	verificationCode string
	qrCodeData       string
	address          string
	salt             []byte
	pairedDevice     Info

	onStateChanged func(State)
	onComplete     func(Info)
	onFailed       func(string)
}

// NewSession constructs an idle pairing session for the given local
// identity.
func NewSession(identity *zcrypto.DHKeyPair) *Session {
	return &Session{identity: identity, state: Idle}
}

func (s *Session) OnStateChanged(fn func(State))  { s.onStateChanged = fn }
func (s *Session) OnComplete(fn func(Info))        { s.onComplete = fn }
func (s *Session) OnFailed(fn func(reason string)) { s.onFailed = fn }

func (s *Session) setState(state State) {
	s.state = state
	if s.onStateChanged != nil {
		s.onStateChanged(state)
	}
}

func (s *Session) fail(reason string) {
	s.setState(Failed)
	if s.onFailed != nil {
		s.onFailed(reason)
	}
}

// SetListenPort records the local listen port used in generated QR
// payloads.
func (s *Session) SetListenPort(port int) { s.listenPort = port }

// SetAddress records the dialable host:port (or bare host) the responder
// should connect to, embedded in generated QR payloads. Must be called
// before StartAsInitiator for method QRCode to produce a connectable
// payload.
func (s *Session) SetAddress(address string) { s.address = address }

// SetVerificationCode seeds the session with an already-generated code or
// passphrase, so StartAsInitiator reuses it instead of generating a new
// one. Used by callers that must derive a workspace id from the code
// before a session (and the node it runs against) can exist.
func (s *Session) SetVerificationCode(code string) { s.verificationCode = code }

// State reports the session's current state.
func (s *Session) State() State { return s.state }

// WorkspaceID returns the workspace this session is pairing into. For
// NumericCode/Passphrase initiators started with an empty workspace id,
// this is the id StartAsInitiator derived from the generated code.
func (s *Session) WorkspaceID() string { return s.workspaceID }

// VerificationCode returns the generated or submitted code/passphrase.
func (s *Session) VerificationCode() string { return s.verificationCode }

// QRCodeData returns the generated QR payload JSON, valid once
// StartAsInitiator has run with method QRCode.
func (s *Session) QRCodeData() string { return s.qrCodeData }

// PairedDevice returns the peer's info once pairing completes.
func (s *Session) PairedDevice() Info { return s.pairedDevice }

// StartAsInitiator begins pairing as the device displaying the
// code/passphrase/QR for the other device to submit.
func (s *Session) StartAsInitiator(workspaceID, deviceName string, method Method) error {
	s.workspaceID = workspaceID
	s.deviceName = deviceName
	s.method = method

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return zerrors.Wrap(zerrors.CryptoError, "generate pairing salt", err)
	}
	s.salt = salt

	switch method {
	case NumericCode:
		if s.verificationCode == "" {
			code, err := generateNumericCode()
			if err != nil {
				return err
			}
			s.verificationCode = code
		}
	case Passphrase:
		if s.verificationCode == "" {
			code, err := generatePassphrase()
			if err != nil {
				return err
			}
			s.verificationCode = code
		}
	case QRCode:
		if s.verificationCode == "" {
			code, err := generateNumericCode()
			if err != nil {
				return err
			}
			s.verificationCode = code
		}
		s.qrCodeData = s.generateQRCodeJSON()
	}

	// A code or passphrase pairing has no pre-known workspace to join: both
	// devices converge on the same workspace id by hashing the shared
	// secret, so the responder never needs to be told one out of band.
	if s.workspaceID == "" && (method == NumericCode || method == Passphrase) {
		derived, err := DeriveWorkspaceID(method, s.verificationCode)
		if err != nil {
			return err
		}
		s.workspaceID = derived
	}

	s.setState(WaitingForPeer)
	return nil
}

// DeriveWorkspaceID computes the workspace id two devices converge on when
// pairing via a numeric code or passphrase with no prior shared workspace
// knowledge: a v5 UUID over the method-prefixed secret, so both sides that
// know only the displayed code end up addressing the same workspace.
func DeriveWorkspaceID(method Method, secret string) (string, error) {
	var prefix string
	switch method {
	case NumericCode:
		prefix = "code:"
	case Passphrase:
		prefix = "pass:"
	default:
		return "", zerrors.New(zerrors.BadInput, "workspace id can only be derived for numeric code or passphrase pairing")
	}
	return uuid.NewSHA1(uuid.Nil, []byte(prefix+secret)).String(), nil
}

// StartAsResponder begins pairing as the device scanning/entering a code
// displayed elsewhere.
func (s *Session) StartAsResponder(workspaceID, deviceName string) {
	s.workspaceID = workspaceID
	s.deviceName = deviceName
	s.setState(Connecting)
}

// SubmitCode accepts a numeric code or passphrase typed by the user,
// moving into the verification phase.
func (s *Session) SubmitCode(code string) {
	s.verificationCode = code
	s.setState(Verifying)
}

// SubmitQRCodeData parses a scanned QR payload, extracting the peer's
// info and verification code.
func (s *Session) SubmitQRCodeData(data string) error {
	var payload qrPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		s.fail("malformed qr payload")
		return zerrors.Wrap(zerrors.BadInput, "parse qr payload", err)
	}
	if payload.Version != qrVersion {
		s.fail("unsupported qr payload version")
		return zerrors.New(zerrors.BadInput, "unsupported qr payload version")
	}
	s.pairedDevice = Info{
		DeviceID:         payload.DeviceID,
		WorkspaceID:      payload.WorkspaceID,
		DeviceName:       payload.DeviceName,
		PublicKeyBase64:  payload.PublicKey,
		Address:          payload.Address,
		Port:             payload.Port,
		VerificationCode: payload.Code,
	}
	s.verificationCode = payload.Code
	s.setState(Verifying)
	return nil
}

// Cancel aborts the session without reporting a failure reason.
func (s *Session) Cancel() {
	s.setState(Idle)
}

// CompleteExchange marks pairing successful with the given peer info,
// called once the caller has verified codes match and exchanged workspace
// keys over the Noise-secured pairing-bootstrap connection.
func (s *Session) CompleteExchange(peer Info) {
	s.pairedDevice = peer
	s.setState(Complete)
	if s.onComplete != nil {
		s.onComplete(peer)
	}
}

// Fail marks the session failed with a human-readable reason.
func (s *Session) Fail(reason string) { s.fail(reason) }

func (s *Session) generateQRCodeJSON() string {
	payload := qrPayload{
		Version:     qrVersion,
		DeviceID:    deviceIDFromIdentity(s.identity),
		DeviceName:  s.deviceName,
		PublicKey:   base64.StdEncoding.EncodeToString(s.identity.Public[:]),
		Address:     s.address,
		Port:        s.listenPort,
		Code:        s.verificationCode,
		WorkspaceID: s.workspaceID,
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func deviceIDFromIdentity(kp *zcrypto.DHKeyPair) string {
	return zcrypto.Fingerprint(kp.Public[:])
}

// GenerateVerificationCode produces a fresh code or passphrase for method,
// without starting a session. Used by callers that need to derive a
// workspace id from the code (via DeriveWorkspaceID) before the node a
// session runs against can be opened.
func GenerateVerificationCode(method Method) (string, error) {
	switch method {
	case NumericCode:
		return generateNumericCode()
	case Passphrase:
		return generatePassphrase()
	default:
		return "", zerrors.New(zerrors.BadInput, "verification codes only apply to numeric code or passphrase pairing")
	}
}

func generateNumericCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", zerrors.Wrap(zerrors.CryptoError, "generate numeric pairing code", err)
	}
	n := (uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])) % 1_000_000
	return fmt.Sprintf("%06d", n), nil
}

var passphraseWords = []string{
	"anchor", "basil", "cedar", "delta", "ember", "falcon", "granite", "harbor",
	"indigo", "juniper", "kernel", "lagoon", "meadow", "nectar", "opal", "pebble",
	"quartz", "ridge", "summit", "thicket", "umbra", "violet", "willow", "zephyr",
}

func generatePassphrase() (string, error) {
	words := make([]string, 4)
	for i := range words {
		idx, err := randomIndex(len(passphraseWords))
		if err != nil {
			return "", err
		}
		words[i] = passphraseWords[idx]
	}
	return words[0] + "-" + words[1] + "-" + words[2] + "-" + words[3], nil
}

func randomIndex(n int) (int, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, zerrors.Wrap(zerrors.CryptoError, "generate random index", err)
	}
	return int(b[0]) % n, nil
}
