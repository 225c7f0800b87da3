package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
)

func newTestIdentity(t *testing.T) *zcrypto.DHKeyPair {
	t.Helper()
	kp, err := zcrypto.GenerateDHKeyPair()
	require.NoError(t, err)
	return kp
}

func TestStartAsInitiatorNumericCodeGeneratesSixDigits(t *testing.T) {
	s := NewSession(newTestIdentity(t))
	require.NoError(t, s.StartAsInitiator("ws-1", "Laptop", NumericCode))
	assert.Equal(t, WaitingForPeer, s.State())
	assert.Len(t, s.VerificationCode(), 6)
}

func TestStartAsInitiatorQRCodeProducesParseableJSON(t *testing.T) {
	s := NewSession(newTestIdentity(t))
	s.SetListenPort(47890)
	require.NoError(t, s.StartAsInitiator("ws-1", "Laptop", QRCode))
	assert.NotEmpty(t, s.QRCodeData())

	responder := NewSession(newTestIdentity(t))
	responder.StartAsResponder("", "Phone")
	require.NoError(t, responder.SubmitQRCodeData(s.QRCodeData()))
	assert.Equal(t, Verifying, responder.State())
	assert.Equal(t, s.VerificationCode(), responder.VerificationCode())
}

func TestSubmitQRCodeDataRejectsMalformedPayload(t *testing.T) {
	s := NewSession(newTestIdentity(t))
	err := s.SubmitQRCodeData("not json")
	assert.Error(t, err)
	assert.Equal(t, Failed, s.State())
}

func TestCompleteExchangeInvokesCallback(t *testing.T) {
	s := NewSession(newTestIdentity(t))
	var got Info
	s.OnComplete(func(info Info) { got = info })
	peer := Info{DeviceID: "dev-2", DeviceName: "Phone"}
	s.CompleteExchange(peer)
	assert.Equal(t, Complete, s.State())
	assert.Equal(t, peer, got)
}

func TestGenerateAndVerifySessionTokenRoundTrip(t *testing.T) {
	salt := []byte("fixed-test-salt-16b")
	token, err := GenerateSessionToken("123456", salt, "device-a", "ws-1")
	require.NoError(t, err)

	claims, err := VerifySessionToken(token, "123456", salt)
	require.NoError(t, err)
	assert.Equal(t, "device-a", claims.DeviceID)
	assert.Equal(t, "ws-1", claims.WorkspaceID)
}

func TestVerifySessionTokenRejectsWrongCode(t *testing.T) {
	salt := []byte("fixed-test-salt-16b")
	token, err := GenerateSessionToken("123456", salt, "device-a", "ws-1")
	require.NoError(t, err)

	_, err = VerifySessionToken(token, "654321", salt)
	assert.Error(t, err)
}
