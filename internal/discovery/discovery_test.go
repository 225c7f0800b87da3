package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	info := ServiceInfo{
		DeviceID:        "dev-1",
		WorkspaceID:     "ws-1",
		DeviceName:      "Laptop",
		Port:            47890,
		PublicKeyBase64: "YmFzZTY0a2V5",
	}
	data, err := encode(info, 1700000000000)
	require.NoError(t, err)

	peer, err := decode(data, net.ParseIP("192.168.1.5"))
	require.NoError(t, err)
	assert.Equal(t, info.DeviceID, peer.DeviceID)
	assert.Equal(t, info.WorkspaceID, peer.WorkspaceID)
	assert.Equal(t, info.DeviceName, peer.DeviceName)
	assert.Equal(t, info.Port, peer.Port)
	assert.Equal(t, info.PublicKeyBase64, peer.PublicKeyBase64)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	_, err := decode([]byte(`{"t":"not-zinc","v":1,"id":"a","ws":"b","port":1}`), net.ParseIP("127.0.0.1"))
	assert.Error(t, err)
}

func TestDecodeRejectsInvalidPort(t *testing.T) {
	_, err := decode([]byte(`{"t":"zinc-sync","v":1,"id":"a","ws":"b","port":70000}`), net.ParseIP("127.0.0.1"))
	assert.Error(t, err)
}

func TestDecodeRejectsMissingIdentifiers(t *testing.T) {
	_, err := decode([]byte(`{"t":"zinc-sync","v":1,"port":123}`), net.ParseIP("127.0.0.1"))
	assert.Error(t, err)
}

func TestDecodeIgnoresSenderSuppliedTimestamp(t *testing.T) {
	data := []byte(`{"t":"zinc-sync","v":1,"id":"a","ws":"b","port":123,"ts":1}`)
	peer, err := decode(data, net.ParseIP("127.0.0.1"))
	require.NoError(t, err)
	assert.False(t, peer.LastSeen.IsZero())
	assert.True(t, peer.LastSeen.Unix() > 1)
}
