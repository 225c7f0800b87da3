package transport

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/types"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, types.MsgPing, []byte("hello")))

	msgType, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, types.MsgPing, msgType)
	assert.Equal(t, []byte("hello"), payload)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, ProtocolVersion, byte(types.MsgPing), 0, 0, 0, 0})
	_, _, err := ReadFrame(buf)
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	header := make([]byte, 8)
	header[0], header[1] = Magic[0], Magic[1]
	header[2] = ProtocolVersion
	header[3] = byte(types.MsgPing)
	header[4] = 0xFF
	header[5] = 0xFF
	header[6] = 0xFF
	header[7] = 0xFF
	_, _, err := ReadFrame(bytes.NewBuffer(header))
	assert.Error(t, err)
}

func TestHandshakeAndMessageExchange(t *testing.T) {
	serverKP, err := zcrypto.GenerateDHKeyPair()
	require.NoError(t, err)
	clientKP, err := zcrypto.GenerateDHKeyPair()
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()

	var (
		wg          sync.WaitGroup
		server      *Connection
		client      *Connection
		serverErr   error
		clientErr   error
		serverHello []byte
		clientHello []byte
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		server, serverHello, serverErr = AcceptAndHandshake(serverConn, serverKP, []byte("server-hello"), nil)
	}()
	go func() {
		defer wg.Done()
		client, clientHello, clientErr = DialWithConn(clientConn, clientKP, []byte("client-hello"))
	}()
	wg.Wait()

	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, []byte("client-hello"), serverHello)
	assert.Equal(t, []byte("server-hello"), clientHello)
	assert.Equal(t, clientKP.Public, server.RemoteStatic())
	assert.Equal(t, serverKP.Public, client.RemoteStatic())

	received := make(chan []byte, 1)
	server.OnMessage(func(_ *Connection, _ types.MessageType, payload []byte) {
		received <- payload
	})

	go server.Run()
	go client.Run()

	require.NoError(t, client.Send(types.MsgChangeNotify, []byte("payload-1")))

	select {
	case got := <-received:
		assert.Equal(t, []byte("payload-1"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	client.Close()
	server.Close()
}
