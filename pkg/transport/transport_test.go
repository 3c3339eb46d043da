package transport

import (
	"bytes"
	"encoding/binary"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellation-io/constellation/pkg/frame"
)

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	original := frame.NewRequest(http.MethodGet, "http://localhost/api/users", nil, []byte("payload"))

	require.NoError(t, WriteFrame(&buf, original))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, original.GUID, decoded.GUID)
	assert.Equal(t, original.Data, decoded.Data)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], 0xDEAD)
	header[2] = wireVersion
	binary.BigEndian.PutUint32(header[4:8], 0)

	_, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorContains(t, err, "magic")
}

func TestReadFrameRejectsBadVersion(t *testing.T) {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], magicNumber)
	header[2] = 99
	binary.BigEndian.PutUint32(header[4:8], 0)

	_, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorContains(t, err, "version")
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[0:2], magicNumber)
	header[2] = wireVersion
	binary.BigEndian.PutUint32(header[4:8], maxPayloadLen+1)

	_, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorContains(t, err, "exceeds limit")
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame.NewHeartbeat(uuid.New())))

	truncated := buf.Bytes()[:buf.Len()-4]
	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestConnSendAndReceive(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConn(client)
	defer conn.Close()
	defer server.Close()

	sent := frame.NewHeartbeat(uuid.New())
	require.NoError(t, conn.Send(sent))

	received, err := ReadFrame(server)
	require.NoError(t, err)
	assert.Equal(t, sent.GUID, received.GUID)
}

func TestConnSendAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	conn := NewConn(client)
	require.NoError(t, conn.Close())

	err := conn.Send(frame.NewHeartbeat(uuid.New()))
	assert.ErrorContains(t, err, "closed")
	assert.True(t, conn.Closed())
}

func TestConnDoubleCloseIsSafe(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	conn := NewConn(client)
	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

// TestServerHandshake drives a full admit/frame/disconnect cycle over a
// real TCP listener
func TestServerHandshake(t *testing.T) {
	type admitted struct {
		id   uuid.UUID
		conn *Conn
	}
	admittedCh := make(chan admitted, 1)
	framesCh := make(chan *frame.Frame, 8)
	disconnectedCh := make(chan uuid.UUID, 1)

	server := NewServer([]string{"127.0.0.1"}, 0, nil, Callbacks{
		OnConnected: func(id uuid.UUID, conn *Conn) {
			admittedCh <- admitted{id: id, conn: conn}
		},
		OnDisconnected: func(id uuid.UUID) {
			disconnectedCh <- id
		},
		OnFrame: func(id uuid.UUID, f *frame.Frame) {
			framesCh <- f
		},
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	client, err := NewClient("http://" + server.Addr())
	require.NoError(t, err)

	conn, err := client.Dial()
	require.NoError(t, err)

	workerID := uuid.New()
	require.NoError(t, conn.Send(frame.NewHeartbeat(workerID)))

	select {
	case a := <-admittedCh:
		assert.Equal(t, workerID, a.id)
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not admitted")
	}

	resp, err := frame.NewResponse(200, "text/plain", nil, []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, conn.Send(resp))

	select {
	case f := <-framesCh:
		assert.Equal(t, frame.KindResponse, f.Kind)
		assert.Equal(t, resp.GUID, f.GUID)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	require.NoError(t, conn.Close())

	select {
	case id := <-disconnectedCh:
		assert.Equal(t, workerID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
}

// TestServerRejectsNonHeartbeatHandshake verifies a connection opening
// with anything but a heartbeat is dropped without admission
func TestServerRejectsNonHeartbeatHandshake(t *testing.T) {
	var admitted sync.Map

	server := NewServer([]string{"127.0.0.1"}, 0, nil, Callbacks{
		OnConnected: func(id uuid.UUID, conn *Conn) {
			admitted.Store(id, true)
		},
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	nc, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer nc.Close()

	require.NoError(t, WriteFrame(nc, frame.NewRequest(http.MethodGet, "http://x/", nil, nil)))

	// The server closes the connection instead of admitting it.
	_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = nc.Read(buf)
	assert.Error(t, err)

	count := 0
	admitted.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count)
}

func TestClientRejectsBadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "bad scheme", url: "ftp://localhost:9000"},
		{name: "no host", url: "http://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.url)
			assert.Error(t, err)
		})
	}
}

func TestClientDialFailure(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = client.Dial()
	assert.Error(t, err)
}
