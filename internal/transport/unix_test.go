//go:build linux || darwin

package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startUnixServer starts a server on a fresh socket path and registers
// cleanup. Socket paths are kept short to stay under the sun_path limit.
func startUnixServer(t *testing.T, handler Handler) (server *UnixServer, socketPath string) {
	t.Helper()

	socketPath = filepath.Join(t.TempDir(), "d.sock")
	server = NewUnixServer(socketPath)
	if handler != nil {
		server.SetHandler(handler)
	}

	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })
	return server, socketPath
}

func TestUnixEndToEnd(t *testing.T) {
	_, socketPath := startUnixServer(t, pingHandler)

	client := NewUnixClient(socketPath)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	resp, err := client.SendRequest(context.Background(), Request{
		Action: "ping",
		Params: map[string]interface{}{},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, true, resp.Data["pong"])
	assert.Empty(t, resp.Error)
}

func TestUnixSequentialOrdering(t *testing.T) {
	// The handler for the second request completes faster than the first;
	// responses must still come back in request order on one connection.
	handler := func(ctx context.Context, req Request) (Response, error) {
		if req.Action == "slow" {
			time.Sleep(50 * time.Millisecond)
		}
		return OK(map[string]interface{}{"action": req.Action}), nil
	}
	_, socketPath := startUnixServer(t, handler)

	client := NewUnixClient(socketPath)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	first, err := client.SendRequest(context.Background(), Request{Action: "slow"})
	require.NoError(t, err)
	second, err := client.SendRequest(context.Background(), Request{Action: "fast"})
	require.NoError(t, err)

	assert.Equal(t, "slow", first.Data["action"])
	assert.Equal(t, "fast", second.Data["action"])
}

func TestUnixServerReplacesStaleSocketFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "d.sock")

	// Simulate a leftover file from a crashed daemon.
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0644))

	server := NewUnixServer(socketPath)
	server.SetHandler(pingHandler)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSocket, "stale file must be replaced by a socket")
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "socket must be owner read/write only")
}

func TestUnixServerStopRemovesSocketFile(t *testing.T) {
	server, socketPath := startUnixServer(t, pingHandler)

	require.NoError(t, server.Stop())
	assert.False(t, server.IsRunning())

	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket file must be removed on stop")

	// Stop is idempotent.
	assert.NoError(t, server.Stop())
}

func TestUnixClientConnectMissingSocket(t *testing.T) {
	client := NewUnixClient(filepath.Join(t.TempDir(), "absent.sock"))

	err := client.Connect(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.False(t, client.IsConnected())
}

func TestUnixClientSendRequestNotConnected(t *testing.T) {
	client := NewUnixClient(filepath.Join(t.TempDir(), "d.sock"))

	_, err := client.SendRequest(context.Background(), Request{Action: "ping"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUnixClientSendRequestAfterDisconnect(t *testing.T) {
	_, socketPath := startUnixServer(t, pingHandler)

	client := NewUnixClient(socketPath)
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Disconnect())

	_, err := client.SendRequest(context.Background(), Request{Action: "ping"})
	assert.ErrorIs(t, err, ErrNotConnected)

	// Disconnect is idempotent.
	assert.NoError(t, client.Disconnect())
}

func TestUnixClientDoubleConnect(t *testing.T) {
	_, socketPath := startUnixServer(t, pingHandler)

	client := NewUnixClient(socketPath)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	assert.ErrorIs(t, client.Connect(context.Background()), ErrAlreadyConnected)
}

func TestUnixServerNoHandlerRegistered(t *testing.T) {
	_, socketPath := startUnixServer(t, nil)

	client := NewUnixClient(socketPath)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	resp, err := client.SendRequest(context.Background(), Request{Action: "anything"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "No request handler registered", resp.Error)
}

func TestUnixServerConnectionIsolation(t *testing.T) {
	// A handler panic on one connection must not affect another.
	handler := func(ctx context.Context, req Request) (Response, error) {
		if req.Action == "explode" {
			panic("bad request")
		}
		return OK(nil), nil
	}
	_, socketPath := startUnixServer(t, handler)

	victim := NewUnixClient(socketPath)
	require.NoError(t, victim.Connect(context.Background()))
	defer victim.Disconnect()

	bystander := NewUnixClient(socketPath)
	require.NoError(t, bystander.Connect(context.Background()))
	defer bystander.Disconnect()

	resp, err := victim.SendRequest(context.Background(), Request{Action: "explode"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "Request handler error")

	resp, err = bystander.SendRequest(context.Background(), Request{Action: "ok"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestUnixServerStopUnwindsIdleConnections(t *testing.T) {
	server, socketPath := startUnixServer(t, pingHandler)

	client := NewUnixClient(socketPath)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	// Stop must return even though the client holds an open, idle
	// connection whose serve loop is blocked in a read.
	done := make(chan struct{})
	go func() {
		server.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not unwind idle connection loops")
	}
}

func TestUnixServerCreatesParentDirectory(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "sub", "dir", "d.sock")

	server := NewUnixServer(socketPath)
	server.SetHandler(pingHandler)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	assert.True(t, server.IsRunning())
}
