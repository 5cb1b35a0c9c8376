package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pingHandler is the canonical test handler shared across backend tests.
func pingHandler(ctx context.Context, req Request) (Response, error) {
	return OK(map[string]interface{}{"pong": true}), nil
}

func TestDispatchNoHandler(t *testing.T) {
	var hr handlerRegistry

	resp := hr.dispatch(context.Background(), Request{Action: "ping"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "No request handler registered", resp.Error)
}

func TestDispatchHandlerError(t *testing.T) {
	var hr handlerRegistry
	hr.SetHandler(func(ctx context.Context, req Request) (Response, error) {
		return Response{}, fmt.Errorf("boom")
	})

	resp := hr.dispatch(context.Background(), Request{Action: "ping"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "Request handler error: boom", resp.Error)
}

func TestDispatchHandlerPanic(t *testing.T) {
	var hr handlerRegistry
	hr.SetHandler(func(ctx context.Context, req Request) (Response, error) {
		panic("unexpected state")
	})

	resp := hr.dispatch(context.Background(), Request{Action: "ping"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "Request handler error: unexpected state")
}

func TestDispatchSuccess(t *testing.T) {
	var hr handlerRegistry
	hr.SetHandler(func(ctx context.Context, req Request) (Response, error) {
		return OK(map[string]interface{}{"echo": req.Action}), nil
	})

	resp := hr.dispatch(context.Background(), Request{Action: "ping"})
	require.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "ping", resp.Data["echo"])
}

// fakeClient records lifecycle calls for RunSession tests.
type fakeClient struct {
	connectErr    error
	connected     bool
	disconnected  bool
	sendResponses Response
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() error {
	f.disconnected = true
	f.connected = false
	return nil
}

func (f *fakeClient) SendRequest(ctx context.Context, req Request) (Response, error) {
	if !f.connected {
		return Response{}, ErrNotConnected
	}
	return f.sendResponses, nil
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func TestRunSessionDisconnectsOnSuccess(t *testing.T) {
	c := &fakeClient{}
	err := RunSession(context.Background(), c, func(Client) error { return nil })
	require.NoError(t, err)
	assert.True(t, c.disconnected)
}

func TestRunSessionDisconnectsOnError(t *testing.T) {
	c := &fakeClient{}
	err := RunSession(context.Background(), c, func(Client) error {
		return fmt.Errorf("request failed")
	})
	require.Error(t, err)
	assert.True(t, c.disconnected)
}

func TestRunSessionDisconnectsOnPanic(t *testing.T) {
	c := &fakeClient{}
	assert.Panics(t, func() {
		RunSession(context.Background(), c, func(Client) error { //nolint:errcheck
			panic("handler blew up")
		})
	})
	assert.True(t, c.disconnected)
}

func TestRunSessionConnectFailure(t *testing.T) {
	connErr := &ConnectionError{Endpoint: "/tmp/missing.sock", Err: errors.New("no such file")}
	c := &fakeClient{connectErr: connErr}

	err := RunSession(context.Background(), c, func(Client) error { return nil })
	require.Error(t, err)

	var ce *ConnectionError
	assert.ErrorAs(t, err, &ce)
	assert.False(t, c.disconnected, "disconnect must not run when connect failed")
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]interface{}{
		"socket_path":   "/tmp/d.sock",
		"port":          float64(9000), // JSON numbers decode as float64
		"enable_remote": true,
		"auth_token":    "secret",
		"bogus_key":     "ignored",
	})

	assert.Equal(t, "/tmp/d.sock", cfg.SocketPath)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.EnableRemote)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Empty(t, cfg.PipeName)
}
