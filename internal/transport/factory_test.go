package transport

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPlatformTransport(t *testing.T) {
	detected := DetectPlatformTransport()

	switch runtime.GOOS {
	case "linux", "darwin":
		assert.Equal(t, TypeUnix, detected)
	case "windows":
		assert.Equal(t, TypePipe, detected)
	default:
		assert.Equal(t, TypeHTTP, detected)
	}
}

func TestResolveAutoNeverSurvives(t *testing.T) {
	assert.NotEqual(t, TypeAuto, resolve(TypeAuto))
	assert.Equal(t, TypeHTTP, resolve(TypeHTTP))
	assert.Equal(t, TypeUnix, resolve(TypeUnix))
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"unix", "pipe", "http", "auto"} {
		got, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, Type(s), got)
	}

	_, err := ParseType("carrier-pigeon")
	var unsupported *UnsupportedTransportError
	require.ErrorAs(t, err, &unsupported)
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, "~/.exobrain/task-daemon.sock", DefaultConfig(TypeUnix).SocketPath)
	assert.Equal(t, `\\.\pipe\exobrain-task-daemon`, DefaultConfig(TypePipe).PipeName)

	httpCfg := DefaultConfig(TypeHTTP)
	assert.Equal(t, "localhost", httpCfg.Host)
	assert.Equal(t, 8765, httpCfg.Port)
	assert.False(t, httpCfg.EnableRemote)
	assert.Empty(t, httpCfg.AuthToken)
}

func TestNewClientUnsupportedType(t *testing.T) {
	_, err := NewClient(Type("telnet"), nil)
	var unsupported *UnsupportedTransportError
	require.ErrorAs(t, err, &unsupported)

	_, err = NewServer(Type("telnet"), nil)
	require.ErrorAs(t, err, &unsupported)
}

func TestNewClientAppliesDefaults(t *testing.T) {
	c, err := NewClient(TypeHTTP, nil)
	require.NoError(t, err)

	httpClient, ok := c.(*HTTPClient)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8765", httpClient.baseURL)
}

func TestNewClientHonorsOverrides(t *testing.T) {
	c, err := NewClient(TypeHTTP, &Config{Host: "10.0.0.5", Port: 9999})
	require.NoError(t, err)

	httpClient := c.(*HTTPClient)
	assert.Equal(t, "http://10.0.0.5:9999", httpClient.baseURL)
}

func TestIsAvailable(t *testing.T) {
	assert.True(t, IsAvailable(TypeAuto), "auto is always available")
	assert.True(t, IsAvailable(TypeHTTP), "http is always available")

	posix := runtime.GOOS == "linux" || runtime.GOOS == "darwin"
	assert.Equal(t, posix, IsAvailable(TypeUnix))
	assert.Equal(t, runtime.GOOS == "windows", IsAvailable(TypePipe))

	assert.False(t, IsAvailable(Type("telnet")))
}

func TestPipeUnavailableOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pipe transport is supported on Windows")
	}

	_, err := NewClient(TypePipe, nil)
	var unsupported *UnsupportedTransportError
	require.ErrorAs(t, err, &unsupported)

	_, err = NewServer(TypePipe, nil)
	require.ErrorAs(t, err, &unsupported)
}
