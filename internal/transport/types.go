package transport

import "fmt"

// Type identifies a transport backend.
type Type string

const (
	// TypeUnix is the Unix domain socket transport (Linux, macOS)
	TypeUnix Type = "unix"
	// TypePipe is the named pipe transport (Windows)
	TypePipe Type = "pipe"
	// TypeHTTP is the HTTP transport (all platforms)
	TypeHTTP Type = "http"
	// TypeAuto selects the preferred transport for the current platform
	TypeAuto Type = "auto"
)

// ParseType parses a transport type tag.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeUnix, TypePipe, TypeHTTP, TypeAuto:
		return Type(s), nil
	default:
		return "", &UnsupportedTransportError{Type: Type(s)}
	}
}

func (t Type) String() string { return string(t) }

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one command sent from a client to the daemon.
type Request struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

// Response is the daemon's answer to one Request. Exactly one of Data and
// Error is meaningful, selected by Status.
type Response struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// OK builds a success response carrying data.
func OK(data map[string]interface{}) Response {
	return Response{Status: StatusOK, Data: data}
}

// Errorf builds an error response with a formatted message.
func Errorf(format string, args ...interface{}) Response {
	return Response{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// IsError reports whether the response carries an error status.
func (r Response) IsError() bool {
	return r.Status == StatusError
}

// Config holds the recognized configuration keys for all backends. Each
// backend reads only its own fields; zero values fall back to the documented
// defaults at construction time.
type Config struct {
	// SocketPath is the Unix socket file path (unix transport)
	SocketPath string `json:"socket_path,omitempty"`
	// PipeName is the named pipe name (pipe transport)
	PipeName string `json:"pipe_name,omitempty"`
	// Host is the HTTP server host (http transport)
	Host string `json:"host,omitempty"`
	// Port is the HTTP server port (http transport)
	Port int `json:"port,omitempty"`
	// EnableRemote binds the HTTP server to all interfaces when true
	EnableRemote bool `json:"enable_remote,omitempty"`
	// AuthToken enables bearer token authentication when non-empty (http transport)
	AuthToken string `json:"auth_token,omitempty"`
}

// ConfigFromMap builds a Config from a loose key/value mapping. Unrecognized
// keys are ignored; missing keys stay zero and pick up defaults later.
func ConfigFromMap(m map[string]interface{}) Config {
	var cfg Config
	if v, ok := m["socket_path"].(string); ok {
		cfg.SocketPath = v
	}
	if v, ok := m["pipe_name"].(string); ok {
		cfg.PipeName = v
	}
	if v, ok := m["host"].(string); ok {
		cfg.Host = v
	}
	switch v := m["port"].(type) {
	case int:
		cfg.Port = v
	case float64:
		cfg.Port = int(v)
	}
	if v, ok := m["enable_remote"].(bool); ok {
		cfg.EnableRemote = v
	}
	if v, ok := m["auth_token"].(string); ok {
		cfg.AuthToken = v
	}
	return cfg
}
