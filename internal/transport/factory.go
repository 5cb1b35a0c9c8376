package transport

import (
	"runtime"
)

// Default configuration values per backend.
const (
	DefaultSocketPath = "~/.exobrain/task-daemon.sock"
	DefaultPipeName   = `\\.\pipe\exobrain-task-daemon`
	DefaultHTTPHost   = "localhost"
	DefaultHTTPPort   = 8765
)

// DetectPlatformTransport maps the host OS to its preferred transport:
// Unix sockets on Linux and macOS, named pipes on Windows, HTTP as the
// universal fallback everywhere else.
func DetectPlatformTransport() Type {
	switch runtime.GOOS {
	case "linux", "darwin":
		return TypeUnix
	case "windows":
		return TypePipe
	default:
		return TypeHTTP
	}
}

// resolve replaces TypeAuto with the detected concrete type. A concrete tag
// is returned unchanged; auto never reaches a live transport instance.
func resolve(t Type) Type {
	if t == TypeAuto {
		return DetectPlatformTransport()
	}
	return t
}

// NewClient constructs a client for the given transport type, resolving
// TypeAuto via platform detection. cfg may be nil for all defaults.
func NewClient(t Type, cfg *Config) (Client, error) {
	resolved := resolve(t)
	c := withDefaults(cfg, resolved)

	switch resolved {
	case TypeUnix:
		return NewUnixClient(c.SocketPath), nil
	case TypePipe:
		return newPipeClient(c.PipeName)
	case TypeHTTP:
		return NewHTTPClient(c.Host, c.Port, c.AuthToken), nil
	default:
		return nil, &UnsupportedTransportError{Type: t}
	}
}

// NewServer constructs a server for the given transport type, resolving
// TypeAuto via platform detection. cfg may be nil for all defaults.
func NewServer(t Type, cfg *Config) (Server, error) {
	resolved := resolve(t)
	c := withDefaults(cfg, resolved)

	switch resolved {
	case TypeUnix:
		return NewUnixServer(c.SocketPath), nil
	case TypePipe:
		return newPipeServer(c.PipeName)
	case TypeHTTP:
		return NewHTTPServer(c.Host, c.Port, c.EnableRemote, c.AuthToken), nil
	default:
		return nil, &UnsupportedTransportError{Type: t}
	}
}

// DefaultConfig returns the documented default configuration for a
// (possibly auto-resolved) transport type.
func DefaultConfig(t Type) Config {
	switch resolve(t) {
	case TypeUnix:
		return Config{SocketPath: DefaultSocketPath}
	case TypePipe:
		return Config{PipeName: DefaultPipeName}
	case TypeHTTP:
		return Config{Host: DefaultHTTPHost, Port: DefaultHTTPPort}
	default:
		return Config{}
	}
}

// withDefaults fills the zero fields of cfg relevant to the resolved type.
func withDefaults(cfg *Config, t Type) Config {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	switch t {
	case TypeUnix:
		if c.SocketPath == "" {
			c.SocketPath = DefaultSocketPath
		}
	case TypePipe:
		if c.PipeName == "" {
			c.PipeName = DefaultPipeName
		}
	case TypeHTTP:
		if c.Host == "" {
			c.Host = DefaultHTTPHost
		}
		if c.Port == 0 {
			c.Port = DefaultHTTPPort
		}
	}
	return c
}

// IsAvailable reports whether a transport type can run on the current
// platform, without constructing anything. Unix sockets require a
// POSIX-like host, named pipes require Windows, HTTP is always available,
// and auto always resolves to something.
func IsAvailable(t Type) bool {
	switch t {
	case TypeAuto:
		return true
	case TypeUnix:
		return runtime.GOOS == "linux" || runtime.GOOS == "darwin"
	case TypePipe:
		return runtime.GOOS == "windows" && pipeAvailable
	case TypeHTTP:
		return true
	default:
		return false
	}
}
