// Package transport implements the client/server transport abstraction for
// communicating with the task daemon. Three backends share one
// request/response contract: Unix domain sockets (Linux, macOS), named pipes
// (Windows), and HTTP as a universal fallback. The socket and pipe backends
// speak an identical length-prefixed JSON framing; the HTTP backend carries
// the same Request/Response payloads over its own endpoints.
package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Client is the client side of a transport. A Client owns at most one
// connection and supports one in-flight request at a time; callers issuing
// concurrent SendRequest calls must serialize them.
type Client interface {
	// Connect establishes the underlying channel. Connecting an
	// already-connected client returns ErrAlreadyConnected.
	Connect(ctx context.Context) error
	// Disconnect releases the channel. It is idempotent.
	Disconnect() error
	// SendRequest sends one request and blocks until the full response is
	// read. It must only be called while connected.
	SendRequest(ctx context.Context, req Request) (Response, error)
	// IsConnected reports the current connection state without side effects.
	IsConnected() bool
}

// Handler turns a decoded Request into a Response. It is supplied by the
// daemon's business logic and invoked once per request by the server.
type Handler func(ctx context.Context, req Request) (Response, error)

// Server is the server side of a transport. All backends dispatch decoded
// requests through HandleRequest, which delegates to the registered Handler.
type Server interface {
	// Start begins listening. Bind and permission errors are fatal and
	// returned to the caller.
	Start(ctx context.Context) error
	// Stop releases all resources, including per-connection loops. It is
	// idempotent.
	Stop() error
	// SetHandler registers the request handler callback.
	SetHandler(h Handler)
	// HandleRequest dispatches one request to the registered handler. A
	// missing handler or a failing handler produces an error Response; it
	// never panics or returns a transport-level error.
	HandleRequest(ctx context.Context, req Request) Response
	// IsRunning reports whether the server is accepting connections.
	IsRunning() bool
}

// handlerRegistry holds the pluggable request handler and implements the
// dispatch behavior shared by all three server backends.
type handlerRegistry struct {
	mu      sync.RWMutex
	handler Handler
}

func (hr *handlerRegistry) SetHandler(h Handler) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.handler = h
}

// dispatch invokes the registered handler, converting missing handlers,
// handler errors and handler panics into error Responses so a single failing
// request never takes down the server or its other connections.
func (hr *handlerRegistry) dispatch(ctx context.Context, req Request) (resp Response) {
	hr.mu.RLock()
	handler := hr.handler
	hr.mu.RUnlock()

	if handler == nil {
		return Errorf("No request handler registered")
	}

	defer func() {
		if r := recover(); r != nil {
			resp = Errorf("Request handler error: %v", r)
		}
	}()

	result, err := handler(ctx, req)
	if err != nil {
		return Errorf("Request handler error: %v", err)
	}
	return result
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// RunSession connects the client, runs fn, and guarantees Disconnect on
// every exit path, including a panicking fn.
func RunSession(ctx context.Context, c Client, fn func(Client) error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	if err := fn(c); err != nil {
		return fmt.Errorf("transport session: %w", err)
	}
	return nil
}
