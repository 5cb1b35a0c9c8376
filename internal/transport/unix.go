package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/exobrain/taskdaemon/internal/logger"
)

// connState tracks the client connection lifecycle.
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// UnixClient is the client side of the Unix domain socket transport.
type UnixClient struct {
	socketPath string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	state  atomic.Int32
}

// NewUnixClient creates a client for the Unix socket at socketPath. A
// leading ~ is expanded to the user's home directory.
func NewUnixClient(socketPath string) *UnixClient {
	return &UnixClient{socketPath: expandPath(socketPath)}
}

// Connect dials the daemon socket. It fails with a ConnectionError if the
// socket file does not exist or the dial fails.
func (c *UnixClient) Connect(ctx context.Context) error {
	if connState(c.state.Load()) != stateDisconnected {
		return ErrAlreadyConnected
	}
	c.state.Store(int32(stateConnecting))

	if _, err := os.Stat(c.socketPath); err != nil {
		c.state.Store(int32(stateDisconnected))
		return &ConnectionError{Endpoint: c.socketPath, Err: fmt.Errorf("socket file not found: %w", err)}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		c.state.Store(int32(stateDisconnected))
		return &ConnectionError{Endpoint: c.socketPath, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.mu.Unlock()
	c.state.Store(int32(stateConnected))

	return nil
}

// Disconnect closes the connection. Calling it on a disconnected client is
// a no-op.
func (c *UnixClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Store(int32(stateDisconnected))
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// SendRequest writes one framed request and blocks until the full framed
// response is read. Blocking reads carry no timeout; ctx cancellation only
// applies before I/O starts.
func (c *UnixClient) SendRequest(ctx context.Context, req Request) (Response, error) {
	if !c.IsConnected() {
		return Response{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	c.mu.Lock()
	conn, reader := c.conn, c.reader
	c.mu.Unlock()
	if conn == nil {
		return Response{}, ErrNotConnected
	}

	if err := WriteFrame(conn, req); err != nil {
		return Response{}, err
	}

	var resp Response
	if err := ReadFrame(reader, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// IsConnected reports whether the client holds a live connection.
func (c *UnixClient) IsConnected() bool {
	return connState(c.state.Load()) == stateConnected
}

// UnixServer is the server side of the Unix domain socket transport. It
// owns the socket file for the duration it is running.
type UnixServer struct {
	handlerRegistry

	socketPath string
	log        *logger.Logger

	mu       sync.Mutex
	listener *net.UnixListener
	running  bool
	stopChan chan struct{}
	conns    *connTracker
	wg       sync.WaitGroup
}

// NewUnixServer creates a server that will bind the Unix socket at
// socketPath.
func NewUnixServer(socketPath string) *UnixServer {
	return &UnixServer{
		socketPath: expandPath(socketPath),
		log:        logger.Global().WithPrefix("unix-server"),
	}
}

// Start binds the socket and begins accepting connections. Any stale file
// at the socket path is removed first, the parent directory is created if
// missing, and the bound socket file is restricted to owner read/write.
func (s *UnixServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Unlink a stale socket left behind by a previous run.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on Unix socket %s: %w", s.socketPath, err)
	}

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		os.Remove(s.socketPath)
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener.(*net.UnixListener)
	s.stopChan = make(chan struct{})
	s.conns = newConnTracker()
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ctx, s.listener, s.stopChan)

	s.log.Info("Unix socket server started on %s", s.socketPath)
	return nil
}

// Stop closes the listener, waits for per-connection loops to unwind, and
// removes the socket file. It is safe to call multiple times.
func (s *UnixServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			s.log.Warn("Error closing socket listener: %v", err)
		}
	}

	s.conns.closeAll()
	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Failed to remove socket file %s: %v", s.socketPath, err)
	}

	s.log.Info("Unix socket server stopped")
	return nil
}

// HandleRequest dispatches one request through the registered handler.
func (s *UnixServer) HandleRequest(ctx context.Context, req Request) Response {
	return s.dispatch(ctx, req)
}

// IsRunning reports whether the server is accepting connections.
func (s *UnixServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *UnixServer) acceptLoop(ctx context.Context, listener *net.UnixListener, stopChan chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		default:
		}

		// Periodic deadline so the loop notices stopChan.
		listener.SetDeadline(time.Now().Add(1 * time.Second))

		conn, err := listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-stopChan:
			case <-ctx.Done():
			default:
				s.log.Error("Error accepting connection: %v", err)
			}
			return
		}

		s.conns.add(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.conns.remove(conn)
			serveFramedConn(ctx, conn, s.dispatch, s.log)
		}()
	}
}
