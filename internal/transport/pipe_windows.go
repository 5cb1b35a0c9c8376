//go:build windows

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Microsoft/go-winio"

	"github.com/exobrain/taskdaemon/internal/logger"
)

const pipeAvailable = true

// pipeBufferSize matches the duplex buffer sizes of the daemon's reference
// pipe configuration.
const pipeBufferSize = 65536

// PipeClient is the client side of the Windows named pipe transport. It
// speaks the same length-prefixed framing as the Unix socket backend.
type PipeClient struct {
	pipeName string

	mu    sync.Mutex
	conn  net.Conn
	state atomic.Int32
}

// NewPipeClient creates a client for the named pipe at pipeName
// (e.g. `\\.\pipe\exobrain-task-daemon`).
func NewPipeClient(pipeName string) *PipeClient {
	return &PipeClient{pipeName: pipeName}
}

// Connect opens the pipe for duplex read/write. It fails with a
// ConnectionError if the pipe does not exist or cannot be opened.
func (c *PipeClient) Connect(ctx context.Context) error {
	if connState(c.state.Load()) != stateDisconnected {
		return ErrAlreadyConnected
	}
	c.state.Store(int32(stateConnecting))

	conn, err := winio.DialPipeContext(ctx, c.pipeName)
	if err != nil {
		c.state.Store(int32(stateDisconnected))
		return &ConnectionError{Endpoint: c.pipeName, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.state.Store(int32(stateConnected))

	return nil
}

// Disconnect closes the pipe handle. It is idempotent.
func (c *PipeClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Store(int32(stateDisconnected))
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendRequest writes one framed request over the pipe and blocks until the
// full framed response is read.
func (c *PipeClient) SendRequest(ctx context.Context, req Request) (Response, error) {
	if !c.IsConnected() {
		return Response{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return Response{}, ErrNotConnected
	}

	if err := WriteFrame(conn, req); err != nil {
		return Response{}, err
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// IsConnected reports whether the client holds a live pipe handle.
func (c *PipeClient) IsConnected() bool {
	return connState(c.state.Load()) == stateConnected
}

// PipeServer is the server side of the Windows named pipe transport. The
// winio listener hands each connected pipe instance to its own serve loop
// and immediately accepts the next instance.
type PipeServer struct {
	handlerRegistry

	pipeName string
	log      *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	stopChan chan struct{}
	conns    *connTracker
	wg       sync.WaitGroup
}

// NewPipeServer creates a server that will listen on the named pipe at
// pipeName.
func NewPipeServer(pipeName string) *PipeServer {
	return &PipeServer{
		pipeName: pipeName,
		log:      logger.Global().WithPrefix("pipe-server"),
	}
}

// Start creates the duplex message-mode pipe and begins accepting clients.
func (s *PipeServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	listener, err := winio.ListenPipe(s.pipeName, &winio.PipeConfig{
		MessageMode:      true,
		InputBufferSize:  pipeBufferSize,
		OutputBufferSize: pipeBufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to listen on pipe %s: %w", s.pipeName, err)
	}

	s.listener = listener
	s.stopChan = make(chan struct{})
	s.conns = newConnTracker()
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener, s.stopChan)

	s.log.Info("Named pipe server started on %s", s.pipeName)
	return nil
}

// Stop cancels the accept loop and unwinds outstanding per-client loops.
// It is safe to call multiple times.
func (s *PipeServer) Stop() error {
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
			s.log.Warn("Error closing pipe listener: %v", err)
		}
	}

	s.conns.closeAll()
	s.wg.Wait()

	s.log.Info("Named pipe server stopped")
	return nil
}

// HandleRequest dispatches one request through the registered handler.
func (s *PipeServer) HandleRequest(ctx context.Context, req Request) Response {
	return s.dispatch(ctx, req)
}

// IsRunning reports whether the server is accepting connections.
func (s *PipeServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *PipeServer) acceptLoop(ctx context.Context, listener net.Listener, stopChan chan struct{}) {
	defer s.wg.Done()

	for {
		// The winio listener has no accept deadline; closing it unblocks
		// Accept with ErrPipeListenerClosed.
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, winio.ErrPipeListenerClosed) {
				return
			}
			select {
			case <-stopChan:
				return
			case <-ctx.Done():
				return
			default:
				s.log.Error("Error accepting pipe connection: %v", err)
				continue
			}
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

func newPipeClient(pipeName string) (Client, error) {
	return NewPipeClient(pipeName), nil
}

func newPipeServer(pipeName string) (Server, error) {
	return NewPipeServer(pipeName), nil
}
