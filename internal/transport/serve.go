package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/exobrain/taskdaemon/internal/logger"
)

// connTracker retains every accepted connection so Stop can deterministically
// close them and unwind their serve loops, even when a peer has stalled
// mid-read.
type connTracker struct {
	mu    sync.Mutex
	conns map[io.Closer]struct{}
}

func newConnTracker() *connTracker {
	return &connTracker{conns: make(map[io.Closer]struct{})}
}

func (t *connTracker) add(c io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c] = struct{}{}
}

func (t *connTracker) remove(c io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

func (t *connTracker) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.conns {
		c.Close()
	}
	t.conns = make(map[io.Closer]struct{})
}

// serveFramedConn runs the per-connection loop shared by the socket and pipe
// servers: read one framed request, dispatch it, write one framed response,
// repeat until the peer disconnects or the context is cancelled. Requests on
// one connection are processed strictly in arrival order. Failures are
// confined to this connection.
func serveFramedConn(ctx context.Context, conn io.ReadWriteCloser, dispatch func(context.Context, Request) Response, log *logger.Logger) {
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			if errors.Is(err, ErrPeerClosed) {
				log.Debug("Client disconnected")
			} else {
				log.Warn("Dropping connection: %v", err)
			}
			return
		}

		resp := dispatch(ctx, req)

		if err := WriteFrame(conn, resp); err != nil {
			log.Warn("Failed to write response: %v", err)
			return
		}
	}
}
