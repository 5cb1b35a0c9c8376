package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/exobrain/taskdaemon/internal/logger"
)

const (
	healthCheckTimeout = 5 * time.Second
	requestTimeout     = 30 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// HTTPClient is the client side of the HTTP transport. Once connected, it
// reports transport failures as error Responses instead of returning errors,
// mirroring the server-side error reporting.
type HTTPClient struct {
	baseURL   string
	authToken string

	client    *http.Client
	connected atomic.Bool
}

// NewHTTPClient creates a client for the daemon HTTP server at host:port.
// authToken, when non-empty, is sent as a bearer token on every request.
func NewHTTPClient(host string, port int, authToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:   fmt.Sprintf("http://%s:%d", host, port),
		authToken: authToken,
	}
}

// Connect opens the HTTP session and verifies the daemon with a health
// check. Any non-200 response or network failure fails the connect and
// releases the session.
func (c *HTTPClient) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	client := &http.Client{Timeout: requestTimeout}

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &ConnectionError{Endpoint: c.baseURL, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		client.CloseIdleConnections()
		return &ConnectionError{Endpoint: c.baseURL, Err: err}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		client.CloseIdleConnections()
		return &ConnectionError{Endpoint: c.baseURL, Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}

	c.client = client
	c.connected.Store(true)
	return nil
}

// Disconnect releases the HTTP session. It is idempotent.
func (c *HTTPClient) Disconnect() error {
	if c.connected.Swap(false) && c.client != nil {
		c.client.CloseIdleConnections()
	}
	return nil
}

// SendRequest posts the request to /api/tasks and returns the decoded
// Response. Authentication failures and transport errors after connect are
// returned as error Responses, never as Go errors.
func (c *HTTPClient) SendRequest(ctx context.Context, req Request) (Response, error) {
	if !c.connected.Load() {
		return Response{}, ErrNotConnected
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Errorf("HTTP request failed: %v", err), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/tasks", bytes.NewReader(body))
	if err != nil {
		return Errorf("HTTP request failed: %v", err), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Errorf("HTTP request failed: %v", err), nil
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return Errorf("Authentication failed"), nil
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return Errorf("HTTP request failed: invalid response body: %v", err), nil
	}
	return resp, nil
}

// IsConnected reports whether Connect has succeeded and Disconnect has not
// been called.
func (c *HTTPClient) IsConnected() bool {
	return c.connected.Load()
}

// HTTPServer is the server side of the HTTP transport. It exposes
// GET /health and POST /api/tasks, optionally guarded by a bearer token.
type HTTPServer struct {
	handlerRegistry

	host         string
	port         int
	enableRemote bool
	authToken    string
	log          *logger.Logger

	mu      sync.Mutex
	server  *http.Server
	running bool
	baseCtx context.Context
}

// NewHTTPServer creates an HTTP server. It binds only the given host
// (default localhost) unless enableRemote is true, in which case it binds
// all interfaces.
func NewHTTPServer(host string, port int, enableRemote bool, authToken string) *HTTPServer {
	return &HTTPServer{
		host:         host,
		port:         port,
		enableRemote: enableRemote,
		authToken:    authToken,
		log:          logger.Global().WithPrefix("http-server"),
	}
}

// Start binds the listening port and begins serving. Bind errors are
// returned to the caller.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	host := s.host
	if s.enableRemote {
		host = ""
	}
	addr := fmt.Sprintf("%s:%d", host, s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.POST("/api/tasks", s.handleTasks)

	s.baseCtx = ctx
	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.running = true

	server := s.server
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.log.Error("HTTP server error: %v", serveErr)
		}
	}()

	s.log.Info("HTTP server started on %s", addr)
	return nil
}

// Stop shuts the server down, draining in-flight requests briefly. It is
// idempotent.
func (s *HTTPServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server := s.server
	s.server = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// HandleRequest dispatches one request through the registered handler.
func (s *HTTPServer) HandleRequest(ctx context.Context, req Request) Response {
	return s.dispatch(ctx, req)
}

// IsRunning reports whether the server is serving.
func (s *HTTPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Authentication is checked before the handler is ever invoked.
	if s.authToken != "" {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, Errorf("Missing authentication"))
			return
		}
		if strings.TrimPrefix(authHeader, "Bearer ") != s.authToken {
			writeJSON(w, http.StatusUnauthorized, Errorf("Invalid authentication"))
			return
		}
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Errorf("Invalid JSON"))
		return
	}

	// The outer HTTP status does not encode the inner response status.
	resp := s.dispatch(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
