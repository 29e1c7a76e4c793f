// Package websocket hosts the subscriber-facing WebSocket server.
package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/agentroom/component"
	"github.com/c360/agentroom/connections"
	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/output/broadcast"
)

const (
	defaultPort         = 8081
	defaultPath         = "/ws"
	writeTimeout        = 10 * time.Second
	pongWait            = 60 * time.Second
	pingInterval        = 30 * time.Second
	maxClientFrameBytes = 4096
)

// ConstructorConfig holds everything needed to construct a Server.
type ConstructorConfig struct {
	Name            string
	Port            int
	Path            string
	Registry        connections.Registry
	MetricsRegistry *metric.MetricsRegistry
}

// DefaultConstructorConfig returns server defaults.
func DefaultConstructorConfig() ConstructorConfig {
	return ConstructorConfig{
		Port: defaultPort,
		Path: defaultPath,
	}
}

// ackFrame is the first frame a subscriber receives after the upgrade.
type ackFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

// client is the server-local state for one subscriber connection. The
// registry holds the durable record; this holds the live socket.
type client struct {
	id          string
	userID      string
	conn        *gorilla.Conn
	connectedAt time.Time
	writeMu     sync.Mutex // gorilla connections do not allow concurrent writes
	closed      atomic.Bool
	closeOnce   sync.Once
}

// Server hosts the /ws endpoint, maintains the local socket table, and
// implements broadcast.Sender for frame delivery.
type Server struct {
	name     string
	port     int
	path     string
	registry connections.Registry

	server    *http.Server
	upgrader  gorilla.Upgrader
	clients   map[string]*client
	clientsMu sync.RWMutex

	shutdown chan struct{}
	running  bool
	started  time.Time
	mu       sync.RWMutex
	wg       *sync.WaitGroup

	framesSent atomic.Int64
	bytesSent  atomic.Int64
	sendErrors atomic.Int64
	lastSend   atomic.Int64 // unix millis

	metrics *Metrics
}

var _ component.LifecycleComponent = (*Server)(nil)
var _ broadcast.Sender = (*Server)(nil)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	clientsConnected prometheus.Gauge
	connectionsTotal prometheus.Counter
	disconnectsTotal *prometheus.CounterVec
	framesSentTotal  prometheus.Counter
	bytesSentTotal   prometheus.Counter
	sendErrorsTotal  *prometheus.CounterVec
	frameSizeBytes   prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentroom",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected subscribers",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentroom",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total subscriber connections accepted",
		}),
		disconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentroom",
			Subsystem: "websocket",
			Name:      "client_disconnects_total",
			Help:      "Total subscriber disconnections",
		}, []string{"reason"}),
		framesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentroom",
			Subsystem: "websocket",
			Name:      "frames_sent_total",
			Help:      "Total event frames sent to subscribers",
		}),
		bytesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentroom",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to subscribers",
		}),
		sendErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentroom",
			Subsystem: "websocket",
			Name:      "send_errors_total",
			Help:      "Frame send failures by kind",
		}, []string{"kind"}),
		frameSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentroom",
			Subsystem: "websocket",
			Name:      "frame_size_bytes",
			Help:      "Size distribution of outgoing frames",
			Buckets:   []float64{100, 500, 1000, 2000, 5000, 10000, 25000},
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.clientsConnected,
		m.connectionsTotal,
		m.disconnectsTotal,
		m.framesSentTotal,
		m.bytesSentTotal,
		m.sendErrorsTotal,
		m.frameSizeBytes,
	)
	return m
}

// NewServer creates a WebSocket server bound to a connection registry.
func NewServer(cfg ConstructorConfig) *Server {
	return &Server{
		name:     cfg.Name,
		port:     cfg.Port,
		path:     cfg.Path,
		registry: cfg.Registry,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The room feed carries no credentials, so any origin is
			// accepted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		started: time.Now(),
		metrics: newMetrics(cfg.MetricsRegistry),
	}
}

// Meta returns the component metadata.
func (s *Server) Meta() component.Metadata {
	name := s.name
	if name == "" {
		name = fmt.Sprintf("websocket-server-%d", s.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket subscriber endpoint at %s on port %d", s.path, s.port),
		Version:     "1.0.0",
	}
}

// Health reports whether the server is accepting connections.
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	running := s.running && s.server != nil
	s.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(s.sendErrors.Load()),
		Uptime:     time.Since(s.started),
	}
}

// DataFlow reports frame throughput since start.
func (s *Server) DataFlow() component.FlowMetrics {
	frames := s.framesSent.Load()
	bytes := s.bytesSent.Load()
	errCount := s.sendErrors.Load()

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(s.started).Seconds(); uptime > 0 {
		perSecond = float64(frames) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if frames > 0 {
		errorRate = float64(errCount) / float64(frames)
	}

	var lastActivity time.Time
	if ms := s.lastSend.Load(); ms > 0 {
		lastActivity = time.UnixMilli(ms)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration.
func (s *Server) Initialize() error {
	if s.port < 0 || s.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			fmt.Sprintf("invalid port %d", s.port))
	}
	if s.path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			"endpoint path cannot be empty")
	}
	if s.registry == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			"connection registry is required")
	}
	return nil
}

// Start binds the listener and begins serving upgrades.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already cancelled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Bind synchronously so a port conflict fails Start instead of
	// surfacing later from the serve goroutine.
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.server = nil
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("bind port %d", s.port))
	}
	// Recover the actual port when configured with 0.
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = addr.Port
	}

	s.shutdown = make(chan struct{})
	s.wg = &sync.WaitGroup{}
	s.running = true
	s.started = time.Now()

	wg := s.wg
	server := s.server
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.serve(server, listener)
	}()
	go func() {
		defer wg.Done()
		s.pingLoop()
	}()

	return nil
}

// Stop shuts the listener down and closes every subscriber socket.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	server := s.server
	wg := s.wg
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "http server shutdown")
	}

	s.closeAllClients()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Server", "Stop",
			"connection goroutines did not exit within timeout")
	}

	s.mu.Lock()
	s.server = nil
	s.wg = nil
	s.mu.Unlock()
	return nil
}

// Port returns the bound port. Useful when started with port 0.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// ClientCount returns the number of live local sockets.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) serve(server *http.Server, listener net.Listener) {
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		s.sendErrors.Add(1)
	}
}

// handleUpgrade accepts one subscriber: upgrade, register, ack, then a
// push-only read loop until the peer goes away.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.metrics != nil {
			s.metrics.sendErrorsTotal.WithLabelValues("upgrade").Inc()
		}
		return
	}

	c := &client{
		id:          uuid.NewString(),
		userID:      r.URL.Query().Get("userId"),
		conn:        conn,
		connectedAt: time.Now(),
	}

	reg, err := s.registry.Register(r.Context(), c.id, c.userID)
	if err != nil {
		// No registry record means broadcasts will never reach this
		// socket; refuse the connection rather than leave it silent.
		_ = conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseInternalServerErr, "registry unavailable"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		if s.metrics != nil {
			s.metrics.sendErrorsTotal.WithLabelValues("register").Inc()
		}
		return
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}

	ack := ackFrame{
		Type:         "connection_ack",
		ConnectionID: c.id,
		Timestamp:    reg.ConnectedAt,
	}
	if data, err := json.Marshal(ack); err == nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(gorilla.TextMessage, data)
		c.writeMu.Unlock()
	}

	s.mu.RLock()
	wg := s.wg
	s.mu.RUnlock()
	if wg == nil {
		s.dropClient(c, "shutdown")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(c)
	}()
}

// readLoop drains the socket. Subscribers never send data frames; the
// loop exists so close frames and pongs are processed and so a dead
// peer is detected.
func (s *Server) readLoop(c *client) {
	defer s.dropClient(c, "read_closed")

	c.conn.SetReadLimit(maxClientFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// Data frames from subscribers are ignored.
	}
}

// dropClient tears one subscriber down: local table, registry record,
// socket. Idempotent, safe against an in-flight broadcast.
func (s *Server) dropClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		s.clientsMu.Lock()
		delete(s.clients, c.id)
		count := len(s.clients)
		s.clientsMu.Unlock()

		if s.metrics != nil {
			s.metrics.disconnectsTotal.WithLabelValues(reason).Inc()
			s.metrics.clientsConnected.Set(float64(count))
		}

		_ = c.conn.Close()

		// Best effort: a failed unregister leaves the record for the
		// bucket TTL and the broadcaster's gone-pruning.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.registry.Unregister(ctx, c.id)
	})
}

func (s *Server) closeAllClients() {
	s.clientsMu.RLock()
	snapshot := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range snapshot {
		s.dropClient(c, "server_shutdown")
	}
}

// Send delivers one frame to one registered connection. A connection ID
// with no local socket is reported gone: the registry record outlived
// its socket, typically after a restart of this instance.
func (s *Server) Send(ctx context.Context, connectionID string, payload []byte) broadcast.Delivery {
	s.clientsMu.RLock()
	c, ok := s.clients[connectionID]
	s.clientsMu.RUnlock()
	if !ok || c.closed.Load() {
		return broadcast.DeliveryGone
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(deadline)
	err := c.conn.WriteMessage(gorilla.TextMessage, payload)
	c.writeMu.Unlock()

	if err != nil {
		s.sendErrors.Add(1)
		if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway,
			gorilla.CloseAbnormalClosure) || stderrors.Is(err, net.ErrClosed) {
			if s.metrics != nil {
				s.metrics.sendErrorsTotal.WithLabelValues("closed").Inc()
			}
			s.dropClient(c, "write_closed")
			return broadcast.DeliveryGone
		}
		// Timeouts and transient transport errors keep the connection.
		if s.metrics != nil {
			s.metrics.sendErrorsTotal.WithLabelValues("transient").Inc()
		}
		return broadcast.DeliveryTransient
	}

	s.framesSent.Add(1)
	s.bytesSent.Add(int64(len(payload)))
	s.lastSend.Store(time.Now().UnixMilli())
	if s.metrics != nil {
		s.metrics.framesSentTotal.Inc()
		s.metrics.bytesSentTotal.Add(float64(len(payload)))
		s.metrics.frameSizeBytes.Observe(float64(len(payload)))
	}
	return broadcast.DeliveryOK
}

// pingLoop sweeps all sockets periodically. A failed ping drops the
// client immediately instead of waiting for the read deadline.
func (s *Server) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pingClients()
		}
	}
}

func (s *Server) pingClients() {
	s.clientsMu.RLock()
	snapshot := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.closed.Load() {
			snapshot = append(snapshot, c)
		}
	}
	s.clientsMu.RUnlock()

	for _, c := range snapshot {
		c.writeMu.Lock()
		err := c.conn.WriteControl(gorilla.PingMessage, nil, time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		if err != nil {
			s.dropClient(c, "ping_failed")
		}
	}
}
