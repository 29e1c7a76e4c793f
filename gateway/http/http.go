// Package http serves the catch-up query and the ops surface.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/agentroom/component"
	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/event"
	"github.com/c360/agentroom/gateway"
	"github.com/c360/agentroom/health"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/natsclient"
)

// getOrGenerateRequestID extracts request ID from headers or generates a
// new one for tracing a query across the gateway and the stream reads
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if random generation fails
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// ConstructorConfig holds everything needed to construct a Gateway.
type ConstructorConfig struct {
	Name            string
	Config          gateway.Config
	Stream          string
	Subjects        []string
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Components      []component.Discoverable
	Logger          *slog.Logger
}

// Gateway is the HTTP query server: catch-up reads, health, metrics.
type Gateway struct {
	name   string
	config gateway.Config
	logger *slog.Logger

	reader          *CatchupReader
	components      []component.Discoverable
	metricsRegistry *metric.MetricsRegistry

	server  *http.Server
	port    int
	running atomic.Bool
	mu      sync.RWMutex
	wg      sync.WaitGroup

	startTime time.Time

	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
	bytesSent       atomic.Uint64
	lastActivity    atomic.Int64 // unix millis
}

var _ component.LifecycleComponent = (*Gateway)(nil)

// NewGateway creates an HTTP gateway from configuration.
func NewGateway(cfg ConstructorConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		name:            cfg.Name,
		config:          cfg.Config,
		logger:          logger.With("component", "HTTPGateway"),
		reader:          NewCatchupReader(cfg.NATSClient, cfg.Stream, cfg.Subjects, cfg.MetricsRegistry),
		components:      cfg.Components,
		metricsRegistry: cfg.MetricsRegistry,
		port:            cfg.Config.Port,
		startTime:       time.Now(),
	}
}

// Meta returns the component metadata.
func (g *Gateway) Meta() component.Metadata {
	name := g.name
	if name == "" {
		name = fmt.Sprintf("http-gateway-%d", g.Port())
	}
	return component.Metadata{
		Name:        name,
		Type:        "gateway",
		Description: fmt.Sprintf("HTTP query gateway on port %d", g.Port()),
		Version:     "1.0.0",
	}
}

// Health reports whether the server is accepting requests.
func (g *Gateway) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    g.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
		Uptime:     time.Since(g.startTime),
	}
}

// DataFlow reports request throughput since start.
func (g *Gateway) DataFlow() component.FlowMetrics {
	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()
	bytes := g.bytesSent.Load()

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(g.startTime).Seconds(); uptime > 0 {
		perSecond = float64(total) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	var lastActivity time.Time
	if ms := g.lastActivity.Load(); ms > 0 {
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
func (g *Gateway) Initialize() error {
	if err := g.config.Validate(); err != nil {
		return err
	}
	if g.reader == nil || g.reader.natsClient == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize",
			"NATS client is required")
	}
	return nil
}

// Start binds the listener and begins serving.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Gateway", "Start", "context already cancelled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", g.handleEvents)
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	if g.metricsRegistry != nil {
		mux.Handle("GET /metrics", g.metricsRegistry.Handler())
	}

	handler := http.Handler(mux)
	if g.config.EnableCORS {
		handler = g.corsMiddleware(handler)
	}

	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.config.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		g.server = nil
		return errors.WrapFatal(err, "Gateway", "Start",
			fmt.Sprintf("bind port %d", g.config.Port))
	}
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		g.port = addr.Port
	}

	g.running.Store(true)
	g.startTime = time.Now()

	server := g.server
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server failed", "error", err)
		}
	}()

	g.logger.Info("gateway started", "port", g.port)
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	if !g.running.Load() {
		g.mu.Unlock()
		return nil
	}
	g.running.Store(false)
	server := g.server
	g.server = nil
	g.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "http server shutdown")
	}
	g.wg.Wait()
	g.logger.Info("gateway stopped")
	return nil
}

// Port returns the bound port. Useful when configured with port 0.
func (g *Gateway) Port() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.port
}

// eventsResponse is the catch-up reply body.
type eventsResponse struct {
	Events []event.DisplayEvent `json:"events"`
	Count  int                  `json:"count"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

// handleEvents serves GET /api/events: the catch-up query over the
// durable stream.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	reqID := getOrGenerateRequestID(r)
	g.requestsTotal.Add(1)
	g.lastActivity.Store(time.Now().UnixMilli())

	params, err := gateway.ParseQuery(r.URL.Query())
	if err != nil {
		g.writeError(w, reqID, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.QueryTimeout())
	defer cancel()

	events, err := g.reader.Read(ctx, params)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.IsInvalid(err) {
			status = http.StatusBadRequest
		}
		g.logger.Warn("catch-up query failed",
			"requestId", reqID, "error", err)
		g.writeError(w, reqID, status, err)
		return
	}

	g.writeJSON(w, reqID, http.StatusOK, eventsResponse{
		Events: events,
		Count:  len(events),
	})
	g.requestsSuccess.Add(1)
}

// handleHealthz serves GET /healthz: overall status is the AND of all
// registered components, with error messages sanitized.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	reqID := getOrGenerateRequestID(r)
	g.requestsTotal.Add(1)

	report := health.Collect(g.components)

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	g.writeJSON(w, reqID, status, report)
	g.requestsSuccess.Add(1)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, reqID string, status int, body any) {
	// Marshal before touching the response so an encoding failure can
	// still produce an error status instead of an empty 200.
	data, err := json.Marshal(body)
	if err != nil {
		g.requestsFailed.Add(1)
		w.Header().Set("X-Request-ID", reqID)
		http.Error(w, "internal encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(status)
	n, _ := w.Write(data)
	g.bytesSent.Add(uint64(n))
}

func (g *Gateway) writeError(w http.ResponseWriter, reqID string, status int, err error) {
	g.requestsFailed.Add(1)
	g.writeJSON(w, reqID, status, errorResponse{
		Error:     err.Error(),
		RequestID: reqID,
	})
}

// corsMiddleware adds CORS headers for the configured origins.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(g.config.CORSOrigins))
	wildcard := false
	for _, origin := range g.config.CORSOrigins {
		if origin == "*" {
			wildcard = true
		}
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (wildcard || allowed[origin]) {
			if wildcard {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
