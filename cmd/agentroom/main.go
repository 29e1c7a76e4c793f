// Package main implements the entry point for the agentroom service:
// it consumes the agent activity feed, enriches it into display events,
// and fans them out to WebSocket subscribers, with an HTTP gateway for
// catch-up queries.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentroom/config"
	"github.com/c360/agentroom/connections"
	gatewayhttp "github.com/c360/agentroom/gateway/http"
	"github.com/c360/agentroom/input/changefeed"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/natsclient"
	"github.com/c360/agentroom/output/broadcast"
	"github.com/c360/agentroom/output/websocket"
	"github.com/c360/agentroom/pipeline"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "agentroom"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.NewLoader().Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	metricsRegistry := metric.NewMetricsRegistry()

	natsClient, err := connectNATS(ctx, cfg, metricsRegistry)
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(ctx) }()

	registry, err := setupConnectionRegistry(ctx, cfg, natsClient, logger)
	if err != nil {
		return err
	}

	runner, broadcaster := assemblePipeline(cfg, natsClient, registry, metricsRegistry, logger)

	return runWithSignalHandling(ctx, runner, broadcaster, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting agentroom (agent activity broadcast)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// connectNATS creates the managed client and waits for the first
// connection to be established.
func connectNATS(ctx context.Context, cfg *config.Config, metricsRegistry *metric.MetricsRegistry) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMetrics(metricsRegistry),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}

	natsClient, err := natsclient.NewClient(natsURL(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URLs[0])
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connectWait := cfg.NATS.ConnectWait
	if connectWait <= 0 {
		connectWait = 10 * time.Second
	}
	connCtx, cancel := context.WithTimeout(ctx, connectWait)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return natsClient, nil
}

// natsURL builds the connection URL, folding configured credentials
// into it when the URL itself carries none.
func natsURL(cfg *config.Config) string {
	raw := cfg.NATS.URLs[0]

	u, err := url.Parse(raw)
	if err != nil || u.User != nil {
		return raw
	}

	switch {
	case cfg.NATS.Token != "":
		u.User = url.User(cfg.NATS.Token)
	case cfg.NATS.Username != "":
		u.User = url.UserPassword(cfg.NATS.Username, cfg.NATS.Password)
	default:
		return raw
	}
	return u.String()
}

// setupConnectionRegistry creates the TTL-backed KV bucket and wraps it
// in the connection registry.
func setupConnectionRegistry(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) (connections.Registry, error) {
	bucket, err := natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Connections.Bucket,
		Description: "active agentroom subscriber connections",
		TTL:         cfg.Connections.TTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("create connections bucket %s: %w", cfg.Connections.Bucket, err)
	}

	return connections.NewKVRegistry(
		natsClient.NewKVStore(bucket),
		logger,
		connections.WithTTL(cfg.Connections.TTL()),
	), nil
}

// assemblePipeline wires registry → websocket → broadcaster → changefeed
// → gateway. The runner owns component lifecycle; the broadcaster is not
// a component and is started and stopped around it.
func assemblePipeline(
	cfg *config.Config,
	natsClient *natsclient.Client,
	registry connections.Registry,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*pipeline.Runner, *broadcast.Broadcaster) {
	wsServer := websocket.NewServer(websocket.ConstructorConfig{
		Name:            fmt.Sprintf("websocket-server-%d", cfg.WebSocket.Port),
		Port:            cfg.WebSocket.Port,
		Path:            cfg.WebSocket.Path,
		Registry:        registry,
		MetricsRegistry: metricsRegistry,
	})

	broadcaster := broadcast.NewBroadcaster(registry, wsServer,
		broadcast.WithLogger(logger),
		broadcast.WithMetricsRegistry(metricsRegistry),
		broadcast.WithDeliveryTimeout(cfg.Broadcast.DeliveryTimeout()),
		broadcast.WithPoolSize(cfg.Broadcast.Workers, cfg.Broadcast.QueueSize),
	)

	feed := changefeed.NewFeed(changefeed.ConstructorConfig{
		Name:            fmt.Sprintf("changefeed-%s", cfg.Changefeed.Durable),
		Stream:          cfg.Stream.Name,
		Subjects:        cfg.Stream.Subjects,
		Durable:         cfg.Changefeed.Durable,
		BatchSize:       cfg.Changefeed.BatchSize,
		BatchWait:       cfg.Changefeed.BatchWait(),
		MaxDeliver:      cfg.Changefeed.MaxDeliver,
		AckWait:         cfg.Changefeed.AckWait(),
		MaxAge:          cfg.Stream.MaxAge(),
		NATSClient:      natsClient,
		Handler:         pipeline.NewActivityHandler(broadcaster, logger, metricsRegistry),
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})

	runner := pipeline.NewRunner(logger)
	runner.Add("websocket", wsServer)
	runner.Add("changefeed", feed)

	gateway := gatewayhttp.NewGateway(gatewayhttp.ConstructorConfig{
		Name:            fmt.Sprintf("http-gateway-%d", cfg.Gateway.Port),
		Config:          cfg.Gateway,
		Stream:          cfg.Stream.Name,
		Subjects:        cfg.Stream.Subjects,
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Components:      runner.Components(),
		Logger:          logger,
	})
	runner.Add("gateway", gateway)

	return runner, broadcaster
}

// runWithSignalHandling starts the pipeline and blocks until a shutdown
// signal arrives.
func runWithSignalHandling(
	ctx context.Context,
	runner *pipeline.Runner,
	broadcaster *broadcast.Broadcaster,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := broadcaster.Start(signalCtx); err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}

	if err := runner.Start(signalCtx); err != nil {
		_ = broadcaster.Stop(5 * time.Second)
		return fmt.Errorf("start pipeline: %w", err)
	}

	slog.Info("agentroom started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	deadline := time.Now().Add(shutdownTimeout)

	var shutdownErr error
	if err := runner.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping pipeline", "error", err)
		shutdownErr = err
	}

	// In-flight deliveries drain with whatever time is left.
	remaining := time.Until(deadline)
	if remaining < time.Second {
		remaining = time.Second
	}
	if err := broadcaster.Stop(remaining); err != nil {
		slog.Error("Error stopping broadcaster", "error", err)
		if shutdownErr == nil {
			shutdownErr = err
		}
	}

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("agentroom shutdown complete")
	return nil
}
