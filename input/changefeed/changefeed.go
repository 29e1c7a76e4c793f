// Package changefeed consumes the activity stream and hands batches to
// the pipeline.
package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentroom/component"
	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/natsclient"
)

const (
	// DefaultStream is the durable stream holding activity records.
	DefaultStream = "ACTIVITY"
	// DefaultSubjects is the subject space the stream captures. One
	// subject per partition: activity.<partitionKey>.
	DefaultSubjects = "activity.>"
	// DefaultDurable is the pull consumer name. Durable so a restart
	// resumes from the last acked record.
	DefaultDurable = "activity_feed"

	defaultBatchSize  = 64
	defaultBatchWait  = 250 * time.Millisecond
	defaultMaxDeliver = 5
	defaultAckWait    = 30 * time.Second
)

// Record is one raw activity message pulled from the stream. Subject
// identifies the partition; Data is the record payload as written.
type Record struct {
	Subject string
	Data    []byte
}

// Handler processes one batch. A nil return acks every message in the
// batch; an error naks all of them for redelivery.
type Handler func(ctx context.Context, batch []Record) error

// ConstructorConfig holds everything needed to construct a Feed.
type ConstructorConfig struct {
	Name            string
	Stream          string
	Subjects        []string
	Durable         string
	BatchSize       int
	BatchWait       time.Duration
	MaxDeliver      int
	AckWait         time.Duration
	MaxAge          time.Duration // stream retention; zero means server default
	NATSClient      *natsclient.Client
	Handler         Handler
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// DefaultConstructorConfig returns feed defaults.
func DefaultConstructorConfig() ConstructorConfig {
	return ConstructorConfig{
		Stream:     DefaultStream,
		Subjects:   []string{DefaultSubjects},
		Durable:    DefaultDurable,
		BatchSize:  defaultBatchSize,
		BatchWait:  defaultBatchWait,
		MaxDeliver: defaultMaxDeliver,
		AckWait:    defaultAckWait,
	}
}

// Feed is the change-feed input component. It pulls batches from the
// durable consumer and hands them to the pipeline handler with
// at-least-once semantics.
type Feed struct {
	name       string
	stream     string
	subjects   []string
	durable    string
	batchSize  int
	batchWait  time.Duration
	maxDeliver int
	ackWait    time.Duration
	maxAge     time.Duration

	natsClient *natsclient.Client
	handler    Handler
	consumer   jetstream.Consumer
	logger     *slog.Logger
	metrics    *metric.Metrics

	shutdown chan struct{}
	running  bool
	started  time.Time
	mu       sync.RWMutex
	wg       sync.WaitGroup

	consumed  atomic.Int64
	bytesRead atomic.Int64
	errCount  atomic.Int64
	lastError atomic.Value // string
	lastBatch atomic.Int64 // unix millis
}

var _ component.LifecycleComponent = (*Feed)(nil)

// NewFeed creates a change-feed consumer from config.
func NewFeed(cfg ConstructorConfig) *Feed {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics *metric.Metrics
	if cfg.MetricsRegistry != nil {
		metrics = cfg.MetricsRegistry.CoreMetrics()
	}
	return &Feed{
		name:       cfg.Name,
		stream:     cfg.Stream,
		subjects:   cfg.Subjects,
		durable:    cfg.Durable,
		batchSize:  cfg.BatchSize,
		batchWait:  cfg.BatchWait,
		maxDeliver: cfg.MaxDeliver,
		ackWait:    cfg.AckWait,
		maxAge:     cfg.MaxAge,
		natsClient: cfg.NATSClient,
		handler:    cfg.Handler,
		logger:     logger.With("component", "Changefeed"),
		metrics:    metrics,
		started:    time.Now(),
	}
}

// Meta returns the component metadata.
func (f *Feed) Meta() component.Metadata {
	name := f.name
	if name == "" {
		name = fmt.Sprintf("changefeed-%s", f.durable)
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("Durable pull consumer %s on stream %s", f.durable, f.stream),
		Version:     "1.0.0",
	}
}

// Health reports consumer liveness.
func (f *Feed) Health() component.HealthStatus {
	f.mu.RLock()
	running := f.running && f.consumer != nil
	f.mu.RUnlock()

	lastErr, _ := f.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(f.errCount.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(f.started),
	}
}

// DataFlow reports record throughput since start.
func (f *Feed) DataFlow() component.FlowMetrics {
	consumed := f.consumed.Load()
	bytes := f.bytesRead.Load()
	errCount := f.errCount.Load()

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(f.started).Seconds(); uptime > 0 {
		perSecond = float64(consumed) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if consumed > 0 {
		errorRate = float64(errCount) / float64(consumed)
	}

	var lastActivity time.Time
	if ms := f.lastBatch.Load(); ms > 0 {
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
func (f *Feed) Initialize() error {
	if f.natsClient == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Changefeed", "Initialize",
			"NATS client is required")
	}
	if f.handler == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Changefeed", "Initialize",
			"batch handler is required")
	}
	if f.stream == "" || f.durable == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Changefeed", "Initialize",
			"stream and durable consumer names are required")
	}
	if len(f.subjects) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Changefeed", "Initialize",
			"at least one subject is required")
	}
	if f.batchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Changefeed", "Initialize",
			fmt.Sprintf("invalid batch size %d", f.batchSize))
	}
	if f.batchWait <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Changefeed", "Initialize",
			fmt.Sprintf("invalid batch wait %s", f.batchWait))
	}
	return nil
}

// Start ensures the stream and consumer exist and begins the fetch loop.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Changefeed", "Start", "context already cancelled")
	}

	if _, err := f.natsClient.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      f.stream,
		Subjects:  f.subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    f.maxAge,
	}); err != nil {
		return errors.Wrap(err, "Changefeed", "Start",
			fmt.Sprintf("ensure stream %s", f.stream))
	}

	consumer, err := f.natsClient.CreateConsumer(ctx, f.stream, jetstream.ConsumerConfig{
		Durable:        f.durable,
		FilterSubjects: f.subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        f.ackWait,
		MaxDeliver:     f.maxDeliver,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return errors.Wrap(err, "Changefeed", "Start",
			fmt.Sprintf("create consumer %s", f.durable))
	}
	f.consumer = consumer

	f.shutdown = make(chan struct{})
	f.running = true
	f.started = time.Now()

	f.wg.Add(1)
	go f.fetchLoop(ctx)

	f.logger.Info("changefeed started",
		"stream", f.stream,
		"durable", f.durable,
		"batchSize", f.batchSize,
		"batchWait", f.batchWait)
	return nil
}

// Stop ends the fetch loop. In-flight batches finish; unacked messages
// redeliver after the ack wait.
func (f *Feed) Stop(timeout time.Duration) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	close(f.shutdown)
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Changefeed", "Stop",
			"fetch loop did not exit within timeout")
	}

	f.mu.Lock()
	f.consumer = nil
	f.mu.Unlock()
	f.logger.Info("changefeed stopped")
	return nil
}

// fetchLoop pulls batches until shutdown. Fetch blocks for at most the
// batch wait, so partial batches flush at the window edge.
func (f *Feed) fetchLoop(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.shutdown:
			return
		default:
		}

		batch, err := f.consumer.Fetch(f.batchSize, jetstream.FetchMaxWait(f.batchWait))
		if err != nil {
			f.recordLoopError("fetch", err)
			// Back off briefly so a broken consumer does not spin.
			select {
			case <-time.After(time.Second):
			case <-f.shutdown:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		var msgs []jetstream.Msg
		for msg := range batch.Messages() {
			msgs = append(msgs, msg)
		}
		if err := batch.Error(); err != nil {
			f.recordLoopError("fetch_drain", err)
		}
		if len(msgs) == 0 {
			continue
		}

		f.dispatch(ctx, msgs)
	}
}

// dispatch hands one batch to the handler and settles every message
// according to the outcome.
func (f *Feed) dispatch(ctx context.Context, msgs []jetstream.Msg) {
	records := make([]Record, len(msgs))
	var bytes int64
	for i, msg := range msgs {
		records[i] = Record{Subject: msg.Subject(), Data: msg.Data()}
		bytes += int64(len(msg.Data()))
	}

	err := f.handler(ctx, records)
	if err != nil {
		// Nak the whole batch: redelivery keeps per-partition order
		// and the handler is idempotent downstream.
		for _, msg := range msgs {
			if nakErr := msg.Nak(); nakErr != nil {
				f.recordLoopError("nak", nakErr)
			}
		}
		f.recordLoopError("handler", err)
		return
	}

	for _, msg := range msgs {
		if ackErr := msg.Ack(); ackErr != nil {
			f.recordLoopError("ack", ackErr)
		}
	}

	f.consumed.Add(int64(len(msgs)))
	f.bytesRead.Add(bytes)
	f.lastBatch.Store(time.Now().UnixMilli())
	if f.metrics != nil {
		for _, r := range records {
			f.metrics.RecordRecordConsumed(partitionFromSubject(r.Subject))
		}
	}
}

func (f *Feed) recordLoopError(stage string, err error) {
	f.errCount.Add(1)
	f.lastError.Store(err.Error())
	if f.metrics != nil {
		f.metrics.RecordError("changefeed", stage)
	}
	f.logger.Warn("changefeed error", "stage", stage, "error", err)
}

// partitionFromSubject extracts the partition key from an activity
// subject (activity.<partitionKey>).
func partitionFromSubject(subject string) string {
	const prefix = "activity."
	if len(subject) > len(prefix) && subject[:len(prefix)] == prefix {
		return subject[len(prefix):]
	}
	return subject
}
