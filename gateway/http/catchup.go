package http

import (
	"context"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentroom/errors"
	"github.com/c360/agentroom/event"
	"github.com/c360/agentroom/gateway"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/natsclient"
	"github.com/c360/agentroom/processor/activity"
)

// nextWait bounds one Next call when draining the catch-up consumer.
// Reaching it without a message means the replay caught up to the
// head of the stream.
const nextWait = 2 * time.Second

// CatchupReader replays the durable stream through an ephemeral
// ordered consumer and re-derives display events the same way the live
// pipeline does. The stream is the source of truth; no separate event
// store exists to drift from it.
type CatchupReader struct {
	natsClient *natsclient.Client
	stream     string
	subjects   []string
	metrics    *metric.Metrics
}

// NewCatchupReader creates a reader over one stream.
func NewCatchupReader(client *natsclient.Client, stream string, subjects []string,
	registry *metric.MetricsRegistry) *CatchupReader {
	if stream == "" {
		stream = "ACTIVITY"
	}
	if len(subjects) == 0 {
		subjects = []string{"activity.>"}
	}
	var metrics *metric.Metrics
	if registry != nil {
		metrics = registry.CoreMetrics()
	}
	return &CatchupReader{
		natsClient: client,
		stream:     stream,
		subjects:   subjects,
		metrics:    metrics,
	}
}

// Read returns display events with timestamps strictly greater than
// params.Since, ascending by timestamp, at most params.Limit of them.
func (r *CatchupReader) Read(ctx context.Context, params gateway.QueryParams) ([]event.DisplayEvent, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordCatchupQuery(time.Since(start))
		}
	}()

	stream, err := r.natsClient.GetStream(ctx, r.stream)
	if err != nil {
		return nil, errors.WrapTransient(err, "CatchupReader", "Read",
			"get activity stream")
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "CatchupReader", "Read",
			"get stream info")
	}
	lastSeq := info.State.LastSeq
	if lastSeq == 0 || info.State.Msgs == 0 {
		return []event.DisplayEvent{}, nil
	}

	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: r.subjects,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if params.Since > 0 {
		// Start replay at the boundary; the strict > filter below is
		// what actually excludes the boundary timestamp itself.
		startTime := time.UnixMilli(params.Since)
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = &startTime
	}

	consumer, err := r.natsClient.OrderedConsumer(ctx, r.stream, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "CatchupReader", "Read",
			"create ordered consumer")
	}

	var events []event.DisplayEvent
	for len(events) < params.Limit {
		msg, err := consumer.Next(jetstream.FetchMaxWait(nextWait))
		if err != nil {
			// Timeout: nothing more retained past the start point.
			break
		}

		if e, ok := r.derive(msg.Data(), params); ok {
			events = append(events, e)
		}

		meta, err := msg.Metadata()
		if err == nil && meta.Sequence.Stream >= lastSeq {
			break
		}
	}

	// Stream order is per-partition only; the reply contract is global
	// timestamp order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events, nil
}

// derive runs one raw record through the same accept/enrich path the
// live pipeline uses, then applies the query filters.
func (r *CatchupReader) derive(data []byte, params gateway.QueryParams) (event.DisplayEvent, bool) {
	raw, err := event.DecodeRaw(data)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordRecordMalformed("catchup")
		}
		return event.DisplayEvent{}, false
	}
	if !activity.Accept(raw) {
		return event.DisplayEvent{}, false
	}
	enriched, ok := activity.Enrich(raw)
	if !ok {
		if r.metrics != nil {
			r.metrics.RecordRecordMalformed("catchup")
		}
		return event.DisplayEvent{}, false
	}

	if enriched.Timestamp <= params.Since {
		return event.DisplayEvent{}, false
	}
	if params.SessionID != "" && enriched.SessionID != params.SessionID {
		return event.DisplayEvent{}, false
	}
	if params.AgentID != "" && enriched.AgentID != params.AgentID {
		return event.DisplayEvent{}, false
	}
	if params.HILOnly && enriched.Type != event.TypeHILDecision {
		return event.DisplayEvent{}, false
	}
	return enriched, true
}
