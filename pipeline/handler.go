package pipeline

import (
	"context"
	"log/slog"

	"github.com/c360/agentroom/event"
	"github.com/c360/agentroom/input/changefeed"
	"github.com/c360/agentroom/metric"
	"github.com/c360/agentroom/output/broadcast"
	"github.com/c360/agentroom/processor/activity"
)

// NewActivityHandler builds the changefeed batch handler: decode each
// record, drop non-agent activity, enrich the rest, and fan the batch
// out through the broadcaster.
//
// Record-local problems (malformed payloads, filtered actors) are
// absorbed: skipping them and acking the batch is correct because
// redelivery would not fix them. Only the broadcaster's registry
// failure propagates, which naks the batch for redelivery.
func NewActivityHandler(b *broadcast.Broadcaster, logger *slog.Logger, registry *metric.MetricsRegistry) changefeed.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline")

	var metrics *metric.Metrics
	if registry != nil {
		metrics = registry.CoreMetrics()
	}

	return func(ctx context.Context, records []changefeed.Record) error {
		events := make([]event.DisplayEvent, 0, len(records))
		for _, rec := range records {
			raw, err := event.DecodeRaw(rec.Data)
			if err != nil {
				if metrics != nil {
					metrics.RecordRecordMalformed("decode")
				}
				logger.Warn("dropping malformed record", "subject", rec.Subject, "error", err)
				continue
			}
			if !activity.Accept(raw) {
				if metrics != nil {
					metrics.RecordRecordFiltered("actor")
				}
				continue
			}
			ev, ok := activity.Enrich(raw)
			if !ok {
				if metrics != nil {
					metrics.RecordRecordMalformed("enrich")
				}
				logger.Warn("dropping unenrichable record", "subject", rec.Subject)
				continue
			}
			if metrics != nil {
				metrics.RecordEventEnriched()
			}
			events = append(events, ev)
		}

		if len(events) == 0 {
			return nil
		}

		_, err := b.Broadcast(ctx, events)
		return err
	}
}
