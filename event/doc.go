// Package event defines the data model for the agent activity pipeline.
//
// Three shapes flow through the system:
//
//   - RawRecord: one record from the append-only activity feed, exactly
//     as the producer wrote it. Partition key plus sort key identify it;
//     the sort key strictly increases within a partition.
//   - DisplayEvent: the enriched projection subscribers see, with a
//     classified type, a resolved agent name, and optional HIL or
//     delegation fields.
//   - Envelope: the single outbound frame wrapping a batch of display
//     events, serialized once per broadcast.
//
// RawRecord decoding tolerates the timestamp encodings producers
// actually use (epoch millis, epoch seconds, RFC3339) and normalizes
// all of them to Unix milliseconds via pkg/timestamp. Everything else
// about a record is schema-on-read: details is an arbitrary map whose
// known keys are extracted at the enrichment boundary, not trusted
// blindly at decode time.
package event
