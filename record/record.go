// Package record holds the value types exchanged between the connectors and
// the dataflow engine. Payload bytes are opaque here; encoding and decoding
// are supplied by the caller.
package record

import "time"

// NoPartition leaves partition selection to the producer's partitioner.
const NoPartition int32 = -1

// Meta describes where an inbound record came from.
type Meta struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Ts        time.Time
}

// Wrapped is what the reader emits when wrap_with_meta is enabled: the decoded
// value together with its log coordinates.
type Wrapped struct {
	Value any
	Meta  Meta
}

// Outbound is one record handed to the writer. Topic and Partition override
// the task defaults when set; Value must be present.
type Outbound struct {
	Topic     string
	Partition int32
	Key       []byte
	Value     any
}

// NewOutbound returns an Outbound with no topic/partition override.
func NewOutbound(value any) Outbound {
	return Outbound{Partition: NoPartition, Value: value}
}

type doneMarker struct{}

func (doneMarker) String() string { return "done" }

// Done is the distinguished end-of-stream value. A decoder returning Done
// marks the upstream as drained; the writer can emit it downstream to signal
// job completion.
var Done any = doneMarker{}

// IsDone reports whether v is the end-of-stream sentinel.
func IsDone(v any) bool {
	_, ok := v.(doneMarker)
	return ok
}
