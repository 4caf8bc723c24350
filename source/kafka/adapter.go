package kafka

import (
	"context"
)

// DecodeFunc turns raw payload bytes into the caller's value. Returning
// record.Done marks logical end-of-stream for the partition's epoch.
type DecodeFunc func(value []byte) (any, error)

// Adapter is the input connector surface the task loop drives. Exactly one
// task loop owns an adapter instance; none of the methods are safe for
// concurrent use.
type Adapter interface {
	Configure(Config, DecodeFunc) error

	// Open resolves brokers, binds the consumer, and computes this slot's
	// partition assignment. Fatal on policy violations, recoverable when no
	// broker is reachable.
	Open(context.Context) error

	// Recover seeks every assigned partition from a prior checkpoint (nil on
	// cold start) and resets the drained flag for a fresh epoch.
	Recover(context.Context, Checkpoint) error

	// Poll dispenses at most one decoded record. A nil value with nil error
	// means no record yet; the caller polls again. Poll blocks at most the
	// configured batch timeout.
	Poll(context.Context) (any, error)

	// Checkpoint returns a snapshot of last-delivered offsets per partition.
	Checkpoint() Checkpoint

	// Drained is sticky-true once the end-of-stream sentinel was decoded,
	// until the next Recover.
	Drained() bool

	Close() error
}
