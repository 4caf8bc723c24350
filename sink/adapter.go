package sink

import (
	"context"
	"fmt"

	"conveyor/record"
)

// Adapter is the common behaviour every output connector exposes. One task
// loop owns an adapter; Write submits asynchronously and Settled is the
// durability barrier the engine checks before advancing an epoch.
type Adapter interface {
	Configure(any) error // driver-specific YAML ⇒ struct
	Open(context.Context) error

	// Write submits the batch without waiting for acknowledgments. A send
	// failure observed earlier is re-raised before anything is submitted.
	Write(context.Context, []record.Outbound) error

	// Settled reports whether every submitted send has been acknowledged
	// and none has failed.
	Settled() bool

	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
