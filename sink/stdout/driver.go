package stdout

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"conveyor/record"
	"conveyor/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS       int  `yaml:"delay_ms"`      // artificial per-record delay
	PrintCounter  bool `yaml:"print_counter"` // prepend seq#
	PrintValue    bool `yaml:"print_value"`
	ValueMaxBytes int  `yaml:"value_max_bytes"`
}

/* ────────── driver ────────── */

// driver writes synchronously, so the settle barrier is always closed.
type driver struct {
	cfg Config
}

var seq uint64

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	return nil
}

func (d *driver) Open(context.Context) error { return nil }

func (d *driver) Write(_ context.Context, batch []record.Outbound) error {
	for _, rec := range batch {
		if d.cfg.DelayMS > 0 {
			time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
		}
		prefix := "[sink]"
		if d.cfg.PrintCounter {
			prefix = fmt.Sprintf("[sink %06d]", atomic.AddUint64(&seq, 1))
		}
		if record.IsDone(rec.Value) {
			fmt.Printf("%s done\n", prefix)
			continue
		}
		if d.cfg.PrintValue {
			fmt.Printf("%s %s\n", prefix, d.render(rec.Value))
		} else {
			fmt.Printf("%s record for %q\n", prefix, rec.Topic)
		}
	}
	return nil
}

func (d *driver) Settled() bool { return true }

func (d *driver) Close() error { return nil }

/* ────────── internals ────────── */

func (d *driver) render(v any) string {
	s := fmt.Sprintf("%v", v)
	if max := d.cfg.ValueMaxBytes; max > 0 && len(s) > max {
		s = s[:max] + "…"
	}
	return s
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
