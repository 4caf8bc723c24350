package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"conveyor/internal/fault"
	"conveyor/internal/logging"
	"conveyor/record"
	"conveyor/sink"
	"conveyor/source/kafka"
)

// Runner is the task loop that drives one source into its sinks. It owns the
// connectors exclusively: every Poll, Write, Settled and Checkpoint call
// happens on this loop.
type Runner struct {
	name   string
	source kafka.Adapter
	sinks  []sink.Adapter
	store  *CheckpointStore

	every   time.Duration // settle-and-persist cadence
	backoff time.Duration // restart delay after recoverable open failures

	log *slog.Logger
}

func NewRunner(name string) *Runner {
	return &Runner{
		name:    name,
		every:   5 * time.Second,
		backoff: 8 * time.Second,
		log:     logging.Named("runner").With("task", name),
	}
}

func (r *Runner) SetSource(s kafka.Adapter) { r.source = s }
func (r *Runner) AddSink(s sink.Adapter)    { r.sinks = append(r.sinks, s) }

// Run executes one recovery epoch: open everything, recover from the stored
// checkpoint, pump records until the source drains or ctx is cancelled, then
// settle the sinks and persist the final checkpoint.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	defer r.closeAll()

	if err := r.openAll(ctx); err != nil {
		return err
	}
	cp, err := r.store.Load()
	if err != nil {
		return err
	}
	if err := r.source.Recover(ctx, cp); err != nil {
		return err
	}
	r.log.Info("epoch started", "resume", cp)

	next := time.Now().Add(r.every)
	for !r.source.Drained() {
		if ctx.Err() != nil {
			// persist what has settled before reporting cancellation
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = r.barrier(cctx)
			cancel()
			return ctx.Err()
		}
		if time.Now().After(next) {
			if err := r.barrier(ctx); err != nil {
				return err
			}
			next = time.Now().Add(r.every)
		}

		v, err := r.source.Poll(ctx)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		out := toOutbound(v)
		for _, s := range r.sinks {
			if err := s.Write(ctx, []record.Outbound{out}); err != nil {
				return err
			}
		}
	}

	// upstream drained: tell downstream, close the barrier, persist
	for _, s := range r.sinks {
		if wd, ok := s.(interface{ WriteDone(context.Context) error }); ok {
			if err := wd.WriteDone(ctx); err != nil {
				return err
			}
		}
	}
	if err := r.barrier(ctx); err != nil {
		return err
	}
	r.log.Info("epoch drained", "checkpoint", r.source.Checkpoint())
	return nil
}

// barrier blocks until every sink reports no unresolved in-flight sends, then
// persists the source checkpoint. A sink's recorded send failure aborts the
// wait: that epoch can never settle.
func (r *Runner) barrier(ctx context.Context) error {
	for {
		settled := true
		for _, s := range r.sinks {
			if fe, ok := s.(interface{ Err() error }); ok {
				if err := fe.Err(); err != nil {
					return err
				}
			}
			if !s.Settled() {
				settled = false
			}
		}
		if settled {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
	return r.store.Save(r.source.Checkpoint())
}

func (r *Runner) openAll(ctx context.Context) error {
	if err := r.openWithRetry(ctx, "source", r.source.Open); err != nil {
		return err
	}
	for _, s := range r.sinks {
		if err := r.openWithRetry(ctx, "sink", s.Open); err != nil {
			return err
		}
	}
	return nil
}

// openWithRetry restarts a connector open after recoverable failures (brokers
// not yet registered, transient network errors). Fatal classes pass through.
func (r *Runner) openWithRetry(ctx context.Context, what string, open func(context.Context) error) error {
	for {
		err := open(ctx)
		if err == nil || !fault.IsRecoverable(err) {
			return err
		}
		r.log.Warn("recoverable open failure, backing off", "connector", what, "err", err, "backoff", r.backoff)
		select {
		case <-time.After(r.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) closeAll() {
	if r.source != nil {
		_ = r.source.Close()
	}
	for _, s := range r.sinks {
		_ = s.Close()
	}
}

func toOutbound(v any) record.Outbound {
	if w, ok := v.(*record.Wrapped); ok {
		out := record.NewOutbound(w.Value)
		out.Key = w.Meta.Key
		return out
	}
	return record.NewOutbound(v)
}
