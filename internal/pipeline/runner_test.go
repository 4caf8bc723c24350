package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"conveyor/internal/fault"
	"conveyor/record"
	"conveyor/source/kafka"
)

/*──────── fakes ───────*/

type fakeSource struct {
	records []any // record.Done marks the end

	openErrs  []error // consumed one per Open call before succeeding
	openCalls int
	recovered kafka.Checkpoint

	i       int
	cp      kafka.Checkpoint
	drained bool
}

func (f *fakeSource) Configure(kafka.Config, kafka.DecodeFunc) error { return nil }

func (f *fakeSource) Open(context.Context) error {
	f.openCalls++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		return err
	}
	return nil
}

func (f *fakeSource) Recover(_ context.Context, prior kafka.Checkpoint) error {
	f.recovered = prior.Clone()
	f.cp = prior.Clone()
	f.i = 0
	f.drained = false
	return nil
}

func (f *fakeSource) Poll(context.Context) (any, error) {
	if f.drained || f.i >= len(f.records) {
		return nil, nil
	}
	v := f.records[f.i]
	f.i++
	if record.IsDone(v) {
		f.drained = true
		return nil, nil
	}
	f.cp[0] = int64(f.i)
	return v, nil
}

func (f *fakeSource) Checkpoint() kafka.Checkpoint { return f.cp.Clone() }
func (f *fakeSource) Drained() bool                { return f.drained }
func (f *fakeSource) Close() error                 { return nil }

type captureSink struct {
	pushed []record.Outbound
	done   bool
}

func (c *captureSink) Configure(any) error        { return nil }
func (c *captureSink) Open(context.Context) error { return nil }
func (c *captureSink) Write(_ context.Context, batch []record.Outbound) error {
	c.pushed = append(c.pushed, batch...)
	return nil
}
func (c *captureSink) Settled() bool { return true }
func (c *captureSink) Close() error  { return nil }
func (c *captureSink) WriteDone(context.Context) error {
	c.done = true
	return nil
}

type failingSink struct {
	captureSink
	err error
}

func (s *failingSink) Err() error    { return s.err }
func (s *failingSink) Settled() bool { return false }

/*──────── helpers ───────*/

func newTestRunner(t *testing.T, src *fakeSource) (*Runner, *captureSink) {
	t.Helper()
	r := NewRunner("test")
	r.backoff = time.Millisecond
	r.store = &CheckpointStore{Path: filepath.Join(t.TempDir(), "cp.json")}
	r.SetSource(src)
	cs := &captureSink{}
	r.AddSink(cs)
	return r, cs
}

/*──────── tests ───────*/

func TestRunnerDrainsAndPersistsCheckpoint(t *testing.T) {
	src := &fakeSource{records: []any{"a", "b", "c", record.Done}}
	r, cs := newTestRunner(t, src)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(cs.pushed) != 3 {
		t.Fatalf("pushed %d records, want 3", len(cs.pushed))
	}
	if !cs.done {
		t.Fatal("drain must propagate the sentinel downstream")
	}

	cp, err := r.store.Load()
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if cp[0] != 3 {
		t.Fatalf("persisted checkpoint %v, want offset 3 on partition 0", cp)
	}
}

func TestRunnerResumesFromStoredCheckpoint(t *testing.T) {
	src := &fakeSource{records: []any{record.Done}}
	r, _ := newTestRunner(t, src)
	if err := r.store.Save(kafka.Checkpoint{0: 41, 2: 7}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if src.recovered[0] != 41 || src.recovered[2] != 7 {
		t.Fatalf("source recovered %v, want stored checkpoint", src.recovered)
	}
}

func TestRunnerRetriesRecoverableOpen(t *testing.T) {
	src := &fakeSource{
		records:  []any{record.Done},
		openErrs: []error{fault.New(fault.Unavailable, "no brokers registered")},
	}
	r, _ := newTestRunner(t, src)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if src.openCalls != 2 {
		t.Fatalf("open called %d times, want retry after recoverable failure", src.openCalls)
	}
}

func TestRunnerFatalOpenAborts(t *testing.T) {
	src := &fakeSource{
		records:  []any{record.Done},
		openErrs: []error{fault.New(fault.Config, "3 peers exceed 2 partitions")},
	}
	r, _ := newTestRunner(t, src)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("fatal open must abort the run")
	}
	if c, _ := fault.ClassOf(err); c != fault.Config {
		t.Fatalf("want Config class, got %v", err)
	}
	if src.openCalls != 1 {
		t.Fatalf("open called %d times, fatal errors must not be retried", src.openCalls)
	}
}

func TestRunnerSinkFailureAbortsBarrier(t *testing.T) {
	src := &fakeSource{records: []any{"a", record.Done}}
	r, _ := newTestRunner(t, src)
	fs := &failingSink{err: fault.New(fault.Send, "broker rejected batch")}
	r.AddSink(fs)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("send failure must abort the run")
	}
	if c, _ := fault.ClassOf(err); c != fault.Send {
		t.Fatalf("want Send class, got %v", err)
	}
}

func TestCheckpointStoreRoundTrip(t *testing.T) {
	s := &CheckpointStore{Path: filepath.Join(t.TempDir(), "nested", "cp.json")}

	cp, err := s.Load()
	if err != nil || cp != nil {
		t.Fatalf("cold start: %v, %v", cp, err)
	}

	want := kafka.Checkpoint{0: 100, 5: 42}
	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != 100 || got[5] != 42 {
		t.Fatalf("round trip: %v", got)
	}
}
