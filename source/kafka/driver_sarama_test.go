package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"conveyor/internal/fault"
	"conveyor/record"
)

func stringDecode(value []byte) (any, error) {
	if string(value) == "done" {
		return record.Done, nil
	}
	return string(value), nil
}

func newTestReader(t *testing.T, cfg Config, mc *mocks.Consumer, parts []int32) *SaramaReader {
	t.Helper()
	r := &SaramaReader{}
	if err := r.Configure(cfg, stringDecode); err != nil {
		t.Fatalf("configure: %v", err)
	}
	r.consumer = mc
	r.parts = parts
	return r
}

// pollRecord polls until one record comes out, tolerating the "no record yet"
// round that follows every fetch.
func pollRecord(t *testing.T, r *SaramaReader, rounds int) any {
	t.Helper()
	for i := 0; i < rounds; i++ {
		v, err := r.Poll(context.Background())
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if v != nil {
			return v
		}
		if r.Drained() {
			return nil
		}
	}
	t.Fatal("no record after polling")
	return nil
}

func TestRecoverSeeksCheckpointPlusOne(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	// checkpointed partition resumes one past the last delivered offset,
	// the rest fall back to the reset policy
	mc.ExpectConsumePartition("orders", 0, 43)
	mc.ExpectConsumePartition("orders", 1, sarama.OffsetOldest)

	r := newTestReader(t, Config{
		Topic:         "orders",
		OffsetReset:   ResetEarliest,
		BatchTimeout:  20 * time.Millisecond,
		ReceiveBuffer: 8,
	}, mc, []int32{0, 1})

	if err := r.Recover(context.Background(), Checkpoint{0: 42}); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRecoverExplicitStartOffsets(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	mc.ExpectConsumePartition("orders", 0, 7)

	r := newTestReader(t, Config{
		Topic:         "orders",
		StartOffsets:  map[string]int64{"0": 7},
		BatchTimeout:  20 * time.Millisecond,
		ReceiveBuffer: 8,
	}, mc, []int32{0})

	if err := r.Recover(context.Background(), nil); err != nil {
		t.Fatalf("recover: %v", err)
	}
	_ = r.Close()
}

func TestRecoverUnlistedStartOffsetIsFatal(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	mc.ExpectConsumePartition("orders", 0, 7)

	r := newTestReader(t, Config{
		Topic:         "orders",
		StartOffsets:  map[string]int64{"0": 7},
		BatchTimeout:  20 * time.Millisecond,
		ReceiveBuffer: 8,
	}, mc, []int32{0, 1})

	err := r.Recover(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for unlisted partition")
	}
	if c, ok := fault.ClassOf(err); !ok || c != fault.Config {
		t.Fatalf("want Config class, got %v", err)
	}
	_ = r.Close()
}

func TestRecoverUnknownResetPolicyIsFatal(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	r := newTestReader(t, Config{
		Topic:       "orders",
		OffsetReset: "somewhere",
	}, mc, []int32{0})

	err := r.Recover(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for unknown reset policy")
	}
	if c, _ := fault.ClassOf(err); c != fault.Config {
		t.Fatalf("want Config class, got %v", err)
	}
}

func TestPollDecodesAndCheckpoints(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	pc := mc.ExpectConsumePartition("orders", 0, sarama.OffsetOldest)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("a")})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("b")})

	r := newTestReader(t, Config{
		Topic:         "orders",
		OffsetReset:   ResetEarliest,
		BatchTimeout:  500 * time.Millisecond,
		ReceiveBuffer: 8,
		WrapMeta:      true,
	}, mc, []int32{0})

	if err := r.Recover(context.Background(), nil); err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer r.Close()

	first := pollRecord(t, r, 10)
	w, ok := first.(*record.Wrapped)
	if !ok {
		t.Fatalf("want *record.Wrapped, got %T", first)
	}
	if w.Value != "a" || w.Meta.Topic != "orders" || w.Meta.Partition != 0 {
		t.Fatalf("unexpected wrapped record: %+v", w)
	}
	if got := r.Checkpoint()[0]; got != w.Meta.Offset {
		t.Fatalf("checkpoint[0] = %d, want %d", got, w.Meta.Offset)
	}

	second := pollRecord(t, r, 10).(*record.Wrapped)
	if second.Value != "b" {
		t.Fatalf("second record: %+v", second)
	}
	if second.Meta.Offset != w.Meta.Offset+1 {
		t.Fatalf("offsets not strictly increasing: %d then %d", w.Meta.Offset, second.Meta.Offset)
	}
	if got := r.Checkpoint()[0]; got != second.Meta.Offset {
		t.Fatalf("checkpoint[0] = %d after second record, want %d", got, second.Meta.Offset)
	}
}

func TestPollSentinelDrains(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	pc := mc.ExpectConsumePartition("orders", 0, sarama.OffsetOldest)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("a")})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("done")})

	r := newTestReader(t, Config{
		Topic:         "orders",
		OffsetReset:   ResetEarliest,
		BatchTimeout:  500 * time.Millisecond,
		ReceiveBuffer: 8,
	}, mc, []int32{0})

	if err := r.Recover(context.Background(), nil); err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer r.Close()

	if got := pollRecord(t, r, 10); got != "a" {
		t.Fatalf("first record = %v", got)
	}
	cpBefore := r.Checkpoint()

	for i := 0; i < 10 && !r.Drained(); i++ {
		if _, err := r.Poll(context.Background()); err != nil {
			t.Fatalf("poll: %v", err)
		}
	}
	if !r.Drained() {
		t.Fatal("sentinel must set drained")
	}

	// drained is sticky and the checkpoint stops moving
	if v, err := r.Poll(context.Background()); v != nil || err != nil {
		t.Fatalf("poll after drain: %v, %v", v, err)
	}
	if !r.Drained() {
		t.Fatal("drained must stay set")
	}
	cpAfter := r.Checkpoint()
	if len(cpAfter) != len(cpBefore) || cpAfter[0] != cpBefore[0] {
		t.Fatalf("checkpoint moved past drain: %v -> %v", cpBefore, cpAfter)
	}
}

func TestCheckpointSnapshotIsIdempotentAndIsolated(t *testing.T) {
	r := &SaramaReader{}
	if err := r.Configure(Config{Topic: "orders"}, stringDecode); err != nil {
		t.Fatalf("configure: %v", err)
	}
	r.cp = Checkpoint{0: 10, 3: 99}

	a, b := r.Checkpoint(), r.Checkpoint()
	if len(a) != 2 || a[0] != 10 || a[3] != 99 {
		t.Fatalf("snapshot: %v", a)
	}
	if len(b) != len(a) || b[0] != a[0] || b[3] != a[3] {
		t.Fatalf("snapshots differ: %v vs %v", a, b)
	}
	a[0] = 123
	if r.cp[0] != 10 {
		t.Fatal("snapshot must not alias internal state")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	r := newTestReader(t, Config{Topic: "orders"}, mc, nil)
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenFailureRetainsNoClient(t *testing.T) {
	r := &SaramaReader{}
	cfg := Config{Topic: "orders", OffsetReset: ResetEarliest, Peers: PeersCfg{N: 1}}
	if err := r.Configure(cfg, stringDecode); err != nil {
		t.Fatalf("configure: %v", err)
	}

	// no coordination endpoints: discovery fails and the cancelled ctx stops
	// the broker wait
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Open(ctx); err == nil {
		t.Fatal("open without brokers must fail")
	}
	if r.cl != nil || r.consumer != nil {
		t.Fatal("failed open retained a partial client")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close after failed open: %v", err)
	}
}

func TestConfigurePinParseFailure(t *testing.T) {
	r := &SaramaReader{}
	err := r.Configure(Config{Topic: "orders", Partition: "two"}, nil)
	if err == nil {
		t.Fatal("expected error for non-integer pin")
	}
	if c, _ := fault.ClassOf(err); c != fault.Config {
		t.Fatalf("want Config class, got %v", err)
	}
}
