package kafka

import "testing"

func TestLedgerSettlesOnlyWhenAllResolved(t *testing.T) {
	l := newLedger()
	r1 := l.track()
	r2 := l.track()
	r3 := l.track()

	if got := l.pending(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}

	// resolve out of order: acks can arrive in any order
	r2(sendAck{topic: "t", offset: 2})
	r3(sendAck{topic: "t", offset: 3})
	if l.pending() == 0 {
		t.Fatal("pending must stay non-zero while the first send is unresolved")
	}

	r1(sendAck{topic: "t", offset: 1})
	if got := l.pending(); got != 0 {
		t.Fatalf("pending = %d after all resolved, want 0", got)
	}
	last := l.lastAcked()
	if last == nil || last.offset != 3 {
		t.Fatalf("lastAcked = %+v, want offset 3", last)
	}
}

func TestLedgerResolveIsIdempotent(t *testing.T) {
	l := newLedger()
	r1 := l.track()
	l.track()

	r1(sendAck{offset: 1})
	r1(sendAck{offset: 1})
	if got := l.pending(); got != 1 {
		t.Fatalf("pending = %d after double resolve, want 1", got)
	}
}

func TestLedgerInterleavedTrackResolve(t *testing.T) {
	l := newLedger()
	r1 := l.track()
	r1(sendAck{offset: 10})
	if l.pending() != 0 {
		t.Fatal("single resolved send must settle")
	}

	r2 := l.track()
	if l.pending() != 1 {
		t.Fatal("new send must reopen the barrier")
	}
	r2(sendAck{offset: 11})
	if l.pending() != 0 {
		t.Fatal("barrier must close again")
	}
	if last := l.lastAcked(); last == nil || last.offset != 11 {
		t.Fatalf("lastAcked = %+v, want offset 11", last)
	}
}
