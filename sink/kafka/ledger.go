package kafka

// sendAck identifies one acknowledged produce.
type sendAck struct {
	topic     string
	partition int32
	offset    int64
}

type node struct {
	pos        int64
	ack        sendAck
	done       bool
	carried    bool // ack ridden backward from a later resolved node
	prev, next *node
}

// ledger tracks in-flight asynchronous sends. Each submit registers a node
// and gets back a resolve-once closure; resolving unlinks the node, and the
// payload of the longest settled prefix survives as lastAcked. The barrier
// "everything acknowledged" is pending() == 0.
type ledger struct {
	cpPos      int64
	cpAck      *sendAck
	start, end *node
}

func newLedger() *ledger { return &ledger{} }

func (l *ledger) track() func(sendAck) {
	n := &node{pos: 1}
	if l.start == nil {
		l.start = n
	}
	if l.end != nil {
		n.prev = l.end
		n.pos += l.end.pos
		l.end.next = n
	} else {
		n.pos += l.cpPos
	}
	l.end = n
	return func(ack sendAck) {
		if n.done {
			return
		}
		n.done = true
		if !n.carried {
			n.ack = ack
		}
		if n.prev != nil {
			n.prev.pos = n.pos
			n.prev.ack = n.ack
			n.prev.carried = true
			n.prev.next = n.next
		} else {
			tmp := n.ack
			l.cpAck, l.cpPos = &tmp, n.pos
			l.start = n.next
		}
		if n.next != nil {
			n.next.prev = n.prev
		} else {
			l.end = n.prev
		}
	}
}

// pending is the number of sends not yet settled into the contiguous prefix;
// zero means every tracked send has resolved.
func (l *ledger) pending() int64 {
	if l.end == nil {
		return 0
	}
	return l.end.pos - l.cpPos
}

// lastAcked is the newest send of the fully settled prefix, nil before the
// first settle.
func (l *ledger) lastAcked() *sendAck { return l.cpAck }
