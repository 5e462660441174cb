// Package shared provides venue-neutral feed machinery reused by adapters.
package shared

// SeqResult classifies a sequence number against the connection cursor.
type SeqResult int

const (
	// SeqInOrder means the message is the next expected one.
	SeqInOrder SeqResult = iota
	// SeqGap means one or more messages were lost before this one.
	SeqGap
	// SeqStale means the message is a duplicate or out-of-order replay.
	SeqStale
)

func (r SeqResult) String() string {
	switch r {
	case SeqInOrder:
		return "in_order"
	case SeqGap:
		return "gap"
	case SeqStale:
		return "stale"
	default:
		return "unknown"
	}
}

// SequenceTracker validates the per-connection monotonic sequence counter.
// The first value observed after a (re)connect always seeds the cursor. The
// cursor advances on SeqInOrder and SeqGap and never rewinds on SeqStale.
//
// The tracker is driven exclusively from the inbound-message goroutine and
// carries no locking of its own.
type SequenceTracker struct {
	seeded bool
	cursor uint64
}

// NewSequenceTracker returns a tracker in the unseeded state.
func NewSequenceTracker() *SequenceTracker {
	return new(SequenceTracker)
}

// Accept classifies seq and advances the cursor accordingly.
func (t *SequenceTracker) Accept(seq uint64) SeqResult {
	if !t.seeded {
		t.seeded = true
		t.cursor = seq
		return SeqInOrder
	}
	switch {
	case seq == t.cursor+1:
		t.cursor = seq
		return SeqInOrder
	case seq > t.cursor+1:
		t.cursor = seq
		return SeqGap
	default:
		return SeqStale
	}
}

// Reset returns the tracker to the unseeded state, as required on reconnect.
func (t *SequenceTracker) Reset() {
	t.seeded = false
	t.cursor = 0
}
