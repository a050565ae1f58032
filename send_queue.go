package lockstep

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// pendingFrame is one unacked outbound FrameInput plus its last-transmit
// timestamp; a zero time means "never transmitted", so the next
// transmit tick always picks it up.
type pendingFrame struct {
	input        FrameInput
	lastTransmit time.Time
	selectiveAck bool
}

// SendQueue holds one local-to-remote flow's unacknowledged frames and
// decides, on each transmit tick, which of them need (re)sending.
// Enqueue is called by the Coordinator; OnAck is called by the
// Receiver; DrainForTransmission is called by the Transmitter. A single
// mutex around the pending collection is sufficient given the low
// contention (at most tick-rate x peers operations per second).
type SendQueue struct {
	mu sync.Mutex

	dest HostID

	firstUnacked FrameNumber
	lastEnqueued FrameNumber
	pending      map[FrameNumber]*pendingFrame

	log *logrus.Entry
}

// NewSendQueue creates a SendQueue destined for dest, starting from
// firstFrame (the handshake's negotiated first frame number).
func NewSendQueue(dest HostID, firstFrame FrameNumber) *SendQueue {
	return &SendQueue{
		dest:         dest,
		firstUnacked: firstFrame,
		pending:      make(map[FrameNumber]*pendingFrame),
		log:          logrus.WithField("dest", int(dest)).WithField("component", "send_queue"),
	}
}

// Dest returns the destination this queue transmits to.
func (s *SendQueue) Dest() HostID { return s.dest }

// Enqueue appends a locally produced FrameInput. The frame number must be
// strictly greater than the last enqueued frame; this is the
// Coordinator's responsibility to uphold (it only ever enqueues the
// current, advancing, tick).
func (s *SendQueue) Enqueue(in FrameInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[in.Frame] = &pendingFrame{input: in}
	s.lastEnqueued = in.Frame
}

// OnAck applies a FrameAck received from the peer: frames at or below
// Cumulative are retired and firstUnacked advances past them; frames in
// Selective are marked so they stop being retransmitted without
// retiring the prefix before them. Selective acks never advance
// firstUnacked; only the cumulative ack does that.
func (s *SendQueue) OnAck(ack FrameAck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ack.Cumulative+1 > s.firstUnacked {
		for n := s.firstUnacked; n <= ack.Cumulative; n++ {
			delete(s.pending, n)
		}
		s.firstUnacked = ack.Cumulative + 1
	}

	for _, n := range ack.Selective {
		if n < s.firstUnacked {
			continue
		}
		if pf, ok := s.pending[n]; ok {
			pf.selectiveAck = true
		}
	}
}

// DrainForTransmission returns every pending frame that is due for
// (re)transmission at time now: never transmitted, or last transmitted
// more than retransmitInterval ago, and not selectively acked. Their
// timestamps are updated to now as a side effect. The returned slice is
// sorted by frame number for deterministic wire ordering.
func (s *SendQueue) DrainForTransmission(now time.Time, retransmitInterval time.Duration) []FrameInput {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]FrameInput, 0, len(s.pending))
	for n := s.firstUnacked; n <= s.lastEnqueued; n++ {
		pf, ok := s.pending[n]
		if !ok || pf.selectiveAck {
			continue
		}
		if pf.lastTransmit.IsZero() || now.Sub(pf.lastTransmit) >= retransmitInterval {
			due = append(due, pf.input)
			pf.lastTransmit = now
		}
	}
	return due
}

// Empty reports whether every enqueued frame has been cumulatively
// acked.
func (s *SendQueue) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}
