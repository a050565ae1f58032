package lockstep

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"
)

// ReceiveQueue reassembles a contiguous prefix of one remote sender's
// infinite input stream. Exactly one goroutine may call Pop; any number
// may call Push concurrently with each other and with the single popper.
type ReceiveQueue interface {
	// Push inserts one FrameInput, discarding it if it falls outside the
	// acceptance window or duplicates an already-received frame. Returns
	// the resulting FrameAck snapshot.
	Push(in FrameInput) FrameAck

	// PushBatch inserts every FrameInput in order; equivalent to calling
	// Push for each, returning the FrameAck after the last one applied.
	PushBatch(ins []FrameInput) FrameAck

	// Pop returns the FrameInput at the current base and advances the
	// window, or returns ok=false if the head slot is still empty.
	Pop() (in FrameInput, ok bool)

	// Ack returns the current FrameAck snapshot without mutating state.
	Ack() FrameAck

	// HeadReady reports whether the slot at base is currently occupied.
	HeadReady() bool

	// Sender returns the HostID this queue reassembles frames for.
	Sender() HostID
}

// frameHeap is a min-heap of out-of-order, not-yet-contiguous frame
// numbers, used as the selective-ack ordered set. Capacity is bounded by
// the receive window, so a heap is simple and plenty fast.
type frameHeap []FrameNumber

func (h frameHeap) Len() int            { return len(h) }
func (h frameHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x interface{}) { *h = append(*h, x.(FrameNumber)) }
func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// RingReceiveQueue is the fixed-capacity, ring-buffer-backed ReceiveQueue
// variant used for the client/peer-to-peer shape, where each side tracks
// a small, bounded number of remote queues. It is a strict space
// optimization of MapReceiveQueue: same contract, array instead of map.
type RingReceiveQueue struct {
	mu sync.Mutex

	sender   HostID
	capacity int

	base        FrameNumber
	lastInOrder FrameNumber
	occupied    []bool
	slots       []Command
	selective   frameHeap
	selectiveIn map[FrameNumber]bool

	notifier Notifier
	log      *logrus.Entry
}

// NewRingReceiveQueue creates a ReceiveQueue for sender with the given
// capacity and first-frame-number base, as negotiated during the
// handshake. A nil notifier is replaced with a no-op.
func NewRingReceiveQueue(sender HostID, capacity int, firstFrame FrameNumber, notifier Notifier) *RingReceiveQueue {
	if capacity <= 0 {
		panic("lockstep: receive queue capacity must be positive")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &RingReceiveQueue{
		sender:      sender,
		capacity:    capacity,
		base:        firstFrame,
		lastInOrder: firstFrame - 1,
		occupied:    make([]bool, capacity),
		slots:       make([]Command, capacity),
		selectiveIn: make(map[FrameNumber]bool),
		notifier:    notifier,
		log:         logrus.WithField("sender", int(sender)).WithField("component", "receive_queue"),
	}
}

func (q *RingReceiveQueue) Sender() HostID { return q.sender }

func (q *RingReceiveQueue) slot(frame FrameNumber) int {
	return int((frame%FrameNumber(q.capacity) + FrameNumber(q.capacity)) % FrameNumber(q.capacity))
}

func (q *RingReceiveQueue) Push(in FrameInput) FrameAck {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(in)
	return q.ackLocked()
}

func (q *RingReceiveQueue) PushBatch(ins []FrameInput) FrameAck {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, in := range ins {
		q.pushLocked(in)
	}
	return q.ackLocked()
}

func (q *RingReceiveQueue) pushLocked(in FrameInput) {
	if in.Frame < q.base || in.Frame > q.base+FrameNumber(q.capacity)-1 {
		q.log.WithField("frame", int64(in.Frame)).Debug("dropping frame outside acceptance window")
		return
	}
	idx := q.slot(in.Frame)
	if q.occupied[idx] {
		q.log.WithField("frame", int64(in.Frame)).Debug("dropping duplicate frame")
		return
	}
	q.occupied[idx] = true
	q.slots[idx] = in.Command

	if in.Frame == q.lastInOrder+1 {
		q.lastInOrder++
		for len(q.selective) > 0 && q.selective[0] == q.lastInOrder+1 {
			m := heap.Pop(&q.selective).(FrameNumber)
			delete(q.selectiveIn, m)
			q.lastInOrder++
		}
	} else if !q.selectiveIn[in.Frame] {
		heap.Push(&q.selective, in.Frame)
		q.selectiveIn[in.Frame] = true
	}

	if idx == q.slot(q.base) {
		q.notifier.HeadReady(q.sender)
	}
}

func (q *RingReceiveQueue) Pop() (FrameInput, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.slot(q.base)
	if !q.occupied[idx] {
		return FrameInput{}, false
	}
	in := FrameInput{Frame: q.base, Command: q.slots[idx]}
	q.occupied[idx] = false
	q.slots[idx] = nil
	q.base++

	if q.occupied[q.slot(q.base)] {
		q.notifier.HeadReady(q.sender)
	}
	return in, true
}

func (q *RingReceiveQueue) Ack() FrameAck {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ackLocked()
}

func (q *RingReceiveQueue) ackLocked() FrameAck {
	sel := make([]FrameNumber, len(q.selective))
	copy(sel, q.selective)
	return FrameAck{Cumulative: q.lastInOrder, Selective: sel}
}

func (q *RingReceiveQueue) HeadReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.occupied[q.slot(q.base)]
}
