package lockstep

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"
)

// MapReceiveQueue is the sparse-map-backed ReceiveQueue variant used by a
// server multiplexing many senders. It satisfies the identical
// ReceiveQueue contract as RingReceiveQueue; the only behavioral
// difference is that an unbounded sparse map, rather than a fixed array,
// holds the acceptance window, which matters when one component extracts
// from many such queues in a poll loop rather than a single coordinator
// blocking per-queue. The server-side fan-out consumer itself is a host
// application's responsibility; only the queue contract is provided so
// that consumer has somewhere to plug in.
type MapReceiveQueue struct {
	mu sync.Mutex

	sender   HostID
	capacity int

	base        FrameNumber
	lastInOrder FrameNumber
	buffer      map[FrameNumber]Command
	selective   frameHeap
	selectiveIn map[FrameNumber]bool

	notifier Notifier
	log      *logrus.Entry
}

// NewMapReceiveQueue mirrors NewRingReceiveQueue's constructor contract.
func NewMapReceiveQueue(sender HostID, capacity int, firstFrame FrameNumber, notifier Notifier) *MapReceiveQueue {
	if capacity <= 0 {
		panic("lockstep: receive queue capacity must be positive")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &MapReceiveQueue{
		sender:      sender,
		capacity:    capacity,
		base:        firstFrame,
		lastInOrder: firstFrame - 1,
		buffer:      make(map[FrameNumber]Command),
		selectiveIn: make(map[FrameNumber]bool),
		notifier:    notifier,
		log:         logrus.WithField("sender", int(sender)).WithField("component", "map_receive_queue"),
	}
}

func (q *MapReceiveQueue) Sender() HostID { return q.sender }

func (q *MapReceiveQueue) Push(in FrameInput) FrameAck {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(in)
	return q.ackLocked()
}

func (q *MapReceiveQueue) PushBatch(ins []FrameInput) FrameAck {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, in := range ins {
		q.pushLocked(in)
	}
	return q.ackLocked()
}

func (q *MapReceiveQueue) pushLocked(in FrameInput) {
	if in.Frame < q.base || in.Frame > q.base+FrameNumber(q.capacity)-1 {
		q.log.WithField("frame", int64(in.Frame)).Debug("dropping frame outside acceptance window")
		return
	}
	if _, dup := q.buffer[in.Frame]; dup {
		q.log.WithField("frame", int64(in.Frame)).Debug("dropping duplicate frame")
		return
	}
	wasBaseEmpty := !q.headOccupiedLocked()

	q.buffer[in.Frame] = in.Command

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

	if wasBaseEmpty && q.headOccupiedLocked() {
		q.notifier.HeadReady(q.sender)
	}
}

func (q *MapReceiveQueue) headOccupiedLocked() bool {
	_, ok := q.buffer[q.base]
	return ok
}

func (q *MapReceiveQueue) Pop() (FrameInput, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.buffer[q.base]
	if !ok {
		return FrameInput{}, false
	}
	in := FrameInput{Frame: q.base, Command: cmd}
	delete(q.buffer, q.base)
	q.base++

	if q.headOccupiedLocked() {
		q.notifier.HeadReady(q.sender)
	}
	return in, true
}

func (q *MapReceiveQueue) Ack() FrameAck {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ackLocked()
}

func (q *MapReceiveQueue) ackLocked() FrameAck {
	sel := make([]FrameNumber, len(q.selective))
	copy(sel, q.selective)
	return FrameAck{Cumulative: q.lastInOrder, Selective: sel}
}

func (q *MapReceiveQueue) HeadReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.headOccupiedLocked()
}
