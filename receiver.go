package lockstep

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xurengithub/locksync/internal/wire"
)

// Receiver is the single execution context that blocks on the datagram
// socket, demultiplexing each incoming datagram into either a
// ReceiveQueue push or a SendQueue ack application. It is the only
// writer of ReceiveQueue slots and the only caller of SendQueue.OnAck.
type Receiver struct {
	conn  PacketConn
	codec wire.Codec

	receiveQueues map[HostID]ReceiveQueue
	sendQueues    map[HostID]*SendQueue
	mailbox       *ackMailbox

	reportFatal func(error)
	log         *logrus.Entry
}

// NewReceiver wires a Receiver to the queues it demultiplexes into.
// mailbox receives every FrameAck a push produces, for the Transmitter
// to piggyback; reportFatal is invoked at most once, the first time a
// fatal condition (§7) is observed, and should trigger coordinator
// teardown.
func NewReceiver(conn PacketConn, codec wire.Codec, receiveQueues map[HostID]ReceiveQueue, sendQueues map[HostID]*SendQueue, mailbox *ackMailbox, reportFatal func(error), log *logrus.Entry) *Receiver {
	if codec == nil {
		codec = wire.JSONCodec{}
	}
	return &Receiver{
		conn:          conn,
		codec:         codec,
		receiveQueues: receiveQueues,
		sendQueues:    sendQueues,
		mailbox:       mailbox,
		reportFatal:   reportFatal,
		log:           log.WithField("component", "receiver"),
	}
}

// Run blocks reading datagrams until ctx is cancelled or a fatal
// condition occurs. Cancellation is observed by closing the socket
// (done by the caller, typically the Coordinator, via context teardown),
// which unblocks the pending ReadFrom.
func (r *Receiver) Run(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := r.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			fatal := newFatalError(errors.Wrap(err, "receiver: socket closed unexpectedly"))
			r.log.WithError(err).Error("socket read failed")
			r.reportFatal(fatal)
			return fatal
		}

		datagram, err := r.codec.Decode(buf[:n])
		if err != nil {
			r.log.WithError(err).Debug("dropping malformed datagram")
			continue
		}

		if err := r.handle(datagram); err != nil {
			r.reportFatal(err)
			return err
		}
	}
}

func (r *Receiver) handle(d wire.Datagram) error {
	if d.Inputs != nil {
		if err := r.handleInputBatch(*d.Inputs); err != nil {
			return err
		}
	}
	if d.Acks != nil {
		if err := r.handleAckBatch(*d.Acks); err != nil {
			return err
		}
	}
	return nil
}

func (r *Receiver) handleInputBatch(batch wire.FrameInputBatch) error {
	sender := HostID(batch.SenderID)
	rq, ok := r.receiveQueues[sender]
	if !ok {
		return newFatalError(errors.Wrapf(ErrUnknownSender, "sender %d", sender))
	}

	inputs := make([]FrameInput, 0, len(batch.Inputs))
	for _, rec := range batch.Inputs {
		if rec.Frame < 0 {
			return newFatalError(errors.Wrapf(ErrNegativeFrame, "sender %d frame %d", sender, rec.Frame))
		}
		inputs = append(inputs, FrameInput{Frame: FrameNumber(rec.Frame), Command: Command(rec.Command)})
	}

	ack := rq.PushBatch(inputs)
	r.mailbox.put(sender, ack)
	return nil
}

func (r *Receiver) handleAckBatch(batch wire.AckBatch) error {
	sender := HostID(batch.SenderID)
	sq, ok := r.sendQueues[sender]
	if !ok {
		return newFatalError(errors.Wrapf(ErrUnknownSender, "sender %d", sender))
	}
	for _, rec := range batch.Acks {
		if rec.Cumulative < -1 {
			return newFatalError(errors.Wrapf(ErrNegativeFrame, "sender %d cumulative %d", sender, rec.Cumulative))
		}
		sel := make([]FrameNumber, len(rec.Selective))
		for i, s := range rec.Selective {
			sel[i] = FrameNumber(s)
		}
		sq.OnAck(FrameAck{Cumulative: FrameNumber(rec.Cumulative), Selective: sel})
	}
	return nil
}

// ackMailbox holds at most one outstanding FrameAck snapshot per peer,
// accumulated by the Receiver and drained by the Transmitter each tick.
// Only the most recent snapshot matters because a FrameAck is always a
// full cumulative+selective snapshot, never a delta.
type ackMailbox struct {
	mu  sync.Mutex
	box map[HostID]FrameAck
}

func newAckMailbox() *ackMailbox {
	return &ackMailbox{box: make(map[HostID]FrameAck)}
}

func (m *ackMailbox) put(peer HostID, ack FrameAck) {
	m.mu.Lock()
	m.box[peer] = ack
	m.mu.Unlock()
}

// drain returns and clears every outstanding ack.
func (m *ackMailbox) drain() map[HostID]FrameAck {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.box) == 0 {
		return nil
	}
	out := m.box
	m.box = make(map[HostID]FrameAck)
	return out
}
