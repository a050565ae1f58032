package lockstep

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xurengithub/locksync/internal/wire"
)

// Transmitter is the single execution context that periodically drains
// every peer's SendQueue into outbound datagrams, piggybacking any
// FrameAck snapshots the Receiver produced since the last tick.
type Transmitter struct {
	conn    PacketConn
	codec   wire.Codec
	peers   PeerTable
	queues  map[HostID]*SendQueue
	mailbox *ackMailbox

	period             time.Duration
	retransmitInterval time.Duration
	selfID             HostID

	log *logrus.Entry
}

// NewTransmitter builds a Transmitter for a host's outbound SendQueues.
// period is the transmit tick rate, which should be well under the
// interframe interval; retransmitInterval governs
// SendQueue.DrainForTransmission.
func NewTransmitter(conn PacketConn, codec wire.Codec, peers PeerTable, queues map[HostID]*SendQueue, mailbox *ackMailbox, selfID HostID, period, retransmitInterval time.Duration, log *logrus.Entry) *Transmitter {
	if codec == nil {
		codec = wire.JSONCodec{}
	}
	return &Transmitter{
		conn:               conn,
		codec:              codec,
		peers:              peers,
		queues:             queues,
		mailbox:            mailbox,
		period:             period,
		retransmitInterval: retransmitInterval,
		selfID:             selfID,
		log:                log.WithField("component", "transmitter"),
	}
}

// Run ticks every t.period until ctx is cancelled.
func (t *Transmitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			t.tick(now)
		}
	}
}

func (t *Transmitter) tick(now time.Time) {
	acks := t.mailbox.drain()

	for dest, sq := range t.queues {
		due := sq.DrainForTransmission(now, t.retransmitInterval)
		ack, hasAck := acks[dest]

		if len(due) == 0 && !hasAck {
			continue
		}

		d := wire.Datagram{}
		if len(due) > 0 {
			recs := make([]wire.FrameInputRecord, len(due))
			for i, in := range due {
				recs[i] = wire.FrameInputRecord{Frame: int64(in.Frame), Command: in.Command}
			}
			d.Inputs = &wire.FrameInputBatch{SenderID: int(t.selfID), Inputs: recs}
		}
		if hasAck {
			sel := make([]int64, len(ack.Selective))
			for i, s := range ack.Selective {
				sel[i] = int64(s)
			}
			d.Acks = &wire.AckBatch{
				SenderID: int(t.selfID),
				Acks:     []wire.FrameAckRecord{{Cumulative: int64(ack.Cumulative), Selective: sel}},
			}
		}

		t.send(dest, d)
	}
}

func (t *Transmitter) send(dest HostID, d wire.Datagram) {
	addr, ok := t.peers.AddrOf(dest)
	if !ok {
		t.log.WithField("dest", int(dest)).Debug("no address for destination, dropping datagram")
		return
	}
	b, err := t.codec.Encode(d)
	if err != nil {
		t.log.WithError(err).WithField("dest", int(dest)).Debug("failed to encode datagram")
		return
	}
	if _, err := t.conn.WriteTo(b, addr); err != nil {
		t.log.WithError(err).WithField("dest", int(dest)).Debug("failed to write datagram")
	}
}
