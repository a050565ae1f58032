package lockstep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xurengithub/locksync/internal/wire"
)

func TestTransmitter_DrainsPendingFramesAndAcks(t *testing.T) {
	fab := newFabric()
	self := fab.newConn("self")
	peerConn := fab.newConn("peer")

	const peerID HostID = 5
	const selfID HostID = 1
	sq := NewSendQueue(peerID, 0)
	sq.Enqueue(FrameInput{Frame: 0, Command: cmd("hi")})

	mailbox := newAckMailbox()
	mailbox.put(peerID, FrameAck{Cumulative: 3, Selective: []FrameNumber{5}})

	peers := fakePeerTable{peerID: peerConn.addr}
	tx := NewTransmitter(self, wire.JSONCodec{}, peers, map[HostID]*SendQueue{peerID: sq}, mailbox, selfID,
		5*time.Millisecond, time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tx.Run(ctx) }()

	n, err := readWithTimeout(t, peerConn, time.Second)
	require.NoError(t, err)
	d, err := wire.JSONCodec{}.Decode(n)
	require.NoError(t, err)
	require.NotNil(t, d.Inputs)
	assert.Equal(t, int(selfID), d.Inputs.SenderID)
	require.Len(t, d.Inputs.Inputs, 1)
	assert.Equal(t, int64(0), d.Inputs.Inputs[0].Frame)

	require.NotNil(t, d.Acks)
	assert.Equal(t, int64(3), d.Acks.Acks[0].Cumulative)
	assert.ElementsMatch(t, []int64{5}, d.Acks.Acks[0].Selective)
}

func readWithTimeout(t *testing.T, c *fakeConn, timeout time.Duration) ([]byte, error) {
	t.Helper()
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 64*1024)
		n, _, err := c.ReadFrom(buf)
		ch <- result{b: buf[:n], err: err}
	}()
	select {
	case r := <-ch:
		return r.b, r.err
	case <-time.After(timeout):
		t.Fatal("timed out waiting for datagram")
		return nil, nil
	}
}

func TestTransmitter_NothingPendingEmitsNothing(t *testing.T) {
	fab := newFabric()
	self := fab.newConn("self")
	peerConn := fab.newConn("peer")

	const peerID HostID = 5
	sq := NewSendQueue(peerID, 0)
	mailbox := newAckMailbox()
	peers := fakePeerTable{peerID: peerConn.addr}

	tx := NewTransmitter(self, wire.JSONCodec{}, peers, map[HostID]*SendQueue{peerID: sq}, mailbox, 1,
		5*time.Millisecond, time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = tx.Run(ctx) }()
	defer cancel()

	select {
	case <-peerConn.inbox:
		t.Fatal("transmitter emitted a datagram with nothing pending")
	case <-time.After(50 * time.Millisecond):
	}
}
