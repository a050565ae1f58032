package lockstep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xurengithub/locksync/internal/wire"
)

// Application is the capability set the core consumes from the host.
// ReadInput must return a value every tick, even an "idle" command;
// ExecuteFrame must be a deterministic application of one command;
// Suspend/Resume are paired UI/render hooks called around a barrier
// wait; FillCommands supplies the bootstrap priming commands.
type Application interface {
	ReadInput() Command
	ExecuteFrame(FrameInput)
	SuspendSimulation()
	ResumeSimulation()
	FillCommands() []Command
}

// FatalHandler is an optional Application extension. When implemented,
// OnFatal is called exactly once with the error that forced teardown; it
// must not be swallowed silently.
type FatalHandler interface {
	OnFatal(error)
}

// HandshakeResult is the data an external handshake collaborator must
// deliver before the tick loop starts.
type HandshakeResult struct {
	OwnHostID         HostID
	FirstFrameNumber  FrameNumber
	ServerUDPEndpoint string
	PeerHostIDs       []HostID
}

// Coordinator runs the tick state machine and owns the Receiver and
// Transmitter execution contexts that back it. It is the only popper of
// every ReceiveQueue and the only enqueuer of every SendQueue.
type Coordinator struct {
	app    Application
	params Params
	selfID HostID
	peers  []HostID // stable order, fixed at construction

	localQueue   ReceiveQueue
	remoteQueues map[HostID]ReceiveQueue
	sendQueues   map[HostID]*SendQueue
	barrier      *Barrier
	mailbox      *ackMailbox

	conn        PacketConn
	receiver    *Receiver
	transmitter *Transmitter

	currentFrame FrameNumber

	fatalOnce sync.Once
	fatalErr  error
	cancel    context.CancelFunc

	runID uuid.UUID
	log   *logrus.Entry
}

// NewCoordinator wires every queue and execution context for one
// simulation participant. conn and peers are transport collaborators a
// host application owns; codec defaults to wire.JSONCodec if nil.
func NewCoordinator(hs HandshakeResult, app Application, params Params, conn PacketConn, peers PeerTable, codec wire.Codec) *Coordinator {
	params = params.WithDefaults()
	runID := uuid.New()
	log := logrus.WithFields(logrus.Fields{
		"run_id":  runID.String(),
		"host_id": int(hs.OwnHostID),
	})

	barrier := NewBarrier(hs.PeerHostIDs)

	c := &Coordinator{
		app:          app,
		params:       params,
		selfID:       hs.OwnHostID,
		peers:        append([]HostID(nil), hs.PeerHostIDs...),
		remoteQueues: make(map[HostID]ReceiveQueue, len(hs.PeerHostIDs)),
		sendQueues:   make(map[HostID]*SendQueue, len(hs.PeerHostIDs)),
		barrier:      barrier,
		mailbox:      newAckMailbox(),
		conn:         conn,
		currentFrame: hs.FirstFrameNumber,
		runID:        runID,
		log:          log,
	}

	c.localQueue = NewRingReceiveQueue(hs.OwnHostID, params.Capacity, hs.FirstFrameNumber, nil)
	for _, peer := range hs.PeerHostIDs {
		c.remoteQueues[peer] = NewRingReceiveQueue(peer, params.Capacity, hs.FirstFrameNumber, barrier.AsNotifier())
		c.sendQueues[peer] = NewSendQueue(peer, hs.FirstFrameNumber)
	}

	c.receiver = NewReceiver(conn, codec, c.remoteQueues, c.sendQueues, c.mailbox, c.reportFatal, log)

	transmitPeriod := params.InterframeTime / 4
	if transmitPeriod <= 0 {
		transmitPeriod = 5 * time.Millisecond
	}
	c.transmitter = NewTransmitter(conn, codec, peers, c.sendQueues, c.mailbox, hs.OwnHostID, transmitPeriod, params.RetransmitInterval, log)

	return c
}

// Run starts the Receiver, Transmitter and tick loop and blocks until
// ctx is cancelled, a fatal error occurs, or the tick loop itself
// returns an error. Cancelling ctx is the shared stop flag every
// execution context watches; Run closes the transport socket on the way
// out so the Receiver observes cancellation at its next suspension
// point.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		c.barrier.Close()
		return c.conn.Close()
	})
	g.Go(func() error {
		return c.receiver.Run(gctx)
	})
	g.Go(func() error {
		return c.transmitter.Run(gctx)
	})
	g.Go(func() error {
		return c.runTickLoop(gctx)
	})

	err := g.Wait()
	if c.fatalErr != nil {
		return c.fatalErr
	}
	return err
}

// reportFatal is called by the Receiver the first time a fatal condition
// is observed internally, routing through the same teardown path
// Shutdown exposes to a host application.
func (c *Coordinator) reportFatal(err error) {
	_ = c.Shutdown(err)
}

// Shutdown tears the coordinator down: it cancels the shared context
// every execution context watches, and delivers err to the host
// application through Application.OnFatal, if implemented. A host
// application may call it directly to surface a fatal condition it
// detected itself (e.g. from outside the tick loop) through the same
// path the Receiver uses internally. Safe to call more than once: only
// the first call's err is ever delivered to OnFatal or returned from
// Run; every later call is a no-op that returns ErrClosed.
func (c *Coordinator) Shutdown(err error) error {
	first := false
	c.fatalOnce.Do(func() {
		first = true
		c.fatalErr = err
		c.log.WithError(err).Error("fatal condition, tearing down")
		if fh, ok := c.app.(FatalHandler); ok {
			fh.OnFatal(err)
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.barrier.Close()
	})
	if !first {
		return ErrClosed
	}
	return nil
}

func (c *Coordinator) runTickLoop(ctx context.Context) error {
	c.bootstrap()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.collectLocal()

		if !c.waitBarrier(ctx) {
			return nil
		}

		c.executeFrame()

		c.currentFrame++

		select {
		case <-time.After(c.params.InterframeTime):
		case <-ctx.Done():
			return nil
		}
	}
}

// bootstrap primes the network pipeline: FillCommands is called once,
// and each priming command is pushed to the local queue and every
// SendQueue exactly like a normal tick's local input, without waiting on
// the barrier.
func (c *Coordinator) bootstrap() {
	for _, cmd := range c.app.FillCommands() {
		c.pushLocal(cmd)
		c.currentFrame++
	}
}

func (c *Coordinator) collectLocal() {
	c.pushLocal(c.app.ReadInput())
}

func (c *Coordinator) pushLocal(cmd Command) {
	in := FrameInput{Frame: c.currentFrame, Command: cmd}
	c.localQueue.Push(in)
	for _, sq := range c.sendQueues {
		sq.Enqueue(in)
	}
}

// waitBarrier blocks until every remote ReceiveQueue's head is ready,
// invoking Suspend/Resume only when a wait actually happens. It returns
// false if the barrier was closed out from under it (coordinator
// shutting down).
func (c *Coordinator) waitBarrier(ctx context.Context) bool {
	if c.barrier.AllReady() {
		return true
	}
	c.app.SuspendSimulation()
	ready := c.barrier.Wait()
	if !ready {
		return false
	}
	c.app.ResumeSimulation()
	return true
}

// executeFrame pops exactly one FrameInput from every ReceiveQueue
// (local first, then peers in the fixed handshake order) and hands each
// to the application; this ordering must stay stable across ticks.
func (c *Coordinator) executeFrame() {
	if in, ok := c.localQueue.Pop(); ok {
		c.app.ExecuteFrame(in)
	}

	for _, peer := range c.peers {
		rq := c.remoteQueues[peer]
		in, ok := rq.Pop()
		if !ok {
			c.barrier.MarkNotReady(peer)
			continue
		}
		c.app.ExecuteFrame(in)
		if !rq.HeadReady() {
			c.barrier.MarkNotReady(peer)
		}
	}
}
