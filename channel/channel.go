// Package channel implements the thread-safe, bidirectional packet pipe
// over one TCP socket described in spec §3/§4.2: a paired write-loop and
// read-loop goroutine, merged-write batching, periodic heartbeat, and the
// graceful "offline" drain handshake.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xrpc/framereader"
	"xrpc/listener"
	"xrpc/packet"
	"xrpc/rpcerr"
)

// State is the channel's monotonic lifecycle: Uninitialized → Normal →
// Closed. It never moves backwards.
type State int32

const (
	Uninitialized State = iota
	Normal
	Closed
)

// offlineGrace is how long a channel stays open after receiving an OFFLINE
// request, so in-flight responses can still be written.
const offlineGrace = 60 * time.Second

// Options configures a Channel. A zero HeartbeatPeriod selects the 30s
// default; a negative HeartbeatPeriod disables heartbeats (the write loop
// then blocks indefinitely on an empty queue). Zero does not disable them.
type Options struct {
	HeartbeatPeriod  time.Duration
	BatchThreshold   int // approximate socket send-buffer size used for write batching
	Listener         listener.Channel
	Logger           *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.HeartbeatPeriod == 0 {
		o.HeartbeatPeriod = 30 * time.Second
	}
	if o.BatchThreshold <= 0 {
		o.BatchThreshold = 64 * 1024
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Channel owns one TCP socket, its outbound queue, and its read/write
// worker pair.
type Channel struct {
	conn net.Conn
	bw   *bufio.Writer
	host string
	opts Options

	state           atomic.Int32
	offlineReceived atomic.Bool

	queue  *outboundQueue
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New wraps an already-connected socket. Init must be called to start the
// workers.
func New(conn net.Conn, opts Options) *Channel {
	opts = opts.withDefaults()
	ch := &Channel{
		conn:  conn,
		opts:  opts,
		queue: newOutboundQueue(),
	}
	if conn != nil {
		ch.bw = bufio.NewWriterSize(conn, opts.BatchThreshold)
		ch.host = conn.RemoteAddr().String()
	}
	return ch
}

// Host returns the "host:port" of the remote peer.
func (c *Channel) Host() string { return c.host }

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

// IsActive reports whether the channel can still accept sends: NORMAL and
// no OFFLINE request has been observed from the peer.
func (c *Channel) IsActive() bool {
	return c.State() == Normal && !c.offlineReceived.Load()
}

// Init starts the read and write workers. It is idempotent: calling it
// again on an already-Normal or Closed channel is a no-op. It fails if the
// socket is not connected.
func (c *Channel) Init() error {
	if !c.state.CompareAndSwap(int32(Uninitialized), int32(Normal)) {
		return nil
	}
	if c.conn == nil {
		c.state.Store(int32(Closed))
		return fmt.Errorf("xrpc/channel: socket not connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.readLoop(gctx) })

	go func() {
		_ = g.Wait()
		_ = c.Close()
	}()
	return nil
}

// Send enqueues p for delivery; it never blocks. It fails if the channel is
// not Normal or has received an OFFLINE request from the peer.
func (c *Channel) Send(p *packet.Packet) error {
	if !c.IsActive() {
		return fmt.Errorf("xrpc/channel: %w: send on inactive channel", rpcerr.ErrChannelClosed)
	}
	c.queue.push(p)
	return nil
}

// sendInternal enqueues protocol-level packets (heartbeat/offline acks)
// regardless of offlineReceived, since those must flow even mid-drain.
func (c *Channel) sendInternal(p *packet.Packet) {
	if c.State() == Normal {
		c.queue.push(p)
	}
}

// Offline enqueues an OFFLINE request, beginning this side's graceful drain.
func (c *Channel) Offline() error {
	if c.State() != Normal {
		return fmt.Errorf("xrpc/channel: %w: offline on inactive channel", rpcerr.ErrChannelClosed)
	}
	c.queue.push(packet.Offline(packet.TypeRequest))
	return nil
}

// Close is idempotent: it closes the socket, stops both workers, and
// invokes the listener's OnClosed exactly once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(Closed))
		if c.cancel != nil {
			c.cancel()
		}
		c.queue.close()
		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
		if c.opts.Listener != nil {
			func() {
				defer c.recoverListenerPanic("OnClosed")
				c.opts.Listener.OnClosed(c.host, c.offlineReceived.Load())
			}()
		}
	})
	return c.closeErr
}

func (c *Channel) recoverListenerPanic(where string) {
	if r := recover(); r != nil {
		c.opts.Logger.Error("listener callback panicked",
			zap.String("callback", where), zap.Any("panic", r), zap.String("host", c.host))
	}
}

// writeLoop consumes the outbound queue, batching packets into as few
// socket writes as possible while still flushing promptly when the queue
// drains, per spec §4.2's batching policy.
func (c *Channel) writeLoop(ctx context.Context) error {
	for {
		p, ok := c.queue.tryPop()
		if !ok {
			if done, timedOut := c.waitForWork(ctx); done {
				return nil
			} else if timedOut {
				c.queue.push(packet.Heartbeat(packet.TypeRequest))
			}
			continue
		}

		batch := []*packet.Packet{p}
		batchBytes := p.Size()
		for {
			next, ok := c.queue.tryPop()
			if !ok {
				break
			}
			if batchBytes+next.Size() < c.opts.BatchThreshold {
				batch = append(batch, next)
				batchBytes += next.Size()
				continue
			}
			if err := c.flush(batch); err != nil {
				return err
			}
			batch = []*packet.Packet{next}
			batchBytes = next.Size()
		}
		if err := c.flush(batch); err != nil {
			return err
		}
	}
}

// waitForWork blocks until a packet is pushed, the heartbeat period
// elapses, or ctx is cancelled. done=true means the loop must exit;
// timedOut=true means the queue was empty for a full heartbeat period.
func (c *Channel) waitForWork(ctx context.Context) (done, timedOut bool) {
	if c.opts.HeartbeatPeriod <= 0 {
		select {
		case _, open := <-c.queue.notifyChan():
			return !open, false
		case <-ctx.Done():
			return true, false
		}
	}
	timer := time.NewTimer(c.opts.HeartbeatPeriod)
	defer timer.Stop()
	select {
	case _, open := <-c.queue.notifyChan():
		return !open, false
	case <-timer.C:
		return false, true
	case <-ctx.Done():
		return true, false
	}
}

// flush writes an entire batch into the buffered writer, then issues one
// explicit Flush — the "one write, one flush per batch" policy of spec
// §4.2, regardless of how many packets landed in the batch.
func (c *Channel) flush(batch []*packet.Packet) error {
	for _, p := range batch {
		if err := p.Encode(c.bw); err != nil {
			return err
		}
	}
	return c.bw.Flush()
}

// readLoop reads frames, answers heartbeats and the offline handshake
// itself, and routes everything else to the channel listener.
func (c *Channel) readLoop(ctx context.Context) error {
	fr := framereader.New(c.conn, c.host, nil)
	for {
		p, err := fr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.opts.Logger.Warn("channel read error", zap.String("host", c.host), zap.Error(err))
			return err
		}

		switch {
		case p.Opcode == packet.OpHeartbeat && p.Type == packet.TypeRequest:
			c.sendInternal(packet.NewResponse(packet.OpHeartbeat, 0, packet.StatusSuccess, 0, nil))
		case p.Opcode == packet.OpHeartbeat && p.Type == packet.TypeResponse:
			// ignore
		case p.Opcode == packet.OpOffline && p.Type == packet.TypeRequest:
			c.offlineReceived.Store(true)
			c.sendInternal(packet.NewResponse(packet.OpOffline, 0, packet.StatusSuccess, 0, nil))
			time.AfterFunc(offlineGrace, func() { _ = c.Close() })
		case p.Opcode == packet.OpOffline && p.Type == packet.TypeResponse:
			// ignore
		default:
			c.deliver(p)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (c *Channel) deliver(p *packet.Packet) {
	if c.opts.Listener == nil {
		return
	}
	defer c.recoverListenerPanic("OnReceive")
	c.opts.Listener.OnReceive(c.host, p)
}
