// Package directclient implements the synchronous invocation façade over a
// single channel described in spec §4.3: it correlates responses to callers
// via packet ids, enforces per-call timeouts, and translates response
// status codes into Go errors.
package directclient

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xrpc/channel"
	"xrpc/codec"
	"xrpc/listener"
	"xrpc/log"
	"xrpc/packet"
	"xrpc/rpcerr"
)

// Options configures a Client's wire behavior and observability hooks.
type Options struct {
	Serializer        codec.Serializer
	Compressor        codec.Compressor
	CompressThreshold int
	DefaultTimeout    time.Duration
	SlowThreshold     time.Duration
	HeartbeatPeriod   time.Duration
	Listener          listener.DirectClient
	Logger            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Serializer == nil {
		o.Serializer = codec.NativeSerializer{}
	}
	if o.Compressor == nil {
		o.Compressor = codec.NewDeflateCompressor(-1)
	}
	if o.CompressThreshold <= 0 {
		o.CompressThreshold = codec.DefaultCompressThreshold
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 5 * time.Second
	}
	if o.SlowThreshold <= 0 {
		o.SlowThreshold = 1 * time.Second
	}
	if o.Listener == nil {
		o.Listener = listener.NopDirectClient{}
	}
	if o.Logger == nil {
		o.Logger = log.Named("directclient")
	}
	return o
}

type pendingResult struct {
	pkt *packet.Packet
	err error
}

// Client owns one Channel and the pending-response map that correlates
// outstanding calls to responses by packet id.
type Client struct {
	ch      *channel.Channel
	opts    Options
	pending sync.Map // int64 -> chan *pendingResult
	nextID  atomic.Int64
}

// New dials addr, wraps the resulting connection in a Channel, and starts
// it. The returned Client is immediately ready to Invoke.
func New(network, addr string, opts Options) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return NewFromConn(conn, opts)
}

// NewFromConn wraps an already-connected socket.
func NewFromConn(conn net.Conn, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{opts: opts}
	c.ch = channel.New(conn, channel.Options{
		HeartbeatPeriod: opts.HeartbeatPeriod,
		Listener:        (*channelAdapter)(c),
		Logger:          opts.Logger,
	})
	if err := c.ch.Init(); err != nil {
		return nil, err
	}
	opts.Listener.OnCreated(c.ch.Host())
	return c, nil
}

// Host returns the remote peer's "host:port".
func (c *Client) Host() string { return c.ch.Host() }

// IsActive reports whether the underlying channel can still carry calls.
func (c *Client) IsActive() bool { return c.ch.IsActive() }

// Close closes the underlying channel; all pending calls observe
// rpcerr.ErrChannelClosed.
func (c *Client) Close() error { return c.ch.Close() }

// Offline begins this client's graceful-drain handshake.
func (c *Client) Offline() error { return c.ch.Offline() }

// Invoke performs a synchronous call. A zero timeout uses opts.DefaultTimeout.
func (c *Client) Invoke(method string, args []any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}

	id := c.nextID.Add(1)
	result := make(chan *pendingResult, 1)
	c.pending.Store(id, result)

	body, err := c.opts.Serializer.MarshalInvocation(&codec.Invocation{Method: method, Args: args})
	if err != nil {
		c.pending.Delete(id)
		return nil, fmt.Errorf("%w: encode request: %v", rpcerr.ErrInvocation, err)
	}

	flags := packet.MakeFlags(byte(c.opts.Serializer.ID()), false)
	if len(body) >= c.opts.CompressThreshold {
		compressed, err := c.opts.Compressor.Compress(body)
		if err == nil {
			body = compressed
			flags = packet.MakeFlags(byte(c.opts.Serializer.ID()), true)
		}
	}

	req := packet.NewRequest(packet.OpRemoteInvocation, id, flags, body)
	start := time.Now()
	if err := c.ch.Send(req); err != nil {
		c.pending.Delete(id)
		return nil, fmt.Errorf("%w: %v", rpcerr.ErrChannelClosed, err)
	}

	select {
	case res := <-result:
		if res.err != nil {
			return nil, res.err
		}
		return c.handleResponse(method, res.pkt, start)
	case <-time.After(timeout):
		c.pending.Delete(id)
		c.opts.Listener.OnTimeout(c.ch.Host(), method)
		return nil, fmt.Errorf("%w: %s after %s", rpcerr.ErrTimeout, method, timeout)
	}
}

func (c *Client) handleResponse(method string, p *packet.Packet, start time.Time) (any, error) {
	host := c.ch.Host()
	switch p.Status {
	case packet.StatusSuccess:
		body := p.Body
		if p.Flags.Compressed() {
			decompressed, err := c.opts.Compressor.Decompress(body)
			if err != nil {
				return nil, fmt.Errorf("%w: decompress response: %v", rpcerr.ErrInvocation, err)
			}
			body = decompressed
		}
		var value any
		if err := c.opts.Serializer.UnmarshalValue(body, &value); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", rpcerr.ErrInvocation, err)
		}
		if d := time.Since(start); d >= c.opts.SlowThreshold {
			c.opts.Listener.OnSlowExecution(host, method)
		}
		return value, nil
	case packet.StatusTooBusy:
		c.opts.Listener.OnTooBusy(host, method)
		return nil, fmt.Errorf("%w: %s", rpcerr.ErrTooBusy, method)
	case packet.StatusClassNotFound:
		err := fmt.Errorf("%w: %w: %s", rpcerr.ErrInvocation, rpcerr.ErrClassNotFound, method)
		c.opts.Listener.OnInvocationError(host, method, err)
		return nil, err
	case packet.StatusMethodNotFound:
		err := fmt.Errorf("%w: %w: %s", rpcerr.ErrInvocation, rpcerr.ErrMethodNotFound, method)
		c.opts.Listener.OnInvocationError(host, method, err)
		return nil, err
	default:
		err := fmt.Errorf("%w: %s (status %d)", rpcerr.ErrInvocation, method, p.Status)
		c.opts.Listener.OnInvocationError(host, method, err)
		return nil, err
	}
}

// channelAdapter implements listener.Channel by delegating to the owning
// Client without exposing those methods on Client's own public surface.
type channelAdapter Client

func (a *channelAdapter) OnReceive(host string, p *packet.Packet) {
	c := (*Client)(a)
	if p.Type != packet.TypeResponse {
		return
	}
	v, ok := c.pending.LoadAndDelete(p.ID)
	if !ok {
		return // late response after timeout — discard
	}
	v.(chan *pendingResult) <- &pendingResult{pkt: p}
}

func (a *channelAdapter) OnClosed(host string, offline bool) {
	c := (*Client)(a)
	c.pending.Range(func(key, value any) bool {
		c.pending.Delete(key)
		value.(chan *pendingResult) <- &pendingResult{err: fmt.Errorf("%w: %s", rpcerr.ErrChannelClosed, host)}
		return true
	})
	c.opts.Listener.OnClosed(host, offline)
}
