// Package server implements the dispatcher described in spec §4.6: accept
// TCP connections, pair each with a channel, decode and execute invocations
// on a bounded worker pool, and write the encoded response back.
package server

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"xrpc/channel"
	"xrpc/codec"
	"xrpc/interceptor"
	"xrpc/listener"
	"xrpc/log"
	"xrpc/packet"
	"xrpc/rpcerr"
)

// DefaultMaxWorkers bounds the invocation worker pool; a saturated pool
// responds TOO_BUSY synchronously from the channel's read goroutine rather
// than blocking it (spec §4.6 step 4, §9).
const DefaultMaxWorkers = 256

// offlineDrainWait mirrors channel's own offline grace window: the server
// waits this long after telling every connection to drain before closing.
const offlineDrainWait = 60 * time.Second

// Options configures a Server.
type Options struct {
	Serializer        codec.Serializer
	Compressor        codec.Compressor
	CompressThreshold int
	MaxWorkers        int
	SlowThreshold     time.Duration
	HeartbeatPeriod   time.Duration
	BatchThreshold    int
	Listener          listener.Executor
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
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.SlowThreshold <= 0 {
		o.SlowThreshold = 1 * time.Second
	}
	if o.Listener == nil {
		o.Listener = listener.NopExecutor{}
	}
	if o.Logger == nil {
		o.Logger = log.Named("server")
	}
	return o
}

// Server accepts connections, dispatches REMOTE_INVOCATION requests to
// registered Go methods on a bounded worker pool, and writes responses
// back through each connection's channel.
type Server struct {
	opts     Options
	registry *registry
	chain    interceptor.Interceptor

	listener net.Listener
	sem      *semaphore.Weighted

	chMu     sync.Mutex
	channels map[*channel.Channel]struct{}

	shuttingDown atomic.Bool
}

// New builds a Server ready for Register calls.
func New(opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		opts:     opts,
		registry: newRegistry(),
		sem:      semaphore.NewWeighted(int64(opts.MaxWorkers)),
		channels: make(map[*channel.Channel]struct{}),
	}
}

// Register adds impl's RPC-compatible methods to the registry. Pass one or
// more interface types (via reflect.TypeOf((*MyIface)(nil)).Elem()) to
// restrict registration to those interfaces' method sets; with none given,
// every exported method of impl's concrete type is scanned.
func (s *Server) Register(impl any, ifaces ...reflect.Type) error {
	return s.registry.register(impl, ifaces...)
}

// Use appends ic to the server's interceptor chain. Interceptors apply in
// the order added, onion-model, matching the teacher's middleware.Use.
func (s *Server) Use(ic interceptor.Interceptor) {
	existing := s.chain
	if existing == nil {
		s.chain = ic
		return
	}
	s.chain = interceptor.Chain(existing, ic)
}

// ListenAndServe binds network/addr and runs the accept loop until Close.
func (s *Server) ListenAndServe(network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop over an already-bound listener until Close,
// pairing every accepted connection with a channel.Channel.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil
			}
			return err
		}
		s.accept(conn)
	}
}

func (s *Server) accept(conn net.Conn) {
	var ch *channel.Channel
	ch = channel.New(conn, channel.Options{
		HeartbeatPeriod: s.opts.HeartbeatPeriod,
		BatchThreshold:  s.opts.BatchThreshold,
		Listener:        &dispatchAdapter{server: s, chRef: &ch},
		Logger:          s.opts.Logger,
	})
	s.track(ch)
	if err := ch.Init(); err != nil {
		s.untrack(ch)
		s.opts.Logger.Warn("channel init failed", zap.Error(err))
	}
}

func (s *Server) track(ch *channel.Channel) {
	s.chMu.Lock()
	s.channels[ch] = struct{}{}
	s.chMu.Unlock()
}

func (s *Server) untrack(ch *channel.Channel) {
	s.chMu.Lock()
	delete(s.channels, ch)
	s.chMu.Unlock()
}

// dispatchAdapter implements listener.Channel; chRef lets it reply on the
// same channel the request arrived on.
type dispatchAdapter struct {
	server *Server
	chRef  **channel.Channel
}

func (a *dispatchAdapter) OnReceive(host string, p *packet.Packet) {
	ch := *a.chRef
	s := a.server

	if p.Type == packet.TypeResponse {
		// A server should never receive a RESPONSE; per spec §9's open
		// question, log and discard.
		s.opts.Logger.Warn("unexpected response packet at server", zap.String("host", host), zap.Int64("id", p.ID))
		return
	}

	if !s.sem.TryAcquire(1) {
		s.opts.Listener.OnTooBusy("")
		_ = ch.Send(packet.NewResponse(p.Opcode, p.ID, packet.StatusTooBusy, 0, nil))
		return
	}

	go func() {
		defer s.sem.Release(1)
		s.handleInvocation(ch, p)
	}()
}

func (a *dispatchAdapter) OnClosed(host string, offline bool) {
	a.server.untrack(*a.chRef)
}

func (s *Server) handleInvocation(ch *channel.Channel, p *packet.Packet) {
	body := p.Body
	if p.Flags.Compressed() {
		decompressed, err := s.opts.Compressor.Decompress(body)
		if err != nil {
			s.respondError(ch, p, packet.StatusInvocationError)
			return
		}
		body = decompressed
	}

	inv, err := s.opts.Serializer.UnmarshalInvocation(body)
	if err != nil {
		if isUnregisteredTypeErr(err) {
			s.opts.Listener.OnClassNotFound("")
			s.respondError(ch, p, packet.StatusClassNotFound)
			return
		}
		s.respondError(ch, p, packet.StatusInvocationError)
		return
	}

	handle, ok := s.registry.lookup(inv.Method)
	if !ok {
		s.opts.Listener.OnMethodNotFound(inv.Method)
		s.respondError(ch, p, packet.StatusMethodNotFound)
		return
	}

	handler := s.invokeHandler(handle)
	if s.chain != nil {
		handler = s.chain(handler)
	}

	start := time.Now()
	out := handler(context.Background(), &interceptor.Invocation{Method: inv.Method, Args: inv.Args})
	duration := time.Since(start)
	if duration >= s.opts.SlowThreshold {
		s.opts.Listener.OnSlowExecution(inv.Method)
	}

	if out.Err != nil {
		s.opts.Listener.OnInvocationError(inv.Method, out.Err)
		s.respondError(ch, p, packet.StatusInvocationError)
		return
	}

	s.respondSuccess(ch, p, out.Value)
}

// invokeHandler closes over handle to build the innermost interceptor chain
// link: bind args, call reflectively, recover from panics as InvocationError.
func (s *Server) invokeHandler(handle *methodHandle) interceptor.HandlerFunc {
	return func(_ context.Context, inv *interceptor.Invocation) (out interceptor.Outcome) {
		defer func() {
			if r := recover(); r != nil {
				out = interceptor.Outcome{Err: fmt.Errorf("%w: panic: %v", rpcerr.ErrInvocation, r)}
			}
		}()

		if len(inv.Args) != handle.arity() {
			return interceptor.Outcome{Err: fmt.Errorf("%w: %s expects %d args, got %d", rpcerr.ErrInvocation, inv.Method, handle.arity(), len(inv.Args))}
		}

		in := make([]reflect.Value, handle.arity())
		for i, pt := range handle.paramTypes {
			v, err := coerce(inv.Args[i], pt)
			if err != nil {
				return interceptor.Outcome{Err: fmt.Errorf("%w: %v", rpcerr.ErrInvocation, err)}
			}
			in[i] = v
		}

		results := handle.fn.Call(in)
		outcome := interceptor.Outcome{}
		idx := 0
		if handle.hasValue {
			outcome.Value = results[idx].Interface()
			idx++
		}
		if handle.hasErr {
			if errVal := results[idx].Interface(); errVal != nil {
				outcome.Err = errVal.(error)
			}
		}
		return outcome
	}
}

func coerce(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
			return reflect.Zero(want), nil
		default:
			return reflect.Value{}, fmt.Errorf("argument type mismatch: nil is not assignable to %s", want)
		}
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(want) {
		return v, nil
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("argument type mismatch: %s is not assignable to %s", v.Type(), want)
}

// isUnregisteredTypeErr heuristically classifies a decode failure as a
// CLASS_NOT_FOUND (an argument type the serializer has never seen) rather
// than a generic INVOCATION_ERROR. encoding/gob reports this case as a
// plain error string rather than a matchable sentinel.
func isUnregisteredTypeErr(err error) bool {
	return strings.Contains(err.Error(), "registered")
}

func (s *Server) respondSuccess(ch *channel.Channel, req *packet.Packet, value any) {
	body, err := s.opts.Serializer.MarshalValue(value)
	if err != nil {
		s.respondError(ch, req, packet.StatusInvocationError)
		return
	}
	flags := packet.MakeFlags(byte(s.opts.Serializer.ID()), false)
	if len(body) >= s.opts.CompressThreshold {
		if compressed, err := s.opts.Compressor.Compress(body); err == nil {
			body = compressed
			flags = packet.MakeFlags(byte(s.opts.Serializer.ID()), true)
		}
	}
	_ = ch.Send(packet.NewResponse(req.Opcode, req.ID, packet.StatusSuccess, flags, body))
}

func (s *Server) respondError(ch *channel.Channel, req *packet.Packet, status packet.Status) {
	_ = ch.Send(packet.NewResponse(req.Opcode, req.ID, status, 0, nil))
}

// Offline tells every tracked connection to begin its graceful drain, then
// waits the 60s grace window before Close proceeds — the server-initiated
// half of spec §4.6's graceful shutdown.
func (s *Server) Offline() {
	s.chMu.Lock()
	chans := make([]*channel.Channel, 0, len(s.channels))
	for ch := range s.channels {
		chans = append(chans, ch)
	}
	s.chMu.Unlock()

	for _, ch := range chans {
		_ = ch.Offline()
	}
	time.Sleep(offlineDrainWait)
}

// Close closes the listener, every tracked channel, and waits for
// in-flight invocations (up to timeout) to finish.
func (s *Server) Close(timeout time.Duration) error {
	s.shuttingDown.Store(true)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	// Channels are closed outside chMu: each channel's OnClosed callback
	// untracks itself, which takes chMu.
	s.chMu.Lock()
	chans := make([]*channel.Channel, 0, len(s.channels))
	for ch := range s.channels {
		chans = append(chans, ch)
	}
	s.chMu.Unlock()
	for _, ch := range chans {
		_ = ch.Close()
	}

	done := make(chan struct{})
	go func() {
		_ = s.sem.Acquire(context.Background(), int64(s.opts.MaxWorkers))
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("xrpc/server: timeout waiting for in-flight invocations")
	}
}
