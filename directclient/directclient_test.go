package directclient

import (
	"errors"
	"net"
	"testing"
	"time"

	"xrpc/channel"
	"xrpc/codec"
	"xrpc/packet"
	"xrpc/rpcerr"
)

// echoServerListener answers every REQUEST with a SUCCESS response carrying
// the same body back, optionally delayed, standing in for a real server
// dispatcher in these client-focused tests.
type echoServerListener struct {
	ch    *channel.Channel
	delay time.Duration
}

func (s *echoServerListener) OnReceive(host string, p *packet.Packet) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	ser := codec.NativeSerializer{}
	inv, err := ser.UnmarshalInvocation(p.Body)
	if err != nil {
		_ = s.ch.Send(packet.NewResponse(p.Opcode, p.ID, packet.StatusInvocationError, 0, nil))
		return
	}
	var value any
	if len(inv.Args) > 0 {
		value = inv.Args[0]
	}
	body, err := ser.MarshalValue(value)
	if err != nil {
		_ = s.ch.Send(packet.NewResponse(p.Opcode, p.ID, packet.StatusInvocationError, 0, nil))
		return
	}
	_ = s.ch.Send(packet.NewResponse(p.Opcode, p.ID, packet.StatusSuccess, 0, body))
}

func (s *echoServerListener) OnClosed(host string, offline bool) {}

// tooBusyServerListener always answers TOO_BUSY.
type tooBusyServerListener struct{ ch *channel.Channel }

func (s *tooBusyServerListener) OnReceive(host string, p *packet.Packet) {
	_ = s.ch.Send(packet.NewResponse(p.Opcode, p.ID, packet.StatusTooBusy, 0, nil))
}
func (s *tooBusyServerListener) OnClosed(host string, offline bool) {}

func startEchoServer(t *testing.T, delay time.Duration) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		var ch *channel.Channel
		srvListener := &echoServerListener{delay: delay}
		ch = channel.New(conn, channel.Options{Listener: srvListener, HeartbeatPeriod: -1})
		srvListener.ch = ch
		_ = ch.Init()
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

func startTooBusyServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		var ch *channel.Channel
		srvListener := &tooBusyServerListener{}
		ch = channel.New(conn, channel.Options{Listener: srvListener, HeartbeatPeriod: -1})
		srvListener.ch = ch
		_ = ch.Init()
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

func TestInvokeEchoSucceeds(t *testing.T) {
	addr, stop := startEchoServer(t, 0)
	defer stop()

	cli, err := New("tcp", addr, Options{DefaultTimeout: time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer cli.Close()

	value, err := cli.Invoke("Echo.Say", []any{"hello"}, time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if value != "hello" {
		t.Errorf("expected echoed value %q, got %v", "hello", value)
	}
}

func TestInvokeTimesOutWhenNoResponseArrives(t *testing.T) {
	addr, stop := startEchoServer(t, 500*time.Millisecond)
	defer stop()

	cli, err := New("tcp", addr, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer cli.Close()

	start := time.Now()
	_, err = cli.Invoke("Echo.Say", []any{"hi"}, 50*time.Millisecond)
	if !errors.Is(err, rpcerr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Invoke should return promptly after its timeout, took %s", elapsed)
	}
}

func TestInvokeTooBusyTranslatesToErrTooBusy(t *testing.T) {
	addr, stop := startTooBusyServer(t)
	defer stop()

	cli, err := New("tcp", addr, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer cli.Close()

	_, err = cli.Invoke("Echo.Say", []any{"hi"}, time.Second)
	if !errors.Is(err, rpcerr.ErrTooBusy) {
		t.Fatalf("expected ErrTooBusy, got %v", err)
	}
}

func TestCloseFailsPendingInvocations(t *testing.T) {
	addr, stop := startEchoServer(t, 2*time.Second)
	defer stop()

	cli, err := New("tcp", addr, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := cli.Invoke("Echo.Say", []any{"hi"}, 5*time.Second)
		resultCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := cli.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-resultCh:
		if !errors.Is(err, rpcerr.ErrChannelClosed) {
			t.Errorf("expected ErrChannelClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending invocation to fail after Close")
	}
}
