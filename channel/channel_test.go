package channel

import (
	"net"
	"sync"
	"testing"
	"time"

	"xrpc/packet"
)

type recordingListener struct {
	mu         sync.Mutex
	received   []*packet.Packet
	closed     bool
	closeCalls int
	offline    bool
}

func (l *recordingListener) OnReceive(host string, p *packet.Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received = append(l.received, p)
}

func (l *recordingListener) OnClosed(host string, offline bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.closeCalls++
	l.offline = offline
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.received)
}

func newPipePair(t *testing.T, aListener, bListener *recordingListener) (a, b *Channel) {
	t.Helper()
	connA, connB := net.Pipe()
	a = New(connA, Options{Listener: aListener, HeartbeatPeriod: -1})
	b = New(connB, Options{Listener: bListener, HeartbeatPeriod: -1})
	if err := a.Init(); err != nil {
		t.Fatalf("a.Init failed: %v", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("b.Init failed: %v", err)
	}
	return a, b
}

func TestChannelSendDeliversToPeer(t *testing.T) {
	al, bl := &recordingListener{}, &recordingListener{}
	a, b := newPipePair(t, al, bl)
	defer a.Close()
	defer b.Close()

	req := packet.NewRequest(packet.OpRemoteInvocation, 1, 0, []byte("ping"))
	if err := a.Send(req); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.After(time.Second)
	for bl.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for peer to receive packet")
		case <-time.After(5 * time.Millisecond):
		}
	}

	bl.mu.Lock()
	got := bl.received[0]
	bl.mu.Unlock()
	if string(got.Body) != "ping" {
		t.Errorf("body mismatch: got %q", got.Body)
	}
}

func TestChannelInitFailsOnNilConn(t *testing.T) {
	ch := New(nil, Options{})
	if err := ch.Init(); err == nil {
		t.Fatal("expected Init to fail on a disconnected channel")
	}
	if ch.State() != Closed {
		t.Errorf("expected state Closed after failed Init, got %v", ch.State())
	}
}

func TestChannelInitIsIdempotent(t *testing.T) {
	connA, _ := net.Pipe()
	ch := New(connA, Options{HeartbeatPeriod: -1})
	defer ch.Close()
	if err := ch.Init(); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	if err := ch.Init(); err != nil {
		t.Fatalf("second Init should be a no-op, got error: %v", err)
	}
}

func TestChannelOfflineHandshake(t *testing.T) {
	al, bl := &recordingListener{}, &recordingListener{}
	a, b := newPipePair(t, al, bl)
	defer a.Close()
	defer b.Close()

	if err := a.Offline(); err != nil {
		t.Fatalf("Offline failed: %v", err)
	}

	deadline := time.After(time.Second)
	for b.offlineReceived.Load() == false {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for peer to observe OFFLINE")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if b.IsActive() {
		t.Error("expected the receiving peer to be inactive once it has observed OFFLINE")
	}
}

// countingConn wraps a net.Conn and counts outbound HEARTBEAT frames, since
// the read loop answers and swallows heartbeats internally (channel.go's
// OpHeartbeat case) before they ever reach a listener's OnReceive.
type countingConn struct {
	net.Conn
	mu         sync.Mutex
	heartbeats int
}

func (c *countingConn) Write(b []byte) (int, error) {
	if len(b) >= packet.HeaderSize && b[0] == byte(packet.OpHeartbeat) {
		c.mu.Lock()
		c.heartbeats++
		c.mu.Unlock()
	}
	return c.Conn.Write(b)
}

func (c *countingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeats
}

func TestChannelHeartbeatFlowsBothDirectionsDuringIdle(t *testing.T) {
	rawA, rawB := net.Pipe()
	connA := &countingConn{Conn: rawA}
	connB := &countingConn{Conn: rawB}
	a := New(connA, Options{HeartbeatPeriod: 20 * time.Millisecond})
	b := New(connB, Options{HeartbeatPeriod: 20 * time.Millisecond})
	defer a.Close()
	defer b.Close()
	if err := a.Init(); err != nil {
		t.Fatalf("a.Init failed: %v", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("b.Init failed: %v", err)
	}

	deadline := time.After(time.Second)
	for connA.count() < 2 || connB.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for heartbeats in both directions: a->b=%d b->a=%d", connA.count(), connB.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if a.State() != Normal {
		t.Errorf("expected a to stay Normal through idle heartbeats, got %v", a.State())
	}
	if b.State() != Normal {
		t.Errorf("expected b to stay Normal through idle heartbeats, got %v", b.State())
	}
}

func TestChannelCloseInvokesListenerOnce(t *testing.T) {
	al := &recordingListener{}
	connA, _ := net.Pipe()
	a := New(connA, Options{Listener: al, HeartbeatPeriod: -1})
	if err := a.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got error: %v", err)
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if !al.closed {
		t.Error("expected OnClosed to have been called")
	}
	if al.closeCalls != 1 {
		t.Errorf("expected OnClosed to be called exactly once, got %d", al.closeCalls)
	}
}

func TestChannelSendAfterCloseFails(t *testing.T) {
	connA, _ := net.Pipe()
	a := New(connA, Options{HeartbeatPeriod: -1})
	if err := a.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Send(packet.NewRequest(packet.OpRemoteInvocation, 1, 0, nil)); err == nil {
		t.Error("expected Send on a closed channel to fail")
	}
}
