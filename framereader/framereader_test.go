package framereader

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"xrpc/packet"
)

func TestReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := packet.NewRequest(packet.OpRemoteInvocation, 7, packet.MakeFlags(0, false), []byte("payload"))
	if err := want.Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var observedHost string
	var observedBytes int
	fr := New(&buf, "peer:1", func(host string, n int) {
		observedHost = host
		observedBytes = n
	})

	got, err := fr.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.ID != want.ID || !bytes.Equal(got.Body, want.Body) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if observedHost != "peer:1" {
		t.Errorf("observer host mismatch: got %q", observedHost)
	}
	if observedBytes != packet.HeaderSize+len(want.Body) {
		t.Errorf("observer bytes mismatch: got %d, want %d", observedBytes, packet.HeaderSize+len(want.Body))
	}
}

func TestReadMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	p1 := packet.Heartbeat(packet.TypeRequest)
	p2 := packet.NewRequest(packet.OpRemoteInvocation, 1, 0, []byte("a"))
	if err := p1.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if err := p2.Encode(&buf); err != nil {
		t.Fatal(err)
	}

	fr := New(&buf, "peer", nil)
	got1, err := fr.Read()
	if err != nil {
		t.Fatalf("first Read failed: %v", err)
	}
	if got1.Opcode != packet.OpHeartbeat {
		t.Errorf("expected heartbeat opcode first, got %v", got1.Opcode)
	}

	got2, err := fr.Read()
	if err != nil {
		t.Fatalf("second Read failed: %v", err)
	}
	if got2.ID != 1 {
		t.Errorf("expected id 1, got %d", got2.ID)
	}
}

func TestReadCleanEOFBetweenFrames(t *testing.T) {
	fr := New(bytes.NewReader(nil), "peer", nil)
	_, err := fr.Read()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestReadTruncatedFrameIsProtocolError(t *testing.T) {
	var buf bytes.Buffer
	p := packet.NewRequest(packet.OpRemoteInvocation, 1, 0, []byte("hello"))
	if err := p.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:packet.HeaderSize+2] // header complete, body cut short

	fr := New(bytes.NewReader(truncated), "peer", nil)
	_, err := fr.Read()
	if err == nil {
		t.Fatal("expected an error for a truncated body, got nil")
	}
	if errors.Is(err, io.EOF) {
		t.Errorf("truncated mid-body read should not surface as io.EOF, got %v", err)
	}
}
