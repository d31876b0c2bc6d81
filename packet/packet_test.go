package packet

import (
	"bytes"
	"errors"
	"testing"

	"xrpc/rpcerr"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  *Packet
	}{
		{"request", NewRequest(OpRemoteInvocation, 42, MakeFlags(0, false), []byte("hello"))},
		{"response", NewResponse(OpRemoteInvocation, 42, StatusSuccess, MakeFlags(0, true), []byte("world"))},
		{"heartbeat", Heartbeat(TypeRequest)},
		{"offline", Offline(TypeResponse)},
		{"empty body", NewRequest(OpRemoteInvocation, 1, 0, nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tc.pkt.Encode(&buf); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			var header [HeaderSize]byte
			if _, err := buf.Read(header[:]); err != nil {
				t.Fatalf("reading header back failed: %v", err)
			}
			body := make([]byte, buf.Len())
			copy(body, buf.Bytes())

			got, err := Parse(header, body)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got.Opcode != tc.pkt.Opcode {
				t.Errorf("Opcode mismatch: got %v, want %v", got.Opcode, tc.pkt.Opcode)
			}
			if got.Type != tc.pkt.Type {
				t.Errorf("Type mismatch: got %v, want %v", got.Type, tc.pkt.Type)
			}
			if got.Status != tc.pkt.Status {
				t.Errorf("Status mismatch: got %v, want %v", got.Status, tc.pkt.Status)
			}
			if got.ID != tc.pkt.ID {
				t.Errorf("ID mismatch: got %v, want %v", got.ID, tc.pkt.ID)
			}
			if !bytes.Equal(got.Body, tc.pkt.Body) {
				t.Errorf("Body mismatch: got %q, want %q", got.Body, tc.pkt.Body)
			}
		})
	}
}

func TestParseUnknownOpcode(t *testing.T) {
	var header [HeaderSize]byte
	header[0] = 0xFF
	_, err := Parse(header, nil)
	if err == nil {
		t.Fatal("expected error for unknown opcode, got nil")
	}
	if !errors.Is(err, rpcerr.ErrProtocol) {
		t.Errorf("expected rpcerr.ErrProtocol, got %v", err)
	}
}

func TestFlagsPackSerializerAndCompressed(t *testing.T) {
	f := MakeFlags(3, true)
	if !f.Compressed() {
		t.Error("expected Compressed() true")
	}
	if f.SerializerID() != 3 {
		t.Errorf("SerializerID mismatch: got %d, want 3", f.SerializerID())
	}

	f2 := MakeFlags(5, false)
	if f2.Compressed() {
		t.Error("expected Compressed() false")
	}
	if f2.SerializerID() != 5 {
		t.Errorf("SerializerID mismatch: got %d, want 5", f2.SerializerID())
	}
}

func TestSize(t *testing.T) {
	p := NewRequest(OpRemoteInvocation, 1, 0, make([]byte, 100))
	if got, want := p.Size(), HeaderSize+100; got != want {
		t.Errorf("Size mismatch: got %d, want %d", got, want)
	}
}
