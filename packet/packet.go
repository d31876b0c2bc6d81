// Package packet implements the wire frame used by every xrpc connection:
// a fixed 24-byte header followed by a variable-length, possibly compressed
// and serialized body.
//
// Frame format:
//
//	0     1     2     3     4        8        16       24
//	┌─────┬─────┬─────┬─────┬────────┬────────┬────────┬──────────────┐
//	│op   │type │stat │flags│bodyLen │   id            │reserved│ body ... │
//	│  1B │  1B │  1B │  1B │ uint32 │  int64 (8B)      │  8B    │bodyLen B │
//	└─────┴─────┴─────┴─────┴────────┴────────┴────────┴──────────────┘
package packet

import (
	"encoding/binary"
	"fmt"
	"io"

	"xrpc/rpcerr"
)

// HeaderSize is the fixed header length in bytes: 1(op)+1(type)+1(status)+1(flags)+4(bodyLen)+8(id)+8(reserved).
const HeaderSize = 24

// Type distinguishes request and response frames (header byte 1).
type Type byte

const (
	TypeRequest  Type = 0x00
	TypeResponse Type = 0x01
)

// Opcode identifies the frame's purpose (header byte 0).
type Opcode byte

const (
	OpRemoteInvocation Opcode = 1
	OpHeartbeat        Opcode = 2
	OpOffline          Opcode = 3
)

func (o Opcode) valid() bool {
	switch o {
	case OpRemoteInvocation, OpHeartbeat, OpOffline:
		return true
	default:
		return false
	}
}

// Status is the response status code (header byte 2); zero for requests.
type Status byte

const (
	StatusSuccess          Status = 0
	StatusTooBusy          Status = 40
	StatusInvocationError  Status = 41
	StatusClassNotFound    Status = 44
	StatusMethodNotFound   Status = 45
)

// Flag bits packed into header byte 3: bit 0 is the compressed flag, bits
// 4-7 carry the serializer id (0 = native-object serializer).
type Flags byte

const compressedBit = 0x01

func (f Flags) Compressed() bool      { return f&compressedBit != 0 }
func (f Flags) SerializerID() byte    { return byte(f) >> 4 }
func WithCompressed(f Flags) Flags    { return f | compressedBit }
func MakeFlags(serializerID byte, compressed bool) Flags {
	f := Flags(serializerID) << 4
	if compressed {
		f = WithCompressed(f)
	}
	return f
}

// Packet is one parsed frame: header fields plus the raw body bytes. The
// body is opaque at this layer — callers are responsible for decompressing
// and deserializing it using the flags recorded in Flags.
type Packet struct {
	Opcode Opcode
	Type   Type
	Status Status
	Flags  Flags
	ID     int64
	Body   []byte
}

// NewRequest builds a REQUEST packet. id must be unique per sender per
// channel for as long as a response may still be pending.
func NewRequest(op Opcode, id int64, flags Flags, body []byte) *Packet {
	return &Packet{Opcode: op, Type: TypeRequest, Status: StatusSuccess, Flags: flags, ID: id, Body: body}
}

// NewResponse builds a RESPONSE packet whose ID matches the request it answers.
func NewResponse(op Opcode, id int64, status Status, flags Flags, body []byte) *Packet {
	return &Packet{Opcode: op, Type: TypeResponse, Status: status, Flags: flags, ID: id, Body: body}
}

// Heartbeat builds a zero-id, empty-body HEARTBEAT frame.
func Heartbeat(t Type) *Packet {
	return &Packet{Opcode: OpHeartbeat, Type: t, Status: StatusSuccess}
}

// Offline builds a zero-id, empty-body OFFLINE frame.
func Offline(t Type) *Packet {
	return &Packet{Opcode: OpOffline, Type: t, Status: StatusSuccess}
}

// Size returns the on-wire size of the packet, header included — used by the
// channel write loop's batching heuristic.
func (p *Packet) Size() int {
	return HeaderSize + len(p.Body)
}

// Encode writes the packet (header + body) to w as a single frame. Callers
// that share a writer across goroutines must serialize calls themselves;
// packet does not lock.
func (p *Packet) Encode(w io.Writer) error {
	buf := make([]byte, HeaderSize+len(p.Body))
	buf[0] = byte(p.Opcode)
	buf[1] = byte(p.Type)
	buf[2] = byte(p.Status)
	buf[3] = byte(p.Flags)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(p.Body)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.ID))
	// bytes 16:24 reserved, left zero
	copy(buf[HeaderSize:], p.Body)

	_, err := w.Write(buf)
	return err
}

// Parse decodes one packet from exactly header+body bytes already read by a
// framereader. It validates the opcode domain; unknown opcodes are a
// protocol error.
func Parse(header [HeaderSize]byte, body []byte) (*Packet, error) {
	op := Opcode(header[0])
	if !op.valid() {
		return nil, fmt.Errorf("%w: unknown opcode %d", rpcerr.ErrProtocol, header[0])
	}
	return &Packet{
		Opcode: op,
		Type:   Type(header[1]),
		Status: Status(header[2]),
		Flags:  Flags(header[3]),
		ID:     int64(binary.BigEndian.Uint64(header[8:16])),
		Body:   body,
	}, nil
}
