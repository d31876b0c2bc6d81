// Package codec provides the serialization and compression layers for
// packet bodies: a pluggable Serializer (object graph ↔ bytes, must handle
// nil) and a pluggable Compressor (byte array ↔ byte array), selected by the
// header flags byte (serializer id in the high nibble, compressed bit 0).
package codec

// SerializerID identifies a Serializer, stored in the high nibble of the
// packet flags byte. 0 is the native-object serializer and is the default.
type SerializerID byte

const SerializerNative SerializerID = 0

// Invocation is the wire schema for a REQUEST body: a method unique name
// plus its argument list.
type Invocation struct {
	Method string
	Args   []any
}

// Serializer turns a request/response payload into bytes and back. nil
// values (a method with no return value, or a nil argument) must round-trip
// to nil, not to an error.
type Serializer interface {
	ID() SerializerID

	// MarshalInvocation encodes a REQUEST body.
	MarshalInvocation(inv *Invocation) ([]byte, error)
	// UnmarshalInvocation decodes a REQUEST body. A failure caused by an
	// argument type the serializer does not recognize should be wrapped
	// in rpcerr.ErrClassNotFound by the caller.
	UnmarshalInvocation(data []byte) (*Invocation, error)

	// MarshalValue encodes a RESPONSE body (the method's return value,
	// possibly nil).
	MarshalValue(v any) ([]byte, error)
	// UnmarshalValue decodes a RESPONSE body into v's concrete type.
	UnmarshalValue(data []byte, v any) error
}

// Compressor compresses and decompresses packet bodies. Implementations
// must be safe for concurrent use (stateless, or internally synchronized).
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// DefaultCompressThreshold is the body size (in bytes) at and above which a
// body must be compressed per spec §3; bodies shorter than this must not be
// compressed.
const DefaultCompressThreshold = 1024
