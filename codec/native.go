package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
)

// init pre-registers the concrete types an application is most likely to
// pass as RPC arguments or return values without having to call
// RegisterType itself — gob requires every concrete type stored in an
// `any` field to be registered before it can travel through an interface
// value, the same way Java's native serializer needs every argument class
// on the classpath.
func init() {
	for _, v := range []any{
		"", int(0), int32(0), int64(0), uint(0), uint32(0), uint64(0),
		float32(0), float64(0), true, []byte(nil), []string(nil),
		[]int(nil), []any(nil), map[string]any(nil),
	} {
		gob.Register(v)
	}
}

// RegisterType makes a concrete application type (anything passed as an RPC
// argument or return value) known to the native serializer. It must be
// called once, before first use, for every custom type an application
// exchanges over xrpc — analogous to the original Java implementation's
// reliance on every argument class being present on the classpath. A
// decode that hits an unregistered type surfaces as CLASS_NOT_FOUND.
func RegisterType(v any) {
	gob.Register(v)
}

// nullable carries one argument or return value plus an explicit null
// marker. It gives MarshalValue a non-nil top-level value to encode, because
// gob refuses to encode a bare nil (a nil stored in an `any` field encodes
// fine).
type nullable struct {
	Null  bool
	Value any
}

// NativeSerializer implements Serializer with encoding/gob, wrapping nil
// values explicitly so they round-trip rather than erroring.
type NativeSerializer struct{}

func (NativeSerializer) ID() SerializerID { return SerializerNative }

func (NativeSerializer) MarshalInvocation(inv *Invocation) ([]byte, error) {
	wire := struct {
		Method string
		Args   []nullable
	}{Method: inv.Method, Args: make([]nullable, len(inv.Args))}
	for i, a := range inv.Args {
		wire.Args[i] = nullable{Null: a == nil, Value: a}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (NativeSerializer) UnmarshalInvocation(data []byte) (*Invocation, error) {
	var wire struct {
		Method string
		Args   []nullable
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, err
	}
	inv := &Invocation{Method: wire.Method, Args: make([]any, len(wire.Args))}
	for i, a := range wire.Args {
		if !a.Null {
			inv.Args[i] = a.Value
		}
	}
	return inv, nil
}

func (NativeSerializer) MarshalValue(v any) ([]byte, error) {
	wire := nullable{Null: v == nil, Value: v}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (NativeSerializer) UnmarshalValue(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	var wire nullable
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}
	if wire.Null {
		return nil
	}
	return assign(v, wire.Value)
}

// assign stores decoded into the value v points to. v is normally a
// *any supplied by a caller that does not know the concrete return type
// ahead of time (the direct client), in which case it is set directly;
// callers that do know the type may pass a typed pointer instead.
func assign(v any, decoded any) error {
	if p, ok := v.(*any); ok {
		*p = decoded
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("codec: assign target must be a non-nil pointer, got %T", v)
	}
	dv := reflect.ValueOf(decoded)
	if !dv.IsValid() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
		return nil
	}
	if !dv.Type().AssignableTo(rv.Elem().Type()) {
		return fmt.Errorf("codec: cannot assign %T into %s", decoded, rv.Elem().Type())
	}
	rv.Elem().Set(dv)
	return nil
}
