package codec

import "testing"

func TestNativeSerializerInvocationRoundTrip(t *testing.T) {
	s := NativeSerializer{}
	inv := &Invocation{Method: "Echo.Say", Args: []any{"hi", int64(5), nil}}

	data, err := s.MarshalInvocation(inv)
	if err != nil {
		t.Fatalf("MarshalInvocation failed: %v", err)
	}

	got, err := s.UnmarshalInvocation(data)
	if err != nil {
		t.Fatalf("UnmarshalInvocation failed: %v", err)
	}
	if got.Method != inv.Method {
		t.Errorf("Method mismatch: got %q, want %q", got.Method, inv.Method)
	}
	if len(got.Args) != len(inv.Args) {
		t.Fatalf("Args length mismatch: got %d, want %d", len(got.Args), len(inv.Args))
	}
	if got.Args[0] != "hi" || got.Args[1] != int64(5) {
		t.Errorf("Args mismatch: got %v", got.Args)
	}
	if got.Args[2] != nil {
		t.Errorf("expected nil arg to round-trip as nil, got %v", got.Args[2])
	}
}

func TestNativeSerializerValueRoundTrip(t *testing.T) {
	s := NativeSerializer{}

	data, err := s.MarshalValue("result")
	if err != nil {
		t.Fatalf("MarshalValue failed: %v", err)
	}
	var out any
	if err := s.UnmarshalValue(data, &out); err != nil {
		t.Fatalf("UnmarshalValue failed: %v", err)
	}
	if out != "result" {
		t.Errorf("value mismatch: got %v, want %q", out, "result")
	}
}

func TestNativeSerializerNilValueRoundTrip(t *testing.T) {
	s := NativeSerializer{}

	data, err := s.MarshalValue(nil)
	if err != nil {
		t.Fatalf("MarshalValue(nil) failed: %v", err)
	}
	var out any = "not nil yet"
	if err := s.UnmarshalValue(data, &out); err != nil {
		t.Fatalf("UnmarshalValue failed: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil value to round-trip as nil, got %v", out)
	}
}

func TestNativeSerializerEmptyResponseBody(t *testing.T) {
	s := NativeSerializer{}
	var out any = "sentinel"
	if err := s.UnmarshalValue(nil, &out); err != nil {
		t.Fatalf("UnmarshalValue of empty body failed: %v", err)
	}
	if out != "sentinel" {
		t.Errorf("expected empty body to leave target untouched, got %v", out)
	}
}
