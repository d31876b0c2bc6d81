package server

import (
	"fmt"
	"reflect"
	"strings"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// methodHandle is the reflection metadata needed to invoke one registered
// method generically: any number of args, and a (value, error), (error), or
// (value) return shape, unlike the teacher's fixed func(*Args,*Reply) error
// convention — spec's REQUEST body is a generic Object[] of args.
type methodHandle struct {
	fn         reflect.Value // bound method value (receiver already applied)
	paramTypes []reflect.Type
	hasValue   bool
	hasErr     bool
}

func (h *methodHandle) arity() int { return len(h.paramTypes) }

// registry maps a method unique name to its handle. Per spec §3/§9, the
// unique name is the bare method name when it is unambiguous across every
// Register call, or "name#paramType1,paramType2,..." once a second method
// with that name and a different signature is registered.
type registry struct {
	methods map[string]*methodHandle   // final lookup table: bare or qualified keys
	groups  map[string][]*methodHandle // bare name -> every handle ever registered under it
}

func newRegistry() *registry {
	return &registry{
		methods: make(map[string]*methodHandle),
		groups:  make(map[string][]*methodHandle),
	}
}

// register scans impl's method set (optionally narrowed to the given
// interface types, the idiomatic Go stand-in for "for each interface
// implemented by impl" — Go has no runtime interface enumeration) and adds
// every RPC-compatible method found. Methods whose signature does not match
// value+error/just-error/just-value/nothing are silently skipped, matching
// the teacher's service.go convention.
func (r *registry) register(impl any, ifaces ...reflect.Type) error {
	val := reflect.ValueOf(impl)
	typ := val.Type()

	scanTypes := ifaces
	if len(scanTypes) == 0 {
		scanTypes = []reflect.Type{typ}
	}

	seen := make(map[string]bool)
	for _, it := range scanTypes {
		for i := 0; i < it.NumMethod(); i++ {
			im := it.Method(i)
			if seen[im.Name] {
				continue
			}
			concrete, ok := typ.MethodByName(im.Name)
			if !ok {
				continue
			}
			handle, ok := buildHandle(val, concrete)
			if !ok {
				continue
			}
			seen[im.Name] = true
			if err := r.insert(im.Name, handle); err != nil {
				return err
			}
		}
	}
	return nil
}

func buildHandle(val reflect.Value, m reflect.Method) (*methodHandle, bool) {
	mtype := m.Type // includes receiver at In(0)
	numIn := mtype.NumIn() - 1
	paramTypes := make([]reflect.Type, numIn)
	for i := 0; i < numIn; i++ {
		paramTypes[i] = mtype.In(i + 1)
	}

	numOut := mtype.NumOut()
	var hasValue, hasErr bool
	switch {
	case numOut == 0:
	case numOut == 1 && mtype.Out(0) == errorType:
		hasErr = true
	case numOut == 1:
		hasValue = true
	case numOut == 2 && mtype.Out(1) == errorType:
		hasValue, hasErr = true, true
	default:
		return nil, false
	}

	return &methodHandle{
		fn:         val.Method(m.Index),
		paramTypes: paramTypes,
		hasValue:   hasValue,
		hasErr:     hasErr,
	}, true
}

// insert stores handle under name. The first registration under a bare
// name is looked up by that bare name; the moment a second, differently
// shaped method registers under the same name, every handle in the group
// (past and present) is re-keyed to "name#paramType1,paramType2,...". An
// exact duplicate (same name, same parameter signature) fails registration.
func (r *registry) insert(name string, handle *methodHandle) error {
	group := r.groups[name]
	for _, g := range group {
		if sameSignature(g, handle) {
			return fmt.Errorf("xrpc/server: method %q already registered with an identical signature", name)
		}
	}
	group = append(group, handle)
	r.groups[name] = group

	if len(group) == 1 {
		r.methods[name] = handle
		return nil
	}
	if len(group) == 2 {
		delete(r.methods, name)
		r.methods[qualify(name, group[0].paramTypes)] = group[0]
	}
	r.methods[qualify(name, handle.paramTypes)] = handle
	return nil
}

func sameSignature(a, b *methodHandle) bool {
	if len(a.paramTypes) != len(b.paramTypes) {
		return false
	}
	for i := range a.paramTypes {
		if a.paramTypes[i] != b.paramTypes[i] {
			return false
		}
	}
	return true
}

func qualify(name string, paramTypes []reflect.Type) string {
	names := make([]string, len(paramTypes))
	for i, t := range paramTypes {
		names[i] = t.String()
	}
	return name + "#" + strings.Join(names, ",")
}

func (r *registry) lookup(name string) (*methodHandle, bool) {
	h, ok := r.methods[name]
	return h, ok
}
