// Package rpcerr defines the error taxonomy surfaced to xrpc callers. Every
// sentinel here is meant to be matched with errors.Is; wrapping functions
// (Wrap*) attach the calling context without losing the sentinel.
package rpcerr

import "errors"

var (
	// ErrProtocol marks a malformed header or body on the wire. Fatal for
	// the channel that observed it — the channel closes.
	ErrProtocol = errors.New("xrpc: protocol error")

	// ErrTimeout marks a call whose per-invoke timeout elapsed before a
	// response arrived.
	ErrTimeout = errors.New("xrpc: call timed out")

	// ErrTooBusy marks a call rejected by backpressure: a server TOO_BUSY
	// response, a broadcast task rejected by its worker pool, or a cluster
	// with no live member to dispatch to.
	ErrTooBusy = errors.New("xrpc: too busy")

	// ErrInvocation marks a server-side failure: a thrown error from the
	// invoked method, a missing method, or a body that failed to decode.
	ErrInvocation = errors.New("xrpc: invocation error")

	// ErrClassNotFound marks a deserialization failure caused by an
	// argument or return type the receiving side's serializer does not
	// know about (analogous to Java's ClassNotFoundException; in Go this
	// is an un-gob.Register'd concrete type).
	ErrClassNotFound = errors.New("xrpc: class not found")

	// ErrMethodNotFound marks a request naming a method unique name that
	// is not present in the server's registry.
	ErrMethodNotFound = errors.New("xrpc: method not found")

	// ErrChannelClosed marks a call observed while its channel was, or
	// became, closed.
	ErrChannelClosed = errors.New("xrpc: channel closed")

	// ErrNoLiveMember marks a cluster client construction where every
	// member host failed to connect.
	ErrNoLiveMember = errors.New("xrpc: no live cluster member")

	// ErrRegistryUnavailable marks a failure reaching the backing service
	// registry (e.g. an etcd RPC error), as opposed to a failure of the RPC
	// call the registry is used to locate.
	ErrRegistryUnavailable = errors.New("xrpc: registry unavailable")
)

// Wrap attaches msg as context to sentinel while keeping it matchable by
// errors.Is(err, sentinel).
func Wrap(sentinel error, msg string) error {
	return &wrapped{sentinel: sentinel, msg: msg}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w *wrapped) Error() string { return w.msg + ": " + w.sentinel.Error() }
func (w *wrapped) Unwrap() error { return w.sentinel }
