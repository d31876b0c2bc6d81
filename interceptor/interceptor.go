// Package interceptor generalizes the teacher repo's onion-model
// middleware (middleware.Middleware/middleware.Chain) from wrapping a fixed
// message.RPCMessage to wrapping a generic decoded invocation, so it can sit
// in front of xrpc's server dispatcher (SPEC_FULL.md §4.8). Interceptors are
// server-side only and never alter wire behavior when the chain is empty.
package interceptor

import "context"

// Invocation is the decoded request an interceptor chain wraps.
type Invocation struct {
	Method string
	Args   []any
}

// Outcome is what the invoked method produced.
type Outcome struct {
	Value any
	Err   error
}

// HandlerFunc invokes the next stage of the chain (or, innermost, the
// registered method itself).
type HandlerFunc func(ctx context.Context, inv *Invocation) Outcome

// Interceptor wraps a HandlerFunc with cross-cutting behavior — logging,
// rate limiting, retries — exactly like the teacher's Middleware, just
// against Invocation/Outcome instead of *message.RPCMessage.
type Interceptor func(next HandlerFunc) HandlerFunc

// Chain composes interceptors so the first one listed is the outermost
// layer, matching the teacher's middleware.Chain execution order:
// Chain(A, B, C)(handler) == A(B(C(handler))).
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}
