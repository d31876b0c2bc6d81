package interceptor

import (
	"context"
	"time"

	"xrpc/rpcerr"
)

// Timeout bounds how long the inner chain may run, generalizing the
// teacher's middleware.TimeOutMiddleware from *message.RPCMessage to
// Invocation/Outcome. As in the teacher's version, the inner handler
// goroutine is not cancelled when the timeout fires — ctx.Done() only
// controls how long the caller waits, not whether the handler keeps running.
func Timeout(d time.Duration) Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) Outcome {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan Outcome, 1)
			go func() {
				done <- next(ctx, inv)
			}()

			select {
			case out := <-done:
				return out
			case <-ctx.Done():
				return Outcome{Err: rpcerr.ErrTimeout}
			}
		}
	}
}
