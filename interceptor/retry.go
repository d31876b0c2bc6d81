package interceptor

import (
	"context"
	"errors"
	"time"

	"xrpc/rpcerr"
)

// Retry re-runs the inner chain with exponential backoff while the outcome's
// error matches rpcerr.ErrTimeout or rpcerr.ErrChannelClosed — the two
// transient, retry-safe classes — generalizing the teacher's
// middleware.RetryMiddleware (which string-matched "timeout" and "connection
// refused" in an error message) to errors.Is over the sentinel taxonomy.
// Any other error returns immediately without retrying.
func Retry(maxRetries int, baseDelay time.Duration) Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) Outcome {
			out := next(ctx, inv)
			for i := 0; i < maxRetries; i++ {
				if out.Err == nil {
					return out
				}
				if !errors.Is(out.Err, rpcerr.ErrTimeout) && !errors.Is(out.Err, rpcerr.ErrChannelClosed) {
					return out
				}
				time.Sleep(baseDelay * (1 << i))
				out = next(ctx, inv)
			}
			return out
		}
	}
}
