package interceptor

import (
	"context"

	"golang.org/x/time/rate"

	"xrpc/rpcerr"
)

// RateLimit rejects invocations once the shared token bucket is empty,
// generalizing the teacher's middleware.RateLimitMiddleware (also built on
// golang.org/x/time/rate) from *message.RPCMessage to Invocation/Outcome.
// The limiter is built once per call to RateLimit, not per request — a
// fresh limiter per request would defeat rate limiting entirely.
func RateLimit(r float64, burst int) Interceptor {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) Outcome {
			if !limiter.Allow() {
				return Outcome{Err: rpcerr.ErrTooBusy}
			}
			return next(ctx, inv)
		}
	}
}
