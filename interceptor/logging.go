package interceptor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logging records method, duration, and error for every dispatched
// invocation, the structured equivalent of the teacher's
// middleware.LoggingMiddleware.
func Logging(logger *zap.Logger) Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) Outcome {
			start := time.Now()
			out := next(ctx, inv)
			fields := []zap.Field{
				zap.String("method", inv.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if out.Err != nil {
				logger.Warn("invocation failed", append(fields, zap.Error(out.Err))...)
			} else {
				logger.Debug("invocation completed", fields...)
			}
			return out
		}
	}
}
