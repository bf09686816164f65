package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"simgym/message"
)

// ErrRateLimited is the error text of an operation rejected by RateLimit.
const ErrRateLimited = "rate limit exceeded"

// RateLimit admits r operations per second with bursts of up to burst.
// A blocking operation waits for its turn, bounded by the request context;
// the caller is waiting for the reply either way. Any other mode has nobody
// waiting on it and is rejected once the bucket is empty.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if req.Mode == message.ModeBlocking {
				if err := limiter.Wait(ctx); err != nil {
					return &message.RPCMessage{Op: req.Op, Error: ErrRateLimited}
				}
				return next(ctx, req)
			}
			if !limiter.Allow() {
				return &message.RPCMessage{Op: req.Op, Error: ErrRateLimited}
			}
			return next(ctx, req)
		}
	}
}
