package middleware

import (
	"context"
	"time"

	"simgym/message"
)

// ErrTimedOut is the error text of an operation cut off by Timeout.
const ErrTimedOut = "request timed out"

// Timeout fails an operation that does not complete in time. perOp overrides
// the limit for individual operations, such as scene loads that parse a file;
// a zero override disables the limit for that operation. The handler keeps
// running in the background and only its reply is dropped, so a step that
// times out still happens.
func Timeout(timeout time.Duration, perOp map[string]time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			limit := timeout
			if d, ok := perOp[req.Op]; ok {
				limit = d
			}
			if limit <= 0 {
				return next(ctx, req)
			}

			ctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.RPCMessage{Op: req.Op, Error: ErrTimedOut}
			}
		}
	}
}
