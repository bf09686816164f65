// Package middleware wraps the server's request handler. A Middleware takes
// the next handler and returns a handler that runs around it.
package middleware

import (
	"context"

	"simgym/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is outermost:
// Chain(A, B)(h) == A(B(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
