package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"simgym/message"
)

// Logging logs every operation with its mode and duration. Failed
// operations are logged at warn level.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("op", req.Op),
				zap.Stringer("mode", req.Mode),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Error != "" {
				logger.Warn("operation failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			logger.Debug("operation", fields...)
			return resp
		}
	}
}
