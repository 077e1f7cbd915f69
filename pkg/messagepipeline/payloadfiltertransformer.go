package messagepipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// WithPayloadValidation is a decorator function. It takes an existing MessageTransformer
// and returns a new one that skips messages whose payload size is outside
// [minSize, maxSize].
func WithPayloadValidation[T any](
	innerTransformer MessageTransformer[T],
	minSize int,
	maxSize int,
	logger zerolog.Logger,
) MessageTransformer[T] {
	return func(ctx context.Context, msg *Message) (*T, bool, error) {
		payloadLen := len(msg.Payload)
		if payloadLen < minSize || payloadLen > maxSize {
			logger.Warn().Str("msg_id", msg.ID).Int("payload_size", payloadLen).Msg("Rejecting message due to invalid payload size.")
			return nil, true, nil
		}
		return innerTransformer(ctx, msg)
	}
}
