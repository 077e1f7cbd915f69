package messagepipeline

import (
	"context"
	"time"

	"github.com/illmade-knight/go-commitflow/pkg/cache"
	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
)

// DuplicateFilter suppresses commits that were already forwarded, e.g. when a
// source server re-sends a notification. The transformer claims a commit with
// SetIfAbsent, so concurrent workers holding the same commit forward it once.
// The processor releases the claim if forwarding fails so a later re-send is
// retried.
//
// Cache errors are logged and the commit is let through.
type DuplicateFilter struct {
	seen   cache.PresenceCache[string, time.Time]
	logger zerolog.Logger
	now    func() time.Time
}

// NewDuplicateFilter creates a DuplicateFilter backed by seen.
func NewDuplicateFilter(seen cache.PresenceCache[string, time.Time], logger zerolog.Logger) *DuplicateFilter {
	return &DuplicateFilter{
		seen:   seen,
		logger: logger.With().Str("component", "DuplicateFilter").Logger(),
		now:    time.Now,
	}
}

// Transformer wraps inner and skips commits another delivery has claimed.
func (f *DuplicateFilter) Transformer(inner MessageTransformer[types.CommitMessage]) MessageTransformer[types.CommitMessage] {
	return func(ctx context.Context, msg *Message) (*types.CommitMessage, bool, error) {
		commit, skip, err := inner(ctx, msg)
		if err != nil || skip {
			return commit, skip, err
		}

		key := commit.Key()
		claimed, err := f.seen.SetIfAbsent(ctx, key, f.now().UTC())
		if err != nil {
			f.logger.Warn().Err(err).Str("commit", key).Msg("Duplicate check failed, forwarding commit.")
			return commit, false, nil
		}
		if !claimed {
			f.logger.Info().Str("msg_id", msg.ID).Str("commit", key).Msg("Skipping duplicate commit.")
			return nil, true, nil
		}
		return commit, false, nil
	}
}

// Processor wraps inner and releases the commit's claim when inner fails.
func (f *DuplicateFilter) Processor(inner StreamProcessor[types.CommitMessage]) StreamProcessor[types.CommitMessage] {
	return func(ctx context.Context, original Message, commit *types.CommitMessage) error {
		err := inner(ctx, original, commit)
		if err == nil {
			return nil
		}
		if delErr := f.seen.Delete(context.WithoutCancel(ctx), commit.Key()); delErr != nil {
			f.logger.Warn().Err(delErr).Str("commit", commit.Key()).Msg("Failed to release commit claim.")
		}
		return err
	}
}
