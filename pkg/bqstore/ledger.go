package bqstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-commitflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-commitflow/pkg/types"
)

// NewCommitLedgerProcessor wraps inner so that every commit it forwards is
// also queued as a CommitRow. Ledger errors are logged and never fail the
// message.
func NewCommitLedgerProcessor(
	inner messagepipeline.StreamProcessor[types.CommitMessage],
	batcher *BatchInserter[CommitRow],
	logger zerolog.Logger,
) messagepipeline.StreamProcessor[types.CommitMessage] {
	logger = logger.With().Str("component", "CommitLedger").Logger()
	return func(ctx context.Context, original messagepipeline.Message, commit *types.CommitMessage) error {
		if err := inner(ctx, original, commit); err != nil {
			return err
		}
		row := NewCommitRow(*commit, original.Attributes[messagepipeline.AttrDeliveryID], time.Now().UTC())
		if err := batcher.Add(ctx, row); err != nil {
			logger.Warn().Err(err).Str("commit", row.CommitKey).Msg("Failed to queue commit for the ledger.")
		}
		return nil
	}
}
