// Package enrichment adds author profile data to commits on their way to the
// downstream topic. Profiles are looked up by the account name the source
// system reports, e.g. `CORP\jdoe`.
package enrichment

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-commitflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-commitflow/pkg/types"
)

// Attribute keys set on enriched commit messages.
const (
	AttrAuthorDisplayName = "author_display_name"
	AttrAuthorEmail       = "author_email"
)

// AuthorProfile is the directory entry for one source-control account.
type AuthorProfile struct {
	DisplayName string `firestore:"display_name" json:"displayName"`
	Email       string `firestore:"email" json:"email"`
}

// WithAuthorEnrichment wraps inner and attaches the author's profile to the
// message attributes. A missing or unreadable profile never stops a commit.
func WithAuthorEnrichment(
	inner messagepipeline.MessageTransformer[types.CommitMessage],
	fetcher Fetcher[string, AuthorProfile],
	logger zerolog.Logger,
) messagepipeline.MessageTransformer[types.CommitMessage] {
	logger = logger.With().Str("component", "AuthorEnricher").Logger()
	return func(ctx context.Context, msg *messagepipeline.Message) (*types.CommitMessage, bool, error) {
		commit, skip, err := inner(ctx, msg)
		if err != nil || skip || commit.Author.Name == "" {
			return commit, skip, err
		}

		profile, err := fetcher(ctx, commit.Author.Name)
		if err != nil {
			event := logger.Warn()
			if errors.Is(err, ErrNotFound) {
				event = logger.Debug()
			}
			event.Err(err).Str("msg_id", msg.ID).Str("author", commit.Author.Name).Msg("No author profile, forwarding commit as is.")
			return commit, false, nil
		}

		if msg.Attributes == nil {
			msg.Attributes = make(map[string]string)
		}
		if profile.DisplayName != "" {
			msg.Attributes[AttrAuthorDisplayName] = profile.DisplayName
		}
		if profile.Email != "" {
			msg.Attributes[AttrAuthorEmail] = profile.Email
		}
		return commit, false, nil
	}
}
