package bqstore

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/illmade-knight/go-commitflow/pkg/types"
)

// CommitRow is the ledger schema for one forwarded commit.
type CommitRow struct {
	CommitKey   string    `bigquery:"commit_key"`
	Source      string    `bigquery:"source"`
	Repository  string    `bigquery:"repository"`
	Revision    string    `bigquery:"revision"`
	Author      string    `bigquery:"author"`
	Message     string    `bigquery:"message"`
	CommittedAt time.Time `bigquery:"committed_at"`
	Changes     []string  `bigquery:"changes"`
	DeliveryID  string    `bigquery:"delivery_id"`
	ForwardedAt time.Time `bigquery:"forwarded_at"`
}

// NewCommitRow builds the ledger row for commit.
func NewCommitRow(commit types.CommitMessage, deliveryID string, forwardedAt time.Time) *CommitRow {
	return &CommitRow{
		CommitKey:   commit.Key(),
		Source:      commit.Source,
		Repository:  commit.Repo.Name,
		Revision:    commit.CommitID.Name,
		Author:      commit.Author.Name,
		Message:     commit.Message,
		CommittedAt: commit.Date,
		Changes:     commit.Changes,
		DeliveryID:  deliveryID,
		ForwardedAt: forwardedAt,
	}
}

var _ bigquery.ValueSaver = (*CommitRow)(nil)

// Save implements bigquery.ValueSaver. The commit key doubles as the insert
// ID so BigQuery drops retried rows on a best-effort basis.
func (r *CommitRow) Save() (map[string]bigquery.Value, string, error) {
	changes := make([]bigquery.Value, len(r.Changes))
	for i, c := range r.Changes {
		changes[i] = c
	}
	return map[string]bigquery.Value{
		"commit_key":   r.CommitKey,
		"source":       r.Source,
		"repository":   r.Repository,
		"revision":     r.Revision,
		"author":       r.Author,
		"message":      r.Message,
		"committed_at": r.CommittedAt,
		"changes":      changes,
		"delivery_id":  r.DeliveryID,
		"forwarded_at": r.ForwardedAt,
	}, r.CommitKey, nil
}
