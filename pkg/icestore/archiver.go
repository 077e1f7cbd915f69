// Package icestore archives raw inbound notifications to Google Cloud Storage,
// so that deliveries can be inspected or replayed after the fact.
package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ArchivalData is the record written for each inbound delivery.
type ArchivalData struct {
	ID         string              `json:"id"`
	Translator string              `json:"translator,omitempty"`
	ReceivedAt time.Time           `json:"receivedAt"`
	Headers    map[string][]string `json:"headers"`
	Body       string              `json:"body"`
	Outcome    string              `json:"outcome"`
	Reason     string              `json:"reason,omitempty"`
	CommitKeys []string            `json:"commitKeys,omitempty"`
}

// ObjectKey returns the object path below the configured prefix, e.g.
// "2025/06/13/tfs/<id>.json.gz".
func (d *ArchivalData) ObjectKey() string {
	ts := d.ReceivedAt.UTC()
	source := strings.ToLower(d.Translator)
	if source == "" {
		source = "unclaimed"
	}
	return fmt.Sprintf("%d/%02d/%02d/%s/%s.json.gz", ts.Year(), ts.Month(), ts.Day(), source, d.ID)
}

// ArchiverConfig holds the GCS destination.
type ArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// Archiver writes one gzip-compressed JSON object per delivery.
type Archiver struct {
	client GCSClient
	config ArchiverConfig
	logger zerolog.Logger
}

// NewArchiver creates an Archiver for the configured bucket.
func NewArchiver(client GCSClient, config ArchiverConfig, logger zerolog.Logger) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &Archiver{
		client: client,
		config: config,
		logger: logger.With().Str("component", "Archiver").Str("bucket", config.BucketName).Logger(),
	}, nil
}

// Archive uploads data and returns the name of the created object.
func (a *Archiver) Archive(ctx context.Context, data *ArchivalData) (string, error) {
	if data == nil || data.ID == "" {
		return "", errors.New("archival data must have an ID")
	}
	objectName := path.Join(a.config.ObjectPrefix, data.ObjectKey())

	writer := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx, WriterAttrs{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		Metadata: map[string]string{
			"delivery_id": data.ID,
			"outcome":     data.Outcome,
		},
	})

	gz := gzip.NewWriter(writer)
	if err := json.NewEncoder(gz).Encode(data); err != nil {
		_ = gz.Close()
		_ = writer.Close()
		return "", fmt.Errorf("failed to encode archival data for %s: %w", data.ID, err)
	}
	if err := gz.Close(); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to compress archival data for %s: %w", data.ID, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	a.logger.Debug().Str("object_name", objectName).Msg("Delivery archived.")
	return objectName, nil
}
