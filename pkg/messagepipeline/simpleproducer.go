package messagepipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
)

// SimplePublisher defines a generic, direct publisher interface.
type SimplePublisher interface {
	// Publish sends one message and returns once the broker has accepted it.
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisherConfig holds configuration for a GoogleSimplePublisher.
type GoogleSimplePublisherConfig struct {
	TopicID            string
	TopicExistsTimeout time.Duration
	PublishTimeout     time.Duration
}

// NewGoogleSimplePublisherDefaults returns a config with sensible timeouts.
func NewGoogleSimplePublisherDefaults(topicID string) *GoogleSimplePublisherConfig {
	return &GoogleSimplePublisherConfig{
		TopicID:            topicID,
		TopicExistsTimeout: 15 * time.Second,
		PublishTimeout:     20 * time.Second,
	}
}

// GoogleSimplePublisher implements a direct-to-Pub/Sub publisher.
type GoogleSimplePublisher struct {
	topic          *pubsub.Topic
	publishTimeout time.Duration
	logger         zerolog.Logger
}

// NewGoogleSimplePublisher creates a new simple publisher. It verifies that
// the target topic exists before returning.
func NewGoogleSimplePublisher(ctx context.Context, cfg *GoogleSimplePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &GoogleSimplePublisher{
		topic:          topic,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish sends a single message to Pub/Sub and waits for the server ID.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	getCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	msgID, err := result.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	return nil
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	// topic.Stop() is blocking, so we wrap it to respect the context timeout.
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewCommitPublishProcessor returns a StreamProcessor that publishes each
// commit as JSON, carrying over the original message's attributes.
func NewCommitPublishProcessor(publisher SimplePublisher) StreamProcessor[types.CommitMessage] {
	return func(ctx context.Context, original Message, commit *types.CommitMessage) error {
		payload, err := json.Marshal(commit)
		if err != nil {
			return fmt.Errorf("failed to marshal commit %s: %w", commit.Key(), err)
		}
		return publisher.Publish(ctx, payload, original.Attributes)
	}
}
