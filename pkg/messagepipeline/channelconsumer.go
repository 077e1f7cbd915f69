package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
)

// ErrConsumerStopped is returned by Submit once the consumer has been stopped.
var ErrConsumerStopped = errors.New("consumer is stopped")

// ChannelConsumer is an in-process MessageConsumer fed through Submit. The
// ingress server uses it to hand commits to the pipeline without waiting for
// them to be published.
//
// There is no redelivery: a Nacked message is logged and counted as dropped.
type ChannelConsumer struct {
	msgChan  chan Message
	stopChan chan struct{}
	doneChan chan struct{}
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once

	dropped atomic.Int64
}

// NewChannelConsumer creates a consumer buffering up to bufferSize messages.
func NewChannelConsumer(bufferSize int, logger zerolog.Logger) *ChannelConsumer {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &ChannelConsumer{
		msgChan:  make(chan Message, bufferSize),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		logger:   logger.With().Str("component", "ChannelConsumer").Logger(),
		now:      time.Now,
	}
}

var (
	_ MessageConsumer = (*ChannelConsumer)(nil)
	_ CommitSink      = (*ChannelConsumer)(nil)
)

// Messages returns the channel the pipeline workers read from.
func (c *ChannelConsumer) Messages() <-chan Message { return c.msgChan }

// Done is closed once the consumer has stopped.
func (c *ChannelConsumer) Done() <-chan struct{} { return c.doneChan }

// Dropped returns how many messages were Nacked.
func (c *ChannelConsumer) Dropped() int64 { return c.dropped.Load() }

// Start stops the consumer when ctx is cancelled.
func (c *ChannelConsumer) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop(context.Background())
		case <-c.doneChan:
		}
	}()
	return nil
}

// Stop rejects further submissions and closes the message channel. Messages
// already buffered are still delivered to the workers.
func (c *ChannelConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.mu.Lock()
		c.closed = true
		close(c.msgChan)
		c.mu.Unlock()
		close(c.doneChan)
		c.logger.Info().Msg("Channel consumer stopped.")
	})
	return nil
}

// Submit turns each commit into a Message and queues it, blocking while the
// buffer is full.
func (c *ChannelConsumer) Submit(ctx context.Context, deliveryID string, commits []types.CommitMessage) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConsumerStopped
	}

	for i, commit := range commits {
		msg, err := c.newMessage(deliveryID, i, commit)
		if err != nil {
			return err
		}
		select {
		case c.msgChan <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return ErrConsumerStopped
		}
	}
	return nil
}

func (c *ChannelConsumer) newMessage(deliveryID string, index int, commit types.CommitMessage) (Message, error) {
	payload, err := json.Marshal(commit)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal commit %s: %w", commit.Key(), err)
	}
	id := fmt.Sprintf("%s-%d", deliveryID, index)
	return Message{
		MessageData: MessageData{
			ID:          id,
			Payload:     payload,
			PublishTime: c.now().UTC(),
		},
		Attributes: map[string]string{
			AttrSource:     commit.Source,
			AttrRepository: commit.Repo.Name,
			AttrRevision:   commit.CommitID.Name,
			AttrDeliveryID: deliveryID,
		},
		Ack: func() {
			c.logger.Debug().Str("msg_id", id).Msg("Commit delivered.")
		},
		Nack: func() {
			c.dropped.Add(1)
			c.logger.Error().Str("msg_id", id).Str("commit", commit.Key()).Msg("Commit could not be delivered and was dropped.")
		},
	}, nil
}
