package messagepipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-commitflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipRevision makes the test transformer skip a commit.
const skipRevision = "skip-me"

func skippingTransformer(ctx context.Context, msg *messagepipeline.Message) (*types.CommitMessage, bool, error) {
	commit, skip, err := messagepipeline.CommitTransformer(ctx, msg)
	if err == nil && commit.CommitID.Name == skipRevision {
		return nil, true, nil
	}
	return commit, skip, err
}

func startCommitService(
	t *testing.T,
	workers int,
	processor messagepipeline.StreamProcessor[types.CommitMessage],
) (*messagepipeline.StreamingService[types.CommitMessage], *MockMessageConsumer) {
	t.Helper()
	consumer := NewMockMessageConsumer(10)
	t.Cleanup(consumer.Close)

	service, err := messagepipeline.NewStreamingService[types.CommitMessage](
		messagepipeline.StreamingServiceConfig{NumWorkers: workers},
		consumer, skippingTransformer, processor, zerolog.Nop(),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, service.Start(ctx))
	return service, consumer
}

func TestStreamingService_Lifecycle(t *testing.T) {
	processor := func(context.Context, messagepipeline.Message, *types.CommitMessage) error { return nil }
	service, consumer := startCommitService(t, 3, processor)

	assert.Equal(t, 1, consumer.GetStartCount())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, 1, consumer.GetStopCount())
	assert.Equal(t, messagepipeline.StreamingStats{}, service.Stats())
}

func TestStreamingService_Outcomes(t *testing.T) {
	processErr := errors.New("publish failed")

	testCases := []struct {
		name      string
		msg       func(t *testing.T) messagepipeline.Message
		processor messagepipeline.StreamProcessor[types.CommitMessage]
		wantAck   bool
		wantStats messagepipeline.StreamingStats
	}{
		{
			name: "commit is processed and acked",
			msg:  func(t *testing.T) messagepipeline.Message { return commitMessage(t, "d-1-0", testCommit("1042")) },
			processor: func(_ context.Context, _ messagepipeline.Message, c *types.CommitMessage) error {
				if c.CommitID.Name != "1042" {
					return errors.New("unexpected commit")
				}
				return nil
			},
			wantAck:   true,
			wantStats: messagepipeline.StreamingStats{Processed: 1},
		},
		{
			name:      "skipped commit is acked",
			msg:       func(t *testing.T) messagepipeline.Message { return commitMessage(t, "d-2-0", testCommit(skipRevision)) },
			processor: func(context.Context, messagepipeline.Message, *types.CommitMessage) error { return processErr },
			wantAck:   true,
			wantStats: messagepipeline.StreamingStats{Skipped: 1},
		},
		{
			name: "undecodable payload is nacked",
			msg: func(*testing.T) messagepipeline.Message {
				return messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "d-3-0", Payload: []byte("{")}}
			},
			processor: func(context.Context, messagepipeline.Message, *types.CommitMessage) error { return nil },
			wantStats: messagepipeline.StreamingStats{Failed: 1},
		},
		{
			name:      "processor error is nacked",
			msg:       func(t *testing.T) messagepipeline.Message { return commitMessage(t, "d-4-0", testCommit("7")) },
			processor: func(context.Context, messagepipeline.Message, *types.CommitMessage) error { return processErr },
			wantStats: messagepipeline.StreamingStats{Failed: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			service, consumer := startCommitService(t, 1, tc.processor)

			var acked, nacked atomic.Bool
			msg := tc.msg(t)
			msg.Ack = func() { acked.Store(true) }
			msg.Nack = func() { nacked.Store(true) }
			consumer.Push(msg)

			require.Eventually(t, func() bool {
				return acked.Load() || nacked.Load()
			}, time.Second, 10*time.Millisecond)
			assert.Equal(t, tc.wantAck, acked.Load())
			assert.Equal(t, !tc.wantAck, nacked.Load())
			assert.Equal(t, tc.wantStats, service.Stats())
		})
	}
}

func TestStreamingService_ConcurrentWorkers(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	processor := func(_ context.Context, _ messagepipeline.Message, c *types.CommitMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen[c.CommitID.Name]++
		return nil
	}
	service, consumer := startCommitService(t, 4, processor)

	revisions := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, rev := range revisions {
		consumer.Push(commitMessage(t, "d-"+rev+"-0", testCommit(rev)))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))

	assert.Equal(t, int64(len(revisions)), service.Stats().Processed)
	mu.Lock()
	defer mu.Unlock()
	for _, rev := range revisions {
		assert.Equal(t, 1, seen[rev], "revision %s", rev)
	}
}

func TestStreamingService_NilAckHandles(t *testing.T) {
	processor := func(context.Context, messagepipeline.Message, *types.CommitMessage) error { return nil }
	service, consumer := startCommitService(t, 2, processor)

	consumer.Push(commitMessage(t, "no-handles", testCommit("1")))
	consumer.Push(messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "no-handles-err", Payload: []byte("not json")}})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))

	stats := service.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestNewStreamingService_Validation(t *testing.T) {
	consumer := NewMockMessageConsumer(1)
	transformer := messagepipeline.CommitTransformer
	processor := func(context.Context, messagepipeline.Message, *types.CommitMessage) error { return nil }

	_, err := messagepipeline.NewStreamingService[types.CommitMessage](messagepipeline.StreamingServiceConfig{}, nil, transformer, processor, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewStreamingService[types.CommitMessage](messagepipeline.StreamingServiceConfig{}, consumer, nil, processor, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewStreamingService[types.CommitMessage](messagepipeline.StreamingServiceConfig{}, consumer, transformer, nil, zerolog.Nop())
	assert.Error(t, err)
}
