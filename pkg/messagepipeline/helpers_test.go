package messagepipeline_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-commitflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/stretchr/testify/require"
)

func testCommit(revision string) types.CommitMessage {
	return types.CommitMessage{
		Author:   types.Author{Name: `CORP\jdoe`},
		Date:     time.Date(2012, 3, 1, 10, 0, 0, 0, time.FixedZone("", -5*60*60)),
		Message:  "fix bug",
		Repo:     types.Repo{Name: "Ledger"},
		Source:   "TFS",
		CommitID: types.CommitID{Name: revision},
	}
}

// commitMessage encodes a commit the way ChannelConsumer does.
func commitMessage(t *testing.T, id string, commit types.CommitMessage) messagepipeline.Message {
	t.Helper()
	payload, err := json.Marshal(commit)
	require.NoError(t, err)
	return messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: id, Payload: payload}}
}

// recordingPublisher is an in-memory SimplePublisher.
type recordingPublisher struct {
	mu        sync.Mutex
	payloads  [][]byte
	attrs     []map[string]string
	publishFn func(payload []byte) error
}

func (r *recordingPublisher) Publish(_ context.Context, payload []byte, attributes map[string]string) error {
	if r.publishFn != nil {
		if err := r.publishFn(payload); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	r.attrs = append(r.attrs, attributes)
	return nil
}

func (r *recordingPublisher) Stop(_ context.Context) error { return nil }

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

var _ messagepipeline.SimplePublisher = (*recordingPublisher)(nil)

// MockMessageConsumer is a mock implementation of the MessageConsumer interface for testing.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	startCount int
	stopCount  int
	mu         sync.Mutex
	closeOnce  sync.Once
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan: make(chan messagepipeline.Message, bufferSize),
	}
}
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) {
	m.msgChan <- msg
}
func (m *MockMessageConsumer) Close() {
	m.closeOnce.Do(func() {
		close(m.msgChan)
	})
}
func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message {
	return m.msgChan
}
func (m *MockMessageConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return nil
}
func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCount++
	m.Close()
	return nil
}
func (m *MockMessageConsumer) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}
func (m *MockMessageConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}
func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}
