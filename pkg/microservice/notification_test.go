package microservice_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-commitflow/pkg/icestore"
	"github.com/illmade-knight/go-commitflow/pkg/microservice"
	"github.com/illmade-knight/go-commitflow/pkg/tfs"
	"github.com/illmade-knight/go-commitflow/pkg/translation"
	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tfsUserAgent = "Team Foundation (TfsJobAgent.exe, 10.0.40219.1)"

type recordingSink struct {
	mu          sync.Mutex
	deliveryIDs []string
	commits     []types.CommitMessage
	err         error
}

func (s *recordingSink) Submit(_ context.Context, deliveryID string, commits []types.CommitMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deliveryIDs = append(s.deliveryIDs, deliveryID)
	s.commits = append(s.commits, commits...)
	return nil
}

type recordingArchiver struct {
	mu      sync.Mutex
	records []icestore.ArchivalData
	err     error
}

func (a *recordingArchiver) Archive(ctx context.Context, data *icestore.ArchivalData) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	a.records = append(a.records, *data)
	return data.ObjectKey(), a.err
}

func newTestServer(t *testing.T, sink *recordingSink, archiver microservice.DeliveryArchiver, maxBody int64) *microservice.NotificationServer {
	t.Helper()
	logger := zerolog.Nop()
	registry := translation.NewRegistry(logger).Register(tfs.SourceSystem, tfs.New(logger))
	server, err := microservice.NewNotificationServer(microservice.NotificationServerConfig{
		HTTPPort:         ":0",
		NotificationPath: "/notifications",
		MaxBodyBytes:     maxBody,
	}, registry, sink, archiver, logger)
	require.NoError(t, err)
	return server
}

func validBody(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../tfs/testdata/valid_message.xml")
	require.NoError(t, err)
	return string(data)
}

func post(server *microservice.NotificationServer, body, userAgent string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	rec := httptest.NewRecorder()
	server.Mux().ServeHTTP(rec, req)
	_ = server.DrainArchives(context.Background())
	return rec
}

func TestNewNotificationServer_Validation(t *testing.T) {
	logger := zerolog.Nop()
	registry := translation.NewRegistry(logger).Register(tfs.SourceSystem, tfs.New(logger))

	_, err := microservice.NewNotificationServer(microservice.NotificationServerConfig{}, translation.NewRegistry(logger), &recordingSink{}, nil, logger)
	assert.Error(t, err)

	_, err = microservice.NewNotificationServer(microservice.NotificationServerConfig{}, registry, nil, nil, logger)
	assert.Error(t, err)

	_, err = microservice.NewNotificationServer(microservice.NotificationServerConfig{}, registry, &recordingSink{}, nil, logger)
	assert.NoError(t, err)
}

func TestNotificationServer_RecognizedCheckin(t *testing.T) {
	sink := &recordingSink{}
	archiver := &recordingArchiver{}
	server := newTestServer(t, sink, archiver, 0)

	rec := post(server, validBody(t), tfsUserAgent)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tfs.MediaType+"; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, tfs.AcknowledgementBody, rec.Body.String())

	require.Len(t, sink.commits, 1)
	commit := sink.commits[0]
	assert.Equal(t, "TFS", commit.Source)
	assert.Equal(t, "Ledger", commit.Repo.Name)
	assert.Equal(t, "1042", commit.CommitID.Name)

	require.Len(t, archiver.records, 1)
	record := archiver.records[0]
	assert.Equal(t, sink.deliveryIDs[0], record.ID)
	assert.Equal(t, tfs.SourceSystem, record.Translator)
	assert.Equal(t, translation.Recognized.String(), record.Outcome)
	assert.Equal(t, []string{"TFS/Ledger/1042"}, record.CommitKeys)
	assert.Empty(t, record.Reason)
}

func TestNotificationServer_FailureStillAcknowledged(t *testing.T) {
	sink := &recordingSink{}
	archiver := &recordingArchiver{}
	server := newTestServer(t, sink, archiver, 0)

	// Claimed by the TFS translator but the required children are missing.
	body := `<eventXml>&lt;CheckinEvent xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"&gt;&lt;/CheckinEvent&gt;</eventXml>`
	rec := post(server, body, tfsUserAgent)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tfs.AcknowledgementBody, rec.Body.String())
	assert.Empty(t, sink.commits)

	require.Len(t, archiver.records, 1)
	assert.Equal(t, translation.Failure.String(), archiver.records[0].Outcome)
	assert.Equal(t, tfs.FailureReason, archiver.records[0].Reason)
}

func TestNotificationServer_Unclaimed(t *testing.T) {
	testCases := []struct {
		name      string
		body      string
		userAgent string
	}{
		{name: "wrong user agent", body: "<eventXml/>", userAgent: "curl/8.0"},
		{name: "no user agent", body: "<eventXml/>"},
		{name: "empty body", body: "", userAgent: tfsUserAgent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			archiver := &recordingArchiver{}
			server := newTestServer(t, sink, archiver, 0)

			rec := post(server, tc.body, tc.userAgent)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, sink.commits)
			require.Len(t, archiver.records, 1)
			assert.Equal(t, "unclaimed", archiver.records[0].Outcome)
			assert.Empty(t, archiver.records[0].Translator)
		})
	}
}

func TestNotificationServer_MethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &recordingSink{}, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	rec := httptest.NewRecorder()
	server.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestNotificationServer_BodyTooLarge(t *testing.T) {
	sink := &recordingSink{}
	server := newTestServer(t, sink, nil, 64)

	rec := post(server, validBody(t), tfsUserAgent)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, sink.commits)
}

func TestNotificationServer_SinkAndArchiveErrorsDoNotChangeResponse(t *testing.T) {
	sink := &recordingSink{err: errors.New("consumer stopped")}
	archiver := &recordingArchiver{err: errors.New("bucket unavailable")}
	server := newTestServer(t, sink, archiver, 0)

	rec := post(server, validBody(t), tfsUserAgent)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tfs.AcknowledgementBody, rec.Body.String())
}

// blockingArchiver holds every Archive call until release is closed.
type blockingArchiver struct {
	recordingArchiver
	started chan struct{}
	release chan struct{}
}

func (a *blockingArchiver) Archive(ctx context.Context, data *icestore.ArchivalData) (string, error) {
	close(a.started)
	<-a.release
	return a.recordingArchiver.Archive(ctx, data)
}

func TestNotificationServer_AcknowledgesBeforeArchiving(t *testing.T) {
	sink := &recordingSink{}
	archiver := &blockingArchiver{started: make(chan struct{}), release: make(chan struct{})}
	server := newTestServer(t, sink, archiver, 0)

	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(validBody(t)))
	req.Header.Set("User-Agent", tfsUserAgent)
	rec := httptest.NewRecorder()
	server.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tfs.AcknowledgementBody, rec.Body.String())
	<-archiver.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, server.DrainArchives(ctx), context.DeadlineExceeded)

	close(archiver.release)
	require.NoError(t, server.Shutdown(context.Background()))

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.records, 1)
	assert.Equal(t, translation.Recognized.String(), archiver.records[0].Outcome)
}

func TestNotificationServer_Healthz(t *testing.T) {
	server := newTestServer(t, &recordingSink{}, nil, 0)

	rec := httptest.NewRecorder()
	server.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
