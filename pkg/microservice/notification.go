package microservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-commitflow/pkg/icestore"
	"github.com/illmade-knight/go-commitflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-commitflow/pkg/translation"
	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
)

const archiveTimeout = 30 * time.Second

// DeliveryArchiver stores raw deliveries. *icestore.Archiver implements it.
type DeliveryArchiver interface {
	Archive(ctx context.Context, data *icestore.ArchivalData) (string, error)
}

// NotificationServerConfig configures the notification endpoint.
type NotificationServerConfig struct {
	HTTPPort         string
	NotificationPath string
	MaxBodyBytes     int64
}

// NotificationServer receives source-control notifications over HTTP,
// translates them and hands the resulting commits to a CommitSink.
//
// Once a translator claims a delivery the sender always gets that translator's
// acknowledgement with a 200, whether or not commits could be extracted.
// Deliveries are archived in the background after the response is written.
type NotificationServer struct {
	*BaseServer
	registry     *translation.Registry
	sink         messagepipeline.CommitSink
	archiver     DeliveryArchiver
	maxBodyBytes int64
	logger       zerolog.Logger
	newID        func() string
	now          func() time.Time
	archives     sync.WaitGroup
}

var _ Service = (*NotificationServer)(nil)

// NewNotificationServer creates a NotificationServer. archiver may be nil.
func NewNotificationServer(
	cfg NotificationServerConfig,
	registry *translation.Registry,
	sink messagepipeline.CommitSink,
	archiver DeliveryArchiver,
	logger zerolog.Logger,
) (*NotificationServer, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("at least one translator must be registered")
	}
	if sink == nil {
		return nil, errors.New("commit sink cannot be nil")
	}
	if cfg.NotificationPath == "" {
		cfg.NotificationPath = "/notifications"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}

	s := &NotificationServer{
		BaseServer:   NewBaseServer(logger, cfg.HTTPPort),
		registry:     registry,
		sink:         sink,
		archiver:     archiver,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger.With().Str("component", "NotificationServer").Logger(),
		newID:        uuid.NewString,
		now:          time.Now,
	}
	s.Handle(cfg.NotificationPath, http.HandlerFunc(s.handleNotification))
	return s, nil
}

func (s *NotificationServer) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	deliveryID := s.newID()
	receivedAt := s.now().UTC()
	msg := types.NewInboundMessage(string(body), r.Header.Clone())
	logger := s.logger.With().Str("delivery_id", deliveryID).Logger()

	archival := &icestore.ArchivalData{
		ID:         deliveryID,
		ReceivedAt: receivedAt,
		Headers:    msg.Headers,
		Body:       msg.Body,
	}
	defer s.archiveAsync(r.Context(), archival)

	name, result, err := s.registry.Translate(msg)
	if err != nil {
		archival.Outcome = "unclaimed"
		logger.Info().Str("user_agent", r.UserAgent()).Msg("No translator accepts the notification.")
		http.Error(w, "unsupported notification", http.StatusBadRequest)
		return
	}
	archival.Translator = name
	archival.Outcome = result.Outcome.String()
	logger = logger.With().Str("translator", name).Logger()

	if result.IsRecognized() {
		for _, commit := range result.Commits {
			archival.CommitKeys = append(archival.CommitKeys, commit.Key())
		}
		if err := s.sink.Submit(r.Context(), deliveryID, result.Commits); err != nil {
			logger.Error().Err(err).Int("commit_count", len(result.Commits)).Msg("Failed to submit commits to the pipeline.")
		} else {
			logger.Info().Int("commit_count", len(result.Commits)).Msg("Notification translated.")
		}
	} else {
		archival.Reason = result.Reason
		logger.Warn().Str("reason", result.Reason).Msg("Notification could not be translated.")
	}

	w.Header().Set("Content-Type", result.Content.MediaType+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Content.Body); err != nil {
		logger.Warn().Err(err).Msg("Failed to write acknowledgement.")
	}
}

// archiveAsync stores data without holding up the sender's acknowledgement.
func (s *NotificationServer) archiveAsync(ctx context.Context, data *icestore.ArchivalData) {
	if s.archiver == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	s.archives.Add(1)
	go func() {
		defer s.archives.Done()
		defer cancel()
		if _, err := s.archiver.Archive(archiveCtx, data); err != nil {
			s.logger.Error().Err(err).Str("delivery_id", data.ID).Msg("Failed to archive delivery.")
		}
	}()
}

// DrainArchives waits for in-flight archive writes to finish or ctx to end.
func (s *NotificationServer) DrainArchives(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.archives.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archives still pending: %w", ctx.Err())
	}
}

// Shutdown stops the HTTP server, then waits for pending archive writes.
func (s *NotificationServer) Shutdown(ctx context.Context) error {
	if err := s.BaseServer.Shutdown(ctx); err != nil {
		return err
	}
	return s.DrainArchives(ctx)
}
