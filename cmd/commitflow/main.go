// Command commitflow receives source-control check-in notifications over HTTP
// and publishes the commits they describe to a Pub/Sub topic.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-commitflow/pkg/bqstore"
	"github.com/illmade-knight/go-commitflow/pkg/cache"
	"github.com/illmade-knight/go-commitflow/pkg/enrichment"
	"github.com/illmade-knight/go-commitflow/pkg/icestore"
	"github.com/illmade-knight/go-commitflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-commitflow/pkg/microservice"
	"github.com/illmade-knight/go-commitflow/pkg/tfs"
	"github.com/illmade-knight/go-commitflow/pkg/translation"
	"github.com/illmade-knight/go-commitflow/pkg/types"
)

// maxCommitPayload bounds a single encoded commit on the pipeline.
const maxCommitPayload = 1 << 20

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(rawArgs []string) error {
	var cfgFile string
	var flagCfg microservice.Config
	flags := pflag.NewFlagSet("commitflow", pflag.ExitOnError)
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config `file`")
	flags.StringVar(&flagCfg.HTTPPort, "http-port", "", "listen `address`, e.g. :8080")
	flags.StringVar(&flagCfg.LogLevel, "log-level", "", "log `level` (debug, info, warn, error)")
	flags.StringVar(&flagCfg.ProjectID, "project-id", "", "Google Cloud `project`")
	if err := flags.Parse(rawArgs[1:]); err != nil {
		return err
	}

	fileCfg, err := microservice.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	cfg, err := microservice.MergeConfig(fileCfg, flagCfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = logger.With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// newLogger writes JSON logs, or console output when w is a terminal.
func newLogger(w *os.File, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var out io.Writer = w
	if isatty.IsTerminal(w.Fd()) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func clientOptions(cfg microservice.Config) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

func serve(ctx context.Context, cfg microservice.Config, logger zerolog.Logger) error {
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	defer func() { _ = psClient.Close() }()

	pubCfg := messagepipeline.NewGoogleSimplePublisherDefaults(cfg.Pubsub.TopicID)
	publisher, err := messagepipeline.NewGoogleSimplePublisher(ctx, pubCfg, psClient, logger)
	if err != nil {
		return err
	}

	seen, err := newSeenCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = seen.Close() }()

	filter := messagepipeline.NewDuplicateFilter(seen, logger)
	transformer := filter.Transformer(
		messagepipeline.WithPayloadValidation[types.CommitMessage](messagepipeline.CommitTransformer, 1, maxCommitPayload, logger),
	)
	forward := messagepipeline.NewCommitPublishProcessor(publisher)

	if cfg.Authors.Collection != "" {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return fmt.Errorf("failed to create firestore client: %w", err)
		}
		defer func() { _ = fsClient.Close() }()
		profiles, err := newAuthorFetcher(cfg, fsClient, logger)
		if err != nil {
			return err
		}
		defer func() { _ = profiles.Close() }()
		transformer = enrichment.WithAuthorEnrichment(transformer, profiles.Fetch, logger)
	}

	if cfg.Ledger.Dataset != "" {
		bqClient, err := bqstore.NewProductionBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
		if err != nil {
			return err
		}
		defer func() { _ = bqClient.Close() }()
		inserter, err := bqstore.NewBigQueryInserter[bqstore.CommitRow](ctx, bqClient, &bqstore.BigQueryDatasetConfig{
			DatasetID: cfg.Ledger.Dataset,
			TableID:   cfg.Ledger.Table,
		}, logger)
		if err != nil {
			return err
		}
		ledger := bqstore.NewBatcher[bqstore.CommitRow](bqstore.BatchInserterConfig{
			BatchSize:     cfg.Ledger.BatchSize,
			FlushInterval: cfg.Ledger.FlushInterval.Duration,
		}, inserter, logger)
		ledger.Start(context.WithoutCancel(ctx))
		// Runs on return, after the pipeline has drained.
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
			defer cancel()
			_ = ledger.Stop(stopCtx)
		}()
		forward = bqstore.NewCommitLedgerProcessor(forward, ledger, logger)
	}
	processor := filter.Processor(forward)

	consumer := messagepipeline.NewChannelConsumer(cfg.Pipeline.BufferSize, logger)
	pipeline, err := messagepipeline.NewStreamingService[types.CommitMessage](
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.Pipeline.NumWorkers},
		consumer, transformer, processor, logger,
	)
	if err != nil {
		return err
	}

	var archiver microservice.DeliveryArchiver
	if cfg.Archive.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		defer func() { _ = gcsClient.Close() }()
		a, err := icestore.NewArchiver(icestore.NewGCSClientAdapter(gcsClient), icestore.ArchiverConfig{
			BucketName:   cfg.Archive.Bucket,
			ObjectPrefix: cfg.Archive.Prefix,
		}, logger)
		if err != nil {
			return err
		}
		archiver = a
	}

	registry := translation.NewRegistry(logger).
		Register(tfs.SourceSystem, tfs.New(logger))

	server, err := microservice.NewNotificationServer(microservice.NotificationServerConfig{
		HTTPPort:         cfg.HTTPPort,
		NotificationPath: cfg.NotificationPath,
		MaxBodyBytes:     cfg.MaxBodyBytes,
	}, registry, consumer, archiver, logger)
	if err != nil {
		return err
	}

	// Workers ignore the signal context; Stop drains them.
	if err := pipeline.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		_ = pipeline.Stop(context.Background())
		return err
	}
	logger.Info().Str("port", server.GetHTTPPort()).Str("path", cfg.NotificationPath).Msg("commitflow is running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := pipeline.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
	}
	if err := publisher.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("publisher shutdown: %w", err))
	}
	if dropped := consumer.Dropped(); dropped > 0 {
		logger.Warn().Int64("dropped", dropped).Msg("Some commits were not published.")
	}
	return errors.Join(errs...)
}

func newAuthorFetcher(cfg microservice.Config, client *firestore.Client, logger zerolog.Logger) (*enrichment.CacheFallbackFetcher[string, enrichment.AuthorProfile], error) {
	source, err := enrichment.NewFirestoreSource[string, enrichment.AuthorProfile](cfg.Authors.Collection, client, logger)
	if err != nil {
		return nil, err
	}
	memory, err := cache.NewInMemoryPresenceCache[string, enrichment.AuthorProfile](cfg.Authors.CacheSize, cfg.Authors.CacheTTL.Duration)
	if err != nil {
		return nil, err
	}
	return enrichment.NewCacheFallbackFetcher[string, enrichment.AuthorProfile](
		enrichment.FetcherConfig{},
		enrichment.NewPresenceCacheFetcher[string, enrichment.AuthorProfile](memory),
		source,
		logger,
	), nil
}

// newSeenCache uses Redis when an address is configured so replicas share
// dedup state, and a bounded in-memory cache otherwise.
func newSeenCache(ctx context.Context, cfg microservice.Config, logger zerolog.Logger) (cache.PresenceCache[string, time.Time], error) {
	if cfg.Dedup.RedisAddr != "" {
		return cache.NewRedisPresenceCache[string, time.Time](ctx, &cache.RedisConfig{
			Addr:      cfg.Dedup.RedisAddr,
			Password:  cfg.Dedup.RedisPassword,
			DB:        cfg.Dedup.RedisDB,
			KeyPrefix: cfg.Dedup.KeyPrefix,
			CacheTTL:  cfg.Dedup.TTL.Duration,
		}, logger)
	}
	return cache.NewInMemoryPresenceCache[string, time.Time](cfg.Dedup.MaxEntries, cfg.Dedup.TTL.Duration)
}
