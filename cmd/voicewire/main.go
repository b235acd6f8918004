// Command voicewire runs the turn collection service: an HTTP API that
// executes voice turns against a remote endpoint, persists the turn log,
// and stores synthesized audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MarloweLabs/VoiceWire/api"
	"github.com/MarloweLabs/VoiceWire/collector"
	"github.com/MarloweLabs/VoiceWire/config"
	"github.com/MarloweLabs/VoiceWire/conversation"
	"github.com/MarloweLabs/VoiceWire/logger"
	prommetrics "github.com/MarloweLabs/VoiceWire/metrics/prometheus"
	"github.com/MarloweLabs/VoiceWire/storage"
	"github.com/MarloweLabs/VoiceWire/storage/local"
	s3store "github.com/MarloweLabs/VoiceWire/storage/s3"
	"github.com/MarloweLabs/VoiceWire/telemetry"
	"github.com/MarloweLabs/VoiceWire/transport"
	"github.com/MarloweLabs/VoiceWire/turnstore"
	"github.com/MarloweLabs/VoiceWire/version"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		telemetry.SetupPropagation()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	turns, closeTurns, err := buildTurnStore(cfg)
	if err != nil {
		return err
	}
	defer closeTurns()

	media, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	orch, err := conversation.New(conversation.Config{
		Dialer: endpointDialer(cfg),
		Turns:  turns,
		Media:  media,
		Collector: collector.New(collector.Config{
			IdleWindow:  cfg.Collector.IdleWindow,
			DrainWindow: cfg.Collector.DrainWindow,
		}),
	})
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Config{
		Runner:    orch,
		Turns:     turns,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	exporter := prommetrics.NewExporter(cfg.API.MetricsAddr)
	go func() {
		if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics exporter failed: %w", err)
		}
	}()

	go func() {
		logger.Info("voicewire listening",
			"addr", cfg.API.ListenAddr,
			"metrics_addr", cfg.API.MetricsAddr,
			"version", version.GetVersion())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	if err := exporter.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics exporter shutdown failed", "error", err)
	}
	return nil
}

// endpointDialer dials a fresh websocket channel per turn.
func endpointDialer(cfg *config.Config) conversation.Dialer {
	return conversation.DialerFunc(func(ctx context.Context) (conversation.Channel, error) {
		return transport.DialWithRetry(ctx, transport.Config{
			URL:         cfg.Endpoint.URL,
			APIKey:      cfg.APIKey(),
			DialTimeout: cfg.Endpoint.DialTimeout,
			MaxRetries:  cfg.Endpoint.MaxRetries,
		})
	})
}

func buildTurnStore(cfg *config.Config) (turnstore.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory turn store")
		return turnstore.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var opts []turnstore.RedisOption
	if cfg.Redis.TTL > 0 {
		opts = append(opts, turnstore.WithTTL(cfg.Redis.TTL))
	}
	if cfg.Redis.Prefix != "" {
		opts = append(opts, turnstore.WithPrefix(cfg.Redis.Prefix))
	}

	store := turnstore.NewRedisStore(client, opts...)
	closer := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	return store, closer, nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:       cfg.Storage.Bucket,
			Prefix:       cfg.Storage.Prefix,
			Region:       cfg.Storage.Region,
			Endpoint:     cfg.Storage.S3Endpoint,
			UsePathStyle: cfg.Storage.UsePathStyle,
		})
	default:
		return local.NewFileStore(local.FileStoreConfig{BaseDir: cfg.Storage.BaseDir})
	}
}
