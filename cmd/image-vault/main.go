// Command image-vault manages a content-addressable image library: it
// searches web image providers, generates images, deduplicates and stores
// the bytes locally, and serves relevance-ranked results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/image-vault/backend"
	"github.com/wolfeidau/image-vault/cache"
	"github.com/wolfeidau/image-vault/provider"
	"github.com/wolfeidau/image-vault/provider/local"
	"github.com/wolfeidau/image-vault/provider/openai"
	"github.com/wolfeidau/image-vault/provider/pexels"
	"github.com/wolfeidau/image-vault/provider/unsplash"
	"github.com/wolfeidau/image-vault/service"
	"github.com/wolfeidau/image-vault/telemetry"
)

var version = "dev"

type globals struct {
	Storage   string `help:"Storage directory path." default:"./vault" env:"IMAGE_VAULT_STORAGE"`
	LogLevel  string `help:"Log level." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format." default:"text" enum:"text,json"`

	UnsplashAccessKey string `help:"Unsplash API access key." env:"UNSPLASH_ACCESS_KEY"`
	PexelsAPIKey      string `help:"Pexels API key." env:"PEXELS_API_KEY" name:"pexels-api-key"`
	OpenAIAPIKey      string `help:"OpenAI API key." env:"OPENAI_API_KEY" name:"openai-api-key"`

	ProviderTimeout time.Duration `help:"Per-provider timeout during fan-out." default:"10s"`
	MaxUploadSize   int64         `help:"Maximum accepted upload size in bytes." default:"26214400"`
	SearchCacheTTL  time.Duration `help:"TTL for the in-process search result cache (0 disables)." default:"30s"`
	RateLimit       int           `help:"Provider calls admitted per rate window (0 disables the limiter)." default:"50"`
	RateWindow      time.Duration `help:"Sliding rate-limit window." default:"1h"`

	MetricsAddr  string `help:"Serve Prometheus metrics on this address (empty disables)."`
	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics push (empty disables)." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type cli struct {
	globals

	Search   searchCmd   `cmd:"" help:"Search image providers and print one ranked page."`
	Generate generateCmd `cmd:"" help:"Generate an image and store it in the vault."`
	Upload   uploadCmd   `cmd:"" help:"Upload a local image file into the vault."`
	Suggest  suggestCmd  `cmd:"" help:"Suggest vault images for a piece of text content."`
	Get      getCmd      `cmd:"" help:"Print the metadata record for an image ID."`
	Delete   deleteCmd   `cmd:"" help:"Delete an image record."`
	List     listCmd     `cmd:"" help:"List cached images."`
	Stats    statsCmd    `cmd:"" help:"Print aggregate vault statistics."`
	Health   healthCmd   `cmd:"" help:"Health-check every registered provider."`
	Dedupe   dedupeCmd   `cmd:"" help:"Re-verify content hashes and drop redundant files."`
	Clear    clearCmd    `cmd:"" help:"Remove cached images."`
	Rebuild  rebuildCmd  `cmd:"" help:"Rebuild the index from the filesystem."`
	Export   exportCmd   `cmd:"" help:"Export the vault as a compressed archive."`
	Import   importCmd   `cmd:"" help:"Import an archive produced by export."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var app cli
	kctx := kong.Parse(&app,
		kong.Name("image-vault"),
		kong.Description("Content-addressable image acquisition and ranking vault."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if err := run(&app, kctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(app *cli, kctx *kong.Context) error {
	logger, err := buildLogger(app.LogLevel, app.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "image-vault",
		ServiceVersion:   version,
		OTLPEndpoint:     app.OTLPEndpoint,
		EnablePrometheus: app.MetricsAddr != "",
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	if app.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.PrometheusHandler())
		go func() {
			if err := http.ListenAndServe(app.MetricsAddr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "address", app.MetricsAddr)
	}

	svc, cleanup, err := buildService(app, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(svc)
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

func buildService(app *cli, logger *slog.Logger) (*service.Service, func(), error) {
	fs, err := backend.NewFilesystem(app.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	statsDB, err := cache.OpenStatsDB(filepath.Join(app.Storage, "stats.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening stats ledger: %w", err)
	}

	c := cache.New(fs,
		cache.WithLogger(logger),
		cache.WithStatsDB(statsDB),
	)

	if _, err := c.RebuildIndex(context.Background()); err != nil {
		_ = statsDB.Close()
		return nil, nil, fmt.Errorf("rebuilding index: %w", err)
	}

	registry := provider.NewRegistry(provider.WithLogger(logger))

	limiter := func() *provider.RateLimiter {
		if app.RateLimit <= 0 {
			return nil
		}
		return provider.NewRateLimiter(app.RateLimit, app.RateWindow)
	}

	registry.Register(&provider.Descriptor{
		Provider: unsplash.New(app.UnsplashAccessKey,
			unsplash.WithHTTPClient(&http.Client{
				Timeout:   app.ProviderTimeout,
				Transport: telemetry.NewInstrumentedTransport(nil, "unsplash"),
			})),
		Enabled: app.UnsplashAccessKey != "",
		Limiter: limiter(),
	})
	registry.Register(&provider.Descriptor{
		Provider: pexels.New(app.PexelsAPIKey,
			pexels.WithHTTPClient(&http.Client{
				Timeout:   app.ProviderTimeout,
				Transport: telemetry.NewInstrumentedTransport(nil, "pexels"),
			})),
		Enabled: app.PexelsAPIKey != "",
		Limiter: limiter(),
	})
	registry.Register(&provider.Descriptor{
		Provider: openai.New(app.OpenAIAPIKey,
			openai.WithHTTPClient(&http.Client{
				Timeout:   2 * time.Minute, // generation is slow
				Transport: telemetry.NewInstrumentedTransport(nil, "openai"),
			})),
		Enabled: app.OpenAIAPIKey != "",
		Limiter: limiter(),
	})
	registry.Register(&provider.Descriptor{
		Provider: local.New(),
		Enabled:  true,
	})

	svc := service.New(c, registry, service.Config{
		ProviderTimeout: app.ProviderTimeout,
		MaxUploadSize:   app.MaxUploadSize,
		SearchCacheTTL:  app.SearchCacheTTL,
	}, service.WithLogger(logger))

	cleanup := func() {
		if err := statsDB.Close(); err != nil {
			logger.Warn("closing stats ledger", "error", err)
		}
	}
	return svc, cleanup, nil
}
