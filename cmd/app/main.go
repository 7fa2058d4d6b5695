package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/app"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "surveysync",
		Usage: "Offline-first local gateway for the survey admin API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "127.0.0.1:8080",
				Sources: cli.EnvVars("SURVEYSYNC_ADDR"),
				Usage:   "HTTP listen address for the local API",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./surveysync.sqlite",
				Sources: cli.EnvVars("SURVEYSYNC_DB_PATH"),
				Usage:   "SQLite file holding the cache and the offline queue",
			},
			&cli.IntFlag{
				Name:    "max-store-pages",
				Sources: cli.EnvVars("SURVEYSYNC_MAX_STORE_PAGES"),
				Usage:   "Upper bound on the local database size in pages (0 = unbounded)",
			},
			&cli.StringFlag{
				Name:     "remote-url",
				Sources:  cli.EnvVars("SURVEYSYNC_REMOTE_URL"),
				Usage:    "Base URL of the remote survey admin API",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "remote-token",
				Sources: cli.EnvVars("SURVEYSYNC_REMOTE_TOKEN"),
				Usage:   "Static bearer token for the remote API",
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				Sources: cli.EnvVars("SURVEYSYNC_JWT_SECRET"),
				Usage:   "HS256 secret used to mint short-lived remote tokens (instead of --remote-token)",
			},
			&cli.StringFlag{
				Name:    "jwt-subject",
				Value:   "surveysync",
				Sources: cli.EnvVars("SURVEYSYNC_JWT_SUBJECT"),
				Usage:   "Subject claim for minted remote tokens",
			},
			&cli.StringFlag{
				Name:    "signing-secret",
				Sources: cli.EnvVars("SURVEYSYNC_SIGNING_SECRET"),
				Usage:   "HMAC-SHA256 secret for the X-Signature header on remote writes",
			},
			&cli.StringFlag{
				Name:    "heartbeat-path",
				Value:   "/health",
				Sources: cli.EnvVars("SURVEYSYNC_HEARTBEAT_PATH"),
				Usage:   "Remote path probed to decide connectivity",
			},
			&cli.DurationFlag{
				Name:    "probe-interval",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("SURVEYSYNC_PROBE_INTERVAL"),
				Usage:   "Interval between connectivity probes",
			},
			&cli.IntFlag{
				Name:    "debounce-threshold",
				Value:   2,
				Sources: cli.EnvVars("SURVEYSYNC_DEBOUNCE_THRESHOLD"),
				Usage:   "Consecutive observations required before connectivity flips",
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Value:   8 * time.Second,
				Sources: cli.EnvVars("SURVEYSYNC_REQUEST_TIMEOUT"),
				Usage:   "Timeout for a single remote call",
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Sources: cli.EnvVars("SURVEYSYNC_CACHE_TTL"),
				Usage:   "Age after which cached reads are stamped expired (0 = never)",
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Value:   5,
				Sources: cli.EnvVars("SURVEYSYNC_MAX_RETRIES"),
				Usage:   "Attempts before a queued mutation is marked failed",
			},
			&cli.DurationFlag{
				Name:    "base-backoff",
				Value:   time.Second,
				Sources: cli.EnvVars("SURVEYSYNC_BASE_BACKOFF"),
				Usage:   "First retry delay for a failing mutation",
			},
			&cli.DurationFlag{
				Name:    "max-backoff",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("SURVEYSYNC_MAX_BACKOFF"),
				Usage:   "Upper bound on the retry delay",
			},
			&cli.DurationFlag{
				Name:    "flush-interval",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("SURVEYSYNC_FLUSH_INTERVAL"),
				Usage:   "Periodic drain interval while online",
			},
			&cli.StringFlag{
				Name:    "conflict-policy",
				Value:   "reject",
				Sources: cli.EnvVars("SURVEYSYNC_CONFLICT_POLICY"),
				Usage:   "Remote conflict handling: reject or last-write-wins",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Sources: cli.EnvVars("SURVEYSYNC_REDIS_ADDR"),
				Usage:   "Optional redis address for an applied-mutation ledger shared between hosts",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("SURVEYSYNC_WEBHOOK_URL"),
				Usage:   "Webhook receiving failed and conflicting mutation alerts",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("SURVEYSYNC_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.StringFlag{
				Name:    "schema-dir",
				Sources: cli.EnvVars("SURVEYSYNC_SCHEMA_DIR"),
				Usage:   "Directory of <resource>.json schemas loaded at startup",
			},
			&cli.StringSliceFlag{
				Name:    "api-key",
				Sources: cli.EnvVars("SURVEYSYNC_API_KEYS"),
				Usage:   "Local API key as name:token (repeatable); none disables auth",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("SURVEYSYNC_LOG_LEVEL"),
				Usage:   "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Sources: cli.EnvVars("SURVEYSYNC_LOG_FORMAT"),
				Usage:   "text or json",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := newLogger(c.String("log-level"), c.String("log-format"))
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			cfg := app.Config{
				Addr:           c.String("addr"),
				DBPath:         c.String("db-path"),
				MaxStorePages:  int(c.Int("max-store-pages")),
				RemoteURL:      c.String("remote-url"),
				RemoteToken:    c.String("remote-token"),
				JWTSecret:      c.String("jwt-secret"),
				JWTSubject:     c.String("jwt-subject"),
				SigningSecret:  c.String("signing-secret"),
				HeartbeatPath:  c.String("heartbeat-path"),
				ProbeInterval:  c.Duration("probe-interval"),
				Threshold:      int(c.Int("debounce-threshold")),
				RequestTimeout: c.Duration("request-timeout"),
				CacheTTL:       c.Duration("cache-ttl"),
				MaxRetries:     int(c.Int("max-retries")),
				BaseDelay:      c.Duration("base-backoff"),
				MaxDelay:       c.Duration("max-backoff"),
				FlushInterval:  c.Duration("flush-interval"),
				ConflictPolicy: c.String("conflict-policy"),
				RedisAddr:      c.String("redis-addr"),
				WebhookURL:     c.String("webhook-url"),
				WebhookSecret:  c.String("webhook-secret"),
				SchemaDir:      c.String("schema-dir"),
				APIKeys:        c.StringSlice("api-key"),
				Logger:         logger,
			}

			server, closer, err := app.NewServer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					logger.Error("close resources", "error", closeErr)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.Addr)
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				logger.Info("received signal", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("surveysync exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
