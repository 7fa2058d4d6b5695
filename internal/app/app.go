package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/atvirokodosprendimai/surveysync/internal/adapters/events"
	"github.com/atvirokodosprendimai/surveysync/internal/adapters/httpapi"
	redisadapter "github.com/atvirokodosprendimai/surveysync/internal/adapters/redis"
	"github.com/atvirokodosprendimai/surveysync/internal/adapters/remote"
	sqliteadapter "github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/surveysync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
	"github.com/atvirokodosprendimai/surveysync/internal/core/usecase"
)

type Config struct {
	Addr   string
	DBPath string
	// MaxStorePages caps the local database size; zero leaves it unbounded.
	MaxStorePages int

	RemoteURL     string
	RemoteToken   string
	JWTSecret     string
	JWTSubject    string
	SigningSecret string
	HeartbeatPath string

	ProbeInterval  time.Duration
	Threshold      int
	RequestTimeout time.Duration
	CacheTTL       time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	FlushInterval  time.Duration
	ConflictPolicy string

	RedisAddr     string
	WebhookURL    string
	WebhookSecret string
	SchemaDir     string
	APIKeys       []string

	Logger *slog.Logger
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewServer opens the local store, starts the background workers and returns
// the HTTP server for the local API. Closing the returned closer stops the
// workers before the store is closed.
func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy, ok := domain.ParseConflictPolicy(cfg.ConflictPolicy)
	if !ok {
		return nil, nil, fmt.Errorf("unknown conflict policy %q", cfg.ConflictPolicy)
	}
	apiKeys, err := usecase.ParseAPIKeys(cfg.APIKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("parse api keys: %w", err)
	}
	tokens, err := tokenSource(cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := remote.NewClient(remote.Config{
		BaseURL:       cfg.RemoteURL,
		Tokens:        tokens,
		SigningSecret: cfg.SigningSecret,
	})
	if err != nil {
		return nil, nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var dbOpts []gormsqlite.Option
	if cfg.MaxStorePages > 0 {
		dbOpts = append(dbOpts, gormsqlite.WithMaxPageCount(cfg.MaxStorePages))
	}
	db, err := sqliteadapter.Open(openCtx, cfg.DBPath, logger, dbOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	closers := []io.Closer{db}
	fail := func(err error) (*http.Server, io.Closer, error) {
		_ = resourceCloser{closers: reversed(closers)}.Close()
		return nil, nil, err
	}

	store := sqliteadapter.NewStore(db, logger)
	journalRepo := sqliteadapter.NewJournalRepository(db)
	outbox := sqliteadapter.NewNotificationOutbox(db)
	schemas := usecase.NewSchemaService(sqliteadapter.NewSchemaRepository(db))

	if cfg.SchemaDir != "" {
		n, err := schemas.SeedDir(openCtx, cfg.SchemaDir, logger)
		if err != nil {
			return fail(fmt.Errorf("seed schemas: %w", err))
		}
		logger.Info("resource schemas loaded", "dir", cfg.SchemaDir, "count", n)
	}

	sinks := []ports.EventSink{events.NewLogSink(logger), events.NewJournalSink(journalRepo)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, usecase.NewOutboxSink(outbox))
	}
	bus := usecase.NewEventBus(logger, sinks...)

	monitor := usecase.NewConnectivityMonitor(usecase.ConnectivityMonitorConfig{
		Prober:    remote.NewHTTPProber(heartbeatURL(cfg.RemoteURL, cfg.HeartbeatPath), cfg.RequestTimeout),
		Events:    bus,
		Logger:    logger,
		Interval:  cfg.ProbeInterval,
		Threshold: cfg.Threshold,
	})

	var ledger ports.AppliedLedger
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, rdb)
		shared := redisadapter.NewLedger(rdb, 0)
		if err := shared.Ping(openCtx); err != nil {
			// The shared ledger only narrows the duplicate window; drains
			// still work against the local ledger while redis is down.
			logger.Warn("shared ledger unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		ledger = shared
	}

	engine := usecase.NewSyncEngine(usecase.SyncEngineConfig{
		Store:          store,
		Remote:         client,
		Monitor:        monitor,
		Ledger:         ledger,
		Events:         bus,
		Logger:         logger,
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		FlushInterval:  cfg.FlushInterval,
		SendTimeout:    cfg.RequestTimeout,
		ConflictPolicy: policy,
	})
	facade := usecase.NewFacade(usecase.FacadeConfig{
		Store:    store,
		Remote:   client,
		Monitor:  monitor,
		Engine:   engine,
		Schemas:  schemas,
		Logger:   logger,
		Timeout:  cfg.RequestTimeout,
		CacheTTL: cfg.CacheTTL,
	})

	// Workers outlive the setup context; they stop through their closers.
	// Start takes the first connectivity reading before it returns.
	monitor.Start(context.Background())
	closers = append(closers, monitor)
	logger.Info("initial connectivity", "online", monitor.IsOnline(), "remote", cfg.RemoteURL)
	engine.Start(context.Background())
	closers = append(closers, engine)

	if cfg.WebhookURL != "" {
		dispatcher := usecase.NewNotificationDispatcher(usecase.NotificationDispatcherConfig{
			Outbox:   outbox,
			Notifier: events.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, cfg.RequestTimeout),
			Monitor:  monitor,
			Logger:   logger,
		})
		dispatcher.Start(context.Background())
		closers = append(closers, dispatcher)
	}

	handler := httpapi.NewHandler(httpapi.Config{
		Facade:       facade,
		Engine:       engine,
		Queue:        store,
		Connectivity: monitor,
		Journal:      usecase.NewJournalService(journalRepo),
		Schemas:      schemas,
		Auth:         usecase.NewAuthService(apiKeys...),
		Logger:       logger,
	})
	if len(apiKeys) == 0 {
		logger.Warn("no api keys configured, local api is unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: reversed(closers)}, nil
}

func tokenSource(cfg Config) (remote.TokenSource, error) {
	switch {
	case cfg.JWTSecret != "" && cfg.RemoteToken != "":
		return nil, errors.New("remote token and jwt secret are mutually exclusive")
	case cfg.JWTSecret != "":
		subject := cfg.JWTSubject
		if subject == "" {
			subject = "surveysync"
		}
		return remote.NewJWTTokenSource(cfg.JWTSecret, subject, "surveysync", 0)
	case cfg.RemoteToken != "":
		return remote.StaticToken(cfg.RemoteToken), nil
	default:
		return nil, nil
	}
}

func heartbeatURL(base, path string) string {
	if path == "" {
		path = "/health"
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// reversed returns closers in shutdown order: last started, first closed.
func reversed(in []io.Closer) []io.Closer {
	out := make([]io.Closer, len(in))
	for i, c := range in {
		out[len(in)-1-i] = c
	}
	return out
}
