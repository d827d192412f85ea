// Command chatd is the local messaging agent: it keeps one user's outbox,
// merges live conversation feeds and serves them to the UI over HTTP and
// WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/blob"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/outbox"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/session"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/bolt"
	"github.com/chatsync/internal/storage/memory"
	"github.com/chatsync/internal/storage/postgres"
	"github.com/chatsync/internal/ws"
)

func main() {
	logger.SetPrefix("chatd")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep conversations and typing in process memory")
	user := flag.String("user", "", "user id to act for (overrides CHATSYNC_USER_ID)")
	flag.Parse()

	logger.Info("starting chatd")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *user != "" {
		cfg.UserID = *user
	}
	if cfg.UserID == "" && !*migrate {
		logger.Errorf("user id is required: set CHATSYNC_USER_ID or -user")
		logger.Flush(time.Second)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var (
		backend storage.Backend
		typing  storage.TypingBackend
		probe   func(context.Context) error
		closers []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	if *inMemory {
		mem := memory.New()
		backend, typing = mem, mem
		logger.Info("using in-memory backend")
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				fatalf("embedded postgres: %v", err)
			}
			closers = append(closers, func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			})
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			fatalf("parse db config: %v", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2

		pool, err := startup.ConnectDBWithRetry(rootCtx, poolCfg, 60*time.Second)
		if err != nil {
			fatalf("%v", err)
		}
		closers = append(closers, pool.Close)

		migrateCtx, migrateCancel := context.WithTimeout(rootCtx, 30*time.Second)
		err = postgres.Migrate(migrateCtx, pool)
		migrateCancel()
		if err != nil {
			fatalf("%v", err)
		}
		if *migrate {
			return
		}
		logger.Info("database connected, migrations applied")

		rdb, err := startup.ConnectRedisWithRetry(rootCtx, cfg.RedisURL, 30*time.Second)
		if err != nil {
			fatalf("%v", err)
		}
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Errorf("redis close: %v", err)
			}
		})
		backend, typing = postgres.New(pool), rdb
		probe = pool.Ping
	}
	if *migrate {
		return
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Outbox.Path), 0o755); err != nil {
		fatalf("outbox dir: %v", err)
	}
	box, err := bolt.Open(cfg.Outbox.Path)
	if err != nil {
		fatalf("%v", err)
	}
	closers = append(closers, func() {
		if err := box.Close(); err != nil {
			logger.Errorf("outbox close: %v", err)
		}
	})

	monitor := connectivity.NewMonitor(true)
	blobs := blob.New(cfg.Blob.Dir, cfg.Blob.MaxSize, cfg.Blob.BaseURL)
	client, err := session.New(session.Deps{
		Backend: backend,
		Typing:  typing,
		Outbox:  box,
		Signal:  monitor,
		Blobs:   blobs,
		UserID:  cfg.UserID,
		Config: session.Config{
			Outbox: outbox.Config{
				BaseBackoff:   cfg.Outbox.BaseBackoff,
				MaxBackoff:    cfg.Outbox.MaxBackoff,
				MaxAttempts:   cfg.Outbox.MaxAttempts,
				DrainInterval: cfg.Outbox.DrainInterval,
			},
			Realtime: realtime.Config{
				Window:          cfg.Realtime.Window,
				ResubscribeBase: cfg.Realtime.ResubscribeBase,
				ResubscribeMax:  cfg.Realtime.ResubscribeMax,
			},
			Typing: presence.TypingConfig{
				TTL:        cfg.Presence.TypingTTL,
				Refresh:    cfg.Presence.TypingRefresh,
				Inactivity: cfg.Presence.TypingIdle,
			},
			OnlineDebounce: cfg.Presence.OnlineDebounce,
		},
	})
	if err != nil {
		fatalf("%v", err)
	}

	loopCtx, loopCancel := context.WithCancel(rootCtx)
	var loopWg sync.WaitGroup
	loopWg.Add(1)
	go func() {
		defer loopWg.Done()
		if err := client.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("session stopped: %v", err)
		}
	}()
	if probe != nil {
		loopWg.Add(1)
		go func() {
			defer loopWg.Done()
			monitor.Probe(loopCtx, cfg.Presence.ProbeInterval, probe)
		}()
	}

	hub := ws.NewHub(cfg.WS.MaxConnections)
	api := handler.NewAPI(client, monitor, blobs, hub, ws.Options{
		WriteWait:      cfg.WS.WriteTimeout,
		PongWait:       cfg.WS.PongTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBufSize:    cfg.WS.SendBufferSize,
	}, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.WithUser(cfg.UserID))
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimit(50, 100))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	api.Routes(r)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s user=%s", cfg.ServerAddr, cfg.UserID)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hub.Shutdown()
	logger.Info("feeds closed")
	loopCancel()
	loopWg.Wait()
	logger.Info("session stopped")
	srvWg.Wait()
	logger.Flush(2 * time.Second)
}

func fatalf(format string, v ...any) {
	logger.Errorf(format, v...)
	logger.Flush(2 * time.Second)
	os.Exit(1)
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
