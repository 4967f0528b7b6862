package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"pairchat/internal/auth"
	"pairchat/internal/broker"
	"pairchat/internal/chat"
	"pairchat/internal/config"
	"pairchat/internal/httpapi"
	"pairchat/internal/logging"
	"pairchat/internal/outbox"
	"pairchat/internal/presence"
	"pairchat/internal/push"
	"pairchat/internal/repository"
	"pairchat/internal/ws"
)

const (
	httpShutdownTimeout = 10 * time.Second
	hubShutdownTimeout  = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err := run(cfg, log); err != nil {
		log.Error("pairchat exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Persistence
	withOutbox := cfg.BrokerDriver != config.BrokerNone
	store, outboxRepo, err := openStore(ctx, cfg, withOutbox)
	if err != nil {
		return err
	}
	defer store.Close()

	// 2. Realtime core
	tokens := auth.NewJWT(cfg.JWTSecret, cfg.TokenTTL)
	tracker := presence.NewTracker(store, log.With("component", "presence"))
	hub := ws.NewHub(tracker, log.With("component", "hub"))
	go hub.Run()

	wsLog := log.With("component", "ws")
	router := ws.NewRouter(hub, store, wsLog)
	dispatcher := ws.NewDispatcher(router, ws.NewTypingRelay(hub, wsLog), wsLog)
	gateway := ws.NewGateway(hub, tokens, dispatcher, ws.GatewayOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
	}, wsLog)

	// 3. Event bus workers
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	var workers sync.WaitGroup

	if withOutbox {
		b, err := openBroker(cfg, log.With("component", "broker"))
		if err != nil {
			return err
		}
		defer b.Close()

		if outboxRepo != nil {
			w := outbox.NewWorker(outboxRepo, b, log.With("component", "outbox"))
			workers.Add(1)
			go func() {
				defer workers.Done()
				w.Start(workerCtx, cfg.OutboxInterval)
			}()
		} else {
			log.Warn("store has no outbox; message events will not be published", "store", cfg.StoreDriver)
		}

		pushLog := log.With("component", "push")
		pw := push.NewWorker(b, hub, push.LogNotifier{Log: pushLog}, pushLog)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := pw.Start(workerCtx); err != nil {
				pushLog.Error("push worker failed", "err", err)
			}
		}()
	}

	// 4. HTTP
	svc := chat.NewService(store, tokens, log.With("component", "chat"))
	if cfg.SeedDemoUsers {
		if err := svc.SeedDemoUsers(ctx); err != nil {
			log.Warn("demo users not seeded", "err", err)
		}
	}
	handler := httpapi.SetupRoutes(
		httpapi.NewHandler(svc, router, hub, log.With("component", "http")),
		tokens,
		gateway,
		log.With("component", "http"),
	)
	server := httpapi.CreateServer(cfg.Addr(), handler)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", server.Addr, "store", cfg.StoreDriver, "broker", cfg.BrokerDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	// 5. Graceful shutdown: stop accepting, drop live connections (recording
	// everyone offline), then stop the workers before the store closes.
	_ = httpapi.ShutdownServer(server, httpShutdownTimeout, log)
	if err := hub.Shutdown(hubShutdownTimeout); err != nil {
		log.Warn("hub shutdown incomplete", "err", err)
	}
	cancelWorkers()
	workers.Wait()

	log.Info("server exited")
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config, withOutbox bool) (repository.Store, repository.OutboxRepository, error) {
	var opts []repository.SQLOption
	if withOutbox {
		opts = append(opts, repository.WithOutbox())
	}

	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		s, err := repository.OpenSQLite(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.StorePostgres:
		s, err := repository.OpenPostgres(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.StoreMongo:
		s, err := repository.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	default:
		s, err := repository.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

func openBroker(cfg *config.Config, log *slog.Logger) (broker.Broker, error) {
	switch cfg.BrokerDriver {
	case config.BrokerStream:
		return broker.NewStreamClient(cfg.StreamURL, cfg.StreamName, log)
	default:
		return broker.NewRabbitMQClient(cfg.AMQPURL, log)
	}
}
