package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/christopherjohns/chatline/internal/attachment"
	"github.com/christopherjohns/chatline/internal/auth"
	"github.com/christopherjohns/chatline/internal/config"
	"github.com/christopherjohns/chatline/internal/logging"
	"github.com/christopherjohns/chatline/internal/message"
	"github.com/christopherjohns/chatline/internal/server"
	"github.com/christopherjohns/chatline/internal/user"
	"github.com/christopherjohns/chatline/internal/ws"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatline: %v\n", err)
		os.Exit(1)
	}
}

// run wires the stores, the hub and the HTTP server, and blocks until
// SIGINT or SIGTERM.
func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(os.Getenv("CHATLINE_CONFIG"))
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging)

	users, messages, closeStore, err := openStores(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer closeStore()

	files, err := attachment.NewDiskStore(cfg.Storage.UploadsDir, cfg.Storage.MaxAttachmentBytes)
	if err != nil {
		return fmt.Errorf("uploads dir: %w", err)
	}

	revoked := auth.NewRevocations(time.Minute)
	defer revoked.Close()
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, revoked)

	hub := ws.NewHub(ws.Config{
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Hub.HeartbeatTimeout,
		SendBuffer:        cfg.Hub.SendBuffer,
		MaxConns:          cfg.Hub.MaxConns,
		WriteTimeout:      cfg.Hub.WriteTimeout,
	}, messages, files, log.With("component", "hub"))

	srv := server.New(cfg, server.Deps{
		Hub:        hub,
		Auth:       auth.NewService(users, tokens),
		Tokens:     tokens,
		Users:      users,
		Messages:   messages,
		UploadsDir: files.Dir(),
		Log:        log.With("component", "http"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting chatline", "addr", cfg.HTTP.Addr, "backend", cfg.Storage.Backend)
	return srv.Run(ctx)
}

// openStores opens the configured backend and returns the user and message
// stores on top of it.
func openStores(cfg config.StorageConfig, log *slog.Logger) (user.Repository, message.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		db, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLogger(nil))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open badger at %s: %w", cfg.BadgerPath, err)
		}
		log.Info("opened badger", "path", cfg.BadgerPath)
		return user.NewBadgerRepository(db), message.NewBadgerStore(db), db.Close, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Info("connected to redis", "addr", cfg.RedisAddr)
		return user.NewRedisRepository(rdb), message.NewRedisStore(rdb), rdb.Close, nil

	default:
		log.Warn("using in-memory storage; data is lost on restart")
		return user.NewMemoryRepository(), message.NewMemoryStore(), func() error { return nil }, nil
	}
}
