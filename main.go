package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gildhall/auctionhall/auctionhall"
	"github.com/gildhall/auctionhall/auctionhall/database"
	"github.com/gildhall/auctionhall/auctionhall/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := auctionhall.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	customHandler := logger.NewHandler(cfg.Log.Level, cfg.Log.AddSource)
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting auction hall node",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.String("node", cfg.Node.Name),
		slog.Bool("manager", cfg.Node.Manager))

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Redis connection failed",
			slog.String("addr", cfg.Redis.Addr),
			slog.String("error", err.Error()))
		os.Exit(-1)
	}
	slog.Info("Redis connected successfully", slog.String("addr", cfg.Redis.Addr))

	n := auctionhall.New(*cfg, version, commit)
	n.DB = db
	n.Redis = rdb
	defer n.Close()

	if err := n.Setup(nil); err != nil {
		slog.Error("Failed to set up node", slog.Any("error", err))
		os.Exit(-1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Auction hall is running. Press CTRL-C to exit.")
	if err := n.Run(runCtx); err != nil && runCtx.Err() == nil {
		slog.Error("Node stopped with error", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Shutting down node...")
}
