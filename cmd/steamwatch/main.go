package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/rewired-gh/steamwatch/internal/collector"
	"github.com/rewired-gh/steamwatch/internal/config"
	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/monitor"
	"github.com/rewired-gh/steamwatch/internal/publisher"
	"github.com/rewired-gh/steamwatch/internal/scheduler"
	"github.com/rewired-gh/steamwatch/internal/status"
	"github.com/rewired-gh/steamwatch/internal/steam"
	"github.com/rewired-gh/steamwatch/internal/storage"
	"github.com/rewired-gh/steamwatch/internal/telegram"
	"github.com/rewired-gh/steamwatch/internal/watchlist"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := config.NewFlagSet("steamwatch")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "steamwatch: %v\n", err)
		return 2
	}
	configPath, _ := flags.GetString("config")

	// Load configuration
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if configPath != "" {
		logger.Info("Configuration loaded from %s", configPath)
	}

	// Load the watchlist once up front so a misconfiguration fails before
	// anything else starts. The scheduler re-reads it every cycle.
	source := watchlist.FileSource{Path: cfg.Watchlist.Path}
	w, err := source.Load()
	if err != nil {
		logger.Error("Failed to load watchlist: %v", err)
		return 1
	}

	writer := storage.NewWriter(cfg.Storage.DataDir, storage.Files{
		Snapshot:  cfg.Storage.SnapshotFile,
		Discounts: cfg.Storage.DiscountsFile,
		Players:   cfg.Storage.PlayersFile,
	}, 0o644, 0o755)
	if err := writer.CleanupTemp(); err != nil {
		logger.Warn("Failed to clean up temporary files: %v", err)
	}

	steamClient := steam.NewClient(steam.ClientConfig{
		StoreURL:    cfg.Steam.StoreURL,
		StatsURL:    cfg.Steam.StatsURL,
		APIKey:      cfg.Steam.APIKey,
		CountryCode: cfg.Steam.CountryCode,
		Language:    cfg.Steam.Language,
		UserAgent:   cfg.Steam.UserAgent,
		Timeout:     cfg.Steam.Timeout,
	})
	coll := collector.New(collector.Config{
		ItemDelay:   cfg.Collector.ItemDelay,
		Concurrency: cfg.Collector.Concurrency,
	}, steamClient)

	var reporters []scheduler.Reporter
	var telegramClient *telegram.Client

	// Initialize Telegram client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Error("Failed to initialize Telegram client: %v", err)
			return 1
		}
		reporters = append(reporters, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Initialize Redis stream publisher
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("Invalid redis.url: %v", err)
			return 1
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		reporters = append(reporters, publisher.NewRedisPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen))
		logger.Info("Publishing cycle reports to redis stream %s", cfg.Redis.Stream)
	}

	// Initialize sale monitor
	var observers []scheduler.ViewObserver
	if cfg.Monitor.Enabled {
		var notifier monitor.Notifier
		if telegramClient != nil {
			notifier = telegramClient
		}
		observers = append(observers, monitor.New(monitor.Config{
			MinDiscount: cfg.Monitor.MinDiscount,
			TopK:        cfg.Monitor.TopK,
			Cooldown:    cfg.Monitor.Cooldown,
		}, notifier))
		logger.Info("Sale alerts enabled (min_discount: %d%%, top_k: %d, cooldown: %v)",
			cfg.Monitor.MinDiscount, cfg.Monitor.TopK, cfg.Monitor.Cooldown)
	}

	var sched *scheduler.Scheduler
	tracker := status.NewTracker(func() string { return sched.State().String() })
	reporters = append(reporters, tracker)

	sched = scheduler.New(scheduler.Config{
		Interval:  cfg.Scheduler.Interval,
		MaxCycles: cfg.Scheduler.MaxCycles,
	}, source, coll, writer, scheduler.WithReporters(reporters...), scheduler.WithViewObservers(observers...))

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Status.ListenAddr != "" {
		srv := status.NewServer(cfg.Status.ListenAddr, status.NewRouter(tracker, cfg.Status.AllowedOrigins))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.Error("Status server failed: %v", err)
			}
		}()
	}

	logBanner(cfg, w.Games)

	runErr := sched.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("Shutdown signal received, cleaning up...")
	}
	stop()
	wg.Wait()

	if runErr != nil {
		logger.Error("Stopped: %v", runErr)
		return 1
	}
	logger.Info("Service stopped")
	return 0
}

func logBanner(cfg *config.Config, ids []int) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	logger.Info("Starting steamwatch: %d games, interval %v, item delay %v, concurrency %d",
		len(ids), cfg.Scheduler.Interval, cfg.Collector.ItemDelay, cfg.Collector.Concurrency)
	logger.Info("Watchlist %s: [%s]", cfg.Watchlist.Path, strings.Join(parts, ", "))
	logger.Info("Writing views to %s", cfg.Storage.DataDir)
	if cfg.Steam.APIKey == "" {
		logger.Debug("No Steam API key configured, player counts use anonymous access")
	}
}
