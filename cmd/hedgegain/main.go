package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/hedgegain/internal/clean"
	"github.com/rewired-gh/hedgegain/internal/config"
	"github.com/rewired-gh/hedgegain/internal/hedge"
	"github.com/rewired-gh/hedgegain/internal/loader"
	"github.com/rewired-gh/hedgegain/internal/logger"
	"github.com/rewired-gh/hedgegain/internal/models"
	"github.com/rewired-gh/hedgegain/internal/pipeline"
	"github.com/rewired-gh/hedgegain/internal/storage"
	"github.com/rewired-gh/hedgegain/internal/telegram"
	"github.com/rewired-gh/hedgegain/internal/volatility"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cancelling run...")
		cancel()
	}()

	source := loader.NewWorkbookSource(map[string]string{
		loader.OptionData: cfg.Sources.OptionData,
		loader.StockData:  cfg.Sources.StockData,
		loader.ATMOptions: cfg.Sources.ATMOptions,
	}, cfg.Sources.Sheet)

	p := pipeline.New(source, pipeline.Config{
		StrikeDivisor: cfg.Sources.StrikeDivisor,
		ATMOnly:       cfg.Sources.ATMOnly,
		Factor:        cfg.Volatility.Factor,
		Cleaning: clean.Config{
			WindowDays:  cfg.Cleaning.WindowDays,
			MaxMissings: cfg.Cleaning.MaxMissings,
		},
		Hedge: hedge.Config{
			DaysPerYear: cfg.Hedge.DaysPerYear,
		},
		Volatility: volatility.Config{
			WindowStartDays:    cfg.Volatility.WindowStartDays,
			WindowEndDays:      cfg.Volatility.WindowEndDays,
			ScaleIdiosyncratic: cfg.Volatility.ScaleIdiosyncratic,
			Workers:            cfg.Volatility.Workers,
		},
	})

	logger.Info("Starting run (window: %d days, max missings: %d, factor: %s)",
		cfg.Cleaning.WindowDays, cfg.Cleaning.MaxMissings, cfg.Volatility.Factor)

	run, err := p.Run(ctx)
	if err != nil {
		logger.Error("Run failed: %v", err)
		if telegramClient != nil {
			if sendErr := telegramClient.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		os.Exit(1)
	}

	if cfg.Storage.Enabled {
		saveRun(cfg, run)
	}

	if telegramClient != nil {
		if err := telegramClient.SendRun(run); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
		} else {
			logger.Info("Sent Telegram summary for run %s", run.ID)
		}
	}
}

func saveRun(cfg *config.Config, run *models.Run) {
	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if err := store.SaveRun(run); err != nil {
		logger.Error("Failed to save run %s: %v", run.ID, err)
		return
	}
	if err := store.RotateRuns(); err != nil {
		logger.Warn("Failed to rotate runs: %v", err)
	}
	logger.Info("Saved run %s", run.ID)
}
