package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/bothub-tgbot-go/internal/config"
	"github.com/bothub-tgbot-go/internal/i18n"
	"github.com/bothub-tgbot-go/internal/middleware"
	"github.com/bothub-tgbot-go/internal/services/bothub"
	"github.com/bothub-tgbot-go/internal/services/session"
	"github.com/bothub-tgbot-go/internal/services/state"
	"github.com/bothub-tgbot-go/internal/storage"
	"github.com/bothub-tgbot-go/internal/telegram"
	"github.com/bothub-tgbot-go/internal/usecase"
	"github.com/bothub-tgbot-go/internal/webhook"
	"github.com/bothub-tgbot-go/internal/worker"
	"github.com/bothub-tgbot-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting BotHub Telegram gateway...")

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	if err := storage.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}

	users := storage.NewUserRepo(db)
	chats := storage.NewChatRepo(db)
	messages := storage.NewMessageRepo(db)
	presentsRepo := storage.NewPresentRepo(db)
	catalog := storage.NewCatalogRepo(db)

	metrics := middleware.NewMetrics()

	client := bothub.NewClient(&cfg.Bothub, metrics, log)
	gateway := session.NewGateway(client, cfg.Bothub.WebURL, log)

	states, err := state.NewStore(cfg.State, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize state store")
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	rateLimiter := middleware.NewRateLimiter(cfg, log)

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	notifier := telegram.NewNotifier(bot, localizer, log)

	chatSession := usecase.NewChatSession(gateway, log)
	webSearch := usecase.NewWebSearch(gateway, log)
	imageGen := usecase.NewImageGeneration(gateway, log)
	account := usecase.NewAccountConnection(gateway, log)
	selection := usecase.NewModelSelection(gateway, catalog, users, chats, log)
	presents := usecase.NewPresent(presentsRepo, users, notifier, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(cfg.Workers, messages, users, chats,
		chatSession, webSearch, imageGen, notifier, metrics, log)
	pool.Start(ctx)

	webhookServer := webhook.NewServer(cfg.Webhook.Port, cfg.Bothub.WebhookSecret,
		users, presents, metrics, log)
	go func() {
		if err := webhookServer.Start(); err != nil {
			log.WithError(err).Error("Webhook server failed")
		}
	}()

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	dispatcher := telegram.NewDispatcher(bot, cfg, users, chats, messages,
		rateLimiter, states, notifier, account, selection, presents, metrics, log)
	go dispatcher.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	cancel()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := webhookServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Webhook server shutdown failed")
	}

	log.Info("Bot stopped")
}
