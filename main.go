package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"naviai/config"
	"naviai/middleware"
	"naviai/models"
	"naviai/routes"
	"naviai/store"
	"naviai/utils"
	"naviai/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := log.New(os.Stdout, "NAVI: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	workerLog := logrus.New()
	workerLog.SetFormatter(&logrus.JSONFormatter{})

	// Shared collaborators
	db := config.DB
	st := store.New(db)
	mailer := utils.NewMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
		config.AppConfig.FromName,
	)
	sms := utils.NewSMSSender(
		config.AppConfig.SMSGatewayURL,
		config.AppConfig.SMSGatewayToken,
		config.AppConfig.SMSFromNumber,
	)
	dispatcher := utils.NewChannelDispatcher(mailer, sms, log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))
	resolver := utils.NewContactResolver(db)
	generator := utils.NewContentClient(config.AppConfig.ContentAPIURL, config.AppConfig.ContentAPIKey)
	tracker := utils.NewTrackingInjector(config.AppConfig.BaseURL)
	enroller := worker.NewEnroller(st, workerLog.WithField("component", "enroller"))

	// Engine, scheduler and pollers
	engine := worker.NewAutomationEngine(st, st, dispatcher, workerLog.WithField("component", "automation"))
	scheduler := worker.NewBroadcastScheduler(st, st, resolver, dispatcher, tracker, workerLog.WithField("component", "broadcasts"))
	winnerChecker := worker.NewWinnerChecker(st, st, resolver, dispatcher, tracker, workerLog.WithField("component", "winner-checks"))

	inboxPoller := worker.NewPoller(models.SourceInbox, st, utils.NewIMAPFetcher(), store.NewInboxSink(db), workerLog.WithField("component", "poll-inbox"))
	reviewPoller := worker.NewPoller(models.SourceReview, st, utils.NewReviewFetcher(), store.NewReviewSink(db), workerLog.WithField("component", "poll-reviews"))
	rankPoller := worker.NewPoller(models.SourceRank, st, utils.NewRankFetcher(), store.NewRankSink(db), workerLog.WithField("component", "poll-ranks"))

	// Register jobs. The same jobs back the /jobs trigger endpoints, so an
	// external cron can drive them when RunWorkers is off.
	runner := worker.NewRunner(st, workerLog.WithField("component", "runner"))
	registrations := []struct {
		name string
		spec string
		job  worker.Job
	}{
		{"automation", "@every 1m", engine.Run},
		{"broadcasts", "@every 1m", scheduler.Run},
		{"winner-checks", "@every 1m", winnerChecker.Run},
		{"poll-inbox", "@every 5m", inboxPoller.Run},
		{"poll-reviews", "@every 4h", reviewPoller.Run},
		{"poll-ranks", "@every 24h", rankPoller.Run},
	}
	for _, r := range registrations {
		if err := runner.Register(r.name, r.spec, r.job); err != nil {
			logger.Fatalf("Failed to register job %s: %v", r.name, err)
		}
	}

	if config.AppConfig.RunWorkers {
		runner.Start()
		defer runner.Stop()
	}

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, db, routes.Deps{
		Enroller:   enroller,
		Dispatcher: dispatcher,
		Generator:  generator,
		Runner:     runner,
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Println("Shutting down...")
		_ = app.Shutdown()
	}()

	logger.Printf("Starting server on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}
