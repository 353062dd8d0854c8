package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"challenge-platform/config"
	"challenge-platform/handlers"
	"challenge-platform/middleware"
	"challenge-platform/repository"
	"challenge-platform/services"
	"challenge-platform/utils"
	"challenge-platform/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ invalid configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.Development())
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := repository.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	members := repository.NewMemberRepository(db)

	var artifacts services.ArtifactStore
	if cfg.R2Enabled() {
		r2, err := utils.NewR2Store(ctx, utils.R2Config{
			AccountID:       cfg.CloudflareAccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			CDNBaseURL:      cfg.CDNBaseURL,
		})
		if err != nil {
			logger.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		artifacts = r2
	} else {
		logger.Warn("⚠️ R2 not configured, certificate artifacts will only be emailed")
	}

	var payments services.PaymentVerifier
	if cfg.PaymentServiceURL != "" {
		payments = services.NewPaymentClient(cfg.PaymentServiceURL, cfg.PaymentServiceToken, logger)
	} else {
		logger.Warn("⚠️ PAYMENT_SERVICE_URL not set, any non-empty payment token is accepted")
	}

	issuer := services.NewCertificateIssuer(services.IssuerDeps{
		Members:  members,
		Renderer: services.SVGRenderer{},
		Sender: services.NewSMTPNotifier(services.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		}),
		Artifacts: artifacts,
		Logger:    logger.Named("certificates"),
		Workers:   cfg.CertWorkers,
		QueueSize: cfg.CertQueueSize,
	})

	progression := services.NewProgressionService(services.ProgressionDeps{
		Store:      repository.NewProgressStore(db),
		Challenges: repository.NewChallengeRepository(db),
		Projects:   repository.NewProjectRepository(db),
		Shared:     repository.NewSharedChallengeRepository(db),
		Members:    members,
		RankUps:    issuer,
		Clock:      services.SystemClock{},
		Logger:     logger.Named("progression"),
		MaxRetries: cfg.CASMaxRetries,
	})
	issuer.Recorder = progression

	rewards := services.NewRewardService(progression, repository.NewRedemptionRepository(db))
	certificates := services.NewCertificateService(progression, payments, issuer, cfg.CertRequirementsTTL)

	issuer.Start(ctx)

	if cfg.HighlightSweep {
		sched, err := progression.StartHighlightScheduler(ctx)
		if err != nil {
			logger.Fatal("failed to start highlight scheduler", zap.Error(err))
		}
		defer func() { _ = sched.Shutdown() }()
	}

	if cfg.SyncServiceURL != "" {
		syncWorker := workers.NewMemberSyncWorker(members, progression, cfg.SyncServiceURL, cfg.SyncEndpointPath,
			cfg.ServiceToken, cfg.MemberSyncInterval, logger.Named("member-sync"))
		go syncWorker.Run(ctx)
	} else {
		logger.Warn("⚠️ SYNC_SERVICE_URL not set, members will not be mirrored")
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, logger.Named("gateway")))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupProgressionRoutes(app, &handlers.Handlers{
		Progression:  progression,
		Rewards:      rewards,
		Certificates: certificates,
		Logger:       logger.Named("http"),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ server running",
		zap.String("addr", cfg.HTTPAddr),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
	)

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	issuer.Stop()
}
