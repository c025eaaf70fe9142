package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fantasy-league-system/handlers"
	"fantasy-league-system/middleware"
	"fantasy-league-system/models"
	"fantasy-league-system/services"
	"fantasy-league-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New()

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	// TranslateError so duplicate-key races surface as gorm.ErrDuplicatedKey.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.LeagueTemplate{},
		&models.League{},
		&models.LeagueEntry{},
		&models.StandingsSnapshot{},
		&models.SnapshotRanking{},
		&models.PlayerPointEvent{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	oracleURL := os.Getenv("ORACLE_BASE_URL")
	if oracleURL == "" {
		log.Fatal("ORACLE_BASE_URL environment variable not set")
	}
	oracle := services.NewOracleClient(oracleURL, os.Getenv("ORACLE_SERVICE_TOKEN"))

	serviceToken := os.Getenv("LEAGUE_SERVICE_TOKEN")

	var push services.Pusher
	if pushURL := os.Getenv("PUSH_SERVICE_URL"); pushURL != "" {
		push = services.NewPushClient(pushURL, serviceToken)
	} else {
		log.Println("⚠️  PUSH_SERVICE_URL not set, standings push disabled")
	}

	var payout services.PayoutNotifier
	if payoutURL := os.Getenv("PAYOUT_SERVICE_URL"); payoutURL != "" {
		payout = services.NewPayoutClient(payoutURL, serviceToken)
	} else {
		log.Println("⚠️  PAYOUT_SERVICE_URL not set, payout notifications disabled")
	}

	season := os.Getenv("SEASON")
	if season == "" {
		log.Fatal("SEASON environment variable not set (e.g. 2026/27)")
	}

	lifecycleService := services.NewLifecycleService(db, oracle, payout)
	provisionerService := services.NewProvisionerService(db, oracle, lifecycleService, season)
	standingsService := services.NewStandingsService(db, oracle, push, payout)

	interval := defaultDuration("SCHEDULER_INTERVAL", 5*time.Minute)
	scheduler := services.NewLeagueScheduler(db, oracle, lifecycleService, provisionerService, standingsService, interval)
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start scheduler:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statsURL := os.Getenv("STATS_FEED_URL")
	if statsURL != "" {
		pointSyncClient := workers.NewPointSyncClient(db, statsURL, os.Getenv("STATS_FEED_TOKEN"))
		go workers.PollPointEvents(ctx, pointSyncClient, defaultDuration("POINT_SYNC_INTERVAL", 30*time.Second))
	} else {
		log.Println("⚠️  STATS_FEED_URL not set, point-event polling disabled")
	}

	handlers.SetupLeagueRoutes(app, &handlers.LeagueHandler{
		DB:          db,
		Oracle:      oracle,
		Lifecycle:   lifecycleService,
		Provisioner: provisionerService,
		Standings:   standingsService,
	})
	handlers.SetupSchedulerRoutes(app, &handlers.SchedulerHandler{Scheduler: scheduler})

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Printf("✅ Scheduler running (every %s)", interval)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := scheduler.Stop(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
}

func defaultDuration(envKey string, fallback time.Duration) time.Duration {
	raw := os.Getenv(envKey)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  invalid %s=%q, using %s", envKey, raw, fallback)
		return fallback
	}
	return d
}
