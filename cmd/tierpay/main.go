package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/carboncube/tierpay/app/controllers"
	"github.com/carboncube/tierpay/app/repository"
	"github.com/carboncube/tierpay/internal/pkg/archive"
	"github.com/carboncube/tierpay/internal/pkg/cache"
	"github.com/carboncube/tierpay/internal/pkg/constants"
	"github.com/carboncube/tierpay/internal/pkg/database"
	"github.com/carboncube/tierpay/internal/pkg/env"
	"github.com/carboncube/tierpay/internal/pkg/jobqueue"
	"github.com/carboncube/tierpay/internal/pkg/mail"
	metrics "github.com/carboncube/tierpay/internal/pkg/metrics/counter"
	"github.com/carboncube/tierpay/internal/pkg/middleware"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
	"github.com/carboncube/tierpay/internal/pkg/payments"
	"github.com/carboncube/tierpay/internal/pkg/ratelimit"
	"github.com/carboncube/tierpay/internal/pkg/router"
	"github.com/carboncube/tierpay/internal/pkg/tiers"
)

const maxQueueBacklog = 10000

type application struct {
	app     *fiber.App
	manager *jobqueue.Manager
}

func main() {
	a := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		fiberlog.Info("Shutting down")
		a.manager.Stop()
		if err := a.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			fiberlog.Errorf("Shutdown: %v", err)
		}
	}()

	err := a.app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *application {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	ctx := context.Background()
	db := database.GetDB()
	redisClient := cache.GetClient()
	repository.InitializeFactory(db)

	// M-PESA gateway
	mpesaCfg := mpesa.ConfigFromEnv()
	if err := mpesaCfg.Validate(); err != nil {
		fiberlog.Warnf("[Mpesa] %v; STK pushes will be rejected", err)
	}
	gateway := mpesa.NewClient(mpesaCfg,
		mpesa.WithTokenStore(cache.NewTokenStore(redisClient)),
		mpesa.WithHTTPClient(&http.Client{
			Timeout: mpesaCfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}),
	)

	// job queue
	managerCfg := jobqueue.ManagerConfigFromEnv()
	queue := jobqueue.NewQueue(redisClient, managerCfg.Workers)

	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("archive configuration: %v", err))
	}

	// payments service
	deps := payments.Deps{
		Catalog:  tiers.NewCatalog(),
		Gateway:  gateway,
		Notifier: jobqueue.NewNotifier(queue),
		Attempts: cache.NewAttemptCounter(redisClient, verifyWindow()),
		Config:   payments.ConfigFromEnv(env.GetEnv("MPESA_PAYBILL_NUMBER", mpesaCfg.ShortCode)),
	}
	if archiveCfg.IsEnabled() {
		deps.Archiver = jobqueue.NewArchiver(queue)
	}
	svc := payments.NewServiceFromDB(db, deps)
	if err := svc.Catalog().Load(ctx, svc.Repository()); err != nil {
		panic(fmt.Sprintf("load tier catalog: %v", err))
	}

	registerProcessors(ctx, queue, svc, archiveCfg)

	counters := metrics.New(redisClient)
	manager := jobqueue.NewManager(queue, svc, counters, managerCfg)
	manager.Start()

	basePath := findBasePath()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery, logging and trace propagation
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	app.Use(recover.New(), logger.New(), middleware.TraceContext())

	// fiber metrics
	app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("METRICS_PASSWORD", env.GetEnv("ADMIN_PASSWORD", "")),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: constants.DocsRoute,
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Payments: svc,
		Sellers:  repository.GetGlobalFactory().GetSellerRepository(),
		Replay: func(ctx context.Context, eventID uint) (*jobqueue.Job, error) {
			return jobqueue.EnqueueReplay(ctx, queue, eventID)
		},
		Counters: counters,
		HealthChecks: []controllers.HealthCheck{
			{Name: "database", Check: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "cache", Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}},
			{Name: "jobqueue", Check: func(ctx context.Context) error {
				pending, err := manager.GetQueue().Pending(ctx)
				if err != nil {
					return err
				}
				if pending > maxQueueBacklog {
					return fmt.Errorf("%d jobs pending", pending)
				}
				return nil
			}},
		},
		LimiterStorage: ratelimit.NewStorage(),
		RateLimit:      ratelimit.ConfigFromEnv(),
		AdminUser:      env.GetEnv("ADMIN_USER", "admin"),
		AdminPassword:  env.GetEnv("ADMIN_PASSWORD", ""),
		GatewayIPs:     splitList(env.GetEnv("MPESA_ALLOWED_IPS", "")),
	})

	return &application{app: app, manager: manager}
}

func registerProcessors(ctx context.Context, queue *jobqueue.Queue, svc *payments.Service, archiveCfg *archive.Config) {
	repo := svc.Repository()

	notifications := &jobqueue.NotificationProcessor{Store: repo, Render: mail.RenderNotification}
	if mailer := mail.NewSMTPMailerFromEnv(); mailer.Enabled() {
		notifications.Mailer = mailer
	} else {
		fiberlog.Info("[Mail] SMTP not configured, notifications stay in-app")
	}
	queue.Register(jobqueue.JobTypeDeliverNotification, notifications.Process)

	if archiveCfg.IsEnabled() {
		client, err := archive.NewClient(ctx, archiveCfg)
		if err != nil {
			panic(fmt.Sprintf("archive client: %v", err))
		}
		archiver := &jobqueue.ArchiveProcessor{Store: repo, Uploader: client}
		queue.Register(jobqueue.JobTypeArchiveGatewayEvent, archiver.Process)
	}

	replay := &jobqueue.ReplayProcessor{Replayer: svc}
	queue.Register(jobqueue.JobTypeReplayGatewayEvent, replay.Process)
}

func verifyWindow() time.Duration {
	if d, err := time.ParseDuration(env.GetEnv("PAYMENTS_VERIFY_WINDOW", "1h")); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func findBasePath() string {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/tierpay to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			return path
		}
	}
	panic("Could not find project root directory")
}
