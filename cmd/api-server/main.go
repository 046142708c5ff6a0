package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/medication-adherence-engine/internal/adherence"
	"github.com/hackgods/medication-adherence-engine/internal/api"
	"github.com/hackgods/medication-adherence-engine/internal/config"
	"github.com/hackgods/medication-adherence-engine/internal/db"
	"github.com/hackgods/medication-adherence-engine/internal/dose"
	"github.com/hackgods/medication-adherence-engine/internal/notify"
	redisclient "github.com/hackgods/medication-adherence-engine/internal/redis"
	"github.com/hackgods/medication-adherence-engine/internal/reminder"
	"github.com/hackgods/medication-adherence-engine/internal/stock"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	locker := redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL)

	doseRepo := dose.NewPgRepository(pgPool)
	stockRepo := stock.NewPgRepository(pgPool)
	reminderRepo := reminder.NewPgRepository(pgPool)
	notifyRepo := notify.NewPgRepository(pgPool)
	adherenceRepo := adherence.NewPgRepository(pgPool)

	forecaster := stock.NewForecaster(stockRepo, doseRepo, doseRepo)
	doseSvc := dose.NewService(doseRepo, locker, forecaster, cfg)
	scheduler := reminder.NewScheduler(reminderRepo, doseRepo, locker, cfg)
	evaluator := adherence.NewEvaluator(adherenceRepo, doseRepo, stockRepo, doseRepo, cfg)

	httpClient := &http.Client{Timeout: cfg.DeliveryTimeout}
	senders := []notify.ChannelSender{
		notify.NewPushSender(httpClient, cfg.PushGatewayURL, notifyRepo),
		notify.NewLocalSender(rdb, 24*time.Hour),
		notify.NewWebSender(httpClient, notifyRepo),
		notify.NewSoundSender(),
	}
	dispatcher := notify.NewDispatcher(notifyRepo, senders, scheduler, reminderRepo, scheduler, cfg)

	router := api.NewRouter(api.RouterConfig{
		Doses:            doseSvc,
		Stock:            forecaster,
		Scheduler:        scheduler,
		Dispatcher:       dispatcher,
		Evaluator:        evaluator,
		PgPool:           pgPool,
		Redis:            rdb,
		AutomationSecret: cfg.AutomationSecret,
		Env:              cfg.Env,
		Version:          version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
