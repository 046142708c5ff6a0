package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/medication-adherence-engine/internal/config"
	"github.com/hackgods/medication-adherence-engine/internal/db"
	"github.com/hackgods/medication-adherence-engine/internal/dose"
	"github.com/hackgods/medication-adherence-engine/internal/notify"
	redisclient "github.com/hackgods/medication-adherence-engine/internal/redis"
	"github.com/hackgods/medication-adherence-engine/internal/reminder"
	"github.com/hackgods/medication-adherence-engine/internal/stock"
)

// materializeWindow is how far ahead each worker run extends the dose ledger.
const materializeWindow = 7 * 24 * time.Hour

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running reminder worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

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

	forecaster := stock.NewForecaster(stockRepo, doseRepo, doseRepo)
	doseSvc := dose.NewService(doseRepo, locker, forecaster, cfg)
	scheduler := reminder.NewScheduler(reminderRepo, doseRepo, locker, cfg)

	httpClient := &http.Client{Timeout: cfg.DeliveryTimeout}
	senders := []notify.ChannelSender{
		notify.NewPushSender(httpClient, cfg.PushGatewayURL, notifyRepo),
		notify.NewLocalSender(rdb, 24*time.Hour),
		notify.NewWebSender(httpClient, notifyRepo),
		notify.NewSoundSender(),
	}
	dispatcher := notify.NewDispatcher(notifyRepo, senders, scheduler, reminderRepo, scheduler, cfg)

	// Run once at startup
	runOnce(rootCtx, doseSvc, scheduler, dispatcher)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, doseSvc, scheduler, dispatcher)
		}
	}
}

// runOnce is one engine invocation: extend the ledger, derive intents,
// deliver whatever is due. Every step is an idempotent upsert, so an
// overlapping run from another worker is harmless.
func runOnce(ctx context.Context, doses *dose.Service, scheduler *reminder.Scheduler, dispatcher *notify.Dispatcher) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()

	materialized, err := doses.MaterializeAll(runCtx, start, start.Add(materializeWindow))
	if err != nil {
		log.Printf("materialize run error: %v", err)
		return
	}

	generated, err := scheduler.GenerateIntents(runCtx)
	if err != nil {
		log.Printf("intent generation error: %v", err)
		return
	}

	dispatched, delivered, err := dispatcher.DispatchDue(runCtx)
	if err != nil {
		log.Printf("dispatch run error: %v", err)
		return
	}

	log.Printf("worker run complete in %s materialized=%d generated=%d dispatched=%d delivered=%d",
		time.Since(start), materialized, generated, dispatched, delivered)
}
