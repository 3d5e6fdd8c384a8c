package main

import (
	"context"
	"log"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app"
	"github.com/alvin-junjun/ai-guzhi-analysis/app/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var store app.Store
	if cfg.DB.Enabled() {
		db, err := app.OpenDB(cfg)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := app.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.Fatalf("failed to ensure schema: %v", err)
		}
		cancel()
		store = app.NewPostgresStore(db)
	} else {
		log.Print("no database configured, using in-memory store")
		store = app.NewMemoryStore()
	}

	catalog, err := app.LoadCatalog(cfg.PlanFile)
	if err != nil {
		log.Fatalf("failed to load plan catalog: %v", err)
	}

	membership := app.NewMembershipService(store, store, store, catalog,
		cfg.Quota.FreeDailyLimit, cfg.Quota.FreeWatchlistLimit)
	membership.SetRewardHook(app.LogRewardHook{})

	ledger := app.NewLedger(store, membership)

	var notifier app.Notifier
	if cfg.SMTP.Enabled() {
		notifier = app.NewSMTPNotifier(cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}

	analyzer := app.NewEngineClient(cfg.Engine.URL)
	tasks := app.NewAnalysisService(store, store, ledger, analyzer, notifier,
		cfg.Engine.Workers, cfg.Engine.QueueSize)
	defer tasks.Close()

	var billing *app.Billing
	if cfg.Stripe.SecretKey != "" {
		app.InitStripe(cfg.Stripe.SecretKey)
		billing = app.NewBilling(store, membership, cfg.Stripe.WebhookSecret, cfg.Stripe.FrontendURL)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go app.RunSweeper(sweepCtx, membership, time.Duration(cfg.Engine.SweepInterval)*time.Second)

	api := app.NewAPI(tasks, ledger, membership, store, catalog, billing)
	router, err := app.NewRouter(api, store)
	if err != nil {
		log.Fatalf("failed to initialize router: %v", err)
	}
	if err := router.Run("0.0.0.0:8080"); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
