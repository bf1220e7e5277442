// Command simserver boots the market simulation: loads config, connects
// to MongoDB (or runs on an in-memory gateway when the configured Mongo
// URI is empty, i.e. -mongo-uri=""; an empty MONGO_URI variable falls
// back to the default URI),
// wires the tick pipeline, HTTP ingress, WebSocket event fanout, webhook
// dispatcher, and tick-event retention/archival, then drives the clock
// until signaled to stop.
//
// Grounded on the teacher's cmd/feedsim/main.go: context + signal.Notify
// graceful shutdown, background goroutines for persistence/retention/
// archival, and an http.Server whose Shutdown is triggered from the same
// cancellation context as everything else.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wallstreetsim/engine/internal/actions"
	"github.com/wallstreetsim/engine/internal/api"
	"github.com/wallstreetsim/engine/internal/archive"
	"github.com/wallstreetsim/engine/internal/config"
	"github.com/wallstreetsim/engine/internal/events"
	"github.com/wallstreetsim/engine/internal/orderbook"
	"github.com/wallstreetsim/engine/internal/persist"
	"github.com/wallstreetsim/engine/internal/replay"
	"github.com/wallstreetsim/engine/internal/rng"
	"github.com/wallstreetsim/engine/internal/symbol"
	"github.com/wallstreetsim/engine/internal/tick"
	"github.com/wallstreetsim/engine/internal/webhook"
	"github.com/wallstreetsim/engine/internal/world"
)

func main() {
	cfg := config.Load()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "simserver: build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("wallstreetsim starting", zap.Int64("seed", cfg.Seed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	r := rng.NewRNG(cfg.Seed)

	gw, startTick, closeGateway := mustOpenGateway(ctx, cfg, r, log)
	defer closeGateway(context.Background())

	companies := symbol.Seed()
	if err := gw.SeedCompaniesIfEmpty(ctx, companies); err != nil {
		log.Fatal("seed companies", zap.Error(err))
	}
	seeded, err := gw.ListCompanies(ctx)
	if err != nil {
		log.Fatal("list companies", zap.Error(err))
	}
	symbols := make([]string, 0, len(seeded))
	for _, c := range seeded {
		symbols = append(symbols, c.Symbol)
	}
	log.Info("loaded companies", zap.Int("count", len(symbols)))

	newID := newIDGenerator()

	engine := orderbook.NewEngine()
	engine.Initialize(symbols, decimal.NewFromFloat(0.01))

	worldEngine := world.NewEngine(r, seeded)
	regime := world.NewMarkovRegimePolicy(r)
	mgr := events.NewManager(cfg.SendBufferSize, log)

	webhookTimeout := time.Duration(cfg.WebhookTimeoutMS) * time.Millisecond
	dispatcher := webhook.NewDispatcher(webhookTimeout, gw, r, log)

	processor := actions.NewProcessor(engine, gw, r, newID)
	pipeline := tick.NewPipeline(processor, engine, gw, worldEngine, regime, mgr, dispatcher, r, newID, log, tick.Config{
		TicksPerTradingDay:       cfg.TicksPerTradingDay,
		DefaultMarginRequirement: cfg.DefaultMarginRequirement,
	}, symbols, startTick)

	scheduler := tick.NewScheduler(pipeline, tick.ModeDriven, time.Duration(cfg.TickIntervalMS)*time.Millisecond, log)
	go scheduler.Run(ctx)
	log.Info("tick scheduler running", zap.Int("intervalMs", cfg.TickIntervalMS))

	// Archival supersedes plain retention pruning once an S3 bucket is
	// configured; otherwise fall back to delete-only retention.
	if cfg.S3Bucket != "" {
		archiver, err := archive.New(ctx, gw, pipeline.CurrentTick, "./data/archive", 10, cfg.ArchiveIntervalHours,
			uint64(cfg.TickEventRetentionTicks), cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, log)
		if err != nil {
			log.Fatal("build archiver", zap.Error(err))
		}
		go archiver.Run(ctx)
	} else {
		go persist.RunRetention(ctx, gw, pipeline.CurrentTick, uint64(cfg.TickEventRetentionTicks), log)
	}

	recoverer := replay.NewRecoverer(gw)

	router := http.NewServeMux()
	router.HandleFunc("/feed", events.Handler(mgr, gw, recoverer, log))
	router.HandleFunc("/health", func(hw http.ResponseWriter, hr *http.Request) {
		hw.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(hw, `{"status":"ok","tick":%d,"clients":%d,"symbols":%d}`, pipeline.CurrentTick(), mgr.ClientCount(), len(symbols))
	})

	apiServer := api.NewServer(gw, engine, pipeline, cfg.JWTSecret, log)
	router.Handle("/", apiServer.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("http server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("wallstreetsim stopped")
}

// mustOpenGateway connects to MongoDB when MongoURI is set, otherwise
// runs on an in-memory gateway (useful for local development and the
// example config that ships with no database). Returns the tick to
// resume the clock from, read out of the gateway's last saved world
// state.
func mustOpenGateway(ctx context.Context, cfg *config.Config, r *rng.RNG, log *zap.Logger) (gw persist.Gateway, startTick uint64, closeFn func(context.Context) error) {
	if cfg.MongoURI == "" {
		log.Warn("Mongo URI is empty, running on an in-memory gateway (state is not persisted across restarts)")
		m := persist.NewMemoryGateway()
		return m, 0, m.Close
	}

	store, err := persist.NewStore(ctx, cfg.MongoURI, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	mg := persist.NewMongoGateway(store, r)

	ws, err := mg.GetWorldState(ctx)
	if err != nil && err != persist.ErrNotFound {
		log.Fatal("load world state", zap.Error(err))
	}
	var resumeTick uint64
	if ws != nil {
		resumeTick = ws.Tick
	}
	return mg, resumeTick, mg.Close
}

// newIDGenerator returns the ID generator threaded through the action
// processor and tick pipeline for order/trade/news/investigation IDs.
func newIDGenerator() func() string {
	return func() string {
		return uuid.NewString()
	}
}
