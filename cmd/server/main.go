package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aristath/trading-core/internal/adapters"
	"github.com/aristath/trading-core/internal/alerting"
	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/config"
	"github.com/aristath/trading-core/internal/database"
	"github.com/aristath/trading-core/internal/execution"
	"github.com/aristath/trading-core/internal/proxypool"
	"github.com/aristath/trading-core/internal/risk"
	"github.com/aristath/trading-core/internal/scheduler"
	"github.com/aristath/trading-core/internal/server"
	"github.com/aristath/trading-core/internal/state"
	"github.com/aristath/trading-core/internal/strategy"
	"github.com/aristath/trading-core/pkg/logger"
)

// defaultSymbols seeds the market adapter and the simulated exchange when
// no real exchange client is configured. A production deployment supplies
// its own adapters.ExchangeClient instead.
var defaultSymbols = []string{"BTC/USDT", "ETH/USDT"}

func main() {
	bootLog := logger.New(logger.Config{Level: "info", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting trading core")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	store, err := state.New(db.Conn(), "trading", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize state store")
	}
	portfolioStore := state.NewPortfolioStore(store)
	strategyStore := state.NewStrategyStore(store)

	msgBus := bus.New(bus.Config{Prefix: cfg.BusPrefix, Log: log})
	alerts := alerting.NewManager(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	exchange := adapters.NewSimulatedExchange(map[string]float64{
		"BTC/USDT": 40000,
		"ETH/USDT": 2500,
	}, 0.01, 1)

	marketAdapter := adapters.NewMarketAdapter(exchange, msgBus, defaultSymbols, 5*time.Second, log)
	marketAdapter.Start(ctx, &wg)

	optionsAdapter := adapters.NewOptionsAdapter(exchange, msgBus, adapters.OptionsAdapterConfig{
		Underlying:   "BTC/USDT",
		PollInterval: cfg.MacroBroadcastInterval,
		RiskFreeRate: cfg.RiskFreeRate,
	}, log)
	optionsAdapter.Start(ctx, &wg)

	var sentimentPool *proxypool.Pool
	if len(cfg.SentimentEndpoints) > 0 {
		sentimentPool = proxypool.New(proxypool.Config{
			BaseURLs: cfg.SentimentEndpoints,
			Timeout:  cfg.HTTPClientTimeout,
			Log:      log,
		})
	}

	riskService := risk.New(risk.Config{
		MaxDrawdownPct:         cfg.MaxDrawdownPct,
		MaxPositionRatio:       cfg.MaxPositionRatio,
		MinPositionRatio:       cfg.MinPositionRatio,
		MaxSinglePositionPct:   cfg.MaxSinglePositionPct,
		MaxGrossLeverage:       cfg.MaxGrossLeverage,
		MacroBroadcastInterval: cfg.MacroBroadcastInterval,
		PeriodicCheckInterval:  cfg.PeriodicCheckInterval,
		AssumedVolatility:      cfg.AssumedVolatility,
		RiskFreeRate:           cfg.RiskFreeRate,
	}, msgBus, portfolioStore, alerts, marketAdapter, sentimentPool, log)

	if err := riskService.Start(ctx, &wg); err != nil {
		log.Fatal().Err(err).Msg("failed to start risk service")
	}

	executionService := execution.New(msgBus, log)
	executionService.Start(ctx, &wg)

	engine := strategy.New(strategy.Config{
		Bus:    msgBus,
		Risk:   riskService,
		Alerts: alerts,
		RuntimeCtx: &strategy.Context{
			State: strategyStore,
			Bus:   msgBus,
		},
		Group:       cfg.ConsumerGroup,
		BlockWindow: cfg.SubscribeBlock,
		Log:         log,
	})
	engine.Start(ctx, &wg)

	if err := registerStrategies(ctx, engine); err != nil {
		log.Fatal().Err(err).Msg("failed to register strategies")
	}

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	macroJob := risk.NewMacroBroadcastJob(riskService)
	periodicJob := risk.NewPeriodicCheckJob(riskService)
	if err := registerJobs(sched, cfg, macroJob, periodicJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register jobs")
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Bus:       msgBus,
		Scheduler: sched,
		TriggerableJobs: map[string]scheduler.Job{
			"macro_state_broadcast": macroJob,
			"periodic_risk_check":   periodicJob,
		},
		Config:  cfg,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	wg.Wait()
	log.Info().Msg("server stopped")
}

// registerStrategies loads the four bundled strategy plugins under fixed
// IDs. A production deployment would likely drive this from persisted
// strategy configuration instead of a hardcoded set.
func registerStrategies(ctx context.Context, engine *strategy.Engine) error {
	strategies := []struct {
		id      string
		factory strategy.Factory
		config  map[string]any
	}{
		{"pq-vol-trader-1", strategy.NewPQVolTrader, nil},
		{"grid-strategy-1", strategy.NewGridStrategy, nil},
		{"delta-hedger-1", strategy.NewDeltaHedger, nil},
		{"momentum-1", strategy.NewMomentumStrategy, nil},
	}
	for _, s := range strategies {
		if err := engine.LoadStrategy(ctx, s.id, s.factory, s.config); err != nil {
			return err
		}
	}
	return nil
}

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, macroJob, periodicJob scheduler.Job) error {
	if err := sched.AddJob(everySchedule(cfg.MacroBroadcastInterval), macroJob); err != nil {
		return err
	}
	return sched.AddJob(everySchedule(cfg.PeriodicCheckInterval), periodicJob)
}

func everySchedule(d time.Duration) string {
	if d <= 0 {
		d = 60 * time.Second
	}
	return "@every " + d.String()
}
