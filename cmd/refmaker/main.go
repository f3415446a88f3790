// Command refmaker is the process entry point: load config, build the
// logger, wire every component for each tracked symbol, and run until a
// shutdown signal or the kill switch fires.
//
// Grounded on the teacher's cmd/bot/main.go almost directly — same shape
// (load config -> validate -> build logger -> build components -> start ->
// wait on signal -> stop) — generalized from the teacher's single-engine
// wiring into one strategy.Runner + persistence.Worker per tracked symbol,
// sharing one fabric.Bus, one execution.Pipeline, one wallet.Signer, and
// one execution.VenueClient across the whole process.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"flag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"refmaker/internal/config"
	"refmaker/internal/execution"
	"refmaker/internal/fabric"
	"refmaker/internal/feed"
	"refmaker/internal/persistence"
	"refmaker/internal/risk"
	"refmaker/internal/status"
	"refmaker/internal/strategy"
	"refmaker/internal/supervisor"
	"refmaker/internal/types"
	"refmaker/internal/wallet"
	"refmaker/internal/wire"
)

const statusShutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "configs/config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	logger := buildLogger(cfg.Logging)

	signer, err := wallet.New(cfg.PrivateKey, 137)
	if err != nil {
		logger.Error("failed to build wallet signer", "error", err)
		return 1
	}

	bus := fabric.NewBus(0)
	pub := bus.Publisher()

	venueClient := execution.NewVenueClient(cfg.Network.VenueAPIURL)
	statusSrc := status.NewStaticSource()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	symbolIDs := make(map[string]uint64, len(cfg.Markets.ReferenceIDs))
	for _, ref := range cfg.Markets.ReferenceIDs {
		id, err := feed.AssetIDToSymbolID(ref)
		if err != nil {
			logger.Error("reference id is not a valid symbol_id", "reference_id", ref, "error", err)
			return 1
		}
		symbolIDs[ref] = id
	}

	var runners []func(context.Context) error

	bookIngestor := feed.NewBookIngestor(cfg.Network.ReferenceWSURL, symbolIDs, pub, logger)
	runners = append(runners, bookIngestor.Run)

	if cfg.Network.OnchainRPCURL != "" {
		listener, err := feed.NewFillListener(
			cfg.Network.OnchainRPCURL,
			common.HexToAddress(cfg.Network.ExchangeContractAddr),
			signer.Address(),
			pub,
			logger,
		)
		if err != nil {
			logger.Error("failed to build on-chain fill listener", "error", err)
			return 1
		}
		runners = append(runners, listener.Run)
	}

	// One execution pipeline serves every tracked symbol: it reads every
	// TradeSignal (and the supervisor's cancel-all sentinel) off the one
	// shared SG topic, so only a single SG subscription is needed.
	sgSub := bus.Subscribe(wire.TopicSG)
	pipeline := execution.NewPipeline(signer, venueClient, sgSub, execution.DefaultPipelineCapacity, logger)
	runners = append(runners, func(c context.Context) error {
		pipeline.Run(c)
		return nil
	})

	for ref, symbolID := range symbolIDs {
		persistWorker, err := persistence.NewWorker(cfg.Store.DataDir, symbolID, logger)
		if err != nil {
			logger.Error("failed to build persistence worker", "symbol_id", symbolID, "error", err)
			return 1
		}
		done := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(done)
		}()
		go persistWorker.Run(done)

		engine := strategy.NewEngine(cfg.Strategy.ToTypes(), persistWorker.Channel(), logger)
		if saved, err := persistence.Load(cfg.Store.DataDir, symbolID); err != nil {
			logger.Error("failed to load persisted ledger", "symbol_id", symbolID, "error", err)
		} else if saved != nil {
			engine.RestoreState(saved.InventoryShares, saved.CashBalance)
		}

		riskMgr := risk.NewManager(cfg.Risk.ToTypes(), logger)
		statusSrc.Add(symbolID, engine, riskMgr)

		// Each symbol gets its own MD/IV subscriber queue: the fabric fans
		// every publish out to every subscriber of a topic, and Runner
		// filters each frame down to its own symbol_id.
		mdSub := bus.Subscribe(wire.TopicMD)
		ivSub := bus.Subscribe(wire.TopicIV)

		runnerCfg := strategy.RunnerConfig{
			SymbolID:       symbolID,
			StrategyID:     1,
			TargetExchange: types.ExchangeT,
			SizeUSD:        decimal.NewFromInt(100),
		}
		symbolRunner := strategy.NewRunner(runnerCfg, engine, riskMgr, mdSub, ivSub, pub, logger)
		runners = append(runners, symbolRunner.Run)

		logger.Info("wired symbol", "reference_id", ref, "symbol_id", symbolID)
	}

	if cfg.Status.ListenAddr != "" {
		statusServer := status.NewServer(cfg.Status.ListenAddr, statusSrc, logger)
		runners = append(runners, func(c context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- statusServer.Start() }()
			select {
			case <-c.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
				defer shutdownCancel()
				return statusServer.Stop(shutdownCtx)
			case err := <-errCh:
				return err
			}
		})
	}

	sup := supervisor.New(pub, logger)
	return sup.Run(ctx, runners...)
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
