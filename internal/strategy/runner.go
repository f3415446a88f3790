package strategy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"refmaker/internal/fabric"
	"refmaker/internal/risk"
	"refmaker/internal/types"
	"refmaker/internal/wire"
)

// ErrKillSwitch is returned by Runner.Run when the risk manager's drawdown
// kill switch fires. The supervisor maps this into process exit code 2.
var ErrKillSwitch = errors.New("kill switch triggered")

// pollInterval matches the fabric's own hot-loop polling interval (spec.md
// §4.2/§5: "bounded busy-wait with a 1ms sleep").
const pollInterval = time.Millisecond

// Runner is the per-symbol hot loop: it owns one Engine and one risk.Manager
// exclusively, reads MD and IV frames for its symbol off the fabric, and
// emits TradeSignal frames on SG. Grounded on the teacher's
// strategy/maker.go Run loop and engine.go's per-market goroutine
// ("marketSlot"), reworked around the fabric's topic subscriptions instead
// of direct WS-event channels and around CalculateQuotes/OnFill instead of
// the teacher's order-reconciliation loop.
type Runner struct {
	symbolID       uint64
	strategyID     byte
	targetExchange types.Exchange
	sizeUSD        decimal.Decimal

	engine *Engine
	risk   *risk.Manager

	mdSub *fabric.Subscriber
	ivSub *fabric.Subscriber
	pub   *fabric.Publisher

	logger *slog.Logger
}

// RunnerConfig bundles the identifiers a Runner stamps onto every
// TradeSignal it emits.
type RunnerConfig struct {
	SymbolID       uint64
	StrategyID     byte
	TargetExchange types.Exchange
	SizeUSD        decimal.Decimal
}

// NewRunner creates a Runner for one tracked symbol. mdSub and ivSub must
// already be subscribed to the MD and IV topics respectively; the Runner
// filters both down to its own symbol_id, since the fabric fans every MD/IV
// frame out to every subscriber regardless of symbol.
func NewRunner(cfg RunnerConfig, engine *Engine, riskMgr *risk.Manager, mdSub, ivSub *fabric.Subscriber, pub *fabric.Publisher, logger *slog.Logger) *Runner {
	return &Runner{
		symbolID:       cfg.SymbolID,
		strategyID:     cfg.StrategyID,
		targetExchange: cfg.TargetExchange,
		sizeUSD:        cfg.SizeUSD,
		engine:         engine,
		risk:           riskMgr,
		mdSub:          mdSub,
		ivSub:          ivSub,
		pub:            pub,
		logger:         logger.With("component", "strategy.runner", "symbol_id", cfg.SymbolID),
	}
}

// Run drives the hot loop until ctx is cancelled, returning ErrKillSwitch
// if the risk manager's drawdown kill switch fires. It is non-suspending
// except for the bounded 1ms sleep used when neither topic has a frame
// ready — matching spec.md §5's concurrency model for the strategy engine.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		handled := false

		if frame, ok := r.ivSub.TryRecv(); ok {
			r.handleIV(frame)
			handled = true
		}

		if frame, ok := r.mdSub.TryRecv(); ok {
			if kill := r.handleMD(frame); kill {
				return ErrKillSwitch
			}
			handled = true
		}

		if !handled {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
		}
	}
}

// handleIV applies a confirmed fill for this symbol to the ledger. Frames
// for other symbols are ignored: MD/IV are shared topics fanned out to
// every subscriber.
func (r *Runner) handleIV(frame wire.Frame) {
	update, err := wire.DecodeInventoryUpdate(frame.Payload)
	if err != nil {
		r.logger.Error("decode inventory update failed", "error", err)
		return
	}
	if update.SymbolID != r.symbolID {
		return
	}
	r.engine.OnFill(update.ShareChange, update.NetCashFlow)
}

// handleMD computes a fresh quote from a BookSnapshot for this symbol,
// risk-checks it, and publishes it on SG. It returns true if this tick's
// PnL update latched the kill switch.
func (r *Runner) handleMD(frame wire.Frame) bool {
	snap, err := wire.DecodeBookSnapshot(frame.Payload)
	if err != nil {
		r.logger.Error("decode book snapshot failed", "error", err)
		return false
	}
	if snap.SymbolID != r.symbolID {
		return false
	}

	mid, ok := snap.MidPrice()
	if !ok {
		return false
	}

	deltaPnL := r.engine.CalculateEquityChange(mid)
	if r.risk.UpdatePnLAndCheckKill(deltaPnL) {
		return true
	}

	bid, ask := r.engine.CalculateQuotes(mid, time.Now().UnixMilli())
	if bid.IsZero() && ask.IsZero() {
		return false
	}

	now := time.Now()
	r.emit(types.Buy, bid, now)
	r.emit(types.Sell, ask, now)
	return false
}

func (r *Runner) emit(side types.Side, price decimal.Decimal, now time.Time) {
	sig := types.TradeSignal{
		StrategyID:     r.strategyID,
		TargetExchange: r.targetExchange,
		SymbolID:       r.symbolID,
		Side:           side,
		Price:          price,
		SizeUSD:        r.sizeUSD,
		LogicTag:       types.LogicTagQuote,
		CreatedAtNanos: now.UnixNano(),
	}

	if !r.risk.CheckSignal(sig) {
		r.logger.Warn("signal rejected by risk manager", "side", side, "price", price)
		return
	}

	r.pub.Publish(wire.TopicSG, wire.EncodeTradeSignal(sig))
}
