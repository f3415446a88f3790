// Package strategy implements the Avellaneda-Stoikov market-making model
// and owns the authoritative ledger for a single tracked symbol.
//
// Per-tick flow:
//  1. Feed a fresh mid-price into CalculateQuotes to get a (bid, ask) pair
//     (or a no-quote signal of (0, 0)).
//  2. On a confirmed fill, call OnFill to update the ledger and trigger a
//     best-effort persistence snapshot.
//  3. Call CalculateEquityChange each tick to drive the risk manager's
//     drawdown tracker with a PnL delta.
//
// One Engine exists per tracked symbol, alongside that symbol's own
// volatility estimator and risk manager — there is no shared mutable state
// across symbols. Within a symbol, CalculateQuotes/OnFill/
// CalculateEquityChange are only ever called from that symbol's hot loop
// goroutine. LedgerState is the one exception: internal/status's HTTP
// handler goroutine reads the ledger concurrently with the hot loop that
// mutates it, so the ledger fields are guarded by a sync.RWMutex, which
// the hot-loop methods also take around their ledger reads and writes —
// the same read/write lock
// internal/risk.Manager uses for its State(), itself grounded on the
// teacher's internal/risk.Manager RWMutex idiom.
package strategy

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"refmaker/internal/types"
	"refmaker/internal/volatility"
)

// priceFloor and priceCeiling are the prediction-market probability bounds
// every quote is clipped to, regardless of the configured risk price
// bounds (those gate order acceptance in internal/risk, not quote shape).
const (
	priceFloor   = 0.01
	priceCeiling = 0.99
)

// Engine computes quotes and owns the ledger for one symbol.
type Engine struct {
	cfg    types.StrategyConfig
	vol    *volatility.Estimator
	logger *slog.Logger

	persistCh chan<- types.LedgerState

	mu     sync.RWMutex
	ledger types.LedgerState

	lastMark        float64
	markInitialized bool
}

// NewEngine creates a strategy engine seeded with a zero ledger. persistCh
// may be nil, in which case OnFill snapshots are simply discarded.
func NewEngine(cfg types.StrategyConfig, persistCh chan<- types.LedgerState, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		vol:       volatility.New(0),
		persistCh: persistCh,
		logger:    logger.With("component", "strategy"),
	}
}

// RestoreState is a one-shot initialization from a persisted snapshot. It
// must be called, if at all, before the first CalculateQuotes/OnFill call.
func (e *Engine) RestoreState(inventoryShares, cashBalance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.InventoryShares = inventoryShares
	e.ledger.CashBalance = cashBalance
}

// LedgerState returns a copy of the current ledger, for the status endpoint
// or a shutdown-time flush. Safe to call from a goroutine other than the
// one driving CalculateQuotes/OnFill/CalculateEquityChange.
func (e *Engine) LedgerState() types.LedgerState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger
}

// CalculateQuotes turns a reference mid-price and the current wall-clock
// time (as Unix milliseconds) into a (bid, ask) pair. It returns (0, 0) to
// mean "do not quote this tick" — on maturity having passed, on the
// clipped bid crossing the clipped ask, or on any non-finite intermediate
// value.
func (e *Engine) CalculateQuotes(mid decimal.Decimal, nowMs int64) (bid, ask decimal.Decimal) {
	zero := decimal.Zero

	timeLeftMs := e.cfg.MaturityTSMillis - nowMs
	if timeLeftMs <= 0 {
		return zero, zero
	}

	midFloat, _ := mid.Float64()
	sigma := e.vol.Update(midFloat)

	tDays := float64(timeLeftMs) / 86_400_000.0
	tClamped := math.Max(tDays, 0.01)

	gammaEff := effectiveGamma(e.cfg, timeLeftMs)

	e.mu.RLock()
	q := e.ledger.InventoryShares
	e.mu.RUnlock()
	reservation := midFloat - q*gammaEff*sigma*sigma*tClamped

	a := gammaEff * sigma * sigma * tClamped
	b := (2.0 / gammaEff) * math.Log(1+gammaEff/e.cfg.LiquidityK)
	half := a + b

	minHalf := (e.cfg.MinSpreadBps / 10_000.0) / 2
	half = math.Max(half, minHalf)

	bidRaw := reservation - half
	askRaw := reservation + half

	if !finite(reservation) || !finite(half) || !finite(bidRaw) || !finite(askRaw) {
		return zero, zero
	}

	bidRounded := roundDownToTick(bidRaw, e.cfg.TickSize)
	askRounded := roundUpToTick(askRaw, e.cfg.TickSize)

	bidRounded = clamp(bidRounded, priceFloor, priceCeiling)
	askRounded = clamp(askRounded, priceFloor, priceCeiling)

	if bidRounded >= askRounded {
		return zero, zero
	}

	return decimal.NewFromFloat(bidRounded), decimal.NewFromFloat(askRounded)
}

// OnFill atomically folds a confirmed fill into the ledger (I1, I2), then
// enqueues a snapshot to the persistence channel. If the channel is full
// the snapshot is dropped: a newer one is imminent, and per-tick
// persistence is best-effort.
func (e *Engine) OnFill(shareChange, netCashFlow float64) {
	e.mu.Lock()
	e.ledger.InventoryShares += shareChange
	e.ledger.CashBalance += netCashFlow
	e.ledger.Timestamp = time.Now()
	snap := e.ledger
	e.mu.Unlock()

	if e.persistCh == nil {
		return
	}
	select {
	case e.persistCh <- snap:
	default:
		e.logger.Warn("persistence channel full, dropping snapshot")
	}
}

// CalculateEquityChange returns the PnL delta since the last call:
// equity = cash + inventory*mid, delta = equity - last_mark. The first
// call after construction (or after RestoreState) only initializes the
// mark and returns 0.
func (e *Engine) CalculateEquityChange(mid decimal.Decimal) float64 {
	midFloat, _ := mid.Float64()
	e.mu.RLock()
	equity := e.ledger.CashBalance + e.ledger.InventoryShares*midFloat
	e.mu.RUnlock()

	if !e.markInitialized {
		e.markInitialized = true
		e.lastMark = equity
		return 0
	}

	delta := equity - e.lastMark
	e.lastMark = equity
	return delta
}

// effectiveGamma applies terminal-time risk dumping: inside the closing
// window, risk aversion ramps up monotonically as time_left shrinks,
// reaching gamma*(1+terminal_dumping_factor) exactly at time_left=0.
func effectiveGamma(cfg types.StrategyConfig, timeLeftMs int64) float64 {
	closingWindowMs := cfg.ClosingWindowSeconds * 1000
	if closingWindowMs <= 0 || timeLeftMs >= closingWindowMs {
		return cfg.RiskAversionGamma
	}
	progress := 1 - float64(timeLeftMs)/float64(closingWindowMs)
	return cfg.RiskAversionGamma * (1 + progress*cfg.TerminalDumpingFactor)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundDownToTick and roundUpToTick round the bid down and the ask up to
// the nearest tick rather than to the nearest tick overall: on an exact
// half-tick tie this always widens the spread rather than narrowing it,
// matching the worked example in the strategy engine's design notes.
func roundDownToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	return math.Floor(v/tick) * tick
}

func roundUpToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	return math.Ceil(v/tick) * tick
}
