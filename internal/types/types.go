// Package types defines the entities shared across every component: the
// wire-level messages carried on the fabric, the config structs loaded at
// startup, and the ledger/risk state owned by the strategy engine and risk
// manager respectively.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ——————————————————————————————————————————————————————————————
// Tagged variants
// ——————————————————————————————————————————————————————————————

// Exchange identifies which venue a BookSnapshot or InventoryUpdate
// originated from. The wire tag is stable across versions.
type Exchange byte

const (
	ExchangeUnknown Exchange = 0
	ExchangeR       Exchange = 1 // reference venue, fair-price anchor
	ExchangeT       Exchange = 2 // target venue, where quotes are posted
)

func (e Exchange) String() string {
	switch e {
	case ExchangeR:
		return "R"
	case ExchangeT:
		return "T"
	default:
		return "Unknown"
	}
}

// Side is the direction of an order or fill.
type Side byte

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	if s == Sell {
		return "Sell"
	}
	return "Buy"
}

// logic_tag values carried on a TradeSignal.
const (
	LogicTagQuote     byte = 1
	LogicTagCancelAll byte = 99
)

// ——————————————————————————————————————————————————————————————
// Market data
// ——————————————————————————————————————————————————————————————

// PriceLevel is one (price, qty) point in a book side.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// BookSnapshot is a top-of-book-oriented view of one symbol's order book.
// Bids are ordered descending by price, asks ascending; the engine only
// reads the top of each side.
type BookSnapshot struct {
	Exchange Exchange
	SymbolID uint64
	TSNanos  int64
	Bids     []PriceLevel
	Asks     []PriceLevel
}

// BestBid returns the highest bid, or (zero, false) if the book is empty.
func (b BookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, or (zero, false) if the book is empty.
func (b BookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// MidPrice returns (bestBid+bestAsk)/2, or (zero, false) if either side is
// empty. This is the "mid" fed to the strategy engine's calculate_quotes.
func (b BookSnapshot) MidPrice() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// InventoryUpdate is emitted once per confirmed fill. The sign of
// ShareChange matches the fill side (positive for a buy fill).
type InventoryUpdate struct {
	SymbolID      uint64
	ShareChange   float64
	NetCashFlow   float64
}

// TradeSignal is the order intent emitted by the strategy engine (or the
// supervisor, for the cancel-all sentinel) onto the SG topic.
type TradeSignal struct {
	StrategyID     byte
	TargetExchange Exchange
	SymbolID       uint64
	Side           Side
	Price          decimal.Decimal
	SizeUSD        decimal.Decimal
	LogicTag       byte
	CreatedAtNanos int64
}

// IsCancelAll reports whether this signal is the cancel-all sentinel; the
// executor must never treat a sentinel as a normal order.
func (t TradeSignal) IsCancelAll() bool {
	return t.LogicTag == LogicTagCancelAll
}

// CancelAllSignal builds the sentinel TradeSignal used by the supervisor's
// emergency broadcast.
func CancelAllSignal(now time.Time) TradeSignal {
	return TradeSignal{
		SymbolID:       0,
		LogicTag:       LogicTagCancelAll,
		CreatedAtNanos: now.UnixNano(),
	}
}

// ——————————————————————————————————————————————————————————————
// Config
// ——————————————————————————————————————————————————————————————

// StrategyConfig is immutable for the life of a run.
type StrategyConfig struct {
	RiskAversionGamma    float64
	LiquidityK           float64
	MinSpreadBps         float64
	TickSize             float64
	MaxInventoryUSD      float64
	MaturityTSMillis     int64
	TerminalDumpingFactor float64
	ClosingWindowSeconds  int64
}

// RiskConfig is immutable for the life of a run.
type RiskConfig struct {
	MaxDrawdownUSD float64
	MaxOrderSizeUSD float64
	PriceFloor      float64
	PriceCeiling    float64
}

// ——————————————————————————————————————————————————————————————
// State, exclusively owned by a single component each
// ——————————————————————————————————————————————————————————————

// LedgerState is exclusively owned by the strategy engine; snapshots of it
// are sent by value to the persistence worker.
type LedgerState struct {
	InventoryShares float64
	CashBalance     float64
	Timestamp       time.Time
}

// RiskState is exclusively owned by the risk manager.
type RiskState struct {
	TotalPnL       float64
	PeakEquityPnL  float64
	CurrentDrawdown float64
	KillActive      bool
}
