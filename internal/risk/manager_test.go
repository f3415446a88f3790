package risk

import (
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"refmaker/internal/types"
)

func testRiskConfig() types.RiskConfig {
	return types.RiskConfig{
		MaxDrawdownUSD:  15,
		MaxOrderSizeUSD: 100,
		PriceFloor:      0.01,
		PriceCeiling:    0.99,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), logger)
}

func signal(side types.Side, price, sizeUSD float64) types.TradeSignal {
	return types.TradeSignal{
		Side:     side,
		Price:    decimal.NewFromFloat(price),
		SizeUSD:  decimal.NewFromFloat(sizeUSD),
		LogicTag: types.LogicTagQuote,
	}
}

func TestCheckSignalAccepts(t *testing.T) {
	rm := newTestManager()
	if !rm.CheckSignal(signal(types.Buy, 0.49, 50)) {
		t.Error("expected signal within limits to be accepted")
	}
}

func TestCheckSignalRejectsOversizedOrder(t *testing.T) {
	rm := newTestManager()
	if rm.CheckSignal(signal(types.Buy, 0.49, 150)) {
		t.Error("expected oversized order to be rejected")
	}
}

func TestCheckSignalRejectsBuyAboveCeiling(t *testing.T) {
	rm := newTestManager()
	if rm.CheckSignal(signal(types.Buy, 0.995, 10)) {
		t.Error("expected buy above ceiling to be rejected")
	}
}

func TestCheckSignalRejectsSellBelowFloor(t *testing.T) {
	rm := newTestManager()
	if rm.CheckSignal(signal(types.Sell, 0.005, 10)) {
		t.Error("expected sell below floor to be rejected")
	}
}

func TestDrawdownTripsKillSwitch(t *testing.T) {
	rm := newTestManager()

	// S4: total_pnl trajectory {+5,+5,+5,-20,-10}, max_drawdown_usd=15.
	deltas := []float64{5, 5, 5, -20, -10}
	var fired bool
	for _, d := range deltas {
		if rm.UpdatePnLAndCheckKill(d) {
			fired = true
		}
	}

	if !fired {
		t.Fatal("expected kill switch to fire")
	}
	if !rm.state.KillActive {
		t.Fatal("expected KillActive to be latched")
	}
	if rm.state.PeakEquityPnL != 15 {
		t.Errorf("peak = %v, want 15", rm.state.PeakEquityPnL)
	}
}

func TestKillSwitchLatchedForever(t *testing.T) {
	rm := newTestManager()
	rm.UpdatePnLAndCheckKill(-100) // immediate breach

	if !rm.state.KillActive {
		t.Fatal("expected kill switch to latch")
	}

	// Recovering PnL must not un-latch it (I4).
	rm.UpdatePnLAndCheckKill(1000)
	if !rm.state.KillActive {
		t.Fatal("kill switch must never revert within a run")
	}
	if rm.CheckSignal(signal(types.Buy, 0.5, 1)) {
		t.Fatal("all subsequent signals must be rejected once killed")
	}
}

func TestPeakNonDecreasing(t *testing.T) {
	rm := newTestManager()
	rm.UpdatePnLAndCheckKill(10)
	if rm.state.PeakEquityPnL != 10 {
		t.Fatalf("peak = %v, want 10", rm.state.PeakEquityPnL)
	}
	rm.UpdatePnLAndCheckKill(-2)
	if rm.state.PeakEquityPnL != 10 {
		t.Fatalf("peak should not decrease, got %v", rm.state.PeakEquityPnL)
	}
	if rm.state.CurrentDrawdown != 2 {
		t.Fatalf("drawdown = %v, want 2", rm.state.CurrentDrawdown)
	}
}
