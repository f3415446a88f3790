// Package risk implements the pre-trade signal filter and the post-tick
// high-water-mark drawdown kill-switch.
//
// A Manager is owned exclusively by a single strategy engine's hot loop —
// spec.md §5 calls this out explicitly ("risk is invoked inline in the hot
// loop — this avoids a lock"). CheckSignal and UpdatePnLAndCheckKill are
// only ever called from that one goroutine. State() is the one exception:
// internal/status's HTTP handler goroutine reads it concurrently with the
// hot loop that mutates it, so the state struct itself is guarded by a
// sync.RWMutex, which CheckSignal (read lock, for the kill flag) and
// UpdatePnLAndCheckKill (write lock) also take — the same
// read/write lock the teacher's own internal/risk.Manager uses to guard
// its aggregated position state, here applied narrowly to the one field
// a second goroutine actually touches.
package risk

import (
	"log/slog"
	"sync"

	"refmaker/internal/types"
)

// Manager enforces the drawdown kill-switch and the pre-trade signal
// filter for a single strategy engine instance.
type Manager struct {
	cfg    types.RiskConfig
	logger *slog.Logger

	mu    sync.RWMutex
	state types.RiskState
}

// NewManager creates a risk manager seeded with zero RiskState.
func NewManager(cfg types.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "risk"),
	}
}

// State returns a copy of the current risk state, for persistence or the
// status endpoint. Safe to call from a goroutine other than the one
// driving CheckSignal/UpdatePnLAndCheckKill.
func (m *Manager) State() types.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CheckSignal is the pre-trade filter: pure, side-effect free. It rejects
// if the kill switch is latched, the order exceeds the configured size
// cap, or the price falls outside the configured bounds for its side.
func (m *Manager) CheckSignal(s types.TradeSignal) bool {
	m.mu.RLock()
	killActive := m.state.KillActive
	m.mu.RUnlock()

	if killActive {
		return false
	}
	sizeUSD, _ := s.SizeUSD.Float64()
	if sizeUSD > m.cfg.MaxOrderSizeUSD {
		return false
	}
	price, _ := s.Price.Float64()
	if s.Side == types.Buy && price > m.cfg.PriceCeiling {
		return false
	}
	if s.Side == types.Sell && price < m.cfg.PriceFloor {
		return false
	}
	return true
}

// UpdatePnLAndCheckKill folds a PnL delta into the high-water-mark
// drawdown tracker. It reports killJustFired=true exactly once, on the
// tick where the drawdown first breaches max_drawdown_usd. Once
// kill_active is true it never reverts within a run (I4) — this Manager
// has no un-latch path, unlike the teacher's cooldown-based kill switch.
func (m *Manager) UpdatePnLAndCheckKill(deltaPnL float64) (killJustFired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.KillActive {
		return false
	}

	m.state.TotalPnL += deltaPnL

	if m.state.TotalPnL > m.state.PeakEquityPnL {
		m.state.PeakEquityPnL = m.state.TotalPnL
		m.state.CurrentDrawdown = 0
	} else {
		m.state.CurrentDrawdown = m.state.PeakEquityPnL - m.state.TotalPnL
	}

	if m.state.CurrentDrawdown > m.cfg.MaxDrawdownUSD {
		m.state.KillActive = true
		m.logger.Error("kill switch latched",
			"total_pnl", m.state.TotalPnL,
			"peak_equity_pnl", m.state.PeakEquityPnL,
			"drawdown", m.state.CurrentDrawdown,
			"max_drawdown_usd", m.cfg.MaxDrawdownUSD,
		)
		return true
	}
	return false
}
