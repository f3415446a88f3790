// Package persistence implements crash-safe ledger snapshotting.
//
// Each tracked symbol's ledger is stored as its own file:
// ledger_<symbol_id>.json. Writes use atomic file replacement (write to
// .tmp, then rename) so a crash mid-write never leaves a corrupt file —
// either the old snapshot or the new one is readable, never a partial
// one. A single background Worker drains a channel of LedgerState
// snapshots; if several arrive while a write is in flight, only the
// newest is written and the rest are coalesced away (P9) rather than
// queued up for a write-per-snapshot backlog.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"refmaker/internal/types"
)

// DefaultChannelCapacity is the Worker's inbound snapshot channel size.
// It only needs to absorb a short burst between write cycles: the
// coalescing drain keeps the worker from falling behind.
const DefaultChannelCapacity = 16

// Worker persists LedgerState snapshots for a single symbol.
type Worker struct {
	dir      string
	symbolID uint64
	ch       chan types.LedgerState
	logger   *slog.Logger
}

// NewWorker creates a Worker backed by dir, creating it if necessary.
func NewWorker(dir string, symbolID uint64, logger *slog.Logger) (*Worker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create persistence dir: %w", err)
	}
	return &Worker{
		dir:      dir,
		symbolID: symbolID,
		ch:       make(chan types.LedgerState, DefaultChannelCapacity),
		logger:   logger.With("component", "persistence", "symbol_id", symbolID),
	}, nil
}

// Channel returns the send-half strategy.Engine enqueues snapshots onto.
func (w *Worker) Channel() chan<- types.LedgerState {
	return w.ch
}

// Run drains the channel and writes snapshots until done is closed,
// draining to the latest snapshot whenever several have queued up.
func (w *Worker) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case latest := <-w.ch:
			latest = w.drainToLatest(latest)
			if err := w.writeAtomic(latest); err != nil {
				w.logger.Error("persist ledger failed", "error", err)
			}
		}
	}
}

// drainToLatest non-blockingly consumes any additional snapshots already
// queued behind the one just received, returning only the newest.
func (w *Worker) drainToLatest(latest types.LedgerState) types.LedgerState {
	for {
		select {
		case next := <-w.ch:
			latest = next
		default:
			return latest
		}
	}
}

func (w *Worker) path() string {
	return filepath.Join(w.dir, fmt.Sprintf("ledger_%d.json", w.symbolID))
}

func (w *Worker) writeAtomic(ls types.LedgerState) error {
	data, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	path := w.path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores a persisted LedgerState for symbolID from dir. It
// returns (nil, nil) if no snapshot exists yet (fresh symbol).
func Load(dir string, symbolID uint64) (*types.LedgerState, error) {
	path := filepath.Join(dir, fmt.Sprintf("ledger_%d.json", symbolID))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var ls types.LedgerState
	if err := json.Unmarshal(data, &ls); err != nil {
		return nil, fmt.Errorf("unmarshal ledger: %w", err)
	}
	return &ls, nil
}
