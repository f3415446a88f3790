// Package supervisor owns process lifecycle: the global shutdown flag,
// SIGINT/SIGTERM handling, and the emergency cancel-all broadcast that
// fires on both a clean shutdown and a kill-switch trip.
//
// Grounded on the teacher's cmd/bot/main.go signal-wait loop and
// internal/engine/engine.go's Stop() sequencing (cancel contexts, safety-
// net cancel-all, wait for goroutines), restructured around
// golang.org/x/sync/errgroup instead of the teacher's hand-rolled
// sync.WaitGroup plus manual error propagation — errgroup is already used
// in the example pack by other repos (ChoSanghyuk-blackholedex,
// stadam23-Eve-flipper) for exactly this goroutine-group/fail-fast shape.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"refmaker/internal/fabric"
	"refmaker/internal/strategy"
	"refmaker/internal/types"
	"refmaker/internal/wire"
)

const (
	sentinelRetries = 3
	sentinelGap     = 100 * time.Millisecond
)

// Supervisor runs a fixed set of component loops to completion and
// handles the shared shutdown path.
type Supervisor struct {
	pub    *fabric.Publisher
	logger *slog.Logger
}

// New creates a Supervisor that broadcasts its cancel-all sentinel on pub.
func New(pub *fabric.Publisher, logger *slog.Logger) *Supervisor {
	return &Supervisor{pub: pub, logger: logger.With("component", "supervisor")}
}

// Run starts every runner on its own goroutine under a shared cancellable
// context, waits for either a SIGINT/SIGTERM, a runner error (including
// ErrKillSwitch), or all runners returning cleanly, then performs the
// emergency cancel-all broadcast before returning a process exit code:
// 0 clean, 1 a non-kill-switch runner error, 2 a kill-switch trip. A runner
// that returns context.Canceled after shutdown has begun counts as clean.
func (s *Supervisor) Run(ctx context.Context, runners ...func(context.Context) error) int {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-gctx.Done():
		}
	}()

	for _, runner := range runners {
		runner := runner
		g.Go(func() error { return runner(gctx) })
	}

	err := g.Wait()
	cancel()

	s.broadcastCancelAll()

	switch {
	case errors.Is(err, strategy.ErrKillSwitch):
		s.logger.Error("exiting after kill switch", "error", err)
		return 2
	case err != nil && !errors.Is(err, context.Canceled):
		s.logger.Error("exiting after runner error", "error", err)
		return 1
	default:
		s.logger.Info("clean shutdown")
		return 0
	}
}

// broadcastCancelAll publishes the cancel-all sentinel three times with a
// 100ms gap: SG drops must never include the sentinel, but a slow
// subscriber's queue could still evict one copy, so the supervisor
// re-sends to survive up to two consecutive losses (P10).
func (s *Supervisor) broadcastCancelAll() {
	sentinel := types.CancelAllSignal(time.Now())
	payload := wire.EncodeTradeSignal(sentinel)

	for attempt := 1; attempt <= sentinelRetries; attempt++ {
		s.pub.Publish(wire.TopicSG, payload)
		s.logger.Info("cancel-all sentinel broadcast", "attempt", attempt)
		if attempt < sentinelRetries {
			time.Sleep(sentinelGap)
		}
	}
}
