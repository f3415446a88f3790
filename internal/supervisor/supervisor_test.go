package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"refmaker/internal/fabric"
	"refmaker/internal/strategy"
	"refmaker/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunReturnsZeroOnCleanShutdown(t *testing.T) {
	t.Parallel()

	bus := fabric.NewBus(0)
	sup := New(bus.Publisher(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	code := sup.Run(ctx, func(c context.Context) error {
		<-c.Done()
		return nil
	})
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestRunReturnsOneOnRunnerError(t *testing.T) {
	t.Parallel()

	bus := fabric.NewBus(0)
	sup := New(bus.Publisher(), testLogger())

	code := sup.Run(context.Background(), func(c context.Context) error {
		return errors.New("boom")
	})
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestRunReturnsTwoOnKillSwitch(t *testing.T) {
	t.Parallel()

	bus := fabric.NewBus(0)
	sup := New(bus.Publisher(), testLogger())

	code := sup.Run(context.Background(), func(c context.Context) error {
		return strategy.ErrKillSwitch
	})
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}

func TestRunBroadcastsCancelAllOnExit(t *testing.T) {
	t.Parallel()

	bus := fabric.NewBus(0)
	sgSub := bus.Subscribe(wire.TopicSG)
	sup := New(bus.Publisher(), testLogger())

	sup.Run(context.Background(), func(c context.Context) error {
		return errors.New("boom")
	})

	seen := 0
	for {
		frame, ok := sgSub.TryRecv()
		if !ok {
			break
		}
		sig, err := wire.DecodeTradeSignal(frame.Payload)
		if err != nil {
			t.Fatalf("decode trade signal: %v", err)
		}
		if !sig.IsCancelAll() {
			t.Errorf("expected only cancel-all sentinels, got logic_tag=%d", sig.LogicTag)
		}
		seen++
	}
	if seen != sentinelRetries {
		t.Errorf("saw %d cancel-all broadcasts, want %d", seen, sentinelRetries)
	}
}

func TestRunStopsAllRunnersOnFirstError(t *testing.T) {
	t.Parallel()

	bus := fabric.NewBus(0)
	sup := New(bus.Publisher(), testLogger())

	otherStopped := make(chan struct{})
	code := sup.Run(context.Background(),
		func(c context.Context) error {
			return errors.New("boom")
		},
		func(c context.Context) error {
			<-c.Done()
			close(otherStopped)
			return nil
		},
	)

	select {
	case <-otherStopped:
	default:
		t.Fatal("expected the second runner's context to be cancelled once the first returned an error")
	}
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}
