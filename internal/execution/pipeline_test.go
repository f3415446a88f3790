package execution

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"refmaker/internal/fabric"
	"refmaker/internal/types"
	"refmaker/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, sig types.TradeSignal) (SignedOrder, error) {
	return SignedOrder{Original: sig}, nil
}

type fakeSubmitter struct {
	mu          sync.Mutex
	submitted   int
	cancelCalls int
	failFirst   int // CancelAll fails this many times before succeeding
}

func (s *fakeSubmitter) Submit(ctx context.Context, order SignedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	return nil
}

func (s *fakeSubmitter) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	if s.cancelCalls <= s.failFirst {
		return errors.New("transient cancel failure")
	}
	return nil
}

func testSignal() types.TradeSignal {
	return types.TradeSignal{
		SymbolID: 1,
		Side:     types.Buy,
		Price:    decimal.NewFromFloat(0.5),
		SizeUSD:  decimal.NewFromFloat(10),
		LogicTag: types.LogicTagQuote,
	}
}

// TestSignDropsOnFullQueue is S5's core mechanism, exercised
// deterministically: once the Stage A -> Stage B channel is saturated,
// further signed orders are dropped and counted rather than blocking the
// signer.
func TestSignDropsOnFullQueue(t *testing.T) {
	p := NewPipeline(fakeSigner{}, &fakeSubmitter{}, nil, 2, testLogger())

	p.queue <- SignedOrder{}
	p.queue <- SignedOrder{}

	const attempts = 5
	for i := 0; i < attempts; i++ {
		p.sign(context.Background(), testSignal())
	}

	if got := p.Dropped(); got != attempts {
		t.Fatalf("dropped = %d, want %d", got, attempts)
	}
	if len(p.queue) != 2 {
		t.Fatalf("queue length = %d, want still at capacity 2", len(p.queue))
	}
}

// TestPipelineOverflowNoDeadlock is S5 end to end: 2000 signals arrive
// over a capacity-1000 channel drained by an instant submitter. No
// deadlock occurs, every signal is accounted for as either submitted or
// dropped, and fresh signals keep flowing after the burst.
func TestPipelineOverflowNoDeadlock(t *testing.T) {
	bus := fabric.NewBus(4096)
	pub := bus.Publisher()
	sub := bus.Subscribe(wire.TopicSG)

	submitter := &fakeSubmitter{}
	p := NewPipeline(fakeSigner{}, submitter, sub, DefaultPipelineCapacity, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	const n = 2000
	for i := 0; i < n; i++ {
		payload := wire.EncodeTradeSignal(testSignal())
		pub.Publish(wire.TopicSG, payload)
	}

	deadline := time.After(3 * time.Second)
	for {
		submitter.mu.Lock()
		submitted := submitter.submitted
		submitter.mu.Unlock()
		if uint64(submitted)+p.Dropped() >= n {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out: submitted=%d dropped=%d", submitted, p.Dropped())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Confirm the pipeline is still live after the burst.
	payload := wire.EncodeTradeSignal(testSignal())
	pub.Publish(wire.TopicSG, payload)

	deadline = time.After(time.Second)
	for {
		submitter.mu.Lock()
		submitted := submitter.submitted
		submitter.mu.Unlock()
		if uint64(submitted)+p.Dropped() > n {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pipeline stalled after burst, fresh signal never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCancelAllRetriesUntilSuccess(t *testing.T) {
	bus := fabric.NewBus(16)
	pub := bus.Publisher()
	sub := bus.Subscribe(wire.TopicSG)

	submitter := &fakeSubmitter{failFirst: 2}
	p := NewPipeline(fakeSigner{}, submitter, sub, 10, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	payload := wire.EncodeTradeSignal(types.CancelAllSignal(time.Now()))
	pub.Publish(wire.TopicSG, payload)

	deadline := time.After(2 * time.Second)
	for {
		submitter.mu.Lock()
		calls := submitter.cancelCalls
		submitter.mu.Unlock()
		if calls >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for cancel-all retries, calls=%d", calls)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNormalSignalsNeverRetried(t *testing.T) {
	bus := fabric.NewBus(16)
	pub := bus.Publisher()
	sub := bus.Subscribe(wire.TopicSG)

	submitter := &fakeSubmitter{}
	p := NewPipeline(fakeSigner{}, submitter, sub, 10, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	payload := wire.EncodeTradeSignal(testSignal())
	pub.Publish(wire.TopicSG, payload)

	deadline := time.After(time.Second)
	for p.Submitted() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for submission")
		case <-time.After(5 * time.Millisecond):
		}
	}

	time.Sleep(50 * time.Millisecond)
	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	if submitter.submitted != 1 {
		t.Fatalf("submitted = %d, want exactly 1 (no retry)", submitter.submitted)
	}
}
