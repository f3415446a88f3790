// Package execution implements the two-stage asynchronous order pipeline:
// Stage A (the signer, CPU-bound) turns a TradeSignal into a signed order;
// Stage B (the broadcaster, IO-bound) submits it to Venue-T over HTTP, one
// task per submission, relying on HTTP keep-alive/connection pooling rather
// than a worker pool. A bounded, drop-on-full channel decouples the two
// stages so a network stall never backs up into signal consumption.
//
// The cancel-all sentinel (logic_tag=99) bypasses both stages entirely: it
// is retried directly against the submitter up to three times with a 200ms
// backoff, since an unacknowledged emergency cancel is far worse than a
// dropped resting-order placement.
package execution

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"refmaker/internal/fabric"
	"refmaker/internal/types"
	"refmaker/internal/wire"
)

// DefaultPipelineCapacity is the Stage A -> Stage B channel capacity.
const DefaultPipelineCapacity = 1000

const (
	cancelAllRetries = 3
	cancelAllBackoff = 200 * time.Millisecond
	submitTimeout    = 2 * time.Second
)

// SignedOrder is an opaque, venue-ready payload produced by a Signer and
// consumed by a Submitter. Pipeline never inspects Payload.
type SignedOrder struct {
	Original types.TradeSignal
	Payload  []byte
}

// Signer performs the CPU-bound EIP-712 signing step.
type Signer interface {
	Sign(ctx context.Context, sig types.TradeSignal) (SignedOrder, error)
}

// Submitter performs the IO-bound HTTP step against Venue-T.
type Submitter interface {
	Submit(ctx context.Context, order SignedOrder) error
	CancelAll(ctx context.Context) error
}

// Pipeline reads TradeSignal frames off the SG topic and drives them
// through the sign/submit stages. One Pipeline typically runs per process,
// consuming every tracked symbol's signals (and the supervisor's cancel-all
// sentinel) off the one shared SG topic.
type Pipeline struct {
	signer    Signer
	submitter Submitter
	sub       *fabric.Subscriber
	queue     chan SignedOrder
	logger    *slog.Logger

	dropped   atomic.Uint64
	submitted atomic.Uint64
}

// NewPipeline creates a Pipeline. A non-positive capacity uses
// DefaultPipelineCapacity.
func NewPipeline(signer Signer, submitter Submitter, sub *fabric.Subscriber, capacity int, logger *slog.Logger) *Pipeline {
	if capacity <= 0 {
		capacity = DefaultPipelineCapacity
	}
	return &Pipeline{
		signer:    signer,
		submitter: submitter,
		sub:       sub,
		queue:     make(chan SignedOrder, capacity),
		logger:    logger.With("component", "execution"),
	}
}

// Run blocks until ctx is cancelled or the subscriber stops yielding
// frames. It starts the Stage B broadcaster goroutine internally.
func (p *Pipeline) Run(ctx context.Context) {
	go p.broadcast(ctx)

	for {
		frame, ok := p.sub.Recv(ctx)
		if !ok {
			return
		}

		sig, err := wire.DecodeTradeSignal(frame.Payload)
		if err != nil {
			p.logger.Error("decode trade signal failed", "error", err)
			continue
		}

		if sig.IsCancelAll() {
			go p.cancelAllWithRetry(context.Background())
			continue
		}

		go p.sign(ctx, sig)
	}
}

// sign runs Stage A for one signal. On success it pushes onto the bounded
// queue without blocking; if the queue is full the order is dropped — a
// fresher signal is always on the way.
func (p *Pipeline) sign(ctx context.Context, sig types.TradeSignal) {
	signed, err := p.signer.Sign(ctx, sig)
	if err != nil {
		p.logger.Warn("signing failed", "side", sig.Side, "error", err)
		return
	}

	select {
	case p.queue <- signed:
	default:
		p.dropped.Add(1)
		p.logger.Warn("pipeline full, dropping signed order")
	}
}

// broadcast is Stage B's main loop: one submission task per signed order,
// never blocking on a slow submit.
func (p *Pipeline) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signed := <-p.queue:
			go p.submit(ctx, signed)
		}
	}
}

func (p *Pipeline) submit(ctx context.Context, signed SignedOrder) {
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if err := p.submitter.Submit(submitCtx, signed); err != nil {
		p.logger.Error("submit failed", "error", err)
		return
	}
	p.submitted.Add(1)
}

// cancelAllWithRetry is the sentinel's dedicated path: up to three
// attempts, 200ms apart, normal submission failures never retry this way.
func (p *Pipeline) cancelAllWithRetry(ctx context.Context) {
	for attempt := 1; attempt <= cancelAllRetries; attempt++ {
		submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
		err := p.submitter.CancelAll(submitCtx)
		cancel()

		if err == nil {
			p.logger.Info("cancel-all succeeded", "attempt", attempt)
			return
		}
		p.logger.Error("cancel-all failed", "attempt", attempt, "error", err)
		if attempt < cancelAllRetries {
			time.Sleep(cancelAllBackoff)
		}
	}
}

// Dropped returns the number of signed orders dropped due to a full
// Stage A -> Stage B channel.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Submitted returns the number of orders successfully submitted.
func (p *Pipeline) Submitted() uint64 {
	return p.submitted.Load()
}
