package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/chainmind/internal/decision"
	"github.com/nidhogg/chainmind/internal/scanner"
	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

// ChainLister returns the chains a cycle should cover.
type ChainLister interface {
	ListActiveChains(ctx context.Context) ([]*store.Chain, error)
}

// Scanner produces a chain snapshot.
type Scanner interface {
	Scan(ctx context.Context, ch *store.Chain) (*scanner.Snapshot, error)
}

// Decider turns a snapshot into a decision.
type Decider interface {
	Decide(ctx context.Context, snap *scanner.Snapshot) *decision.Decision
}

// Submitter validates and executes a proposed transaction.
type Submitter interface {
	Execute(ctx context.Context, tx *decision.TransactionData, ch *store.Chain) (string, error)
}

// ChainResult is one chain's outcome within a cycle.
type ChainResult struct {
	Chain    *store.Chain
	Executed bool
	TxHash   string
	Err      error
}

// Orchestrator drives the scan→decide→validate→execute pipeline across
// all active chains on a fixed interval. It owns its own ticker and stop
// handle. Cycles are non-reentrant: a tick that fires while a cycle is
// still running is skipped.
type Orchestrator struct {
	chains   ChainLister
	scanner  Scanner
	engine   Decider
	executor Submitter
	events   *EventBus

	interval time.Duration
	pool     chan struct{}
	running  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	logger   *zap.Logger
}

// New creates a cycle orchestrator with a bounded per-chain worker pool.
func New(chains ChainLister, sc Scanner, engine Decider, executor Submitter, events *EventBus, interval time.Duration, poolSize int, logger *zap.Logger) *Orchestrator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Orchestrator{
		chains:   chains,
		scanner:  sc,
		engine:   engine,
		executor: executor,
		events:   events,
		interval: interval,
		pool:     make(chan struct{}, poolSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Start begins ticking. Stop with Stop.
func (o *Orchestrator) Start() {
	go func() {
		defer close(o.done)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		o.logger.Info("cycle orchestrator started",
			zap.Duration("interval", o.interval))

		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				o.RunCycle(context.Background())
			}
		}
	}()
}

// Stop halts the ticker and waits for any in-flight cycle to finish, so
// shutdown never interrupts a half-recorded transaction.
func (o *Orchestrator) Stop() {
	close(o.stop)
	<-o.done
}

// Running reports whether a cycle is currently in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RunCycle runs one pass over all active chains. Chains are processed by
// independent workers with no shared mutable chain context; one chain's
// failure never aborts the others. Returns nil when a cycle is already
// in flight.
func (o *Orchestrator) RunCycle(ctx context.Context) []*ChainResult {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn("cycle still running, skipping tick")
		return nil
	}
	defer o.running.Store(false)

	start := time.Now()
	chains, err := o.chains.ListActiveChains(ctx)
	if err != nil {
		o.logger.Error("failed to list active chains", zap.Error(err))
		return nil
	}

	results := make(chan *ChainResult, len(chains))
	var wg sync.WaitGroup
	for _, ch := range chains {
		wg.Add(1)
		go func(ch *store.Chain) {
			defer wg.Done()
			o.pool <- struct{}{}        // acquire slot
			defer func() { <-o.pool }() // release slot

			results <- o.runChain(ctx, ch)
		}(ch)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var collected []*ChainResult
	for res := range results {
		collected = append(collected, res)
		o.report(ctx, res)
	}

	o.logger.Info("cycle complete",
		zap.Int("chains", len(collected)),
		zap.Duration("duration", time.Since(start)))
	return collected
}

// runChain executes the full pipeline for one chain.
func (o *Orchestrator) runChain(ctx context.Context, ch *store.Chain) *ChainResult {
	snap, err := o.scanner.Scan(ctx, ch)
	if err != nil {
		return &ChainResult{Chain: ch, Err: err}
	}

	dec := o.engine.Decide(ctx, snap)
	if !dec.ShouldExecute {
		return &ChainResult{Chain: ch}
	}

	hash, err := o.executor.Execute(ctx, dec.TransactionData, ch)
	if err != nil {
		return &ChainResult{Chain: ch, Err: err}
	}
	return &ChainResult{Chain: ch, Executed: true, TxHash: hash}
}

// report logs a chain result and publishes it to the event bus.
func (o *Orchestrator) report(ctx context.Context, res *ChainResult) {
	ev := &CycleEvent{
		ChainID:  res.Chain.ID,
		Chain:    res.Chain.Name,
		Executed: res.Executed,
		TxHash:   res.TxHash,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
		o.logger.Warn("chain cycle failed",
			zap.String("chain", res.Chain.Name),
			zap.Error(res.Err))
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Debug("event publish failed", zap.Error(err))
	}
}
