package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

// ChainSource resolves chain metadata by ID.
type ChainSource interface {
	GetChain(ctx context.Context, id int64) (*store.Chain, error)
}

// Pool caches one RPC client per chain. Chain identity is always an
// explicit argument; there is no mutable current-chain state.
type Pool struct {
	chains ChainSource
	dial   func(string) (RPC, error)
	mu     sync.Mutex
	conns  map[int64]RPC
	logger *zap.Logger
}

// NewPool creates a client pool backed by the chain registry.
func NewPool(chains ChainSource, logger *zap.Logger) *Pool {
	return &Pool{
		chains: chains,
		dial: func(url string) (RPC, error) {
			return Dial(url)
		},
		conns:  make(map[int64]RPC),
		logger: logger,
	}
}

// For returns the RPC client for a chain, dialing on first use. The
// lookup and dial run outside the lock so one chain's slow endpoint
// never stalls resolution for the others.
func (p *Pool) For(ctx context.Context, chainID int64) (RPC, error) {
	p.mu.Lock()
	if rpc, ok := p.conns[chainID]; ok {
		p.mu.Unlock()
		return rpc, nil
	}
	dial := p.dial
	p.mu.Unlock()

	c, err := p.chains.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	rpc, err := dial(c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect chain %s: %w", c.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[chainID]; ok {
		// Lost a dial race; keep the first connection.
		return existing, nil
	}
	p.conns[chainID] = rpc
	p.logger.Info("chain RPC connected",
		zap.String("chain", c.Name),
		zap.Int64("chain_id", chainID))
	return rpc, nil
}

// SetDialer overrides the dial function. Used by tests.
func (p *Pool) SetDialer(dial func(string) (RPC, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = dial
}
