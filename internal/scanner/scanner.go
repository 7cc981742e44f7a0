package scanner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nidhogg/chainmind/internal/chain"
	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

// Snapshot is one point-in-time read of chain state.
type Snapshot struct {
	ChainID        int64              `json:"chain_id"`
	ChainName      string             `json:"chain_name"`
	Symbol         string             `json:"symbol"`
	BlockHeight    uint64             `json:"block_height"`
	GasPrice       *big.Int           `json:"gas_price"`
	Yields         map[string]float64 `json:"yields"`
	MarketPriceUSD float64            `json:"market_price_usd"`
	Timestamp      time.Time          `json:"timestamp"`
}

// PriceSource reads USD spot prices.
type PriceSource interface {
	Price(ctx context.Context, assetID string) (float64, error)
}

// RPCSource resolves the RPC client for a chain.
type RPCSource interface {
	For(ctx context.Context, chainID int64) (chain.RPC, error)
}

// getYieldSelector is the 4-byte selector of getYield().
var getYieldSelector = crypto.Keccak256([]byte("getYield()"))[:4]

// Scanner produces read-only chain snapshots. Per-protocol yield reads
// and the market price lookup are individually fault-tolerant; a zero
// price means unknown, never a literal valuation.
type Scanner struct {
	rpc            RPCSource
	price          PriceSource
	yieldContracts map[string]common.Address
	logger         *zap.Logger
}

// New creates a scanner. Invalid yield contract addresses are rejected.
func New(rpc RPCSource, price PriceSource, contracts map[string]string, logger *zap.Logger) (*Scanner, error) {
	parsed := make(map[string]common.Address, len(contracts))
	for protocol, addr := range contracts {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("yield contract %s: invalid address %q", protocol, addr)
		}
		parsed[protocol] = common.HexToAddress(addr)
	}
	return &Scanner{rpc: rpc, price: price, yieldContracts: parsed, logger: logger}, nil
}

// Scan reads the current state of one chain.
func (s *Scanner) Scan(ctx context.Context, ch *store.Chain) (*Snapshot, error) {
	rpc, err := s.rpc.For(ctx, ch.ID)
	if err != nil {
		return nil, err
	}

	height, err := rpc.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number on %s: %w", ch.Name, err)
	}
	gasPrice, err := rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price on %s: %w", ch.Name, err)
	}

	return &Snapshot{
		ChainID:        ch.ID,
		ChainName:      ch.Name,
		Symbol:         ch.Symbol,
		BlockHeight:    height,
		GasPrice:       gasPrice,
		Yields:         s.scanYields(ctx, rpc, ch),
		MarketPriceUSD: s.marketPrice(ctx, ch),
		Timestamp:      time.Now().UTC(),
	}, nil
}

// scanYields reads each protocol's yield independently. One protocol
// failing yields 0 for that protocol only.
func (s *Scanner) scanYields(ctx context.Context, rpc chain.RPC, ch *store.Chain) map[string]float64 {
	yields := make(map[string]float64, len(s.yieldContracts))
	for protocol, addr := range s.yieldContracts {
		target := addr
		ret, err := rpc.CallContract(ctx, ethereum.CallMsg{
			To:   &target,
			Data: getYieldSelector,
		})
		if err != nil || len(ret) == 0 {
			s.logger.Warn("yield read failed",
				zap.String("chain", ch.Name),
				zap.String("protocol", protocol),
				zap.Error(err))
			yields[protocol] = 0
			continue
		}
		raw := new(big.Int).SetBytes(ret)
		yields[protocol], _ = new(big.Float).SetInt(raw).Float64()
	}
	return yields
}

// marketPrice returns the native asset's USD price, or 0 when unknown.
func (s *Scanner) marketPrice(ctx context.Context, ch *store.Chain) float64 {
	price, err := s.price.Price(ctx, ch.PriceID)
	if err != nil {
		s.logger.Warn("market price unavailable",
			zap.String("chain", ch.Name),
			zap.String("asset", ch.PriceID),
			zap.Error(err))
		return 0
	}
	return price
}
