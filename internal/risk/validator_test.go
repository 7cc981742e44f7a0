package risk

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/nidhogg/chainmind/internal/chain"
	"github.com/nidhogg/chainmind/internal/decision"
	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

type fakeParams struct {
	params map[string]float64
	err    error
}

func (f fakeParams) ActiveRiskParameters(ctx context.Context) (map[string]float64, error) {
	return f.params, f.err
}

type fakePrice struct {
	price float64
	err   error
}

func (f fakePrice) Price(ctx context.Context, assetID string) (float64, error) {
	return f.price, f.err
}

type fakeBalance struct {
	wei *big.Int
	err error
}

func (f fakeBalance) Balance(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.wei, f.err
}

// stubRPC satisfies chain.RPC; only gas price matters to the validator.
type stubRPC struct {
	gasPrice *big.Int
	err      error
}

func (s stubRPC) BlockNumber(ctx context.Context) (uint64, error) { return 0, s.err }
func (s stubRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return s.gasPrice, s.err
}
func (s stubRPC) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return nil, s.err
}
func (s stubRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, s.err
}
func (s stubRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, s.err
}
func (s stubRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error { return s.err }
func (s stubRPC) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, s.err
}
func (s stubRPC) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return nil, s.err
}

type stubRPCSource struct {
	rpc chain.RPC
	err error
}

func (s stubRPCSource) For(ctx context.Context, chainID int64) (chain.RPC, error) {
	return s.rpc, s.err
}

func floatPtr(v float64) *float64 { return &v }

// ether converts whole native units to wei.
func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func defaultParams() map[string]float64 {
	return map[string]float64{
		"max_slippage":            1.0,
		"min_liquidity":           100000,
		"max_gas_multiplier":      1.5,
		"min_profit_threshold":    0.5,
		"max_exposure_percentage": 20.0,
	}
}

func testChain() *store.Chain {
	return &store.Chain{ID: 1, Name: "avalanche", Symbol: "AVAX", PriceID: "avalanche-2"}
}

func newTestValidator(params fakeParams, price fakePrice, balance fakeBalance, rpc stubRPCSource) *Validator {
	return NewValidator(params, price, balance, rpc, zap.NewNop())
}

func wantRejection(t *testing.T, err error, rule string) {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Rule != rule {
		t.Fatalf("expected rule %q, got %q (%s)", rule, rej.Rule, rej.Message)
	}
}

func TestValidateNilTransaction(t *testing.T) {
	v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{}})
	err := v.Validate(context.Background(), nil, testChain())
	wantRejection(t, err, "missing_transaction")
}

func TestValidateParamsUnreadable(t *testing.T) {
	v := newTestValidator(fakeParams{err: errors.New("db down")}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{}})
	err := v.Validate(context.Background(), &decision.TransactionData{Type: "transfer"}, testChain())
	if err == nil {
		t.Fatal("expected error when parameters are unreadable")
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		t.Fatalf("infrastructure failure must not be a policy rejection: %v", err)
	}
}

func TestValidateNoActiveParams(t *testing.T) {
	// An empty policy never approves; validation has no defaults.
	v := newTestValidator(fakeParams{params: map[string]float64{}}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{}})
	err := v.Validate(context.Background(), &decision.TransactionData{Type: "transfer"}, testChain())
	wantRejection(t, err, "no_risk_parameters")
}

func TestValidateUnusablePrice(t *testing.T) {
	for name, price := range map[string]fakePrice{
		"error": {err: errors.New("feed down")},
		"zero":  {price: 0},
		"neg":   {price: -3},
	} {
		t.Run(name, func(t *testing.T) {
			v := newTestValidator(fakeParams{params: defaultParams()}, price, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{}})
			err := v.Validate(context.Background(), &decision.TransactionData{Type: "transfer"}, testChain())
			wantRejection(t, err, "price_unavailable")
		})
	}
}

func TestValidateExposure(t *testing.T) {
	// $1 per unit, 1000 unit balance: a 20% cap allows $200 but not $201.
	cases := []struct {
		name   string
		value  *big.Int
		reject bool
	}{
		{"over", ether(201), true},
		{"at_limit", ether(200), false},
		{"under", ether(50), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{gasPrice: big.NewInt(100)}})
			tx := &decision.TransactionData{Type: "transfer", Value: c.value}
			err := v.Validate(context.Background(), tx, testChain())
			if c.reject {
				wantRejection(t, err, "max_exposure_percentage")
			} else if err != nil {
				t.Fatalf("expected approval, got %v", err)
			}
		})
	}
}

func TestValidateExposureZeroBalance(t *testing.T) {
	v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{wei: big.NewInt(0)}, stubRPCSource{rpc: stubRPC{}})
	tx := &decision.TransactionData{Type: "transfer", Value: ether(1)}
	err := v.Validate(context.Background(), tx, testChain())
	wantRejection(t, err, "max_exposure_percentage")
}

func TestValidateExposureSkipsZeroValue(t *testing.T) {
	// Zero-value transactions never read the balance at all.
	v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{err: errors.New("unreachable")}, stubRPCSource{rpc: stubRPC{gasPrice: big.NewInt(100)}})
	err := v.Validate(context.Background(), &decision.TransactionData{Type: "transfer"}, testChain())
	if err != nil {
		t.Fatalf("expected approval for zero-value transaction, got %v", err)
	}
}

func TestValidateSwapFields(t *testing.T) {
	base := func() *decision.TransactionData {
		return &decision.TransactionData{
			Type:                      decision.TxTypeSwap,
			EstimatedSlippage:         floatPtr(0.5),
			PoolLiquidity:             floatPtr(200000),
			EstimatedProfitPercentage: floatPtr(1.0),
		}
	}

	cases := []struct {
		name   string
		mutate func(*decision.TransactionData)
		rule   string
	}{
		{"ok", func(tx *decision.TransactionData) {}, ""},
		{"missing_slippage", func(tx *decision.TransactionData) { tx.EstimatedSlippage = nil }, "max_slippage"},
		{"high_slippage", func(tx *decision.TransactionData) { tx.EstimatedSlippage = floatPtr(1.5) }, "max_slippage"},
		{"missing_liquidity", func(tx *decision.TransactionData) { tx.PoolLiquidity = nil }, "min_liquidity"},
		{"thin_liquidity", func(tx *decision.TransactionData) { tx.PoolLiquidity = floatPtr(50000) }, "min_liquidity"},
		{"missing_profit", func(tx *decision.TransactionData) { tx.EstimatedProfitPercentage = nil }, "min_profit_threshold"},
		{"low_profit", func(tx *decision.TransactionData) { tx.EstimatedProfitPercentage = floatPtr(0.1) }, "min_profit_threshold"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{gasPrice: big.NewInt(100)}})
			tx := base()
			c.mutate(tx)
			err := v.Validate(context.Background(), tx, testChain())
			if c.rule == "" {
				if err != nil {
					t.Fatalf("expected approval, got %v", err)
				}
				return
			}
			wantRejection(t, err, c.rule)
		})
	}
}

func TestValidateSwapFieldsSkippedForOtherTypes(t *testing.T) {
	// A plain transfer carries no slippage data and must not be rejected
	// for the lack of it.
	v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{gasPrice: big.NewInt(100)}})
	err := v.Validate(context.Background(), &decision.TransactionData{Type: "transfer"}, testChain())
	if err != nil {
		t.Fatalf("expected approval, got %v", err)
	}
}

func TestValidatePartialPolicyRejects(t *testing.T) {
	// Deactivating a threshold must not waive the check it backs. Every
	// rule rejects when its parameter is absent from the active set.
	swap := func() *decision.TransactionData {
		return &decision.TransactionData{
			Type:                      decision.TxTypeSwap,
			EstimatedSlippage:         floatPtr(0.5),
			PoolLiquidity:             floatPtr(200000),
			EstimatedProfitPercentage: floatPtr(1.0),
		}
	}

	cases := []struct {
		name    string
		missing string
		tx      *decision.TransactionData
	}{
		{"no_exposure_cap", "max_exposure_percentage", &decision.TransactionData{Type: "transfer", Value: ether(1)}},
		{"no_slippage_cap", "max_slippage", swap()},
		{"no_liquidity_floor", "min_liquidity", swap()},
		{"no_profit_floor", "min_profit_threshold", swap()},
		{"no_gas_cap", "max_gas_multiplier", &decision.TransactionData{Type: "transfer", GasPrice: big.NewInt(1)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			params := defaultParams()
			delete(params, c.missing)
			v := newTestValidator(fakeParams{params: params}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{gasPrice: big.NewInt(100)}})
			err := v.Validate(context.Background(), c.tx, testChain())
			wantRejection(t, err, c.missing)
		})
	}
}

func TestValidateGasCapNotNeededWithoutGasPrice(t *testing.T) {
	// A transaction that names no gas price does not need the cap
	// configured; the executor will use the network price.
	params := defaultParams()
	delete(params, "max_gas_multiplier")
	v := newTestValidator(fakeParams{params: params}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{gasPrice: big.NewInt(100)}})
	err := v.Validate(context.Background(), &decision.TransactionData{Type: "transfer"}, testChain())
	if err != nil {
		t.Fatalf("expected approval, got %v", err)
	}
}

func TestValidateGasPrice(t *testing.T) {
	network := big.NewInt(100_000_000_000) // 100 gwei

	cases := []struct {
		name   string
		gas    *big.Int
		reject bool
	}{
		{"unset", nil, false},
		{"at_limit", big.NewInt(150_000_000_000), false},
		{"over", big.NewInt(151_000_000_000), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{gasPrice: network}})
			tx := &decision.TransactionData{Type: "transfer", GasPrice: c.gas}
			err := v.Validate(context.Background(), tx, testChain())
			if c.reject {
				wantRejection(t, err, "max_gas_multiplier")
			} else if err != nil {
				t.Fatalf("expected approval, got %v", err)
			}
		})
	}
}

func TestValidateGasPriceNetworkUnreadable(t *testing.T) {
	v := newTestValidator(fakeParams{params: defaultParams()}, fakePrice{price: 1}, fakeBalance{wei: ether(1000)}, stubRPCSource{rpc: stubRPC{err: errors.New("rpc down")}})
	tx := &decision.TransactionData{Type: "transfer", GasPrice: big.NewInt(1)}
	err := v.Validate(context.Background(), tx, testChain())
	if err == nil {
		t.Fatal("expected error when network gas price is unreadable")
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		t.Fatalf("infrastructure failure must not be a policy rejection: %v", err)
	}
}
