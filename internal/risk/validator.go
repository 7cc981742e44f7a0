package risk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/nidhogg/chainmind/internal/chain"
	"github.com/nidhogg/chainmind/internal/decision"
	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

// Rejection is a normal, expected validation outcome: the rule that
// failed plus the offending value versus its threshold.
type Rejection struct {
	Rule    string
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk check %s: %s", r.Rule, r.Message)
}

// reject builds a Rejection with a formatted message.
func reject(rule, format string, args ...any) *Rejection {
	return &Rejection{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// ParamSource reads the live risk parameter values.
type ParamSource interface {
	ActiveRiskParameters(ctx context.Context) (map[string]float64, error)
}

// PriceSource reads USD spot prices.
type PriceSource interface {
	Price(ctx context.Context, assetID string) (float64, error)
}

// BalanceSource reads the wallet's native balance.
type BalanceSource interface {
	Balance(ctx context.Context, chainID int64) (*big.Int, error)
}

// RPCSource resolves the RPC client for a chain.
type RPCSource interface {
	For(ctx context.Context, chainID int64) (chain.RPC, error)
}

// Validator checks a proposed transaction against the operator-configured
// risk policy. It fails closed: unusable prices, missing parameters, and
// unreadable balances all reject, never approve.
type Validator struct {
	params   ParamSource
	price    PriceSource
	balances BalanceSource
	rpc      RPCSource
	logger   *zap.Logger
}

// NewValidator creates a risk validator.
func NewValidator(params ParamSource, price PriceSource, balances BalanceSource, rpc RPCSource, logger *zap.Logger) *Validator {
	return &Validator{params: params, price: price, balances: balances, rpc: rpc, logger: logger}
}

// Validate runs the rule chain in order, short-circuiting on the first
// failure. A *Rejection return is a policy verdict; any other error is
// an infrastructure failure, which callers must also treat as not
// approved.
func (v *Validator) Validate(ctx context.Context, tx *decision.TransactionData, ch *store.Chain) error {
	if tx == nil {
		return reject("missing_transaction", "no transaction data provided")
	}

	// Validation requires an explicit operator policy. Unlike proposing,
	// it never falls back to defaults.
	params, err := v.params.ActiveRiskParameters(ctx)
	if err != nil {
		return fmt.Errorf("read risk parameters: %w", err)
	}
	if len(params) == 0 {
		return reject("no_risk_parameters", "no active risk parameters configured")
	}

	price, err := v.price.Price(ctx, ch.PriceID)
	if err != nil || price <= 0 {
		return reject("price_unavailable",
			"no usable %s price to value the transaction", ch.Symbol)
	}

	if rej, err := v.checkExposure(ctx, tx, ch, params, price); err != nil {
		return err
	} else if rej != nil {
		return rej
	}

	if tx.Type == decision.TxTypeSwap || tx.Type == decision.TxTypeTrade {
		if rej := checkSwapFields(tx, params); rej != nil {
			return rej
		}
	}

	return v.checkGasPrice(ctx, tx, ch, params)
}

// checkExposure enforces max_exposure_percentage: transaction USD value
// as a share of total wallet USD value.
func (v *Validator) checkExposure(ctx context.Context, tx *decision.TransactionData, ch *store.Chain, params map[string]float64, price float64) (*Rejection, error) {
	txValueUSD := tx.AmountEther() * price
	if txValueUSD == 0 {
		return nil, nil
	}

	balance, err := v.balances.Balance(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("read wallet balance: %w", err)
	}
	balanceUSD := decision.WeiToEther(balance) * price

	maxExposure, ok := params["max_exposure_percentage"]
	if !ok {
		return reject("max_exposure_percentage", "parameter not configured"), nil
	}
	if balanceUSD <= 0 {
		return reject("max_exposure_percentage",
			"wallet balance is zero, cannot take on $%.2f exposure", txValueUSD), nil
	}

	exposure := txValueUSD / balanceUSD * 100
	if exposure > maxExposure {
		return reject("max_exposure_percentage",
			"exposure %.2f%% exceeds maximum %.2f%%", exposure, maxExposure), nil
	}
	return nil, nil
}

// checkSwapFields enforces the swap/trade-only rules. Missing fields
// reject outright, and so does a policy with the threshold itself
// deactivated: a swap cannot be judged without its limits.
func checkSwapFields(tx *decision.TransactionData, params map[string]float64) *Rejection {
	if tx.EstimatedSlippage == nil {
		return reject("max_slippage", "missing estimated slippage")
	}
	maxSlippage, ok := params["max_slippage"]
	if !ok {
		return reject("max_slippage", "parameter not configured")
	}
	if *tx.EstimatedSlippage > maxSlippage {
		return reject("max_slippage",
			"estimated slippage %.2f%% exceeds maximum %.2f%%", *tx.EstimatedSlippage, maxSlippage)
	}

	if tx.PoolLiquidity == nil {
		return reject("min_liquidity", "missing pool liquidity")
	}
	minLiquidity, ok := params["min_liquidity"]
	if !ok {
		return reject("min_liquidity", "parameter not configured")
	}
	if *tx.PoolLiquidity < minLiquidity {
		return reject("min_liquidity",
			"pool liquidity $%.2f below minimum $%.2f", *tx.PoolLiquidity, minLiquidity)
	}

	if tx.EstimatedProfitPercentage == nil {
		return reject("min_profit_threshold", "missing estimated profit")
	}
	minProfit, ok := params["min_profit_threshold"]
	if !ok {
		return reject("min_profit_threshold", "parameter not configured")
	}
	if *tx.EstimatedProfitPercentage < minProfit {
		return reject("min_profit_threshold",
			"estimated profit %.2f%% below minimum %.2f%%", *tx.EstimatedProfitPercentage, minProfit)
	}
	return nil
}

// checkGasPrice enforces max_gas_multiplier over the live network price.
// A transaction that names a gas price needs the limit configured.
func (v *Validator) checkGasPrice(ctx context.Context, tx *decision.TransactionData, ch *store.Chain, params map[string]float64) error {
	if tx.GasPrice == nil {
		return nil
	}
	multiplier, ok := params["max_gas_multiplier"]
	if !ok {
		return reject("max_gas_multiplier", "parameter not configured")
	}

	rpc, err := v.rpc.For(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("resolve chain rpc: %w", err)
	}
	base, err := rpc.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("read network gas price: %w", err)
	}

	limit := new(big.Float).Mul(new(big.Float).SetInt(base), big.NewFloat(multiplier))
	if new(big.Float).SetInt(tx.GasPrice).Cmp(limit) > 0 {
		return reject("max_gas_multiplier",
			"gas price %s exceeds %.2fx network price %s", tx.GasPrice, multiplier, base)
	}
	return nil
}
