package decision

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/params"
)

// PatternKey names the pattern memory for a decision type in a given
// month, e.g. "swap_202608". The engine seeds it and the executor
// reinforces it under the same key.
func PatternKey(decisionType string, at time.Time) string {
	return fmt.Sprintf("%s_%s", decisionType, at.UTC().Format("200601"))
}

// Transaction types that carry swap-specific risk fields.
const (
	TxTypeSwap  = "swap"
	TxTypeTrade = "trade"
)

// TransactionData is the payload the decision service proposes for
// execution. Optional numeric fields are pointers: missing is not zero.
type TransactionData struct {
	Type                      string   `json:"type"`
	To                        string   `json:"to"`
	Value                     *big.Int `json:"value,omitempty"`
	Data                      string   `json:"data,omitempty"`
	GasPrice                  *big.Int `json:"gas_price,omitempty"`
	EstimatedSlippage         *float64 `json:"estimated_slippage,omitempty"`
	PoolLiquidity             *float64 `json:"pool_liquidity,omitempty"`
	EstimatedProfitPercentage *float64 `json:"estimated_profit_percentage,omitempty"`
}

// ValueWei returns the transaction value in wei, zero when unset.
func (t *TransactionData) ValueWei() *big.Int {
	if t == nil || t.Value == nil {
		return new(big.Int)
	}
	return t.Value
}

// AmountEther returns the transaction value in whole native units.
func (t *TransactionData) AmountEther() float64 {
	return WeiToEther(t.ValueWei())
}

// WeiToEther converts a wei amount to whole native units.
func WeiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(params.Ether),
	).Float64()
	return f
}

// Decision is the engine's verdict for one snapshot.
type Decision struct {
	ShouldExecute   bool             `json:"should_execute"`
	TransactionData *TransactionData `json:"transaction_data,omitempty"`
}

// Request is the payload sent to the external decision service.
type Request struct {
	Context    RequestContext    `json:"context"`
	Parameters RequestParameters `json:"parameters"`
}

// RequestContext carries the chain snapshot and historical evidence.
type RequestContext struct {
	Timestamp          string           `json:"timestamp"`
	Chain              string           `json:"chain"`
	BlockNumber        uint64           `json:"block_number"`
	MarketData         MarketData       `json:"market_data"`
	HistoricalPatterns []map[string]any `json:"historical_patterns"`
	UserPreferences    map[string]any   `json:"user_preferences,omitempty"`
}

// MarketData is the price and yield slice of a snapshot.
type MarketData struct {
	Price  float64            `json:"price"`
	Yields map[string]float64 `json:"yields"`
}

// RequestParameters are the resolved risk thresholds for this decision.
type RequestParameters struct {
	MaxSlippage           float64  `json:"max_slippage"`
	MinLiquidity          float64  `json:"min_liquidity"`
	MaxGasMultiplier      float64  `json:"max_gas_multiplier"`
	MinProfitThreshold    float64  `json:"min_profit_threshold"`
	MaxExposurePercentage float64  `json:"max_exposure_percentage"`
	CurrentGasPrice       *big.Int `json:"current_gas_price"`
}

// Response is the decision service's verdict.
type Response struct {
	Type            string           `json:"type"`
	Confidence      float64          `json:"confidence"`
	Reasoning       string           `json:"reasoning"`
	ShouldExecute   bool             `json:"should_execute"`
	TransactionData *TransactionData `json:"transaction_data,omitempty"`
}

// DefaultRiskParameters is the fallback set used for proposing when no
// operator-configured policy is readable. Validation never uses these.
func DefaultRiskParameters() map[string]float64 {
	return map[string]float64{
		"max_slippage":            1.0,
		"min_liquidity":           100000,
		"max_gas_multiplier":      1.5,
		"min_profit_threshold":    0.5,
		"max_exposure_percentage": 20.0,
	}
}
