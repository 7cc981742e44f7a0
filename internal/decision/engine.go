package decision

import (
	"context"
	"time"

	"github.com/nidhogg/chainmind/internal/memory"
	"github.com/nidhogg/chainmind/internal/scanner"
	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

// PatternStore is the slice of the memory store the engine needs.
type PatternStore interface {
	List(ctx context.Context, memType string, limit int) ([]*memory.Record, error)
	Put(ctx context.Context, memType, key string, value map[string]any, confidence float64) error
}

// AuditStore persists decision audit records.
type AuditStore interface {
	RecordDecision(ctx context.Context, d *store.DecisionRecord) error
}

// ParamSource reads the live risk parameter values.
type ParamSource interface {
	ActiveRiskParameters(ctx context.Context) (map[string]float64, error)
}

// EngineConfig tunes pattern retrieval.
type EngineConfig struct {
	PatternLimit     int
	PatternThreshold float64
}

// Engine turns a chain snapshot into a decision by consulting the
// external service with historical evidence and the current risk policy.
type Engine struct {
	svc      Service
	memories PatternStore
	params   ParamSource
	audit    AuditStore
	cfg      EngineConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a decision engine.
func NewEngine(svc Service, memories PatternStore, params ParamSource, audit AuditStore, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.PatternLimit <= 0 {
		cfg.PatternLimit = 10
	}
	if cfg.PatternThreshold <= 0 {
		cfg.PatternThreshold = 0.7
	}
	return &Engine{
		svc:      svc,
		memories: memories,
		params:   params,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Decide obtains a verdict for one snapshot. It never fails: any service
// or schema error yields a do-nothing decision.
func (e *Engine) Decide(ctx context.Context, snap *scanner.Snapshot) *Decision {
	req := e.buildRequest(ctx, snap)

	resp, err := e.svc.Decide(ctx, req)
	if err != nil {
		e.logger.Warn("decision service failed",
			zap.String("chain", snap.ChainName),
			zap.Error(err))
		return &Decision{ShouldExecute: false}
	}

	if err := e.audit.RecordDecision(ctx, &store.DecisionRecord{
		DecisionType: resp.Type,
		Confidence:   resp.Confidence,
		Reasoning:    resp.Reasoning,
		ChainID:      snap.ChainID,
	}); err != nil {
		e.logger.Error("failed to record decision", zap.Error(err))
	}

	if resp.ShouldExecute && resp.TransactionData != nil {
		e.seedPattern(ctx, snap, resp)
	}

	e.logger.Info("decision made",
		zap.String("chain", snap.ChainName),
		zap.String("type", resp.Type),
		zap.Float64("confidence", resp.Confidence),
		zap.Bool("execute", resp.ShouldExecute))

	return &Decision{
		ShouldExecute:   resp.ShouldExecute,
		TransactionData: resp.TransactionData,
	}
}

// seedPattern stores the conditions and chosen action so future cycles
// can match against them.
func (e *Engine) seedPattern(ctx context.Context, snap *scanner.Snapshot, resp *Response) {
	value := map[string]any{
		"pattern": map[string]any{
			"type": resp.Type,
			"conditions": map[string]any{
				"block_height": snap.BlockHeight,
				"gas_price":    snap.GasPrice.String(),
				"price_usd":    snap.MarketPriceUSD,
				"yields":       snap.Yields,
			},
			"outcome": resp.TransactionData,
		},
		"success_count": 1,
		"last_success":  e.now().UTC().Format(time.RFC3339),
	}
	key := PatternKey(resp.Type, e.now())
	if err := e.memories.Put(ctx, memory.TypeTransactionPattern, key, value, 1.0); err != nil {
		e.logger.Error("failed to seed pattern memory",
			zap.String("key", key),
			zap.Error(err))
	}
}

// buildRequest assembles the service request: snapshot, successful
// patterns, user preferences, and the live risk policy (defaults when
// the store is empty or unreachable — proposing may default, validation
// never does).
func (e *Engine) buildRequest(ctx context.Context, snap *scanner.Snapshot) *Request {
	params := DefaultRiskParameters()
	if active, err := e.params.ActiveRiskParameters(ctx); err != nil {
		e.logger.Warn("risk parameters unreadable, proposing with defaults", zap.Error(err))
	} else {
		for name, value := range active {
			params[name] = value
		}
	}

	var successful []map[string]any
	patterns, err := e.memories.List(ctx, memory.TypeTransactionPattern, e.cfg.PatternLimit)
	if err != nil {
		e.logger.Warn("pattern retrieval failed", zap.Error(err))
	}
	for _, p := range patterns {
		if p.Confidence > e.cfg.PatternThreshold {
			successful = append(successful, p.Value)
		}
	}

	prefs := make(map[string]any)
	preferences, err := e.memories.List(ctx, memory.TypeUserPreference, e.cfg.PatternLimit)
	if err != nil {
		e.logger.Warn("preference retrieval failed", zap.Error(err))
	}
	for _, p := range preferences {
		prefs[p.Key] = p.Value
	}

	return &Request{
		Context: RequestContext{
			Timestamp:   snap.Timestamp.Format(time.RFC3339),
			Chain:       snap.ChainName,
			BlockNumber: snap.BlockHeight,
			MarketData: MarketData{
				Price:  snap.MarketPriceUSD,
				Yields: snap.Yields,
			},
			HistoricalPatterns: successful,
			UserPreferences:    prefs,
		},
		Parameters: RequestParameters{
			MaxSlippage:           params["max_slippage"],
			MinLiquidity:          params["min_liquidity"],
			MaxGasMultiplier:      params["max_gas_multiplier"],
			MinProfitThreshold:    params["min_profit_threshold"],
			MaxExposurePercentage: params["max_exposure_percentage"],
			CurrentGasPrice:       snap.GasPrice,
		},
	}
}
