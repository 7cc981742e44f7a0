package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RiskParameter is an operator-tunable policy bound gating execution.
type RiskParameter struct {
	ParameterType string  `json:"parameter_type"`
	Value         float64 `json:"value"`
	MinValue      float64 `json:"min_value"`
	MaxValue      float64 `json:"max_value"`
	DefaultValue  float64 `json:"default_value"`
	Description   string  `json:"description"`
	Active        bool    `json:"active"`
}

// ErrParameterNotFound reports an unknown parameter type.
var ErrParameterNotFound = errors.New("risk parameter not found")

// ErrValueOutOfBounds reports a value outside the parameter's min/max range.
var ErrValueOutOfBounds = errors.New("value out of bounds")

// ActiveRiskParameters returns the live values of all active parameters
// keyed by parameter type.
func (s *Store) ActiveRiskParameters(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT parameter_type, value FROM risk_parameters WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("query risk parameters: %w", err)
	}
	defer rows.Close()

	params := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan risk parameter: %w", err)
		}
		params[name] = value
	}
	return params, rows.Err()
}

// ListRiskParameters returns all parameters including inactive ones.
func (s *Store) ListRiskParameters(ctx context.Context) ([]*RiskParameter, error) {
	rows, err := s.db.Query(ctx, `
		SELECT parameter_type, value, min_value, max_value, default_value, COALESCE(description,''), active
		FROM risk_parameters ORDER BY parameter_type`)
	if err != nil {
		return nil, fmt.Errorf("list risk parameters: %w", err)
	}
	defer rows.Close()

	var params []*RiskParameter
	for rows.Next() {
		var p RiskParameter
		if err := rows.Scan(&p.ParameterType, &p.Value, &p.MinValue, &p.MaxValue,
			&p.DefaultValue, &p.Description, &p.Active); err != nil {
			return nil, fmt.Errorf("scan risk parameter: %w", err)
		}
		params = append(params, &p)
	}
	return params, rows.Err()
}

// UpdateRiskParameter sets a parameter's value after checking its bounds.
// Only explicit operator action goes through here; the pipeline never writes.
func (s *Store) UpdateRiskParameter(ctx context.Context, paramType string, value float64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var minV, maxV float64
	row := tx.QueryRow(ctx,
		`SELECT min_value, max_value FROM risk_parameters WHERE parameter_type = $1 FOR UPDATE`,
		paramType)
	err = row.Scan(&minV, &maxV)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", paramType, ErrParameterNotFound)
	}
	if err != nil {
		return fmt.Errorf("load parameter %s: %w", paramType, err)
	}
	if value < minV || value > maxV {
		return fmt.Errorf("%s: %.4f outside [%.4f, %.4f]: %w",
			paramType, value, minV, maxV, ErrValueOutOfBounds)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE risk_parameters SET value = $2 WHERE parameter_type = $1`,
		paramType, value); err != nil {
		return fmt.Errorf("update %s: %w", paramType, err)
	}
	return tx.Commit(ctx)
}

// EnsureDefaultRiskParameters seeds the default policy set idempotently.
func (s *Store) EnsureDefaultRiskParameters(ctx context.Context) error {
	defaults := []RiskParameter{
		{
			ParameterType: "max_slippage",
			Value:         1.0, MinValue: 0.1, MaxValue: 5.0, DefaultValue: 1.0,
			Description: "Maximum allowed slippage percentage for trades",
		},
		{
			ParameterType: "min_liquidity",
			Value:         100000, MinValue: 10000, MaxValue: 1000000, DefaultValue: 100000,
			Description: "Minimum liquidity required in pool for trade execution",
		},
		{
			ParameterType: "max_gas_multiplier",
			Value:         1.5, MinValue: 1.0, MaxValue: 3.0, DefaultValue: 1.5,
			Description: "Maximum multiplier over the network gas price",
		},
		{
			ParameterType: "min_profit_threshold",
			Value:         0.5, MinValue: 0.1, MaxValue: 5.0, DefaultValue: 0.5,
			Description: "Minimum profit percentage required for trade execution",
		},
		{
			ParameterType: "max_exposure_percentage",
			Value:         20.0, MinValue: 1.0, MaxValue: 100.0, DefaultValue: 20.0,
			Description: "Maximum percentage of portfolio to risk in a single trade",
		},
	}

	for _, p := range defaults {
		_, err := s.db.Exec(ctx, `
			INSERT INTO risk_parameters (parameter_type, value, min_value, max_value, default_value, description, active)
			VALUES ($1, $2, $3, $4, $5, $6, true)
			ON CONFLICT (parameter_type) DO NOTHING`,
			p.ParameterType, p.Value, p.MinValue, p.MaxValue, p.DefaultValue, p.Description,
		)
		if err != nil {
			return fmt.Errorf("seed risk parameter %s: %w", p.ParameterType, err)
		}
	}
	return nil
}
