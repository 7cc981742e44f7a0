package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Service is the external reasoning oracle. Implementations must treat
// any schema violation as an error, not a partial result.
type Service interface {
	Decide(ctx context.Context, req *Request) (*Response, error)
}

// ServiceConfig holds decision service connection settings.
type ServiceConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPService calls a decision API over a synchronous JSON POST.
type HTTPService struct {
	config ServiceConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPService creates a decision service client.
func NewHTTPService(cfg ServiceConfig, logger *zap.Logger) *HTTPService {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPService{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Decide sends one decision request.
func (s *HTTPService) Decide(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("decision service error %d: %s", resp.StatusCode, string(respBody))
	}

	var dr Response
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := validateResponse(&dr); err != nil {
		return nil, err
	}
	return &dr, nil
}

// validateResponse enforces the oracle's schema.
func validateResponse(r *Response) error {
	if r.Type == "" {
		return fmt.Errorf("decision response missing type")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("decision confidence %.4f outside [0, 1]", r.Confidence)
	}
	if r.ShouldExecute && r.TransactionData == nil {
		return fmt.Errorf("decision says execute but has no transaction data")
	}
	return nil
}
