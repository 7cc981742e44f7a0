package decision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func serviceFor(t *testing.T, handler http.HandlerFunc) (*HTTPService, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	svc := NewHTTPService(ServiceConfig{
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Timeout:  time.Second,
	}, zap.NewNop())
	return svc, srv.Close
}

func minimalRequest() *Request {
	return &Request{
		Context: RequestContext{
			Timestamp: time.Now().Format(time.RFC3339),
			Chain:     "avalanche",
		},
	}
}

func TestHTTPServiceDecide(t *testing.T) {
	svc, closeFn := serviceFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Context.Chain != "avalanche" {
			t.Errorf("chain = %q", req.Context.Chain)
		}
		json.NewEncoder(w).Encode(Response{
			Type:       "hold",
			Confidence: 0.8,
			Reasoning:  "gas too high",
		})
	})
	defer closeFn()

	resp, err := svc.Decide(context.Background(), minimalRequest())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if resp.Type != "hold" || resp.Confidence != 0.8 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHTTPServiceNon200(t *testing.T) {
	svc, closeFn := serviceFor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	defer closeFn()

	if _, err := svc.Decide(context.Background(), minimalRequest()); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestHTTPServiceSchemaViolations(t *testing.T) {
	cases := map[string]Response{
		"missing_type":         {Confidence: 0.5},
		"confidence_too_high":  {Type: "hold", Confidence: 1.2},
		"confidence_negative":  {Type: "hold", Confidence: -0.1},
		"execute_without_data": {Type: TxTypeSwap, Confidence: 0.9, ShouldExecute: true},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			svc, closeFn := serviceFor(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(resp)
			})
			defer closeFn()

			if _, err := svc.Decide(context.Background(), minimalRequest()); err == nil {
				t.Fatal("expected schema violation error")
			}
		})
	}
}

func TestHTTPServiceTimeout(t *testing.T) {
	block := make(chan struct{})
	svc, closeFn := serviceFor(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer closeFn()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Decide(ctx, minimalRequest()); err == nil {
		t.Fatal("expected timeout error")
	}
}
