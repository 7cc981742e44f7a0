package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/chainmind/internal/decision"
	"github.com/nidhogg/chainmind/internal/memory"
	"github.com/nidhogg/chainmind/internal/orchestrator"
	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

// DataStore is the persistence surface the API reads and tunes.
type DataStore interface {
	ListActiveChains(ctx context.Context) ([]*store.Chain, error)
	RecentTransactions(ctx context.Context, limit int) ([]*store.TransactionRecord, error)
	RecentDecisions(ctx context.Context, limit int) ([]*store.DecisionRecord, error)
	ListRiskParameters(ctx context.Context) ([]*store.RiskParameter, error)
	UpdateRiskParameter(ctx context.Context, paramType string, value float64) error
	SetChainActive(ctx context.Context, id int64, active bool) error
}

// WalletSource exposes read-only wallet state.
type WalletSource interface {
	Address(ctx context.Context, chainID int64) (common.Address, error)
	Balance(ctx context.Context, chainID int64) (*big.Int, error)
}

// MemorySource reads stored memories.
type MemorySource interface {
	List(ctx context.Context, memType string, limit int) ([]*memory.Record, error)
	Get(ctx context.Context, memType, key string) (map[string]any, error)
}

// CycleRunner triggers cycles on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) []*orchestrator.ChainResult
	Running() bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db       DataStore
	wallets  WalletSource
	memories MemorySource
	cycles   CycleRunner
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(db DataStore, wallets WalletSource, memories MemorySource, cycles CycleRunner, logger *zap.Logger) *Handler {
	return &Handler{db: db, wallets: wallets, memories: memories, cycles: cycles, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/chains", h.listChains)
		r.Put("/chains/{chainID}/active", h.setChainActive)
		r.Get("/wallet/balance/{chainID}", h.walletBalance)
		r.Get("/transactions/recent", h.recentTransactions)
		r.Get("/decisions/recent", h.recentDecisions)
		r.Get("/risk/parameters", h.listRiskParameters)
		r.Put("/risk/parameters/{type}", h.updateRiskParameter)
		r.Get("/memory/{type}", h.listMemories)
		r.Get("/memory/{type}/{key}", h.getMemory)
		r.Post("/cycle/run", h.runCycle)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"cycle_running": h.cycles.Running(),
	})
}

func (h *Handler) listChains(w http.ResponseWriter, r *http.Request) {
	chains, err := h.db.ListActiveChains(r.Context())
	if err != nil {
		h.internalError(w, "list chains", err)
		return
	}
	writeJSON(w, http.StatusOK, chains)
}

func (h *Handler) walletBalance(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chain id")
		return
	}

	balance, err := h.wallets.Balance(r.Context(), chainID)
	if errors.Is(err, store.ErrChainNotFound) {
		writeError(w, http.StatusNotFound, "unknown chain")
		return
	}
	if err != nil {
		h.internalError(w, "read balance", err)
		return
	}

	resp := map[string]any{
		"chain_id": chainID,
		"balance":  decision.WeiToEther(balance),
		"wei":      balance.String(),
	}
	if addr, err := h.wallets.Address(r.Context(), chainID); err == nil {
		resp["address"] = addr.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) setChainActive(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chain id")
		return
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.db.SetChainActive(r.Context(), chainID, body.Active)
	switch {
	case errors.Is(err, store.ErrChainNotFound):
		writeError(w, http.StatusNotFound, "unknown chain")
	case err != nil:
		h.internalError(w, "set chain active", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"chain_id": chainID,
			"active":   body.Active,
		})
	}
}

func (h *Handler) recentTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.db.RecentTransactions(r.Context(), queryLimit(r))
	if err != nil {
		h.internalError(w, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) recentDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := h.db.RecentDecisions(r.Context(), queryLimit(r))
	if err != nil {
		h.internalError(w, "list decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (h *Handler) listRiskParameters(w http.ResponseWriter, r *http.Request) {
	params, err := h.db.ListRiskParameters(r.Context())
	if err != nil {
		h.internalError(w, "list risk parameters", err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (h *Handler) updateRiskParameter(w http.ResponseWriter, r *http.Request) {
	paramType := chi.URLParam(r, "type")

	var body struct {
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.db.UpdateRiskParameter(r.Context(), paramType, body.Value)
	switch {
	case errors.Is(err, store.ErrParameterNotFound):
		writeError(w, http.StatusNotFound, "unknown risk parameter")
	case errors.Is(err, store.ErrValueOutOfBounds):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.internalError(w, "update risk parameter", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"parameter_type": paramType,
			"value":          body.Value,
		})
	}
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	records, err := h.memories.List(r.Context(), chi.URLParam(r, "type"), queryLimit(r))
	if err != nil {
		h.internalError(w, "list memories", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	value, err := h.memories.Get(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "key"))
	if err != nil {
		h.internalError(w, "get memory", err)
		return
	}
	if value == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (h *Handler) runCycle(w http.ResponseWriter, r *http.Request) {
	if h.cycles.Running() {
		writeError(w, http.StatusConflict, "a cycle is already running")
		return
	}

	results := h.cycles.RunCycle(r.Context())
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		entry := map[string]any{
			"chain":    res.Chain.Name,
			"executed": res.Executed,
		}
		if res.TxHash != "" {
			entry["tx_hash"] = res.TxHash
		}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// internalError logs the cause and returns a generic message, never
// leaking internals to clients.
func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("api error", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 10
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
