package executor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/nidhogg/chainmind/internal/chain"
	"github.com/nidhogg/chainmind/internal/decision"
	"github.com/nidhogg/chainmind/internal/memory"
	"github.com/nidhogg/chainmind/internal/risk"
	"github.com/nidhogg/chainmind/internal/store"
	"go.uber.org/zap"
)

// defaultGasLimit is used when gas estimation fails.
const defaultGasLimit = 21000

// TxValidator approves or rejects a proposed transaction.
type TxValidator interface {
	Validate(ctx context.Context, tx *decision.TransactionData, ch *store.Chain) error
}

// Signer is the wallet registry surface the executor needs.
type Signer interface {
	Address(ctx context.Context, chainID int64) (common.Address, error)
	SignTx(ctx context.Context, chainID int64, tx *types.Transaction, networkID *big.Int) (*types.Transaction, error)
}

// RPCSource resolves the RPC client for a chain.
type RPCSource interface {
	For(ctx context.Context, chainID int64) (chain.RPC, error)
}

// Recorder appends transaction records. The executor is their sole writer.
type Recorder interface {
	RecordTransaction(ctx context.Context, tx *store.TransactionRecord) error
}

// Reinforcer feeds outcomes back into pattern confidence.
type Reinforcer interface {
	Reinforce(ctx context.Context, memType, key string, success bool) error
}

// Config tunes receipt confirmation.
type Config struct {
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
}

// Executor signs, submits, and confirms approved transactions, recording
// every outcome and reinforcing pattern confidence. Errors never
// propagate past Execute as panics; callers get an empty hash and the
// cause.
type Executor struct {
	validator TxValidator
	wallets   Signer
	rpc       RPCSource
	records   Recorder
	patterns  Reinforcer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a transaction executor.
func New(validator TxValidator, wallets Signer, rpc RPCSource, records Recorder, patterns Reinforcer, cfg Config, logger *zap.Logger) *Executor {
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.ReceiptPollInterval == 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	return &Executor{
		validator: validator,
		wallets:   wallets,
		rpc:       rpc,
		records:   records,
		patterns:  patterns,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute validates and submits one transaction on a chain. Validation
// always re-runs here: risk parameters may change between a caller's
// check and submission. A rejection reinforces the pattern negatively
// but records no transaction row; a signing/submission/confirmation
// failure records a failed row with a synthetic unique hash.
func (e *Executor) Execute(ctx context.Context, tx *decision.TransactionData, ch *store.Chain) (string, error) {
	if tx == nil {
		return "", &risk.Rejection{Rule: "missing_transaction", Message: "no transaction data provided"}
	}
	patternKey := decision.PatternKey(tx.Type, e.now())

	if err := e.validator.Validate(ctx, tx, ch); err != nil {
		var rej *risk.Rejection
		if errors.As(err, &rej) {
			e.logger.Warn("transaction rejected",
				zap.String("chain", ch.Name),
				zap.String("rule", rej.Rule),
				zap.String("reason", rej.Message))
		} else {
			e.logger.Error("validation failed", zap.String("chain", ch.Name), zap.Error(err))
		}
		e.reinforce(ctx, patternKey, false)
		return "", err
	}

	hash, gasUsed, err := e.submit(ctx, tx, ch)
	if err != nil {
		e.recordFailure(ctx, tx, ch, err)
		e.reinforce(ctx, patternKey, false)
		return "", err
	}

	e.recordSuccess(ctx, tx, ch, hash, gasUsed)
	e.reinforce(ctx, patternKey, true)

	e.logger.Info("transaction confirmed",
		zap.String("chain", ch.Name),
		zap.String("hash", hash),
		zap.Float64("gas_used", gasUsed))
	return hash, nil
}

// submit builds, signs, broadcasts, and confirms the transaction.
func (e *Executor) submit(ctx context.Context, tx *decision.TransactionData, ch *store.Chain) (string, float64, error) {
	if !common.IsHexAddress(tx.To) {
		return "", 0, fmt.Errorf("invalid recipient address %q", tx.To)
	}
	to := common.HexToAddress(tx.To)

	calldata, err := decodeCalldata(tx.Data)
	if err != nil {
		return "", 0, err
	}

	rpc, err := e.rpc.For(ctx, ch.ID)
	if err != nil {
		return "", 0, err
	}
	from, err := e.wallets.Address(ctx, ch.ID)
	if err != nil {
		return "", 0, err
	}

	// Pending nonce so back-to-back cycles see each other's submissions.
	nonce, err := rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return "", 0, fmt.Errorf("read nonce: %w", err)
	}

	gasPrice := tx.GasPrice
	if gasPrice == nil {
		gasPrice, err = rpc.SuggestGasPrice(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("read gas price: %w", err)
		}
	}

	gasLimit, err := rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: tx.ValueWei(),
		Data:  calldata,
	})
	if err != nil {
		gasLimit = defaultGasLimit
	}

	unsigned := types.NewTransaction(nonce, to, tx.ValueWei(), gasLimit, gasPrice, calldata)
	signed, err := e.wallets.SignTx(ctx, ch.ID, unsigned, big.NewInt(ch.NetworkID))
	if err != nil {
		return "", 0, err
	}

	if err := rpc.SendTransaction(ctx, signed); err != nil {
		return "", 0, fmt.Errorf("broadcast: %w", err)
	}

	receipt, err := e.waitReceipt(ctx, rpc, signed.Hash())
	if err != nil {
		return "", 0, err
	}
	return signed.Hash().Hex(), float64(receipt.GasUsed), nil
}

// waitReceipt polls for the transaction receipt until the configured
// timeout. The poll loop holds no locks or shared state.
func (e *Executor) waitReceipt(ctx context.Context, rpc chain.RPC, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := rpc.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("confirm %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Executor) recordSuccess(ctx context.Context, tx *decision.TransactionData, ch *store.Chain, hash string, gasUsed float64) {
	if err := e.records.RecordTransaction(ctx, &store.TransactionRecord{
		Hash:    hash,
		Type:    tx.Type,
		Amount:  tx.AmountEther(),
		Status:  store.TxStatusSuccess,
		GasUsed: &gasUsed,
		Details: txDetails(tx, nil),
		ChainID: ch.ID,
	}); err != nil {
		e.logger.Error("failed to record transaction", zap.String("hash", hash), zap.Error(err))
	}
}

func (e *Executor) recordFailure(ctx context.Context, tx *decision.TransactionData, ch *store.Chain, cause error) {
	// Synthetic hash; a UUID keeps the identity column unique even under
	// concurrent failures.
	hash := "failed_" + uuid.NewString()
	if err := e.records.RecordTransaction(ctx, &store.TransactionRecord{
		Hash:    hash,
		Type:    tx.Type,
		Amount:  tx.AmountEther(),
		Status:  store.TxStatusFailed,
		Details: txDetails(tx, cause),
		ChainID: ch.ID,
	}); err != nil {
		e.logger.Error("failed to record failed transaction", zap.Error(err))
	}
	e.logger.Warn("transaction failed",
		zap.String("chain", ch.Name),
		zap.String("record", hash),
		zap.Error(cause))
}

func (e *Executor) reinforce(ctx context.Context, patternKey string, success bool) {
	if err := e.patterns.Reinforce(ctx, memory.TypeTransactionPattern, patternKey, success); err != nil {
		e.logger.Error("pattern reinforcement failed",
			zap.String("key", patternKey),
			zap.Error(err))
	}
}

// txDetails renders the transaction payload (and failure cause) into the
// record's detail map.
func txDetails(tx *decision.TransactionData, cause error) map[string]any {
	details := make(map[string]any)
	if data, err := json.Marshal(tx); err == nil {
		_ = json.Unmarshal(data, &details)
	}
	if cause != nil {
		details["error"] = cause.Error()
	}
	return details
}

// decodeCalldata parses optional 0x-prefixed hex calldata.
func decodeCalldata(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode calldata: %w", err)
	}
	return raw, nil
}
