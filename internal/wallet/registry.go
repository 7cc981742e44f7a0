package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/chainmind/internal/chain"
	"go.uber.org/zap"
)

// ErrNotConfigured reports that no wallet exists for a chain. Distinct
// from decrypt failures, which mean the stored key material is unreadable.
var ErrNotConfigured = errors.New("no wallet configured for chain")

// RPCSource resolves the RPC client for a chain.
type RPCSource interface {
	For(ctx context.Context, chainID int64) (chain.RPC, error)
}

// Registry owns per-chain keypairs. It is the only component allowed to
// decrypt private-key material, and plaintext keys never outlive the
// single call that needs them.
type Registry struct {
	db     *pgxpool.Pool
	rpc    RPCSource
	key    []byte
	logger *zap.Logger
}

// NewRegistry creates a wallet registry. The encryption key must be the
// validated 32-byte secret from KeyFromEnv.
func NewRegistry(db *pgxpool.Pool, rpc RPCSource, key []byte, logger *zap.Logger) (*Registry, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Registry{db: db, rpc: rpc, key: key, logger: logger}, nil
}

// Ensure returns the wallet address for a chain, creating and persisting
// a new keypair if none exists. Idempotent.
func (r *Registry) Ensure(ctx context.Context, chainID int64) (common.Address, error) {
	addr, err := r.address(ctx, chainID)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, ErrNotConfigured) {
		return common.Address{}, err
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate keypair: %w", err)
	}
	addr = crypto.PubkeyToAddress(priv.PublicKey)

	encKey, err := encrypt(r.key, crypto.FromECDSA(priv))
	if err != nil {
		return common.Address{}, fmt.Errorf("encrypt private key: %w", err)
	}

	// Concurrent creators race on the unique chain_id; the loser keeps
	// the winner's wallet.
	tag, err := r.db.Exec(ctx, `
		INSERT INTO wallet_configs (chain_id, address, encrypted_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain_id) DO NOTHING`,
		chainID, addr.Hex(), encKey,
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("persist wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.address(ctx, chainID)
	}

	r.logger.Info("wallet created",
		zap.Int64("chain_id", chainID),
		zap.String("address", addr.Hex()))
	return addr, nil
}

// Address returns the registered address for a chain.
func (r *Registry) Address(ctx context.Context, chainID int64) (common.Address, error) {
	return r.address(ctx, chainID)
}

func (r *Registry) address(ctx context.Context, chainID int64) (common.Address, error) {
	var hexAddr string
	row := r.db.QueryRow(ctx,
		`SELECT address FROM wallet_configs WHERE chain_id = $1`, chainID)
	err := row.Scan(&hexAddr)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.Address{}, fmt.Errorf("chain %d: %w", chainID, ErrNotConfigured)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("load wallet for chain %d: %w", chainID, err)
	}
	return common.HexToAddress(hexAddr), nil
}

// SigningKey decrypts the stored private key on demand. A decrypt failure
// surfaces as an error, never as a missing wallet.
func (r *Registry) SigningKey(ctx context.Context, chainID int64) (*ecdsa.PrivateKey, error) {
	var encKey []byte
	row := r.db.QueryRow(ctx,
		`SELECT encrypted_key FROM wallet_configs WHERE chain_id = $1`, chainID)
	err := row.Scan(&encKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chain %d: %w", chainID, ErrNotConfigured)
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet for chain %d: %w", chainID, err)
	}

	raw, err := decrypt(r.key, encKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet key for chain %d: %w", chainID, err)
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse wallet key for chain %d: %w", chainID, err)
	}
	return priv, nil
}

// Balance reads the on-chain native balance of the registered address.
// Returns zero, not an error, when no wallet exists.
func (r *Registry) Balance(ctx context.Context, chainID int64) (*big.Int, error) {
	addr, err := r.address(ctx, chainID)
	if errors.Is(err, ErrNotConfigured) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}

	rpc, err := r.rpc.For(ctx, chainID)
	if err != nil {
		return nil, err
	}
	bal, err := rpc.BalanceAt(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("balance for chain %d: %w", chainID, err)
	}
	return bal, nil
}

// SignTx signs a transaction with the chain's wallet key using EIP-155.
func (r *Registry) SignTx(ctx context.Context, chainID int64, tx *types.Transaction, networkID *big.Int) (*types.Transaction, error) {
	priv, err := r.SigningKey(ctx, chainID)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(networkID), priv)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}
