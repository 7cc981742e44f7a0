package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/chainmind/internal/chain"
	"github.com/nidhogg/chainmind/internal/config"
	"github.com/nidhogg/chainmind/internal/decision"
	"github.com/nidhogg/chainmind/internal/store"
	"github.com/nidhogg/chainmind/internal/wallet"
	"go.uber.org/zap"
)

// walletctl is the operator tool for wallet bootstrap and inspection. It
// talks to the database directly, so it works while the agent is down.
func main() {
	cfgPath := flag.String("config", "configs/chainmind.json", "config file path")
	chainID := flag.Int64("chain", 0, "chain ID to operate on (0 = all active chains)")
	ensure := flag.Bool("ensure", false, "create wallets where missing")
	flag.Parse()

	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	encKey, err := wallet.KeyFromEnv()
	if err != nil {
		fatal("wallet encryption key unavailable: %v", err)
	}

	db, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		fatal("connect database: %v", err)
	}
	defer db.Close()

	rpcPool := chain.NewPool(db, logger)
	wallets, err := wallet.NewRegistry(db.Pool(), rpcPool, encKey, logger)
	if err != nil {
		fatal("initialize wallet registry: %v", err)
	}

	ctx := context.Background()
	chains, err := targetChains(ctx, db, *chainID)
	if err != nil {
		fatal("%v", err)
	}

	for _, ch := range chains {
		if *ensure {
			addr, err := wallets.Ensure(ctx, ch.ID)
			if err != nil {
				fatal("ensure wallet for %s: %v", ch.Name, err)
			}
			fmt.Printf("%-20s wallet %s\n", ch.Name, addr.Hex())
			continue
		}

		addr, err := wallets.Address(ctx, ch.ID)
		if err != nil {
			fmt.Printf("%-20s no wallet configured\n", ch.Name)
			continue
		}
		line := fmt.Sprintf("%-20s %s", ch.Name, addr.Hex())
		if bal, err := wallets.Balance(ctx, ch.ID); err == nil {
			line += fmt.Sprintf("  %.6f %s", decision.WeiToEther(bal), ch.Symbol)
		}
		fmt.Println(line)
	}
}

func targetChains(ctx context.Context, db *store.Store, chainID int64) ([]*store.Chain, error) {
	if chainID == 0 {
		chains, err := db.ListActiveChains(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active chains: %w", err)
		}
		return chains, nil
	}
	ch, err := db.GetChain(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("load chain %d: %w", chainID, err)
	}
	return []*store.Chain{ch}, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "walletctl: "+format+"\n", args...)
	os.Exit(1)
}
