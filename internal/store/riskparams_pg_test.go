//go:build e2e

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testStore *Store
	testDSN   string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("chainmind_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	dsn, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	testDSN = dsn

	testStore, err = New(dsn, logger)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "pg store: %v\n", err)
		os.Exit(1)
	}
	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		testStore.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	if err := testStore.EnsureDefaultRiskParameters(ctx); err != nil {
		testStore.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "seed risk parameters: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	testStore.Close()
	cleanup()
	os.Exit(code)
}

func TestUpdateRiskParameterPersists(t *testing.T) {
	ctx := context.Background()

	if err := testStore.UpdateRiskParameter(ctx, "max_slippage", 2.0); err != nil {
		t.Fatalf("update: %v", err)
	}
	t.Cleanup(func() {
		testStore.UpdateRiskParameter(ctx, "max_slippage", 1.0)
	})

	params, err := testStore.ActiveRiskParameters(ctx)
	if err != nil {
		t.Fatalf("read parameters: %v", err)
	}
	if params["max_slippage"] != 2.0 {
		t.Errorf("max_slippage = %v, want 2.0", params["max_slippage"])
	}
}

func TestUpdateRiskParameterUnknownType(t *testing.T) {
	err := testStore.UpdateRiskParameter(context.Background(), "no_such_parameter", 1.0)
	if !errors.Is(err, ErrParameterNotFound) {
		t.Fatalf("expected ErrParameterNotFound, got %v", err)
	}
}

func TestUpdateRiskParameterOutOfBounds(t *testing.T) {
	ctx := context.Background()

	// max_slippage is bounded to [0.1, 5.0].
	for _, value := range []float64{0.05, 9.0} {
		err := testStore.UpdateRiskParameter(ctx, "max_slippage", value)
		if !errors.Is(err, ErrValueOutOfBounds) {
			t.Fatalf("value %v: expected ErrValueOutOfBounds, got %v", value, err)
		}
	}

	params, err := testStore.ActiveRiskParameters(ctx)
	if err != nil {
		t.Fatalf("read parameters: %v", err)
	}
	if params["max_slippage"] != 1.0 {
		t.Errorf("rejected update must not change the value, got %v", params["max_slippage"])
	}
}

func TestUpdateRiskParameterInfraFailureIsNotNotFound(t *testing.T) {
	// A broken connection must surface as a plain error, never as the
	// unknown-parameter verdict callers map to 404.
	broken, err := New(testDSN, zap.NewNop())
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	broken.Close()

	err = broken.UpdateRiskParameter(context.Background(), "max_slippage", 1.0)
	if err == nil {
		t.Fatal("expected error on closed pool")
	}
	if errors.Is(err, ErrParameterNotFound) {
		t.Fatalf("infrastructure failure reported as parameter-not-found: %v", err)
	}
}
