package db

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestConnectPostgres_BadDSN(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), "postgres://user:pw@localhost:notaport/db")
	if err == nil || !strings.Contains(err.Error(), "parse postgres dsn") {
		t.Fatalf("err = %v, want a parse error", err)
	}
}

func TestConnectPostgres_PoolSettings(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	pool, err := ConnectPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("ConnectPostgres error: %v", err)
	}
	defer pool.Close()

	cfg := pool.Config()
	if cfg.MaxConns != 4 || cfg.MinConns != 1 {
		t.Fatalf("pool = max %d min %d, want max 4 min 1", cfg.MaxConns, cfg.MinConns)
	}
	if strings.Contains(dsn, "application_name") {
		return
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != applicationName {
		t.Fatalf("application_name = %q, want %q", got, applicationName)
	}
}
