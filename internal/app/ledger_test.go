package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gw-ledger/internal/clock"
	"gw-ledger/internal/config"
)

const accountsJSON = `[
	{"id": "root", "name": "Root", "is_admin": true},
	{"id": "alice", "name": "Alice"},
	{"id": "bob", "name": "Bob"}
]`

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(accountsJSON), 0o644))

	return &config.Config{
		StorageDriver: driver,
		WALDir:        filepath.Join(dir, "wal"),
		DirectoryFile: path,
		Ledger: config.LedgerConfig{
			Currency:  "USD",
			AdminSeed: decimal.NewFromInt(10000),
		},
		Fraud: config.FraudConfig{
			LargeAmount:          decimal.NewFromInt(1000),
			VelocityWindow:       5 * time.Minute,
			VelocityThreshold:    3,
			RescanInterval:       time.Hour,
			UnusualMinRepeats:    3,
			UnusualMinAmount:     decimal.NewFromInt(50),
			UnusualRoundMultiple: decimal.NewFromInt(100),
		},
		Notify: config.NotifyConfig{Workers: 1, QueueSize: 10},
	}
}

func buildLedgerApp(t *testing.T, cfg *config.Config) *LedgerApp {
	t.Helper()

	a := &LedgerApp{
		log:   slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		cfg:   cfg,
		clock: clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
	}

	ctx := context.Background()
	require.NoError(t, a.BuildStorageLayer(ctx))
	require.NoError(t, a.BuildNotifyLayer())
	require.NoError(t, a.BuildLedgerLayer())
	require.NoError(t, a.SeedAdminWallet(ctx))
	return a
}

func TestLedgerApp_MemoryDriver(t *testing.T) {
	a := buildLedgerApp(t, testConfig(t, config.DriverMemory))
	defer a.Shutdown()
	ctx := context.Background()

	balance, err := a.Ledger().GetBalance(ctx, "root")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10000).Equal(balance.Amount))

	_, err = a.Ledger().Transfer(ctx, "root", "alice", decimal.NewFromInt(25), "")
	require.NoError(t, err)

	all, err := a.Ledger().AllTransactions(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLedgerApp_WALDriverSurvivesRestart(t *testing.T) {
	cfg := testConfig(t, config.DriverWAL)
	ctx := context.Background()

	first := buildLedgerApp(t, cfg)
	_, err := first.Ledger().Transfer(ctx, "root", "bob", decimal.RequireFromString("12.34"), "")
	require.NoError(t, err)
	first.Shutdown()

	second := buildLedgerApp(t, cfg)
	defer second.Shutdown()

	root, err := second.Ledger().GetBalance(ctx, "root")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9987.66").Equal(root.Amount))

	bob, err := second.Ledger().GetHistory(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "root", bob[0].CounterpartyAccountID)
}

func TestLedgerApp_ExplicitAdminAccount(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	cfg.Ledger.AdminAccountID = "alice"

	a := buildLedgerApp(t, cfg)
	defer a.Shutdown()

	balance, err := a.Ledger().GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10000).Equal(balance.Amount))
}

func TestLedgerApp_MissingDirectoryFile(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	cfg.DirectoryFile = filepath.Join(t.TempDir(), "absent.json")

	a := buildLedgerApp(t, cfg)
	defer a.Shutdown()

	_, err := a.Ledger().Deposit(context.Background(), "anyone", decimal.NewFromInt(1), "")
	assert.NoError(t, err)
}

func TestLedgerApp_BuildOrder(t *testing.T) {
	a := &LedgerApp{
		log: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
		cfg: testConfig(t, config.DriverMemory),
	}

	assert.Error(t, a.BuildLedgerLayer())
	assert.Error(t, a.SeedAdminWallet(context.Background()))
	assert.Error(t, a.Run())
}

func TestLedgerApp_KafkaDisabledUsesLogSink(t *testing.T) {
	a := buildLedgerApp(t, testConfig(t, config.DriverMemory))

	assert.Nil(t, a.producer)
	require.NotNil(t, a.dispatcher)

	_, err := a.Ledger().Deposit(context.Background(), "alice", decimal.NewFromInt(5000), "")
	require.NoError(t, err)

	a.Shutdown()
}
