package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level = "info"
reconciliation_interval_ms = 5000
watchdog_timeout_ms = 10000
control_plane_addr = "127.0.0.1:8090"

[[exchanges]]
exchange_id = "paper"
credentials_path = "creds.toml"
enabled_markets = ["BTC_USDT"]

[[strategies]]
name = "pmm-1"
kind = "pmm"
exchange_id = "paper"
market = "BTC_USDT"
bucket = "desk-a"
tick_ms = 500
spread_bps = 10
order_amount = "0.01"

[[bucket_allocations]]
bucket = "desk-a"
exchange_id = "paper"
currency = "USDT"
allocated = "1000"
`

func TestLoadParsesValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mmb.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Len(t, cfg.Exchanges, 1)
	assert.Equal(t, "paper", cfg.Exchanges[0].ExchangeId)
	assert.Len(t, cfg.Strategies, 1)
	assert.Equal(t, int64(500), cfg.Strategies[0].TickMs)
}

func TestValidateRejectsBucketReferencingUnknownExchange(t *testing.T) {
	cfg := &Config{
		Exchanges:         []ExchangeAccount{{ExchangeId: "paper"}},
		BucketAllocations: []BucketAllocation{{Bucket: "desk-a", ExchangeId: "binance", Currency: "USDT", Allocated: "100"}},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsNoExchanges(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsStrategyWithoutBucket(t *testing.T) {
	cfg := &Config{
		Exchanges:  []ExchangeAccount{{ExchangeId: "paper"}},
		Strategies: []StrategyConfig{{Name: "pmm-1", ExchangeId: "paper", TickMs: 500}},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsStrategyWithUnknownExchange(t *testing.T) {
	cfg := &Config{
		Exchanges:  []ExchangeAccount{{ExchangeId: "paper"}},
		Strategies: []StrategyConfig{{Name: "pmm-1", Bucket: "desk-a", TickMs: 500, ExchangeId: "binance"}},
	}
	assert.Error(t, cfg.Validate())
}

func TestWatcherSignalsRebootOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mmb.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	updated := sampleConfig + "\n# touch\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-w.RebootChan():
		assert.Equal(t, "info", cfg.LogLevel)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reboot signal after config file change")
	}
}
