package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"energon/pkg/config"
	"energon/pkg/models"
	"energon/pkg/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainIDServer answers eth_chainId with id.
func chainIDServer(t *testing.T, id string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "eth_chainId" {
			resp["result"] = id
		} else {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(urls ...string) config.Config {
	cfg := config.Default()
	cfg.Chain.Name = "Flare"
	cfg.Chain.RPCURLs = urls
	cfg.Contracts = config.ContractsConfig{
		NFT:        "0x1111111111111111111111111111111111111111",
		Token:      "0x2222222222222222222222222222222222222222",
		Controller: "0x3333333333333333333333333333333333333333",
	}
	cfg.Store.Backend = "memory"
	return cfg
}

func decodeReport(t *testing.T, out *bytes.Buffer) models.TestReport {
	t.Helper()
	var report models.TestReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	return report
}

func TestRunTest_InvalidStructure(t *testing.T) {
	cfg := testConfig()
	cfg.Contracts.NFT = "nope"

	var out bytes.Buffer
	code := runTest(context.Background(), cfg, "cfg.json", true, false, &out)
	assert.Equal(t, 1, code)

	report := decodeReport(t, &out)
	assert.False(t, report.ValidStructure)
	assert.Contains(t, report.StructureErrors, "Chain 'Flare' has no RPC URLs.")
	assert.Contains(t, report.StructureErrors, `Contract 'nft' has invalid address "nope".`)
}

func TestRunTest_AdoptsChainID(t *testing.T) {
	srv := chainIDServer(t, "0xe")
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := testConfig(srv.URL)
	require.NoError(t, config.SaveConfig(cfg, path))

	var out bytes.Buffer
	code := runTest(context.Background(), cfg, path, true, false, &out)
	assert.Equal(t, 0, code)

	report := decodeReport(t, &out)
	assert.True(t, report.ValidStructure)
	assert.True(t, report.ConfigUpdated)
	assert.Empty(t, report.SaveError)
	assert.Equal(t, int64(14), report.Chain.ObservedChainID)
	require.Len(t, report.Chain.RPCs, 1)
	assert.Equal(t, "ok", report.Chain.RPCs[0].Status)

	saved, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(14), saved.Chain.ChainID)
}

func TestRunTest_DryRunDoesNotSave(t *testing.T) {
	srv := chainIDServer(t, "0xe")
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := testConfig(srv.URL)
	require.NoError(t, config.SaveConfig(cfg, path))

	var out bytes.Buffer
	code := runTest(context.Background(), cfg, path, false, true, &out)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Dry run enabled: Configuration NOT saved.")

	saved, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Zero(t, saved.Chain.ChainID)
}

func TestRunTest_MismatchAndInconsistent(t *testing.T) {
	a := chainIDServer(t, "0xe")
	b := chainIDServer(t, "0x13")
	cfg := testConfig(a.URL, b.URL)
	cfg.Chain.ChainID = 14

	var out bytes.Buffer
	code := runTest(context.Background(), cfg, "unused.json", false, false, &out)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Mismatch! Expected 14")
	assert.Contains(t, out.String(), "Inconsistent RPCs detected")
	assert.NotContains(t, out.String(), "Updating configuration")
}

func TestStoreDSN(t *testing.T) {
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Backend: "redis", RedisURL: "redis://localhost:6379/0"}
	assert.Equal(t, "redis://localhost:6379/0", storeDSN(cfg))

	cfg.Store = config.StoreConfig{Backend: "sqlite", Path: "/tmp/energon.db"}
	assert.Equal(t, "/tmp/energon.db", storeDSN(cfg))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "input %q", tt.input)
	}
}

func TestNewCronTicker_DisabledWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Cron.SecretEnv = "ENERGON_TEST_CRON_SECRET_UNSET"
	assert.Nil(t, newCronTicker(context.Background(), cfg, nil, wallet.DescriptorFromConfig(cfg.Chain), slog.Default()))
}
