package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nftAddr        = "0x1111111111111111111111111111111111111111"
	tokenAddr      = "0x2222222222222222222222222222222222222222"
	controllerAddr = "0x3333333333333333333333333333333333333333"
)

func validConfig() Config {
	cfg := Default()
	cfg.Chain.Name = "Flare"
	cfg.Chain.ChainID = 14
	cfg.Chain.RPCURLs = []string{"http://localhost:8545"}
	cfg.Contracts = ContractsConfig{NFT: nftAddr, Token: tokenAddr, Controller: controllerAddr}
	return cfg
}

func TestLoadConfig_Malformed(t *testing.T) {
	_, err := LoadConfig(strings.NewReader(`{ "chain": [`))
	assert.Error(t, err)
}

func TestLoadConfig_TableDriven(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		content     string
		yaml        bool
		expectError bool
		validate    func(*testing.T, Config)
	}{
		{
			name: "Valid JSON",
			content: `{
				"chain": {"name": "Flare", "chain_id": 14, "rpc_urls": ["http://a", "http://b"]},
				"contracts": {"nft": "` + nftAddr + `", "token": "` + tokenAddr + `", "controller": "` + controllerAddr + `"},
				"poll_interval_seconds": 2,
				"guard": {"cooldown_seconds": 10}
			}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, "Flare", c.Chain.Name)
				assert.Len(t, c.Chain.RPCURLs, 2)
				assert.Equal(t, 2*time.Second, c.PollInterval())
				assert.Equal(t, 10, c.Guard.CooldownSeconds)
				assert.Equal(t, 45, c.Guard.LockTTLSeconds)
				assert.Empty(t, c.Validate())
			},
		},
		{
			name: "Valid YAML",
			yaml: true,
			content: `
chain:
  name: Flare
  rpc_urls: ["http://a"]
plasma:
  enabled: true
  max: 50
store:
  backend: memory
`,
			validate: func(t *testing.T, c Config) {
				assert.True(t, c.Plasma.Enabled)
				assert.Equal(t, int64(50), c.Plasma.Max)
				assert.Equal(t, 60, c.Plasma.WindowSeconds)
				assert.Equal(t, "memory", c.Store.Backend)
			},
		},
		{
			name:    "Defaults",
			content: `{}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, 4*time.Second, c.PollInterval())
				assert.Equal(t, 15, c.Guard.BackoffStartSeconds)
				assert.Equal(t, 120, c.Guard.BackoffMaxSeconds)
				assert.Equal(t, 6, c.Guard.AutoTickIntervalSeconds)
				assert.Equal(t, 25, c.Mint.MaxQuantity)
				assert.Equal(t, "sqlite", c.Store.Backend)
				assert.Len(t, c.Metadata.Gateways, 2)
			},
		},
		{
			name:    "Poll interval clamped",
			content: `{"poll_interval_seconds": 30}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, MaxPollInterval, c.PollInterval())
			},
		},
		{
			name:        "Malformed JSON",
			content:     `{ "chain": { unclosed`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			var err error
			if tt.yaml {
				cfg, err = LoadYAML(strings.NewReader(tt.content))
			} else {
				cfg, err = LoadConfig(strings.NewReader(tt.content))
			}
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, cfg.Validate())

	cfg.Chain.RPCURLs = nil
	cfg.Contracts.NFT = "not-an-address"
	cfg.Store.Backend = "redis"
	problems := cfg.Validate()
	assert.Len(t, problems, 3)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().Guard, cfg.Guard)
}

func TestSaveConfig(t *testing.T) {
	for _, name := range []string{"energon.json", "energon.yaml"} {
		name := name
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := validConfig()
			cfg.Guard.CooldownSeconds = 7

			require.NoError(t, SaveConfig(cfg, path))
			// Second save must leave a backup of the first.
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := LoadConfigFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, "Flare", loaded.Chain.Name)
			assert.Equal(t, int64(14), loaded.Chain.ChainID)
			assert.Equal(t, 7, loaded.Guard.CooldownSeconds)

			backups, err := filepath.Glob(path + ".*.bak")
			require.NoError(t, err)
			assert.NotEmpty(t, backups)

			require.NoError(t, RestoreLastBackup(path))
		})
	}
}

func TestSaveConfig_ValidationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "energon.json")
	err := SaveConfig(Default(), path)
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSaveConfig_PermissionError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	tmpDir := t.TempDir()
	if err := os.Chmod(tmpDir, 0500); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(tmpDir, 0700) }()

	err := SaveConfig(validConfig(), filepath.Join(tmpDir, "config.json"))
	assert.Error(t, err)
}
