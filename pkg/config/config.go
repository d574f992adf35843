package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = ".energon.json"
	StoreFileName  = ".energon.db"
)

// Poll intervals outside this band are clamped.
const (
	MinPollInterval = 1 * time.Second
	MaxPollInterval = 8 * time.Second
)

// CurrencyConfig describes the chain's native currency (used by add-chain).
type CurrencyConfig struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// ChainConfig holds configuration for the one chain the protocol lives on.
type ChainConfig struct {
	Name           string         `json:"name" yaml:"name"`
	ChainID        int64          `json:"chain_id,omitempty" yaml:"chain_id,omitempty"`
	RPCURLs        []string       `json:"rpc_urls" yaml:"rpc_urls"`
	NativeCurrency CurrencyConfig `json:"native_currency" yaml:"native_currency"`
	ExplorerURL    string         `json:"explorer_url,omitempty" yaml:"explorer_url,omitempty"`
}

// ContractsConfig holds the protocol's contract addresses.
type ContractsConfig struct {
	NFT   string `json:"nft" yaml:"nft"`
	Token string `json:"token" yaml:"token"`
	// Controller is used when the NFT's controller() read fails.
	Controller string `json:"controller" yaml:"controller"`
}

type RPCConfig struct {
	RateLimit     float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst         int     `json:"burst" yaml:"burst"`
	FailoverAfter int     `json:"failover_after" yaml:"failover_after"`
}

type GuardConfig struct {
	LockTTLSeconds          int  `json:"lock_ttl_seconds" yaml:"lock_ttl_seconds"`
	CooldownSeconds         int  `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	BackoffStartSeconds     int  `json:"backoff_start_seconds" yaml:"backoff_start_seconds"`
	BackoffMaxSeconds       int  `json:"backoff_max_seconds" yaml:"backoff_max_seconds"`
	AutoTickIntervalSeconds int  `json:"auto_tick_interval_seconds" yaml:"auto_tick_interval_seconds"`
	ReleaseHeightOnFailure  bool `json:"release_height_on_failure" yaml:"release_height_on_failure"`
}

type PlasmaConfig struct {
	Enabled       bool  `json:"enabled" yaml:"enabled"`
	Max           int64 `json:"max" yaml:"max"`
	WindowSeconds int   `json:"window_seconds" yaml:"window_seconds"`
	TickCredit    int64 `json:"tick_credit" yaml:"tick_credit"`
}

type MintConfig struct {
	MaxQuantity int `json:"max_quantity" yaml:"max_quantity"`
}

type StoreConfig struct {
	Backend  string `json:"backend" yaml:"backend"` // memory, sqlite, redis
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
}

type MetadataConfig struct {
	Gateways       []string `json:"gateways" yaml:"gateways"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type WalletConfig struct {
	PrivateKeyEnv string `json:"private_key_env" yaml:"private_key_env"`
}

type CronConfig struct {
	SecretEnv     string `json:"secret_env" yaml:"secret_env"`
	PrivateKeyEnv string `json:"private_key_env" yaml:"private_key_env"`
}

// Config is the full application configuration.
type Config struct {
	Chain               ChainConfig     `json:"chain" yaml:"chain"`
	Contracts           ContractsConfig `json:"contracts" yaml:"contracts"`
	PollIntervalSeconds int             `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	TokenDecimals       int             `json:"token_decimals" yaml:"token_decimals"`
	LogLevel            string          `json:"log_level" yaml:"log_level"`
	RPC                 RPCConfig       `json:"rpc" yaml:"rpc"`
	Guard               GuardConfig     `json:"guard" yaml:"guard"`
	Plasma              PlasmaConfig    `json:"plasma" yaml:"plasma"`
	Mint                MintConfig      `json:"mint" yaml:"mint"`
	Store               StoreConfig     `json:"store" yaml:"store"`
	Metadata            MetadataConfig  `json:"metadata" yaml:"metadata"`
	Wallet              WalletConfig    `json:"wallet" yaml:"wallet"`
	Cron                CronConfig      `json:"cron" yaml:"cron"`
}

// Default returns a configuration with every optional field populated.
func Default() Config {
	return Config{
		Chain: ChainConfig{
			NativeCurrency: CurrencyConfig{Name: "Ether", Symbol: "ETH", Decimals: 18},
		},
		PollIntervalSeconds: 4,
		TokenDecimals:       4,
		LogLevel:            "info",
		RPC:                 RPCConfig{RateLimit: 10, Burst: 20, FailoverAfter: 3},
		Guard: GuardConfig{
			LockTTLSeconds:          45,
			CooldownSeconds:         20,
			BackoffStartSeconds:     15,
			BackoffMaxSeconds:       120,
			AutoTickIntervalSeconds: 6,
		},
		Plasma:   PlasmaConfig{Max: 100, WindowSeconds: 60, TickCredit: 1},
		Mint:     MintConfig{MaxQuantity: 25},
		Store:    StoreConfig{Backend: "sqlite"},
		Metadata: MetadataConfig{
			Gateways:       []string{"https://ipfs.io/ipfs/", "https://cloudflare-ipfs.com/ipfs/"},
			TimeoutSeconds: 10,
		},
		Wallet: WalletConfig{PrivateKeyEnv: "ENERGON_PRIVATE_KEY"},
		Cron:   CronConfig{SecretEnv: "ENERGON_CRON_SECRET", PrivateKeyEnv: "ENERGON_CRON_PRIVATE_KEY"},
	}
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadConfigFromFile reads path, returning defaults when the file does not exist.
func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	if isYAML(path) {
		return LoadYAML(f)
	}
	return LoadConfig(f)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig decodes a JSON document. Missing fields keep their defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// LoadYAML decodes a YAML document. Missing fields keep their defaults.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// normalize repairs values that would break the loops (zero or out of band).
func (c *Config) normalize() {
	def := Default()
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = def.PollIntervalSeconds
	}
	if c.Guard.LockTTLSeconds <= 0 {
		c.Guard.LockTTLSeconds = def.Guard.LockTTLSeconds
	}
	if c.Guard.CooldownSeconds < 0 {
		c.Guard.CooldownSeconds = def.Guard.CooldownSeconds
	}
	if c.Guard.BackoffStartSeconds <= 0 {
		c.Guard.BackoffStartSeconds = def.Guard.BackoffStartSeconds
	}
	if c.Guard.BackoffMaxSeconds < c.Guard.BackoffStartSeconds {
		c.Guard.BackoffMaxSeconds = c.Guard.BackoffStartSeconds
	}
	if c.Guard.AutoTickIntervalSeconds <= 0 {
		c.Guard.AutoTickIntervalSeconds = def.Guard.AutoTickIntervalSeconds
	}
	if c.Plasma.Max <= 0 {
		c.Plasma.Max = def.Plasma.Max
	}
	if c.Plasma.WindowSeconds <= 0 {
		c.Plasma.WindowSeconds = def.Plasma.WindowSeconds
	}
	if c.Mint.MaxQuantity <= 0 {
		c.Mint.MaxQuantity = def.Mint.MaxQuantity
	}
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if len(c.Metadata.Gateways) == 0 {
		c.Metadata.Gateways = def.Metadata.Gateways
	}
	if c.Metadata.TimeoutSeconds <= 0 {
		c.Metadata.TimeoutSeconds = def.Metadata.TimeoutSeconds
	}
	if c.RPC.RateLimit <= 0 {
		c.RPC.RateLimit = def.RPC.RateLimit
	}
	if c.RPC.Burst <= 0 {
		c.RPC.Burst = def.RPC.Burst
	}
}

// PollInterval returns the configured poll interval clamped to the allowed band.
func (c Config) PollInterval() time.Duration {
	d := time.Duration(c.PollIntervalSeconds) * time.Second
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

// StorePath returns the sqlite file location, defaulting to the home directory.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return StoreFileName
	}
	return filepath.Join(home, StoreFileName)
}

// Validate checks the fields the client cannot run without.
func (c Config) Validate() []string {
	var problems []string
	if strings.TrimSpace(c.Chain.Name) == "" {
		problems = append(problems, "Chain has no name.")
	}
	if len(c.Chain.RPCURLs) == 0 {
		problems = append(problems, fmt.Sprintf("Chain '%s' has no RPC URLs.", c.Chain.Name))
	}
	for label, addr := range map[string]string{
		"nft":        c.Contracts.NFT,
		"token":      c.Contracts.Token,
		"controller": c.Contracts.Controller,
	} {
		if !common.IsHexAddress(addr) {
			problems = append(problems, fmt.Sprintf("Contract '%s' has invalid address %q.", label, addr))
		}
	}
	switch c.Store.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			problems = append(problems, "Store backend 'redis' requires redis_url.")
		}
	default:
		problems = append(problems, fmt.Sprintf("Unknown store backend %q.", c.Store.Backend))
	}
	sort.Strings(problems)
	return problems
}

func SaveConfig(cfg Config, path string) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(problems, " "))
	}

	var data []byte
	var err error
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(cfg); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}
