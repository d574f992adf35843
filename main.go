package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"energon/pkg/config"
	"energon/pkg/guard"
	"energon/pkg/metadata"
	"energon/pkg/models"
	"energon/pkg/plasma"
	"energon/pkg/rpc"
	"energon/pkg/server"
	"energon/pkg/store"
	"energon/pkg/tui"
	"energon/pkg/wallet"
	"energon/pkg/watcher"

	"github.com/ethereum/go-ethereum/common"
)

// Version should be set during build
var Version = "dev"

const logFileName = ".energon.log"

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	dryRunFlag := flag.Bool("dry-run", false, "Perform a trial run with no changes made")
	configFlag := flag.String("config", "", "Path to configuration file")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run in headless server mode")
	portFlag := flag.Int("port", 8080, "Port for API server")
	restoreFlag := flag.Bool("restore", false, "Restore the most recent configuration backup and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("energon version %s\n", Version)
		os.Exit(0)
	}

	cfgInput := *configFlag
	if cfgInput == "" && len(flag.Args()) > 0 {
		cfgInput = flag.Args()[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		fmt.Printf("Error determining config path: %v\n", err)
		os.Exit(1)
	}

	if *restoreFlag {
		if err := config.RestoreLastBackup(path); err != nil {
			fmt.Printf("Error restoring backup: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Restored %s from the latest backup.\n", path)
		os.Exit(0)
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Printf("Error loading config from %s: %v\n", path, err)
		os.Exit(1)
	}

	if *testFlag || *testLongFlag {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		os.Exit(runTest(ctx, cfg, path, *jsonFlag, *dryRunFlag, os.Stdout))
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		fmt.Printf("Error: configuration at %s is invalid:\n", path)
		for _, p := range problems {
			fmt.Printf(" - %s\n", p)
		}
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg.LogLevel, *serverFlag)
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *serverFlag, *portFlag, logger); err != nil {
		logger.Error("exiting", "error", err)
		fmt.Printf("Error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is done or the TUI quits.
func run(ctx context.Context, cfg config.Config, headless bool, port int, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.Store.Backend, storeDSN(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	pool, err := rpc.NewPool(cfg.Chain.RPCURLs, rpc.PoolOptions{
		RateLimit:     cfg.RPC.RateLimit,
		Burst:         cfg.RPC.Burst,
		FailoverAfter: cfg.RPC.FailoverAfter,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	reader := rpc.NewReader(pool, rpc.Contracts{
		NFT:                common.HexToAddress(cfg.Contracts.NFT),
		Token:              common.HexToAddress(cfg.Contracts.Token),
		FallbackController: common.HexToAddress(cfg.Contracts.Controller),
	}, logger)

	desc := wallet.DescriptorFromConfig(cfg.Chain)
	var provider wallet.Provider
	kp, err := wallet.KeyProviderFromEnv(cfg.Wallet.PrivateKeyEnv, desc, wallet.DialEthclient, logger)
	switch {
	case err == nil:
		provider = kp
		defer kp.Close()
	case errors.Is(err, models.ErrWalletUnavailable):
		logger.Info("no wallet configured", "env", cfg.Wallet.PrivateKeyEnv)
	default:
		return fmt.Errorf("wallet: %w", err)
	}

	var acc *plasma.Accumulator
	if cfg.Plasma.Enabled {
		acc = plasma.New(st, cfg.Plasma, nil, logger)
	}

	w := watcher.NewWatcher(cfg, watcher.Options{
		Reader:   reader,
		Session:  wallet.NewSession(provider, desc, logger),
		Guard:    guard.New(st, guard.ConfigFrom(cfg.Guard), nil, logger),
		Plasma:   acc,
		Metadata: metadata.New(cfg.Metadata.Gateways, time.Duration(cfg.Metadata.TimeoutSeconds)*time.Second, logger),
		Logger:   logger,
	})
	w.Start(ctx)
	defer w.Stop()

	srv := server.NewServer(w, newCronTicker(ctx, cfg, reader, desc, logger), logger)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start(ctx, port)
	}()

	if headless {
		logger.Info("running in server mode", "port", port)
		select {
		case <-ctx.Done():
			return nil
		case err := <-srvErr:
			return err
		}
	}

	go func() {
		if err := <-srvErr; err != nil {
			logger.Error("server error", "error", err)
		}
	}()
	return tui.Start(ctx, w, cfg, Version)
}

// newCronTicker returns nil unless both the cron secret and the cron key are
// present in the environment.
func newCronTicker(ctx context.Context, cfg config.Config, reader server.ProtocolReader, desc wallet.ChainDescriptor, logger *slog.Logger) *server.CronTicker {
	secret := os.Getenv(cfg.Cron.SecretEnv)
	if secret == "" {
		return nil
	}
	kp, err := wallet.KeyProviderFromEnv(cfg.Cron.PrivateKeyEnv, desc, wallet.DialEthclient, logger)
	if err != nil {
		logger.Warn("cron tick disabled", "error", err)
		return nil
	}
	signer, err := kp.Signer(ctx)
	if err != nil {
		logger.Warn("cron tick disabled", "error", err)
		return nil
	}
	g := guard.New(store.NewMemory(nil), server.CronGuardConfig(guard.ConfigFrom(cfg.Guard)), nil, logger)
	return server.NewCronTicker(secret, reader, g, signer, logger)
}

func storeDSN(cfg config.Config) string {
	if cfg.Store.Backend == "redis" {
		return cfg.Store.RedisURL
	}
	return cfg.StorePath()
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// newLogger logs JSON to stdout in server mode. The TUI owns the terminal, so
// interactive runs log text to a file in the home directory instead.
func newLogger(level string, headless bool) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if headless {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), func() {}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, opts)), func() {}
	}
	f, err := os.OpenFile(filepath.Join(home, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, opts)), func() {}
	}
	return slog.New(slog.NewTextHandler(f, opts)), func() { _ = f.Close() }
}

// runTest validates the configuration and probes every RPC endpoint. It
// returns the process exit code.
func runTest(ctx context.Context, cfg config.Config, path string, asJSON, dryRun bool, out io.Writer) int {
	report := models.TestReport{
		ConfigPath:     path,
		ValidStructure: true,
		DryRun:         dryRun,
	}
	printf := func(format string, args ...any) {
		if !asJSON {
			fmt.Fprintf(out, format, args...)
		}
	}
	emit := func() {
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
		}
	}

	printf("Testing configuration at: %s\n", path)

	if problems := cfg.Validate(); len(problems) > 0 {
		report.ValidStructure = false
		report.StructureErrors = problems
		for _, p := range problems {
			printf("Error: %s\n", p)
		}
		emit()
		return 1
	}

	printf("Testing Chain: %s (%s)\n", cfg.Chain.Name, cfg.Chain.NativeCurrency.Symbol)
	report.Chain = rpc.ProbeChain(ctx, &cfg.Chain)
	for _, r := range report.Chain.RPCs {
		switch {
		case r.Status != "ok":
			printf("  RPC: %s ... Failed: %s\n", r.URL, r.Error)
		case r.Error != "":
			printf("  RPC: %s ... OK (ChainID: %d) - %s\n", r.URL, r.ChainID, r.Error)
		default:
			printf("  RPC: %s ... OK (ChainID: %d, %s)\n", r.URL, r.ChainID, r.Latency)
		}
	}

	if report.Chain.Inconsistent {
		printf("\nWARNING: Inconsistent RPCs detected!\n")
		printf("RPCs for %s return conflicting Chain IDs.\n", cfg.Chain.Name)
	}

	if report.Chain.ChainIDUpdated {
		report.ConfigUpdated = true
		printf("\nUpdating configuration with fetched Chain ID %d...\n", cfg.Chain.ChainID)
		if dryRun {
			printf("Dry run enabled: Configuration NOT saved.\n")
		} else if err := config.SaveConfig(cfg, path); err != nil {
			report.SaveError = err.Error()
			printf("Failed to save config: %v\n", err)
		} else {
			printf("Configuration saved successfully.\n")
		}
	}

	emit()
	return 0
}
