package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tribeone/config"
	"tribeone/core"
	"tribeone/core/events"
	"tribeone/core/types"
	"tribeone/native/common"
	"tribeone/native/debtcache"
	"tribeone/native/debtshare"
	"tribeone/native/exchange"
	"tribeone/native/feepool"
	"tribeone/native/issuer"
	"tribeone/native/oracle"
	"tribeone/native/registry"
	"tribeone/observability"
	"tribeone/observability/logging"
	"tribeone/observability/otel"
	"tribeone/rpc"
	"tribeone/state"
	"tribeone/storage"
)

const envVar = "TRIBEONE_ENV"

// roleAddress derives a stable address for an internal protocol role so the
// engines agree on their authorised callers across restarts.
func roleAddress(name string) types.Address {
	hash := ethcrypto.Keccak256([]byte("tribeone/role/" + name))
	var addr types.Address
	copy(addr[:], hash[12:])
	return addr
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service: "tribed",
		Env:     env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err = otel.Init(ctx, otel.Config{
			ServiceName: "tribed",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("telemetry init failed", "error", err)
			os.Exit(1)
		}
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chaindata"))
	if err != nil {
		logger.Error("open database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	system, err := buildSystem(cfg, db)
	if err != nil {
		logger.Error("wire protocol failed", "error", err)
		os.Exit(1)
	}
	system.SetMetrics(observability.Tribe())

	server := rpc.NewServer(rpc.ServerConfig{
		JWTSecret:    os.Getenv(cfg.JWTSecretEnv),
		RateLimitRPS: cfg.RateLimitRPS,
	}, system, logger)

	rpcServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("rpc listening", "address", cfg.RPCAddress)
		if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", "address", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown", "error", err)
	}
}

// buildSystem wires the engines over the persistent store per the loaded
// configuration.
func buildSystem(cfg *config.Config, db storage.Database) (*core.System, error) {
	issuerCfg, err := cfg.IssuerConfig()
	if err != nil {
		return nil, err
	}
	exchangeCfg, err := cfg.ExchangeConfig()
	if err != nil {
		return nil, err
	}
	oracleCfg, err := cfg.OracleAdapterConfig()
	if err != nil {
		return nil, err
	}
	cacheCfg, err := cfg.DebtCacheConfig()
	if err != nil {
		return nil, err
	}

	kv := state.NewKV(db)
	rates := oracle.NewAdapter(oracleCfg)
	spot := oracle.NewAdapter(oracleCfg)

	tribes := registry.NewRegistry()
	var base *registry.Token
	for _, key := range cfg.Protocol.Tribes {
		token, err := registry.NewToken(key, kv)
		if err != nil {
			return nil, fmt.Errorf("tribe %s: %w", key, err)
		}
		if err := tribes.Add(token); err != nil {
			return nil, fmt.Errorf("tribe %s: %w", key, err)
		}
		if key == cfg.Protocol.BaseKey {
			base = token
		}
	}
	if base == nil {
		return nil, fmt.Errorf("base tribe %s missing from tribe list", cfg.Protocol.BaseKey)
	}
	vault := registry.NewVault(base)

	cache := debtcache.NewCache(cacheCfg, tribes, rates, vault)

	systemAddr := roleAddress("system")
	ledgerAddr := roleAddress("debtshare")
	shares := debtshare.NewLedger(ledgerAddr, systemAddr, 0)
	pool := feepool.NewPool(roleAddress("feepool"))

	issuerEngine := issuer.NewEngine(issuerCfg, state.NewAccounts(kv), shares, cache, tribes, rates, ledgerAddr)
	exchangeEngine := exchange.NewEngine(exchangeCfg, tribes, rates, cache, pool,
		exchange.NewLedger(kv, cfg.Protocol.MaxEntriesInQueue))

	return core.NewSystem(core.SystemConfig{
		BaseKey:       cfg.Protocol.BaseKey,
		CollateralKey: cfg.Protocol.CollateralKey,
	}, systemAddr, core.SystemDeps{
		Status:   common.NewStatus(),
		Rates:    rates,
		Spot:     spot,
		Tribes:   tribes,
		Vault:    vault,
		Shares:   shares,
		Cache:    cache,
		Pool:     pool,
		Issuer:   issuerEngine,
		Exchange: exchangeEngine,
		Emitter:  events.NewRecorder(256),
	}), nil
}
