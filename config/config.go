package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tribeone/native/debtcache"
	"tribeone/native/exchange"
	"tribeone/native/issuer"
	"tribeone/native/oracle"
)

// Config is the on-disk daemon configuration. Fixed-point ratios and fee
// rates are decimal strings ("0.2", "0.003") converted to 18-decimal units at
// load time.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	LogLevel       string `toml:"LogLevel"`
	LogFile        string `toml:"LogFile"`
	JWTSecretEnv   string `toml:"JWTSecretEnv"`
	RateLimitRPS   int    `toml:"RateLimitRPS"`

	Protocol   ProtocolConfig   `toml:"Protocol"`
	Fees       FeeConfig        `toml:"Fees"`
	DynamicFee DynamicFeeConfig `toml:"DynamicFee"`
	Oracle     OracleConfig     `toml:"Oracle"`
	Atomic     AtomicConfig     `toml:"Atomic"`
	Telemetry  TelemetryConfig  `toml:"Telemetry"`
}

type ProtocolConfig struct {
	BaseKey              string   `toml:"BaseKey"`
	CollateralKey        string   `toml:"CollateralKey"`
	Tribes               []string `toml:"Tribes"`
	IssuanceRatio        string   `toml:"IssuanceRatio"`
	MinStakeTimeSeconds  int64    `toml:"MinStakeTimeSeconds"`
	WaitingPeriodSeconds int64    `toml:"WaitingPeriodSeconds"`
	MaxEntriesInQueue    int      `toml:"MaxEntriesInQueue"`
}

// TelemetryConfig drives the OTLP exporters; both are off by default.
type TelemetryConfig struct {
	Endpoint    string `toml:"Endpoint"`
	Environment string `toml:"Environment"`
	Insecure    bool   `toml:"Insecure"`
	Metrics     bool   `toml:"Metrics"`
	Traces      bool   `toml:"Traces"`
}

type FeeConfig struct {
	DefaultRate string            `toml:"DefaultRate"`
	Rates       map[string]string `toml:"Rates"`
}

type DynamicFeeConfig struct {
	Rounds      int    `toml:"Rounds"`
	Threshold   string `toml:"Threshold"`
	WeightDecay string `toml:"WeightDecay"`
	MaxFee      string `toml:"MaxFee"`
}

type OracleConfig struct {
	StaleAfterSeconds   int64  `toml:"StaleAfterSeconds"`
	DeviationFactor     string `toml:"DeviationFactor"`
	HistoryDepth        int    `toml:"HistoryDepth"`
	CacheStaleSeconds   int64  `toml:"CacheStaleSeconds"`
	DebtDeviationFactor string `toml:"DebtDeviationFactor"`
}

type AtomicConfig struct {
	Whitelist         []string `toml:"Whitelist"`
	FeeRate           string   `toml:"FeeRate"`
	DeviationFactor   string   `toml:"DeviationFactor"`
	MaxVolumePerBlock string   `toml:"MaxVolumePerBlock"`
}

// Load reads the configuration at path, writing and returning defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:     ":8080",
		MetricsAddress: ":9090",
		DataDir:        "./tribe-data",
		LogLevel:       "info",
		JWTSecretEnv:   "TRIBEONE_JWT_SECRET",
		RateLimitRPS:   50,
		Protocol: ProtocolConfig{
			BaseKey:              "hUSD",
			CollateralKey:        "wHAKA",
			Tribes:               []string{"hUSD", "hBTC", "hETH", "hXAU"},
			IssuanceRatio:        "0.2",
			MinStakeTimeSeconds:  8 * 60 * 60,
			WaitingPeriodSeconds: 6 * 60,
			MaxEntriesInQueue:    16,
		},
		Fees: FeeConfig{
			DefaultRate: "0.003",
			Rates:       map[string]string{},
		},
		DynamicFee: DynamicFeeConfig{
			Rounds:      6,
			Threshold:   "0.004",
			WeightDecay: "0.9",
			MaxFee:      "0.05",
		},
		Oracle: OracleConfig{
			StaleAfterSeconds:   60 * 60,
			DeviationFactor:     "3",
			HistoryDepth:        64,
			CacheStaleSeconds:   2 * 60 * 60,
			DebtDeviationFactor: "10",
		},
		Atomic: AtomicConfig{
			Whitelist:         []string{},
			FeeRate:           "0.003",
			DeviationFactor:   "1.05",
			MaxVolumePerBlock: "1000000",
		},
	}
}

func (c *Config) applyDefaults() {
	defaults := defaultConfig()
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaults.RPCAddress
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = defaults.MetricsAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaults.DataDir
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaults.LogLevel
	}
	if strings.TrimSpace(c.JWTSecretEnv) == "" {
		c.JWTSecretEnv = defaults.JWTSecretEnv
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = defaults.RateLimitRPS
	}
	if strings.TrimSpace(c.Protocol.BaseKey) == "" {
		c.Protocol.BaseKey = defaults.Protocol.BaseKey
	}
	if strings.TrimSpace(c.Protocol.CollateralKey) == "" {
		c.Protocol.CollateralKey = defaults.Protocol.CollateralKey
	}
	if strings.TrimSpace(c.Protocol.IssuanceRatio) == "" {
		c.Protocol.IssuanceRatio = defaults.Protocol.IssuanceRatio
	}
	if c.Protocol.MaxEntriesInQueue <= 0 {
		c.Protocol.MaxEntriesInQueue = defaults.Protocol.MaxEntriesInQueue
	}
	if len(c.Protocol.Tribes) == 0 {
		c.Protocol.Tribes = append([]string(nil), defaults.Protocol.Tribes...)
	}
	seen := false
	for _, key := range c.Protocol.Tribes {
		if key == c.Protocol.BaseKey {
			seen = true
			break
		}
	}
	if !seen {
		c.Protocol.Tribes = append([]string{c.Protocol.BaseKey}, c.Protocol.Tribes...)
	}
	if c.Fees.Rates == nil {
		c.Fees.Rates = map[string]string{}
	}
	if c.Oracle.HistoryDepth <= 0 {
		c.Oracle.HistoryDepth = defaults.Oracle.HistoryDepth
	}
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

// IssuerConfig materialises the issuance engine configuration.
func (c *Config) IssuerConfig() (issuer.Config, error) {
	ratio, err := ParseDecimal(c.Protocol.IssuanceRatio)
	if err != nil {
		return issuer.Config{}, fmt.Errorf("config: IssuanceRatio: %w", err)
	}
	return issuer.Config{
		BaseKey:       c.Protocol.BaseKey,
		CollateralKey: c.Protocol.CollateralKey,
		IssuanceRatio: ratio,
		MinStakeTime:  time.Duration(c.Protocol.MinStakeTimeSeconds) * time.Second,
	}, nil
}

// ExchangeConfig materialises the exchange engine configuration.
func (c *Config) ExchangeConfig() (exchange.Config, error) {
	defaultRate, err := ParseDecimal(c.Fees.DefaultRate)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("config: Fees.DefaultRate: %w", err)
	}
	rates := make(map[string]*big.Int, len(c.Fees.Rates))
	for key, value := range c.Fees.Rates {
		rate, err := ParseDecimal(value)
		if err != nil {
			return exchange.Config{}, fmt.Errorf("config: Fees.Rates[%s]: %w", key, err)
		}
		rates[key] = rate
	}
	threshold, err := ParseDecimal(c.DynamicFee.Threshold)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("config: DynamicFee.Threshold: %w", err)
	}
	decay, err := ParseDecimal(c.DynamicFee.WeightDecay)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("config: DynamicFee.WeightDecay: %w", err)
	}
	maxFee, err := ParseDecimal(c.DynamicFee.MaxFee)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("config: DynamicFee.MaxFee: %w", err)
	}
	atomicFee, err := ParseDecimal(c.Atomic.FeeRate)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("config: Atomic.FeeRate: %w", err)
	}
	atomicDeviation, err := ParseDecimal(c.Atomic.DeviationFactor)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("config: Atomic.DeviationFactor: %w", err)
	}
	atomicVolume, err := ParseDecimal(c.Atomic.MaxVolumePerBlock)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("config: Atomic.MaxVolumePerBlock: %w", err)
	}
	return exchange.Config{
		BaseKey:           c.Protocol.BaseKey,
		WaitingPeriod:     time.Duration(c.Protocol.WaitingPeriodSeconds) * time.Second,
		MaxEntriesInQueue: c.Protocol.MaxEntriesInQueue,
		BaseFeeRates:      rates,
		DefaultFeeRate:    defaultRate,
		DynamicFee: exchange.DynamicFeeConfig{
			Rounds:      c.DynamicFee.Rounds,
			Threshold:   threshold,
			WeightDecay: decay,
			MaxFee:      maxFee,
		},
		Atomic: exchange.AtomicConfig{
			Whitelist:         append([]string(nil), c.Atomic.Whitelist...),
			FeeRate:           atomicFee,
			DeviationFactor:   atomicDeviation,
			MaxVolumePerBlock: atomicVolume,
		},
	}, nil
}

// OracleAdapterConfig materialises the oracle adapter configuration.
func (c *Config) OracleAdapterConfig() (oracle.Config, error) {
	deviation, err := ParseDecimal(c.Oracle.DeviationFactor)
	if err != nil {
		return oracle.Config{}, fmt.Errorf("config: Oracle.DeviationFactor: %w", err)
	}
	return oracle.Config{
		StaleAfter:      time.Duration(c.Oracle.StaleAfterSeconds) * time.Second,
		DeviationFactor: deviation,
		HistoryDepth:    c.Oracle.HistoryDepth,
	}, nil
}

// DebtCacheConfig materialises the debt cache configuration.
func (c *Config) DebtCacheConfig() (debtcache.Config, error) {
	deviation, err := ParseDecimal(c.Oracle.DebtDeviationFactor)
	if err != nil {
		return debtcache.Config{}, fmt.Errorf("config: Oracle.DebtDeviationFactor: %w", err)
	}
	return debtcache.Config{
		BaseKey:         c.Protocol.BaseKey,
		StaleAfter:      time.Duration(c.Oracle.CacheStaleSeconds) * time.Second,
		DeviationFactor: deviation,
	}, nil
}
