package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for internally inconsistent values. It is
// called by Load after defaults are applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Protocol.BaseKey) == "" {
		return fmt.Errorf("config: Protocol.BaseKey is required")
	}
	if strings.TrimSpace(c.Protocol.CollateralKey) == "" {
		return fmt.Errorf("config: Protocol.CollateralKey is required")
	}
	if c.Protocol.BaseKey == c.Protocol.CollateralKey {
		return fmt.Errorf("config: base and collateral keys must differ")
	}
	ratio, err := ParseDecimal(c.Protocol.IssuanceRatio)
	if err != nil {
		return fmt.Errorf("config: Protocol.IssuanceRatio: %w", err)
	}
	if ratio.Sign() <= 0 {
		return fmt.Errorf("config: Protocol.IssuanceRatio must be positive")
	}
	if c.Protocol.MinStakeTimeSeconds < 0 {
		return fmt.Errorf("config: Protocol.MinStakeTimeSeconds must not be negative")
	}
	if c.Protocol.WaitingPeriodSeconds <= 0 {
		return fmt.Errorf("config: Protocol.WaitingPeriodSeconds must be positive")
	}
	if c.Protocol.MaxEntriesInQueue <= 0 {
		return fmt.Errorf("config: Protocol.MaxEntriesInQueue must be positive")
	}
	if c.Oracle.StaleAfterSeconds <= 0 {
		return fmt.Errorf("config: Oracle.StaleAfterSeconds must be positive")
	}
	if c.Oracle.HistoryDepth <= 0 {
		return fmt.Errorf("config: Oracle.HistoryDepth must be positive")
	}
	if c.DynamicFee.Rounds < 0 {
		return fmt.Errorf("config: DynamicFee.Rounds must not be negative")
	}
	if _, err := c.IssuerConfig(); err != nil {
		return err
	}
	if _, err := c.ExchangeConfig(); err != nil {
		return err
	}
	if _, err := c.OracleAdapterConfig(); err != nil {
		return err
	}
	if _, err := c.DebtCacheConfig(); err != nil {
		return err
	}
	for _, key := range c.Atomic.Whitelist {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("config: Atomic.Whitelist entries must not be empty")
		}
	}
	for _, key := range c.Protocol.Tribes {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("config: Protocol.Tribes entries must not be empty")
		}
		if key == c.Protocol.CollateralKey {
			return fmt.Errorf("config: collateral %q cannot be listed as a tribe", key)
		}
	}
	return nil
}
