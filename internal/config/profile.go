package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"candlescan/internal/models"
)

// LoadScanProfile loads a scanner profile from a YAML file.
func LoadScanProfile(filePath string) (models.ScannerConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return models.ScannerConfig{}, fmt.Errorf("failed to read scan profile: %w", err)
	}

	var profile models.ScannerConfig
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return models.ScannerConfig{}, fmt.Errorf("failed to parse scan profile YAML: %w", err)
	}

	if profile.QuoteAsset == "" {
		return models.ScannerConfig{}, fmt.Errorf("scan profile has no quote asset")
	}
	if len(profile.TimeFrames) == 0 {
		return models.ScannerConfig{}, fmt.Errorf("scan profile has no time frames")
	}

	return profile, nil
}

// ScanProfile resolves the active scan profile: the YAML file when a
// path is configured, environment values otherwise.
func (c *Config) ScanProfile() (models.ScannerConfig, error) {
	if c.Scanner.ProfilePath != "" {
		return LoadScanProfile(c.Scanner.ProfilePath)
	}

	return models.ScannerConfig{
		QuoteAsset:       c.Scanner.QuoteAsset,
		TimeFrames:       c.Scanner.TimeFrames,
		MaxScannedAssets: c.Scanner.MaxScannedAssets,
		Blacklist:        c.Scanner.Blacklist,
		Whitelist:        c.Scanner.Whitelist,
		ExchangeMarket:   models.ExchangeMarket(c.Scanner.ExchangeMarket),
	}, nil
}
