// Package config loads the engine's runtime configuration from the
// environment via envconfig, the way blinklabs-io-shai wires its own
// settings struct. Static configuration loading is explicitly out of
// this engine's scope beyond this thin struct — no remote config
// service, no hot reload.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/votes"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is the enumerated configuration surface from §6.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	HorizonURL        string `envconfig:"HORIZON_URL" required:"true"`
	NetworkPassphrase string `envconfig:"NETWORK_PASSPHRASE" required:"true"`
	BaseFee           int64  `envconfig:"BASE_FEE" default:"100"`

	HouseWalletAddress string `envconfig:"HOUSE_WALLET_ADDRESS" required:"true"`
	HouseWalletSigner  string `envconfig:"HOUSE_WALLET_SIGNER" required:"true"`

	RewardAssetCode   string `envconfig:"REWARD_ASSET_CODE" required:"true"`
	RewardAssetIssuer string `envconfig:"REWARD_ASSET_ISSUER" required:"true"`
	ConversionAmount  string `envconfig:"CONVERSION_AMOUNT" default:"100000"`

	DelegateMarker     string   `envconfig:"DELEGATE_MARKER"`
	DelegatableAssets  string   `envconfig:"DELEGATABLE_ASSETS"`  // "CODE:ISSUER/CODE:ISSUER,..." pairs
	VotingTrackerURL   string   `envconfig:"VOTING_TRACKER_URL" required:"true"`

	DefaultDuration     time.Duration `envconfig:"DEFAULT_DURATION" default:"168h"`
	DefaultRewardPeriod time.Duration `envconfig:"DEFAULT_REWARD_PERIOD" default:"24h"`
	PayRewardTimeLimit  time.Duration `envconfig:"PAYREWARD_TIME_LIMIT" default:"55m"`
	ResolveDelay        time.Duration `envconfig:"RESOLVE_DELAY" default:"5m"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// RewardAsset builds the configured reward asset value.
func (c *Config) RewardAsset() assets.Asset {
	return assets.New(c.RewardAssetCode, c.RewardAssetIssuer)
}

// ParseDelegatableAssets parses DELEGATABLE_ASSETS, a
// "code:issuer/code:issuer,code:issuer/code:issuer" list of
// (delegatable_asset, delegated_asset) pairs per §6.
func (c *Config) ParseDelegatableAssets() ([]votes.AssetPair, error) {
	if c.DelegatableAssets == "" {
		return nil, nil
	}
	var pairs []votes.AssetPair
	for _, raw := range strings.Split(c.DelegatableAssets, ",") {
		sides := strings.SplitN(raw, "/", 2)
		if len(sides) != 2 {
			return nil, fmt.Errorf("config: malformed DELEGATABLE_ASSETS entry %q", raw)
		}
		delegatable, err := assets.Parse(sides[0])
		if err != nil {
			return nil, fmt.Errorf("config: malformed delegatable asset %q: %w", sides[0], err)
		}
		delegated, err := assets.Parse(sides[1])
		if err != nil {
			return nil, fmt.Errorf("config: malformed delegated asset %q: %w", sides[1], err)
		}
		pairs = append(pairs, votes.AssetPair{DelegatableAsset: delegatable, DelegatedAsset: delegated})
	}
	return pairs, nil
}

// ConversionAmountDecimal parses ConversionAmount as a fixed-point value.
func (c *Config) ConversionAmountDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.ConversionAmount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("config: malformed CONVERSION_AMOUNT %q: %w", c.ConversionAmount, err)
	}
	return d, nil
}
