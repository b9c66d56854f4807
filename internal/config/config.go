package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SafeContracts holds the per-network Safe contract deployment used for
// deterministic address prediction and proxy deploys.
type SafeContracts struct {
	ProxyFactory      string `mapstructure:"proxy_factory"`
	Singleton         string `mapstructure:"singleton"`
	FallbackHandler   string `mapstructure:"fallback_handler"`
	ProxyCreationCode string `mapstructure:"proxy_creation_code"` // hex
	Version           string `mapstructure:"version"`
}

// Network describes one supported chain.
type Network struct {
	ChainID          uint64        `mapstructure:"chain_id"`
	RPCURL           string        `mapstructure:"rpc_url"`
	SafeTxServiceURL string        `mapstructure:"safe_tx_service_url"`
	PoolFactory      string        `mapstructure:"pool_factory"`
	Safe             SafeContracts `mapstructure:"safe"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel         string
	PostgresDSN      string
	PrivateKey       string
	PollInterval     time.Duration
	ReceiptBatchSize int
	MaxPendingAge    time.Duration
	MinimumGasLimit  uint64
	ReceiptInterval  time.Duration
	ReceiptTimeout   time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	DeployInterval   time.Duration
	Networks         []Network
}

// Network returns the configuration for a chain id.
func (c Config) Network(chainID uint64) (Network, error) {
	for _, n := range c.Networks {
		if n.ChainID == chainID {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("no network configured for chain id %d", chainID)
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("poll-interval", 10*time.Second)
	v.SetDefault("receipt-batch-size", 10)
	v.SetDefault("max-pending-age", 15*time.Minute)
	v.SetDefault("minimum-gas-limit", uint64(100000))
	v.SetDefault("receipt-interval", 500*time.Millisecond)
	v.SetDefault("receipt-timeout", 60*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("deploy-interval", 30*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("relayer")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var networks []Network
	if err := v.UnmarshalKey("networks", &networks); err != nil {
		return Config{}, fmt.Errorf("parse networks: %w", err)
	}

	cfg := Config{
		LogLevel:         v.GetString("log-level"),
		PostgresDSN:      v.GetString("pg-dsn"),
		PrivateKey:       v.GetString("private-key"),
		PollInterval:     v.GetDuration("poll-interval"),
		ReceiptBatchSize: v.GetInt("receipt-batch-size"),
		MaxPendingAge:    v.GetDuration("max-pending-age"),
		MinimumGasLimit:  v.GetUint64("minimum-gas-limit"),
		ReceiptInterval:  v.GetDuration("receipt-interval"),
		ReceiptTimeout:   v.GetDuration("receipt-timeout"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		DeployInterval:   v.GetDuration("deploy-interval"),
		Networks:         networks,
	}

	return cfg, nil
}
