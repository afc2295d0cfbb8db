package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultLogLevel                  = "info"
	defaultLogOutput                 = "stdout"
	defaultDatadir                   = ".rif-relay-txd"
	defaultPollInterval              = 15 * time.Second
	defaultRetryGasPriceFactor       = 1.2
	defaultEstimateGasFactor         = 1.1
	defaultDefaultGasLimit           = uint64(200000)
	defaultConfirmationsNeeded       = uint64(12)
	defaultPendingTransactionTimeout = uint64(10)
	defaultMaxGasPriceWei            = uint64(1_000_000_000) // 1 gwei
)

// Config holds the daemon's full configuration, loaded from flags,
// environment variables, and defaults, in that order of precedence.
type Config struct {
	Chain ChainConfig
	Keys  KeysConfig
	Gas   GasConfig
	Store StoreConfig
	Log   LogConfig
	Datadir string
}

// ChainConfig describes the chain this daemon relays transactions to.
type ChainConfig struct {
	ChainID      uint64   `mapstructure:"id"`
	RPCEndpoints []string `mapstructure:"rpc"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// KeysConfig configures the keystore backing every signing identity.
type KeysConfig struct {
	KeystoreDir     string `mapstructure:"keystoreDir"`
	ManagerKeyHex   string `mapstructure:"managerKey"`
	ManagerPassword string `mapstructure:"managerPassword"`
	WorkerKeyHex    string `mapstructure:"workerKey"`
	WorkerPassword  string `mapstructure:"workerPassword"`
}

// GasConfig configures GasPolicy and gas estimation.
type GasConfig struct {
	RetryGasPriceFactor             float64 `mapstructure:"retryFactor"`
	MaxGasPriceWei                   uint64  `mapstructure:"maxGasPriceWei"`
	EstimateGasFactor                float64 `mapstructure:"estimateFactor"`
	DefaultGasLimit                  uint64  `mapstructure:"defaultGasLimit"`
	ConfirmationsNeeded               uint64  `mapstructure:"confirmationsNeeded"`
	PendingTransactionTimeoutBlocks uint64  `mapstructure:"pendingTimeoutBlocks"`
}

// StoreConfig configures the durable transaction store.
type StoreConfig struct {
	DevMode bool `mapstructure:"devMode"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("chain.pollInterval", defaultPollInterval)
	v.SetDefault("gas.retryFactor", defaultRetryGasPriceFactor)
	v.SetDefault("gas.maxGasPriceWei", defaultMaxGasPriceWei)
	v.SetDefault("gas.estimateFactor", defaultEstimateGasFactor)
	v.SetDefault("gas.defaultGasLimit", defaultDefaultGasLimit)
	v.SetDefault("gas.confirmationsNeeded", defaultConfirmationsNeeded)
	v.SetDefault("gas.pendingTimeoutBlocks", defaultPendingTransactionTimeout)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)

	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the tx store and keystore")
	flag.Uint64P("chain.id", "i", 0, "chain id to sign transactions for (required)")
	flag.StringSliceP("chain.rpc", "r", []string{}, "rpc endpoint(s), comma-separated (required)")
	flag.Duration("chain.pollInterval", defaultPollInterval, "interval between boost/reap sweeps")
	flag.String("keys.keystoreDir", "", "keystore directory (defaults to <datadir>/keystore)")
	flag.String("keys.managerKey", "", "hex-encoded private key for the manager identity (required on first run)")
	flag.String("keys.managerPassword", "", "passphrase protecting the manager key")
	flag.String("keys.workerKey", "", "hex-encoded private key for the worker identity (required on first run)")
	flag.String("keys.workerPassword", "", "passphrase protecting the worker key")
	flag.Float64("gas.retryFactor", defaultRetryGasPriceFactor, "gas price multiplier applied on each boost")
	flag.Uint64("gas.maxGasPriceWei", defaultMaxGasPriceWei, "absolute cap on any broadcast gas price, in wei")
	flag.Float64("gas.estimateFactor", defaultEstimateGasFactor, "safety margin applied over chain gas estimates")
	flag.Uint64("gas.defaultGasLimit", defaultDefaultGasLimit, "fallback gas limit when estimation fails")
	flag.Uint64("gas.confirmationsNeeded", defaultConfirmationsNeeded, "block depth at which a mined tx is pruned")
	flag.Uint64("gas.pendingTimeoutBlocks", defaultPendingTransactionTimeout, "blocks before a pending tx is considered stuck")
	flag.Bool("store.devMode", false, "wipe the tx store on startup")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "rif-relay-txd\n\nUsage: rif-relay-txd [flags]\n\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available, prefixed RIFRELAYTXD_,\n")
		fmt.Fprintf(os.Stderr, "with dots (.) replaced by underscores (_).\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("RIFRELAYTXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Keys.KeystoreDir == "" {
		cfg.Keys.KeystoreDir = filepath.Join(cfg.Datadir, "keystore")
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Chain.ChainID == 0 {
		return fmt.Errorf("chain.id is required")
	}
	if len(cfg.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one chain.rpc endpoint is required")
	}
	return nil
}
