// Package config loads the daemon's environment into a typed struct via
// kelseyhightower/envconfig, matching the teacher's upstream manifest
// dependency and spec.md §7's "process exits with code 1 on bad env".
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of environment variables spec.md §6 names, plus
// the fixed protocol constants §6 calls out (kept as defaulted struct
// fields rather than Go consts so ops can override them for a testnet
// without a rebuild).
type Config struct {
	RPCURLs           []string      `envconfig:"RPC_URL" required:"true"`
	WalletPrivateKey  string        `envconfig:"WALLET_PRIVATE_KEY" required:"true"`
	DepositContract   string        `envconfig:"DEPOSIT_CONTRACT_ADDRESS" required:"true"`
	DSMContract       string        `envconfig:"DSM_CONTRACT_ADDRESS" required:"true"`
	LidoWC            string        `envconfig:"LIDO_WC" required:"true"`
	GenesisForkVersion string       `envconfig:"GENESIS_FORK_VERSION" required:"true"`

	KeysAPIHost string `envconfig:"KEYS_API_HOST"`
	KeysAPIPort string `envconfig:"KEYS_API_PORT"`
	KeysAPIURL  string `envconfig:"KEYS_API_URL"`

	PubsubService  string `envconfig:"PUBSUB_SERVICE" default:"rabbitmq"`
	BrokerURL      string `envconfig:"BROKER_URL"`
	BrokerExchange string `envconfig:"BROKER_EXCHANGE" default:"lido-council-daemon"`
	BrokerTopic    string `envconfig:"BROKER_TOPIC" default:"defender"`

	RegistryKeysQueryBatchSize  int `envconfig:"REGISTRY_KEYS_QUERY_BATCH_SIZE" default:"100"`
	RegistryKeysQueryConcurrency int `envconfig:"REGISTRY_KEYS_QUERY_CONCURRENCY" default:"5"`

	DepositContractDeployBlock    uint64        `envconfig:"DEPOSIT_CONTRACT_DEPLOY_BLOCK" default:"0"`
	DepositContractTreeDepth      uint64        `envconfig:"DEPOSIT_CONTRACT_TREE_DEPTH" default:"32"`
	DepositEventsStep             uint64        `envconfig:"DEPOSIT_EVENTS_STEP" default:"10000"`
	DepositEventsCacheLagBlocks   uint64        `envconfig:"DEPOSIT_EVENTS_CACHE_LAG_BLOCKS" default:"100"`
	GuardianDepositResigningBlocks uint64       `envconfig:"GUARDIAN_DEPOSIT_RESIGNING_BLOCKS" default:"10"`
	FetchRequestTimeout           time.Duration `envconfig:"FETCH_REQUEST_TIMEOUT" default:"5s"`
	GuardianDepositJobDuration     time.Duration `envconfig:"GUARDIAN_DEPOSIT_JOB_DURATION" default:"12s"`

	DBPath string `envconfig:"DB_PATH" default:"council-daemon.sqlite"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9000"`
}

// Load reads the process environment into a Config and validates it,
// matching spec.md §7's "bad env → exit code 1" (callers invoke os.Exit(1)
// themselves; this package only ever returns an error).
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("could not load configuration: %v", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) validate() error {
	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("RPC_URL must name at least one execution client endpoint")
	}
	if c.KeysAPIURL == "" && (c.KeysAPIHost == "" || c.KeysAPIPort == "") {
		return fmt.Errorf("either KEYS_API_URL or both KEYS_API_HOST and KEYS_API_PORT must be set")
	}
	switch c.PubsubService {
	case "rabbitmq":
		if c.BrokerURL == "" {
			return fmt.Errorf("BROKER_URL is required when PUBSUB_SERVICE=rabbitmq")
		}
	case "kafka":
		return fmt.Errorf("PUBSUB_SERVICE=kafka has no transport binding in this build; see DESIGN.md")
	default:
		return fmt.Errorf("unsupported PUBSUB_SERVICE %q", c.PubsubService)
	}
	return nil
}

// KeysAPIBaseURL resolves the keys-index base URL from either KEYS_API_URL
// or the host/port pair, matching the precedence spec.md §6 implies.
func (c *Config) KeysAPIBaseURL() string {
	if c.KeysAPIURL != "" {
		return c.KeysAPIURL
	}
	return fmt.Sprintf("http://%s:%s", c.KeysAPIHost, c.KeysAPIPort)
}
