// Command council-daemon wires every component together and runs the
// guardian decision loop. It replaces the teacher's dependency-injected
// explorer-service startup (explorer/*) with plain explicit construction,
// since this daemon has no HTTP request surface of its own beyond metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lidofinance/council-daemon/internal/blockguard"
	"github.com/lidofinance/council-daemon/internal/blsvalidator"
	"github.com/lidofinance/council-daemon/internal/bus"
	"github.com/lidofinance/council-daemon/internal/config"
	"github.com/lidofinance/council-daemon/internal/db"
	"github.com/lidofinance/council-daemon/internal/depositcache"
	"github.com/lidofinance/council-daemon/internal/depositindexer"
	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/elclient"
	"github.com/lidofinance/council-daemon/internal/guardian"
	"github.com/lidofinance/council-daemon/internal/keysapi"
	"github.com/lidofinance/council-daemon/internal/merkletree"
	"github.com/lidofinance/council-daemon/internal/metrics"
	"github.com/lidofinance/council-daemon/internal/signer"
	"github.com/lidofinance/council-daemon/internal/signingkeys"
)

// buildVersion is overridden at link time the same way the keys-index
// reports its own appVersion (spec.md §6's MIN_KAPI_VERSION check).
var buildVersion = "dev"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(logger); err != nil {
		logger.WithError(err).Error("council-daemon exiting")
		os.Exit(1)
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.BuildInfo.WithLabelValues(buildVersion).Set(1)
	go serveMetrics(cfg.MetricsAddr, logger)

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("could not open store: %v", err)
	}
	defer store.Close()

	el, err := elclient.Dial(ctx, cfg.RPCURLs, cfg.FetchRequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("could not connect to execution client: %v", err)
	}
	defer el.Close()

	key, err := crypto.HexToECDSA(trimHexPrefix(cfg.WalletPrivateKey))
	if err != nil {
		return fmt.Errorf("could not parse WALLET_PRIVATE_KEY: %v", err)
	}
	guardianAddress := crypto.PubkeyToAddress(key.PublicKey)
	logger.WithField("address", guardianAddress.Hex()).Info("guardian identity loaded")

	depositContract := common.HexToAddress(cfg.DepositContract)
	dsmContract := common.HexToAddress(cfg.DSMContract)

	lidoWCBytes, err := merkletree.ParseHex(cfg.LidoWC, 32)
	if err != nil {
		return fmt.Errorf("could not parse LIDO_WC: %v", err)
	}
	var lidoWC [32]byte
	copy(lidoWC[:], lidoWCBytes)

	genesisForkVersionBytes, err := merkletree.ParseHex(cfg.GenesisForkVersion, 4)
	if err != nil {
		return fmt.Errorf("could not parse GENESIS_FORK_VERSION: %v", err)
	}
	var genesisForkVersion [4]byte
	copy(genesisForkVersion[:], genesisForkVersionBytes)

	keysAPI := keysapi.New(cfg.KeysAPIBaseURL(), cfg.FetchRequestTimeout)
	status, err := keysAPI.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("could not reach keys-index: %v", err)
	}
	if err := keysapi.CheckMinVersion(status.AppVersion); err != nil {
		return err
	}
	chainID, err := el.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("could not read execution client chain ID: %v", err)
	}
	if chainID.Uint64() != status.ChainID {
		return fmt.Errorf("chain ID mismatch: execution client reports %d, keys-index reports %d", chainID.Uint64(), status.ChainID)
	}

	validator := blsvalidator.New(genesisForkVersion)

	deposits := depositcache.New(store, cfg.DepositContractDeployBlock)
	indexer, err := depositindexer.New(el, deposits, validator, depositContract, cfg.DepositEventsStep, cfg.DepositEventsCacheLagBlocks, logger)
	if err != nil {
		return fmt.Errorf("could not build deposit indexer: %v", err)
	}

	signingKeysCache := signingkeys.New(store)
	signingKeysFetcher, err := signingkeys.NewFetcher(el, signingKeysCache, cfg.DepositEventsStep, logger)
	if err != nil {
		return fmt.Errorf("could not build signing-key fetcher: %v", err)
	}
	if err := syncSigningKeys(ctx, el, keysAPI, signingKeysFetcher, cfg.DepositContractDeployBlock, logger); err != nil {
		return fmt.Errorf("could not sync signing keys: %v", err)
	}

	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("could not build message bus publisher: %v", err)
	}

	broadcaster := signer.NewBroadcaster(el, publisher, dsmContract, key, logger)
	if err := broadcaster.RefreshBalance(ctx); err != nil {
		logger.WithError(err).Warn("could not refresh guardian wallet balance")
	}

	contracts, err := guardian.NewContractReader(el, dsmContract)
	if err != nil {
		return fmt.Errorf("could not build DSM contract reader: %v", err)
	}

	pipeline := guardian.New(guardian.Config{
		EL:              el,
		KeysAPI:         keysAPI,
		Contracts:       contracts,
		Deposits:        indexer,
		SigningKeys:     signingKeysCache,
		Validator:       validator,
		Guard:           blockguard.New(),
		Broadcaster:     broadcaster,
		Key:             key,
		DepositContract: depositContract,
		DSMContract:     dsmContract,
		ResigningBlocks: cfg.GuardianDepositResigningBlocks,
		LidoWC:          lidoWC,
		Logger:          logger,
	})

	logger.WithField("period", cfg.GuardianDepositJobDuration).Info("starting guardian tick loop")
	pipeline.Run(ctx, cfg.GuardianDepositJobDuration)

	return nil
}

// syncSigningKeys backfills SigningKeyAdded history for every currently
// known staking module, from the deposit contract's deployment block up to
// the chain head, before the guardian loop starts taking ticks.
func syncSigningKeys(ctx context.Context, el *elclient.Client, keysAPI *keysapi.Client, fetcher *signingkeys.Fetcher, fromBlock uint64, logger logrus.FieldLogger) error {
	operators, err := keysAPI.GetOperators(ctx)
	if err != nil {
		return fmt.Errorf("could not list staking modules: %v", err)
	}

	head, err := el.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not read chain head: %v", err)
	}
	toBlock := head.Number.Uint64()

	for _, entry := range operators.Data {
		module := domain.StakingModule{
			ID:      entry.Module.ID,
			Address: [20]byte(common.HexToAddress(entry.Module.Address)),
			Nonce:   entry.Module.Nonce,
			Type:    domain.StakingModuleType(entry.Module.Type),
		}

		logger.WithFields(logrus.Fields{"module_id": module.ID, "from": fromBlock, "to": toBlock}).Info("backfilling signing keys")
		if err := fetcher.SyncModule(ctx, module, fromBlock, toBlock); err != nil {
			return fmt.Errorf("module %d: %v", module.ID, err)
		}
	}

	return nil
}

func buildPublisher(cfg *config.Config, logger *logrus.Logger) (bus.Publisher, error) {
	switch cfg.PubsubService {
	case "rabbitmq":
		pub, err := bus.NewAMQPPublisher(cfg.BrokerURL, cfg.BrokerExchange, cfg.BrokerTopic, logger)
		if err != nil {
			logger.WithError(err).Warn("could not connect to message broker, falling back to log-only publisher")
			return bus.NewLoggingPublisher(logger), nil
		}
		return pub, nil
	default:
		return bus.NewLoggingPublisher(logger), nil
	}
}

func serveMetrics(addr string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("metrics server stopped")
	}
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
