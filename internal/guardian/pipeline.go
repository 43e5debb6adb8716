// Package guardian implements C10, the decision pipeline: the cron-driven
// tick that fetches keys-index + chain state, runs every other component,
// and decides per module whether to allow deposits, soft-pause, broadcast a
// hard pause, or broadcast an unvet. Grounded on the teacher's
// runDepositIndexerLoop (cron via time.Ticker, panic recovery, one error
// logged per failed cycle) generalized from a single indexer loop to the
// full multi-module decision tree spec.md §4.10 describes.
package guardian

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lidofinance/council-daemon/internal/blockguard"
	"github.com/lidofinance/council-daemon/internal/blsvalidator"
	"github.com/lidofinance/council-daemon/internal/depositindexer"
	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/duplicates"
	"github.com/lidofinance/council-daemon/internal/elclient"
	"github.com/lidofinance/council-daemon/internal/frontrun"
	"github.com/lidofinance/council-daemon/internal/keysapi"
	"github.com/lidofinance/council-daemon/internal/metrics"
	"github.com/lidofinance/council-daemon/internal/signer"
	"github.com/lidofinance/council-daemon/internal/signingkeys"
)

// ErrInconsistentLastChangedBlockHash is raised when step 4's two
// keys-index reads disagree on lastChangedBlockHash, per spec.md §4.10 step 4.
var ErrInconsistentLastChangedBlockHash = fmt.Errorf("inconsistent lastChangedBlockHash between keys-index reads")

// keyFinderAdapter adapts keysapi.Client to frontrun.KeyFinder, converting
// the wire response into the map[[48]byte]bool shape C8(b) wants.
type keyFinderAdapter struct{ client *keysapi.Client }

func (a keyFinderAdapter) FindKeys(ctx context.Context, pubkeys []string) (map[[48]byte]bool, error) {
	resp, err := a.client.FindKeys(ctx, pubkeys)
	if err != nil {
		return nil, err
	}
	owned := make(map[[48]byte]bool, len(resp.Data))
	for _, dto := range resp.Data {
		key, err := hexToArr48(dto.Key)
		if err != nil {
			continue
		}
		owned[key] = true
	}
	return owned, nil
}

// Pipeline is C10. One Pipeline instance drives the whole guardian tick
// loop for the lifetime of the process.
type Pipeline struct {
	el          *elclient.Client
	keysAPI     *keysapi.Client
	contracts   *ContractReader
	deposits    *depositindexer.Indexer
	signingKeys *signingkeys.Cache
	validator   *blsvalidator.Validator
	guard       *blockguard.Guard
	broadcaster *signer.Broadcaster
	key         *ecdsa.PrivateKey

	depositContract common.Address
	dsmContract     common.Address
	resigningBlocks uint64
	lidoWC          [32]byte

	logger logrus.FieldLogger

	tickInFlight atomic.Bool

	mu              sync.Mutex
	lastModuleState map[uint32]domain.ContractsState
}

// Config bundles a Pipeline's dependencies.
type Config struct {
	EL              *elclient.Client
	KeysAPI         *keysapi.Client
	Contracts       *ContractReader
	Deposits        *depositindexer.Indexer
	SigningKeys     *signingkeys.Cache
	Validator       *blsvalidator.Validator
	Guard           *blockguard.Guard
	Broadcaster     *signer.Broadcaster
	Key             *ecdsa.PrivateKey
	DepositContract common.Address
	DSMContract     common.Address
	ResigningBlocks uint64
	LidoWC          [32]byte
	Logger          logrus.FieldLogger
}

// New builds a Pipeline from its dependencies.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		el:              cfg.EL,
		keysAPI:         cfg.KeysAPI,
		contracts:       cfg.Contracts,
		deposits:        cfg.Deposits,
		signingKeys:     cfg.SigningKeys,
		validator:       cfg.Validator,
		guard:           cfg.Guard,
		broadcaster:     cfg.Broadcaster,
		key:             cfg.Key,
		depositContract: cfg.DepositContract,
		dsmContract:     cfg.DSMContract,
		resigningBlocks: cfg.ResigningBlocks,
		lidoWC:          cfg.LidoWC,
		logger:          cfg.Logger.WithField("component", "guardian"),
		lastModuleState: make(map[uint32]domain.ContractsState),
	}
}

// Run drives the cron loop every period until ctx is cancelled, matching
// the teacher's runDepositIndexerLoop shape (sleep, recover, log, repeat)
// generalized to GUARDIAN_DEPOSIT_JOB_DURATION.
func (p *Pipeline) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOneTick(ctx)
		}
	}
}

func (p *Pipeline) runOneTick(ctx context.Context) {
	defer recoverTick(p.logger, "guardian tick")

	if !p.tickInFlight.CompareAndSwap(false, true) {
		p.logger.Debug("skipping tick: previous tick still in flight (@OneAtTime)")
		return
	}
	defer p.tickInFlight.Store(false)

	start := time.Now()
	err := p.tick(ctx)
	metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		p.logger.WithError(err).Error("guardian tick aborted")
	}
}

// tick implements the 12 steps of spec.md §4.10. Any error from step 4
// onward aborts the tick without updating the block-guard, so the next
// tick retries from scratch.
func (p *Pipeline) tick(ctx context.Context) error {
	// Step 1: fetch operators+meta, fixing lastChangedBlockHash for the tick.
	operatorsResp, err := p.keysAPI.GetOperators(ctx)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("fetch_operators").Inc()
		return fmt.Errorf("could not fetch operators: %v", err)
	}
	meta := operatorsResp.Meta.ElBlockSnapshot

	blockHash, err := hexToArr32(meta.BlockHash)
	if err != nil {
		return err
	}

	// Step 2: pin contract reads to this block.
	contracts := p.contracts.AtBlock(common.BytesToHash(blockHash[:]))

	// Step 3: block-guard gate.
	blockNumberMeta := domain.StateMeta{BlockNumber: meta.BlockNumber, BlockHash: blockHash}
	if !p.guard.IsNeedToProcessNewState(blockNumberMeta) {
		return nil
	}

	// Step 4: re-fetch keys, assert lastChangedBlockHash is unchanged.
	keysResp, err := p.keysAPI.GetKeys(ctx)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("fetch_keys").Inc()
		return fmt.Errorf("could not fetch keys: %v", err)
	}
	if keysResp.Meta.ElBlockSnapshot.LastChangedBlockHash != meta.LastChangedBlockHash {
		metrics.TickFailuresTotal.WithLabelValues("inconsistent_last_changed_block_hash").Inc()
		return ErrInconsistentLastChangedBlockHash
	}
	lastChangedBlockHash, err := hexToArr32(meta.LastChangedBlockHash)
	if err != nil {
		return err
	}

	modules, moduleIDByAddress, err := buildModules(operatorsResp)
	if err != nil {
		return err
	}

	keysByModule, err := groupKeysByModule(keysResp, moduleIDByAddress)
	if err != nil {
		return err
	}

	operatorsByModule, err := groupOperatorsByModule(operatorsResp)
	if err != nil {
		return err
	}

	// Step 5: update deposit-event cache, recompute deposited events.
	guardianAddr := crypto.PubkeyToAddress(p.key.PublicKey)
	lidoWC, err := p.lidoWithdrawalCredentials(ctx)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("lido_wc").Inc()
		return err
	}

	depositCache, cacheBlockHash, err := p.deposits.FetchNewEvents(ctx, lidoWC)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("deposit_cache").Inc()
		return fmt.Errorf("could not update deposit cache: %v", err)
	}

	onchainRoot, onchainCount, err := p.deposits.OnchainRoot(ctx, cacheBlockHash)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("onchain_root").Inc()
		return err
	}
	if integrityOK, err := depositindexer.CheckIntegrity(depositCache.Data, onchainRoot, onchainCount); !integrityOK {
		metrics.DepositIntegrityMismatchesTotal.Inc()
		p.logger.WithError(err).Warn("deposit integrity check failed, aborting tick")
		return fmt.Errorf("deposit integrity check failed: %v", err)
	}

	// Step 6: build blockData.
	guardianIndex, err := contracts.GuardianIndex(ctx, guardianAddr)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("guardian_index").Inc()
		return err
	}
	dsmVersion, err := contracts.Version(ctx)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("dsm_version").Inc()
		return err
	}
	prefixes, err := contracts.Prefixes(ctx)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("dsm_prefixes").Inc()
		return err
	}

	historicalTheft, err := frontrun.HistoricalFrontRun(ctx, keyFinderAdapter{p.keysAPI}, depositCache.Data, lidoWC)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("historical_frontrun").Inc()
		return fmt.Errorf("could not check historical front-run: %v", err)
	}

	blockData := &domain.BlockData{
		BlockNumber:         meta.BlockNumber,
		BlockHash:           blockHash,
		DepositRoot:         onchainRoot,
		DepositedEvents:     depositCache.Data,
		GuardianAddress:     guardianAddr,
		GuardianIndex:       guardianIndex,
		LidoWithdrawalCreds: lidoWC,
		SecurityVersion:     dsmVersion,
		TheftHappened:       historicalTheft,
	}

	// Step 7: per-module working sets. InvalidKeys (C6) is computed here,
	// before duplicate detection, so C7 never considers a BLS-invalid
	// instance as a pubkey's canonical original (spec.md §4.7).
	modulesData := make(map[uint32]*domain.StakingModuleData, len(modules))
	vettedUnusedByModule := make(map[uint32][]*domain.RegistryKey, len(modules))
	vettedMinusInvalidByModule := make(map[uint32][]*domain.RegistryKey, len(modules))
	for _, m := range modules {
		unused := unusedKeysForModule(keysByModule[m.ID])
		vetted := vettedUnusedKeys(unused, operatorsByModule[m.ID])
		invalid := p.validator.GetInvalidKeys(vetted, lidoWC)

		paused, err := contracts.IsDepositsPaused(ctx, uint64(m.ID))
		if err != nil {
			metrics.TickFailuresTotal.WithLabelValues("module_paused_state").Inc()
			return err
		}
		if paused {
			blockData.AlreadyPausedDeposits = true
		}

		modulesData[m.ID] = &domain.StakingModuleData{
			ModuleID:             m.ID,
			BlockHash:            blockHash,
			LastChangedBlockHash: lastChangedBlockHash,
			UnusedKeys:           unused,
			VettedUnusedKeys:     vetted,
			InvalidKeys:          invalid,
		}
		vettedUnusedByModule[m.ID] = vetted
		vettedMinusInvalidByModule[m.ID] = excludeKeys(vetted, invalid)
	}

	// Step 8: global duplicate pass, over vetted-unused keys with C6's
	// invalid keys already excluded.
	duplicatesByModule, err := duplicates.Detect(p.signingKeys, vettedMinusInvalidByModule)
	if err != nil {
		metrics.TickFailuresTotal.WithLabelValues("duplicates").Inc()
		return fmt.Errorf("could not compute duplicate keys: %v", err)
	}
	for moduleID, dup := range duplicatesByModule {
		if md, ok := modulesData[moduleID]; ok {
			md.DuplicatedKeys = dup
		}
	}

	// Step 9: DSM version branch — global pause broadcast.
	if blockData.TheftHappened && !blockData.AlreadyPausedDeposits {
		p.broadcastPause(ctx, dsmVersion, prefixes, blockData, modules)
	}

	// Step 10: per-module concurrent pass.
	frontRunByModule := frontrun.OnChainFrontRun(depositCache.Data, lidoWC, vettedUnusedByModule)

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range modules {
		m := m
		md := modulesData[m.ID]
		md.FrontRunKeys = frontRunByModule[m.ID]

		g.Go(func() error {
			return p.handleModule(gctx, contracts, prefixes, blockData, m, md)
		})
	}
	if err := g.Wait(); err != nil {
		metrics.TickFailuresTotal.WithLabelValues("module_pipeline").Inc()
		return err
	}

	// Step 11: heartbeat.
	p.broadcaster.Ping()

	// Step 12: advance the block-guard only on full success.
	p.guard.MarkProcessed(blockNumberMeta)
	return nil
}

func (p *Pipeline) handleModule(ctx context.Context, contracts *ContractReader, prefixes domain.DSMMessagePrefixes, blockData *domain.BlockData, module *domain.StakingModule, md *domain.StakingModuleData) error {
	metrics.DuplicatedKeysGauge.WithLabelValues(strconv.Itoa(int(module.ID))).Set(float64(len(md.DuplicatedKeys)))
	metrics.FrontRunKeysGauge.WithLabelValues(strconv.Itoa(int(module.ID))).Set(float64(len(md.FrontRunKeys)))
	metrics.InvalidKeysGauge.WithLabelValues(strconv.Itoa(int(module.ID))).Set(float64(len(md.InvalidKeys)))

	if md.NeedsUnvetting() {
		if err := p.handleUnvetting(ctx, contracts, prefixes, blockData, module, md); err != nil {
			return err
		}
	}

	if !md.CanDeposit(blockData.TheftHappened, blockData.AlreadyPausedDeposits) {
		return nil // soft pause: no deposit message
	}

	return p.handleCorrectKeys(ctx, prefixes, blockData, module, md)
}

func (p *Pipeline) handleUnvetting(ctx context.Context, contracts *ContractReader, prefixes domain.DSMMessagePrefixes, blockData *domain.BlockData, module *domain.StakingModule, md *domain.StakingModuleData) error {
	nonce, err := contracts.StakingModuleNonce(ctx, uint64(module.ID))
	if err != nil {
		return fmt.Errorf("could not read module %d nonce: %v", module.ID, err)
	}

	operatorIndices, vettedCounts := unvetPayloadFor(md)
	operatorIDs, vettedKeysByOperator, err := signer.PackUnvetPayload(operatorIndices, vettedCounts)
	if err != nil {
		return fmt.Errorf("could not pack unvet payload for module %d: %v", module.ID, err)
	}

	signed, err := signer.SignUnvet(p.key, prefixes.UnvetPrefix, blockData.BlockNumber, blockData.BlockHash, uint64(module.ID), nonce, operatorIDs, vettedKeysByOperator)
	if err != nil {
		return fmt.Errorf("could not sign unvet message for module %d: %v", module.ID, err)
	}

	p.broadcaster.PublishAndUnvet(ctx, signed, blockData.BlockNumber, blockData.BlockHash, uint64(module.ID), nonce, operatorIDs, vettedKeysByOperator)
	return nil
}

func (p *Pipeline) handleCorrectKeys(ctx context.Context, prefixes domain.DSMMessagePrefixes, blockData *domain.BlockData, module *domain.StakingModule, md *domain.StakingModuleData) error {
	current := domain.ContractsState{
		DepositRoot:          blockData.DepositRoot,
		Nonce:                module.Nonce,
		BlockNumber:          blockData.BlockNumber,
		LastChangedBlockHash: md.LastChangedBlockHash,
	}

	p.mu.Lock()
	last, known := p.lastModuleState[module.ID]
	p.mu.Unlock()

	if known && last.Equal(&current) && last.BlockNumber/p.resigningBlocks == current.BlockNumber/p.resigningBlocks {
		return nil // unchanged within the same re-signing window: skip
	}

	signed, err := signer.SignDeposit(p.key, prefixes.AttestPrefix, blockData.BlockNumber, blockData.BlockHash, blockData.DepositRoot, uint64(module.ID), module.Nonce)
	if err != nil {
		return fmt.Errorf("could not sign deposit message for module %d: %v", module.ID, err)
	}

	p.broadcaster.PublishDeposit(signed, uint64(module.ID))

	p.mu.Lock()
	p.lastModuleState[module.ID] = current
	p.mu.Unlock()

	return nil
}

func (p *Pipeline) broadcastPause(ctx context.Context, dsmVersion uint64, prefixes domain.DSMMessagePrefixes, blockData *domain.BlockData, modules []*domain.StakingModule) {
	if dsmVersion >= 3 {
		signed, err := signer.SignPauseV3(p.key, prefixes.PausePrefix, blockData.BlockNumber)
		if err != nil {
			p.logger.WithError(err).Error("could not sign v3 pause message")
			return
		}
		p.broadcaster.PublishAndPause(ctx, signed, blockData.BlockNumber, 0)
		return
	}

	for _, m := range modules {
		signed, err := signer.SignPauseV2(p.key, prefixes.PausePrefix, blockData.BlockNumber, uint64(m.ID))
		if err != nil {
			p.logger.WithError(err).Errorf("could not sign v2 pause message for module %d", m.ID)
			continue
		}
		p.broadcaster.PublishAndPause(ctx, signed, blockData.BlockNumber, uint64(m.ID))
	}
}

// lidoWithdrawalCredentials reads Lido's configured withdrawal credentials.
// These are read once at startup (LIDO_WITHDRAWAL_CREDENTIALS) rather than
// on-chain every tick, since the ABI binding that would expose a getter is
// out-of-scope glue per spec.md §1.
func (p *Pipeline) lidoWithdrawalCredentials(ctx context.Context) ([32]byte, error) {
	return p.lidoWC, nil
}
