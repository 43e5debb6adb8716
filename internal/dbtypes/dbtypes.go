// Package dbtypes holds the row shapes persisted by internal/db, mirroring
// the key-value layout described in spec.md §6 ("Persisted KV layout").
package dbtypes

// DepositEventRow is the persisted shape of a domain.VerifiedDepositEvent,
// keyed by (block_number, log_index).
type DepositEventRow struct {
	BlockNumber           uint64 `db:"block_number"`
	LogIndex              uint64 `db:"log_index"`
	BlockHash             []byte `db:"block_hash"`
	Pubkey                []byte `db:"pubkey"`
	WithdrawalCredentials []byte `db:"withdrawal_credentials"`
	AmountGwei            uint64 `db:"amount_gwei"`
	Signature             []byte `db:"signature"`
	DepositCount          uint64 `db:"deposit_count"`
	DepositDataRoot       []byte `db:"deposit_data_root"`
	TxHash                []byte `db:"tx_hash"`
	Valid                 bool   `db:"valid"`
}

// SigningKeyEventRow is the persisted shape of a
// domain.SigningKeyAddedEvent, keyed by (module_address, block_number,
// log_index).
type SigningKeyEventRow struct {
	ModuleAddress []byte `db:"module_address"`
	ModuleID      uint32 `db:"module_id"`
	BlockNumber   uint64 `db:"block_number"`
	LogIndex      uint64 `db:"log_index"`
	OperatorIndex uint32 `db:"operator_index"`
	Pubkey        []byte `db:"pubkey"`
}

// KVStateRow is a generic namespaced key/value row used for headers
// (startBlock/endBlock/stakingModulesAddresses), lastValidEvent and
// lastProcessedState.
type KVStateRow struct {
	Namespace string `db:"namespace"`
	Key       string `db:"key"`
	Value     []byte `db:"value"`
}

// Namespaces used in the kv_state table, matching spec.md §6's two logical
// namespaces plus the block-guard's own state.
const (
	NamespaceDepositEvents   = "deposit_events"
	NamespaceSigningKeyEvents = "signing_key_events"
	NamespaceBlockGuard      = "block_guard"
)

// Well-known keys within a namespace.
const (
	KeyStartBlock               = "startBlock"
	KeyEndBlock                 = "endBlock"
	KeyLastValidEvent           = "lastValidEvent"
	KeyStakingModulesAddresses  = "stakingModulesAddresses"
	KeyLastProcessedStateMeta   = "lastProcessedStateMeta"
)
