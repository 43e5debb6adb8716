// Package duplicates implements C7: classifies vetted-unused keys into
// "original" vs "duplicate" across operators and staking modules.
package duplicates

import (
	"github.com/lidofinance/council-daemon/internal/domain"
)

// HistorySource resolves the earliest SigningKeyAdded event across all
// modules for a pubkey, or nil if none is known (internal/signingkeys.Cache
// satisfies this).
type HistorySource interface {
	EarliestForPubkey(pubkey [48]byte) (*domain.SigningKeyAddedEvent, error)
}

type instance struct {
	key      *domain.RegistryKey
	moduleID uint32
}

// Detect implements spec.md §4.7. It takes the set of vetted-unused keys
// across all modules (already excluding keys C6 flagged invalid) and the
// per-key module assignment, and returns, per module, the set of keys that
// must be treated as duplicates.
//
// Tie-break for the canonical original of a pubkey:
//  1. earliest SigningKeyAdded (blockNumber, logIndex) from history,
//  2. else lowest (moduleId, operatorIndex, index) lexicographically.
//
// If any cross-module copy of the (would-be) canonical pubkey has a
// different deposit signature, every instance of that pubkey is unsafe and
// all go into duplicatedKeys.
func Detect(history HistorySource, vettedUnusedByModule map[uint32][]*domain.RegistryKey) (map[uint32][]*domain.RegistryKey, error) {
	byPubkey := map[[48]byte][]instance{}

	for moduleID, keys := range vettedUnusedByModule {
		for _, k := range keys {
			byPubkey[k.Key] = append(byPubkey[k.Key], instance{key: k, moduleID: moduleID})
		}
	}

	result := map[uint32][]*domain.RegistryKey{}

	for pubkey, instances := range byPubkey {
		if len(instances) == 1 {
			continue
		}

		if signaturesDiffer(instances) {
			for _, inst := range instances {
				result[inst.moduleID] = append(result[inst.moduleID], inst.key)
			}
			continue
		}

		canonical, err := canonicalInstance(history, pubkey, instances)
		if err != nil {
			return nil, err
		}

		for _, inst := range instances {
			if inst.key == canonical.key {
				continue
			}
			result[inst.moduleID] = append(result[inst.moduleID], inst.key)
		}
	}

	return result, nil
}

func signaturesDiffer(instances []instance) bool {
	first := instances[0].key.DepositSignature
	for _, inst := range instances[1:] {
		if inst.key.DepositSignature != first {
			return true
		}
	}
	return false
}

func canonicalInstance(history HistorySource, pubkey [48]byte, instances []instance) (instance, error) {
	earliest, err := history.EarliestForPubkey(pubkey)
	if err != nil {
		return instance{}, err
	}

	if earliest != nil {
		for _, inst := range instances {
			if inst.moduleID == earliest.ModuleID && inst.key.OperatorIndex == earliest.OperatorIndex {
				return inst, nil
			}
		}
		// History points at an instance no longer in the vetted-unused set
		// (e.g. since used or unvetted) — fall through to the lexicographic
		// fallback rather than fail the tick.
	}

	return lowestLexicographic(instances), nil
}

func lowestLexicographic(instances []instance) instance {
	lowest := instances[0]
	for _, inst := range instances[1:] {
		if less(inst, lowest) {
			lowest = inst
		}
	}
	return lowest
}

func less(a, b instance) bool {
	if a.moduleID != b.moduleID {
		return a.moduleID < b.moduleID
	}
	if a.key.OperatorIndex != b.key.OperatorIndex {
		return a.key.OperatorIndex < b.key.OperatorIndex
	}
	return a.key.Index < b.key.Index
}
