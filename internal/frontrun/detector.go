// Package frontrun implements C8: cross-checking on-chain deposits against
// the vetted keys of Lido modules, both for live front-run attempts and for
// detecting historical theft.
package frontrun

import (
	"context"

	"github.com/lidofinance/council-daemon/internal/domain"
)

// KeyFinder resolves whether Lido actually owns a set of pubkeys, backing
// the /v1/keys/find confirmation step in spec.md §4.8(b)
// (internal/keysapi.Client satisfies a thin wrapper around this).
type KeyFinder interface {
	FindKeys(ctx context.Context, pubkeys []string) (ownedByLido map[[48]byte]bool, err error)
}

// OnChainFrontRun implements spec.md §4.8(a): intersect the current cycle's
// deposited events with the vetted-unused keys across all modules, keeping
// only intersections with a non-Lido WC and a valid BLS signature. Returns
// the matching registry keys, to be recorded into each module's
// frontRunKeys.
func OnChainFrontRun(depositedEvents []*domain.VerifiedDepositEvent, lidoWC [32]byte, vettedUnusedByModule map[uint32][]*domain.RegistryKey) map[uint32][]*domain.RegistryKey {
	depositedByPubkey := map[[48]byte][]*domain.VerifiedDepositEvent{}
	for _, e := range depositedEvents {
		depositedByPubkey[e.Pubkey] = append(depositedByPubkey[e.Pubkey], e)
	}

	result := map[uint32][]*domain.RegistryKey{}

	for moduleID, keys := range vettedUnusedByModule {
		for _, k := range keys {
			for _, e := range depositedByPubkey[k.Key] {
				if e.WithdrawalCredentials != lidoWC && e.Valid {
					result[moduleID] = append(result[moduleID], k)
					break
				}
			}
		}
	}

	return result
}

// HistoricalFrontRun implements spec.md §4.8(b). It groups deposited events
// by pubkey, finds the canonical (earliest) Lido-WC deposit per pubkey, and
// flags any earlier non-Lido-WC deposit of the same pubkey as a front-run.
// If any such pubkeys exist, it confirms Lido ownership via the keys-index
// and returns theftHappened=true only if confirmed. theftHappened is a
// one-shot global flag, not per-module.
func HistoricalFrontRun(ctx context.Context, finder KeyFinder, depositedEvents []*domain.VerifiedDepositEvent, lidoWC [32]byte) (bool, error) {
	byPubkey := map[[48]byte][]*domain.VerifiedDepositEvent{}
	for _, e := range depositedEvents {
		byPubkey[e.Pubkey] = append(byPubkey[e.Pubkey], e)
	}

	suspectPubkeys := map[[48]byte]bool{}

	for pubkey, events := range byPubkey {
		var canonical *domain.VerifiedDepositEvent
		for _, e := range events {
			if e.WithdrawalCredentials == lidoWC && e.Valid {
				if canonical == nil || isEarlier(e, canonical) {
					canonical = e
				}
			}
		}
		if canonical == nil {
			continue
		}

		for _, e := range events {
			if e.WithdrawalCredentials == lidoWC {
				continue
			}
			if isEarlier(e, canonical) {
				suspectPubkeys[pubkey] = true
				break
			}
		}
	}

	if len(suspectPubkeys) == 0 {
		return false, nil
	}

	hexKeys := make([]string, 0, len(suspectPubkeys))
	pubkeys := make([][48]byte, 0, len(suspectPubkeys))
	for pk := range suspectPubkeys {
		pubkeys = append(pubkeys, pk)
		hexKeys = append(hexKeys, hexEncode(pk[:]))
	}

	owned, err := finder.FindKeys(ctx, hexKeys)
	if err != nil {
		return false, err
	}

	for _, pk := range pubkeys {
		if owned[pk] {
			return true, nil
		}
	}

	return false, nil
}

// isEarlier implements the isFirstEventEarlier predicate from spec.md §4.8:
// same-block compares logIndex, else compares blockNumber.
func isEarlier(a, b *domain.VerifiedDepositEvent) bool {
	if a.BlockNumber == b.BlockNumber {
		return a.LogIndex < b.LogIndex
	}
	return a.BlockNumber < b.BlockNumber
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, v := range b {
		out[2+i*2] = hextable[v>>4]
		out[3+i*2] = hextable[v&0x0f]
	}
	return string(out)
}
