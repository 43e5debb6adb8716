// Package blsvalidator implements C6: BLS12-381 verification of deposit
// messages, with a pass/fail cache keyed by pubkey. Grounded directly on the
// teacher's DepositIndexer.checkDepositValidity, which builds the same
// DepositMessage/signing-root/blsu.Verify chain.
package blsvalidator

import (
	blsu "github.com/protolambda/bls12-381-util"
	zrnt_common "github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/tree"

	"github.com/lidofinance/council-daemon/internal/domain"
)

// depositAmountGwei is the fixed 32 ETH deposit amount used when computing
// the deposit message signing root (spec.md §4.6).
const depositAmountGwei = 32_000_000_000

type cacheEntry struct {
	depositSignature [96]byte
	wc               [32]byte
	valid            bool
}

// Validator verifies BLS signatures on deposit messages and caches results
// keyed by pubkey, invalidating on (signature, wc) change or a WC rotation.
type Validator struct {
	domain   zrnt_common.BLSDomain
	cache    map[[48]byte]cacheEntry
	verifyFn func(pubkey [48]byte, wc [32]byte, signature [96]byte) bool
}

// New computes the deposit signing domain from the chain's genesis fork
// version, matching the teacher's NewDepositIndexer setup.
func New(genesisForkVersion [4]byte) *Validator {
	d := zrnt_common.ComputeDomain(zrnt_common.DOMAIN_DEPOSIT, zrnt_common.Version(genesisForkVersion), zrnt_common.Root{})
	v := &Validator{
		domain: d,
		cache:  make(map[[48]byte]cacheEntry),
	}
	v.verifyFn = v.Verify
	return v
}

// SetVerifyFuncForTesting overrides the verification function, letting
// tests count/observe verifier invocations without doing real BLS math.
func (v *Validator) SetVerifyFuncForTesting(fn func(pubkey [48]byte, wc [32]byte, signature [96]byte) bool) {
	v.verifyFn = fn
}

// Verify checks a single deposit message's BLS signature. It does not
// consult or update the cache; callers needing the cache should use
// GetInvalidKeys.
func (v *Validator) Verify(pubkey [48]byte, wc [32]byte, signature [96]byte) bool {
	depositMsg := &zrnt_common.DepositMessage{
		Pubkey:                zrnt_common.BLSPubkey(pubkey),
		WithdrawalCredentials: tree.Root(wc),
		Amount:                zrnt_common.Gwei(depositAmountGwei),
	}
	depositRoot := depositMsg.HashTreeRoot(tree.GetHashFn())
	signingRoot := zrnt_common.ComputeSigningRoot(depositRoot, v.domain)

	pk, err := depositMsg.Pubkey.Pubkey()
	if err != nil {
		return false
	}
	sigData := zrnt_common.BLSSignature(signature)
	sig, err := sigData.Signature()
	if err != nil {
		return false
	}

	return blsu.Verify(pk, signingRoot[:], sig)
}

// GetInvalidKeys implements spec.md §4.6: returns the subset of keys whose
// deposit signature, verified against lidoWC, is invalid. Per-key results
// are cached by pubkey; a cache hit is reused only if (depositSignature, wc)
// is unchanged from the cached entry. Changing lidoWC invalidates every
// cached entry (full recomputation), since the signing root depends on wc.
func (v *Validator) GetInvalidKeys(keys []*domain.RegistryKey, lidoWC [32]byte) []*domain.RegistryKey {
	var invalid []*domain.RegistryKey

	for _, k := range keys {
		entry, ok := v.cache[k.Key]
		if ok && entry.depositSignature == k.DepositSignature && entry.wc == lidoWC {
			if !entry.valid {
				invalid = append(invalid, k)
			}
			continue
		}

		valid := v.verifyFn(k.Key, lidoWC, k.DepositSignature)
		v.cache[k.Key] = cacheEntry{depositSignature: k.DepositSignature, wc: lidoWC, valid: valid}
		if !valid {
			invalid = append(invalid, k)
		}
	}

	return invalid
}

// CacheSize exposes the cache's current size, used by metrics/tests.
func (v *Validator) CacheSize() int {
	return len(v.cache)
}
