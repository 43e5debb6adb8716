package guardian

import (
	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/keysapi"
)

func buildModules(resp *keysapi.OperatorsResponse) ([]*domain.StakingModule, map[[20]byte]uint32, error) {
	modules := make([]*domain.StakingModule, 0, len(resp.Data))
	moduleIDByAddress := make(map[[20]byte]uint32, len(resp.Data))

	for _, entry := range resp.Data {
		m, err := stakingModuleFromDTO(entry.Module.ID, entry.Module.Address, entry.Module.Nonce, entry.Module.Type)
		if err != nil {
			return nil, nil, err
		}
		modules = append(modules, m)
		moduleIDByAddress[m.Address] = m.ID
	}

	return modules, moduleIDByAddress, nil
}

func groupOperatorsByModule(resp *keysapi.OperatorsResponse) (map[uint32][]*domain.Operator, error) {
	out := make(map[uint32][]*domain.Operator, len(resp.Data))
	for _, entry := range resp.Data {
		ops := make([]*domain.Operator, 0, len(entry.Operators))
		for _, dto := range entry.Operators {
			op, err := operatorFromDTO(dto)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
		out[entry.Module.ID] = ops
	}
	return out, nil
}

func groupKeysByModule(resp *keysapi.KeysResponse, moduleIDByAddress map[[20]byte]uint32) (map[uint32][]*domain.RegistryKey, error) {
	out := map[uint32][]*domain.RegistryKey{}
	for _, dto := range resp.Data {
		key, err := registryKeyFromDTO(dto, moduleIDByAddress)
		if err != nil {
			return nil, err
		}
		out[key.ModuleID] = append(out[key.ModuleID], key)
	}
	return out, nil
}

// unusedKeysForModule implements spec.md §4.10 step 7's
// "!used ∧ moduleAddress == module.address" filter (the module scoping
// already happened in groupKeysByModule).
func unusedKeysForModule(keys []*domain.RegistryKey) []*domain.RegistryKey {
	var out []*domain.RegistryKey
	for _, k := range keys {
		if !k.Used {
			out = append(out, k)
		}
	}
	return out
}

// vettedUnusedKeys implements spec.md §7: a key is vetted-unused if it is
// unused and its index falls within its operator's staking limit
// (Operator.IsVetted), matching the deposit contract's own vetting rule.
func vettedUnusedKeys(unused []*domain.RegistryKey, operators []*domain.Operator) []*domain.RegistryKey {
	byOperator := make(map[uint32]*domain.Operator, len(operators))
	for _, op := range operators {
		byOperator[op.Index] = op
	}

	var out []*domain.RegistryKey
	for _, k := range unused {
		op, ok := byOperator[k.OperatorIndex]
		if !ok {
			continue
		}
		if op.VettedUnusedCount() == 0 {
			continue
		}
		if op.IsVetted(uint64(k.Index)) {
			out = append(out, k)
		}
	}
	return out
}

// excludeKeys returns the keys in vetted whose pubkey is not present in
// invalid, preserving order. Used to keep C6-invalid keys out of C7's
// duplicate consideration (spec.md §4.7).
func excludeKeys(vetted, invalid []*domain.RegistryKey) []*domain.RegistryKey {
	if len(invalid) == 0 {
		return vetted
	}
	skip := make(map[[48]byte]bool, len(invalid))
	for _, k := range invalid {
		skip[k.Key] = true
	}
	out := make([]*domain.RegistryKey, 0, len(vetted))
	for _, k := range vetted {
		if !skip[k.Key] {
			out = append(out, k)
		}
	}
	return out
}

// unvetPayloadFor computes, per operator with at least one flagged key
// (front-run, invalid or duplicate), the new vetted-unused count to submit:
// the lowest flagged key index for that operator, so every key at or after
// the first known-bad one is unvetted. This resolves an open question the
// spec leaves implicit (it only says "new vetted counts packed per §6"
// without specifying the reduction rule).
func unvetPayloadFor(md *domain.StakingModuleData) (operatorIndices, newVettedCounts []uint64) {
	lowestBadIndexByOperator := map[uint32]uint64{}

	consider := func(keys []*domain.RegistryKey) {
		for _, k := range keys {
			idx := uint64(k.Index)
			if cur, ok := lowestBadIndexByOperator[k.OperatorIndex]; !ok || idx < cur {
				lowestBadIndexByOperator[k.OperatorIndex] = idx
			}
		}
	}
	consider(md.FrontRunKeys)
	consider(md.InvalidKeys)
	consider(md.DuplicatedKeys)

	operatorIndices = make([]uint64, 0, len(lowestBadIndexByOperator))
	for opIdx := range lowestBadIndexByOperator {
		operatorIndices = append(operatorIndices, uint64(opIdx))
	}
	// deterministic ordering for a stable ABI encoding across retries
	sortUint64(operatorIndices)

	newVettedCounts = make([]uint64, len(operatorIndices))
	for i, opIdx := range operatorIndices {
		newVettedCounts[i] = lowestBadIndexByOperator[uint32(opIdx)]
	}

	return operatorIndices, newVettedCounts
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
