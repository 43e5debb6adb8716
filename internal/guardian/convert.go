package guardian

import (
	"fmt"

	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/keysapi"
	"github.com/lidofinance/council-daemon/internal/merkletree"
)

func hexToArr20(s string) ([20]byte, error) {
	var out [20]byte
	b, err := merkletree.ParseHex(s, 20)
	if err != nil {
		return out, fmt.Errorf("could not parse address %q: %v", s, err)
	}
	copy(out[:], b)
	return out, nil
}

func hexToArr32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := merkletree.ParseHex(s, 32)
	if err != nil {
		return out, fmt.Errorf("could not parse hash %q: %v", s, err)
	}
	copy(out[:], b)
	return out, nil
}

func hexToArr48(s string) ([48]byte, error) {
	var out [48]byte
	b, err := merkletree.ParseHex(s, 48)
	if err != nil {
		return out, fmt.Errorf("could not parse pubkey %q: %v", s, err)
	}
	copy(out[:], b)
	return out, nil
}

func hexToArr96(s string) ([96]byte, error) {
	var out [96]byte
	b, err := merkletree.ParseHex(s, 96)
	if err != nil {
		return out, fmt.Errorf("could not parse signature %q: %v", s, err)
	}
	copy(out[:], b)
	return out, nil
}

// registryKeyFromDTO converts a single keys-index key DTO to the domain
// shape, resolving its module address into the module ID the rest of the
// pipeline keys everything by.
func registryKeyFromDTO(dto keysapi.RegistryKeyDTO, moduleIDByAddress map[[20]byte]uint32) (*domain.RegistryKey, error) {
	key, err := hexToArr48(dto.Key)
	if err != nil {
		return nil, err
	}
	sig, err := hexToArr96(dto.DepositSignature)
	if err != nil {
		return nil, err
	}
	moduleAddress, err := hexToArr20(dto.ModuleAddress)
	if err != nil {
		return nil, err
	}

	return &domain.RegistryKey{
		Key:              key,
		DepositSignature: sig,
		OperatorIndex:    dto.OperatorIndex,
		Used:             dto.Used,
		Index:            dto.Index,
		ModuleAddress:    moduleAddress,
		ModuleID:         moduleIDByAddress[moduleAddress],
	}, nil
}

func operatorFromDTO(dto keysapi.OperatorDTO) (*domain.Operator, error) {
	reward, err := hexToArr20(dto.RewardAddress)
	if err != nil {
		return nil, err
	}
	return &domain.Operator{
		Index:                    dto.Index,
		StakingLimit:             dto.StakingLimit,
		TotalDepositedValidators: dto.TotalDepositedValidators,
		TotalAddedValidators:     dto.TotalAddedValidators,
		RewardAddress:            reward,
	}, nil
}

func stakingModuleFromDTO(id uint32, address string, nonce uint64, moduleType string) (*domain.StakingModule, error) {
	addr, err := hexToArr20(address)
	if err != nil {
		return nil, err
	}
	return &domain.StakingModule{
		ID:      id,
		Address: addr,
		Nonce:   nonce,
		Type:    domain.StakingModuleType(moduleType),
	}, nil
}
