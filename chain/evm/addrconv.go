package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress converts an EVM address string to a common.Address.
// EVM addresses are hex strings (with or without 0x prefix) representing 20 bytes. Mixed-case
// input must carry a valid EIP-55 checksum.
func ParseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("invalid EVM address format: %q", address)
	}

	addr := common.HexToAddress(address)

	hexPart := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	isMixedCase := strings.ToLower(hexPart) != hexPart && strings.ToUpper(hexPart) != hexPart
	if isMixedCase && "0x"+hexPart != addr.Hex() {
		return common.Address{}, fmt.Errorf("invalid EIP-55 checksum for EVM address %q", address)
	}

	return addr, nil
}
