package adapters

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a hex address (with or without 0x prefix) and
// returns its canonical EIP-55 checksummed form, or an error if addr is
// not a well-formed 20-byte address.
func NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("adapters: %q is not a valid address", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// ValidateCalldata checks that calldata is well-formed ABI-encoded input
// for the given method: valid hex, at least a 4-byte selector, and (when
// method is non-nil) a selector match plus decodable arguments. A nil
// method only checks hex well-formedness and selector length, for callers
// that have not resolved the target contract's ABI.
func ValidateCalldata(calldataHex string, method *abi.Method) error {
	trimmed := strings.TrimPrefix(calldataHex, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return fmt.Errorf("adapters: calldata is not valid hex: %w", err)
	}
	if len(raw) < 4 {
		return fmt.Errorf("adapters: calldata shorter than a 4-byte selector")
	}
	if method == nil {
		return nil
	}
	if !sameBytes(raw[:4], method.ID) {
		return fmt.Errorf("adapters: calldata selector does not match method %q", method.Name)
	}
	args := make(map[string]any)
	if err := method.Inputs.UnpackIntoMap(args, raw[4:]); err != nil {
		return fmt.Errorf("adapters: failed to decode calldata arguments: %w", err)
	}
	return nil
}

func sameBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
