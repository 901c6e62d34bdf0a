package adapters

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	t.Run("accepts a lower-case address and returns its checksum form", func(t *testing.T) {
		got, err := NormalizeAddress("0x00000000000000000000000000000000000000aa")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, "0x"))
		assert.NotEqual(t, "0x00000000000000000000000000000000000000aa", got, "checksum casing should differ from the all-lower input")
	})

	t.Run("rejects a malformed address", func(t *testing.T) {
		_, err := NormalizeAddress("not-an-address")
		assert.Error(t, err)
	})

	t.Run("rejects a short address", func(t *testing.T) {
		_, err := NormalizeAddress("0xaa")
		assert.Error(t, err)
	})
}

func TestValidateCalldata(t *testing.T) {
	t.Run("rejects non-hex calldata", func(t *testing.T) {
		err := ValidateCalldata("not-hex", nil)
		assert.Error(t, err)
	})

	t.Run("rejects calldata shorter than a selector", func(t *testing.T) {
		err := ValidateCalldata("0xaabb", nil)
		assert.Error(t, err)
	})

	t.Run("accepts a bare selector when no method is given", func(t *testing.T) {
		err := ValidateCalldata("0xaabbccdd", nil)
		assert.NoError(t, err)
	})

	t.Run("rejects a selector mismatch against a resolved method", func(t *testing.T) {
		method := transferMethod(t)
		err := ValidateCalldata("0xdeadbeef"+"00000000000000000000000000000000000000000000000000000000000000aa", &method)
		assert.Error(t, err)
	})

	t.Run("matching selector but truncated arguments fails to decode", func(t *testing.T) {
		method := transferMethod(t)
		selector := hexEncode(method.ID)
		err := ValidateCalldata("0x"+selector+"aabb", &method)
		assert.Error(t, err, "selector matches but the argument bytes are too short to decode")
	})
}

func transferMethod(t *testing.T) abi.Method {
	t.Helper()
	addrType, err := abi.NewType("address", "", nil)
	require.NoError(t, err)
	amountType, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	return abi.NewMethod("transfer", "transfer", abi.Function, "nonpayable", false, false,
		abi.Arguments{{Name: "to", Type: addrType}, {Name: "amount", Type: amountType}},
		nil,
	)
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
