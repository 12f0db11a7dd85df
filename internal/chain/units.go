package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const nativeDecimals = 18

// FromUnits converts a base-unit integer amount into a decimal with the given decimals.
func FromUnits(amount *big.Int, decimals int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ToUnits is the inverse of FromUnits. Fractions below one base unit are truncated.
func ToUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

func WeiToNative(wei *big.Int) decimal.Decimal { return FromUnits(wei, nativeDecimals) }

func NativeToWei(amount decimal.Decimal) *big.Int { return ToUnits(amount, nativeDecimals) }
