package guard

import (
	"fmt"
	"math/big"

	"energon/pkg/models"
)

// ClampQuantity bounds a requested mint quantity to [1, limit].
func ClampQuantity(q, limit int) int {
	if limit < 1 {
		limit = 1
	}
	if q < 1 {
		return 1
	}
	if q > limit {
		return limit
	}
	return q
}

// CheckMint applies the mint preconditions: connected, on the expected
// chain, price loaded.
func CheckMint(session models.WalletSession, price *big.Int) error {
	if !session.Connected() {
		return models.ErrWalletUnavailable
	}
	if !session.OnExpectedChain() {
		return models.ErrWrongChain
	}
	if price == nil {
		return fmt.Errorf("%w: mint price not loaded", models.ErrReadFailure)
	}
	return nil
}

// MintValue is the payable amount for quantity tokens.
func MintValue(price *big.Int, quantity int) *big.Int {
	return new(big.Int).Mul(price, big.NewInt(int64(quantity)))
}
