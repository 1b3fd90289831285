// Package fees implements the flat marketplace fee policy
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidPercentage is returned for percentages above 100
var ErrInvalidPercentage = errors.New("fee percentage must be at most 100")

var oneHundred = decimal.NewFromInt(100)

// ValidatePercent rejects percentages above 100. Zero is valid and disables
// the fee.
func ValidatePercent(percent uint32) error {
	if percent > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidPercentage, percent)
	}
	return nil
}

// ComputeFee returns floor(salePrice * percent / 100). The product is formed
// in arbitrary precision, so salePrice values near the int64 ceiling cannot
// overflow. For percent <= 100 the fee never exceeds salePrice.
func ComputeFee(salePrice int64, percent uint32) int64 {
	product := decimal.NewFromInt(salePrice).Mul(decimal.NewFromInt(int64(percent)))
	quotient, _ := product.QuoRem(oneHundred, 0)
	return quotient.IntPart()
}

// Breakdown is the split of a buyer's payment for a completed sale
type Breakdown struct {
	Price          int64
	Fee            int64
	SellerProceeds int64
	Refund         int64
}

// Split computes the full disbursement for a payment against a sale price.
// SellerProceeds + Fee + Refund always equals paidAmount.
func Split(salePrice, paidAmount int64, percent uint32) Breakdown {
	fee := ComputeFee(salePrice, percent)
	return Breakdown{
		Price:          salePrice,
		Fee:            fee,
		SellerProceeds: salePrice - fee,
		Refund:         paidAmount - salePrice,
	}
}
