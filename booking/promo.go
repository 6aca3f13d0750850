package booking

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Quote is the result of evaluating a promo code against a price.
// A Quote with Valid == false always carries a zero DiscountAmount.
type Quote struct {
	Code           string
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	DiscountAmount decimal.Decimal
	Valid          bool
}

// FinalPrice applies the quote to price.
func (q Quote) FinalPrice(price decimal.Decimal) decimal.Decimal {
	return FinalPrice(price, q.DiscountAmount)
}

// Discount computes the discount a rule yields on price, ignoring validity.
//
//	percentage: round(price * value / 100, 2)
//	fixed:      min(value, price)
//
// The result never exceeds price.
func Discount(p PromoCode, price decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 || p.DiscountValue.Sign() <= 0 {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		d = price.Mul(p.DiscountValue).Div(hundred).Round(2)
	case DiscountFixed:
		d = p.DiscountValue
	default:
		return decimal.Zero
	}
	return decimal.Min(d, price)
}

// PromoEvaluator prices promo codes. It only reads from the PromoStore.
type PromoEvaluator struct {
	promos PromoStore
	clock  Clock
}

func NewPromoEvaluator(promos PromoStore, clock Clock) PromoEvaluator {
	if clock == nil {
		clock = SystemClock()
	}
	return PromoEvaluator{promos: promos, clock: clock}
}

// Evaluate looks up code and prices it against price.
//
// Unknown, inactive and expired codes yield an invalid Quote with a nil
// error; they never fail the caller. Only a non-positive price or a storage
// fault returns an error.
func (pe PromoEvaluator) Evaluate(ctx context.Context, code string, price decimal.Decimal) (Quote, error) {
	if price.Sign() <= 0 {
		return Quote{}, &ValidationError{Field: "originalPrice", Reason: "must be a positive number"}
	}

	code = NormalizeCode(code)
	q := Quote{Code: code, DiscountAmount: decimal.Zero}
	if code == "" || len(code) > MaxPromoCodeLength {
		return q, nil
	}

	p, err := pe.promos.GetPromo(ctx, code)
	if errors.Is(err, ErrPromoNotFound) {
		return q, nil
	}
	if err != nil {
		return Quote{}, err
	}

	q.DiscountType = p.DiscountType
	q.DiscountValue = p.DiscountValue
	if !p.IsValid(pe.clock.Now()) {
		return q, nil
	}
	q.Valid = true
	q.DiscountAmount = Discount(p, price)
	return q, nil
}
