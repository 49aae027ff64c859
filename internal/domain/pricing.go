package domain

import "strings"

// UnitSurchargeSchedule configures how the per-unit price of a single
// item grows with the number of sketched subjects. A two-subject piece
// carries a fixed surcharge; each subject beyond the first on larger
// pieces adds a smaller per-subject rate. The asymmetry between the two
// tiers is deliberate pricing policy.
type UnitSurchargeSchedule struct {
	TwoUnitSurcharge  int64
	PerAdditionalUnit int64
}

// PricingSchedule keys the unit surcharge rates by size tier. Larger
// pieces carry higher per-subject rates, so each variant may override
// the default schedule; variants without an entry fall back to Default.
type PricingSchedule struct {
	Default UnitSurchargeSchedule
	Tiers   map[string]UnitSurchargeSchedule
}

// ForVariant resolves the surcharge schedule for the named variant
// tier. Lookup is case-insensitive; an empty or unknown name uses the
// default schedule.
func (s PricingSchedule) ForVariant(name string) UnitSurchargeSchedule {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		if schedule, ok := s.Tiers[name]; ok {
			return schedule
		}
	}
	return s.Default
}

// ComputeUnitPrice derives the final per-line unit price in paise from
// the base catalog price, the selected variant adjustment, the subject
// count, and any flat add-on (framing) cost. The result never goes
// negative and is non-decreasing in unitCount for any valid schedule.
func ComputeUnitPrice(base, variantAdjustment int64, unitCount int, schedule UnitSurchargeSchedule, addOnCost int64) int64 {
	price := base + variantAdjustment
	switch {
	case unitCount == 2:
		price += schedule.TwoUnitSurcharge
	case unitCount > 2:
		price += int64(unitCount-1) * schedule.PerAdditionalUnit
	}
	price += addOnCost
	if price < 0 {
		return 0
	}
	return price
}

// Subtotal sums unit price times quantity across the given items.
func Subtotal(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		total += item.UnitPrice * int64(qty)
	}
	return total
}

// ChargeBaseline carries the flat charges applied before coupons.
type ChargeBaseline struct {
	DeliveryCharge  int64
	PackagingCharge int64
}

// Summarize derives the charge summary for a set of items under an
// optionally applied coupon. A delivery or packaging coupon zeroes the
// matching charge; any other coupon discounts the subtotal, either by
// percentage (integer paise, truncated) or by a fixed amount clamped to
// the subtotal. The returned Total excludes the packaging charge: it is
// reported on the summary but collected separately at fulfilment.
func Summarize(items []LineItem, coupon *Coupon, baseline ChargeBaseline) ChargeSummary {
	summary := ChargeSummary{
		Subtotal:        Subtotal(items),
		DeliveryCharge:  baseline.DeliveryCharge,
		PackagingCharge: baseline.PackagingCharge,
	}
	if coupon != nil {
		switch coupon.Kind {
		case CouponKindDelivery:
			summary.DeliveryCharge = applyChargeDiscount(summary.DeliveryCharge, *coupon)
		case CouponKindPackaging:
			summary.PackagingCharge = applyChargeDiscount(summary.PackagingCharge, *coupon)
		default:
			summary.Discount = discountAmount(summary.Subtotal, *coupon)
		}
	}
	total := summary.Subtotal + summary.DeliveryCharge - summary.Discount
	if total < 0 {
		total = 0
	}
	summary.Total = total
	return summary
}

func discountAmount(subtotal int64, coupon Coupon) int64 {
	var amount int64
	switch coupon.DiscountKind {
	case DiscountKindPercentage:
		amount = subtotal * coupon.DiscountValue / 100
	default:
		amount = coupon.DiscountValue
	}
	if amount < 0 {
		amount = 0
	}
	if amount > subtotal {
		amount = subtotal
	}
	return amount
}

func applyChargeDiscount(charge int64, coupon Coupon) int64 {
	remaining := charge - discountAmountForCharge(charge, coupon)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func discountAmountForCharge(charge int64, coupon Coupon) int64 {
	switch coupon.DiscountKind {
	case DiscountKindPercentage:
		return charge * coupon.DiscountValue / 100
	default:
		return coupon.DiscountValue
	}
}
