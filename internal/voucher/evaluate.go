// Package voucher validates and redeems code-based discounts. Vouchers are
// independent of loyalty points and never change an order's stored total.
package voucher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cafepos/m/domain"
)

var hundred = decimal.NewFromInt(100)

// Evaluate returns the discount v gives on an order of total at now. It does
// not consume the voucher.
func Evaluate(v domain.Voucher, total int64, now time.Time) (int64, error) {
	if err := usable(v, now); err != nil {
		return 0, err
	}
	if total < v.MinOrderValue {
		return 0, invalid("below_min_order", fmt.Sprintf("Mã %s chỉ áp dụng cho đơn từ %dđ", v.Code, v.MinOrderValue))
	}

	var discount int64
	switch v.DiscountType {
	case domain.DiscountAmount:
		discount = v.Value
	case domain.DiscountPercent:
		discount = decimal.NewFromInt(total).
			Mul(decimal.NewFromInt(v.Value)).
			Div(hundred).
			Floor().
			IntPart()
		if v.MaxDiscount != nil && discount > *v.MaxDiscount {
			discount = *v.MaxDiscount
		}
	default:
		return 0, invalid("unknown_discount_type", fmt.Sprintf("Mã %s có loại giảm giá %q không hợp lệ", v.Code, v.DiscountType))
	}
	if discount > total {
		discount = total
	}
	return discount, nil
}

// usable checks everything except the order value.
func usable(v domain.Voucher, now time.Time) error {
	switch {
	case v.Status != domain.VoucherActive:
		return invalid("voucher_inactive", fmt.Sprintf("Mã %s đang tạm ngưng", v.Code))
	case now.Before(v.ValidFrom):
		return invalid("voucher_not_started", fmt.Sprintf("Mã %s chưa đến thời gian áp dụng", v.Code))
	case now.After(v.ValidTo):
		return invalid("voucher_expired", fmt.Sprintf("Mã %s đã hết hạn", v.Code))
	case v.Redeemed >= v.MaxRedemptions:
		return invalid("voucher_exhausted", fmt.Sprintf("Mã %s đã hết lượt sử dụng", v.Code))
	}
	return nil
}

func invalid(code, message string) error {
	return domain.NewBusinessError(domain.ErrVoucherInvalid, code, message)
}
