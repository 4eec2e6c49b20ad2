package domain

import "time"

type DiscountType string

const (
	DiscountAmount  DiscountType = "Amount"
	DiscountPercent DiscountType = "Percent"
)

// Voucher status values.
const (
	VoucherActive   = "Active"
	VoucherInactive = "Inactive"
)

type Voucher struct {
	Code           string       `db:"code" json:"MaVoucher"`
	DiscountType   DiscountType `db:"discount_type" json:"LoaiGiamGia"`
	Value          int64        `db:"value" json:"GiaTri"`
	MaxDiscount    *int64       `db:"max_discount" json:"GiamToiDa,omitempty"`
	MinOrderValue  int64        `db:"min_order_value" json:"GiaTriToiThieu"`
	MaxRedemptions int64        `db:"max_redemptions" json:"SoLuongToiDa"`
	Redeemed       int64        `db:"redeemed" json:"DaSuDung"`
	ValidFrom      time.Time    `db:"valid_from" json:"NgayBatDau"`
	ValidTo        time.Time    `db:"valid_to" json:"NgayKetThuc"`
	Status         string       `db:"status" json:"TrangThai"`
}
