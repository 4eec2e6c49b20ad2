package domain

// Customer is a loyalty account. Points is the balance still available for
// redemption; points already applied to an open order are not part of it.
type Customer struct {
	ID        int64  `db:"id" json:"MaKH"`
	Name      string `db:"name" json:"HoTen"`
	Phone     string `db:"phone" json:"SoDienThoai"`
	Points    int64  `db:"points" json:"DiemTichLuy"`
	CreatedAt string `db:"created_at" json:"NgayTao"`
}

// PointEntry is one signed movement on a customer's point balance.
type PointEntry struct {
	ID             string `db:"id" json:"MaGiaoDich"`
	CustomerID     int64  `db:"customer_id" json:"MaKH"`
	Points         int64  `db:"points" json:"SoDiem"`
	Reason         string `db:"reason" json:"LyDo"`
	OrderID        *int64 `db:"order_id" json:"MaDonHang,omitempty"`
	IdempotencyKey string `db:"idempotency_key" json:"KhoaYeuCau,omitempty"`
	CreatedAt      string `db:"created_at" json:"NgayTao"`
}
