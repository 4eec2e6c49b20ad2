package domain

// PointValue is the currency value of one loyalty point.
const PointValue int64 = 1000

type OrderStatus string

const (
	OrderProcessing OrderStatus = "Processing"
	OrderCompleted  OrderStatus = "Completed"
	OrderCancelled  OrderStatus = "Cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderProcessing, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return s == OrderProcessing && (next == OrderCompleted || next == OrderCancelled)
}

func (s OrderStatus) String() string {
	return string(s)
}

type Order struct {
	ID           int64       `db:"id" json:"MaDonHang"`
	TableID      int64       `db:"table_id" json:"MaBan"`
	StaffID      int64       `db:"staff_id" json:"MaNV"`
	CustomerID   *int64      `db:"customer_id" json:"MaKH"`
	Status       OrderStatus `db:"status" json:"TrangThai"`
	Total        int64       `db:"total" json:"TongTien"`
	PointsUsed   int64       `db:"points_used" json:"DiemSuDung"`
	CancelReason *string     `db:"cancel_reason" json:"LyDoHuy,omitempty"`
	Version      int64       `db:"version" json:"PhienBan"`
	CreatedAt    string      `db:"created_at" json:"NgayTao"`
	UpdatedAt    string      `db:"updated_at" json:"NgayCapNhat"`
}

// OrderLine keeps the item name and unit price as they were when the line was
// added, so later menu price changes do not touch existing orders.
type OrderLine struct {
	ID        int64  `db:"id" json:"MaCTDH"`
	OrderID   int64  `db:"order_id" json:"MaDonHang"`
	ItemID    int64  `db:"item_id" json:"MaMon"`
	Name      string `db:"name" json:"TenMon"`
	UnitPrice int64  `db:"unit_price" json:"DonGia"`
	Quantity  int64  `db:"quantity" json:"SoLuong"`
	Note      string `db:"note" json:"GhiChu"`
}

func (l OrderLine) Amount() int64 {
	return l.UnitPrice * l.Quantity
}

func Subtotal(lines []OrderLine) int64 {
	var sum int64
	for _, l := range lines {
		sum += l.Amount()
	}
	return sum
}

// MaxRedeemablePoints is min(available, floor(subtotal/PointValue)), never
// negative.
func MaxRedeemablePoints(available, subtotal int64) int64 {
	if available < 0 || subtotal <= 0 {
		return 0
	}
	limit := subtotal / PointValue
	if available < limit {
		return available
	}
	return limit
}

// OrderTotal is the amount payable after the point discount.
func OrderTotal(subtotal, pointsUsed int64) int64 {
	total := subtotal - pointsUsed*PointValue
	if total < 0 {
		return 0
	}
	return total
}
