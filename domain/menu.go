package domain

// Menu item availability.
const (
	ItemAvailable   = "Còn bán"
	ItemUnavailable = "Ngừng bán"
)

type Category struct {
	ID   int64  `db:"id" json:"MaLoai"`
	Name string `db:"name" json:"TenLoai"`
}

type MenuItem struct {
	ID         int64  `db:"id" json:"MaMon"`
	Name       string `db:"name" json:"TenMon"`
	Price      int64  `db:"price" json:"DonGia"`
	Status     string `db:"status" json:"TrangThai"`
	CategoryID int64  `db:"category_id" json:"MaLoai"`
}

func (m MenuItem) Available() bool {
	return m.Status == ItemAvailable
}
