package domain

// Table occupancy.
const (
	TableFree     = "Trống"
	TableOccupied = "Có khách"
)

type Table struct {
	ID     int64  `db:"id" json:"MaBan"`
	Name   string `db:"name" json:"TenBan"`
	Status string `db:"status" json:"TrangThai"`
}
