// Package cart holds the pre-order basket a terminal or storefront builds
// before an order exists, and the stores that keep it between requests.
package cart

import (
	"errors"
	"strings"

	"cafepos/m/domain"
)

var ErrItemUnavailable = errors.New("item is not on sale")

// Line is one menu item in the cart. Name and price are copied from the menu
// when the item is first added.
type Line struct {
	ItemID    int64  `json:"MaMon"`
	Name      string `json:"TenMon"`
	UnitPrice int64  `json:"DonGia"`
	Quantity  int64  `json:"SoLuong"`
	Note      string `json:"GhiChu"`
}

func (l Line) Amount() int64 {
	return l.UnitPrice * l.Quantity
}

// Cart is a plain value; the zero value is an empty cart with no table or
// customer. PointsUsed never exceeds what the customer has and what the
// subtotal can absorb.
type Cart struct {
	TableID        int64  `json:"MaBan"`
	CustomerID     *int64 `json:"MaKH"`
	CustomerPoints int64  `json:"DiemKhaDung"`
	PointsUsed     int64  `json:"DiemSuDung"`
	Items          []Line `json:"ChiTiet"`
}

// AddItem merges qty of item into the cart. A non-positive qty counts as one.
func (c *Cart) AddItem(item domain.MenuItem, qty int64) error {
	if !item.Available() {
		return ErrItemUnavailable
	}
	if qty <= 0 {
		qty = 1
	}
	for i := range c.Items {
		if c.Items[i].ItemID == item.ID {
			c.Items[i].Quantity += qty
			return nil
		}
	}
	c.Items = append(c.Items, Line{
		ItemID:    item.ID,
		Name:      item.Name,
		UnitPrice: item.Price,
		Quantity:  qty,
	})
	return nil
}

// UpdateQuantity sets the quantity of an item; zero or less removes it.
func (c *Cart) UpdateQuantity(itemID, qty int64) {
	if qty <= 0 {
		c.RemoveItem(itemID)
		return
	}
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			c.Items[i].Quantity = qty
		}
	}
	c.clampPoints()
}

func (c *Cart) UpdateNote(itemID int64, note string) {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			c.Items[i].Note = strings.TrimSpace(note)
		}
	}
}

func (c *Cart) RemoveItem(itemID int64) {
	kept := make([]Line, 0, len(c.Items))
	for _, l := range c.Items {
		if l.ItemID != itemID {
			kept = append(kept, l)
		}
	}
	c.Items = kept
	c.clampPoints()
}

func (c *Cart) SelectTable(tableID int64) {
	c.TableID = tableID
}

// SelectCustomer attaches a customer, or detaches with nil. Either way the
// redemption starts over at zero.
func (c *Cart) SelectCustomer(cust *domain.Customer) {
	c.PointsUsed = 0
	if cust == nil {
		c.CustomerID = nil
		c.CustomerPoints = 0
		return
	}
	id := cust.ID
	c.CustomerID = &id
	c.CustomerPoints = cust.Points
}

// MaxPoints is the most points the current cart can redeem.
func (c Cart) MaxPoints() int64 {
	if c.CustomerID == nil {
		return 0
	}
	return domain.MaxRedeemablePoints(c.CustomerPoints, c.Subtotal())
}

// SetPointsUsed clamps points into [0, MaxPoints] and returns the value kept.
func (c *Cart) SetPointsUsed(points int64) int64 {
	if points < 0 {
		points = 0
	}
	if limit := c.MaxPoints(); points > limit {
		points = limit
	}
	c.PointsUsed = points
	return points
}

func (c *Cart) Clear() {
	*c = Cart{}
}

func (c Cart) Subtotal() int64 {
	var sum int64
	for _, l := range c.Items {
		sum += l.Amount()
	}
	return sum
}

func (c Cart) Total() int64 {
	return domain.OrderTotal(c.Subtotal(), c.PointsUsed)
}

// Lines returns a copy of the cart lines.
func (c Cart) Lines() []Line {
	out := make([]Line, len(c.Items))
	copy(out, c.Items)
	return out
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone returns a deep copy.
func (c Cart) Clone() Cart {
	out := c
	out.Items = c.Lines()
	if c.CustomerID != nil {
		id := *c.CustomerID
		out.CustomerID = &id
	}
	return out
}

func (c *Cart) clampPoints() {
	if limit := c.MaxPoints(); c.PointsUsed > limit {
		c.PointsUsed = limit
	}
}
