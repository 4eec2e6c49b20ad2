package pos

import (
	"context"
	"errors"
	"fmt"

	"cafepos/m/domain"
	"cafepos/m/internal/client"
	"cafepos/m/internal/order"
)

// fakeAPI keeps orders in memory and applies the server's rules closely
// enough to drive the terminal.
type fakeAPI struct {
	calls     []string
	orders    map[int64]*order.Detail
	customers map[int64]*domain.Customer
	fail      error
	failOn    string
	nextOrder int64
	nextLine  int64
	created   order.CreateInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		orders:    map[int64]*order.Detail{},
		customers: map[int64]*domain.Customer{},
	}
}

func (f *fakeAPI) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failOn != "" && f.failOn == call {
		f.failOn = ""
		return errOffline
	}
	if f.fail != nil {
		err := f.fail
		f.fail = nil
		return err
	}
	return nil
}

func (f *fakeAPI) find(id int64) (*order.Detail, error) {
	d, ok := f.orders[id]
	if !ok {
		return nil, &client.APIError{Status: 404, Code: "order_not_found", Message: "Không tìm thấy đơn hàng"}
	}
	return d, nil
}

// current finds the order and checks the version the caller last saw.
func (f *fakeAPI) current(id, version int64) (*order.Detail, error) {
	d, err := f.find(id)
	if err != nil {
		return nil, err
	}
	if version > 0 && version != d.Version {
		return nil, &client.APIError{Status: 409, Code: "version_conflict", Message: "Đơn hàng đã bị người khác thay đổi, vui lòng tải lại"}
	}
	return d, nil
}

func (f *fakeAPI) bump(d *order.Detail) {
	d.Total = domain.OrderTotal(domain.Subtotal(d.Lines), d.PointsUsed)
	d.Version++
}

func (f *fakeAPI) CreateOrder(_ context.Context, in order.CreateInput) (order.Detail, error) {
	if err := f.record("create"); err != nil {
		return order.Detail{}, err
	}
	f.created = in
	f.nextOrder++
	d := &order.Detail{Order: domain.Order{
		ID:         f.nextOrder,
		TableID:    in.TableID,
		CustomerID: in.CustomerID,
		Status:     domain.OrderProcessing,
	}}
	for _, l := range in.Lines {
		f.nextLine++
		d.Lines = append(d.Lines, domain.OrderLine{
			ID: f.nextLine, OrderID: d.ID, ItemID: l.ItemID, Name: l.Name,
			UnitPrice: l.UnitPrice, Quantity: l.Quantity, Note: l.Note,
		})
	}
	f.bump(d)
	f.orders[d.ID] = d
	return *d, nil
}

func (f *fakeAPI) ListOrders(_ context.Context, status string, tableID int64) ([]domain.Order, error) {
	if err := f.record(fmt.Sprintf("list %s %d", status, tableID)); err != nil {
		return nil, err
	}
	var out []domain.Order
	for _, d := range f.orders {
		if string(d.Status) == status && (tableID == 0 || d.TableID == tableID) {
			out = append(out, d.Order)
		}
	}
	return out, nil
}

// Order leaves Lines empty so the terminal has to fetch them.
func (f *fakeAPI) Order(_ context.Context, id int64) (order.Detail, error) {
	if err := f.record("order"); err != nil {
		return order.Detail{}, err
	}
	d, err := f.find(id)
	if err != nil {
		return order.Detail{}, err
	}
	return order.Detail{Order: d.Order}, nil
}

func (f *fakeAPI) OrderLines(_ context.Context, id int64) ([]domain.OrderLine, error) {
	if err := f.record("lines"); err != nil {
		return nil, err
	}
	d, err := f.find(id)
	if err != nil {
		return nil, err
	}
	return append([]domain.OrderLine(nil), d.Lines...), nil
}

func (f *fakeAPI) Customer(_ context.Context, id int64) (domain.Customer, error) {
	if err := f.record("customer"); err != nil {
		return domain.Customer{}, err
	}
	c, ok := f.customers[id]
	if !ok {
		return domain.Customer{}, &client.APIError{Status: 404, Code: "customer_not_found"}
	}
	return *c, nil
}

func (f *fakeAPI) AddItem(_ context.Context, id int64, in order.AddItemInput, version int64) error {
	if err := f.record("add"); err != nil {
		return err
	}
	d, err := f.current(id, version)
	if err != nil {
		return err
	}
	f.nextLine++
	d.Lines = append(d.Lines, domain.OrderLine{
		ID: f.nextLine, OrderID: id, ItemID: in.ItemID, Name: "Bạc xỉu",
		UnitPrice: 35000, Quantity: in.Quantity, Note: in.Note,
	})
	f.bump(d)
	return nil
}

func (f *fakeAPI) UpdateItem(_ context.Context, id, lineID int64, in order.UpdateItemInput, version int64) error {
	if err := f.record("update"); err != nil {
		return err
	}
	d, err := f.current(id, version)
	if err != nil {
		return err
	}
	for i := range d.Lines {
		if d.Lines[i].ID == lineID && in.Quantity != nil {
			d.Lines[i].Quantity = *in.Quantity
		}
	}
	f.bump(d)
	return nil
}

func (f *fakeAPI) RemoveItem(_ context.Context, id, lineID, version int64) error {
	if err := f.record("remove"); err != nil {
		return err
	}
	d, err := f.current(id, version)
	if err != nil {
		return err
	}
	var kept []domain.OrderLine
	for _, l := range d.Lines {
		if l.ID != lineID {
			kept = append(kept, l)
		}
	}
	d.Lines = kept
	f.bump(d)
	return nil
}

func (f *fakeAPI) ChangeTable(_ context.Context, id, tableID int64) error {
	if err := f.record("table"); err != nil {
		return err
	}
	d, err := f.find(id)
	if err != nil {
		return err
	}
	d.TableID = tableID
	f.bump(d)
	return nil
}

func (f *fakeAPI) ChangeCustomer(_ context.Context, id int64, customerID *int64) error {
	if err := f.record("customer_change"); err != nil {
		return err
	}
	d, err := f.find(id)
	if err != nil {
		return err
	}
	f.refund(d)
	d.CustomerID = customerID
	f.bump(d)
	return nil
}

func (f *fakeAPI) UpdatePointsUsed(_ context.Context, id, points, version int64) error {
	if err := f.record(fmt.Sprintf("points %d v%d", points, version)); err != nil {
		return err
	}
	d, err := f.current(id, version)
	if err != nil {
		return err
	}
	c := f.customers[*d.CustomerID]
	c.Points += d.PointsUsed - points
	d.PointsUsed = points
	f.bump(d)
	return nil
}

func (f *fakeAPI) Complete(_ context.Context, id int64) error {
	if err := f.record("complete"); err != nil {
		return err
	}
	d, err := f.find(id)
	if err != nil {
		return err
	}
	d.Status = domain.OrderCompleted
	f.bump(d)
	return nil
}

func (f *fakeAPI) Cancel(_ context.Context, id int64, reason string) error {
	if err := f.record("cancel"); err != nil {
		return err
	}
	d, err := f.find(id)
	if err != nil {
		return err
	}
	f.refund(d)
	d.Status = domain.OrderCancelled
	d.CancelReason = &reason
	f.bump(d)
	return nil
}

func (f *fakeAPI) DeleteOrder(_ context.Context, id int64, force bool, version int64) error {
	if err := f.record(fmt.Sprintf("delete %t", force)); err != nil {
		return err
	}
	if _, err := f.current(id, version); err != nil {
		return err
	}
	delete(f.orders, id)
	return nil
}

func (f *fakeAPI) refund(d *order.Detail) {
	if d.CustomerID != nil && d.PointsUsed > 0 {
		f.customers[*d.CustomerID].Points += d.PointsUsed
	}
	d.PointsUsed = 0
}

var errOffline = errors.New("dial tcp 127.0.0.1:8080: connect: connection refused")
