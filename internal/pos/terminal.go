// Package pos is the order-taking side of a counter terminal. It owns the
// pre-order cart, submits it as an order, and drives edits of an open order
// through the HTTP API. Edits are never patched locally: after each call the
// terminal reloads the order and its lines from the server.
package pos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"cafepos/m/domain"
	"cafepos/m/internal/cart"
	"cafepos/m/internal/order"
)

var (
	ErrTableRequired  = errors.New("table required")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrNoOrder        = errors.New("no order open")
	ErrNotEditable    = errors.New("order is not editable")
	ErrReasonRequired = errors.New("cancel reason required")
	ErrPointsExceeded = errors.New("points exceed limit")
	ErrDeclined       = errors.New("declined by operator")
	// ErrStale means the server applied the change but the order could not
	// be reloaded afterwards. Repeating the call would apply it twice.
	ErrStale = errors.New("change saved but order not reloaded")
)

// PointsLimitError reports the most points the open order accepts.
type PointsLimitError struct {
	Max int64
}

func (e *PointsLimitError) Error() string {
	return fmt.Sprintf("points exceed limit of %d", e.Max)
}

func (e *PointsLimitError) Is(target error) bool {
	return target == ErrPointsExceeded
}

// API is the part of the server the terminal needs.
type API interface {
	CreateOrder(ctx context.Context, in order.CreateInput) (order.Detail, error)
	ListOrders(ctx context.Context, status string, tableID int64) ([]domain.Order, error)
	Order(ctx context.Context, id int64) (order.Detail, error)
	OrderLines(ctx context.Context, id int64) ([]domain.OrderLine, error)
	Customer(ctx context.Context, id int64) (domain.Customer, error)
	AddItem(ctx context.Context, id int64, in order.AddItemInput, version int64) error
	UpdateItem(ctx context.Context, id, lineID int64, in order.UpdateItemInput, version int64) error
	RemoveItem(ctx context.Context, id, lineID, version int64) error
	ChangeTable(ctx context.Context, id, tableID int64) error
	ChangeCustomer(ctx context.Context, id int64, customerID *int64) error
	UpdatePointsUsed(ctx context.Context, id, points, version int64) error
	Complete(ctx context.Context, id int64) error
	Cancel(ctx context.Context, id int64, reason string) error
	DeleteOrder(ctx context.Context, id int64, force bool, version int64) error
}

// Confirmer asks the operator before a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}

// Terminal is safe for use from one UI loop and a background refresher.
type Terminal struct {
	api     API
	confirm Confirmer
	log     *zap.Logger

	mu       sync.Mutex
	cart     cart.Cart
	current  *order.Detail
	customer *domain.Customer
}

func NewTerminal(api API, confirm Confirmer, log *zap.Logger) *Terminal {
	return &Terminal{api: api, confirm: confirm, log: log}
}

// Cart returns a copy of the pre-order cart.
func (t *Terminal) Cart() cart.Cart {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cart.Clone()
}

func (t *Terminal) AddToCart(item domain.MenuItem, qty int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cart.AddItem(item, qty)
}

func (t *Terminal) UpdateCartQuantity(itemID, qty int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cart.UpdateQuantity(itemID, qty)
}

func (t *Terminal) UpdateCartNote(itemID int64, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cart.UpdateNote(itemID, note)
}

func (t *Terminal) RemoveFromCart(itemID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cart.RemoveItem(itemID)
}

func (t *Terminal) SelectTable(tableID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cart.SelectTable(tableID)
}

func (t *Terminal) SelectCustomer(c *domain.Customer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cart.SelectCustomer(c)
}

// SetCartPoints clamps silently and returns the points kept.
func (t *Terminal) SetCartPoints(points int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cart.SetPointsUsed(points)
}

// ClearCart empties the cart after the operator confirms.
func (t *Terminal) ClearCart(ctx context.Context) error {
	if c := t.Cart(); c.IsEmpty() && c.TableID == 0 && c.CustomerID == nil {
		return nil
	}
	if !t.confirm.Confirm(ctx, "Xóa toàn bộ giỏ hàng?") {
		return ErrDeclined
	}
	t.mu.Lock()
	t.cart.Clear()
	t.mu.Unlock()
	return nil
}

// CreateOrder submits the cart as a new order and clears the cart. Points
// chosen in the cart are not sent; redemption happens on the open order.
func (t *Terminal) CreateOrder(ctx context.Context) (order.Detail, error) {
	c := t.Cart()
	if c.TableID == 0 {
		return order.Detail{}, ErrTableRequired
	}
	if c.IsEmpty() {
		return order.Detail{}, ErrEmptyCart
	}

	in := order.CreateInput{TableID: c.TableID, CustomerID: c.CustomerID}
	for _, l := range c.Lines() {
		in.Lines = append(in.Lines, order.LineInput{
			ItemID:    l.ItemID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Note:      l.Note,
		})
	}
	d, err := t.api.CreateOrder(ctx, in)
	if err != nil {
		t.log.Debug("create order failed", zap.Error(err))
		return order.Detail{}, err
	}

	t.mu.Lock()
	t.cart.Clear()
	t.mu.Unlock()
	return d, nil
}

// ActiveOrders lists orders by status, open ones when status is empty, and
// optionally by table.
func (t *Terminal) ActiveOrders(ctx context.Context, status string, tableID int64) ([]domain.Order, error) {
	if status == "" {
		status = string(domain.OrderProcessing)
	}
	return t.api.ListOrders(ctx, status, tableID)
}

// Open loads an order and its lines and makes it the order being edited.
func (t *Terminal) Open(ctx context.Context, orderID int64) (order.Detail, error) {
	d, cust, err := t.load(ctx, orderID)
	if err != nil {
		return order.Detail{}, err
	}
	t.mu.Lock()
	t.current, t.customer = &d, cust
	t.mu.Unlock()
	return d, nil
}

// Current returns the order being edited.
func (t *Terminal) Current() (order.Detail, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return order.Detail{}, false
	}
	d := *t.current
	d.Lines = append([]domain.OrderLine(nil), t.current.Lines...)
	return d, true
}

func (t *Terminal) Close() {
	t.mu.Lock()
	t.current, t.customer = nil, nil
	t.mu.Unlock()
}

func (t *Terminal) AddItem(ctx context.Context, itemID, qty int64, note string) (order.Detail, error) {
	return t.edit(ctx, func(d order.Detail) error {
		return t.api.AddItem(ctx, d.ID, order.AddItemInput{ItemID: itemID, Quantity: qty, Note: note}, d.Version)
	})
}

func (t *Terminal) UpdateItem(ctx context.Context, lineID int64, in order.UpdateItemInput) (order.Detail, error) {
	return t.edit(ctx, func(d order.Detail) error {
		return t.api.UpdateItem(ctx, d.ID, lineID, in, d.Version)
	})
}

func (t *Terminal) RemoveItem(ctx context.Context, lineID int64) (order.Detail, error) {
	return t.edit(ctx, func(d order.Detail) error {
		if !t.confirm.Confirm(ctx, "Xóa món này khỏi đơn?") {
			return ErrDeclined
		}
		return t.api.RemoveItem(ctx, d.ID, lineID, d.Version)
	})
}

func (t *Terminal) ChangeTable(ctx context.Context, tableID int64) (order.Detail, error) {
	if tableID <= 0 {
		return order.Detail{}, ErrTableRequired
	}
	return t.edit(ctx, func(d order.Detail) error {
		return t.api.ChangeTable(ctx, d.ID, tableID)
	})
}

// ChangeCustomer swaps the order's customer; the server resets the points
// used to zero.
func (t *Terminal) ChangeCustomer(ctx context.Context, customerID *int64) (order.Detail, error) {
	return t.edit(ctx, func(d order.Detail) error {
		return t.api.ChangeCustomer(ctx, d.ID, customerID)
	})
}

// UpdatePointsUsed checks the request against what the terminal knows
// before sending it with the order version.
func (t *Terminal) UpdatePointsUsed(ctx context.Context, points int64) (order.Detail, error) {
	return t.edit(ctx, func(d order.Detail) error {
		if limit := t.maxPoints(d); points < 0 || points > limit {
			return &PointsLimitError{Max: limit}
		}
		return t.api.UpdatePointsUsed(ctx, d.ID, points, d.Version)
	})
}

func (t *Terminal) Complete(ctx context.Context) (order.Detail, error) {
	return t.edit(ctx, func(d order.Detail) error {
		return t.api.Complete(ctx, d.ID)
	})
}

func (t *Terminal) Cancel(ctx context.Context, reason string) (order.Detail, error) {
	if strings.TrimSpace(reason) == "" {
		return order.Detail{}, ErrReasonRequired
	}
	return t.edit(ctx, func(d order.Detail) error {
		return t.api.Cancel(ctx, d.ID, reason)
	})
}

// DeleteOrder removes the open order after confirmation and leaves edit mode.
func (t *Terminal) DeleteOrder(ctx context.Context, force bool) error {
	d, ok := t.Current()
	if !ok {
		return ErrNoOrder
	}
	if !t.confirm.Confirm(ctx, fmt.Sprintf("Xóa vĩnh viễn đơn #%d?", d.ID)) {
		return ErrDeclined
	}
	if err := t.api.DeleteOrder(ctx, d.ID, force, d.Version); err != nil {
		return err
	}
	t.Close()
	return nil
}

// edit runs one server call against the open order and reloads it. Local
// state only changes once the reload succeeds; a failed reload after a
// successful call is reported as ErrStale.
func (t *Terminal) edit(ctx context.Context, call func(order.Detail) error) (order.Detail, error) {
	d, ok := t.Current()
	if !ok {
		return order.Detail{}, ErrNoOrder
	}
	if d.Status != domain.OrderProcessing {
		return order.Detail{}, ErrNotEditable
	}
	if err := call(d); err != nil {
		return order.Detail{}, err
	}
	fresh, err := t.Open(ctx, d.ID)
	if err != nil {
		t.log.Warn("order reload failed after edit", zap.Int64("order_id", d.ID), zap.Error(err))
		return order.Detail{}, fmt.Errorf("%w: %w", ErrStale, err)
	}
	return fresh, nil
}

func (t *Terminal) load(ctx context.Context, orderID int64) (order.Detail, *domain.Customer, error) {
	d, err := t.api.Order(ctx, orderID)
	if err != nil {
		return order.Detail{}, nil, err
	}
	lines, err := t.api.OrderLines(ctx, orderID)
	if err != nil {
		return order.Detail{}, nil, err
	}
	d.Lines = lines

	var cust *domain.Customer
	if d.CustomerID != nil {
		c, err := t.api.Customer(ctx, *d.CustomerID)
		if err != nil {
			return order.Detail{}, nil, err
		}
		cust = &c
	}
	return d, cust, nil
}

// maxPoints counts the points already on the order as available, since
// they go back to the customer when the redemption changes.
func (t *Terminal) maxPoints(d order.Detail) int64 {
	t.mu.Lock()
	cust := t.customer
	t.mu.Unlock()
	if cust == nil {
		return 0
	}
	return domain.MaxRedeemablePoints(cust.Points+d.PointsUsed, domain.Subtotal(d.Lines))
}
