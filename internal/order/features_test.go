package order

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cafepos/m/domain"
	"cafepos/m/internal/database"
	"cafepos/m/internal/loyalty"
	"cafepos/m/internal/migrations"
)

type orderTestContext struct {
	db         *sqlx.DB
	svc        *Service
	ledger     *loyalty.Ledger
	customerID int64
	tableID    int64
	items      map[string]int64
	order      Detail
	err        error
}

func (c *orderTestContext) reset(ctx context.Context) error {
	db, err := database.Connect("sqlite", ":memory:")
	if err != nil {
		return err
	}
	if err := migrations.Run(db); err != nil {
		return err
	}
	log := zap.NewNop()
	c.db = db
	c.ledger = loyalty.NewLedger(db, log)
	c.svc = NewService(db, c.ledger, log)
	c.items = map[string]int64{}
	c.order = Detail{}
	c.err = nil

	var categoryID int64
	if err := db.QueryRowxContext(ctx, `INSERT INTO categories (name) VALUES ('Cà phê') RETURNING id`).Scan(&categoryID); err != nil {
		return err
	}
	for name, price := range map[string]int64{"Bạc xỉu": 35000, "Cà phê trứng": 45000} {
		var id int64
		err := db.QueryRowxContext(ctx, db.Rebind(`INSERT INTO menu_items (name, price, category_id) VALUES (?, ?, ?) RETURNING id`),
			name, price, categoryID).Scan(&id)
		if err != nil {
			return err
		}
		c.items[name] = id
	}
	return db.GetContext(ctx, &c.tableID, `SELECT id FROM dining_tables WHERE name = 'Bàn 1'`)
}

func (c *orderTestContext) aCustomerWithPoints(ctx context.Context, points int) error {
	return c.db.QueryRowxContext(ctx, c.db.Rebind(`INSERT INTO customers (name, phone, points) VALUES ('Lan', '0901234567', ?) RETURNING id`),
		points).Scan(&c.customerID)
}

func (c *orderTestContext) anOpenOrderWith(ctx context.Context, qtyA int, nameA string, qtyB int, nameB string) error {
	c.order, c.err = c.svc.Create(ctx, 1, CreateInput{
		TableID:    c.tableID,
		CustomerID: &c.customerID,
		Lines: []LineInput{
			{ItemID: c.items[nameA], Name: nameA, UnitPrice: c.price(ctx, nameA), Quantity: int64(qtyA)},
			{ItemID: c.items[nameB], Name: nameB, UnitPrice: c.price(ctx, nameB), Quantity: int64(qtyB)},
		},
	})
	return c.err
}

func (c *orderTestContext) price(ctx context.Context, name string) int64 {
	var price int64
	_ = c.db.GetContext(ctx, &price, c.db.Rebind(`SELECT price FROM menu_items WHERE id = ?`), c.items[name])
	return price
}

func (c *orderTestContext) theCustomerEarnsMorePoints(ctx context.Context, points int) error {
	_, err := c.ledger.Add(ctx, c.customerID, int64(points), "promo", "")
	return err
}

// act records the outcome of a When step; failures are asserted by Then steps.
func (c *orderTestContext) act(d Detail, err error) error {
	c.err = err
	if err == nil {
		c.order = d
	}
	return nil
}

func (c *orderTestContext) staffSetPointsUsed(ctx context.Context, points int) error {
	return c.act(c.svc.UpdatePointsUsed(ctx, c.order.ID, int64(points), 0))
}

func (c *orderTestContext) staffRemoveLine(ctx context.Context, name string) error {
	for _, l := range c.order.Lines {
		if l.Name == name {
			return c.act(c.svc.RemoveItem(ctx, c.order.ID, l.ID, 0))
		}
	}
	return fmt.Errorf("no %q line on the order", name)
}

func (c *orderTestContext) staffAddItem(ctx context.Context, qty int, name string) error {
	return c.act(c.svc.AddItem(ctx, c.order.ID, AddItemInput{ItemID: c.items[name], Quantity: int64(qty)}, 0))
}

func (c *orderTestContext) staffCancelBecause(ctx context.Context, reason string) error {
	return c.act(c.svc.Cancel(ctx, c.order.ID, reason, 0))
}

func (c *orderTestContext) staffCompleteTheOrder(ctx context.Context) error {
	return c.act(c.svc.Complete(ctx, c.order.ID, 0))
}

func (c *orderTestContext) theOrderTotalIs(ctx context.Context, total int) error {
	d, err := c.svc.Detail(ctx, c.order.ID)
	if err != nil {
		return err
	}
	if d.Total != int64(total) {
		return fmt.Errorf("expected total %d, got %d", total, d.Total)
	}
	if want := domain.OrderTotal(domain.Subtotal(d.Lines), d.PointsUsed); d.Total != want {
		return fmt.Errorf("stored total %d disagrees with lines and points (%d)", d.Total, want)
	}
	return nil
}

func (c *orderTestContext) theOrderUsesPoints(ctx context.Context, points int) error {
	d, err := c.svc.Get(ctx, c.order.ID)
	if err != nil {
		return err
	}
	if d.PointsUsed != int64(points) {
		return fmt.Errorf("expected %d points used, got %d", points, d.PointsUsed)
	}
	return nil
}

func (c *orderTestContext) theCustomerHasPoints(ctx context.Context, points int) error {
	var balance int64
	if err := c.db.GetContext(ctx, &balance, c.db.Rebind(`SELECT points FROM customers WHERE id = ?`), c.customerID); err != nil {
		return err
	}
	if balance != int64(points) {
		return fmt.Errorf("expected customer balance %d, got %d", points, balance)
	}
	return nil
}

func (c *orderTestContext) theOrderIs(ctx context.Context, status string) error {
	d, err := c.svc.Get(ctx, c.order.ID)
	if err != nil {
		return err
	}
	if string(d.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, d.Status)
	}
	return nil
}

func (c *orderTestContext) theTableIs(ctx context.Context, status string) error {
	var got string
	if err := c.db.GetContext(ctx, &got, c.db.Rebind(`SELECT status FROM dining_tables WHERE id = ?`), c.tableID); err != nil {
		return err
	}
	if got != status {
		return fmt.Errorf("expected table %q, got %q", status, got)
	}
	return nil
}

func (c *orderTestContext) theRequestFailsWith(kind string) error {
	if c.err == nil {
		return errors.New("expected the request to fail but it succeeded")
	}
	for _, sentinel := range []error{
		domain.ErrInsufficientPoints,
		domain.ErrInvalidTransition,
		domain.ErrOrderClosed,
		domain.ErrValidation,
		domain.ErrNotFound,
	} {
		if sentinel.Error() == kind {
			if !errors.Is(c.err, sentinel) {
				return fmt.Errorf("expected %q, got %v", kind, c.err)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind %q", kind)
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &orderTestContext{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, tc.reset(ctx)
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if tc.db != nil {
			_ = tc.db.Close()
		}
		return ctx, nil
	})

	// Given steps
	sc.Step(`^a customer with (\d+) points$`, tc.aCustomerWithPoints)
	sc.Step(`^an open order with (\d+) x "([^"]*)" and (\d+) x "([^"]*)"$`, tc.anOpenOrderWith)
	sc.Step(`^the customer earns (\d+) more points$`, tc.theCustomerEarnsMorePoints)

	// When steps
	sc.Step(`^staff set the points used to (\d+)$`, tc.staffSetPointsUsed)
	sc.Step(`^staff remove the "([^"]*)" line$`, tc.staffRemoveLine)
	sc.Step(`^staff add (\d+) x "([^"]*)"$`, tc.staffAddItem)
	sc.Step(`^staff cancel the order because "([^"]*)"$`, tc.staffCancelBecause)
	sc.Step(`^staff complete the order$`, tc.staffCompleteTheOrder)

	// Then steps
	sc.Step(`^the order total is (\d+)$`, tc.theOrderTotalIs)
	sc.Step(`^the order uses (\d+) points$`, tc.theOrderUsesPoints)
	sc.Step(`^the customer has (\d+) points$`, tc.theCustomerHasPoints)
	sc.Step(`^the order is "([^"]*)"$`, tc.theOrderIs)
	sc.Step(`^the table is "([^"]*)"$`, tc.theTableIs)
	sc.Step(`^the request fails with "([^"]*)"$`, tc.theRequestFailsWith)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/order_editing.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
