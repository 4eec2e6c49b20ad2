package order

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cafepos/m/domain"
	"cafepos/m/internal/database/dbtest"
	"cafepos/m/internal/events"
	"cafepos/m/internal/loyalty"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db  *sqlx.DB
	svc *Service
	pub *recordingPublisher
	f   dbtest.Fixtures
}

func setup(t *testing.T, points int64, opts ...Option) fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := dbtest.Seed(t, db, points)
	pub := &recordingPublisher{}
	log := zap.NewNop()
	opts = append([]Option{WithPublisher(pub)}, opts...)
	return fixture{db: db, svc: NewService(db, loyalty.NewLedger(db, log), log, opts...), pub: pub, f: f}
}

// createStandard places item A x2 and item B x1 on table 1 for the seeded
// customer: subtotal 115000.
func (fx fixture) createStandard(t *testing.T) Detail {
	t.Helper()
	d, err := fx.svc.Create(context.Background(), 1, CreateInput{
		TableID:    fx.f.TableID,
		CustomerID: &fx.f.CustomerID,
		Lines: []LineInput{
			{ItemID: fx.f.ItemA, Name: "Bạc xỉu", UnitPrice: 35000, Quantity: 2},
			{ItemID: fx.f.ItemB, Name: "Cà phê trứng", UnitPrice: 45000, Quantity: 1, Note: "ít đường"},
		},
	})
	require.NoError(t, err)
	return d
}

func (fx fixture) balance(t *testing.T) int64 {
	t.Helper()
	var points int64
	require.NoError(t, fx.db.Get(&points, fx.db.Rebind(`SELECT points FROM customers WHERE id = ?`), fx.f.CustomerID))
	return points
}

func (fx fixture) tableStatus(t *testing.T, id int64) string {
	t.Helper()
	var status string
	require.NoError(t, fx.db.Get(&status, fx.db.Rebind(`SELECT status FROM dining_tables WHERE id = ?`), id))
	return status
}

func assertTotalConsistent(t *testing.T, d Detail) {
	t.Helper()
	assert.Equal(t, domain.OrderTotal(domain.Subtotal(d.Lines), d.PointsUsed), d.Total)
	assert.LessOrEqual(t, d.PointsUsed*domain.PointValue, domain.Subtotal(d.Lines))
}

func TestCreate(t *testing.T) {
	fx := setup(t, 0)
	d := fx.createStandard(t)

	assert.Equal(t, domain.OrderProcessing, d.Status)
	assert.Equal(t, int64(115000), d.Total)
	assert.Equal(t, int64(1), d.Version)
	require.Len(t, d.Lines, 2)
	assert.Equal(t, "ít đường", d.Lines[1].Note)
	assert.Equal(t, domain.TableOccupied, fx.tableStatus(t, fx.f.TableID))
	assert.Equal(t, []string{events.OrderCreated}, fx.pub.types())
}

func TestCreate_Validation(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, 1, CreateInput{TableID: fx.f.TableID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = fx.svc.Create(ctx, 1, CreateInput{Lines: []LineInput{{ItemID: fx.f.ItemA, Name: "Bạc xỉu", UnitPrice: 35000, Quantity: 1}}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = fx.svc.Create(ctx, 1, CreateInput{TableID: fx.f.TableID, Lines: []LineInput{{ItemID: fx.f.ItemA, Name: "Bạc xỉu", UnitPrice: 35000, Quantity: 0}}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = fx.svc.Create(ctx, 1, CreateInput{TableID: 9999, Lines: []LineInput{{ItemID: fx.f.ItemA, Name: "Bạc xỉu", UnitPrice: 35000, Quantity: 1}}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	orders, err := fx.svc.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestUpdatePointsUsed(t *testing.T) {
	fx := setup(t, 50)
	ctx := context.Background()
	d := fx.createStandard(t)

	d, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 50, d.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(50), d.PointsUsed)
	assert.Equal(t, int64(65000), d.Total)
	assert.Equal(t, int64(0), fx.balance(t))
	assertTotalConsistent(t, d)

	// lowering the redemption returns only the difference
	d, err = fx.svc.UpdatePointsUsed(ctx, d.ID, 20, d.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(95000), d.Total)
	assert.Equal(t, int64(30), fx.balance(t))
}

func TestUpdatePointsUsed_RepeatDoesNotDebitTwice(t *testing.T) {
	fx := setup(t, 100)
	ctx := context.Background()
	d := fx.createStandard(t)

	first, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 40, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(60), fx.balance(t))

	// same value again, even with the stale version, is a no-op
	second, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 40, d.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(60), fx.balance(t))
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Total, second.Total)
}

func TestUpdatePointsUsed_Limits(t *testing.T) {
	fx := setup(t, 500)
	ctx := context.Background()
	d := fx.createStandard(t)

	_, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 116, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)
	var be *domain.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "points_exceed_limit", be.Code)

	_, err = fx.svc.UpdatePointsUsed(ctx, d.ID, -1, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	d, err = fx.svc.UpdatePointsUsed(ctx, d.ID, 115, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Total)
	assert.Equal(t, int64(385), fx.balance(t))
}

func TestUpdatePointsUsed_AvailableIncludesCurrentRedemption(t *testing.T) {
	fx := setup(t, 60)
	ctx := context.Background()
	d := fx.createStandard(t)

	_, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 60, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fx.balance(t))

	_, err = fx.svc.UpdatePointsUsed(ctx, d.ID, 61, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	d, err = fx.svc.UpdatePointsUsed(ctx, d.ID, 30, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), d.PointsUsed)
	assert.Equal(t, int64(30), fx.balance(t))
}

func TestUpdatePointsUsed_RequiresCustomer(t *testing.T) {
	fx := setup(t, 50)
	ctx := context.Background()
	d, err := fx.svc.Create(ctx, 1, CreateInput{
		TableID: fx.f.TableID,
		Lines:   []LineInput{{ItemID: fx.f.ItemA, Name: "Bạc xỉu", UnitPrice: 35000, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = fx.svc.UpdatePointsUsed(ctx, d.ID, 5, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdatePointsUsed_VersionConflict(t *testing.T) {
	fx := setup(t, 50)
	ctx := context.Background()
	d := fx.createStandard(t)

	_, err := fx.svc.AddItem(ctx, d.ID, AddItemInput{ItemID: fx.f.ItemA}, 0)
	require.NoError(t, err)

	_, err = fx.svc.UpdatePointsUsed(ctx, d.ID, 10, d.Version)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, int64(50), fx.balance(t))
}

func TestLineEdits(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()
	d := fx.createStandard(t)

	d, err := fx.svc.AddItem(ctx, d.ID, AddItemInput{ItemID: fx.f.ItemB, Quantity: 2, Note: "mang đi"}, 0)
	require.NoError(t, err)
	require.Len(t, d.Lines, 3)
	assert.Equal(t, int64(205000), d.Total)
	assertTotalConsistent(t, d)

	qty := int64(1)
	d, err = fx.svc.UpdateItem(ctx, d.ID, d.Lines[0].ID, UpdateItemInput{Quantity: &qty}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(170000), d.Total)

	zero := int64(0)
	_, err = fx.svc.UpdateItem(ctx, d.ID, d.Lines[0].ID, UpdateItemInput{Quantity: &zero}, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = fx.svc.UpdateItem(ctx, d.ID, d.Lines[0].ID, UpdateItemInput{}, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	d, err = fx.svc.RemoveItem(ctx, d.ID, d.Lines[2].ID, 0)
	require.NoError(t, err)
	assert.Len(t, d.Lines, 2)
	assert.Equal(t, int64(80000), d.Total)
	assertTotalConsistent(t, d)

	_, err = fx.svc.RemoveItem(ctx, d.ID, 9999, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddItem_KeepsPriceSnapshot(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()
	d := fx.createStandard(t)

	_, err := fx.db.Exec(fx.db.Rebind(`UPDATE menu_items SET price = 99000 WHERE id = ?`), fx.f.ItemA)
	require.NoError(t, err)

	d, err = fx.svc.AddItem(ctx, d.ID, AddItemInput{ItemID: fx.f.ItemB}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(35000), d.Lines[0].UnitPrice)
	assert.Equal(t, int64(160000), d.Total)
}

func TestAddItem_Unavailable(t *testing.T) {
	fx := setup(t, 0)
	d := fx.createStandard(t)

	_, err := fx.db.Exec(fx.db.Rebind(`UPDATE menu_items SET status = ? WHERE id = ?`), domain.ItemUnavailable, fx.f.ItemB)
	require.NoError(t, err)

	_, err = fx.svc.AddItem(context.Background(), d.ID, AddItemInput{ItemID: fx.f.ItemB}, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRemoveItem_ClampsRedeemedPoints(t *testing.T) {
	fx := setup(t, 200)
	ctx := context.Background()
	d := fx.createStandard(t)

	d, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fx.balance(t))

	// dropping item A leaves a 45000 subtotal, so only 45 points can stay
	d, err = fx.svc.RemoveItem(ctx, d.ID, d.Lines[0].ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(45), d.PointsUsed)
	assert.Equal(t, int64(0), d.Total)
	assert.Equal(t, int64(155), fx.balance(t))
	assertTotalConsistent(t, d)
}

func TestChangeTable(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()
	d := fx.createStandard(t)

	d, err := fx.svc.ChangeTable(ctx, d.ID, fx.f.OtherTable, d.Version)
	require.NoError(t, err)
	assert.Equal(t, fx.f.OtherTable, d.TableID)
	assert.Equal(t, domain.TableFree, fx.tableStatus(t, fx.f.TableID))
	assert.Equal(t, domain.TableOccupied, fx.tableStatus(t, fx.f.OtherTable))

	_, err = fx.svc.ChangeTable(ctx, d.ID, 9999, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = fx.svc.ChangeTable(ctx, d.ID, fx.f.TableID, d.Version-1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestChangeTable_KeepsSharedTableOccupied(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()
	first := fx.createStandard(t)
	fx.createStandard(t)

	_, err := fx.svc.ChangeTable(ctx, first.ID, fx.f.OtherTable, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, fx.tableStatus(t, fx.f.TableID))
}

func TestChangeCustomer_ReturnsRedeemedPoints(t *testing.T) {
	fx := setup(t, 50)
	ctx := context.Background()
	d := fx.createStandard(t)

	d, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 50, 0)
	require.NoError(t, err)

	d, err = fx.svc.ChangeCustomer(ctx, d.ID, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, d.CustomerID)
	assert.Equal(t, int64(0), d.PointsUsed)
	assert.Equal(t, int64(115000), d.Total)
	assert.Equal(t, int64(50), fx.balance(t))

	missing := int64(9999)
	_, err = fx.svc.ChangeCustomer(ctx, d.ID, &missing, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestComplete(t *testing.T) {
	fx := setup(t, 0, WithEarnRate(10000))
	ctx := context.Background()
	d := fx.createStandard(t)

	d, err := fx.svc.Complete(ctx, d.ID, d.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, d.Status)
	assert.Equal(t, domain.TableFree, fx.tableStatus(t, fx.f.TableID))
	assert.Equal(t, int64(11), fx.balance(t))

	_, err = fx.svc.AddItem(ctx, d.ID, AddItemInput{ItemID: fx.f.ItemA}, 0)
	assert.ErrorIs(t, err, domain.ErrOrderClosed)

	_, err = fx.svc.UpdatePointsUsed(ctx, d.ID, 1, 0)
	assert.ErrorIs(t, err, domain.ErrOrderClosed)

	_, err = fx.svc.Complete(ctx, d.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, []string{events.OrderCreated, events.OrderCompleted}, fx.pub.types())
}

func TestCancel(t *testing.T) {
	fx := setup(t, 50)
	ctx := context.Background()
	d := fx.createStandard(t)

	_, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 30, 0)
	require.NoError(t, err)

	_, err = fx.svc.Cancel(ctx, d.ID, "  ", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	d, err = fx.svc.Cancel(ctx, d.ID, "khách đổi ý", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, d.Status)
	require.NotNil(t, d.CancelReason)
	assert.Equal(t, "khách đổi ý", *d.CancelReason)
	assert.Equal(t, int64(0), d.PointsUsed)
	assert.Equal(t, int64(50), fx.balance(t))
	assert.Equal(t, domain.TableFree, fx.tableStatus(t, fx.f.TableID))
	assertTotalConsistent(t, d)
}

func TestCancel_AfterCompleteRejected(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()
	d := fx.createStandard(t)

	_, err := fx.svc.Complete(ctx, d.ID, 0)
	require.NoError(t, err)

	_, err = fx.svc.Cancel(ctx, d.ID, "nhầm", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := fx.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, got.Status)
}

func TestDelete(t *testing.T) {
	fx := setup(t, 50)
	ctx := context.Background()
	d := fx.createStandard(t)

	_, err := fx.svc.UpdatePointsUsed(ctx, d.ID, 50, 0)
	require.NoError(t, err)

	err = fx.svc.Delete(ctx, d.ID, false, 0)
	assert.ErrorIs(t, err, domain.ErrInUse)

	require.NoError(t, fx.svc.Delete(ctx, d.ID, true, 0))
	assert.Equal(t, int64(50), fx.balance(t))
	assert.Equal(t, domain.TableFree, fx.tableStatus(t, fx.f.TableID))

	_, err = fx.svc.Get(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = fx.svc.Delete(ctx, d.ID, true, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete_EmptyOrderWithoutForce(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()
	d := fx.createStandard(t)

	for _, l := range d.Lines {
		_, err := fx.svc.RemoveItem(ctx, d.ID, l.ID, 0)
		require.NoError(t, err)
	}
	require.NoError(t, fx.svc.Delete(ctx, d.ID, false, 0))
}

func TestList(t *testing.T) {
	fx := setup(t, 0)
	ctx := context.Background()
	open := fx.createStandard(t)
	closed := fx.createStandard(t)
	_, err := fx.svc.Complete(ctx, closed.ID, 0)
	require.NoError(t, err)

	orders, err := fx.svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, open.ID, orders[0].ID)

	orders, err = fx.svc.List(ctx, Filter{Status: StatusAll})
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = fx.svc.List(ctx, Filter{Status: StatusAll, TableID: fx.f.OtherTable})
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = fx.svc.List(ctx, Filter{Status: "Paid"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRandomEdits_KeepTotalAndPoints(t *testing.T) {
	const startPoints = 200
	for _, seed := range []int64{1, 7, 2024} {
		t.Run("seed "+strconv.FormatInt(seed, 10), func(t *testing.T) {
			fx := setup(t, startPoints)
			ctx := context.Background()
			rng := rand.New(rand.NewSource(seed))
			id := fx.createStandard(t).ID
			items := []int64{fx.f.ItemA, fx.f.ItemB}

			for step := 0; step < 60; step++ {
				d, err := fx.svc.Detail(ctx, id)
				require.NoError(t, err)

				switch op := rng.Intn(4); {
				case op == 0 || len(d.Lines) == 0:
					in := AddItemInput{ItemID: items[rng.Intn(len(items))], Quantity: 1 + rng.Int63n(3)}
					_, err = fx.svc.AddItem(ctx, id, in, 0)
				case op == 1:
					qty := 1 + rng.Int63n(4)
					line := d.Lines[rng.Intn(len(d.Lines))]
					_, err = fx.svc.UpdateItem(ctx, id, line.ID, UpdateItemInput{Quantity: &qty}, 0)
				case op == 2:
					line := d.Lines[rng.Intn(len(d.Lines))]
					_, err = fx.svc.RemoveItem(ctx, id, line.ID, 0)
				default:
					_, err = fx.svc.UpdatePointsUsed(ctx, id, rng.Int63n(150), d.Version)
					if errors.Is(err, domain.ErrInsufficientPoints) {
						err = nil
					}
				}
				require.NoError(t, err, "step %d", step)

				d, err = fx.svc.Detail(ctx, id)
				require.NoError(t, err)
				require.Equal(t, domain.OrderTotal(domain.Subtotal(d.Lines), d.PointsUsed), d.Total, "step %d", step)
				require.LessOrEqual(t, d.PointsUsed*domain.PointValue, domain.Subtotal(d.Lines), "step %d", step)
				require.Equal(t, int64(startPoints), fx.balance(t)+d.PointsUsed, "step %d", step)
			}
		})
	}
}
