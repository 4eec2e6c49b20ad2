// Package order runs the order lifecycle: creation from a cart, line edits,
// table and customer changes, point redemption and the terminal transitions.
// Each mutation is one transaction that re-derives the total from the stored
// lines, so the order row and the loyalty ledger never disagree.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cafepos/m/domain"
	"cafepos/m/internal/events"
	"cafepos/m/internal/logger"
	"cafepos/m/internal/loyalty"
)

// Point ledger reasons written by order mutations.
const (
	ReasonRedeem          = "order_redeem"
	ReasonRedeemReleased  = "order_redeem_released"
	ReasonCustomerChanged = "order_customer_changed"
	ReasonCancelled       = "order_cancelled"
	ReasonDeleted         = "order_deleted"
	ReasonEarned          = "order_earned"
)

// LineInput is one cart line submitted with a new order. Name and price are
// taken as shown to the operator when the line was added.
type LineInput struct {
	ItemID    int64  `json:"MaMon"`
	Name      string `json:"TenMon"`
	UnitPrice int64  `json:"DonGia"`
	Quantity  int64  `json:"SoLuong"`
	Note      string `json:"GhiChu"`
}

type CreateInput struct {
	TableID    int64       `json:"MaBan"`
	CustomerID *int64      `json:"MaKH"`
	Lines      []LineInput `json:"ChiTiet"`
}

type AddItemInput struct {
	ItemID   int64  `json:"MaMon"`
	Quantity int64  `json:"SoLuong"`
	Note     string `json:"GhiChu"`
}

// UpdateItemInput changes a line's quantity, note, or both.
type UpdateItemInput struct {
	Quantity *int64  `json:"SoLuong"`
	Note     *string `json:"GhiChu"`
}

// Detail is an order with its lines.
type Detail struct {
	domain.Order
	Lines []domain.OrderLine `json:"ChiTiet"`
}

type Service struct {
	repo     *repository
	ledger   *loyalty.Ledger
	pub      events.Publisher
	log      *zap.Logger
	earnRate int64
	now      func() time.Time
}

type Option func(*Service)

// WithEarnRate credits one point per rate currency units paid when an order
// completes with a customer attached. Zero disables earning.
func WithEarnRate(rate int64) Option {
	return func(s *Service) { s.earnRate = rate }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

func NewService(db *sqlx.DB, ledger *loyalty.Ledger, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   &repository{db: db},
		ledger: ledger,
		pub:    events.NopPublisher{},
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) List(ctx context.Context, f Filter) ([]domain.Order, error) {
	return s.repo.list(ctx, f)
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.get(ctx, id)
}

func (s *Service) Detail(ctx context.Context, id int64) (Detail, error) {
	o, err := s.repo.get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	lines, err := s.repo.lines(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Order: o, Lines: lines}, nil
}

func (s *Service) Lines(ctx context.Context, id int64) ([]domain.OrderLine, error) {
	if _, err := s.repo.get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.lines(ctx, id)
}

// Create persists a Processing order with the given lines and marks the
// table occupied.
func (s *Service) Create(ctx context.Context, staffID int64, in CreateInput) (Detail, error) {
	if in.TableID <= 0 {
		return Detail{}, domain.Validationf("table_required", "Vui lòng chọn bàn")
	}
	if len(in.Lines) == 0 {
		return Detail{}, domain.Validationf("empty_order", "Đơn hàng cần ít nhất một món")
	}
	for i, l := range in.Lines {
		if l.ItemID <= 0 || strings.TrimSpace(l.Name) == "" {
			return Detail{}, domain.Validationf("invalid_line", "Dòng %d chưa chọn món", i+1)
		}
		if l.Quantity < 1 {
			return Detail{}, domain.Validationf("invalid_quantity", "Dòng %d phải có số lượng ít nhất 1", i+1)
		}
		if l.UnitPrice < 0 {
			return Detail{}, domain.Validationf("invalid_price", "Dòng %d có đơn giá âm", i+1)
		}
	}

	tx, err := s.repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return Detail{}, fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.repo.requireTableTx(ctx, tx, in.TableID); err != nil {
		return Detail{}, err
	}
	if in.CustomerID != nil {
		if err := s.repo.requireCustomerTx(ctx, tx, *in.CustomerID); err != nil {
			return Detail{}, err
		}
	}

	lines := make([]domain.OrderLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, domain.OrderLine{
			ItemID:    l.ItemID,
			Name:      strings.TrimSpace(l.Name),
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Note:      strings.TrimSpace(l.Note),
		})
	}

	o := domain.Order{
		TableID:    in.TableID,
		StaffID:    staffID,
		CustomerID: in.CustomerID,
		Status:     domain.OrderProcessing,
		Total:      domain.OrderTotal(domain.Subtotal(lines), 0),
	}
	id, err := s.repo.insertTx(ctx, tx, o)
	if err != nil {
		return Detail{}, err
	}
	for _, l := range lines {
		l.OrderID = id
		if _, err := s.repo.insertLineTx(ctx, tx, l); err != nil {
			return Detail{}, err
		}
	}
	if err := s.repo.setTableStatusTx(ctx, tx, in.TableID, domain.TableOccupied); err != nil {
		return Detail{}, err
	}
	if err := tx.Commit(); err != nil {
		return Detail{}, fmt.Errorf("commit order: %w", err)
	}

	d, err := s.Detail(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	s.log.Info("order created",
		zap.String("action", logger.ActionOrderCreated),
		zap.Int64("order_id", id),
		zap.Int64("table_id", in.TableID),
		zap.Int("lines", len(lines)),
		zap.Int64("total", d.Total))
	s.publish(ctx, events.OrderCreated, d.Order, "")
	return d, nil
}

// AddItem appends a menu item to an open order at its current menu price.
func (s *Service) AddItem(ctx context.Context, orderID int64, in AddItemInput, version int64) (Detail, error) {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 1 {
		return Detail{}, domain.Validationf("invalid_quantity", "Số lượng phải ít nhất là 1")
	}
	return s.mutateLines(ctx, orderID, version, logger.ActionOrderItemAdded, func(tx *sqlx.Tx, o *domain.Order) error {
		item, err := s.repo.menuItemTx(ctx, tx, in.ItemID)
		if err != nil {
			return err
		}
		if !item.Available() {
			return domain.Validationf("item_unavailable", "Món %s hiện đã ngừng bán", item.Name)
		}
		_, err = s.repo.insertLineTx(ctx, tx, domain.OrderLine{
			OrderID:   o.ID,
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  in.Quantity,
			Note:      strings.TrimSpace(in.Note),
		})
		return err
	})
}

func (s *Service) UpdateItem(ctx context.Context, orderID, lineID int64, in UpdateItemInput, version int64) (Detail, error) {
	if in.Quantity == nil && in.Note == nil {
		return Detail{}, domain.Validationf("nothing_to_update", "Vui lòng nhập số lượng hoặc ghi chú")
	}
	if in.Quantity != nil && *in.Quantity < 1 {
		return Detail{}, domain.Validationf("invalid_quantity", "Số lượng phải ít nhất là 1, hãy xóa món nếu không dùng nữa")
	}
	return s.mutateLines(ctx, orderID, version, logger.ActionOrderItemUpdated, func(tx *sqlx.Tx, o *domain.Order) error {
		l, err := s.repo.lineTx(ctx, tx, o.ID, lineID)
		if err != nil {
			return err
		}
		if in.Quantity != nil {
			l.Quantity = *in.Quantity
		}
		if in.Note != nil {
			l.Note = strings.TrimSpace(*in.Note)
		}
		return s.repo.updateLineTx(ctx, tx, l)
	})
}

func (s *Service) RemoveItem(ctx context.Context, orderID, lineID int64, version int64) (Detail, error) {
	return s.mutateLines(ctx, orderID, version, logger.ActionOrderItemRemoved, func(tx *sqlx.Tx, o *domain.Order) error {
		if _, err := s.repo.lineTx(ctx, tx, o.ID, lineID); err != nil {
			return err
		}
		return s.repo.deleteLineTx(ctx, tx, o.ID, lineID)
	})
}

// ChangeTable moves an open order to another table. The old table is freed
// when no other open order sits on it.
func (s *Service) ChangeTable(ctx context.Context, orderID, tableID int64, version int64) (Detail, error) {
	if tableID <= 0 {
		return Detail{}, domain.Validationf("table_required", "Vui lòng chọn bàn")
	}
	var from int64
	d, err := s.mutate(ctx, orderID, version, func(tx *sqlx.Tx, o *domain.Order) error {
		if err := requireOpen(*o); err != nil {
			return err
		}
		if err := s.repo.requireTableTx(ctx, tx, tableID); err != nil {
			return err
		}
		from = o.TableID
		if from == tableID {
			return errUnchanged
		}
		o.TableID = tableID
		if err := s.repo.setTableStatusTx(ctx, tx, tableID, domain.TableOccupied); err != nil {
			return err
		}
		return s.repo.releaseTableTx(ctx, tx, from, o.ID)
	})
	if err != nil {
		return Detail{}, err
	}
	s.log.Info("order table changed",
		zap.String("action", logger.ActionOrderTableChanged),
		zap.Int64("order_id", orderID),
		zap.Int64("from_table", from),
		zap.Int64("to_table", tableID))
	return d, nil
}

// ChangeCustomer attaches, replaces or clears the order's customer. Points
// already redeemed go back to the previous customer and the redemption
// resets to zero.
func (s *Service) ChangeCustomer(ctx context.Context, orderID int64, customerID *int64, version int64) (Detail, error) {
	d, err := s.mutate(ctx, orderID, version, func(tx *sqlx.Tx, o *domain.Order) error {
		if err := requireOpen(*o); err != nil {
			return err
		}
		if customerID != nil {
			if err := s.repo.requireCustomerTx(ctx, tx, *customerID); err != nil {
				return err
			}
		}
		if o.CustomerID != nil && o.PointsUsed > 0 {
			if _, err := s.ledger.AdjustTx(ctx, tx, loyalty.Adjustment{
				CustomerID: *o.CustomerID,
				Delta:      o.PointsUsed,
				Reason:     ReasonCustomerChanged,
				OrderID:    &o.ID,
			}); err != nil {
				return err
			}
		}
		o.CustomerID = customerID
		o.PointsUsed = 0
		return s.reprice(ctx, tx, o)
	})
	if err != nil {
		return Detail{}, err
	}
	fields := []zap.Field{zap.String("action", logger.ActionOrderCustomerSet), zap.Int64("order_id", orderID)}
	if customerID != nil {
		fields = append(fields, zap.Int64("customer_id", *customerID))
	}
	s.log.Info("order customer changed", fields...)
	return d, nil
}

// UpdatePointsUsed sets the absolute number of points redeemed on an open
// order. Only the difference from the previous value moves on the customer's
// balance, so repeating a request never debits twice.
func (s *Service) UpdatePointsUsed(ctx context.Context, orderID, points int64, version int64) (Detail, error) {
	if points < 0 {
		return Detail{}, domain.Validationf("invalid_points", "Số điểm không được âm")
	}
	var delta int64
	d, err := s.mutate(ctx, orderID, 0, func(tx *sqlx.Tx, o *domain.Order) error {
		if err := requireOpen(*o); err != nil {
			return err
		}
		if points == o.PointsUsed {
			return errUnchanged
		}
		if version > 0 && version != o.Version {
			return versionConflict(o.Version)
		}
		if o.CustomerID == nil {
			return domain.Validationf("customer_required", "Vui lòng chọn khách hàng trước khi dùng điểm")
		}
		lines, err := s.repo.linesTx(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		balance, err := s.repo.customerPointsTx(ctx, tx, *o.CustomerID)
		if err != nil {
			return err
		}
		limit := domain.MaxRedeemablePoints(balance+o.PointsUsed, domain.Subtotal(lines))
		if points > limit {
			return domain.NewBusinessError(domain.ErrInsufficientPoints, "points_exceed_limit",
				fmt.Sprintf("Chỉ được dùng tối đa %d điểm cho đơn này", limit))
		}
		delta = points - o.PointsUsed
		reason := ReasonRedeem
		if delta < 0 {
			reason = ReasonRedeemReleased
		}
		if _, err := s.ledger.AdjustTx(ctx, tx, loyalty.Adjustment{
			CustomerID: *o.CustomerID,
			Delta:      -delta,
			Reason:     reason,
			OrderID:    &o.ID,
		}); err != nil {
			return err
		}
		o.PointsUsed = points
		return s.reprice(ctx, tx, o)
	})
	if err != nil {
		return Detail{}, err
	}
	if delta != 0 {
		s.log.Info("order points updated",
			zap.String("action", logger.ActionOrderPointsUpdated),
			zap.Int64("order_id", orderID),
			zap.Int64("points_used", points),
			zap.Int64("delta", delta),
			zap.Int64("total", d.Total))
	}
	return d, nil
}

// Complete closes an order as paid and frees its table.
func (s *Service) Complete(ctx context.Context, orderID int64, version int64) (Detail, error) {
	var earned int64
	d, err := s.mutate(ctx, orderID, version, func(tx *sqlx.Tx, o *domain.Order) error {
		if err := requireTransition(*o, domain.OrderCompleted); err != nil {
			return err
		}
		o.Status = domain.OrderCompleted
		if err := s.reprice(ctx, tx, o); err != nil {
			return err
		}
		if s.earnRate > 0 && o.CustomerID != nil {
			earned = o.Total / s.earnRate
			if _, err := s.ledger.AdjustTx(ctx, tx, loyalty.Adjustment{
				CustomerID: *o.CustomerID,
				Delta:      earned,
				Reason:     ReasonEarned,
				OrderID:    &o.ID,
			}); err != nil {
				return err
			}
		}
		return s.repo.releaseTableTx(ctx, tx, o.TableID, o.ID)
	})
	if err != nil {
		return Detail{}, err
	}
	s.log.Info("order completed",
		zap.String("action", logger.ActionOrderCompleted),
		zap.Int64("order_id", orderID),
		zap.Int64("total", d.Total),
		zap.Int64("points_earned", earned))
	s.publish(ctx, events.OrderCompleted, d.Order, "")
	return d, nil
}

// Cancel closes an open order without payment. Redeemed points are returned
// to the customer.
func (s *Service) Cancel(ctx context.Context, orderID int64, reason string, version int64) (Detail, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Detail{}, domain.Validationf("reason_required", "Vui lòng nhập lý do hủy đơn")
	}
	d, err := s.mutate(ctx, orderID, version, func(tx *sqlx.Tx, o *domain.Order) error {
		if err := requireTransition(*o, domain.OrderCancelled); err != nil {
			return err
		}
		if err := s.refund(ctx, tx, o, ReasonCancelled); err != nil {
			return err
		}
		o.Status = domain.OrderCancelled
		o.CancelReason = &reason
		if err := s.reprice(ctx, tx, o); err != nil {
			return err
		}
		return s.repo.releaseTableTx(ctx, tx, o.TableID, o.ID)
	})
	if err != nil {
		return Detail{}, err
	}
	s.log.Info("order cancelled",
		zap.String("action", logger.ActionOrderCancelled),
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))
	s.publish(ctx, events.OrderCancelled, d.Order, reason)
	return d, nil
}

// Delete removes an order and its lines. An open order that still has lines
// is only deleted when force is set. A positive version must match.
func (s *Service) Delete(ctx context.Context, orderID int64, force bool, version int64) error {
	tx, err := s.repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback()

	o, err := s.repo.lockTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if version > 0 && version != o.Version {
		return versionConflict(o.Version)
	}
	if o.Status == domain.OrderProcessing {
		lines, err := s.repo.linesTx(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if len(lines) > 0 && !force {
			return domain.NewBusinessError(domain.ErrInUse, "order_has_items",
				fmt.Sprintf("Đơn #%d vẫn còn %d món, không thể xóa", o.ID, len(lines)))
		}
		if err := s.refund(ctx, tx, &o, ReasonDeleted); err != nil {
			return err
		}
		if err := s.repo.releaseTableTx(ctx, tx, o.TableID, o.ID); err != nil {
			return err
		}
	}
	if err := s.repo.deleteTx(ctx, tx, o.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order delete: %w", err)
	}

	s.log.Info("order deleted",
		zap.String("action", logger.ActionOrderDeleted),
		zap.Int64("order_id", orderID),
		zap.Bool("force", force))
	s.publish(ctx, events.OrderDeleted, o, "")
	return nil
}

// errUnchanged ends a mutation early without writing.
var errUnchanged = errors.New("order unchanged")

// mutate locks the order, applies fn and saves the result in one
// transaction. A positive version must match the stored one.
func (s *Service) mutate(ctx context.Context, orderID, version int64, fn func(*sqlx.Tx, *domain.Order) error) (Detail, error) {
	tx, err := s.repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return Detail{}, fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback()

	o, err := s.repo.lockTx(ctx, tx, orderID)
	if err != nil {
		return Detail{}, err
	}
	if version > 0 && version != o.Version {
		return Detail{}, versionConflict(o.Version)
	}
	switch err := fn(tx, &o); {
	case errors.Is(err, errUnchanged):
		if err := tx.Rollback(); err != nil {
			return Detail{}, fmt.Errorf("rollback order tx: %w", err)
		}
		return s.Detail(ctx, orderID)
	case err != nil:
		return Detail{}, err
	}
	if err := s.repo.saveTx(ctx, tx, o); err != nil {
		return Detail{}, err
	}
	if err := tx.Commit(); err != nil {
		return Detail{}, fmt.Errorf("commit order: %w", err)
	}
	return s.Detail(ctx, orderID)
}

func (s *Service) mutateLines(ctx context.Context, orderID, version int64, action string, fn func(*sqlx.Tx, *domain.Order) error) (Detail, error) {
	d, err := s.mutate(ctx, orderID, version, func(tx *sqlx.Tx, o *domain.Order) error {
		if err := requireOpen(*o); err != nil {
			return err
		}
		if err := fn(tx, o); err != nil {
			return err
		}
		return s.reprice(ctx, tx, o)
	})
	if err != nil {
		return Detail{}, err
	}
	s.log.Info("order lines changed",
		zap.String("action", action),
		zap.Int64("order_id", orderID),
		zap.Int("lines", len(d.Lines)),
		zap.Int64("total", d.Total))
	return d, nil
}

// reprice recomputes the total from the stored lines. If the subtotal no
// longer covers the redeemed points, the excess goes back to the customer.
func (s *Service) reprice(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	lines, err := s.repo.linesTx(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	subtotal := domain.Subtotal(lines)
	if limit := subtotal / domain.PointValue; o.PointsUsed > limit {
		excess := o.PointsUsed - limit
		if o.CustomerID != nil {
			if _, err := s.ledger.AdjustTx(ctx, tx, loyalty.Adjustment{
				CustomerID: *o.CustomerID,
				Delta:      excess,
				Reason:     ReasonRedeemReleased,
				OrderID:    &o.ID,
			}); err != nil {
				return err
			}
		}
		o.PointsUsed = limit
	}
	o.Total = domain.OrderTotal(subtotal, o.PointsUsed)
	return nil
}

// refund returns the order's redeemed points and clears the redemption.
func (s *Service) refund(ctx context.Context, tx *sqlx.Tx, o *domain.Order, reason string) error {
	if o.CustomerID == nil || o.PointsUsed == 0 {
		return nil
	}
	if _, err := s.ledger.AdjustTx(ctx, tx, loyalty.Adjustment{
		CustomerID: *o.CustomerID,
		Delta:      o.PointsUsed,
		Reason:     reason,
		OrderID:    &o.ID,
	}); err != nil {
		return err
	}
	o.PointsUsed = 0
	return nil
}

func (s *Service) publish(ctx context.Context, typ string, o domain.Order, reason string) {
	err := s.pub.Publish(ctx, events.Event{
		Type:       typ,
		OrderID:    o.ID,
		TableID:    o.TableID,
		Total:      o.Total,
		PointsUsed: o.PointsUsed,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("order event not published",
			zap.String("action", logger.ActionEventPublishFailed),
			zap.String("type", typ),
			zap.Int64("order_id", o.ID),
			zap.Error(err))
	}
}

func requireOpen(o domain.Order) error {
	if o.Status != domain.OrderProcessing {
		return domain.NewBusinessError(domain.ErrOrderClosed, "order_closed",
			fmt.Sprintf("Đơn #%d ở trạng thái %s, không thể chỉnh sửa", o.ID, statusLabel(o.Status)))
	}
	return nil
}

func requireTransition(o domain.Order, next domain.OrderStatus) error {
	if !o.Status.CanTransition(next) {
		return domain.NewBusinessError(domain.ErrInvalidTransition, "invalid_transition",
			fmt.Sprintf("Không thể chuyển đơn #%d từ %s sang %s", o.ID, statusLabel(o.Status), statusLabel(next)))
	}
	return nil
}

// statusLabel is the status as operators read it.
func statusLabel(s domain.OrderStatus) string {
	switch s {
	case domain.OrderProcessing:
		return "Đang phục vụ"
	case domain.OrderCompleted:
		return "Hoàn thành"
	case domain.OrderCancelled:
		return "Đã hủy"
	}
	return string(s)
}

func versionConflict(current int64) error {
	return domain.NewBusinessError(domain.ErrVersionConflict, "version_conflict",
		fmt.Sprintf("Đơn hàng đã được người khác cập nhật (phiên bản %d), vui lòng tải lại", current))
}
