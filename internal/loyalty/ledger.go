package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cafepos/m/domain"
	"cafepos/m/internal/database"
	"cafepos/m/internal/logger"
)

// Adjustment is one signed change to a customer's point balance.
type Adjustment struct {
	CustomerID     int64
	Delta          int64
	Reason         string
	OrderID        *int64
	IdempotencyKey string
}

// Ledger owns customer point balances. Every balance change writes a
// point_entries row in the same transaction as the balance update.
type Ledger struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewLedger(db *sqlx.DB, log *zap.Logger) *Ledger {
	return &Ledger{db: db, log: log}
}

// Add credits points to a customer. Repeating a key with the same customer
// and amount is a no-op; any other reuse of the key is rejected.
func (l *Ledger) Add(ctx context.Context, customerID, points int64, reason, key string) (domain.Customer, error) {
	if points <= 0 {
		return domain.Customer{}, domain.Validationf("invalid_points", "Số điểm phải lớn hơn 0")
	}
	return l.apply(ctx, Adjustment{CustomerID: customerID, Delta: points, Reason: reasonOr(reason, "manual_add"), IdempotencyKey: key})
}

// Deduct debits points from a customer. Keys behave as in Add.
func (l *Ledger) Deduct(ctx context.Context, customerID, points int64, reason, key string) (domain.Customer, error) {
	if points <= 0 {
		return domain.Customer{}, domain.Validationf("invalid_points", "Số điểm phải lớn hơn 0")
	}
	return l.apply(ctx, Adjustment{CustomerID: customerID, Delta: -points, Reason: reasonOr(reason, "manual_deduct"), IdempotencyKey: key})
}

func (l *Ledger) apply(ctx context.Context, adj Adjustment) (domain.Customer, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("begin points tx: %w", err)
	}
	defer tx.Rollback()

	duplicate, err := seenKey(ctx, tx, adj)
	if err != nil {
		return domain.Customer{}, err
	}

	if duplicate {
		l.log.Info("duplicate points request ignored",
			zap.String("action", logger.ActionPointsDuplicate),
			zap.Int64("customer_id", adj.CustomerID),
			zap.String("idempotency_key", adj.IdempotencyKey))
	} else if _, err := l.AdjustTx(ctx, tx, adj); err != nil {
		return domain.Customer{}, err
	}

	c, err := getCustomer(ctx, tx, adj.CustomerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Customer{}, fmt.Errorf("commit points tx: %w", err)
	}
	return c, nil
}

// AdjustTx applies adj inside tx and returns the new balance. A zero delta
// writes nothing.
func (l *Ledger) AdjustTx(ctx context.Context, tx *sqlx.Tx, adj Adjustment) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, tx.Rebind(`SELECT points FROM customers WHERE id = ?`+database.ForUpdate(l.db)), adj.CustomerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewBusinessError(domain.ErrNotFound, "customer_not_found", fmt.Sprintf("Không tìm thấy khách hàng #%d", adj.CustomerID))
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	if adj.Delta == 0 {
		return balance, nil
	}
	if balance+adj.Delta < 0 {
		return 0, domain.NewBusinessError(domain.ErrInsufficientPoints, "insufficient_points",
			fmt.Sprintf("Khách hàng chỉ còn %d điểm, không đủ %d điểm", balance, -adj.Delta))
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE customers SET points = points + ? WHERE id = ?`), adj.Delta, adj.CustomerID); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO point_entries (id, customer_id, points, reason, order_id, idempotency_key) VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), adj.CustomerID, adj.Delta, adj.Reason, adj.OrderID, nullIfEmpty(adj.IdempotencyKey))
	if err != nil {
		return 0, fmt.Errorf("insert point entry: %w", err)
	}

	l.log.Info("points adjusted",
		zap.String("action", logger.ActionPointsAdjusted),
		zap.Int64("customer_id", adj.CustomerID),
		zap.Int64("delta", adj.Delta),
		zap.Int64("balance", balance+adj.Delta),
		zap.String("reason", adj.Reason))
	return balance + adj.Delta, nil
}

// History lists a customer's point movements, newest first.
func (l *Ledger) History(ctx context.Context, customerID int64) ([]domain.PointEntry, error) {
	entries := []domain.PointEntry{}
	err := l.db.SelectContext(ctx, &entries, l.db.Rebind(`SELECT id, customer_id, points, reason, order_id,
		COALESCE(idempotency_key, '') AS idempotency_key, created_at
		FROM point_entries WHERE customer_id = ? ORDER BY created_at DESC, id`), customerID)
	if err != nil {
		return nil, fmt.Errorf("list point entries: %w", err)
	}
	return entries, nil
}

// seenKey reports whether adj.IdempotencyKey was already applied. The key
// must then belong to the same customer and amount.
func seenKey(ctx context.Context, tx *sqlx.Tx, adj Adjustment) (bool, error) {
	if adj.IdempotencyKey == "" {
		return false, nil
	}
	var prev struct {
		CustomerID int64 `db:"customer_id"`
		Points     int64 `db:"points"`
	}
	err := tx.GetContext(ctx, &prev, tx.Rebind(`SELECT customer_id, points FROM point_entries WHERE idempotency_key = ?`), adj.IdempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	if prev.CustomerID != adj.CustomerID || prev.Points != adj.Delta {
		return false, domain.Validationf("idempotency_key_reused",
			"Khóa yêu cầu %s đã được dùng cho một giao dịch điểm khác", adj.IdempotencyKey)
	}
	return true, nil
}

func getCustomer(ctx context.Context, tx *sqlx.Tx, id int64) (domain.Customer, error) {
	var c domain.Customer
	err := tx.GetContext(ctx, &c, tx.Rebind(`SELECT id, name, phone, points, created_at FROM customers WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, domain.NewBusinessError(domain.ErrNotFound, "customer_not_found", fmt.Sprintf("Không tìm thấy khách hàng #%d", id))
	}
	if err != nil {
		return c, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

func nullIfEmpty(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}
