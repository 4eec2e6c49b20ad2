package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"cafepos/m/domain"
	"cafepos/m/internal/database"
)

const orderColumns = `id, table_id, staff_id, customer_id, status, total, points_used, cancel_reason, version, created_at, updated_at`

const lineColumns = `id, order_id, item_id, name, unit_price, quantity, note`

// Filter selects orders for the active-orders list. An empty Status means
// Processing; StatusAll disables the status filter.
type Filter struct {
	Status  string
	TableID int64
}

const StatusAll = "All"

// repository holds the SQL for orders and their lines. Methods taking a tx
// are used by the service inside a single transaction per mutation.
type repository struct {
	db *sqlx.DB
}

func (r *repository) list(ctx context.Context, f Filter) ([]domain.Order, error) {
	var (
		args    []any
		clauses []string
	)
	status := f.Status
	if status == "" {
		status = string(domain.OrderProcessing)
	}
	if status != StatusAll {
		if !domain.OrderStatus(status).Valid() {
			return nil, domain.Validationf("invalid_status", "Trạng thái đơn %q không hợp lệ", status)
		}
		args = append(args, status)
		clauses = append(clauses, "status = ?")
	}
	if f.TableID > 0 {
		args = append(args, f.TableID)
		clauses = append(clauses, "table_id = ?")
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	orders := []domain.Order{}
	if err := r.db.SelectContext(ctx, &orders, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (r *repository) get(ctx context.Context, id int64) (domain.Order, error) {
	var o domain.Order
	err := r.db.GetContext(ctx, &o, r.db.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, orderNotFound(id)
	}
	if err != nil {
		return o, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *repository) lines(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	lines := []domain.OrderLine{}
	err := r.db.SelectContext(ctx, &lines, r.db.Rebind(`SELECT `+lineColumns+` FROM order_lines WHERE order_id = ? ORDER BY id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	return lines, nil
}

func (r *repository) lockTx(ctx context.Context, tx *sqlx.Tx, id int64) (domain.Order, error) {
	var o domain.Order
	err := tx.GetContext(ctx, &o, tx.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`+database.ForUpdate(r.db)), id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, orderNotFound(id)
	}
	if err != nil {
		return o, fmt.Errorf("load order: %w", err)
	}
	return o, nil
}

func (r *repository) linesTx(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]domain.OrderLine, error) {
	lines := []domain.OrderLine{}
	err := tx.SelectContext(ctx, &lines, tx.Rebind(`SELECT `+lineColumns+` FROM order_lines WHERE order_id = ? ORDER BY id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	return lines, nil
}

func (r *repository) insertTx(ctx context.Context, tx *sqlx.Tx, o domain.Order) (int64, error) {
	var id int64
	err := tx.QueryRowxContext(ctx,
		tx.Rebind(`INSERT INTO orders (table_id, staff_id, customer_id, status, total, points_used, version)
			VALUES (?, ?, ?, ?, ?, ?, 1) RETURNING id`),
		o.TableID, o.StaffID, o.CustomerID, o.Status, o.Total, o.PointsUsed).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return id, nil
}

// saveTx writes every mutable column and bumps the version.
func (r *repository) saveTx(ctx context.Context, tx *sqlx.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE orders SET table_id = ?, customer_id = ?, status = ?, total = ?, points_used = ?,
			cancel_reason = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`),
		o.TableID, o.CustomerID, o.Status, o.Total, o.PointsUsed, o.CancelReason, o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (r *repository) insertLineTx(ctx context.Context, tx *sqlx.Tx, l domain.OrderLine) (int64, error) {
	var id int64
	err := tx.QueryRowxContext(ctx,
		tx.Rebind(`INSERT INTO order_lines (order_id, item_id, name, unit_price, quantity, note) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		l.OrderID, l.ItemID, l.Name, l.UnitPrice, l.Quantity, l.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order line: %w", err)
	}
	return id, nil
}

func (r *repository) lineTx(ctx context.Context, tx *sqlx.Tx, orderID, lineID int64) (domain.OrderLine, error) {
	var l domain.OrderLine
	err := tx.GetContext(ctx, &l, tx.Rebind(`SELECT `+lineColumns+` FROM order_lines WHERE id = ? AND order_id = ?`), lineID, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return l, domain.NewBusinessError(domain.ErrNotFound, "line_not_found", fmt.Sprintf("Không tìm thấy dòng #%d trong đơn #%d", lineID, orderID))
	}
	if err != nil {
		return l, fmt.Errorf("get order line: %w", err)
	}
	return l, nil
}

func (r *repository) updateLineTx(ctx context.Context, tx *sqlx.Tx, l domain.OrderLine) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE order_lines SET quantity = ?, note = ? WHERE id = ? AND order_id = ?`),
		l.Quantity, l.Note, l.ID, l.OrderID)
	if err != nil {
		return fmt.Errorf("update order line: %w", err)
	}
	return nil
}

func (r *repository) deleteLineTx(ctx context.Context, tx *sqlx.Tx, orderID, lineID int64) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM order_lines WHERE id = ? AND order_id = ?`), lineID, orderID)
	if err != nil {
		return fmt.Errorf("delete order line: %w", err)
	}
	return nil
}

func (r *repository) deleteTx(ctx context.Context, tx *sqlx.Tx, orderID int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM order_lines WHERE order_id = ?`), orderID); err != nil {
		return fmt.Errorf("delete order lines: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM orders WHERE id = ?`), orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func (r *repository) menuItemTx(ctx context.Context, tx *sqlx.Tx, id int64) (domain.MenuItem, error) {
	var item domain.MenuItem
	err := tx.GetContext(ctx, &item, tx.Rebind(`SELECT id, name, price, status, category_id FROM menu_items WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return item, domain.NewBusinessError(domain.ErrNotFound, "item_not_found", fmt.Sprintf("Không tìm thấy món #%d", id))
	}
	if err != nil {
		return item, fmt.Errorf("get menu item: %w", err)
	}
	return item, nil
}

func (r *repository) requireTableTx(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM dining_tables WHERE id = ?`), id); err != nil {
		return fmt.Errorf("check table: %w", err)
	}
	if n == 0 {
		return domain.NewBusinessError(domain.ErrNotFound, "table_not_found", fmt.Sprintf("Không tìm thấy bàn #%d", id))
	}
	return nil
}

func (r *repository) requireCustomerTx(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM customers WHERE id = ?`), id); err != nil {
		return fmt.Errorf("check customer: %w", err)
	}
	if n == 0 {
		return domain.NewBusinessError(domain.ErrNotFound, "customer_not_found", fmt.Sprintf("Không tìm thấy khách hàng #%d", id))
	}
	return nil
}

func (r *repository) customerPointsTx(ctx context.Context, tx *sqlx.Tx, id int64) (int64, error) {
	var points int64
	err := tx.GetContext(ctx, &points, tx.Rebind(`SELECT points FROM customers WHERE id = ?`+database.ForUpdate(r.db)), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewBusinessError(domain.ErrNotFound, "customer_not_found", fmt.Sprintf("Không tìm thấy khách hàng #%d", id))
	}
	if err != nil {
		return 0, fmt.Errorf("load customer points: %w", err)
	}
	return points, nil
}

func (r *repository) setTableStatusTx(ctx context.Context, tx *sqlx.Tx, tableID int64, status string) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE dining_tables SET status = ? WHERE id = ?`), status, tableID); err != nil {
		return fmt.Errorf("update table status: %w", err)
	}
	return nil
}

// releaseTableTx frees the table unless another open order still sits on it.
func (r *repository) releaseTableTx(ctx context.Context, tx *sqlx.Tx, tableID, exceptOrderID int64) error {
	var open int
	err := tx.GetContext(ctx, &open,
		tx.Rebind(`SELECT COUNT(*) FROM orders WHERE table_id = ? AND status = ? AND id <> ?`),
		tableID, domain.OrderProcessing, exceptOrderID)
	if err != nil {
		return fmt.Errorf("count open orders: %w", err)
	}
	if open > 0 {
		return nil
	}
	return r.setTableStatusTx(ctx, tx, tableID, domain.TableFree)
}

func orderNotFound(id int64) error {
	return domain.NewBusinessError(domain.ErrNotFound, "order_not_found", fmt.Sprintf("Không tìm thấy đơn hàng #%d", id))
}
