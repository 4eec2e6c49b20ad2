package catalog

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

// Repository reads the menu, dining tables and customer accounts.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	categories := []domain.Category{}
	if err := r.db.SelectContext(ctx, &categories, `SELECT id, name FROM categories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// ItemFilter narrows ListMenuItems. Zero values match everything.
type ItemFilter struct {
	CategoryID    int64
	OnlyAvailable bool
}

func (r *Repository) ListMenuItems(ctx context.Context, f ItemFilter) ([]domain.MenuItem, error) {
	var (
		args    []any
		clauses []string
	)
	if f.CategoryID > 0 {
		args = append(args, f.CategoryID)
		clauses = append(clauses, "category_id = ?")
	}
	if f.OnlyAvailable {
		args = append(args, domain.ItemAvailable)
		clauses = append(clauses, "status = ?")
	}
	query := `SELECT id, name, price, status, category_id FROM menu_items`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY category_id, name"

	items := []domain.MenuItem{}
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	return items, nil
}

func (r *Repository) GetMenuItem(ctx context.Context, id int64) (domain.MenuItem, error) {
	var item domain.MenuItem
	err := r.db.GetContext(ctx, &item, r.db.Rebind(`SELECT id, name, price, status, category_id FROM menu_items WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return item, domain.NewBusinessError(domain.ErrNotFound, "item_not_found", fmt.Sprintf("Không tìm thấy món #%d", id))
	}
	if err != nil {
		return item, fmt.Errorf("get menu item: %w", err)
	}
	return item, nil
}

func (r *Repository) ListTables(ctx context.Context) ([]domain.Table, error) {
	tables := []domain.Table{}
	if err := r.db.SelectContext(ctx, &tables, `SELECT id, name, status FROM dining_tables ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func (r *Repository) GetTable(ctx context.Context, id int64) (domain.Table, error) {
	var table domain.Table
	err := r.db.GetContext(ctx, &table, r.db.Rebind(`SELECT id, name, status FROM dining_tables WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return table, domain.NewBusinessError(domain.ErrNotFound, "table_not_found", fmt.Sprintf("Không tìm thấy bàn #%d", id))
	}
	if err != nil {
		return table, fmt.Errorf("get table: %w", err)
	}
	return table, nil
}

func (r *Repository) SetTableStatus(ctx context.Context, id int64, status string) error {
	if status != domain.TableFree && status != domain.TableOccupied {
		return domain.Validationf("invalid_table_status", "Trạng thái bàn %q không hợp lệ", status)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE dining_tables SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return fmt.Errorf("update table status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewBusinessError(domain.ErrNotFound, "table_not_found", fmt.Sprintf("Không tìm thấy bàn #%d", id))
	}
	return nil
}

func (r *Repository) ListCustomers(ctx context.Context, phone string) ([]domain.Customer, error) {
	query := `SELECT id, name, phone, points, created_at FROM customers`
	var args []any
	if phone = strings.TrimSpace(phone); phone != "" {
		query += ` WHERE phone LIKE ?`
		args = append(args, "%"+phone+"%")
	}
	query += ` ORDER BY name LIMIT 50`

	customers := []domain.Customer{}
	if err := r.db.SelectContext(ctx, &customers, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	var c domain.Customer
	err := r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT id, name, phone, points, created_at FROM customers WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, domain.NewBusinessError(domain.ErrNotFound, "customer_not_found", fmt.Sprintf("Không tìm thấy khách hàng #%d", id))
	}
	if err != nil {
		return c, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (r *Repository) CreateCustomer(ctx context.Context, name, phone string) (domain.Customer, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" || phone == "" {
		return domain.Customer{}, domain.Validationf("invalid_customer", "Vui lòng nhập họ tên và số điện thoại")
	}
	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`INSERT INTO customers (name, phone) VALUES (?, ?) RETURNING id`), name, phone).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.Customer{}, domain.NewBusinessError(domain.ErrInUse, "phone_exists", "Số điện thoại đã được đăng ký")
		}
		return domain.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return r.GetCustomer(ctx, id)
}
