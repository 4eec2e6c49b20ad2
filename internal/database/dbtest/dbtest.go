// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"cafepos/m/internal/database"
	"cafepos/m/internal/migrations"
)

// Open returns a fresh in-memory SQLite database with the schema applied.
func Open(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Fixtures inserts a category, two menu items and a customer and returns their ids.
// Prices follow the usual test scenario: item A 35000, item B 45000.
type Fixtures struct {
	CategoryID int64
	ItemA      int64
	ItemB      int64
	CustomerID int64
	TableID    int64
	OtherTable int64
}

func Seed(t *testing.T, db *sqlx.DB, customerPoints int64) Fixtures {
	t.Helper()
	var f Fixtures
	require.NoError(t, db.QueryRowx(`INSERT INTO categories (name) VALUES ('Cà phê') RETURNING id`).Scan(&f.CategoryID))
	require.NoError(t, db.QueryRowx(db.Rebind(`INSERT INTO menu_items (name, price, category_id) VALUES ('Bạc xỉu', 35000, ?) RETURNING id`), f.CategoryID).Scan(&f.ItemA))
	require.NoError(t, db.QueryRowx(db.Rebind(`INSERT INTO menu_items (name, price, category_id) VALUES ('Cà phê trứng', 45000, ?) RETURNING id`), f.CategoryID).Scan(&f.ItemB))
	require.NoError(t, db.QueryRowx(db.Rebind(`INSERT INTO customers (name, phone, points) VALUES ('Lan', '0901234567', ?) RETURNING id`), customerPoints).Scan(&f.CustomerID))
	require.NoError(t, db.Get(&f.TableID, `SELECT id FROM dining_tables WHERE name = 'Bàn 1'`))
	require.NoError(t, db.Get(&f.OtherTable, `SELECT id FROM dining_tables WHERE name = 'Bàn 2'`))
	return f
}
