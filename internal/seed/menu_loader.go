package seed

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cafepos/m/internal/logger"
)

// LoadMenu ingests a CSV of (category, item name, price) into the catalog,
// ignoring items that already exist. A missing file is not an error.
func LoadMenu(db *sqlx.DB, csvPath string, log *zap.Logger) {
	file, err := os.Open(csvPath)
	if err != nil {
		log.Warn("unable to open menu catalog", zap.String("path", csvPath), zap.Error(err))
		return
	}
	defer file.Close()

	rows, err := ImportMenu(db, file, log)
	if err != nil {
		log.Error("unable to seed menu", zap.String("path", csvPath), zap.Error(err))
		return
	}
	log.Info("seeded menu catalog", zap.String("action", logger.ActionMenuSeeded), zap.Int("rows", rows))
}

// ImportMenu reads CSV records after the header row and returns how many
// new menu items were inserted.
func ImportMenu(db *sqlx.DB, r io.Reader, log *zap.Logger) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, err
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insertCategory := tx.Rebind(`INSERT INTO categories (name) VALUES (?) ON CONFLICT (name) DO NOTHING`)
	selectCategory := tx.Rebind(`SELECT id FROM categories WHERE name = ?`)
	insertItem := tx.Rebind(`INSERT INTO menu_items (name, price, category_id) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`)

	categories := make(map[string]int64)
	rows := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn("unable to read menu row", zap.Error(err))
			continue
		}
		if len(record) < 3 {
			continue
		}
		category := strings.TrimSpace(record[0])
		name := strings.TrimSpace(record[1])
		price, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
		if category == "" || name == "" || err != nil || price <= 0 {
			log.Warn("skipping menu row", zap.Strings("record", record))
			continue
		}

		categoryID, ok := categories[category]
		if !ok {
			if _, err := tx.Exec(insertCategory, category); err != nil {
				return 0, err
			}
			if err := tx.Get(&categoryID, selectCategory, category); err != nil {
				return 0, err
			}
			categories[category] = categoryID
		}

		res, err := tx.Exec(insertItem, name, price, categoryID)
		if err != nil {
			log.Warn("unable to insert menu item", zap.String("name", name), zap.Error(err))
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rows, nil
}
