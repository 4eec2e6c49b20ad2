package voucher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cafepos/m/domain"
	"cafepos/m/internal/database"
	"cafepos/m/internal/logger"
)

const columns = `code, discount_type, value, max_discount, min_order_value, max_redemptions, redeemed, valid_from, valid_to, status`

// Quote is the outcome of validating a code against an order total.
type Quote struct {
	Code     string `json:"MaVoucher"`
	Discount int64  `json:"SoTienGiam"`
	Total    int64  `json:"TongTienSauGiam"`
}

type Service struct {
	db  *sqlx.DB
	log *zap.Logger
	now func() time.Time
}

func NewService(db *sqlx.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log, now: time.Now}
}

func (s *Service) Create(ctx context.Context, v domain.Voucher) (domain.Voucher, error) {
	v.Code = normalize(v.Code)
	if v.Status == "" {
		v.Status = domain.VoucherActive
	}
	if err := validate(v); err != nil {
		return domain.Voucher{}, err
	}
	v.Redeemed = 0

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO vouchers (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		v.Code, v.DiscountType, v.Value, v.MaxDiscount, v.MinOrderValue, v.MaxRedemptions, v.Redeemed,
		v.ValidFrom.UTC(), v.ValidTo.UTC(), v.Status)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.Voucher{}, domain.NewBusinessError(domain.ErrInUse, "voucher_exists", fmt.Sprintf("Mã %s đã tồn tại", v.Code))
		}
		return domain.Voucher{}, fmt.Errorf("insert voucher: %w", err)
	}
	return s.Get(ctx, v.Code)
}

func (s *Service) Get(ctx context.Context, code string) (domain.Voucher, error) {
	var v domain.Voucher
	err := s.db.GetContext(ctx, &v, s.db.Rebind(`SELECT `+columns+` FROM vouchers WHERE code = ?`), normalize(code))
	if errors.Is(err, sql.ErrNoRows) {
		return v, notFound(code)
	}
	if err != nil {
		return v, fmt.Errorf("get voucher: %w", err)
	}
	return v, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Voucher, error) {
	vouchers := []domain.Voucher{}
	if err := s.db.SelectContext(ctx, &vouchers, `SELECT `+columns+` FROM vouchers ORDER BY valid_to DESC, code`); err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	return vouchers, nil
}

// Validate quotes the discount for total without consuming the voucher.
func (s *Service) Validate(ctx context.Context, code string, total int64) (Quote, error) {
	if total < 0 {
		return Quote{}, domain.Validationf("invalid_total", "Tổng tiền không được âm")
	}
	v, err := s.Get(ctx, code)
	if err != nil {
		return Quote{}, err
	}
	discount, err := Evaluate(v, total, s.now())
	if err != nil {
		return Quote{}, err
	}
	return Quote{Code: v.Code, Discount: discount, Total: total - discount}, nil
}

// Use consumes one redemption. Concurrent uses never exceed the limit.
func (s *Service) Use(ctx context.Context, code string) (domain.Voucher, error) {
	code = normalize(code)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("begin voucher tx: %w", err)
	}
	defer tx.Rollback()

	var v domain.Voucher
	err = tx.GetContext(ctx, &v, tx.Rebind(`SELECT `+columns+` FROM vouchers WHERE code = ?`+database.ForUpdate(s.db)), code)
	if errors.Is(err, sql.ErrNoRows) {
		return v, notFound(code)
	}
	if err != nil {
		return v, fmt.Errorf("load voucher: %w", err)
	}
	if err := usable(v, s.now()); err != nil {
		return v, err
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE vouchers SET redeemed = redeemed + 1 WHERE code = ? AND redeemed < max_redemptions`), code)
	if err != nil {
		return v, fmt.Errorf("use voucher: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return v, fmt.Errorf("use voucher: %w", err)
	} else if n == 0 {
		return v, invalid("voucher_exhausted", fmt.Sprintf("voucher %s has been used up", code))
	}
	if err := tx.Commit(); err != nil {
		return v, fmt.Errorf("commit voucher use: %w", err)
	}
	v.Redeemed++

	s.log.Info("voucher used",
		zap.String("action", logger.ActionVoucherUsed),
		zap.String("code", code),
		zap.Int64("redeemed", v.Redeemed),
		zap.Int64("max_redemptions", v.MaxRedemptions))
	return v, nil
}

func validate(v domain.Voucher) error {
	switch {
	case v.Code == "":
		return domain.Validationf("code_required", "Vui lòng nhập mã giảm giá")
	case v.DiscountType != domain.DiscountAmount && v.DiscountType != domain.DiscountPercent:
		return domain.Validationf("invalid_discount_type", "Loại giảm giá phải là Amount hoặc Percent")
	case v.Value <= 0:
		return domain.Validationf("invalid_value", "Giá trị giảm phải lớn hơn 0")
	case v.DiscountType == domain.DiscountPercent && v.Value > 100:
		return domain.Validationf("invalid_value", "Phần trăm giảm không được vượt quá 100")
	case v.MaxDiscount != nil && *v.MaxDiscount <= 0:
		return domain.Validationf("invalid_max_discount", "Mức giảm tối đa phải lớn hơn 0")
	case v.MinOrderValue < 0:
		return domain.Validationf("invalid_min_order", "Giá trị đơn tối thiểu không được âm")
	case v.MaxRedemptions < 1:
		return domain.Validationf("invalid_max_redemptions", "Mã phải cho phép ít nhất một lượt dùng")
	case v.ValidFrom.IsZero() || v.ValidTo.IsZero() || !v.ValidTo.After(v.ValidFrom):
		return domain.Validationf("invalid_window", "Ngày kết thúc phải sau ngày bắt đầu")
	case v.Status != domain.VoucherActive && v.Status != domain.VoucherInactive:
		return domain.Validationf("invalid_status", "Trạng thái phải là Active hoặc Inactive")
	}
	return nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func notFound(code string) error {
	return domain.NewBusinessError(domain.ErrNotFound, "voucher_not_found", fmt.Sprintf("Không tìm thấy mã %s", normalize(code)))
}
