package pos

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"cafepos/m/internal/client"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"table", ErrTableRequired, "Vui lòng chọn bàn"},
		{"empty cart", ErrEmptyCart, "Giỏ hàng đang trống"},
		{"points", &PointsLimitError{Max: 12}, "Số điểm không hợp lệ, tối đa 12 điểm"},
		{"wrapped", fmt.Errorf("submit: %w", ErrReasonRequired), "Vui lòng nhập lý do hủy đơn"},
		{"server", &client.APIError{Status: 422, Code: "points_exceed_limit", Message: "Chỉ được dùng tối đa 50 điểm cho đơn này"}, "Chỉ được dùng tối đa 50 điểm cho đơn này"},
		{"server code only", &client.APIError{Status: 409, Code: "version_conflict"}, "Đơn hàng đã được người khác cập nhật, vui lòng tải lại"},
		{"server unknown code", &client.APIError{Status: 502, Code: "http_502"}, networkFailure},
		{"saved but not reloaded", fmt.Errorf("%w: %w", ErrStale, errOffline), "Đã lưu thay đổi nhưng chưa tải lại được đơn, vui lòng tải lại trước khi thao tác tiếp"},
		{"transport", errOffline, networkFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}
