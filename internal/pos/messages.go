package pos

import (
	"errors"
	"fmt"

	"cafepos/m/internal/client"
)

const networkFailure = "Không thể kết nối máy chủ, vui lòng thử lại"

// serverMessages covers server answers that arrive without a message.
var serverMessages = map[string]string{
	"unauthorized":        "Phiên đăng nhập đã hết hạn, vui lòng đăng nhập lại",
	"forbidden":           "Bạn không có quyền thực hiện thao tác này",
	"order_not_found":     "Không tìm thấy đơn hàng",
	"order_closed":        "Đơn hàng đã đóng, không thể chỉnh sửa",
	"invalid_transition":  "Không thể chuyển trạng thái đơn hàng",
	"version_conflict":    "Đơn hàng đã được người khác cập nhật, vui lòng tải lại",
	"points_exceed_limit": "Số điểm vượt quá mức cho phép",
	"insufficient_points": "Khách hàng không đủ điểm",
	"order_has_items":     "Đơn hàng vẫn còn món, không thể xóa",
}

// Message turns err into the text shown to the operator.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var limit *PointsLimitError
	if errors.As(err, &limit) {
		return fmt.Sprintf("Số điểm không hợp lệ, tối đa %d điểm", limit.Max)
	}
	switch {
	case errors.Is(err, ErrTableRequired):
		return "Vui lòng chọn bàn"
	case errors.Is(err, ErrEmptyCart):
		return "Giỏ hàng đang trống"
	case errors.Is(err, ErrNoOrder):
		return "Chưa chọn đơn hàng"
	case errors.Is(err, ErrNotEditable):
		return "Đơn hàng đã đóng, không thể chỉnh sửa"
	case errors.Is(err, ErrReasonRequired):
		return "Vui lòng nhập lý do hủy đơn"
	case errors.Is(err, ErrDeclined):
		return "Đã hủy thao tác"
	case errors.Is(err, ErrStale):
		return "Đã lưu thay đổi nhưng chưa tải lại được đơn, vui lòng tải lại trước khi thao tác tiếp"
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if msg, ok := serverMessages[apiErr.Code]; ok {
			return msg
		}
	}
	return networkFailure
}
