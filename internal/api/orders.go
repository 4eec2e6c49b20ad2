package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"cafepos/m/domain"
	"cafepos/m/internal/order"
	"cafepos/m/internal/receipt"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in order.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.orders.Create(r.Context(), staffID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	setETag(w, d.Version)
	respondJSON(w, http.StatusCreated, d)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	tableID, err := queryInt(r, "table")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	orders, err := h.orders.List(r.Context(), order.Filter{
		Status:  r.URL.Query().Get("status"),
		TableID: tableID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.orders.Detail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, http.StatusOK, d)
}

func (h *Handler) listOrderItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.orders.Lines(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lines)
}

func (h *Handler) addOrderItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in order.AddItemInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.orders.AddItem(r.Context(), id, in, version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, http.StatusCreated, d)
}

func (h *Handler) updateOrderItem(w http.ResponseWriter, r *http.Request) {
	id, lineID, err := orderLineIDs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in order.UpdateItemInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.orders.UpdateItem(r.Context(), id, lineID, in, version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, http.StatusOK, d)
}

func (h *Handler) removeOrderItem(w http.ResponseWriter, r *http.Request) {
	id, lineID, err := orderLineIDs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.orders.RemoveItem(r.Context(), id, lineID, version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, http.StatusOK, d)
}

// patchRequest changes exactly one aspect of an order. MaKH is kept raw so
// an explicit null (detach the customer) can be told apart from absence.
type patchRequest struct {
	Status       *domain.OrderStatus `json:"TrangThai"`
	TableID      *int64              `json:"MaBan"`
	CustomerID   json.RawMessage     `json:"MaKH"`
	PointsUsed   *int64              `json:"DiemSuDung"`
	CancelReason *string             `json:"LyDoHuy"`
}

func (h *Handler) patchOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	set := 0
	for _, present := range []bool{req.Status != nil, req.TableID != nil, req.CustomerID != nil, req.PointsUsed != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		respondError(w, http.StatusBadRequest, "invalid_patch", "Mỗi lần chỉ được cập nhật một trong TrangThai, MaBan, MaKH, DiemSuDung")
		return
	}

	ctx := r.Context()
	var d order.Detail
	switch {
	case req.Status != nil:
		switch *req.Status {
		case domain.OrderCompleted:
			d, err = h.orders.Complete(ctx, id, version)
		case domain.OrderCancelled:
			reason := ""
			if req.CancelReason != nil {
				reason = *req.CancelReason
			}
			d, err = h.orders.Cancel(ctx, id, reason, version)
		case domain.OrderProcessing:
			err = domain.NewBusinessError(domain.ErrInvalidTransition, "invalid_transition", "Không thể mở lại đơn hàng")
		default:
			err = domain.Validationf("invalid_status", "Trạng thái đơn %q không hợp lệ", *req.Status)
		}
	case req.TableID != nil:
		d, err = h.orders.ChangeTable(ctx, id, *req.TableID, version)
	case req.CustomerID != nil:
		var customerID *int64
		customerID, err = decodeOptionalID(req.CustomerID)
		if err == nil {
			d, err = h.orders.ChangeCustomer(ctx, id, customerID, version)
		}
	default:
		d, err = h.orders.UpdatePointsUsed(ctx, id, *req.PointsUsed, version)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, http.StatusOK, d)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.orders.Cancel(r.Context(), id, req.Reason, version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondOrder(w, http.StatusOK, d)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.orders.Delete(r.Context(), id, force, version); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) orderReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	d, err := h.orders.Detail(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data := receipt.Data{
		ShopName:  h.shopName,
		Order:     d.Order,
		Lines:     d.Lines,
		PrintedAt: h.now(),
		Width:     h.receiptWidth,
	}
	if table, err := h.catalog.GetTable(ctx, d.TableID); err == nil {
		data.TableName = table.Name
	}
	if d.CustomerID != nil {
		if c, err := h.catalog.GetCustomer(ctx, *d.CustomerID); err == nil {
			data.CustomerName = c.Name
		}
	}

	var buf bytes.Buffer
	if err := receipt.Render(&buf, data); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) respondOrder(w http.ResponseWriter, status int, d order.Detail) {
	setETag(w, d.Version)
	respondJSON(w, status, d)
}

func orderLineIDs(r *http.Request) (int64, int64, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, 0, err
	}
	lineID, err := pathID(r, "lineID")
	if err != nil {
		return 0, 0, err
	}
	return id, lineID, nil
}

func decodeOptionalID(raw json.RawMessage) (*int64, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil || id <= 0 {
		return nil, domain.Validationf("invalid_customer", "MaKH %s không hợp lệ", string(raw))
	}
	return &id, nil
}
