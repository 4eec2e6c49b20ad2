package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cafepos/m/internal/cart"
)

func sessionID(r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	return id, id != "" && len(id) <= 128
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_session", "Mã phiên giỏ hàng không hợp lệ")
		return
	}
	c, err := h.carts.Load(r.Context(), id)
	if errors.Is(err, cart.ErrCartNotFound) {
		respondError(w, http.StatusNotFound, "cart_not_found", "Không tìm thấy giỏ hàng")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) putCart(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_session", "Mã phiên giỏ hàng không hợp lệ")
		return
	}
	var c cart.Cart
	if err := decodeJSON(r, &c); err != nil {
		h.fail(w, r, err)
		return
	}
	for _, l := range c.Items {
		if l.Quantity < 1 || l.UnitPrice < 0 {
			respondError(w, http.StatusBadRequest, "invalid_cart", "Mỗi món trong giỏ cần số lượng dương và đơn giá")
			return
		}
	}
	if err := h.carts.Save(r.Context(), id, c); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCart(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_session", "Mã phiên giỏ hàng không hợp lệ")
		return
	}
	if err := h.carts.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
