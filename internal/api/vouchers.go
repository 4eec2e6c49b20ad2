package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cafepos/m/domain"
)

func (h *Handler) createVoucher(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var v domain.Voucher
	if err := decodeJSON(r, &v); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.vouchers.Create(r.Context(), v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.vouchers.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, vouchers)
}

func (h *Handler) validateVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  string `json:"MaVoucher"`
		Total int64  `json:"TongTien"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.vouchers.Validate(r.Context(), req.Code, req.Total)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (h *Handler) useVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.vouchers.Use(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}
