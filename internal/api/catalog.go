package api

import (
	"net/http"

	"cafepos/m/domain"
	"cafepos/m/internal/catalog"
)

// Menu handlers

func (h *Handler) menu(w http.ResponseWriter, r *http.Request) {
	m, err := h.catalog.Menu(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (h *Handler) listMenuItems(w http.ResponseWriter, r *http.Request) {
	categoryID, err := queryInt(r, "category")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.catalog.ListMenuItems(r.Context(), catalog.ItemFilter{
		CategoryID:    categoryID,
		OnlyAvailable: r.URL.Query().Get("available") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) getMenuItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.catalog.GetMenuItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Table handlers

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.catalog.ListTables(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tables)
}

func (h *Handler) setTableStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Status string `json:"TrangThai"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.catalog.SetTableStatus(r.Context(), id, req.Status); err != nil {
		h.fail(w, r, err)
		return
	}
	table, err := h.catalog.GetTable(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, table)
}

// Customer handlers

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.catalog.ListCustomers(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, customers)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"HoTen"`
		Phone string `json:"SoDienThoai"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.catalog.CreateCustomer(r.Context(), req.Name, req.Phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.catalog.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type pointsResponse struct {
	CustomerID int64               `json:"MaKH"`
	Points     int64               `json:"DiemTichLuy"`
	History    []domain.PointEntry `json:"LichSu"`
}

func (h *Handler) customerPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.catalog.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	history, err := h.ledger.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pointsResponse{CustomerID: c.ID, Points: c.Points, History: history})
}

type pointsRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) addPoints(w http.ResponseWriter, r *http.Request) {
	h.adjustPoints(w, r, true)
}

func (h *Handler) deductPoints(w http.ResponseWriter, r *http.Request) {
	h.adjustPoints(w, r, false)
}

// adjustPoints serves manual balance corrections. A repeated Idempotency-Key
// returns the current balance without applying the change again.
func (h *Handler) adjustPoints(w http.ResponseWriter, r *http.Request, credit bool) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req pointsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")

	var c domain.Customer
	if credit {
		c, err = h.ledger.Add(r.Context(), id, req.Points, req.Reason, key)
	} else {
		c, err = h.ledger.Deduct(r.Context(), id, req.Points, req.Reason, key)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}
