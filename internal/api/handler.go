package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cafepos/m/domain"
	"cafepos/m/internal/cart"
	"cafepos/m/internal/catalog"
	"cafepos/m/internal/loyalty"
	"cafepos/m/internal/order"
	"cafepos/m/internal/voucher"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	DB             *sqlx.DB
	Secret         string
	Log            *zap.Logger
	Catalog        *catalog.Service
	Ledger         *loyalty.Ledger
	Orders         *order.Service
	Vouchers       *voucher.Service
	Carts          cart.Store
	ShopName       string
	ReceiptWidth   int
	RequestTimeout time.Duration
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db           *sqlx.DB
	secret       string
	log          *zap.Logger
	catalog      *catalog.Service
	ledger       *loyalty.Ledger
	orders       *order.Service
	vouchers     *voucher.Service
	carts        cart.Store
	shopName     string
	receiptWidth int
	timeout      time.Duration
	now          func() time.Time
}

// New constructs a Handler.
func New(d Deps) *Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		db:           d.DB,
		secret:       d.Secret,
		log:          d.Log,
		catalog:      d.Catalog,
		ledger:       d.Ledger,
		orders:       d.Orders,
		vouchers:     d.Vouchers,
		carts:        d.Carts,
		shopName:     d.ShopName,
		receiptWidth: d.ReceiptWidth,
		timeout:      timeout,
		now:          time.Now,
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "If-Match", "Idempotency-Key"},
		ExposedHeaders:   []string{"ETag", "X-Request-Id"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.Get("/health", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Group(func(protected chi.Router) {
			protected.Use(h.authMiddleware)
			protected.Post("/reset-password", h.resetPassword)
		})
	})

	// storefront carts are keyed by an anonymous session id
	r.Route("/carts/{sessionID}", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Put("/", h.putCart)
		r.Delete("/", h.deleteCart)
	})

	r.Get("/menu", h.menu)
	r.Get("/categories", h.listCategories)
	r.Get("/menu-items", h.listMenuItems)
	r.Get("/menu-items/{id}", h.getMenuItem)

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/tables", func(r chi.Router) {
			r.Get("/", h.listTables)
			r.Put("/{id}/status", h.setTableStatus)
		})

		pr.Route("/customers", func(r chi.Router) {
			r.Get("/", h.listCustomers)
			r.Post("/", h.createCustomer)
			r.Get("/{id}", h.getCustomer)
			r.Get("/{id}/points", h.customerPoints)
			r.Post("/{id}/add-points", h.addPoints)
			r.Post("/{id}/deduct-points", h.deductPoints)
		})

		pr.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.getOrder)
			r.Put("/{id}", h.patchOrder)
			r.Delete("/{id}", h.deleteOrder)
			r.Patch("/{id}/cancel", h.cancelOrder)
			r.Get("/{id}/receipt", h.orderReceipt)
			r.Get("/{id}/items", h.listOrderItems)
			r.Post("/{id}/items", h.addOrderItem)
			r.Put("/{id}/items/{lineID}", h.updateOrderItem)
			r.Delete("/{id}/items/{lineID}", h.removeOrderItem)
		})

		pr.Route("/vouchers", func(r chi.Router) {
			r.Post("/", h.createVoucher)
			r.Get("/", h.listVouchers)
			r.Post("/validate", h.validateVoucher)
			r.Post("/{code}/use", h.useVoucher)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Không kết nối được cơ sở dữ liệu")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return domain.Validationf("invalid_body", "Dữ liệu gửi lên không hợp lệ: %v", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message})
}

// fail maps err onto a status code and the {error, message} body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	var be *domain.BusinessError
	if errors.As(err, &be) {
		respondError(w, status, be.Code, be.Message)
		return
	}
	h.log.Error("request failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	respondError(w, status, "internal_error", "Lỗi hệ thống, vui lòng thử lại")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderClosed),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrInUse):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientPoints),
		errors.Is(err, domain.ErrVoucherInvalid):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("invalid_id", "Mã %s không hợp lệ", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, domain.Validationf("invalid_query", "Tham số %s không hợp lệ", name)
	}
	return v, nil
}

// ifMatch reads the expected order version from If-Match. Zero means the
// header was absent.
func ifMatch(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, domain.Validationf("invalid_if_match", "If-Match phải chứa phiên bản đơn hàng")
	}
	return v, nil
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", fmt.Sprintf("%q", strconv.FormatInt(version, 10)))
}
