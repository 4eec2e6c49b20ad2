package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"cafepos/m/domain"
	"cafepos/m/internal/database"
)

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

type authClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID int64, role string) (string, error) {
	claims := authClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(h.now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(h.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Vui lòng đăng nhập")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Phiên đăng nhập không hợp lệ")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Phiên đăng nhập không hợp lệ")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	current, ok := r.Context().Value(ctxRole).(string)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Tài khoản chưa được phân quyền")
		return false
	}
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "forbidden", "Bạn không có quyền thực hiện thao tác này")
	return false
}

func staffID(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxUserID).(int64)
	return id
}

// Auth Handlers

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_credentials", "Vui lòng nhập tên đăng nhập và mật khẩu")
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleStaff
	}
	if req.Role != domain.RoleAdmin && req.Role != domain.RoleStaff {
		respondError(w, http.StatusBadRequest, "invalid_role", "Vai trò phải là admin hoặc staff")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var userID int64
	err = h.db.QueryRowxContext(r.Context(), h.db.Rebind(`INSERT INTO users (username, password, role) VALUES (?, ?, ?) RETURNING id`),
		req.Username, string(hashed), req.Role).Scan(&userID)
	if database.IsUniqueViolation(err) {
		respondError(w, http.StatusConflict, "username_taken", "Tên đăng nhập đã tồn tại")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	token, err := h.generateToken(userID, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, authResponse{Token: token, User: domain.User{ID: int(userID), Username: req.Username, Role: req.Role}})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var user domain.User
	err := h.db.GetContext(r.Context(), &user, h.db.Rebind(`SELECT id, username, password, role FROM users WHERE username = ?`),
		strings.ToLower(strings.TrimSpace(req.Username)))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Sai tên đăng nhập hoặc mật khẩu")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Sai tên đăng nhập hoặc mật khẩu")
		return
	}

	token, err := h.generateToken(int64(user.ID), user.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user.Password = ""
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	if payload.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "invalid_password", "Vui lòng nhập mật khẩu mới")
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.db.ExecContext(r.Context(), h.db.Rebind(`UPDATE users SET password = ? WHERE id = ?`), string(hashed), staffID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}
