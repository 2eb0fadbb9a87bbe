package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"scholarify/internal/app/apiresp"
)

type contextKey string

const userContextKey contextKey = "auth_user"

const maxExcelUploadBytes = 10 << 20

type Handler struct {
	svc authService
}

type authService interface {
	AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error)
	IssueToken(u *User) (string, time.Time, error)
	UserFromToken(ctx context.Context, token string) (*User, error)
	ImportUsersExcel(ctx context.Context, r io.Reader) (*UserImportReport, error)
	ExportUsersExcel(ctx context.Context) ([]byte, error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginUser struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type loginResponse struct {
	OK        bool      `json:"ok"`
	User      loginUser `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		apiresp.WriteFailure(w, http.StatusBadRequest, "Username & password wajib")
		return
	}

	user, err := h.svc.AuthenticatePassword(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			apiresp.WriteFailure(w, http.StatusUnauthorized, "Username atau password salah")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteFailure(w, http.StatusForbidden, "Akun tidak aktif")
		default:
			apiresp.WriteFailure(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token, expiresAt, err := h.svc.IssueToken(user)
	if err != nil {
		apiresp.WriteFailure(w, http.StatusInternalServerError, "cannot issue token")
		return
	}

	apiresp.WriteRaw(w, http.StatusOK, loginResponse{
		OK: true,
		User: loginUser{
			Username: user.Username,
			Name:     user.DisplayName(),
			Role:     user.Role,
		},
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) ImportUsersExcel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxExcelUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, `File Excel tidak ditemukan. Kirim dengan field "file".`)
		return
	}
	defer file.Close()

	report, err := h.svc.ImportUsersExcel(r.Context(), file)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

func (h *Handler) ExportUsersExcel(w http.ResponseWriter, r *http.Request) {
	content, err := h.svc.ExportUsersExcel(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="users.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := readBearerToken(r)
		if token == "" {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := h.svc.UserFromToken(r.Context(), token)
		if err != nil {
			writeTokenError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// OptionalAuth attaches the user when a bearer token is sent and lets
// anonymous requests through. A token that does not verify is still rejected.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := readBearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.svc.UserFromToken(r.Context(), token)
		if err != nil {
			writeTokenError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				apiresp.WriteError(w, r, http.StatusForbidden, "Akses ditolak. Hanya admin yang bisa mengakses halaman ini.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "account is not active")
	case errors.Is(err, ErrUnauthorized):
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func readBearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
