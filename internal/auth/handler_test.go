package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockAuthService struct {
	authenticateFn  func(ctx context.Context, identifier, password string) (*User, error)
	issueTokenFn    func(u *User) (string, time.Time, error)
	userFromTokenFn func(ctx context.Context, token string) (*User, error)
	importUsersFn   func(ctx context.Context, r io.Reader) (*UserImportReport, error)
	exportUsersFn   func(ctx context.Context) ([]byte, error)
}

func (m *mockAuthService) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	if m.authenticateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.authenticateFn(ctx, identifier, password)
}

func (m *mockAuthService) IssueToken(u *User) (string, time.Time, error) {
	if m.issueTokenFn == nil {
		return "", time.Time{}, errors.New("not implemented")
	}
	return m.issueTokenFn(u)
}

func (m *mockAuthService) UserFromToken(ctx context.Context, token string) (*User, error) {
	if m.userFromTokenFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.userFromTokenFn(ctx, token)
}

func (m *mockAuthService) ImportUsersExcel(ctx context.Context, r io.Reader) (*UserImportReport, error) {
	if m.importUsersFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importUsersFn(ctx, r)
}

func (m *mockAuthService) ExportUsersExcel(ctx context.Context) ([]byte, error) {
	if m.exportUsersFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportUsersFn(ctx)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestLoginOK(t *testing.T) {
	h := &Handler{svc: &mockAuthService{
		authenticateFn: func(ctx context.Context, identifier, password string) (*User, error) {
			if identifier != "siti" || password != "rahasia123" {
				t.Fatalf("unexpected credentials: %s/%s", identifier, password)
			}
			return &User{ID: 7, Username: "siti", Role: RoleStudent}, nil
		},
		issueTokenFn: func(u *User) (string, time.Time, error) {
			return "tok", time.Now().Add(time.Hour), nil
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login/", bytes.NewReader([]byte(`{"username":"siti","password":"rahasia123"}`)))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	user, _ := body["user"].(map[string]any)
	if body["ok"] != true || body["token"] != "tok" || user["name"] != "siti" || user["role"] != RoleStudent {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestLoginMissingFields(t *testing.T) {
	h := &Handler{svc: &mockAuthService{}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login/", bytes.NewReader([]byte(`{"username":""}`)))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := decodeBody(t, w)["error"]; msg != "Username & password wajib" {
		t.Fatalf("unexpected error message: %v", msg)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := &Handler{svc: &mockAuthService{
		authenticateFn: func(ctx context.Context, identifier, password string) (*User, error) {
			return nil, ErrInvalidCredentials
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login/", bytes.NewReader([]byte(`{"username":"x","password":"y"}`)))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuthAndRoles(t *testing.T) {
	h := &Handler{svc: &mockAuthService{
		userFromTokenFn: func(ctx context.Context, token string) (*User, error) {
			switch token {
			case "admin-token":
				return &User{ID: 1, Username: "admin", Role: RoleAdmin}, nil
			case "student-token":
				return &User{ID: 2, Username: "siti", Role: RoleStudent}, nil
			default:
				return nil, ErrUnauthorized
			}
		},
	}}
	protected := h.RequireAuth(h.RequireRoles(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := CurrentUser(r.Context()); !ok || u.ID != 1 {
			t.Fatalf("expected admin in context")
		}
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing token", header: "", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "student forbidden", header: "Bearer student-token", want: http.StatusForbidden},
		{name: "admin allowed", header: "Bearer admin-token", want: http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/dashboard/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			protected.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestOptionalAuthAllowsAnonymous(t *testing.T) {
	h := &Handler{svc: &mockAuthService{}}
	called := false
	next := h.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := CurrentUser(r.Context()); ok {
			t.Fatalf("expected no user in context")
		}
	}))

	next.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/submit-jawaban/", nil))
	if !called {
		t.Fatalf("expected handler to run for anonymous request")
	}
}
