package tryout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"scholarify/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockTryoutService struct {
	submitFn           func(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	historyFn          func(ctx context.Context, username string) ([]Result, error)
	recomputeFn        func(ctx context.Context, resultID int64) (*Result, error)
	recomputeSubtestFn func(ctx context.Context, code string) (*RecomputeReport, error)
}

func (m *mockTryoutService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if m.submitFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitFn(ctx, in)
}

func (m *mockTryoutService) History(ctx context.Context, username string) ([]Result, error) {
	if m.historyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.historyFn(ctx, username)
}

func (m *mockTryoutService) Recompute(ctx context.Context, resultID int64) (*Result, error) {
	if m.recomputeFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.recomputeFn(ctx, resultID)
}

func (m *mockTryoutService) RecomputeSubtest(ctx context.Context, code string) (*RecomputeReport, error) {
	if m.recomputeSubtestFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.recomputeSubtestFn(ctx, code)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func withChiParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestSubmitHandlerOK(t *testing.T) {
	completed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	h := &Handler{svc: &mockTryoutService{
		submitFn: func(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
			if in.Username != "siti" || in.SubtestCode != "LBI" || in.BatchID != "7" {
				t.Fatalf("unexpected input: %+v", in)
			}
			want := AnswerSheet{{"101", "a"}, {"2", ""}, {"3", "1"}}
			if !reflect.DeepEqual(in.Answers, want) {
				t.Fatalf("unexpected answers: %v", in.Answers)
			}
			if in.DurationSeconds == nil || *in.DurationSeconds != 1800 {
				t.Fatalf("unexpected duration: %v", in.DurationSeconds)
			}
			return &SubmitResult{ID: 9, SubtestCode: "LBI", SubtestName: "Literasi", BatchID: "7", Correct: 2, Blank: 1, Score: 66.67, CompletedAt: &completed}, nil
		},
	}}

	body := `{"username":"siti","subtest_code":"LBI","batch_id":7,"jawaban":{"101":"a","2":null,"3":1},"durasi_detik":1800}`
	req := httptest.NewRequest(http.MethodPost, "/api/submit-jawaban/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Submit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	hasil := resp["hasil"].(map[string]any)
	if hasil["jumlah_benar"] != float64(2) || hasil["jumlah_kosong"] != float64(1) || hasil["skor"] != 66.67 {
		t.Fatalf("unexpected hasil: %v", hasil)
	}
	if hasil["subtest_nama"] != "Literasi" || hasil["waktu_selesai"] != "2025-03-01T09:30:00Z" {
		t.Fatalf("unexpected hasil labels: %v", hasil)
	}
}

func TestSubmitHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{name: "validation", err: &Error{Kind: ErrValidation, Message: "username, subtest_code, dan batch_id wajib"}, status: http.StatusBadRequest, msg: "username, subtest_code, dan batch_id wajib"},
		{name: "empty", err: &Error{Kind: ErrEmptySubmission, Message: "Jawaban kosong"}, status: http.StatusBadRequest, msg: "Jawaban kosong"},
		{name: "user", err: &Error{Kind: ErrUserNotFound, Message: "User tidak ditemukan"}, status: http.StatusNotFound, msg: "User tidak ditemukan"},
		{name: "subtest", err: &Error{Kind: ErrSubtestNotFound, Message: "Subtest dengan code X tidak ditemukan"}, status: http.StatusNotFound, msg: "Subtest dengan code X tidak ditemukan"},
		{name: "internal", err: errors.New("db down"), status: http.StatusInternalServerError, msg: "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{svc: &mockTryoutService{
				submitFn: func(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
					return nil, tt.err
				},
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/submit-jawaban/", bytes.NewBufferString(`{"username":"siti","subtest_code":"LBI","batch_id":"b","jawaban":{"0":"A"}}`))
			w := httptest.NewRecorder()
			h.Submit(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			if body := decodeBody(t, w); body["error"] != tt.msg {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestSubmitHandlerKeepsPayloadOrder(t *testing.T) {
	lbi := bank([]int64{101, 102, 103}, []string{"A", "B", "C"})
	var got map[int64]string
	h := &Handler{svc: &mockTryoutService{
		submitFn: func(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
			want := AnswerSheet{{"101", "B"}, {"0", "A"}, {"2", "c"}}
			if !reflect.DeepEqual(in.Answers, want) {
				t.Fatalf("answers = %v, want %v", in.Answers, want)
			}
			got, _ = ResolveAnswers(in.Answers, lbi)
			return &SubmitResult{ID: 1}, nil
		},
	}}

	body := `{"username":"siti","subtest_code":"LBI","batch_id":"b","jawaban":{"101":"B","0":"A","2":"c"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/submit-jawaban/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Submit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := map[int64]string{101: "A", 103: "C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolved = %v, want %v", got, want)
	}
}

func TestSubmitHandlerRejectsBadBodies(t *testing.T) {
	oversized := `{"username":"siti","subtest_code":"LBI","batch_id":"b","jawaban":{"0":"` +
		strings.Repeat("A", maxSubmitBodyBytes) + `"}}`

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{name: "huge duration", body: `{"username":"siti","subtest_code":"LBI","batch_id":"b","jawaban":{"0":"A"},"durasi_detik":1e300}`, status: http.StatusBadRequest, msg: "durasi_detik terlalu besar"},
		{name: "duration above int32", body: `{"username":"siti","subtest_code":"LBI","batch_id":"b","jawaban":{"0":"A"},"durasi_detik":2147483648}`, status: http.StatusBadRequest, msg: "durasi_detik terlalu besar"},
		{name: "negative duration", body: `{"username":"siti","subtest_code":"LBI","batch_id":"b","jawaban":{"0":"A"},"durasi_detik":-3}`, status: http.StatusBadRequest, msg: "durasi_detik tidak boleh negatif"},
		{name: "jawaban not an object", body: `{"username":"siti","subtest_code":"LBI","batch_id":"b","jawaban":["A"]}`, status: http.StatusBadRequest, msg: "invalid request body"},
		{name: "oversized body", body: oversized, status: http.StatusRequestEntityTooLarge, msg: "request body terlalu besar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{svc: &mockTryoutService{
				submitFn: func(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
					t.Fatalf("service must not be called")
					return nil, nil
				},
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/submit-jawaban/", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			h.Submit(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			if body := decodeBody(t, w); body["error"] != tt.msg {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestSubmitHandlerRejectsOtherStudent(t *testing.T) {
	called := false
	h := &Handler{svc: &mockTryoutService{
		submitFn: func(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
			called = true
			return &SubmitResult{ID: 1}, nil
		},
	}}

	tests := []struct {
		name   string
		user   *auth.User
		status int
	}{
		{name: "other student", user: &auth.User{ID: 2, Username: "budi", Role: auth.RoleStudent}, status: http.StatusForbidden},
		{name: "same student", user: &auth.User{ID: 1, Username: "siti", Role: auth.RoleStudent}, status: http.StatusOK},
		{name: "admin", user: &auth.User{ID: 3, Username: "admin", Role: auth.RoleAdmin}, status: http.StatusOK},
		{name: "anonymous", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodPost, "/api/submit-jawaban/", bytes.NewBufferString(`{"username":"Siti","subtest_code":"LBI","batch_id":"b","jawaban":{"0":"A"}}`))
			if tt.user != nil {
				req = req.WithContext(auth.ContextWithUser(req.Context(), tt.user))
			}
			w := httptest.NewRecorder()
			h.Submit(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			if called != (tt.status == http.StatusOK) {
				t.Fatalf("service called=%v for status %d", called, tt.status)
			}
		})
	}
}

func TestHistoryHandler(t *testing.T) {
	completed := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	h := &Handler{svc: &mockTryoutService{
		historyFn: func(ctx context.Context, username string) ([]Result, error) {
			if username == "nobody" {
				return nil, &Error{Kind: ErrUserNotFound, Message: "User tidak ditemukan"}
			}
			return []Result{
				{ID: 2, BatchID: "b2", SubtestCode: "LBI", Correct: 2, Blank: 1, Score: 66.67, CompletedAt: &completed},
				{ID: 1, BatchID: "b1", SubtestCode: "PU", CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
			}, nil
		},
	}}

	req := withChiParam(httptest.NewRequest(http.MethodGet, "/api/riwayat-nilai/siti/", nil), "username", "siti")
	w := httptest.NewRecorder()
	h.History(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var items []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || items[0]["tanggal"] != "2025-03-02" || items[1]["tanggal"] != "2025-02-01" {
		t.Fatalf("unexpected items: %v", items)
	}
	if items[1]["waktu_selesai"] != nil {
		t.Fatalf("expected null completion, got %v", items[1]["waktu_selesai"])
	}

	req = withChiParam(httptest.NewRequest(http.MethodGet, "/api/riwayat-nilai/nobody/", nil), "username", "nobody")
	w = httptest.NewRecorder()
	h.History(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRecomputeHandlers(t *testing.T) {
	h := &Handler{svc: &mockTryoutService{
		recomputeFn: func(ctx context.Context, resultID int64) (*Result, error) {
			if resultID == 404 {
				return nil, ErrResultNotFound
			}
			return &Result{ID: resultID, Score: 50}, nil
		},
		recomputeSubtestFn: func(ctx context.Context, code string) (*RecomputeReport, error) {
			if code == "xyz" {
				return nil, &Error{Kind: ErrSubtestNotFound, Message: "Subtest dengan code XYZ tidak ditemukan"}
			}
			return &RecomputeReport{SubtestCode: "LBI", Results: 4}, nil
		},
	}}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		key     string
		value   string
		status  int
	}{
		{name: "result ok", handler: h.RecomputeResult, key: "resultID", value: "5", status: http.StatusOK},
		{name: "result missing", handler: h.RecomputeResult, key: "resultID", value: "404", status: http.StatusNotFound},
		{name: "result bad id", handler: h.RecomputeResult, key: "resultID", value: "x", status: http.StatusBadRequest},
		{name: "subtest ok", handler: h.RecomputeSubtest, key: "code", value: "lbi", status: http.StatusOK},
		{name: "subtest missing", handler: h.RecomputeSubtest, key: "code", value: "xyz", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withChiParam(httptest.NewRequest(http.MethodPost, "/", nil), tt.key, tt.value)
			w := httptest.NewRecorder()
			tt.handler(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
			body := decodeBody(t, w)
			if ok, _ := body["ok"].(bool); ok != (tt.status == http.StatusOK) {
				t.Fatalf("unexpected envelope: %v", body)
			}
		})
	}
}
