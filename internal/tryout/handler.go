package tryout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scholarify/internal/app/apiresp"
	"scholarify/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc tryoutService
}

type tryoutService interface {
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	History(ctx context.Context, username string) ([]Result, error)
	Recompute(ctx context.Context, resultID int64) (*Result, error)
	RecomputeSubtest(ctx context.Context, code string) (*RecomputeReport, error)
}

type submitRequest struct {
	Username    string      `json:"username"`
	SubtestCode string      `json:"subtest_code"`
	BatchID     flexString  `json:"batch_id"`
	Jawaban     AnswerSheet `json:"jawaban"`
	DurasiDetik *float64    `json:"durasi_detik"`
}

type submitResponse struct {
	Success bool          `json:"success"`
	Hasil   *SubmitResult `json:"hasil"`
}

type historyItem struct {
	ID           int64      `json:"id"`
	BatchID      string     `json:"batch_id"`
	SubtestCode  string     `json:"subtest_code"`
	SubtestName  string     `json:"subtest_nama"`
	Correct      int        `json:"jumlah_benar"`
	Incorrect    int        `json:"jumlah_salah"`
	Blank        int        `json:"jumlah_kosong"`
	Score        float64    `json:"skor"`
	CompletedAt  *time.Time `json:"waktu_selesai"`
	Date         string     `json:"tanggal"`
	DurationSecs *int       `json:"durasi_detik"`
}

const maxSubmitBodyBytes = 256 << 10

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBodyBytes)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiresp.WriteFailure(w, http.StatusRequestEntityTooLarge, "request body terlalu besar")
			return
		}
		apiresp.WriteFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.allowedFor(r, req.Username) {
		apiresp.WriteFailure(w, http.StatusForbidden, "Akses ditolak. Username tidak sesuai dengan sesi login.")
		return
	}

	in := SubmitInput{
		Username:    req.Username,
		SubtestCode: req.SubtestCode,
		BatchID:     string(req.BatchID),
		Answers:     req.Jawaban,
	}
	if req.DurasiDetik != nil {
		d, err := durationSeconds(*req.DurasiDetik)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		in.DurationSeconds = &d
	}

	out, err := h.svc.Submit(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	apiresp.WriteRaw(w, http.StatusOK, submitResponse{Success: true, Hasil: out})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if !h.allowedFor(r, username) {
		apiresp.WriteFailure(w, http.StatusForbidden, "Akses ditolak.")
		return
	}
	items, err := h.svc.History(r.Context(), username)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]historyItem, 0, len(items))
	for _, it := range items {
		day := it.CreatedAt
		if it.CompletedAt != nil {
			day = *it.CompletedAt
		}
		out = append(out, historyItem{
			ID:           it.ID,
			BatchID:      it.BatchID,
			SubtestCode:  it.SubtestCode,
			SubtestName:  it.SubtestName,
			Correct:      it.Correct,
			Incorrect:    it.Incorrect,
			Blank:        it.Blank,
			Score:        clampScore(it.Score),
			CompletedAt:  it.CompletedAt,
			Date:         day.Format("2006-01-02"),
			DurationSecs: it.DurationSeconds,
		})
	}
	apiresp.WriteRaw(w, http.StatusOK, out)
}

func (h *Handler) RecomputeResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "resultID"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid result id")
		return
	}
	res, err := h.svc.Recompute(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrResultNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "hasil tidak ditemukan")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) RecomputeSubtest(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RecomputeSubtest(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, ErrSubtestNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

// allowedFor lets anonymous callers and admins through; a signed-in student
// may only act as themselves.
func (h *Handler) allowedFor(r *http.Request, username string) bool {
	u, ok := auth.CurrentUser(r.Context())
	if !ok || u.IsAdmin() {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(username), u.Username)
}

func writeServiceError(w http.ResponseWriter, err error) {
	msg := "internal error"
	var te *Error
	if errors.As(err, &te) {
		msg = te.Message
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptySubmission):
		apiresp.WriteFailure(w, http.StatusBadRequest, msg)
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrSubtestNotFound):
		apiresp.WriteFailure(w, http.StatusNotFound, msg)
	default:
		apiresp.WriteFailure(w, http.StatusInternalServerError, "internal error")
	}
}

func answerValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// durationSeconds rounds a client duration and rejects values that do not
// fit the stored INTEGER column.
func durationSeconds(v float64) (int, error) {
	if math.IsNaN(v) || v < 0 {
		return 0, &Error{Kind: ErrValidation, Message: "durasi_detik tidak boleh negatif"}
	}
	v = math.Round(v)
	if v > MaxDurationSeconds {
		return 0, &Error{Kind: ErrValidation, Message: "durasi_detik terlalu besar"}
	}
	return int(v), nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Round(v*100) / 100
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// UnmarshalJSON reads a JSON object token by token so the entries keep the
// order they were sent in.
func (s *AnswerSheet) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("jawaban must be an object")
	}

	out := make(AnswerSheet, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("jawaban key must be a string")
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, AnswerEntry{Key: key, Value: answerValue(v)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}
