package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"scholarify/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

const maxExcelUploadBytes = 10 << 20

type Handler struct {
	svc           questionService
	publicBaseURL string
}

type questionService interface {
	GetSubtest(ctx context.Context, code string) (*Subtest, error)
	ListSubtests(ctx context.Context) ([]Subtest, error)
	ListQuestions(ctx context.Context, subtestID int64) ([]Question, error)
	ListQuestionsAdmin(ctx context.Context, f AdminQuestionFilter) ([]AdminQuestion, apiresp.Pagination, error)
	UpdateAnswerKey(ctx context.Context, questionID int64, answer string) (*Question, error)
	ImportQuestionsExcel(ctx context.Context, r io.Reader) (*ImportReport, error)
	SeedSubtests(ctx context.Context, seeds []SubtestSeed) (*SeedReport, error)
}

type subtestItem struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Duration      float64 `json:"duration"`
	QuestionCount int     `json:"questionCount"`
}

type questionItem struct {
	ID            string   `json:"id"`
	SoalID        int64    `json:"soal_id"`
	SubtestID     string   `json:"subtestId"`
	Question      string   `json:"question"`
	QuestionImage *string  `json:"question_image"`
	Options       []Option `json:"options"`
}

func NewHandler(svc *Service, publicBaseURL string) *Handler {
	return &Handler{svc: svc, publicBaseURL: publicBaseURL}
}

func (h *Handler) ListSubtests(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSubtests(r.Context())
	if err != nil {
		apiresp.WriteFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]subtestItem, 0, len(items))
	for _, st := range items {
		out = append(out, subtestItem{
			ID:            strings.ToLower(st.Code),
			Code:          st.Code,
			Title:         st.Name,
			Description:   fmt.Sprintf("Subtest %s untuk UTBK 2025", st.Name),
			Duration:      st.DurationMinutes,
			QuestionCount: st.QuestionCount,
		})
	}
	apiresp.WriteRaw(w, http.StatusOK, out)
}

// SubtestQuestions serves the tryout page. Answer keys stay server side.
func (h *Handler) SubtestQuestions(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	st, err := h.svc.GetSubtest(r.Context(), code)
	if err != nil {
		if errors.Is(err, ErrSubtestNotFound) {
			apiresp.WriteFailure(w, http.StatusNotFound, fmt.Sprintf("Subtest with code %s not found", code))
			return
		}
		apiresp.WriteFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	questions, err := h.svc.ListQuestions(r.Context(), st.ID)
	if err != nil {
		apiresp.WriteFailure(w, http.StatusInternalServerError, "internal error")
		return
	}

	base := h.baseURL(r)
	prefix := strings.ToLower(st.Code)
	out := make([]questionItem, 0, len(questions))
	for i, q := range questions {
		out = append(out, questionItem{
			ID:            fmt.Sprintf("%s-%d", prefix, i+1),
			SoalID:        q.ID,
			SubtestID:     prefix,
			Question:      q.Text,
			QuestionImage: ImageURL(q.ImageRef, base),
			Options:       q.Options(),
		})
	}
	apiresp.WriteRaw(w, http.StatusOK, out)
}

func (h *Handler) ListAdmin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, pagination, err := h.svc.ListQuestionsAdmin(r.Context(), AdminQuestionFilter{
		SubtestCode: q.Get("subtest_code"),
		Search:      q.Get("search"),
		Page:        page,
		Limit:       limit,
	})
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	base := h.baseURL(r)
	for i := range items {
		items[i].ImageURL = ImageURL(items[i].ImageRef, base)
	}
	apiresp.WritePage(w, r, items, pagination)
}

type answerKeyRequest struct {
	CorrectAnswer string `json:"correct_answer"`
}

func (h *Handler) UpdateAnswerKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}
	var req answerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := h.svc.UpdateAnswerKey(r.Context(), id, req.CorrectAnswer)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrQuestionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "soal tidak ditemukan")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) ImportExcel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxExcelUploadBytes)
	file, fh, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteFailure(w, http.StatusBadRequest, `File Excel tidak ditemukan. Kirim dengan field "file".`)
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".xlsx") {
		apiresp.WriteFailure(w, http.StatusBadRequest, "File harus berformat .xlsx")
		return
	}

	report, err := h.svc.ImportQuestionsExcel(r.Context(), file)
	if err != nil {
		var headerErr *HeaderError
		switch {
		case errors.As(err, &headerErr):
			apiresp.WriteRaw(w, http.StatusBadRequest, map[string]any{
				"error": headerErr.Error(),
				"found": headerErr.Found,
			})
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteFailure(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteFailure(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteRaw(w, http.StatusOK, report)
}

func (h *Handler) SeedSubtests(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.SeedSubtests(r.Context(), nil)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

func (h *Handler) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
