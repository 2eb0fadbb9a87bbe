package report

import (
	"context"
	"net/http"
	"strconv"

	"scholarify/internal/app/apiresp"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	Dashboard(ctx context.Context) (*Dashboard, error)
	ListUsers(ctx context.Context) ([]UserStat, error)
	ListResults(ctx context.Context, f ResultFilter) ([]ResultRow, apiresp.Pagination, error)
	ExportResultsExcel(ctx context.Context, f ResultFilter) ([]byte, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Dashboard(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListUsers(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	items, page, err := h.svc.ListResults(r.Context(), resultFilter(r))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WritePage(w, r, items, page)
}

func (h *Handler) ExportResults(w http.ResponseWriter, r *http.Request) {
	content, err := h.svc.ExportResultsExcel(r.Context(), resultFilter(r))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="hasil_tryout.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func resultFilter(r *http.Request) ResultFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return ResultFilter{
		Username:    q.Get("username"),
		SubtestCode: q.Get("subtest_code"),
		Page:        page,
		Limit:       limit,
	}
}
