package question

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	internaldb "scholarify/internal/db"

	"github.com/xuri/excelize/v2"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := internaldb.OpenMemory(context.Background(), t.Name())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewService(conn, t.TempDir())
}

func seedDefault(t *testing.T, svc *Service) {
	t.Helper()
	if _, err := svc.SeedSubtests(context.Background(), nil); err != nil {
		t.Fatalf("SeedSubtests error: %v", err)
	}
}

func TestNormalizeLetter(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "a", want: "A", ok: true},
		{in: " e ", want: "E", ok: true},
		{in: "F", want: "F", ok: false},
		{in: "", want: "", ok: false},
		{in: "AB", want: "AB", ok: false},
	}
	for _, tt := range tests {
		got, ok := NormalizeLetter(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("NormalizeLetter(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSeedSubtestsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	first, err := svc.SeedSubtests(ctx, nil)
	if err != nil {
		t.Fatalf("SeedSubtests error: %v", err)
	}
	if len(first.Created) != len(DefaultSubtests) || len(first.Updated) != 0 {
		t.Fatalf("unexpected first report: %+v", first)
	}
	second, err := svc.SeedSubtests(ctx, nil)
	if err != nil {
		t.Fatalf("SeedSubtests error: %v", err)
	}
	if len(second.Created) != 0 || len(second.Updated) != len(DefaultSubtests) {
		t.Fatalf("unexpected second report: %+v", second)
	}

	items, err := svc.ListSubtests(ctx)
	if err != nil {
		t.Fatalf("ListSubtests error: %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("expected 7 subtests, got %d", len(items))
	}
	if items[0].Code != "LBE" || items[len(items)-1].Code != "PU" {
		t.Fatalf("expected code order, got first=%s last=%s", items[0].Code, items[len(items)-1].Code)
	}

	lbi, err := svc.GetSubtest(ctx, " lbi ")
	if err != nil {
		t.Fatalf("GetSubtest error: %v", err)
	}
	if lbi.DurationMinutes != 42.5 || lbi.QuestionCount != 30 {
		t.Fatalf("unexpected LBI: %+v", lbi)
	}
	if _, err := svc.GetSubtest(ctx, "XYZ"); !errors.Is(err, ErrSubtestNotFound) {
		t.Fatalf("expected ErrSubtestNotFound, got %v", err)
	}
}

func TestCreateQuestionValidatesAndOrders(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedDefault(t, svc)
	st, _ := svc.GetSubtest(ctx, "PU")

	if _, err := svc.CreateQuestion(ctx, CreateQuestionInput{SubtestID: st.ID, Text: "x", CorrectAnswer: "F"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad key, got %v", err)
	}
	if _, err := svc.CreateQuestion(ctx, CreateQuestionInput{SubtestID: st.ID, CorrectAnswer: "A"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty question, got %v", err)
	}

	for i, key := range []string{"a", "B", " c "} {
		q, err := svc.CreateQuestion(ctx, CreateQuestionInput{
			SubtestID: st.ID, Text: "Soal " + string(rune('1'+i)), OptionA: "1", OptionB: "2", CorrectAnswer: key,
		})
		if err != nil {
			t.Fatalf("CreateQuestion error: %v", err)
		}
		if q.SubtestCode != "PU" || q.ImageRef != nil {
			t.Fatalf("unexpected question: %+v", q)
		}
	}

	items, err := svc.ListQuestions(ctx, st.ID)
	if err != nil {
		t.Fatalf("ListQuestions error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i-1].ID >= items[i].ID {
			t.Fatalf("questions not in ascending id order: %d then %d", items[i-1].ID, items[i].ID)
		}
	}
	if got := items[2].CorrectAnswer; got != "C" {
		t.Fatalf("expected normalized key C, got %q", got)
	}
	if opts := items[0].Options(); len(opts) != 5 || opts[1].Key != "B" || opts[1].Text != "2" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestUpdateAnswerKey(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedDefault(t, svc)
	st, _ := svc.GetSubtest(ctx, "PK")
	q, err := svc.CreateQuestion(ctx, CreateQuestionInput{SubtestID: st.ID, Text: "1+1", CorrectAnswer: "A"})
	if err != nil {
		t.Fatalf("CreateQuestion error: %v", err)
	}

	got, err := svc.UpdateAnswerKey(ctx, q.ID, "d")
	if err != nil {
		t.Fatalf("UpdateAnswerKey error: %v", err)
	}
	if got.CorrectAnswer != "D" {
		t.Fatalf("expected D, got %s", got.CorrectAnswer)
	}
	if _, err := svc.UpdateAnswerKey(ctx, q.ID, "z"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.UpdateAnswerKey(ctx, q.ID+100, "A"); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestListQuestionsAdminFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedDefault(t, svc)
	pu, _ := svc.GetSubtest(ctx, "PU")
	pk, _ := svc.GetSubtest(ctx, "PK")

	long := strings.Repeat("é", 250)
	mustCreate := func(subtestID int64, text string) {
		t.Helper()
		if _, err := svc.CreateQuestion(ctx, CreateQuestionInput{SubtestID: subtestID, Text: text, OptionA: "Jakarta", CorrectAnswer: "A"}); err != nil {
			t.Fatalf("CreateQuestion error: %v", err)
		}
	}
	mustCreate(pu.ID, long)
	mustCreate(pu.ID, "Ibukota Indonesia adalah")
	mustCreate(pu.ID, "Soal ketiga")
	mustCreate(pk.ID, "Hitung 2+2")

	items, page, err := svc.ListQuestionsAdmin(ctx, AdminQuestionFilter{SubtestCode: "pu", Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListQuestionsAdmin error: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || !page.HasNext || len(items) != 2 {
		t.Fatalf("unexpected page: %+v items=%d", page, len(items))
	}
	if got := []rune(items[0].Text); len(got) != 203 || !strings.HasSuffix(items[0].Text, "...") {
		t.Fatalf("expected truncated preview, got %d runes", len(got))
	}

	items, page, err = svc.ListQuestionsAdmin(ctx, AdminQuestionFilter{Search: "IBUKOTA"})
	if err != nil {
		t.Fatalf("ListQuestionsAdmin error: %v", err)
	}
	if page.Total != 1 || items[0].SubtestCode != "PU" {
		t.Fatalf("unexpected search result: %+v", items)
	}

	_, page, err = svc.ListQuestionsAdmin(ctx, AdminQuestionFilter{Search: "jakarta"})
	if err != nil {
		t.Fatalf("ListQuestionsAdmin error: %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("expected option text search to match 4, got %d", page.Total)
	}
}

func buildQuestionWorkbook(t *testing.T, header []string, rows [][]string) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	all := append([][]string{header}, rows...)
	for r, row := range all {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestImportQuestionsExcel(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedDefault(t, svc)

	if err := os.MkdirAll(filepath.Join(svc.mediaRoot, "soal_images"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(svc.mediaRoot, "soal_images", "grafik.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	header := []string{"Kode Subtes", "SOAL", "A", "B", "C", "D", "E", "KUNCI", "Gambar"}
	rows := [][]string{
		{"LBI", "Soal satu", "a", "b", "c", "d", "e", "a"},
		{"", "", "", "", "", "", "", ""},
		{"LBI", "", "a", "b", "c", "d", "e", "B", "grafik.png"},
		{"LBI", "", "a", "b", "c", "d", "e", "C", "https://cdn.example.com/x.png"},
		{"LBI", "Soal empat", "a", "b", "c", "d", "e", "F"},
		{"XYZ", "Soal lima", "a", "b", "c", "d", "e", "A"},
		{"LBI", "", "a", "b", "c", "d", "e", "A"},
		{"LBI", "", "a", "b", "c", "d", "e", "A", "hilang.png"},
		{"LBI", "Tetap dibuat", "a", "b", "c", "d", "e", "D", "hilang.png"},
	}

	report, err := svc.ImportQuestionsExcel(ctx, buildQuestionWorkbook(t, header, rows))
	if err != nil {
		t.Fatalf("ImportQuestionsExcel error: %v", err)
	}
	if !report.Success || report.Created != 4 || report.TotalErrors != 5 || len(report.Errors) != 5 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !strings.HasPrefix(report.Errors[0], "Baris 6: KUNCI harus A/B/C/D/E") {
		t.Fatalf("unexpected first error: %q", report.Errors[0])
	}

	lbi, _ := svc.GetSubtest(ctx, "LBI")
	items, err := svc.ListQuestions(ctx, lbi.ID)
	if err != nil {
		t.Fatalf("ListQuestions error: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 imported questions, got %d", len(items))
	}
	if items[0].CorrectAnswer != "A" || items[0].ImageRef != nil {
		t.Fatalf("unexpected first question: %+v", items[0])
	}
	if items[1].ImageRef == nil || *items[1].ImageRef != "soal_images/grafik.png" {
		t.Fatalf("expected local image ref, got %v", items[1].ImageRef)
	}
	if items[2].ImageRef == nil || *items[2].ImageRef != "https://cdn.example.com/x.png" {
		t.Fatalf("expected url image ref, got %v", items[2].ImageRef)
	}
	if items[3].Text != "Tetap dibuat" || items[3].ImageRef != nil {
		t.Fatalf("unexpected last question: %+v", items[3])
	}
}

func TestImportQuestionsExcelRejectsHeader(t *testing.T) {
	svc := newTestService(t)
	seedDefault(t, svc)

	_, err := svc.ImportQuestionsExcel(context.Background(), buildQuestionWorkbook(t, []string{"Kode", "SOAL"}, nil))
	var headerErr *HeaderError
	if !errors.As(err, &headerErr) {
		t.Fatalf("expected HeaderError, got %v", err)
	}
	if headerErr.Found[0] != "kode" {
		t.Fatalf("unexpected found header: %v", headerErr.Found)
	}
}

func TestImageURL(t *testing.T) {
	if ImageURL(nil, "http://x") != nil {
		t.Fatalf("expected nil for missing ref")
	}
	local := "soal_images/a.png"
	if got := ImageURL(&local, "http://localhost:8080/"); *got != "http://localhost:8080/media/soal_images/a.png" {
		t.Fatalf("unexpected local url: %s", *got)
	}
	remote := "https://cdn.example.com/a.png"
	if got := ImageURL(&remote, "http://localhost:8080"); *got != remote {
		t.Fatalf("unexpected remote url: %s", *got)
	}
}
