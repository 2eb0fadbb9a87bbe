package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

var resultExportHeaders = []string{
	"ID", "Username", "Nama", "Kode Subtes", "Subtes", "Batch",
	"Benar", "Salah", "Kosong", "Skor", "Waktu Selesai", "Durasi (detik)",
}

// ExportResultsExcel writes every result matching the filter to one sheet.
// Paging fields of the filter are ignored.
func (s *Service) ExportResultsExcel(ctx context.Context, f ResultFilter) ([]byte, error) {
	pattern := ""
	if u := strings.ToLower(strings.TrimSpace(f.Username)); u != "" {
		pattern = "%" + u + "%"
	}
	items, err := s.queryResults(ctx, `
		SELECT r.id, u.username, u.full_name, st.code, st.name, r.batch_id,
			r.correct_count, r.incorrect_count, r.blank_count, r.score,
			r.completed_at, r.duration_seconds
		FROM tryout_results r
		JOIN users u ON u.id = r.user_id
		JOIN subtests st ON st.id = r.subtest_id
		WHERE ($1 = '' OR LOWER(u.username) LIKE $1)
		  AND ($2 = '' OR st.code = $2)
		ORDER BY st.code, u.username, r.id
	`, pattern, strings.ToUpper(strings.TrimSpace(f.SubtestCode)))
	if err != nil {
		return nil, err
	}

	x := excelize.NewFile()
	defer func() { _ = x.Close() }()
	sheet := "Hasil"
	if err := x.SetSheetName(x.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range resultExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = x.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		completed := ""
		if it.CompletedAt != nil {
			completed = it.CompletedAt.Format("2006-01-02 15:04:05")
		}
		var duration any = ""
		if it.DurationSeconds != nil {
			duration = *it.DurationSeconds
		}
		values := []any{
			it.ID, it.Username, it.UserName, it.SubtestCode, it.SubtestName, it.BatchID,
			it.Correct, it.Incorrect, it.Blank, it.Score, completed, duration,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = x.SetCellValue(sheet, cell, v)
		}
	}
	_ = x.SetColWidth(sheet, "B", "E", 20)

	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
