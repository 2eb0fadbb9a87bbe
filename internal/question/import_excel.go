package question

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var importHeaders = []string{"Kode Subtes", "SOAL", "A", "B", "C", "D", "E", "KUNCI"}

var imageHeaderAliases = map[string]bool{
	"gambar":      true,
	"gambar_soal": true,
	"image":       true,
	"gambar soal": true,
}

const maxReportedImportErrors = 10

type ImportReport struct {
	Success     bool     `json:"success"`
	Created     int      `json:"created"`
	Errors      []string `json:"errors"`
	TotalErrors int      `json:"total_errors"`
}

// HeaderError reports a sheet whose first row does not match the template.
type HeaderError struct {
	Found []string
}

func (e *HeaderError) Error() string {
	return "Header tidak sesuai. Diharapkan: " + strings.Join(importHeaders, ", ")
}

// ImportQuestionsExcel appends questions from the first sheet of an xlsx
// workbook. Rows fail independently; only the first few row errors are kept
// in the report while TotalErrors counts all of them.
func (s *Service) ImportQuestionsExcel(ctx context.Context, r io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: gagal membaca file excel", ErrInvalidInput)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: sheet excel kosong", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, &HeaderError{}
	}

	header := rows[0]
	found := make([]string, len(importHeaders))
	for i := range importHeaders {
		if i < len(header) {
			found[i] = strings.ToLower(strings.TrimSpace(header[i]))
		}
	}
	for i, want := range importHeaders {
		if found[i] != strings.ToLower(want) {
			return nil, &HeaderError{Found: found}
		}
	}
	hasImage := len(header) > len(importHeaders) &&
		imageHeaderAliases[strings.ToLower(strings.TrimSpace(header[len(importHeaders)]))]

	var rowErrors []string
	fail := func(rowNo int, format string, args ...any) {
		rowErrors = append(rowErrors, fmt.Sprintf("Baris %d: ", rowNo)+fmt.Sprintf(format, args...))
	}

	subtests := map[string]*Subtest{}
	report := &ImportReport{Success: true}

	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		cell := func(idx int) string {
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		empty := true
		for c := 0; c < len(importHeaders); c++ {
			if cell(c) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		code := cell(0)
		text := cell(1)
		key := strings.ToUpper(cell(7))
		imagePath := ""
		if hasImage {
			imagePath = cell(8)
		}

		if code == "" {
			fail(rowNo, "Kode Subtes kosong")
			continue
		}
		if text == "" && imagePath == "" {
			fail(rowNo, "SOAL atau GAMBAR harus diisi (minimal salah satu)")
			continue
		}
		if _, ok := NormalizeLetter(key); !ok {
			fail(rowNo, "KUNCI harus A/B/C/D/E, ditemukan: %s", key)
			continue
		}

		st, ok := subtests[normalizeCode(code)]
		if !ok {
			st, err = s.GetSubtest(ctx, code)
			if err != nil {
				if errors.Is(err, ErrSubtestNotFound) {
					fail(rowNo, "Kode Subtes '%s' tidak ditemukan di database", code)
					continue
				}
				return nil, err
			}
			subtests[st.Code] = st
		}

		imageRef := ""
		if imagePath != "" {
			ref, err := s.resolveImageRef(imagePath)
			if err != nil {
				fail(rowNo, "%s", err.Error())
				if text == "" {
					continue
				}
			} else {
				imageRef = ref
			}
		}

		_, err := s.CreateQuestion(ctx, CreateQuestionInput{
			SubtestID:     st.ID,
			Text:          text,
			ImageRef:      imageRef,
			OptionA:       cell(2),
			OptionB:       cell(3),
			OptionC:       cell(4),
			OptionD:       cell(5),
			OptionE:       cell(6),
			CorrectAnswer: key,
		})
		if err != nil {
			fail(rowNo, "%s", err.Error())
			continue
		}
		report.Created++
	}

	report.TotalErrors = len(rowErrors)
	if len(rowErrors) > maxReportedImportErrors {
		rowErrors = rowErrors[:maxReportedImportErrors]
	}
	report.Errors = append([]string{}, rowErrors...)
	return report, nil
}

// resolveImageRef keeps URLs verbatim and maps local names onto files that
// already exist under <media root>/soal_images.
func (s *Service) resolveImageRef(p string) (string, error) {
	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return p, nil
	}
	clean := filepath.ToSlash(filepath.Clean("/" + p))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("File gambar tidak valid: %s", p)
	}
	full := filepath.Join(s.mediaRoot, "soal_images", filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("File gambar tidak ditemukan: %s", p)
	}
	return "soal_images/" + clean, nil
}
