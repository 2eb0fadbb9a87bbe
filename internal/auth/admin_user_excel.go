package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

type UserImportRowError struct {
	Row      int    `json:"row"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error"`
}

type UserImportReport struct {
	TotalRows   int                  `json:"total_rows"`
	CreatedRows int                  `json:"created_rows"`
	UpdatedRows int                  `json:"updated_rows"`
	FailedRows  int                  `json:"failed_rows"`
	Errors      []UserImportRowError `json:"errors"`
}

var userExportHeaders = []string{"username", "email", "full_name", "role", "is_active", "created_at"}

func (s *Service) ExportUsersExcel(ctx context.Context) ([]byte, error) {
	items, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, h := range userExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		email := ""
		if it.Email != nil {
			email = *it.Email
		}
		values := []any{
			it.Username,
			email,
			it.FullName,
			it.Role,
			it.IsActive,
			it.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "F", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportUsersExcel creates or updates accounts from the first sheet. Rows are
// applied independently; a failed row is reported and does not stop the rest.
func (s *Service) ImportUsersExcel(ctx context.Context, r io.Reader) (*UserImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: file excel tidak dapat dibaca", ErrInvalidInput)
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
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: tidak ada baris data", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"username", "role"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("%w: kolom wajib tidak ada: %s", ErrInvalidInput, col)
		}
	}

	report := &UserImportReport{Errors: make([]UserImportRowError, 0)}
	fail := func(rowNo int, username, msg string) {
		report.FailedRows++
		report.Errors = append(report.Errors, UserImportRowError{Row: rowNo, Username: username, Error: msg})
	}

	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}
		report.TotalRows++

		in := CreateUserInput{
			Username: normalizeUsername(get("username")),
			Email:    get("email"),
			Password: get("password"),
			FullName: get("full_name"),
			Role:     get("role"),
		}
		if raw := get("is_active"); raw != "" {
			active := parseBoolLoose(raw)
			in.IsActive = &active
		}
		if in.Username == "" || !isValidRole(normalizeRole(in.Role)) {
			fail(rowNo, in.Username, "username/role tidak valid")
			continue
		}

		existing, err := s.GetUserByUsername(ctx, in.Username)
		switch {
		case errors.Is(err, ErrUserNotFound):
			if len(in.Password) < 8 {
				fail(rowNo, in.Username, "password minimal 8 karakter untuk user baru")
				continue
			}
			if _, err := s.CreateUser(ctx, in); err != nil {
				fail(rowNo, in.Username, err.Error())
				continue
			}
			report.CreatedRows++
		case err != nil:
			fail(rowNo, in.Username, "gagal cek user existing")
		default:
			if _, err := s.UpdateUser(ctx, existing.ID, in); err != nil {
				fail(rowNo, in.Username, err.Error())
				continue
			}
			report.UpdatedRows++
		}
	}

	return report, nil
}

func parseBoolLoose(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return true
	}
	switch v {
	case "1", "true", "ya", "yes", "aktif":
		return true
	case "0", "false", "tidak", "no", "nonaktif":
		return false
	default:
		if n, err := strconv.Atoi(v); err == nil {
			return n != 0
		}
		return true
	}
}
