package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	internaldb "scholarify/internal/db"
)

// SubtestSeed is one row of the UTBK 2025 subtest table.
type SubtestSeed struct {
	Code            string
	Name            string
	QuestionCount   int
	DurationMinutes float64
}

var DefaultSubtests = []SubtestSeed{
	{Code: "PU", Name: "Penalaran Umum", QuestionCount: 30, DurationMinutes: 30.0},
	{Code: "PPU", Name: "Pengetahuan dan Pemahaman Umum", QuestionCount: 20, DurationMinutes: 15.0},
	{Code: "PBM", Name: "Pemahaman Bacaan dan Menulis", QuestionCount: 20, DurationMinutes: 25.0},
	{Code: "PK", Name: "Pengetahuan Kuantitatif", QuestionCount: 20, DurationMinutes: 20.0},
	{Code: "LBI", Name: "Literasi dalam Bahasa Indonesia", QuestionCount: 30, DurationMinutes: 42.5},
	{Code: "LBE", Name: "Literasi dalam Bahasa Inggris", QuestionCount: 20, DurationMinutes: 20.0},
	{Code: "PM", Name: "Penalaran Matematika", QuestionCount: 20, DurationMinutes: 42.5},
}

type SeedReport struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// SeedSubtests creates or refreshes the given subtests by code. An empty
// list seeds DefaultSubtests.
func (s *Service) SeedSubtests(ctx context.Context, seeds []SubtestSeed) (*SeedReport, error) {
	if len(seeds) == 0 {
		seeds = DefaultSubtests
	}
	report := &SeedReport{Created: []string{}, Updated: []string{}}
	now := s.now().UTC()

	err := internaldb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, seed := range seeds {
			code := normalizeCode(seed.Code)
			if code == "" || seed.Name == "" {
				return fmt.Errorf("%w: kode dan nama subtes wajib", ErrInvalidInput)
			}
			var id int64
			err := tx.QueryRowContext(ctx, `SELECT id FROM subtests WHERE code = $1`, code).Scan(&id)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO subtests (code, name, duration_minutes, question_count, created_at)
					VALUES ($1, $2, $3, $4, $5)
				`, code, seed.Name, seed.DurationMinutes, seed.QuestionCount, now); err != nil {
					return fmt.Errorf("insert subtest %s: %w", code, err)
				}
				report.Created = append(report.Created, code)
			case err != nil:
				return fmt.Errorf("query subtest %s: %w", code, err)
			default:
				if _, err := tx.ExecContext(ctx, `
					UPDATE subtests
					SET name = $2, duration_minutes = $3, question_count = $4
					WHERE id = $1
				`, id, seed.Name, seed.DurationMinutes, seed.QuestionCount); err != nil {
					return fmt.Errorf("update subtest %s: %w", code, err)
				}
				report.Updated = append(report.Updated, code)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
