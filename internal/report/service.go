package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"scholarify/internal/app/apiresp"
)

type Service struct {
	db *sql.DB
}

type Dashboard struct {
	Stats        DashboardStats `json:"stats"`
	SubtestStats []SubtestStat  `json:"subtest_stats"`
	TopUsers     []TopUser      `json:"top_users"`
}

type DashboardStats struct {
	Users struct {
		Total    int `json:"total"`
		Students int `json:"students"`
		Admins   int `json:"admins"`
	} `json:"users"`
	Subtests struct {
		Total     int `json:"total"`
		Questions int `json:"total_soal"`
	} `json:"subtests"`
	Results struct {
		Total     int     `json:"total"`
		WithScore int     `json:"dengan_skor"`
		AvgScore  float64 `json:"avg_skor"`
	} `json:"hasil_tryout"`
}

type SubtestStat struct {
	Code          string  `json:"code"`
	Name          string  `json:"nama"`
	QuestionCount int     `json:"jumlah_soal"`
	Attempts      int     `json:"total_pengerjaan"`
	AvgScore      float64 `json:"avg_skor"`
}

type TopUser struct {
	Username string  `json:"username"`
	Name     string  `json:"name"`
	AvgScore float64 `json:"avg_skor"`
	Attempts int     `json:"total_pengerjaan"`
}

type UserStat struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	IsActive   bool      `json:"is_active"`
	JoinedAt   time.Time `json:"date_joined"`
	TotalHasil int       `json:"total_hasil"`
	AvgScore   float64   `json:"avg_skor"`
}

type ResultFilter struct {
	Username    string
	SubtestCode string
	Page        int
	Limit       int
}

type ResultRow struct {
	ID              int64      `json:"id"`
	Username        string     `json:"username"`
	UserName        string     `json:"user_name"`
	SubtestCode     string     `json:"subtest_code"`
	SubtestName     string     `json:"subtest_nama"`
	BatchID         string     `json:"batch_id"`
	Correct         int        `json:"jumlah_benar"`
	Incorrect       int        `json:"jumlah_salah"`
	Blank           int        `json:"jumlah_kosong"`
	Score           float64    `json:"skor"`
	CompletedAt     *time.Time `json:"waktu_selesai"`
	DurationSeconds *int       `json:"durasi_detik"`
}

const topUsersLimit = 10

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	out := &Dashboard{SubtestStats: []SubtestStat{}, TopUsers: []TopUser{}}
	st := &out.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE role = 'student'),
			(SELECT COUNT(*) FROM users WHERE role = 'admin'),
			(SELECT COUNT(*) FROM subtests),
			(SELECT COUNT(*) FROM questions),
			(SELECT COUNT(*) FROM tryout_results),
			(SELECT COUNT(*) FROM tryout_results WHERE score <> 0),
			(SELECT COALESCE(AVG(score), 0) FROM tryout_results)
	`).Scan(
		&st.Users.Total,
		&st.Users.Students,
		&st.Users.Admins,
		&st.Subtests.Total,
		&st.Subtests.Questions,
		&st.Results.Total,
		&st.Results.WithScore,
		&st.Results.AvgScore,
	)
	if err != nil {
		return nil, fmt.Errorf("dashboard totals: %w", err)
	}
	st.Results.AvgScore = round2(st.Results.AvgScore)

	rows, err := s.db.QueryContext(ctx, `
		SELECT st.code, st.name, st.question_count, COUNT(r.id), COALESCE(AVG(r.score), 0)
		FROM subtests st
		LEFT JOIN tryout_results r ON r.subtest_id = st.id
		GROUP BY st.id, st.code, st.name, st.question_count
		ORDER BY st.code
	`)
	if err != nil {
		return nil, fmt.Errorf("dashboard subtests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SubtestStat
		if err := rows.Scan(&it.Code, &it.Name, &it.QuestionCount, &it.Attempts, &it.AvgScore); err != nil {
			return nil, fmt.Errorf("scan subtest stat: %w", err)
		}
		it.AvgScore = round2(it.AvgScore)
		out.SubtestStats = append(out.SubtestStats, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtest stats: %w", err)
	}

	top, err := s.db.QueryContext(ctx, `
		SELECT u.username, u.full_name, AVG(r.score) AS avg_score, COUNT(r.id)
		FROM tryout_results r
		JOIN users u ON u.id = r.user_id
		GROUP BY u.id, u.username, u.full_name
		ORDER BY avg_score DESC, u.username
		LIMIT $1
	`, topUsersLimit)
	if err != nil {
		return nil, fmt.Errorf("dashboard top users: %w", err)
	}
	defer top.Close()
	for top.Next() {
		var it TopUser
		var fullName string
		if err := top.Scan(&it.Username, &fullName, &it.AvgScore, &it.Attempts); err != nil {
			return nil, fmt.Errorf("scan top user: %w", err)
		}
		it.Name = displayName(fullName, it.Username)
		it.AvgScore = round2(it.AvgScore)
		out.TopUsers = append(out.TopUsers, it)
	}
	if err := top.Err(); err != nil {
		return nil, fmt.Errorf("iterate top users: %w", err)
	}
	return out, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.full_name, COALESCE(u.email, ''), u.role, u.is_active, u.created_at,
			COUNT(r.id), COALESCE(AVG(r.score), 0)
		FROM users u
		LEFT JOIN tryout_results r ON r.user_id = u.id
		GROUP BY u.id, u.username, u.full_name, u.email, u.role, u.is_active, u.created_at
		ORDER BY u.created_at DESC, u.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list user stats: %w", err)
	}
	defer rows.Close()

	out := make([]UserStat, 0)
	for rows.Next() {
		var it UserStat
		var fullName string
		if err := rows.Scan(&it.ID, &it.Username, &fullName, &it.Email, &it.Role, &it.IsActive, &it.JoinedAt,
			&it.TotalHasil, &it.AvgScore); err != nil {
			return nil, fmt.Errorf("scan user stat: %w", err)
		}
		it.Name = displayName(fullName, it.Username)
		it.AvgScore = round2(it.AvgScore)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user stats: %w", err)
	}
	return out, nil
}

func (s *Service) ListResults(ctx context.Context, f ResultFilter) ([]ResultRow, apiresp.Pagination, error) {
	pattern := ""
	if u := strings.ToLower(strings.TrimSpace(f.Username)); u != "" {
		pattern = "%" + u + "%"
	}
	code := strings.ToUpper(strings.TrimSpace(f.SubtestCode))

	const where = `
		WHERE ($1 = '' OR LOWER(u.username) LIKE $1)
		  AND ($2 = '' OR st.code = $2)`
	const joins = `
		FROM tryout_results r
		JOIN users u ON u.id = r.user_id
		JOIN subtests st ON st.id = r.subtest_id`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+joins+where, pattern, code).Scan(&total); err != nil {
		return nil, apiresp.Pagination{}, fmt.Errorf("count results: %w", err)
	}
	page := apiresp.NewPagination(f.Page, f.Limit, total)

	items, err := s.queryResults(ctx, `
		SELECT r.id, u.username, u.full_name, st.code, st.name, r.batch_id,
			r.correct_count, r.incorrect_count, r.blank_count, r.score,
			r.completed_at, r.duration_seconds
	`+joins+where+`
		ORDER BY COALESCE(r.completed_at, r.created_at) DESC, r.id DESC
		LIMIT $3 OFFSET $4
	`, pattern, code, page.Limit, page.Offset())
	if err != nil {
		return nil, apiresp.Pagination{}, err
	}
	return items, page, nil
}

func (s *Service) queryResults(ctx context.Context, query string, args ...any) ([]ResultRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]ResultRow, 0)
	for rows.Next() {
		var (
			it          ResultRow
			fullName    string
			completedAt sql.NullTime
			duration    sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.Username, &fullName, &it.SubtestCode, &it.SubtestName, &it.BatchID,
			&it.Correct, &it.Incorrect, &it.Blank, &it.Score, &completedAt, &duration); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		it.UserName = displayName(fullName, it.Username)
		it.Score = round2(it.Score)
		if completedAt.Valid {
			t := completedAt.Time
			it.CompletedAt = &t
		}
		if duration.Valid {
			d := int(duration.Int64)
			it.DurationSeconds = &d
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func displayName(fullName, username string) string {
	if n := strings.TrimSpace(fullName); n != "" {
		return n
	}
	return username
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
