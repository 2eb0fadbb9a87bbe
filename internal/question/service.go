package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"scholarify/internal/app/apiresp"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSubtestNotFound  = errors.New("subtest not found")
	ErrQuestionNotFound = errors.New("question not found")
)

// Letters is the closed answer domain, in option order.
var Letters = []string{"A", "B", "C", "D", "E"}

// NormalizeLetter trims and uppercases a raw answer value. The second result
// reports whether the value is one of Letters.
func NormalizeLetter(v string) (string, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	switch v {
	case "A", "B", "C", "D", "E":
		return v, true
	default:
		return v, false
	}
}

type Subtest struct {
	ID              int64   `json:"id"`
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	DurationMinutes float64 `json:"duration_minutes"`
	QuestionCount   int     `json:"question_count"`
}

type Question struct {
	ID            int64     `json:"id"`
	SubtestID     int64     `json:"subtest_id"`
	SubtestCode   string    `json:"subtest_code"`
	Text          string    `json:"text"`
	ImageRef      *string   `json:"image_ref,omitempty"`
	OptionA       string    `json:"option_a"`
	OptionB       string    `json:"option_b"`
	OptionC       string    `json:"option_c"`
	OptionD       string    `json:"option_d"`
	OptionE       string    `json:"option_e"`
	CorrectAnswer string    `json:"correct_answer"`
	CreatedAt     time.Time `json:"created_at"`
}

type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

func (q Question) Options() []Option {
	return []Option{
		{Key: "A", Text: q.OptionA},
		{Key: "B", Text: q.OptionB},
		{Key: "C", Text: q.OptionC},
		{Key: "D", Text: q.OptionD},
		{Key: "E", Text: q.OptionE},
	}
}

type CreateQuestionInput struct {
	SubtestID     int64
	Text          string
	ImageRef      string
	OptionA       string
	OptionB       string
	OptionC       string
	OptionD       string
	OptionE       string
	CorrectAnswer string
}

type AdminQuestionFilter struct {
	SubtestCode string
	Search      string
	Page        int
	Limit       int
}

type AdminQuestion struct {
	ID            int64     `json:"id"`
	SubtestCode   string    `json:"subtest_code"`
	SubtestName   string    `json:"subtest_nama"`
	Text          string    `json:"soal_text"`
	ImageRef      *string   `json:"-"`
	ImageURL      *string   `json:"soal_image"`
	HasImage      bool      `json:"has_image"`
	OptionA       string    `json:"option_a"`
	OptionB       string    `json:"option_b"`
	OptionC       string    `json:"option_c"`
	OptionD       string    `json:"option_d"`
	OptionE       string    `json:"option_e"`
	CorrectAnswer string    `json:"correct_answer"`
	CreatedAt     time.Time `json:"created_at"`
}

const adminTextPreviewRunes = 200

type Service struct {
	db        *sql.DB
	mediaRoot string
	now       func() time.Time
}

func NewService(db *sql.DB, mediaRoot string) *Service {
	return &Service{db: db, mediaRoot: mediaRoot, now: time.Now}
}

// GetSubtest looks a subtest up by code, case-insensitively.
func (s *Service) GetSubtest(ctx context.Context, code string) (*Subtest, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrSubtestNotFound
	}
	var st Subtest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, duration_minutes, question_count
		FROM subtests
		WHERE code = $1
	`, code).Scan(&st.ID, &st.Code, &st.Name, &st.DurationMinutes, &st.QuestionCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubtestNotFound
		}
		return nil, fmt.Errorf("query subtest: %w", err)
	}
	return &st, nil
}

func (s *Service) ListSubtests(ctx context.Context) ([]Subtest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, duration_minutes, question_count
		FROM subtests
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list subtests: %w", err)
	}
	defer rows.Close()

	out := make([]Subtest, 0)
	for rows.Next() {
		var st Subtest
		if err := rows.Scan(&st.ID, &st.Code, &st.Name, &st.DurationMinutes, &st.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan subtest: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtests: %w", err)
	}
	return out, nil
}

// ListQuestions returns the bank of one subtest in stable creation order
// (ascending id). Positional answer keys index into this order.
func (s *Service) ListQuestions(ctx context.Context, subtestID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.subtest_id, st.code, q.question_text, q.image_ref,
			q.option_a, q.option_b, q.option_c, q.option_d, q.option_e,
			q.correct_answer, q.created_at
		FROM questions q
		JOIN subtests st ON st.id = q.subtest_id
		WHERE q.subtest_id = $1
		ORDER BY q.id ASC
	`, subtestID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func (s *Service) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT q.id, q.subtest_id, st.code, q.question_text, q.image_ref,
			q.option_a, q.option_b, q.option_c, q.option_d, q.option_e,
			q.correct_answer, q.created_at
		FROM questions q
		JOIN subtests st ON st.id = q.subtest_id
		WHERE q.id = $1
	`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return q, nil
}

func (s *Service) CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.ImageRef = strings.TrimSpace(in.ImageRef)
	letter, ok := NormalizeLetter(in.CorrectAnswer)
	if !ok {
		return nil, fmt.Errorf("%w: kunci harus A/B/C/D/E", ErrInvalidInput)
	}
	if in.Text == "" && in.ImageRef == "" {
		return nil, fmt.Errorf("%w: soal atau gambar harus diisi", ErrInvalidInput)
	}
	if in.SubtestID <= 0 {
		return nil, ErrSubtestNotFound
	}

	var imageRef any
	if in.ImageRef != "" {
		imageRef = in.ImageRef
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			subtest_id, question_text, image_ref,
			option_a, option_b, option_c, option_d, option_e,
			correct_answer, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, in.SubtestID, in.Text, imageRef,
		strings.TrimSpace(in.OptionA), strings.TrimSpace(in.OptionB), strings.TrimSpace(in.OptionC),
		strings.TrimSpace(in.OptionD), strings.TrimSpace(in.OptionE),
		letter, s.now().UTC()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return s.GetQuestion(ctx, id)
}

// UpdateAnswerKey corrects the key of one question. Stored results are not
// touched; they pick the new key up on their next recompute.
func (s *Service) UpdateAnswerKey(ctx context.Context, questionID int64, answer string) (*Question, error) {
	letter, ok := NormalizeLetter(answer)
	if !ok {
		return nil, fmt.Errorf("%w: kunci harus A/B/C/D/E", ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET correct_answer = $2 WHERE id = $1`, questionID, letter)
	if err != nil {
		return nil, fmt.Errorf("update answer key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrQuestionNotFound
	}
	return s.GetQuestion(ctx, questionID)
}

func (s *Service) ListQuestionsAdmin(ctx context.Context, f AdminQuestionFilter) ([]AdminQuestion, apiresp.Pagination, error) {
	code := normalizeCode(f.SubtestCode)
	pattern := ""
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		pattern = "%" + search + "%"
	}

	const where = `
		WHERE ($1 = '' OR st.code = $1)
		  AND (
			$2 = ''
			OR LOWER(q.question_text) LIKE $2
			OR LOWER(q.option_a) LIKE $2
			OR LOWER(q.option_b) LIKE $2
			OR LOWER(q.option_c) LIKE $2
			OR LOWER(q.option_d) LIKE $2
			OR LOWER(q.option_e) LIKE $2
		  )`

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM questions q
		JOIN subtests st ON st.id = q.subtest_id
	`+where, code, pattern).Scan(&total); err != nil {
		return nil, apiresp.Pagination{}, fmt.Errorf("count questions: %w", err)
	}
	page := apiresp.NewPagination(f.Page, f.Limit, total)

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, st.code, st.name, q.question_text, q.image_ref,
			q.option_a, q.option_b, q.option_c, q.option_d, q.option_e,
			q.correct_answer, q.created_at
		FROM questions q
		JOIN subtests st ON st.id = q.subtest_id
	`+where+`
		ORDER BY q.id ASC
		LIMIT $3 OFFSET $4
	`, code, pattern, page.Limit, page.Offset())
	if err != nil {
		return nil, apiresp.Pagination{}, fmt.Errorf("list admin questions: %w", err)
	}
	defer rows.Close()

	out := make([]AdminQuestion, 0, page.Limit)
	for rows.Next() {
		var it AdminQuestion
		var imageRef sql.NullString
		if err := rows.Scan(&it.ID, &it.SubtestCode, &it.SubtestName, &it.Text, &imageRef,
			&it.OptionA, &it.OptionB, &it.OptionC, &it.OptionD, &it.OptionE,
			&it.CorrectAnswer, &it.CreatedAt); err != nil {
			return nil, apiresp.Pagination{}, fmt.Errorf("scan admin question: %w", err)
		}
		if imageRef.Valid && imageRef.String != "" {
			it.ImageRef = &imageRef.String
			it.HasImage = true
		}
		it.Text = truncateRunes(it.Text, adminTextPreviewRunes)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apiresp.Pagination{}, fmt.Errorf("iterate admin questions: %w", err)
	}
	return out, page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*Question, error) {
	var q Question
	var imageRef sql.NullString
	if err := row.Scan(&q.ID, &q.SubtestID, &q.SubtestCode, &q.Text, &imageRef,
		&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.OptionE,
		&q.CorrectAnswer, &q.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan question: %w", err)
	}
	if imageRef.Valid && imageRef.String != "" {
		q.ImageRef = &imageRef.String
	}
	return &q, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// ImageURL turns a stored image reference into an absolute URL. Absolute
// references are returned as is; local ones are served under /media/.
func ImageURL(ref *string, baseURL string) *string {
	if ref == nil || *ref == "" {
		return nil
	}
	v := *ref
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return &v
	}
	u := strings.TrimRight(baseURL, "/") + "/media/" + strings.TrimLeft(v, "/")
	return &u
}
