package tryout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	internaldb "scholarify/internal/db"
)

type Result struct {
	ID              int64            `json:"id"`
	UserID          int64            `json:"user_id"`
	Username        string           `json:"username"`
	SubtestID       int64            `json:"subtest_id"`
	SubtestCode     string           `json:"subtest_code"`
	SubtestName     string           `json:"subtest_nama"`
	BatchID         string           `json:"batch_id"`
	Answers         map[int64]string `json:"jawaban"`
	Correct         int              `json:"jumlah_benar"`
	Incorrect       int              `json:"jumlah_salah"`
	Blank           int              `json:"jumlah_kosong"`
	Score           float64          `json:"skor"`
	StartedAt       time.Time        `json:"waktu_mulai"`
	CompletedAt     *time.Time       `json:"waktu_selesai"`
	DurationSeconds *int             `json:"durasi_detik"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const resultColumns = `
	r.id, r.user_id, u.username, r.subtest_id, st.code, st.name, r.batch_id,
	r.answers_json, r.correct_count, r.incorrect_count, r.blank_count, r.score,
	r.started_at, r.completed_at, r.duration_seconds, r.created_at, r.updated_at`

const resultJoins = `
	FROM tryout_results r
	JOIN users u ON u.id = r.user_id
	JOIN subtests st ON st.id = r.subtest_id`

// ensureResult creates the (user, subtest, batch) row when it does not exist
// yet. Concurrent callers converge on the same row.
func ensureResult(ctx context.Context, tx execer, userID, subtestID int64, batchID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tryout_results (
			user_id, subtest_id, batch_id, answers_json, started_at, created_at, updated_at
		) VALUES ($1, $2, $3, '{}', $4, $4, $4)
		ON CONFLICT (user_id, subtest_id, batch_id) DO NOTHING
	`, userID, subtestID, batchID, now)
	if err != nil {
		return fmt.Errorf("ensure result: %w", err)
	}
	return nil
}

// lockResultID returns the id of the keyed row, holding a row lock where the
// backend supports one.
func lockResultID(ctx context.Context, tx queryable, driver internaldb.Driver, userID, subtestID int64, batchID string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM tryout_results
		WHERE user_id = $1 AND subtest_id = $2 AND batch_id = $3
		`+driver.ForUpdate(), userID, subtestID, batchID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrResultNotFound
		}
		return 0, fmt.Errorf("lock result: %w", err)
	}
	return id, nil
}

func lockResultByID(ctx context.Context, tx queryable, driver internaldb.Driver, id int64) (map[int64]string, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `
		SELECT answers_json
		FROM tryout_results
		WHERE id = $1
		`+driver.ForUpdate(), id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("load answers: %w", err)
	}
	return decodeAnswers(raw)
}

func saveAnswers(ctx context.Context, tx execer, id int64, answers map[int64]string, completedAt time.Time, durationSeconds *int) error {
	raw, err := encodeAnswers(answers)
	if err != nil {
		return err
	}
	var duration any
	if durationSeconds != nil {
		duration = *durationSeconds
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tryout_results
		SET answers_json = $2,
			completed_at = $3,
			duration_seconds = COALESCE($4, duration_seconds),
			updated_at = $3
		WHERE id = $1
	`, id, raw, completedAt, duration)
	if err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	return nil
}

func saveTally(ctx context.Context, tx execer, id int64, t Tally, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tryout_results
		SET correct_count = $2,
			incorrect_count = $3,
			blank_count = $4,
			score = $5,
			updated_at = $6
		WHERE id = $1
	`, id, t.Correct, t.Incorrect, t.Blank, t.Score(), now)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	return nil
}

func loadResult(ctx context.Context, q queryable, id int64) (*Result, error) {
	row := q.QueryRowContext(ctx, `SELECT `+resultColumns+resultJoins+` WHERE r.id = $1`, id)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return res, nil
}

func listResultsByUser(ctx context.Context, q queryable, userID int64) ([]Result, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+resultColumns+resultJoins+`
		WHERE r.user_id = $1
		ORDER BY COALESCE(r.completed_at, r.created_at) DESC, r.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]Result, 0)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func listResultIDsBySubtest(ctx context.Context, q queryable, subtestID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM tryout_results WHERE subtest_id = $1 ORDER BY id`, subtestID)
	if err != nil {
		return nil, fmt.Errorf("list subtest results: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan result id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result ids: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*Result, error) {
	var (
		res         Result
		rawAnswers  string
		completedAt sql.NullTime
		duration    sql.NullInt64
	)
	if err := row.Scan(
		&res.ID,
		&res.UserID,
		&res.Username,
		&res.SubtestID,
		&res.SubtestCode,
		&res.SubtestName,
		&res.BatchID,
		&rawAnswers,
		&res.Correct,
		&res.Incorrect,
		&res.Blank,
		&res.Score,
		&res.StartedAt,
		&completedAt,
		&duration,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}
	answers, err := decodeAnswers(rawAnswers)
	if err != nil {
		return nil, err
	}
	res.Answers = answers
	if completedAt.Valid {
		t := completedAt.Time
		res.CompletedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		res.DurationSeconds = &d
	}
	return &res, nil
}

// Answers are stored as a JSON object keyed by decimal question id.
func encodeAnswers(answers map[int64]string) (string, error) {
	m := make(map[string]string, len(answers))
	for id, v := range answers {
		m[strconv.FormatInt(id, 10)] = v
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(b), nil
}

func decodeAnswers(raw string) (map[int64]string, error) {
	out := map[int64]string{}
	if raw == "" {
		return out, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	for k, v := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}
