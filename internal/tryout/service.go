package tryout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"scholarify/internal/auth"
	internaldb "scholarify/internal/db"
	"scholarify/internal/question"

	"go.uber.org/zap"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrEmptySubmission = errors.New("empty submission")
	ErrResultNotFound  = errors.New("result not found")
	ErrUserNotFound    = auth.ErrUserNotFound
	ErrSubtestNotFound = question.ErrSubtestNotFound
)

// Error carries a user-facing message for one of the sentinel kinds above.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeNotFound   = "not_found"
	OutcomeEmpty      = "empty_submission"
	OutcomeError      = "error"
)

// MaxDurationSeconds is the largest duration the INTEGER column holds.
const MaxDurationSeconds = math.MaxInt32

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 20 * time.Millisecond
)

type userDirectory interface {
	GetUserByUsername(ctx context.Context, username string) (*auth.User, error)
}

type questionBank interface {
	GetSubtest(ctx context.Context, code string) (*question.Subtest, error)
	ListQuestions(ctx context.Context, subtestID int64) ([]question.Question, error)
}

// Recorder receives submission telemetry. A nil Recorder is allowed.
type Recorder interface {
	ObserveSubmission(outcome string, direct, index, invalidValue, unresolvable int)
	ObserveSubmitRetry()
}

type Options struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	Recorder       Recorder
	Logger         *zap.Logger
}

type Service struct {
	db         *sql.DB
	driver     internaldb.Driver
	users      userDirectory
	bank       questionBank
	locks      *keyedMutex
	recorder   Recorder
	logger     *zap.Logger
	maxRetries int
	retryBase  time.Duration
	now        func() time.Time
}

type SubmitInput struct {
	Username        string
	SubtestCode     string
	BatchID         string
	Answers         AnswerSheet
	DurationSeconds *int
}

type SubmitResult struct {
	ID          int64      `json:"id"`
	SubtestCode string     `json:"subtest_code"`
	SubtestName string     `json:"subtest_nama"`
	BatchID     string     `json:"batch_id"`
	Correct     int        `json:"jumlah_benar"`
	Incorrect   int        `json:"jumlah_salah"`
	Blank       int        `json:"jumlah_kosong"`
	Score       float64    `json:"skor"`
	CompletedAt *time.Time `json:"waktu_selesai"`
}

type RecomputeReport struct {
	SubtestCode string `json:"subtest_code"`
	Results     int    `json:"results"`
}

func NewService(db *sql.DB, users userDirectory, bank questionBank, opts Options) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		db:         db,
		driver:     internaldb.DriverOf(db),
		users:      users,
		bank:       bank,
		locks:      newKeyedMutex(),
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBaseDelay,
		now:        time.Now,
	}
}

// Submit stores a full answer sheet for (user, subtest, batch) and scores it.
// A resubmission replaces the stored answers; nothing is written when the
// sheet resolves to no valid answers.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.SubtestCode = strings.ToUpper(strings.TrimSpace(in.SubtestCode))
	in.BatchID = strings.TrimSpace(in.BatchID)

	if in.Username == "" || in.SubtestCode == "" || in.BatchID == "" {
		s.observe(OutcomeValidation, ResolveStats{})
		return nil, &Error{Kind: ErrValidation, Message: "username, subtest_code, dan batch_id wajib"}
	}
	if in.DurationSeconds != nil && *in.DurationSeconds < 0 {
		s.observe(OutcomeValidation, ResolveStats{})
		return nil, &Error{Kind: ErrValidation, Message: "durasi_detik tidak boleh negatif"}
	}
	if in.DurationSeconds != nil && *in.DurationSeconds > MaxDurationSeconds {
		s.observe(OutcomeValidation, ResolveStats{})
		return nil, &Error{Kind: ErrValidation, Message: "durasi_detik terlalu besar"}
	}

	st, err := s.bank.GetSubtest(ctx, in.SubtestCode)
	if err != nil {
		if errors.Is(err, question.ErrSubtestNotFound) {
			s.observe(OutcomeNotFound, ResolveStats{})
			return nil, &Error{Kind: ErrSubtestNotFound, Message: fmt.Sprintf("Subtest dengan code %s tidak ditemukan", in.SubtestCode)}
		}
		s.observe(OutcomeError, ResolveStats{})
		return nil, fmt.Errorf("get subtest: %w", err)
	}
	user, err := s.users.GetUserByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.observe(OutcomeNotFound, ResolveStats{})
			return nil, &Error{Kind: ErrUserNotFound, Message: "User tidak ditemukan"}
		}
		s.observe(OutcomeError, ResolveStats{})
		return nil, fmt.Errorf("get user: %w", err)
	}

	if len(in.Answers) == 0 {
		s.observe(OutcomeEmpty, ResolveStats{})
		return nil, &Error{Kind: ErrEmptySubmission, Message: "Jawaban kosong. Pastikan Anda sudah mengisi jawaban sebelum submit."}
	}
	questions, err := s.bank.ListQuestions(ctx, st.ID)
	if err != nil {
		s.observe(OutcomeError, ResolveStats{})
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, stats := ResolveAnswers(in.Answers, questions)
	if len(answers) == 0 {
		s.observe(OutcomeEmpty, stats)
		return nil, &Error{Kind: ErrEmptySubmission, Message: "Tidak ada jawaban valid. Jawaban harus A/B/C/D/E untuk soal pada subtes ini."}
	}

	unlock := s.locks.Lock(resultKey(user.ID, st.ID, in.BatchID))
	defer unlock()

	var out *SubmitResult
	err = s.withRetry(ctx, func() error {
		var err error
		out, err = s.persistSubmission(ctx, user.ID, st, in, answers, questions)
		return err
	})
	if err != nil {
		s.observe(OutcomeError, stats)
		return nil, err
	}

	s.observe(OutcomeOK, stats)
	s.logger.Info("tryout submitted",
		zap.Int64("result_id", out.ID),
		zap.Int64("user_id", user.ID),
		zap.String("subtest_code", st.Code),
		zap.String("batch_id", in.BatchID),
		zap.Int("matched_direct", stats.MatchedDirect),
		zap.Int("matched_index", stats.MatchedIndex),
		zap.Int("skipped", stats.Skipped()),
		zap.Float64("score", out.Score),
	)
	return out, nil
}

func (s *Service) persistSubmission(ctx context.Context, userID int64, st *question.Subtest, in SubmitInput, answers map[int64]string, questions []question.Question) (*SubmitResult, error) {
	now := s.now().UTC()
	var out *SubmitResult
	err := internaldb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := ensureResult(ctx, tx, userID, st.ID, in.BatchID, now); err != nil {
			return err
		}
		id, err := lockResultID(ctx, tx, s.driver, userID, st.ID, in.BatchID)
		if err != nil {
			return err
		}
		if err := saveAnswers(ctx, tx, id, answers, now, in.DurationSeconds); err != nil {
			return err
		}
		stored, err := lockResultByID(ctx, tx, s.driver, id)
		if err != nil {
			return err
		}
		tally := ScoreAnswers(stored, questions)
		if err := saveTally(ctx, tx, id, tally, now); err != nil {
			return err
		}
		completed := now
		out = &SubmitResult{
			ID:          id,
			SubtestCode: st.Code,
			SubtestName: st.Name,
			BatchID:     in.BatchID,
			Correct:     tally.Correct,
			Incorrect:   tally.Incorrect,
			Blank:       tally.Blank,
			Score:       tally.Score(),
			CompletedAt: &completed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Recompute rescores a stored result against the current answer keys. Only
// the counts and the score change.
func (s *Service) Recompute(ctx context.Context, resultID int64) (*Result, error) {
	res, err := loadResult(ctx, s.db, resultID)
	if err != nil {
		return nil, err
	}
	questions, err := s.bank.ListQuestions(ctx, res.SubtestID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	unlock := s.locks.Lock(resultKey(res.UserID, res.SubtestID, res.BatchID))
	defer unlock()

	err = s.withRetry(ctx, func() error {
		return internaldb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			answers, err := lockResultByID(ctx, tx, s.driver, resultID)
			if err != nil {
				return err
			}
			return saveTally(ctx, tx, resultID, ScoreAnswers(answers, questions), s.now().UTC())
		})
	})
	if err != nil {
		return nil, err
	}
	return loadResult(ctx, s.db, resultID)
}

// RecomputeSubtest rescores every result of a subtest, typically after an
// answer key correction.
func (s *Service) RecomputeSubtest(ctx context.Context, code string) (*RecomputeReport, error) {
	st, err := s.bank.GetSubtest(ctx, code)
	if err != nil {
		if errors.Is(err, question.ErrSubtestNotFound) {
			return nil, &Error{Kind: ErrSubtestNotFound, Message: fmt.Sprintf("Subtest dengan code %s tidak ditemukan", strings.ToUpper(code))}
		}
		return nil, fmt.Errorf("get subtest: %w", err)
	}
	ids, err := listResultIDsBySubtest(ctx, s.db, st.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := s.Recompute(ctx, id); err != nil {
			if errors.Is(err, ErrResultNotFound) {
				continue
			}
			return nil, fmt.Errorf("recompute result %d: %w", id, err)
		}
	}
	s.logger.Info("subtest recomputed", zap.String("subtest_code", st.Code), zap.Int("results", len(ids)))
	return &RecomputeReport{SubtestCode: st.Code, Results: len(ids)}, nil
}

// History lists a user's results, newest first.
func (s *Service) History(ctx context.Context, username string) ([]Result, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, &Error{Kind: ErrUserNotFound, Message: "User tidak ditemukan"}
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return listResultsByUser(ctx, s.db, user.ID)
}

func (s *Service) GetResult(ctx context.Context, id int64) (*Result, error) {
	return loadResult(ctx, s.db, id)
}

// withRetry reruns fn on transient write conflicts with exponential backoff.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	delay := s.retryBase
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !internaldb.IsRetryable(err) || attempt >= s.maxRetries {
			return err
		}
		if s.recorder != nil {
			s.recorder.ObserveSubmitRetry()
		}
		s.logger.Warn("retrying tryout write", zap.Int("attempt", attempt+1), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func (s *Service) observe(outcome string, stats ResolveStats) {
	if s.recorder != nil {
		s.recorder.ObserveSubmission(outcome, stats.MatchedDirect, stats.MatchedIndex, stats.SkippedInvalidValue, stats.SkippedUnresolvable)
	}
}

func resultKey(userID, subtestID int64, batchID string) string {
	return fmt.Sprintf("%d:%d:%s", userID, subtestID, batchID)
}
