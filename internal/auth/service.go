package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	internaldb "scholarify/internal/db"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username already exists")
)

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

type Service struct {
	db         *sql.DB
	bcryptCost int
	tokens     *TokenIssuer
	now        func() time.Time
}

type ServiceConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName falls back to the username when no full name is stored.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.FullName); n != "" {
		return n
	}
	return u.Username
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Role     string
	IsActive *bool
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		bcryptCost: cost,
		tokens:     NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		now:        time.Now,
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = normalizeUsername(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, created_at, password_hash
		FROM users
		WHERE username = $1 OR LOWER(COALESCE(email, '')) = $1
		ORDER BY id
		LIMIT 1
	`, identifier)

	var passwordHash string
	u, err := scanUser(row, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}
	return u, nil
}

// GetUserByUsername is the user directory lookup used by tryout submission.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, ErrUserNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, created_at
		FROM users
		WHERE username = $1
	`, username)
	u, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, created_at
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, created_at
		FROM users
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	username := normalizeUsername(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	role := normalizeRole(in.Role)
	if username == "" || !isValidRole(role) || len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: username, role, dan password (min 8 karakter) wajib", ErrInvalidInput)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: email tidak valid", ErrInvalidInput)
		}
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, email, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $7)
		RETURNING id
	`, username, string(hash), email, fullName, role, active, now).Scan(&id)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// UpdateUser changes profile fields; an empty password keeps the old hash.
func (s *Service) UpdateUser(ctx context.Context, userID int64, in CreateUserInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	role := normalizeRole(in.Role)
	if userID <= 0 || !isValidRole(role) {
		return nil, fmt.Errorf("%w: role tidak valid", ErrInvalidInput)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: email tidak valid", ErrInvalidInput)
		}
	}
	if in.Password != "" && len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password minimal 8 karakter", ErrInvalidInput)
	}

	now := s.now().UTC()
	err := internaldb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users
			SET email = NULLIF($2, ''), full_name = $3, role = $4, updated_at = $5
			WHERE id = $1
		`, userID, email, fullName, role, now)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
		if in.IsActive != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, userID, *in.IsActive); err != nil {
				return fmt.Errorf("update user status: %w", err)
			}
		}
		if in.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, string(hash)); err != nil {
				return fmt.Errorf("update password: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, userID)
}

// IssueToken signs a bearer token for an authenticated user.
func (s *Service) IssueToken(u *User) (string, time.Time, error) {
	return s.tokens.Issue(u.ID, u.Role, s.now())
}

// UserFromToken resolves a bearer token to an active user.
func (s *Service) UserFromToken(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthorized
	}
	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, passwordHash *string) (*User, error) {
	var u User
	var email sql.NullString
	dest := []any{&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt}
	if passwordHash != nil {
		dest = append(dest, passwordHash)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

func isValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleStudent:
		return true
	default:
		return false
	}
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return RoleStudent
	}
	return role
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
