package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/carterwilliams/bastion/internal/database"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, user_id, token, device_type, browser, os, ip_address, last_active, created_at`

// SessionRepository handles session row data access. Existence of a row is
// the definition of validity; there is no revoked flag.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.Token, &s.DeviceType, &s.Browser, &s.OS,
		&s.IPAddress, &s.LastActive, &s.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	session.ID = uuid.New().String()
	now := time.Now()
	session.CreatedAt = now
	session.LastActive = now

	query := `
		INSERT INTO sessions (id, user_id, token, device_type, browser, os, ip_address, last_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + sessionColumns

	return scanSessionRow(r.pool.QueryRow(ctx, query,
		session.ID, session.UserID, session.Token, session.DeviceType,
		session.Browser, session.OS, session.IPAddress, session.LastActive, session.CreatedAt,
	))
}

// ExistsByToken reports whether a session row with the token exists.
func (r *SessionRepository) ExistsByToken(ctx context.Context, token string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM sessions WHERE token = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, token).Scan(&exists); err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, token))
}

// Touch bumps last_active. Best effort; callers may fire-and-forget.
func (r *SessionRepository) Touch(ctx context.Context, token string) error {
	query := `UPDATE sessions SET last_active = now() WHERE token = $1`

	_, err := r.pool.Exec(ctx, query, token)
	return database.MapPostgresError(err)
}

// DeleteByToken removes one session. Returns ErrNotFound when the token was
// already absent, which callers treat as idempotent success.
func (r *SessionRepository) DeleteByToken(ctx context.Context, token string) error {
	query := `DELETE FROM sessions WHERE token = $1`

	result, err := r.pool.Exec(ctx, query, token)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteByID removes one session addressed by its id, scoped to the owning
// account so a user cannot revoke another user's session. Returns the token
// of the deleted row for cache invalidation.
func (r *SessionRepository) DeleteByID(ctx context.Context, userID, sessionID string) (string, error) {
	query := `DELETE FROM sessions WHERE id = $1 AND user_id = $2 RETURNING token`

	var token string
	if err := r.pool.QueryRow(ctx, query, sessionID, userID).Scan(&token); err != nil {
		return "", database.MapPostgresError(err)
	}
	return token, nil
}

// DeleteByUserID removes every session for an account and returns the tokens
// that were deleted so the caller can invalidate cache entries.
func (r *SessionRepository) DeleteByUserID(ctx context.Context, userID string) ([]string, error) {
	query := `DELETE FROM sessions WHERE user_id = $1 RETURNING token`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan deleted session token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deleted sessions: %w", err)
	}

	return tokens, nil
}

// DeleteByUserIDExcept removes every session for an account except the one
// holding keepToken ("log out everywhere else").
func (r *SessionRepository) DeleteByUserIDExcept(ctx context.Context, userID, keepToken string) ([]string, error) {
	query := `DELETE FROM sessions WHERE user_id = $1 AND token <> $2 RETURNING token`

	rows, err := r.pool.Query(ctx, query, userID, keepToken)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan deleted session token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deleted sessions: %w", err)
	}

	return tokens, nil
}

// ListByUserID returns an account's sessions, most recently active first.
func (r *SessionRepository) ListByUserID(ctx context.Context, userID string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY last_active DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessionRows(rows)
}

// CountByUserID returns the number of live sessions for an account.
func (r *SessionRepository) CountByUserID(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// CountAll returns the number of live sessions across all accounts.
func (r *SessionRepository) CountAll(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM sessions`

	var count int64
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}
