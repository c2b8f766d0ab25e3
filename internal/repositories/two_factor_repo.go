package repositories

import (
	"context"
	"time"

	"github.com/carterwilliams/bastion/internal/database"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TwoFactorRepository handles challenge and confirmation data access.
type TwoFactorRepository struct {
	pool *pgxpool.Pool
}

func NewTwoFactorRepository(db *database.DB) *TwoFactorRepository {
	return &TwoFactorRepository{pool: db.Pool}
}

// UpsertChallenge replaces any existing challenge for the email with a fresh
// one. The unique index on email makes "issue invalidates prior" a single
// statement.
func (r *TwoFactorRepository) UpsertChallenge(ctx context.Context, email, codeHash string, expiresAt time.Time) (*models.TwoFactorChallenge, error) {
	query := `
		INSERT INTO two_factor_challenges (email, code_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (lower(email))
		DO UPDATE SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, created_at = now()
		RETURNING id, email, code_hash, expires_at, created_at
	`

	var c models.TwoFactorChallenge
	err := r.pool.QueryRow(ctx, query, email, codeHash, expiresAt).Scan(
		&c.ID, &c.Email, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

func (r *TwoFactorRepository) GetChallengeByEmail(ctx context.Context, email string) (*models.TwoFactorChallenge, error) {
	query := `
		SELECT id, email, code_hash, expires_at, created_at
		FROM two_factor_challenges
		WHERE lower(email) = lower($1)
	`

	var c models.TwoFactorChallenge
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&c.ID, &c.Email, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// DeleteChallenge consumes a challenge (single use).
func (r *TwoFactorRepository) DeleteChallenge(ctx context.Context, id string) error {
	query := `DELETE FROM two_factor_challenges WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CreateConfirmation records a completed challenge for the account. At most
// one confirmation exists per account; re-verifying refreshes it.
func (r *TwoFactorRepository) CreateConfirmation(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error) {
	query := `
		INSERT INTO two_factor_confirmations (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET created_at = now()
		RETURNING id, user_id, created_at
	`

	var c models.TwoFactorConfirmation
	err := r.pool.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

func (r *TwoFactorRepository) GetConfirmationByUserID(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error) {
	query := `SELECT id, user_id, created_at FROM two_factor_confirmations WHERE user_id = $1`

	var c models.TwoFactorConfirmation
	err := r.pool.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// DeleteConfirmation consumes the one-shot confirmation bridge.
func (r *TwoFactorRepository) DeleteConfirmation(ctx context.Context, userID string) error {
	query := `DELETE FROM two_factor_confirmations WHERE user_id = $1`

	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CleanupExpired removes challenges past their expiry and confirmations that
// were never consumed. Housekeeping only; verification checks expiry itself.
func (r *TwoFactorRepository) CleanupExpired(ctx context.Context, confirmationMaxAge time.Duration) (int64, error) {
	var total int64

	result, err := r.pool.Exec(ctx, `DELETE FROM two_factor_challenges WHERE expires_at < now()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	total += result.RowsAffected()

	result, err = r.pool.Exec(ctx,
		`DELETE FROM two_factor_confirmations WHERE created_at < now() - ($1 * interval '1 second')`,
		int64(confirmationMaxAge.Seconds()))
	if err != nil {
		return total, database.MapPostgresError(err)
	}
	total += result.RowsAffected()

	return total, nil
}
