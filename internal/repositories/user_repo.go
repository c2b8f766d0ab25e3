package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/carterwilliams/bastion/internal/database"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/pkg/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, username, password_hash, name, token_key, role, is_blocked, deleted_at,
	failed_login_attempts, locked_until, last_failed_login,
	two_factor_enabled, two_factor_method, totp_secret, totp_nonce,
	password_changed_at, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.Name,
		&user.TokenKey, &user.Role, &user.IsBlocked, &user.DeletedAt,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.LastFailedLogin,
		&user.TwoFactorEnabled, &user.TwoFactorMethod, &user.TOTPSecret, &user.TOTPNonce,
		&user.PasswordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

// GetByIdentifier looks up an account by email or username.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users WHERE lower(email) = lower($1) OR lower(username) = lower($1)`
	return scanUserRow(r.pool.QueryRow(ctx, query, identifier))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	user.TokenKey = tokenKey

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = "user"
	}
	if user.TwoFactorMethod == "" {
		user.TwoFactorMethod = models.TwoFactorMethodEmail
	}

	query := `
		INSERT INTO users (id, email, username, password_hash, name, token_key, role,
			two_factor_enabled, two_factor_method, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.Username, user.PasswordHash, user.Name,
		user.TokenKey, user.Role, user.TwoFactorEnabled, user.TwoFactorMethod,
		user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

// UpdateName writes only the display name. Each mutable column gets its own
// statement so one write can never clobber an unrelated field.
func (r *UserRepository) UpdateName(ctx context.Context, id, name string) (*models.User, error) {
	query := `UPDATE users SET name = $1, updated_at = now() WHERE id = $2 RETURNING ` + userColumns
	return scanUserRow(r.pool.QueryRow(ctx, query, name, id))
}

// UpdateRole writes only the role column.
func (r *UserRepository) UpdateRole(ctx context.Context, id, role string) (*models.User, error) {
	query := `UPDATE users SET role = $1, updated_at = now() WHERE id = $2 RETURNING ` + userColumns
	return scanUserRow(r.pool.QueryRow(ctx, query, role, id))
}

// IncrementFailedLogins atomically bumps the failed-attempt counter and
// returns the new value. The increment happens in a single statement so two
// concurrent failures can never both observe N and write N+1.
func (r *UserRepository) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    last_failed_login = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_login_attempts
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// SetLock records a lockout expiring at the given time.
func (r *UserRepository) SetLock(ctx context.Context, id string, until time.Time) error {
	query := `UPDATE users SET locked_until = $1, updated_at = now() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, until, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearLock resets the failed-attempt counter and lock fields.
func (r *UserRepository) ClearLock(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, last_failed_login = NULL, updated_at = now()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetBlocked flips the admin block flag.
func (r *UserRepository) SetBlocked(ctx context.Context, id string, blocked bool) error {
	query := `UPDATE users SET is_blocked = $1, updated_at = now() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, blocked, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SoftDelete marks the account deleted; the row survives the grace period.
func (r *UserRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE users SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Restore clears the soft-delete marker within the grace period.
func (r *UserRepository) Restore(ctx context.Context, id string) error {
	query := `UPDATE users SET deleted_at = NULL, updated_at = now() WHERE id = $1 AND deleted_at IS NOT NULL`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateTwoFactor persists the two-factor method and (for TOTP) the
// encrypted secret.
func (r *UserRepository) UpdateTwoFactor(ctx context.Context, id string, enabled bool, method string, secret, nonce []byte) error {
	query := `
		UPDATE users
		SET two_factor_enabled = $1, two_factor_method = $2, totp_secret = $3, totp_nonce = $4, updated_at = now()
		WHERE id = $5
	`

	result, err := r.pool.Exec(ctx, query, enabled, method, secret, nonce, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return scanUserRows(rows)
}

func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}
