//go:build integration

package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/carterwilliams/bastion/internal/database"
	"github.com/carterwilliams/bastion/internal/models"
)

// testDB holds the shared PostgreSQL testcontainer state
type testDB struct {
	container testcontainers.Container
	db        *database.DB
}

func setupTestDatabase(t *testing.T) *testDB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("bastion"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	_, err = database.MigrateDSN(connStr)
	require.NoError(t, err, "migrations failed")

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(context.Background())
	})

	return &testDB{container: container, db: &database.DB{Pool: pool}}
}

func createTestUser(t *testing.T, repo *UserRepository, email string) *models.User {
	t.Helper()
	user, err := repo.Create(context.Background(), &models.User{
		Email:        email,
		PasswordHash: "$2a$12$KIXQhEyJ9N1x0uVxqgP1wOqfnlc4q1B5mBHEeJvQ0nYFkT6C7jZGK",
		Name:         "Test User",
	})
	require.NoError(t, err)
	return user
}

func mustParseUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestIncrementFailedLogins_ConcurrentAttemptsAllCount(t *testing.T) {
	tdb := setupTestDatabase(t)
	repo := NewUserRepository(tdb.db)
	user := createTestUser(t, repo, "concurrent@example.com")

	const attempts = 20
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.IncrementFailedLogins(context.Background(), user.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	fresh, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, attempts, fresh.FailedLoginAttempts,
		"every concurrent failure must land on the counter")
}

func TestUserRepository_UpdateName_TouchesOnlyTheName(t *testing.T) {
	tdb := setupTestDatabase(t)
	repo := NewUserRepository(tdb.db)
	user := createTestUser(t, repo, "rename@example.com")

	ctx := context.Background()
	_, err := repo.UpdateRole(ctx, user.ID, "admin")
	require.NoError(t, err)
	require.NoError(t, repo.SetBlocked(ctx, user.ID, true))

	renamed, err := repo.UpdateName(ctx, user.ID, "New Name")
	require.NoError(t, err)
	assert.Equal(t, "New Name", renamed.Name)

	fresh, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", fresh.Role, "rename must leave role alone")
	assert.True(t, fresh.IsBlocked, "rename must leave the block flag alone")
	assert.Equal(t, user.TokenKey, fresh.TokenKey, "rename must leave the token key alone")
}

func TestSessionRepository_RowExistenceIsValidity(t *testing.T) {
	tdb := setupTestDatabase(t)
	users := NewUserRepository(tdb.db)
	sessions := NewSessionRepository(tdb.db)
	user := createTestUser(t, users, "sessions@example.com")

	ctx := context.Background()
	session, err := sessions.Create(ctx, &models.Session{
		UserID:     user.ID,
		Token:      "integration-session-token",
		DeviceType: "desktop",
		Browser:    "Firefox",
		OS:         "Linux",
		IPAddress:  "10.0.0.1",
	})
	require.NoError(t, err)

	exists, err := sessions.ExistsByToken(ctx, session.Token)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, sessions.DeleteByToken(ctx, session.Token))

	exists, err = sessions.ExistsByToken(ctx, session.Token)
	require.NoError(t, err)
	assert.False(t, exists, "deleted session must not validate")

	// Deleting again reports not found
	err = sessions.DeleteByToken(ctx, session.Token)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionRepository_DeleteByUserIDExceptKeepsCurrent(t *testing.T) {
	tdb := setupTestDatabase(t)
	users := NewUserRepository(tdb.db)
	sessions := NewSessionRepository(tdb.db)
	user := createTestUser(t, users, "multisession@example.com")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := sessions.Create(ctx, &models.Session{
			UserID:    user.ID,
			Token:     fmt.Sprintf("tok-%d", i),
			IPAddress: "10.0.0.1",
		})
		require.NoError(t, err)
	}

	deleted, err := sessions.DeleteByUserIDExcept(ctx, user.ID, "tok-1")
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	assert.NotContains(t, deleted, "tok-1")

	exists, err := sessions.ExistsByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTwoFactorRepository_UpsertReplacesChallenge(t *testing.T) {
	tdb := setupTestDatabase(t)
	repo := NewTwoFactorRepository(tdb.db)
	ctx := context.Background()

	first, err := repo.UpsertChallenge(ctx, "codes@example.com", "hash-one", time.Now().Add(5*time.Minute))
	require.NoError(t, err)

	second, err := repo.UpsertChallenge(ctx, "codes@example.com", "hash-two", time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "reissue must replace, not accumulate")

	live, err := repo.GetChallengeByEmail(ctx, "codes@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash-two", live.CodeHash, "only the newest code is actionable")
}

func TestTwoFactorRepository_ChallengeIsSingleUse(t *testing.T) {
	tdb := setupTestDatabase(t)
	repo := NewTwoFactorRepository(tdb.db)
	ctx := context.Background()

	challenge, err := repo.UpsertChallenge(ctx, "once@example.com", "hash", time.Now().Add(5*time.Minute))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteChallenge(ctx, challenge.ID))

	err = repo.DeleteChallenge(ctx, challenge.ID)
	assert.ErrorIs(t, err, models.ErrNotFound, "second consume must lose")
}

func TestAuditLogRepository_AppendAndQuery(t *testing.T) {
	tdb := setupTestDatabase(t)
	users := NewUserRepository(tdb.db)
	repo := NewAuditLogRepository(tdb.db)
	user := createTestUser(t, users, "audit@example.com")

	ctx := context.Background()
	userID := mustParseUUID(t, user.ID)
	reason := "wrong_password"
	ip := "10.0.0.9"

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &models.AuditLog{
			Action:        models.AuditActionLoginFailed,
			UserID:        &userID,
			Success:       false,
			FailureReason: &reason,
			IPAddress:     &ip,
		})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, &models.AuditLog{
		Action:  models.AuditActionLoginSuccess,
		UserID:  &userID,
		Success: true,
	})
	require.NoError(t, err)

	failed := false
	logs, err := repo.Query(ctx, models.AuditFilter{
		UserID:  &userID,
		Action:  models.AuditActionLoginFailed,
		Success: &failed,
	}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	count, err := repo.CountByActionSince(ctx, models.AuditActionLoginFailed, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
