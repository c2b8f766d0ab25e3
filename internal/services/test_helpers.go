package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/carterwilliams/bastion/internal/models"
	"github.com/google/uuid"
)

// newTestLogger returns an slog.Logger that discards everything
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc         func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc      func(ctx context.Context, email string) (*models.User, error)
	GetByIdentifierFunc func(ctx context.Context, identifier string) (*models.User, error)
	CreateFunc          func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateNameFunc      func(ctx context.Context, id, name string) (*models.User, error)
	UpdateRoleFunc      func(ctx context.Context, id, role string) (*models.User, error)
	SetBlockedFunc      func(ctx context.Context, id string, blocked bool) error
	ClearLockFunc       func(ctx context.Context, id string) error
	SoftDeleteFunc      func(ctx context.Context, id string) error
	RestoreFunc         func(ctx context.Context, id string) error
	UpdateTwoFactorFunc func(ctx context.Context, id string, enabled bool, method string, secret, nonce []byte) error
	ListFunc            func(ctx context.Context, limit, offset int) ([]*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	if m.GetByIdentifierFunc != nil {
		return m.GetByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdateName(ctx context.Context, id, name string) (*models.User, error) {
	if m.UpdateNameFunc != nil {
		return m.UpdateNameFunc(ctx, id, name)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdateRole(ctx context.Context, id, role string) (*models.User, error) {
	if m.UpdateRoleFunc != nil {
		return m.UpdateRoleFunc(ctx, id, role)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) SetBlocked(ctx context.Context, id string, blocked bool) error {
	if m.SetBlockedFunc != nil {
		return m.SetBlockedFunc(ctx, id, blocked)
	}
	return nil
}

func (m *MockUserRepository) ClearLock(ctx context.Context, id string) error {
	if m.ClearLockFunc != nil {
		return m.ClearLockFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) SoftDelete(ctx context.Context, id string) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) Restore(ctx context.Context, id string) error {
	if m.RestoreFunc != nil {
		return m.RestoreFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) UpdateTwoFactor(ctx context.Context, id string, enabled bool, method string, secret, nonce []byte) error {
	if m.UpdateTwoFactorFunc != nil {
		return m.UpdateTwoFactorFunc(ctx, id, enabled, method, secret, nonce)
	}
	return nil
}

func (m *MockUserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc               func(ctx context.Context, session *models.Session) (*models.Session, error)
	ExistsByTokenFunc        func(ctx context.Context, token string) (bool, error)
	GetByTokenFunc           func(ctx context.Context, token string) (*models.Session, error)
	TouchFunc                func(ctx context.Context, token string) error
	DeleteByTokenFunc        func(ctx context.Context, token string) error
	DeleteByIDFunc           func(ctx context.Context, userID, sessionID string) (string, error)
	DeleteByUserIDFunc       func(ctx context.Context, userID string) ([]string, error)
	DeleteByUserIDExceptFunc func(ctx context.Context, userID, keepToken string) ([]string, error)
	ListByUserIDFunc         func(ctx context.Context, userID string) ([]*models.Session, error)
	CountByUserIDFunc        func(ctx context.Context, userID string) (int64, error)
	CountAllFunc             func(ctx context.Context) (int64, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	out := *session
	out.ID = uuid.New().String()
	out.LastActive = time.Now()
	out.CreatedAt = time.Now()
	return &out, nil
}

func (m *MockSessionRepository) ExistsByToken(ctx context.Context, token string) (bool, error) {
	if m.ExistsByTokenFunc != nil {
		return m.ExistsByTokenFunc(ctx, token)
	}
	return false, nil
}

func (m *MockSessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) Touch(ctx context.Context, token string) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, token)
	}
	return nil
}

func (m *MockSessionRepository) DeleteByToken(ctx context.Context, token string) error {
	if m.DeleteByTokenFunc != nil {
		return m.DeleteByTokenFunc(ctx, token)
	}
	return nil
}

func (m *MockSessionRepository) DeleteByID(ctx context.Context, userID, sessionID string) (string, error) {
	if m.DeleteByIDFunc != nil {
		return m.DeleteByIDFunc(ctx, userID, sessionID)
	}
	return "", models.ErrNotFound
}

func (m *MockSessionRepository) DeleteByUserID(ctx context.Context, userID string) ([]string, error) {
	if m.DeleteByUserIDFunc != nil {
		return m.DeleteByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockSessionRepository) DeleteByUserIDExcept(ctx context.Context, userID, keepToken string) ([]string, error) {
	if m.DeleteByUserIDExceptFunc != nil {
		return m.DeleteByUserIDExceptFunc(ctx, userID, keepToken)
	}
	return nil, nil
}

func (m *MockSessionRepository) ListByUserID(ctx context.Context, userID string) ([]*models.Session, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionRepository) CountByUserID(ctx context.Context, userID string) (int64, error) {
	if m.CountByUserIDFunc != nil {
		return m.CountByUserIDFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockSessionRepository) CountAll(ctx context.Context) (int64, error) {
	if m.CountAllFunc != nil {
		return m.CountAllFunc(ctx)
	}
	return 0, nil
}

// MockTwoFactorRepository implements TwoFactorRepository for testing
type MockTwoFactorRepository struct {
	UpsertChallengeFunc         func(ctx context.Context, email, codeHash string, expiresAt time.Time) (*models.TwoFactorChallenge, error)
	GetChallengeByEmailFunc     func(ctx context.Context, email string) (*models.TwoFactorChallenge, error)
	DeleteChallengeFunc         func(ctx context.Context, id string) error
	CreateConfirmationFunc      func(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error)
	GetConfirmationByUserIDFunc func(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error)
	DeleteConfirmationFunc      func(ctx context.Context, userID string) error
}

func (m *MockTwoFactorRepository) UpsertChallenge(ctx context.Context, email, codeHash string, expiresAt time.Time) (*models.TwoFactorChallenge, error) {
	if m.UpsertChallengeFunc != nil {
		return m.UpsertChallengeFunc(ctx, email, codeHash, expiresAt)
	}
	return &models.TwoFactorChallenge{
		ID:        uuid.New().String(),
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockTwoFactorRepository) GetChallengeByEmail(ctx context.Context, email string) (*models.TwoFactorChallenge, error) {
	if m.GetChallengeByEmailFunc != nil {
		return m.GetChallengeByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockTwoFactorRepository) DeleteChallenge(ctx context.Context, id string) error {
	if m.DeleteChallengeFunc != nil {
		return m.DeleteChallengeFunc(ctx, id)
	}
	return nil
}

func (m *MockTwoFactorRepository) CreateConfirmation(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error) {
	if m.CreateConfirmationFunc != nil {
		return m.CreateConfirmationFunc(ctx, userID)
	}
	return &models.TwoFactorConfirmation{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockTwoFactorRepository) GetConfirmationByUserID(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error) {
	if m.GetConfirmationByUserIDFunc != nil {
		return m.GetConfirmationByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTwoFactorRepository) DeleteConfirmation(ctx context.Context, userID string) error {
	if m.DeleteConfirmationFunc != nil {
		return m.DeleteConfirmationFunc(ctx, userID)
	}
	return nil
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc             func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByUserIDFunc        func(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
	CountByUserIDFunc      func(ctx context.Context, userID uuid.UUID) (int64, error)
	QueryFunc              func(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, error)
	CountByActionSinceFunc func(ctx context.Context, action string, since time.Time) (int64, error)
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	out := *log
	out.ID = uuid.New()
	out.CreatedAt = time.Now()
	return &out, nil
}

func (m *MockAuditLogRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditLogRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	if m.CountByUserIDFunc != nil {
		return m.CountByUserIDFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockAuditLogRepository) Query(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, filter, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditLogRepository) CountByActionSince(ctx context.Context, action string, since time.Time) (int64, error) {
	if m.CountByActionSinceFunc != nil {
		return m.CountByActionSinceFunc(ctx, action, since)
	}
	return 0, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendTwoFactorCodeFunc func(ctx context.Context, email, code string, expiresAt time.Time) error
	SendLockoutAlertFunc  func(ctx context.Context, email string, until time.Time) error
}

func (m *MockEmailService) SendTwoFactorCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.SendTwoFactorCodeFunc != nil {
		return m.SendTwoFactorCodeFunc(ctx, email, code, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendLockoutAlert(ctx context.Context, email string, until time.Time) error {
	if m.SendLockoutAlertFunc != nil {
		return m.SendLockoutAlertFunc(ctx, email, until)
	}
	return nil
}

// RecordingAuditor implements SecurityEventRecorder and captures entries
type RecordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *RecordingAuditor) Record(ctx context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of the captured entries
func (r *RecordingAuditor) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// HasAction reports whether any captured entry has the given action
func (r *RecordingAuditor) HasAction(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}
