package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/internal/services"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email, sessionToken string) *http.Request {
	claims := &models.TokenClaims{
		Type:      "access",
		UserID:    userID,
		Email:     email,
		SessionID: sessionToken,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks status and decodes the JSON body into target
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, "application/json"),
		"expected JSON content type, got %s", contentType)

	if target != nil {
		err := json.NewDecoder(w.Body).Decode(target)
		assert.NoError(t, err, "failed to decode response body")
	}
}

// Service mocks

type MockAuthService struct {
	LoginFunc             func(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	CompleteTwoFactorFunc func(ctx context.Context, identifier, code, ipAddress, userAgent string) error
	ResendTwoFactorFunc   func(ctx context.Context, identifier string) error
	LogoutFunc            func(ctx context.Context, userID, sessionToken string) error
	RefreshTokenFunc      func(ctx context.Context, refreshToken string) (*services.LoginResult, error)
	RegisterFunc          func(ctx context.Context, email, password, name, ipAddress, userAgent string) (*services.LoginResult, error)
	ReactivateFunc        func(ctx context.Context, identifier, password string) error
}

func (m *MockAuthService) Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, input)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) CompleteTwoFactor(ctx context.Context, identifier, code, ipAddress, userAgent string) error {
	if m.CompleteTwoFactorFunc != nil {
		return m.CompleteTwoFactorFunc(ctx, identifier, code, ipAddress, userAgent)
	}
	return models.ErrChallengeInvalid
}

func (m *MockAuthService) ResendTwoFactor(ctx context.Context, identifier string) error {
	if m.ResendTwoFactorFunc != nil {
		return m.ResendTwoFactorFunc(ctx, identifier)
	}
	return nil
}

func (m *MockAuthService) Logout(ctx context.Context, userID, sessionToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, userID, sessionToken)
	}
	return nil
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.LoginResult, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, name, ipAddress, userAgent)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Reactivate(ctx context.Context, identifier, password string) error {
	if m.ReactivateFunc != nil {
		return m.ReactivateFunc(ctx, identifier, password)
	}
	return models.ErrInvalidCredentials
}

type MockSessionService struct {
	ListActiveFunc      func(ctx context.Context, userID, currentToken string) ([]*services.SessionResponse, error)
	RevokeByIDFunc      func(ctx context.Context, userID, sessionID string) error
	RevokeAllFunc       func(ctx context.Context, userID string) (int, error)
	RevokeAllExceptFunc func(ctx context.Context, userID, keepToken string) (int, error)
}

func (m *MockSessionService) ListActive(ctx context.Context, userID, currentToken string) ([]*services.SessionResponse, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, userID, currentToken)
	}
	return []*services.SessionResponse{}, nil
}

func (m *MockSessionService) RevokeByID(ctx context.Context, userID, sessionID string) error {
	if m.RevokeByIDFunc != nil {
		return m.RevokeByIDFunc(ctx, userID, sessionID)
	}
	return models.ErrNotFound
}

func (m *MockSessionService) RevokeAll(ctx context.Context, userID string) (int, error) {
	if m.RevokeAllFunc != nil {
		return m.RevokeAllFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockSessionService) RevokeAllExcept(ctx context.Context, userID, keepToken string) (int, error) {
	if m.RevokeAllExceptFunc != nil {
		return m.RevokeAllExceptFunc(ctx, userID, keepToken)
	}
	return 0, nil
}

type MockUserService struct {
	GetProfileFunc func(ctx context.Context, userID string) (*models.Profile, error)
	GetUserFunc    func(ctx context.Context, userID string) (*models.User, error)
	UpdateNameFunc func(ctx context.Context, userID, name string) (*models.User, error)
	SoftDeleteFunc func(ctx context.Context, userID string) error
	ListFunc       func(ctx context.Context, limit, offset int) ([]*models.User, error)
	BlockFunc      func(ctx context.Context, adminID, userID string) error
	UnblockFunc    func(ctx context.Context, adminID, userID string) error
	SetRoleFunc    func(ctx context.Context, adminID, userID, role string) error
	RestoreFunc    func(ctx context.Context, userID string) error
}

func (m *MockUserService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserService) UpdateName(ctx context.Context, userID, name string) (*models.User, error) {
	if m.UpdateNameFunc != nil {
		return m.UpdateNameFunc(ctx, userID, name)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserService) SoftDelete(ctx context.Context, userID string) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, userID)
	}
	return nil
}

func (m *MockUserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserService) Block(ctx context.Context, adminID, userID string) error {
	if m.BlockFunc != nil {
		return m.BlockFunc(ctx, adminID, userID)
	}
	return nil
}

func (m *MockUserService) Unblock(ctx context.Context, adminID, userID string) error {
	if m.UnblockFunc != nil {
		return m.UnblockFunc(ctx, adminID, userID)
	}
	return nil
}

func (m *MockUserService) SetRole(ctx context.Context, adminID, userID, role string) error {
	if m.SetRoleFunc != nil {
		return m.SetRoleFunc(ctx, adminID, userID, role)
	}
	return nil
}

func (m *MockUserService) Restore(ctx context.Context, userID string) error {
	if m.RestoreFunc != nil {
		return m.RestoreFunc(ctx, userID)
	}
	return nil
}

type MockTwoFactorManager struct {
	StartTOTPEnrollmentFunc   func(ctx context.Context, user *models.User) (*services.TOTPEnrollment, error)
	ConfirmTOTPEnrollmentFunc func(ctx context.Context, user *models.User, code string) error
	EnableEmailFunc           func(ctx context.Context, user *models.User) error
	DisableFunc               func(ctx context.Context, user *models.User) error
}

func (m *MockTwoFactorManager) StartTOTPEnrollment(ctx context.Context, user *models.User) (*services.TOTPEnrollment, error) {
	if m.StartTOTPEnrollmentFunc != nil {
		return m.StartTOTPEnrollmentFunc(ctx, user)
	}
	return &services.TOTPEnrollment{Secret: "SECRET", QRCodeURL: "data:image/png;base64,AAAA"}, nil
}

func (m *MockTwoFactorManager) ConfirmTOTPEnrollment(ctx context.Context, user *models.User, code string) error {
	if m.ConfirmTOTPEnrollmentFunc != nil {
		return m.ConfirmTOTPEnrollmentFunc(ctx, user, code)
	}
	return nil
}

func (m *MockTwoFactorManager) EnableEmail(ctx context.Context, user *models.User) error {
	if m.EnableEmailFunc != nil {
		return m.EnableEmailFunc(ctx, user)
	}
	return nil
}

func (m *MockTwoFactorManager) Disable(ctx context.Context, user *models.User) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, user)
	}
	return nil
}

type MockAuditQueryService struct {
	QueryFunc             func(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, error)
	GetUserAuditTrailFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, int64, error)
	GetSecurityStatsFunc  func(ctx context.Context, window time.Duration, sessionCounter services.SessionCounter) (*services.SecurityStats, error)
	AcknowledgeAlertFunc  func(ctx context.Context, adminID, alertID string) error
}

func (m *MockAuditQueryService) Query(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, filter, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditQueryService) GetUserAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, int64, error) {
	if m.GetUserAuditTrailFunc != nil {
		return m.GetUserAuditTrailFunc(ctx, userID, limit, offset)
	}
	return []*models.AuditLog{}, 0, nil
}

func (m *MockAuditQueryService) GetSecurityStats(ctx context.Context, window time.Duration, sessionCounter services.SessionCounter) (*services.SecurityStats, error) {
	if m.GetSecurityStatsFunc != nil {
		return m.GetSecurityStatsFunc(ctx, window, sessionCounter)
	}
	return &services.SecurityStats{}, nil
}

func (m *MockAuditQueryService) AcknowledgeAlert(ctx context.Context, adminID, alertID string) error {
	if m.AcknowledgeAlertFunc != nil {
		return m.AcknowledgeAlertFunc(ctx, adminID, alertID)
	}
	return nil
}

type MockSessionCounter struct {
	CountAllFunc func(ctx context.Context) (int64, error)
}

func (m *MockSessionCounter) CountAll(ctx context.Context) (int64, error) {
	if m.CountAllFunc != nil {
		return m.CountAllFunc(ctx)
	}
	return 0, nil
}
