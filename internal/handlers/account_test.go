package handlers

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/internal/services"
	"github.com/stretchr/testify/assert"
)

func newAccountHandler(users *MockUserService, twoFactor *MockTwoFactorManager, audit *MockAuditQueryService) *AccountHandler {
	return NewAccountHandler(users, twoFactor, audit)
}

func accountUser() *models.User {
	return &models.User{
		ID:    testTargetID,
		Email: "alice@example.com",
		Name:  "Alice",
		Role:  "user",
	}
}

func TestGetProfile_Success(t *testing.T) {
	users := &MockUserService{
		GetUserFunc: func(ctx context.Context, userID string) (*models.User, error) {
			return accountUser(), nil
		},
	}
	handler := newAccountHandler(users, &MockTwoFactorManager{}, &MockAuditQueryService{})

	req := NewTestRequest(t, "GET", "/account", nil)
	req = WithAuthContext(req, testTargetID, "alice@example.com", "tok")
	w := httptest.NewRecorder()

	handler.GetProfile(w, req)

	var resp services.UserResponse
	AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "alice@example.com", resp.Email)
}

func TestGetProfile_RequiresAuth(t *testing.T) {
	handler := newAccountHandler(&MockUserService{}, &MockTwoFactorManager{}, &MockAuditQueryService{})

	req := NewTestRequest(t, "GET", "/account", nil)
	w := httptest.NewRecorder()

	handler.GetProfile(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestStartTOTPEnrollment_ReturnsSecretAndQR(t *testing.T) {
	users := &MockUserService{
		GetUserFunc: func(ctx context.Context, userID string) (*models.User, error) {
			return accountUser(), nil
		},
	}
	twoFactor := &MockTwoFactorManager{
		StartTOTPEnrollmentFunc: func(ctx context.Context, user *models.User) (*services.TOTPEnrollment, error) {
			return &services.TOTPEnrollment{Secret: "JBSWY3DPEHPK3PXP", QRCodeURL: "data:image/png;base64,iVBOR"}, nil
		},
	}
	handler := newAccountHandler(users, twoFactor, &MockAuditQueryService{})

	req := NewTestRequest(t, "POST", "/account/2fa/totp", nil)
	req = WithAuthContext(req, testTargetID, "alice@example.com", "tok")
	w := httptest.NewRecorder()

	handler.StartTOTPEnrollment(w, req)

	var resp services.TOTPEnrollment
	AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
	assert.NotEmpty(t, resp.QRCodeURL)
}

func TestConfirmTOTPEnrollment_WrongCode(t *testing.T) {
	users := &MockUserService{
		GetUserFunc: func(ctx context.Context, userID string) (*models.User, error) {
			return accountUser(), nil
		},
	}
	twoFactor := &MockTwoFactorManager{
		ConfirmTOTPEnrollmentFunc: func(ctx context.Context, user *models.User, code string) error {
			return models.ErrChallengeInvalid
		},
	}
	handler := newAccountHandler(users, twoFactor, &MockAuditQueryService{})

	req := NewTestRequest(t, "POST", "/account/2fa/totp/confirm", ConfirmTOTPRequest{Code: "000000"})
	req = WithAuthContext(req, testTargetID, "alice@example.com", "tok")
	w := httptest.NewRecorder()

	handler.ConfirmTOTPEnrollment(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestDeleteAccount_SchedulesDeletion(t *testing.T) {
	var deleted string
	users := &MockUserService{
		SoftDeleteFunc: func(ctx context.Context, userID string) error {
			deleted = userID
			return nil
		},
	}
	handler := newAccountHandler(users, &MockTwoFactorManager{}, &MockAuditQueryService{})

	req := NewTestRequest(t, "DELETE", "/account", nil)
	req = WithAuthContext(req, testTargetID, "alice@example.com", "tok")
	w := httptest.NewRecorder()

	handler.DeleteAccount(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, testTargetID, deleted)
}

func TestGetActivity_ScopedToCaller(t *testing.T) {
	var requestedUser string
	audit := &MockAuditQueryService{
		GetUserAuditTrailFunc: func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, int64, error) {
			requestedUser = userID
			return []*models.AuditLog{}, 0, nil
		},
	}
	handler := newAccountHandler(&MockUserService{}, &MockTwoFactorManager{}, audit)

	req := NewTestRequest(t, "GET", "/account/activity?limit=10", nil)
	req = WithAuthContext(req, testTargetID, "alice@example.com", "tok")
	w := httptest.NewRecorder()

	handler.GetActivity(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, testTargetID, requestedUser)
}
