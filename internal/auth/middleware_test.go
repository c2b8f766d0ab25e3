package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/models"
)

// mockSessionChecker records calls for assertions
type mockSessionChecker struct {
	mu           sync.Mutex
	exists       bool
	existsErr    error
	existsCalls  int
	touchedToken string
}

func (m *mockSessionChecker) ExistsByToken(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsCalls++
	return m.exists, m.existsErr
}

func (m *mockSessionChecker) Touch(ctx context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchedToken = token
}

func (m *mockSessionChecker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsCalls
}

func newMiddlewareFixture(t *testing.T, sessions *mockSessionChecker) (*TokenManager, *cache.CredentialCache, func(http.Handler) http.Handler) {
	t.Helper()
	tm := NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour)
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	return tm, creds, AuthMiddleware(tm, sessions, creds)
}

func serveAuthed(mw func(http.Handler) http.Handler, authHeader string) (*httptest.ResponseRecorder, *models.TokenClaims, bool) {
	req := httptest.NewRequest("GET", "/sessions", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()

	var gotClaims *models.TokenClaims
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		gotClaims = GetUserFromContext(r)
		w.WriteHeader(http.StatusOK)
	})

	mw(next).ServeHTTP(w, req)
	return w, gotClaims, nextCalled
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	sessions := &mockSessionChecker{exists: true}
	_, _, mw := newMiddlewareFixture(t, sessions)

	w, _, nextCalled := serveAuthed(mw, "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	sessions := &mockSessionChecker{exists: true}
	_, _, mw := newMiddlewareFixture(t, sessions)

	w, _, nextCalled := serveAuthed(mw, "Basic abc123")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestAuthMiddleware_ValidToken_InjectsClaims(t *testing.T) {
	sessions := &mockSessionChecker{exists: true}
	tm, _, mw := newMiddlewareFixture(t, sessions)

	access, _, err := tm.GeneratePair("user-123", "user@example.com", "session-abc")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	w, claims, nextCalled := serveAuthed(mw, "Bearer "+access)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !nextCalled {
		t.Fatalf("expected next handler to be called")
	}
	if claims == nil || claims.UserID != "user-123" || claims.SessionID != "session-abc" {
		t.Errorf("expected claims injected into context, got %+v", claims)
	}
}

func TestAuthMiddleware_RefreshTokenRejected(t *testing.T) {
	sessions := &mockSessionChecker{exists: true}
	tm, _, mw := newMiddlewareFixture(t, sessions)

	_, refresh, err := tm.GeneratePair("user-123", "user@example.com", "session-abc")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	w, _, nextCalled := serveAuthed(mw, "Bearer "+refresh)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for refresh token, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestAuthMiddleware_RevokedSession_Rejected(t *testing.T) {
	sessions := &mockSessionChecker{exists: false}
	tm, _, mw := newMiddlewareFixture(t, sessions)

	access, _, err := tm.GeneratePair("user-123", "user@example.com", "session-abc")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	// Envelope is still formally valid, but the session row is gone
	w, _, nextCalled := serveAuthed(mw, "Bearer "+access)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for revoked session, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestAuthMiddleware_CacheHit_SkipsStore(t *testing.T) {
	sessions := &mockSessionChecker{exists: true}
	tm, creds, mw := newMiddlewareFixture(t, sessions)

	access, _, err := tm.GeneratePair("user-123", "user@example.com", "session-abc")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	// First request misses cache and hits the store
	serveAuthed(mw, "Bearer "+access)
	if sessions.callCount() != 1 {
		t.Fatalf("expected 1 store lookup, got %d", sessions.callCount())
	}

	// Second request within the TTL is served from cache
	serveAuthed(mw, "Bearer "+access)
	if sessions.callCount() != 1 {
		t.Errorf("expected cache hit to skip store, got %d lookups", sessions.callCount())
	}

	if valid, ok := creds.GetSessionValidity("session-abc"); !ok || !valid {
		t.Errorf("expected session validity cached as valid")
	}
}

func TestAuthMiddleware_InvalidatedCacheEntry_RechecksStore(t *testing.T) {
	sessions := &mockSessionChecker{exists: true}
	tm, creds, mw := newMiddlewareFixture(t, sessions)

	access, _, err := tm.GeneratePair("user-123", "user@example.com", "session-abc")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	serveAuthed(mw, "Bearer "+access)

	// Revoke path: store row removed, cache entry dropped synchronously
	sessions.mu.Lock()
	sessions.exists = false
	sessions.mu.Unlock()
	creds.InvalidateSession("session-abc")

	w, _, _ := serveAuthed(mw, "Bearer "+access)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 immediately after invalidation, got %d", w.Code)
	}
	if sessions.callCount() != 2 {
		t.Errorf("expected store recheck after invalidation, got %d lookups", sessions.callCount())
	}
}

func TestAuthMiddleware_StoreError_FailsClosed(t *testing.T) {
	sessions := &mockSessionChecker{existsErr: models.ErrStoreUnavailable}
	tm, _, mw := newMiddlewareFixture(t, sessions)

	access, _, err := tm.GeneratePair("user-123", "user@example.com", "session-abc")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	w, _, nextCalled := serveAuthed(mw, "Bearer "+access)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when store is unreachable, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

// mockRoleRepo serves RequireRole lookups
type mockRoleRepo struct {
	user  *models.User
	err   error
	calls int
}

func (m *mockRoleRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func serveWithClaims(mw func(http.Handler) http.Handler, claims *models.TokenClaims) (*httptest.ResponseRecorder, bool) {
	req := httptest.NewRequest("GET", "/admin/stats", nil)
	if claims != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserContextKey, claims))
	}
	w := httptest.NewRecorder()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	mw(next).ServeHTTP(w, req)
	return w, nextCalled
}

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	repo := &mockRoleRepo{user: &models.User{ID: "user-123", Role: "admin"}}
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	mw := RequireRole(repo, creds, "admin")

	w, nextCalled := serveWithClaims(mw, &models.TokenClaims{UserID: "user-123"})

	if w.Code != http.StatusOK || !nextCalled {
		t.Errorf("expected admin to pass, got %d", w.Code)
	}
}

func TestRequireRole_RejectsWrongRole(t *testing.T) {
	repo := &mockRoleRepo{user: &models.User{ID: "user-123", Role: "user"}}
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	mw := RequireRole(repo, creds, "admin")

	w, nextCalled := serveWithClaims(mw, &models.TokenClaims{UserID: "user-123"})

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestRequireRole_RejectsBlockedUser(t *testing.T) {
	repo := &mockRoleRepo{user: &models.User{ID: "user-123", Role: "admin", IsBlocked: true}}
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	mw := RequireRole(repo, creds, "admin")

	w, nextCalled := serveWithClaims(mw, &models.TokenClaims{UserID: "user-123"})

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for blocked user, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestRequireRole_NoClaims_Unauthorized(t *testing.T) {
	repo := &mockRoleRepo{user: &models.User{ID: "user-123", Role: "admin"}}
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	mw := RequireRole(repo, creds, "admin")

	w, nextCalled := serveWithClaims(mw, nil)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
}

func TestRequireRole_UsesCachedProfile(t *testing.T) {
	repo := &mockRoleRepo{user: &models.User{ID: "user-123", Role: "admin"}}
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	mw := RequireRole(repo, creds, "admin")

	claims := &models.TokenClaims{UserID: "user-123"}
	serveWithClaims(mw, claims)
	serveWithClaims(mw, claims)

	if repo.calls != 1 {
		t.Errorf("expected second request to hit the profile cache, got %d lookups", repo.calls)
	}
}

func TestRequireRole_ProfileInvalidation_RefetchesRole(t *testing.T) {
	repo := &mockRoleRepo{user: &models.User{ID: "user-123", Role: "admin"}}
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	mw := RequireRole(repo, creds, "admin")

	claims := &models.TokenClaims{UserID: "user-123"}
	serveWithClaims(mw, claims)

	// Demotion invalidates the snapshot, so the change applies immediately
	repo.user = &models.User{ID: "user-123", Role: "user"}
	creds.InvalidateProfile("user-123")

	w, _ := serveWithClaims(mw, claims)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 after role change, got %d", w.Code)
	}
}
