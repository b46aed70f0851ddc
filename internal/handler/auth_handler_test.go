package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/auth-api/internal/middleware"
	"github.com/oakmart/auth-api/internal/models"
	"github.com/oakmart/auth-api/internal/service"
	"github.com/oakmart/auth-api/pkg/response"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*models.User)}
}

func (m *memUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = "u1"
	}
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error { return nil }

func (m *memUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *memUserRepo) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.ResetToken = &token
		u.ResetTokenExpires = &expiresAt
	}
	return nil
}

func (m *memUserRepo) ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetToken != nil && *u.ResetToken == token && u.ResetTokenExpires != nil && u.ResetTokenExpires.After(now) {
			u.PasswordHash = passwordHash
			u.ResetToken = nil
			return u.ID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (m *memUserRepo) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.VerificationToken != nil && *u.VerificationToken == token {
			u.EmailVerified = true
			u.VerificationToken = nil
			return u.ID, nil
		}
	}
	return "", sql.ErrNoRows
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]*models.RefreshToken)}
}

func (m *memTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = token
	return nil
}

func (m *memTokenRepo) Consume(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.tokens[token]
	if !ok || rt.Revoked || !rt.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	rt.Revoked = true
	rt.RevokedAt = &now
	return rt, nil
}

func (m *memTokenRepo) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.tokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := service.NewTokenIssuer("test-secret", "oakmart-test", time.Hour)
	svc := service.NewAuthService(newMemUserRepo(), newMemTokenRepo(), issuer, nil, nil, nil, nil, service.AuthConfig{
		RefreshTokenExpiry: time.Hour,
	})
	h := NewAuthHandler(svc)

	r := gin.New()
	auth := r.Group("/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/refresh-token", h.Refresh)
	auth.POST("/forgot-password", h.ForgotPassword)

	secured := auth.Group("", middleware.Authenticate(svc))
	secured.POST("/logout", h.Logout)
	secured.POST("/change-password", h.ChangePassword)
	secured.GET("/me", h.Me)

	return r
}

func postJSON(r *gin.Engine, path string, body interface{}, token string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func authResponseFrom(t *testing.T, w *httptest.ResponseRecorder) models.AuthResponse {
	t.Helper()
	env := decodeEnvelope(t, w)
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var res models.AuthResponse
	require.NoError(t, json.Unmarshal(raw, &res))
	return res
}

func TestRegisterEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/register", models.RegisterRequest{
		FullName: "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "correct horse",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	res := authResponseFrom(t, w)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestRegisterEndpointValidation(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/register", gin.H{"email": "not-an-email", "password": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.Success)
	require.NotEmpty(t, env.Errors)
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/register", models.RegisterRequest{
		FullName: "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "correct horse",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(r, "/auth/login", models.LoginRequest{Email: "ada@example.com", Password: "correct horse"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	session := authResponseFrom(t, w)

	w = postJSON(r, "/auth/refresh-token", models.RefreshTokenRequest{RefreshToken: session.RefreshToken}, "")
	require.Equal(t, http.StatusOK, w.Code)
	rotated := authResponseFrom(t, w)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	// The consumed token no longer works.
	w = postJSON(r, "/auth/refresh-token", models.RefreshTokenRequest{RefreshToken: session.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(r, "/auth/logout", nil, rotated.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	// All refresh tokens are gone after logout.
	w = postJSON(r, "/auth/refresh-token", models.RefreshTokenRequest{RefreshToken: rotated.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/login", models.LoginRequest{Email: "nobody@example.com", Password: "whatever1"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.Success)
}

func TestLogoutRequiresAuth(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForgotPasswordAlwaysAccepts(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/forgot-password", models.ForgotPasswordRequest{Email: "nobody@example.com"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
}

func TestMeEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/register", models.RegisterRequest{
		FullName: "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "correct horse",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	session := authResponseFrom(t, w)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ada@example.com")
}

func TestChangePasswordEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/auth/register", models.RegisterRequest{
		FullName: "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "correct horse",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	session := authResponseFrom(t, w)

	w = postJSON(r, "/auth/change-password", models.ChangePasswordRequest{
		CurrentPassword: "wrong password",
		NewPassword:     "brand new pass",
	}, session.AccessToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(r, "/auth/change-password", models.ChangePasswordRequest{
		CurrentPassword: "correct horse",
		NewPassword:     "brand new pass",
	}, session.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(r, "/auth/login", models.LoginRequest{Email: "ada@example.com", Password: "brand new pass"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
