package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/auth-api/internal/models"
	"github.com/oakmart/auth-api/internal/service"
)

type stubUserRepo struct {
	user *models.User
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.user != nil && s.user.Email == email {
		return s.user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubUserRepo) Create(ctx context.Context, user *models.User) error { return nil }
func (s *stubUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}
func (s *stubUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	return nil
}
func (s *stubUserRepo) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	return nil
}
func (s *stubUserRepo) ConsumeResetToken(ctx context.Context, token, passwordHash string, now time.Time) (string, error) {
	return "", sql.ErrNoRows
}
func (s *stubUserRepo) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (string, error) {
	return "", sql.ErrNoRows
}

type stubTokenRepo struct{}

func (s *stubTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error { return nil }
func (s *stubTokenRepo) Consume(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	return nil, sql.ErrNoRows
}
func (s *stubTokenRepo) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error {
	return nil
}

func newAuthFixture(t *testing.T, accessTTL time.Duration) (*service.AuthService, *service.TokenIssuer, *models.User) {
	t.Helper()
	user := &models.User{ID: "u1", Email: "ada@example.com", Role: models.RoleUser, Active: true}
	issuer := service.NewTokenIssuer("test-secret", "oakmart-test", accessTTL)
	svc := service.NewAuthService(&stubUserRepo{user: user}, &stubTokenRepo{}, issuer, nil, nil, nil, nil, service.AuthConfig{
		RefreshTokenExpiry: time.Hour,
	})
	return svc, issuer, user
}

func protectedRouter(svc *service.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", Authenticate(svc), func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.AccessClaims)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})
	return r
}

func get(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateValidToken(t *testing.T) {
	svc, issuer, user := newAuthFixture(t, time.Hour)
	token, _, err := issuer.IssueAccessToken(user)
	require.NoError(t, err)

	w := get(protectedRouter(svc), "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u1")
}

func TestAuthenticateMissingHeader(t *testing.T) {
	svc, _, _ := newAuthFixture(t, time.Hour)

	w := get(protectedRouter(svc), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateMalformedHeader(t *testing.T) {
	svc, issuer, user := newAuthFixture(t, time.Hour)
	token, _, err := issuer.IssueAccessToken(user)
	require.NoError(t, err)

	w := get(protectedRouter(svc), "Token "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	svc, issuer, user := newAuthFixture(t, -time.Minute)
	token, _, err := issuer.IssueAccessToken(user)
	require.NoError(t, err)

	w := get(protectedRouter(svc), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateDeactivatedAccount(t *testing.T) {
	svc, issuer, user := newAuthFixture(t, time.Hour)
	token, _, err := issuer.IssueAccessToken(user)
	require.NoError(t, err)

	user.Active = false
	w := get(protectedRouter(svc), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuthenticate(t *testing.T) {
	svc, issuer, user := newAuthFixture(t, time.Hour)
	token, _, err := issuer.IssueAccessToken(user)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", OptionalAuthenticate(svc, nil), func(c *gin.Context) {
		if _, ok := c.Get(ContextUserKey); ok {
			c.JSON(http.StatusOK, gin.H{"authenticated": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
	})

	assert.Contains(t, get(r, "Bearer "+token).Body.String(), "true")
	assert.Contains(t, get(r, "").Body.String(), "false")
	// Present but invalid tokens are discarded, not rejected.
	assert.Contains(t, get(r, "Bearer garbage").Body.String(), "false")
}
