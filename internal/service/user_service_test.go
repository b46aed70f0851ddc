package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/auth-api/internal/models"
	appErrors "github.com/oakmart/auth-api/pkg/errors"
)

type listingUserRepo struct {
	*mockUserRepo
	listResult []models.User
	listTotal  int
}

func (m *listingUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return m.listResult, m.listTotal, nil
}

func (m *listingUserRepo) Update(ctx context.Context, user *models.User) error {
	m.mockUserRepo.mu.Lock()
	defer m.mockUserRepo.mu.Unlock()
	m.mockUserRepo.users[user.ID] = user
	return nil
}

func (m *listingUserRepo) Deactivate(ctx context.Context, id string) error {
	m.mockUserRepo.mu.Lock()
	defer m.mockUserRepo.mu.Unlock()
	if u, ok := m.mockUserRepo.users[id]; ok {
		u.Active = false
	}
	return nil
}

func TestUserServiceListPagination(t *testing.T) {
	repo := &listingUserRepo{
		mockUserRepo: newMockUserRepo(),
		listResult:   []models.User{{ID: "u1"}, {ID: "u2"}},
		listTotal:    42,
	}
	svc := NewUserService(repo, newMockTokenRepo(), nil, nil)

	users, pagination, err := svc.List(context.Background(), models.UserFilter{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, 10, pagination.PageSize)
	assert.Equal(t, 42, pagination.TotalCount)
}

func TestUserServiceGetNotFound(t *testing.T) {
	repo := &listingUserRepo{mockUserRepo: newMockUserRepo()}
	svc := NewUserService(repo, newMockTokenRepo(), nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAccountNotFound))
}

func TestUserServiceUpdateRejectsUnknownRole(t *testing.T) {
	user := &models.User{ID: "u1", FullName: "Ada", Role: models.RoleUser, Active: true}
	repo := &listingUserRepo{mockUserRepo: newMockUserRepo(user)}
	svc := NewUserService(repo, newMockTokenRepo(), nil, nil)

	_, err := svc.Update(context.Background(), "u1", UpdateUserRequest{FullName: "Ada", Role: "superadmin"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestUserServiceUpdateDeactivationRevokesSessions(t *testing.T) {
	user := &models.User{ID: "u1", FullName: "Ada", Role: models.RoleUser, Active: true}
	repo := &listingUserRepo{mockUserRepo: newMockUserRepo(user)}
	tokens := newMockTokenRepo()
	require.NoError(t, tokens.Create(context.Background(), &models.RefreshToken{UserID: "u1", Token: "live"}))
	svc := NewUserService(repo, tokens, nil, nil)

	inactive := false
	updated, err := svc.Update(context.Background(), "u1", UpdateUserRequest{FullName: "Ada", Role: models.RoleUser, Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, 0, tokens.live("u1"))
}

func TestUserServiceDeactivate(t *testing.T) {
	user := &models.User{ID: "u1", FullName: "Ada", Role: models.RoleUser, Active: true}
	repo := &listingUserRepo{mockUserRepo: newMockUserRepo(user)}
	tokens := newMockTokenRepo()
	require.NoError(t, tokens.Create(context.Background(), &models.RefreshToken{UserID: "u1", Token: "live"}))
	svc := NewUserService(repo, tokens, nil, nil)

	require.NoError(t, svc.Deactivate(context.Background(), "u1"))
	assert.False(t, user.Active)
	assert.Equal(t, 0, tokens.live("u1"))

	err := svc.Deactivate(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAccountNotFound))
}
