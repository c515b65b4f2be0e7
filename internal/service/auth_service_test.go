package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmate-server/internal/cache"
	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/pkg/jwt"
	"chatmate-server/pkg/util"
)

func newTestAuthService() (*AuthService, *repository.MemoryUserRepository) {
	users := repository.NewMemoryUserRepository()
	jwtService := jwt.NewJWTService("test-secret-with-at-least-32-chars!!", time.Hour, 24*time.Hour)
	return NewAuthService(users, cache.NewMemoryCache(), jwtService), users
}

func TestAuthService_RegisterThenLogin(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, &RegisterRequest{Email: " Alice@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.AccessToken)
	assert.Equal(t, "alice@example.com", reg.User.Email)
	// 没有昵称时身份信息使用默认显示名
	assert.Equal(t, model.DefaultDisplayName, reg.Identity.Name)

	_, err = svc.Register(ctx, &RegisterRequest{Email: "alice@example.com", Password: "another"})
	assert.True(t, errors.Is(err, ErrEmailExists))

	login, err := svc.Login(ctx, &LoginRequest{Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)
	require.NotNil(t, login.User.LastLoginAt)

	_, err = svc.Login(ctx, &LoginRequest{Email: "alice@example.com", Password: "wrong"})
	assert.True(t, errors.Is(err, ErrPasswordWrong))

	_, err = svc.Login(ctx, &LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestAuthService_RefreshAndLogout(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, &RegisterRequest{Email: "bob@example.com", Password: "secret1", Name: "Bob"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	// Access Token 不能用来刷新
	_, err = svc.RefreshToken(ctx, reg.AccessToken)
	assert.Error(t, err)

	require.NoError(t, svc.Logout(ctx, util.HashToken(reg.RefreshToken), time.Now().Add(time.Hour)))
	assert.True(t, svc.IsRevoked(ctx, reg.RefreshToken))
	_, err = svc.RefreshToken(ctx, reg.RefreshToken)
	assert.True(t, errors.Is(err, ErrTokenRevoked))
}

func TestUserService_UpdateProfileAndPassword(t *testing.T) {
	auth, users := newTestAuthService()
	svc := NewUserService(users)
	ctx := context.Background()

	reg, err := auth.Register(ctx, &RegisterRequest{Email: "carol@example.com", Password: "secret1"})
	require.NoError(t, err)

	name := "  Carol "
	photo := "https://example.com/carol.png"
	user, err := svc.UpdateProfile(ctx, reg.User.ID, &UpdateProfileRequest{Name: &name, PhotoURL: &photo})
	require.NoError(t, err)
	assert.Equal(t, "Carol", user.Name)
	require.NotNil(t, user.PhotoURL)
	assert.Equal(t, photo, *user.PhotoURL)

	err = svc.ChangePassword(ctx, reg.User.ID, &ChangePasswordRequest{OldPassword: "bad", NewPassword: "secret2"})
	assert.True(t, errors.Is(err, ErrPasswordWrong))

	require.NoError(t, svc.ChangePassword(ctx, reg.User.ID, &ChangePasswordRequest{OldPassword: "secret1", NewPassword: "secret2"}))
	_, err = auth.Login(ctx, &LoginRequest{Email: "carol@example.com", Password: "secret2"})
	require.NoError(t, err)

	_, err = svc.GetProfile(ctx, "missing")
	assert.True(t, errors.Is(err, ErrUserNotFound))
}
