package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatmate-server/internal/model"
	"chatmate-server/internal/repository"
	"chatmate-server/pkg/jwt"
	"chatmate-server/pkg/util"
)

// 认证相关错误
var (
	ErrEmailExists   = errors.New("邮箱已被注册")
	ErrUserNotFound  = errors.New("用户不存在")
	ErrPasswordWrong = errors.New("密码错误")
	ErrTokenRevoked  = errors.New("Token 已失效")
)

// UserStore 用户持久化能力
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateProfile(ctx context.Context, id string, upd repository.ProfileUpdate) error
}

// TokenBlacklist 已登出 Token 的黑名单
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// AuthService 认证服务
// 处理注册、登录、刷新和登出，产出的身份信息交给会话组件使用
type AuthService struct {
	users      UserStore
	blacklist  TokenBlacklist
	jwtService *jwt.JWTService
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(users UserStore, blacklist TokenBlacklist, jwtService *jwt.JWTService) *AuthService {
	return &AuthService{
		users:      users,
		blacklist:  blacklist,
		jwtService: jwtService,
	}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`    // 邮箱，作为登录名
	Password string `json:"password" binding:"required,min=6"` // 密码
	Name     string `json:"name" binding:"omitempty,max=100"`  // 显示名称（可选）
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse 登录 / 注册成功后返回的 Token
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`  // 访问令牌
	RefreshToken string          `json:"refresh_token"` // 刷新令牌
	ExpiresIn    int64           `json:"expires_in"`    // 过期时间（秒）
	User         *model.User     `json:"user"`          // 用户信息
	Identity     *model.Identity `json:"identity"`      // 会话组件使用的身份信息
}

// Register 注册并直接登录
// 参数:
//   - ctx: 上下文
//   - req: 注册请求
//
// 返回:
//   - *TokenResponse: Token 和用户信息
//   - error: 邮箱已存在等
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*TokenResponse, error) {
	email := normalizeEmail(req.Email)

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	// bcrypt 自带盐值
	passwordHash, err := util.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           util.GenerateUUID(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: passwordHash,
		LastLoginAt:  &now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, err
	}

	return s.issue(user)
}

// Login 邮箱密码登录
// 返回:
//   - *TokenResponse: Token 和用户信息
//   - error: 用户不存在 / 密码错误
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !util.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrPasswordWrong
	}

	now := time.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	return s.issue(user)
}

// Logout 将 Token 加入黑名单，有效期与 Token 剩余时间相同
func (s *AuthService) Logout(ctx context.Context, tokenHash string, expireAt time.Time) error {
	return s.blacklist.BlacklistToken(ctx, tokenHash, expireAt)
}

// RefreshTokenResponse 刷新 Token 响应
type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"` // 新的访问令牌
	ExpiresIn   int64  `json:"expires_in"`   // 过期时间（秒）
}

// RefreshToken 用 Refresh Token 换取新的 Access Token
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*RefreshTokenResponse, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if s.blacklist.IsTokenBlacklisted(ctx, util.HashToken(refreshToken)) {
		return nil, ErrTokenRevoked
	}

	// 用户可能已被删除，名称可能已修改
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, err
	}

	return &RefreshTokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtService.GetAccessExpire().Seconds()),
	}, nil
}

// IsRevoked Token 是否已登出
func (s *AuthService) IsRevoked(ctx context.Context, token string) bool {
	return s.blacklist.IsTokenBlacklisted(ctx, util.HashToken(token))
}

func (s *AuthService) issue(user *model.User) (*TokenResponse, error) {
	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtService.GenerateRefreshToken(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtService.GetAccessExpire().Seconds()),
		User:         user,
		Identity:     model.NewIdentity(user.ID, user.Email, user.Name),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
