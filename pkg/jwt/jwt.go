// Package jwt 提供 JWT Token 的生成和验证功能
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 定义错误类型
var (
	ErrInvalidToken = errors.New("invalid token")     // Token 无效
	ErrExpiredToken = errors.New("token has expired") // Token 已过期
)

const (
	issuer         = "chatmate"
	subjectAccess  = "access"
	subjectRefresh = "refresh"
)

// UserClaims 用户 JWT 的声明（Payload）
// 携带身份提供方给出的 {id, email, name}
type UserClaims struct {
	UserID string `json:"user_id"` // 用户 ID
	Email  string `json:"email"`   // 邮箱
	Name   string `json:"name"`    // 显示名称
	jwt.RegisteredClaims
}

// JWTService 提供 JWT 相关操作
type JWTService struct {
	secret        []byte        // JWT 签名密钥
	accessExpire  time.Duration // Access Token 过期时间
	refreshExpire time.Duration // Refresh Token 过期时间
}

// NewJWTService 创建 JWTService 实例
// 参数:
//   - secret: JWT 签名密钥，至少 32 个字符
//   - accessExpire: Access Token 过期时间
//   - refreshExpire: Refresh Token 过期时间
func NewJWTService(secret string, accessExpire, refreshExpire time.Duration) *JWTService {
	return &JWTService{
		secret:        []byte(secret),
		accessExpire:  accessExpire,
		refreshExpire: refreshExpire,
	}
}

// GenerateAccessToken 生成 Access Token
// 用于 REST 请求和 WebSocket 握手的认证
func (s *JWTService) GenerateAccessToken(userID, email, name string) (string, error) {
	return s.generate(userID, email, name, subjectAccess, s.accessExpire)
}

// GenerateRefreshToken 生成 Refresh Token
// 用于刷新 Access Token
func (s *JWTService) GenerateRefreshToken(userID, email, name string) (string, error) {
	return s.generate(userID, email, name, subjectRefresh, s.refreshExpire)
}

func (s *JWTService) generate(userID, email, name, subject string, expire time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		Email:  email,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			// Subject 区分 Token 类型
			Subject: subject,
		},
	}

	// jwt.SigningMethodHS256: 使用 HMAC SHA256 算法签名
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken 验证 Token 的签名和有效期
// 参数:
//   - tokenString: JWT Token 字符串
//
// 返回:
//   - *UserClaims: Token 中的声明信息
//   - error: 验证错误（无效或已过期）
func (s *JWTService) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 确保使用的是我们期望的算法（HMAC）
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ValidateAccessToken 验证 Access Token
// Refresh Token 不能用于访问接口
func (s *JWTService) ValidateAccessToken(tokenString string) (*UserClaims, error) {
	return s.validateSubject(tokenString, subjectAccess)
}

// ValidateRefreshToken 验证 Refresh Token
func (s *JWTService) ValidateRefreshToken(tokenString string) (*UserClaims, error) {
	return s.validateSubject(tokenString, subjectRefresh)
}

func (s *JWTService) validateSubject(tokenString, subject string) (*UserClaims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != subject {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GetAccessExpire 获取 Access Token 过期时间
func (s *JWTService) GetAccessExpire() time.Duration {
	return s.accessExpire
}
