package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 是签发给用户的 JWT 载荷。Subject 为用户 ID。
type Claims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"isAdmin"`
}

// IssueToken 为用户签发 HS256 令牌。
//
// 参数:
//
//	secret: 签名密钥
//	userID: 用户 ID
//	isAdmin: 是否为管理员（仅作提示，鉴权时以数据库为准）
//	ttl: 有效期
//
// 返回值:
//
//	string: 签名后的令牌
//	error: 签名失败返回错误
func IssueToken(secret []byte, userID uint, isAdmin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		IsAdmin: isAdmin,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken 校验令牌并返回用户 ID。
//
// 过期令牌返回的错误满足 errors.Is(err, jwt.ErrTokenExpired)。
func ParseToken(secret []byte, tokenStr string) (uint, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return 0, errors.New("invalid token subject")
	}
	return uint(uid), nil
}
