package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrSecretNotConfigured = errors.New("JWT_SECRET_KEY not configured")

// AccountTokenClaims identifies the business account a caller acts for.
type AccountTokenClaims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// Authenticator signs and checks account tokens and the admin secret.
type Authenticator struct {
	jwtSecret   []byte
	adminSecret string
	now         func() time.Time
}

func New(jwtSecret string, adminSecret string) *Authenticator {
	return &Authenticator{
		jwtSecret:   []byte(jwtSecret),
		adminSecret: adminSecret,
		now:         time.Now,
	}
}

// GenerateAccountToken issues an HS256 token for accountID. A zero ttl
// produces a token without expiry.
func (a *Authenticator) GenerateAccountToken(accountID string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", ErrSecretNotConfigured
	}

	now := a.now()
	claims := AccountTokenClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateAccountToken verifies the signature and validity window and
// returns the claims.
func (a *Authenticator) ValidateAccountToken(tokenString string) (*AccountTokenClaims, error) {
	if len(a.jwtSecret) == 0 {
		return nil, ErrSecretNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccountTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccountTokenClaims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
