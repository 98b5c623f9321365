// Package token parses the subscriber tier tokens minted by the account
// system. This service never issues tokens; it only verifies the HMAC
// signature and reads the tier claim off a connecting client.
package token

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type Claims struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`

	jwtlib.RegisteredClaims
}

type Verifier interface {
	Verify(tokenString string) (Claims, error)
}

type HMACVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), now: time.Now}
}

func (v *HMACVerifier) Verify(tokenString string) (Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return Claims{}, ErrTokenInvalid
	}

	p := jwtlib.NewParser(jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}))

	var c Claims
	tok, err := p.ParseWithClaims(tokenString, &c, func(token *jwtlib.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if tok == nil || !tok.Valid || c.Tier == "" {
		return Claims{}, ErrTokenInvalid
	}

	return c, nil
}
