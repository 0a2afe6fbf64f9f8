package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clearhaul/realtime/internal/model"
	"github.com/clearhaul/realtime/internal/realtime"
)

// Claims is the credential body issued by the auth service.
type Claims struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-signed credentials from the auth service. The
// realtime layer treats the credential as opaque; this is the only place
// that knows it is a JWT.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(credential string) (model.Identity, error) {
	if credential == "" {
		return model.Identity{}, fmt.Errorf("%w: missing credential", realtime.ErrAuth)
	}
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", realtime.ErrAuth, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return model.Identity{}, fmt.Errorf("%w: invalid token", realtime.ErrAuth)
	}
	if claims.UserID == "" {
		return model.Identity{}, fmt.Errorf("%w: token carries no user", realtime.ErrAuth)
	}
	return model.Identity{
		UserID:      claims.UserID,
		Role:        model.Role(claims.Role),
		DisplayName: claims.DisplayName,
	}, nil
}
