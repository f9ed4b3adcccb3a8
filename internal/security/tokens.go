package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the payload of the per-session auth token handed to both
// endpoints of a brokered session. The signaling layer verifies it before
// letting a client join the room.
type SessionClaims struct {
	TokenType    string `json:"token_type"`
	RoomID       string `json:"room_id"`
	FromDeviceID int64  `json:"from_device_id"`
	ToDeviceID   int64  `json:"to_device_id"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(issuer, secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{issuer: issuer, secret: []byte(secret), ttl: ttl}
}

func (i *TokenIssuer) SignSessionToken(roomID string, fromDeviceID, toDeviceID int64) (string, error) {
	claims := SessionClaims{
		TokenType:    "session",
		RoomID:       roomID,
		FromDeviceID: fromDeviceID,
		ToDeviceID:   toDeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   roomID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *TokenIssuer) ParseSessionToken(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid session token")
	}
	if claims.TokenType != "session" {
		return nil, errors.New("not a session token")
	}
	return claims, nil
}
