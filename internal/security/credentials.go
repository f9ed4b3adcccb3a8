package security

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewRoomID, NewServiceID and NewClientID mint the opaque identifiers a
// session carries. Rooms must be unique across all orders ever created,
// which UUIDs give without store coordination.
func NewRoomID() string    { return uuid.NewString() }
func NewServiceID() string { return uuid.NewString() }
func NewClientID() string  { return uuid.NewString() }
func NewCookie() string    { return uuid.NewString() }

// P2PCredentials is the short-lived username/password pair passed to both
// endpoints for NAT traversal.
type P2PCredentials struct {
	User  string
	Token string
}

func NewP2PCredentials() (P2PCredentials, error) {
	user, err := randomAlphanumeric(6)
	if err != nil {
		return P2PCredentials{}, err
	}
	token, err := randomAlphanumeric(20)
	if err != nil {
		return P2PCredentials{}, err
	}
	return P2PCredentials{User: user, Token: token}, nil
}

func randomAlphanumeric(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}
