package pairing

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	zcrypto "github.com/zincnote/zincsync/internal/crypto"
	"github.com/zincnote/zincsync/internal/zerrors"
)

// tokenLifetime bounds how long a pairing-session token is valid: long
// enough for a human to read a code off one screen and type it into
// another, short enough that a captured QR photo is useless shortly after.
const tokenLifetime = 2 * time.Minute

// Claims carries the device/workspace identity a pairing-session token
// asserts, bound to the session via the Argon2id-derived signing key so a
// token is only valid to whoever also knows the verification code.
type Claims struct {
	DeviceID    string `json:"device_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateSessionToken signs a pairing-session token for deviceID/
// workspaceID, keyed from code+salt via Argon2id rather than a long-term
// secret, since the pairing secret itself is the only shared material
// both devices have at this point.
func GenerateSessionToken(code string, salt []byte, deviceID, workspaceID string) (string, error) {
	key := zcrypto.DeriveKeyArgon2id(code, salt)
	claims := Claims{
		DeviceID:    deviceID,
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key[:])
	if err != nil {
		return "", zerrors.Wrap(zerrors.CryptoError, "sign pairing session token", err)
	}
	return signed, nil
}

// VerifySessionToken validates a pairing-session token against the same
// code+salt the other side used to sign it.
func VerifySessionToken(tokenString, code string, salt []byte) (*Claims, error) {
	key := zcrypto.DeriveKeyArgon2id(code, salt)
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key[:], nil
	})
	if err != nil {
		return nil, zerrors.Wrap(zerrors.PolicyReject, "parse pairing session token", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, zerrors.New(zerrors.PolicyReject, "invalid pairing session token")
	}
	return claims, nil
}
