package admin

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// tokenTTL is the lifetime of an issued admin session token.
const tokenTTL = 24 * time.Hour

// tokenClaims is the JSON payload signed into an opaque admin token.
type tokenClaims struct {
	Sub       string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"nonce"`
}

// issueToken builds an opaque token for subject sub: base64url(payload) +
// "." + hex(SHA-256(payload + secret)). Despite the JWT_SECRET env var
// name, this is not a JWT — there is no header, and the algorithm is fixed.
func issueToken(sub, secret string, nonce string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Sub:       sub,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenTTL).Unix(),
		Nonce:     nonce,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling token claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := signPayload(payload, secret)
	return encoded + "." + sig, nil
}

// verifyToken validates token's signature and expiry, returning the decoded
// claims on success.
func verifyToken(token, secret string) (*tokenClaims, error) {
	dot := -1
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return nil, fmt.Errorf("malformed token")
	}

	encoded, sig := token[:dot], token[dot+1:]
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed token payload: %w", err)
	}

	expected := signPayload(payload, secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return nil, fmt.Errorf("invalid token signature")
	}

	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("malformed token claims: %w", err)
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("token expired")
	}
	return &claims, nil
}

// signPayload computes hex(SHA-256(payload + secret)).
func signPayload(payload []byte, secret string) string {
	data := make([]byte, 0, len(payload)+len(secret))
	data = append(data, payload...)
	data = append(data, secret...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
