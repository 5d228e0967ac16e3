package admin

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestIssueAndVerifyToken(t *testing.T) {
	token, err := issueToken("admin", "s3cr3t", "nonce1")
	if err != nil {
		t.Fatalf("issueToken failed: %v", err)
	}
	if !strings.Contains(token, ".") {
		t.Fatalf("token %q missing payload/signature separator", token)
	}

	claims, err := verifyToken(token, "s3cr3t")
	if err != nil {
		t.Fatalf("verifyToken failed: %v", err)
	}
	if claims.Sub != "admin" {
		t.Errorf("Sub = %q, want %q", claims.Sub, "admin")
	}
	if claims.Nonce != "nonce1" {
		t.Errorf("Nonce = %q, want %q", claims.Nonce, "nonce1")
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	token, err := issueToken("admin", "s3cr3t", "nonce1")
	if err != nil {
		t.Fatalf("issueToken failed: %v", err)
	}
	if _, err := verifyToken(token, "wrong-secret"); err == nil {
		t.Fatal("verifyToken succeeded with the wrong secret, want error")
	}
}

func TestVerifyTokenMalformed(t *testing.T) {
	if _, err := verifyToken("not-a-token", "s3cr3t"); err == nil {
		t.Fatal("verifyToken succeeded on a token with no signature separator, want error")
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	claims := tokenClaims{
		Sub:       "admin",
		IssuedAt:  time.Now().Add(-48 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-24 * time.Hour).Unix(),
		Nonce:     "stale",
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	token := encoded + "." + signPayload(payload, "s3cr3t")

	if _, err := verifyToken(token, "s3cr3t"); err == nil {
		t.Fatal("verifyToken succeeded on an expired token, want error")
	}
}

func TestSignPayloadIsDeterministic(t *testing.T) {
	a := signPayload([]byte("payload"), "secret")
	b := signPayload([]byte("payload"), "secret")
	if a != b {
		t.Errorf("signPayload is not deterministic: %q != %q", a, b)
	}
	c := signPayload([]byte("payload"), "other-secret")
	if a == c {
		t.Error("signPayload produced the same signature for different secrets")
	}
}
