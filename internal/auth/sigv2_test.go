package auth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// signV2URL builds a V2 presigned GET request for path, signed with the
// given credentials, expiring at expires (unix seconds).
func signV2URL(t *testing.T, method, path, accessKey, secretKey string, expires int64) *http.Request {
	t.Helper()
	expiresStr := strconv.FormatInt(expires, 10)

	req := httptest.NewRequest(method, path, nil)
	stringToSign := buildV2StringToSign(req, expiresStr)
	sig := signV2(secretKey, stringToSign)

	q := req.URL.Query()
	q.Set("AWSAccessKeyId", accessKey)
	q.Set("Expires", expiresStr)
	q.Set("Signature", sig)
	req.URL.RawQuery = q.Encode()
	return req
}

func TestV2VerifyPresignedValid(t *testing.T) {
	store := newTestStore(t)
	seedTestCredential(t, store, "AKIATEST", "secret123")

	verifier := NewV2Verifier(store)
	expires := time.Now().Add(time.Hour).Unix()
	req := signV2URL(t, http.MethodGet, "/my-bucket/my-key", "AKIATEST", "secret123", expires)

	cred, err := verifier.VerifyPresigned(req)
	if err != nil {
		t.Fatalf("VerifyPresigned failed: %v", err)
	}
	if cred.AccessKeyID != "AKIATEST" {
		t.Errorf("AccessKeyID = %q, want %q", cred.AccessKeyID, "AKIATEST")
	}
}

func TestV2VerifyPresignedExpired(t *testing.T) {
	store := newTestStore(t)
	seedTestCredential(t, store, "AKIATEST", "secret123")

	verifier := NewV2Verifier(store)
	expires := time.Now().Add(-time.Hour).Unix()
	req := signV2URL(t, http.MethodGet, "/my-bucket/my-key", "AKIATEST", "secret123", expires)

	if _, err := verifier.VerifyPresigned(req); err == nil {
		t.Fatal("VerifyPresigned succeeded on an expired URL, want error")
	}
}

func TestV2VerifyPresignedBadSignature(t *testing.T) {
	store := newTestStore(t)
	seedTestCredential(t, store, "AKIATEST", "secret123")

	verifier := NewV2Verifier(store)
	expires := time.Now().Add(time.Hour).Unix()
	req := signV2URL(t, http.MethodGet, "/my-bucket/my-key", "AKIATEST", "secret123", expires)

	q := req.URL.Query()
	q.Set("Signature", "bogus")
	req.URL.RawQuery = q.Encode()

	if _, err := verifier.VerifyPresigned(req); err == nil {
		t.Fatal("VerifyPresigned succeeded with a tampered signature, want error")
	}
}

func TestV2VerifyPresignedUnknownKey(t *testing.T) {
	store := newTestStore(t)

	verifier := NewV2Verifier(store)
	expires := time.Now().Add(time.Hour).Unix()
	req := signV2URL(t, http.MethodGet, "/my-bucket/my-key", "AKIAUNKNOWN", "whatever", expires)

	if _, err := verifier.VerifyPresigned(req); err == nil {
		t.Fatal("VerifyPresigned succeeded for an unknown access key, want error")
	}
}

func TestV2VerifyPresignedMissingParams(t *testing.T) {
	store := newTestStore(t)
	verifier := NewV2Verifier(store)

	req := httptest.NewRequest(http.MethodGet, "/my-bucket/my-key", nil)
	if _, err := verifier.VerifyPresigned(req); err == nil {
		t.Fatal("VerifyPresigned succeeded with no query parameters at all, want error")
	}
}

func TestCanonicalizedResourceIncludesSubresource(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/my-bucket?acl", nil)
	got := canonicalizedResource(req)
	want := "/my-bucket?acl"
	if got != want {
		t.Errorf("canonicalizedResource = %q, want %q", got, want)
	}
}

func TestCanonicalizedResourceIgnoresNonSubresourceParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/my-bucket?prefix=foo&acl", nil)
	got := canonicalizedResource(req)
	want := "/my-bucket?acl"
	if got != want {
		t.Errorf("canonicalizedResource = %q, want %q", got, want)
	}
}
