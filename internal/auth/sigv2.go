package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shoalgate/shoalgate/internal/metadata"
)

// subresourceParams is the set of query parameters that participate in the
// V2 CanonicalizedResource when present, sorted lexicographically into the
// signed string.
var subresourceParams = map[string]bool{
	"acl": true, "lifecycle": true, "location": true, "logging": true,
	"notification": true, "partNumber": true, "policy": true,
	"requestPayment": true, "torrent": true, "uploadId": true,
	"uploads": true, "versionId": true, "versioning": true, "versions": true,
	"website": true, "delete": true, "cors": true, "tagging": true,
	"restore": true, "replication": true,
}

// V2Verifier verifies AWS Signature Version 2 presigned URLs.
type V2Verifier struct {
	Meta metadata.MetadataStore
}

// NewV2Verifier creates a new V2Verifier with the given metadata store.
func NewV2Verifier(meta metadata.MetadataStore) *V2Verifier {
	return &V2Verifier{Meta: meta}
}

// VerifyPresigned validates a V2 presigned URL (AWSAccessKeyId/Signature/Expires
// query parameters). Returns the credential record on success.
func (v *V2Verifier) VerifyPresigned(r *http.Request) (*metadata.CredentialRecord, error) {
	q := r.URL.Query()

	accessKeyID := q.Get("AWSAccessKeyId")
	if accessKeyID == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing AWSAccessKeyId"}
	}

	signature := q.Get("Signature")
	if signature == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing Signature"}
	}

	expiresStr := q.Get("Expires")
	if expiresStr == "" {
		return nil, &AuthError{Code: "AccessDenied", Message: "Missing Expires"}
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return nil, &AuthError{Code: "AccessDenied", Message: "Invalid Expires value"}
	}
	if time.Now().Unix() > expires {
		return nil, &AuthError{Code: "AccessDenied", Message: "Request has expired"}
	}

	cred, err := v.Meta.GetCredential(r.Context(), accessKeyID)
	if err != nil {
		return nil, &AuthError{Code: "InternalError", Message: "Failed to look up credentials"}
	}
	if cred == nil || !cred.Active {
		return nil, &AuthError{Code: "InvalidAccessKeyId", Message: "The AWS Access Key Id you provided does not exist in our records"}
	}

	stringToSign := buildV2StringToSign(r, expiresStr)
	expectedSignature := signV2(cred.SecretKey, stringToSign)

	if subtle.ConstantTimeCompare([]byte(expectedSignature), []byte(signature)) != 1 {
		return nil, &AuthError{Code: "SignatureDoesNotMatch", Message: "The request signature we calculated does not match the signature you provided"}
	}

	return cred, nil
}

// buildV2StringToSign builds the V2 string-to-sign:
// METHOD\nContent-MD5\nContent-Type\nExpires\nCanonicalizedAmzHeaders + CanonicalizedResource
func buildV2StringToSign(r *http.Request, expires string) string {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte('\n')
	sb.WriteString(r.Header.Get("Content-MD5"))
	sb.WriteByte('\n')
	sb.WriteString(r.Header.Get("Content-Type"))
	sb.WriteByte('\n')
	sb.WriteString(expires)
	sb.WriteByte('\n')
	sb.WriteString(canonicalizedAmzHeaders(r))
	sb.WriteString(canonicalizedResource(r))
	return sb.String()
}

// canonicalizedAmzHeaders returns the lowercased, sorted x-amz-* headers as
// "name:value\n" lines.
func canonicalizedAmzHeaders(r *http.Request) string {
	var names []string
	lowered := make(map[string][]string)
	for name := range r.Header {
		lname := strings.ToLower(name)
		if strings.HasPrefix(lname, "x-amz-") {
			names = append(names, lname)
			lowered[lname] = r.Header.Values(name)
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		joined := strings.Join(lowered[name], ",")
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(joined)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// canonicalizedResource returns the decoded path, plus every recognized
// sub-resource query parameter, sorted and joined by "&".
func canonicalizedResource(r *http.Request) string {
	resource := r.URL.Path

	var params []string
	for key, vals := range r.URL.Query() {
		if !subresourceParams[key] {
			continue
		}
		if len(vals) == 0 || vals[0] == "" {
			params = append(params, key)
			continue
		}
		params = append(params, fmt.Sprintf("%s=%s", key, vals[0]))
	}
	sort.Strings(params)

	if len(params) > 0 {
		resource += "?" + strings.Join(params, "&")
	}
	return resource
}

// signV2 computes base64(HMAC-SHA1(secret, stringToSign)).
func signV2(secret, stringToSign string) string {
	h := hmac.New(sha1.New, []byte(secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
