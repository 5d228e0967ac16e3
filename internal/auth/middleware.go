package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	s3err "github.com/shoalgate/shoalgate/internal/errors"
	"github.com/shoalgate/shoalgate/internal/metadata"
	"github.com/shoalgate/shoalgate/internal/xmlutil"
)

// allUsersGroupURI is the well-known grantee URI S3 uses for anonymous access.
const allUsersGroupURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// skipPaths is the set of paths that do not require authentication.
var skipPaths = map[string]bool{
	"/health":       true,
	"/healthz":      true,
	"/readyz":       true,
	"/metrics":      true,
	"/docs":         true,
	"/docs/":        true,
	"/openapi":      true,
	"/openapi.json": true,
}

// isPublicRead reports whether the bucket's stored ACL grants the AllUsers
// group READ (or FULL_CONTROL) access, i.e. a public-read or
// public-read-write canned ACL.
func isPublicRead(acl json.RawMessage) bool {
	if len(acl) == 0 {
		return false
	}
	var parsed xmlutil.AccessControlPolicy
	if err := json.Unmarshal(acl, &parsed); err != nil {
		return false
	}
	for _, grant := range parsed.AccessControlList.Grants {
		if grant.Grantee.Type != "Group" || grant.Grantee.URI != allUsersGroupURI {
			continue
		}
		if grant.Permission == "READ" || grant.Permission == "FULL_CONTROL" {
			return true
		}
	}
	return false
}

// Middleware returns HTTP middleware that enforces AWS request authentication
// (V2 presigned, V4 presigned, V4 header) on all requests except those to
// excluded paths, with an anonymous-read bypass for public-read buckets.
// On success, the authenticated (or anonymous) principal is set on the
// request context.
func Middleware(verifier *SigV4Verifier, v2 *V2Verifier, meta metadata.MetadataStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if skipPaths[path] || strings.HasPrefix(path, "/docs") || strings.HasPrefix(path, "/admin") {
				next.ServeHTTP(w, r)
				return
			}

			q := r.URL.Query()

			switch {
			case q.Get("AWSAccessKeyId") != "":
				cred, err := v2.VerifyPresigned(r)
				if err != nil {
					writeAuthError(w, r, err)
					return
				}
				r = r.WithContext(contextWithOwner(r.Context(), cred.OwnerID, cred.DisplayName))

			case q.Get("X-Amz-Algorithm") != "":
				cred, err := verifier.VerifyPresigned(r)
				if err != nil {
					writeAuthError(w, r, err)
					return
				}
				r = r.WithContext(contextWithOwner(r.Context(), cred.OwnerID, cred.DisplayName))

			case r.Header.Get("Authorization") != "":
				cred, err := verifier.VerifyRequest(r)
				if err != nil {
					writeAuthError(w, r, err)
					return
				}
				r = r.WithContext(contextWithOwner(r.Context(), cred.OwnerID, cred.DisplayName))

			case r.Method == http.MethodGet || r.Method == http.MethodHead:
				if !anonymousReadAllowed(r, meta) {
					xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingSecurityHeader)
					return
				}
				// Anonymous principal: no owner identity attached.

			default:
				xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingSecurityHeader)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// anonymousReadAllowed reports whether the request's target bucket (the
// first path segment) grants public-read access.
func anonymousReadAllowed(r *http.Request, meta metadata.MetadataStore) bool {
	segments := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(segments) == 0 || segments[0] == "" {
		return false
	}

	bucket, err := meta.GetBucket(r.Context(), segments[0])
	if err != nil || bucket == nil {
		return false
	}
	return isPublicRead(bucket.ACL)
}

// writeAuthError maps an AuthError to the appropriate S3 error XML response.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	authErr, ok := err.(*AuthError)
	if !ok {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	switch authErr.Code {
	case "InvalidAccessKeyId":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidAccessKeyId)
	case "SignatureDoesNotMatch":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrSignatureDoesNotMatch)
	case "RequestTimeTooSkewed":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrRequestTimeTooSkewed)
	case "AccessDenied":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied)
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied)
	}
}
