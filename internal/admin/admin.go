// Package admin implements Shoalgate's administrative HTTP surface: a
// parallel JSON API under /admin, independent of the SigV4 auth gate, used
// to manage access keys and buckets, browse and purge objects, mint
// presigned links, and report aggregate stats.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoalgate/shoalgate/internal/auth"
	"github.com/shoalgate/shoalgate/internal/metadata"
	"github.com/shoalgate/shoalgate/internal/storage"
	"github.com/shoalgate/shoalgate/internal/xmlutil"
)

// defaultLoginMaxAttempts and defaultLoginWindow implement the 5
// attempts / 15 minutes / ip rule.
const (
	defaultLoginMaxAttempts = 5
	defaultLoginWindow      = 15 * time.Minute
	defaultSweepInterval    = 5 * time.Minute
	defaultLinkExpiry       = 900
)

// contextKey is a private type for admin request context values.
type contextKey int

const subjectContextKey contextKey = iota

// Handler serves the /admin HTTP tree.
type Handler struct {
	meta        metadata.MetadataStore
	store       storage.StorageBackend
	verifier    *auth.SigV4Verifier
	username    string
	password    string
	tokenSecret string
	publicHost  string
	region      string
	limiter     *loginRateLimiter
}

// New creates an admin Handler wired to the given metadata store, storage
// backend, and presigned-URL signer, authenticated against username/password
// and signing tokens with tokenSecret.
func New(meta metadata.MetadataStore, store storage.StorageBackend, verifier *auth.SigV4Verifier, username, password, tokenSecret, publicHost, region string) *Handler {
	return &Handler{
		meta:        meta,
		store:       store,
		verifier:    verifier,
		username:    username,
		password:    password,
		tokenSecret: tokenSecret,
		publicHost:  publicHost,
		region:      region,
		limiter:     newLoginRateLimiter(defaultLoginMaxAttempts, defaultLoginWindow, defaultSweepInterval),
	}
}

// Routes builds the chi sub-router mounted at /admin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/login", h.login)
	r.Post("/auth/verify", h.verify)

	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)

		r.Get("/keys", h.listKeys)
		r.Post("/keys", h.createKey)
		r.Get("/keys/{id}", h.getKey)
		r.Patch("/keys/{id}", h.patchKey)
		r.Delete("/keys/{id}", h.deleteKey)

		r.Get("/buckets", h.listBuckets)
		r.Post("/buckets", h.createBucket)
		r.Get("/buckets/{bucket}", h.getBucket)
		r.Patch("/buckets/{bucket}", h.patchBucket)
		r.Delete("/buckets/{bucket}", h.deleteBucket)

		r.Get("/buckets/{bucket}/objects", h.listObjects)
		r.Get("/buckets/{bucket}/objects/*", h.getObject)
		r.Delete("/buckets/{bucket}/objects/*", h.deleteObject)

		r.Get("/buckets/{bucket}/link/{key}", h.getLink)

		r.Get("/stats", h.stats)
	})

	return r
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// --- auth ---

// login checks credentials against ADMIN_USERNAME/ADMIN_PASSWORD, rate
// limited per ip, and issues an opaque session token on success.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"))

	if allowed, retryAfter := h.limiter.Allowed(ip); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if body.Username != h.username || body.Password != h.password {
		h.limiter.RecordFailure(ip)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	nonce := make([]byte, 16)
	rand.Read(nonce)
	token, err := issueToken(body.Username, h.tokenSecret, hex.EncodeToString(nonce))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// verify decodes and validates a bearer token (header or JSON body) and
// returns its claims.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		token = body.Token
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	claims, err := verifyToken(token, h.tokenSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

// requireToken is middleware enforcing a valid bearer token on every
// admin endpoint other than login/verify.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := verifyToken(token, h.tokenSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), subjectContextKey, claims.Sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// defaultPrivateACL builds the ACL JSON for a bucket created through the
// admin surface: owner-only FULL_CONTROL, no public grants.
func defaultPrivateACL(ownerID, ownerDisplay string) json.RawMessage {
	acp := &xmlutil.AccessControlPolicy{
		Owner: xmlutil.Owner{ID: ownerID, DisplayName: ownerDisplay},
		AccessControlList: xmlutil.ACL{
			Grants: []xmlutil.Grant{
				{
					Grantee:    xmlutil.Grantee{Type: "CanonicalUser", ID: ownerID, DisplayName: ownerDisplay},
					Permission: "FULL_CONTROL",
				},
			},
		},
	}
	data, _ := json.Marshal(acp)
	return data
}
