package admin

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoalgate/shoalgate/internal/metadata"
	"github.com/shoalgate/shoalgate/internal/xmlutil"
)

// --- access keys ---

type keyView struct {
	AccessKeyID string    `json:"accessKeyId"`
	SecretKey   string    `json:"secretAccessKey,omitempty"`
	DisplayName string    `json:"displayName"`
	OwnerID     string    `json:"ownerId"`
	Active      bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toKeyView(c *metadata.CredentialRecord, withSecret bool) keyView {
	v := keyView{
		AccessKeyID: c.AccessKeyID,
		DisplayName: c.DisplayName,
		OwnerID:     c.OwnerID,
		Active:      c.Active,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if withSecret {
		v.SecretKey = c.SecretKey
	}
	return v
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := h.meta.ListCredentials(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list access keys")
		return
	}
	views := make([]keyView, 0, len(creds))
	for i := range creds {
		views = append(views, toKeyView(&creds[i], false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"displayName"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	accessKeyID := generateAccessKeyID()
	secretKey := generateSecretKey()
	now := time.Now().UTC()

	cred := &metadata.CredentialRecord{
		AccessKeyID: accessKeyID,
		SecretKey:   secretKey,
		OwnerID:     accessKeyID,
		DisplayName: body.DisplayName,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.meta.PutCredential(r.Context(), cred); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create access key")
		return
	}

	writeJSON(w, http.StatusCreated, toKeyView(cred, true))
}

func (h *Handler) getKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred, err := h.meta.GetCredential(r.Context(), id)
	if err != nil || cred == nil {
		writeError(w, http.StatusNotFound, "access key not found")
		return
	}
	writeJSON(w, http.StatusOK, toKeyView(cred, false))
}

func (h *Handler) patchKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred, err := h.meta.GetCredential(r.Context(), id)
	if err != nil || cred == nil {
		writeError(w, http.StatusNotFound, "access key not found")
		return
	}

	var body struct {
		DisplayName *string `json:"displayName"`
		Active      *bool   `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if body.DisplayName != nil {
		cred.DisplayName = *body.DisplayName
	}
	if body.Active != nil {
		cred.Active = *body.Active
	}
	cred.UpdatedAt = time.Now().UTC()

	if err := h.meta.PutCredential(r.Context(), cred); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update access key")
		return
	}
	writeJSON(w, http.StatusOK, toKeyView(cred, false))
}

// deleteKey removes an access key, reassigning any buckets it owns to
// another active key. If it owns buckets and no other active key exists,
// the deletion is refused with 409.
func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	cred, err := h.meta.GetCredential(ctx, id)
	if err != nil || cred == nil {
		writeError(w, http.StatusNotFound, "access key not found")
		return
	}

	owned, err := h.meta.ListBuckets(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list owned buckets")
		return
	}

	if len(owned) > 0 {
		successor, err := h.findReassignmentCandidate(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to find reassignment candidate")
			return
		}
		if successor == "" {
			writeError(w, http.StatusConflict, "access key owns buckets and no other active key exists to reassign them to")
			return
		}
		for _, b := range owned {
			if err := h.reassignBucketOwner(ctx, b.Name, successor); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to reassign bucket ownership")
				return
			}
		}
	}

	if err := h.meta.DeleteCredential(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete access key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) findReassignmentCandidate(ctx context.Context, excludeID string) (string, error) {
	creds, err := h.meta.ListCredentials(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range creds {
		if c.AccessKeyID != excludeID && c.Active {
			return c.AccessKeyID, nil
		}
	}
	return "", nil
}

// reassignBucketOwner updates the bucket's stored ACL owner identity to
// newOwnerID. Buckets are addressed by name, not owner, so the metadata
// store exposes no separate "owner" field to move -- ownership is carried
// in the ACL's Owner block and its owner FULL_CONTROL grant, which is what
// downstream ownership checks consult.
func (h *Handler) reassignBucketOwner(ctx context.Context, bucketName, newOwnerID string) error {
	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		return err
	}
	if bucket == nil {
		return nil
	}

	var acp xmlutil.AccessControlPolicy
	if len(bucket.ACL) > 0 {
		json.Unmarshal(bucket.ACL, &acp)
	}
	acp.Owner.ID = newOwnerID
	acp.Owner.DisplayName = newOwnerID
	for i := range acp.AccessControlList.Grants {
		g := &acp.AccessControlList.Grants[i]
		if g.Permission == "FULL_CONTROL" && g.Grantee.Type == "CanonicalUser" {
			g.Grantee.ID = newOwnerID
			g.Grantee.DisplayName = newOwnerID
		}
	}
	data, _ := json.Marshal(&acp)
	return h.meta.UpdateBucketAcl(ctx, bucketName, data)
}

// --- buckets ---

type bucketView struct {
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	OwnerID   string    `json:"ownerId"`
	MaxSize   int64     `json:"maxSize"`
	CreatedAt time.Time `json:"createdAt"`
}

func toBucketView(b *metadata.BucketRecord) bucketView {
	return bucketView{
		Name:      b.Name,
		Region:    b.Region,
		OwnerID:   b.OwnerID,
		MaxSize:   b.MaxSize,
		CreatedAt: b.CreatedAt,
	}
}

func (h *Handler) listBuckets(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	buckets, err := h.meta.ListBuckets(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list buckets")
		return
	}
	views := make([]bucketView, 0, len(buckets))
	for i := range buckets {
		views = append(views, toBucketView(&buckets[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) createBucket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		OwnerID string `json:"ownerId"`
		Region  string `json:"region"`
		MaxSize int64  `json:"maxSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Name == "" || body.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "name and ownerId are required")
		return
	}

	region := body.Region
	if region == "" {
		region = h.region
	}

	bucket := &metadata.BucketRecord{
		Name:         body.Name,
		Region:       region,
		OwnerID:      body.OwnerID,
		OwnerDisplay: body.OwnerID,
		ACL:          defaultPrivateACL(body.OwnerID, body.OwnerID),
		MaxSize:      body.MaxSize,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.meta.CreateBucket(r.Context(), bucket); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := h.store.CreateBucket(r.Context(), body.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create bucket storage")
		return
	}

	writeJSON(w, http.StatusCreated, toBucketView(bucket))
}

func (h *Handler) getBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil || bucket == nil {
		writeError(w, http.StatusNotFound, "bucket not found")
		return
	}
	writeJSON(w, http.StatusOK, toBucketView(bucket))
}

func (h *Handler) patchBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil || bucket == nil {
		writeError(w, http.StatusNotFound, "bucket not found")
		return
	}

	var body struct {
		MaxSize *int64 `json:"maxSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.MaxSize == nil {
		writeError(w, http.StatusBadRequest, "maxSize is required")
		return
	}

	if err := h.meta.UpdateBucketMaxSize(r.Context(), name, *body.MaxSize); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update bucket")
		return
	}
	bucket.MaxSize = *body.MaxSize
	writeJSON(w, http.StatusOK, toBucketView(bucket))
}

// deleteBucket purges all objects in the bucket before removing it. This is
// distinct from the S3 DeleteBucket operation, which refuses non-empty
// buckets.
func (h *Handler) deleteBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	ctx := r.Context()

	bucket, err := h.meta.GetBucket(ctx, name)
	if err != nil || bucket == nil {
		writeError(w, http.StatusNotFound, "bucket not found")
		return
	}

	marker := ""
	for {
		result, err := h.meta.ListObjects(ctx, name, metadata.ListObjectsOptions{Marker: marker, MaxKeys: 1000})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to enumerate objects for purge")
			return
		}
		keys := make([]string, 0, len(result.Objects))
		for _, obj := range result.Objects {
			keys = append(keys, obj.Key)
		}
		for _, key := range keys {
			h.store.DeleteObject(ctx, name, key)
		}
		h.meta.DeleteObjectsMeta(ctx, name, keys)

		if !result.IsTruncated {
			break
		}
		marker = result.NextMarker
	}

	if err := h.meta.DeleteBucket(ctx, name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete bucket")
		return
	}
	h.store.DeleteBucket(ctx, name)
	w.WriteHeader(http.StatusNoContent)
}

// --- objects ---

type objectView struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"lastModified"`
}

func (h *Handler) listObjects(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	opts := metadata.ListObjectsOptions{
		Prefix: r.URL.Query().Get("prefix"),
		Marker: r.URL.Query().Get("marker"),
	}
	if mk := r.URL.Query().Get("maxKeys"); mk != "" {
		if n, err := strconv.Atoi(mk); err == nil {
			opts.MaxKeys = n
		}
	}

	result, err := h.meta.ListObjects(r.Context(), bucket, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list objects")
		return
	}

	views := make([]objectView, 0, len(result.Objects))
	for _, obj := range result.Objects {
		views = append(views, objectView{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"objects":     views,
		"isTruncated": result.IsTruncated,
		"nextMarker":  result.NextMarker,
	})
}

func (h *Handler) getObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	obj, err := h.meta.GetObject(r.Context(), bucket, key)
	if err != nil || obj == nil {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	writeJSON(w, http.StatusOK, objectView{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified})
}

func (h *Handler) deleteObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	ctx := r.Context()

	if err := h.store.DeleteObject(ctx, bucket, key); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete object data")
		return
	}
	if err := h.meta.DeleteObject(ctx, bucket, key); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete object metadata")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getLink mints a presigned GET URL for an object, signed with its bucket
// owner's credentials, using C4's presigned URL generator.
func (h *Handler) getLink(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "key")
	ctx := r.Context()

	bucketRec, err := h.meta.GetBucket(ctx, bucket)
	if err != nil || bucketRec == nil {
		writeError(w, http.StatusNotFound, "bucket not found")
		return
	}

	cred, err := h.meta.GetCredential(ctx, bucketRec.OwnerID)
	if err != nil || cred == nil {
		writeError(w, http.StatusInternalServerError, "bucket owner has no active credential")
		return
	}

	expiry := defaultLinkExpiry
	if e := r.URL.Query().Get("expires"); e != "" {
		if n, err := strconv.Atoi(e); err == nil {
			expiry = n
		}
	}

	host := h.publicHost
	if host == "" {
		host = r.Host
	}

	url, err := h.verifier.GeneratePresignedURL(cred, http.MethodGet, host, "/"+bucket+"/"+key, expiry)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// --- stats ---

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, err := h.meta.ListCredentials(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list access keys")
		return
	}

	buckets, err := h.meta.ListBuckets(ctx, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list buckets")
		return
	}

	var objectCount int64
	var totalBytes int64
	for _, b := range buckets {
		marker := ""
		for {
			result, err := h.meta.ListObjects(ctx, b.Name, metadata.ListObjectsOptions{Marker: marker, MaxKeys: 1000})
			if err != nil {
				break
			}
			for _, obj := range result.Objects {
				objectCount++
				totalBytes += obj.Size
			}
			if !result.IsTruncated {
				break
			}
			marker = result.NextMarker
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"buckets":    len(buckets),
		"accessKeys": len(creds),
		"objects":    objectCount,
		"totalBytes": totalBytes,
	})
}

// --- helpers ---

func generateAccessKeyID() string {
	b := make([]byte, 12)
	rand.Read(b)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	return "AK" + strings.ToUpper(enc)[:18]
}

func generateSecretKey() string {
	b := make([]byte, 30)
	rand.Read(b)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}

