// Package docstore is the document-store backend: one JSON document per student
// in Redis, indexed per user, with photo blobs kept in Cloudinary.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"smis/internal/cloudinary"
	"smis/internal/photo"
	"smis/internal/student"
)

var (
	// ErrNoUser is returned when no user is signed in; documents are always user scoped.
	ErrNoUser = errors.New("docstore: no signed-in user")
	// ErrNoPhotoStorage is returned by UploadPhoto when blob storage is not configured.
	ErrNoPhotoStorage = errors.New("docstore: photo storage not configured")
)

// Uploader stores an image under a public id and reports where it lives.
type Uploader interface {
	Upload(ctx context.Context, publicID string, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// Backend implements the document-store side of the sync repository.
type Backend struct {
	rdb     *redis.Client
	user    func() string
	photos  Uploader
	maxSide int
	prefix  string
}

// Option configures a Backend.
type Option func(*Backend)

// WithPhotos enables photo upload through u; maxSide bounds the stored image.
func WithPhotos(u Uploader, maxSide int) Option {
	return func(b *Backend) {
		b.photos = u
		b.maxSide = maxSide
	}
}

// WithPrefix namespaces all keys, mainly for tests sharing one Redis.
func WithPrefix(prefix string) Option {
	return func(b *Backend) { b.prefix = prefix }
}

// New creates a backend. user returns the current user id and is consulted on every call.
func New(rdb *redis.Client, user func() string, opts ...Option) *Backend {
	b := &Backend{rdb: rdb, user: user, prefix: "smis"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type document struct {
	student.Record
	UserID string `json:"userId"`
}

func (b *Backend) docKey(remoteID string) string { return b.prefix + ":doc:" + remoteID }

func (b *Backend) userKey(userID string) string { return b.prefix + ":user:" + userID + ":docs" }

func (b *Backend) currentUser() (string, error) {
	if b.user == nil {
		return "", ErrNoUser
	}
	u := b.user()
	if u == "" {
		return "", ErrNoUser
	}
	return u, nil
}

// Push writes the record's document, keyed by its remote id. A record without a
// remote id gets a freshly generated one, which is returned.
func (b *Backend) Push(ctx context.Context, rec student.Record) (string, error) {
	userID, err := b.currentUser()
	if err != nil {
		return "", err
	}
	remoteID := rec.RemoteID
	if remoteID == "" {
		remoteID = uuid.NewString()
	}
	rec.RemoteID = remoteID
	rec.IsSynced = true

	payload, err := json.Marshal(document{Record: rec, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("docstore: encode %s: %w", rec.ID, err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, b.docKey(remoteID), payload, 0)
		p.SAdd(ctx, b.userKey(userID), remoteID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("docstore: set %s: %w", remoteID, err)
	}
	return remoteID, nil
}

// PullAll returns every document owned by the current user.
func (b *Backend) PullAll(ctx context.Context) ([]student.Record, error) {
	userID, err := b.currentUser()
	if err != nil {
		return nil, err
	}
	ids, err := b.rdb.SMembers(ctx, b.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return []student.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.docKey(id)
	}
	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("docstore: get documents: %w", err)
	}

	out := make([]student.Record, 0, len(vals))
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var doc document
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("docstore: decode %s: %w", ids[i], err)
		}
		doc.Record.RemoteID = ids[i]
		doc.Record.IsSynced = true
		out = append(out, doc.Record)
	}
	if len(stale) > 0 {
		// Index entries whose document is gone.
		_ = b.rdb.SRem(ctx, b.userKey(userID), stale...).Err()
	}
	return out, nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (b *Backend) Delete(ctx context.Context, remoteID string) error {
	userID, err := b.currentUser()
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.docKey(remoteID))
		p.SRem(ctx, b.userKey(userID), remoteID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("docstore: delete %s: %w", remoteID, err)
	}
	return nil
}

// UploadPhoto normalises the image and stores it as student_photos/<studentID>.
func (b *Backend) UploadPhoto(ctx context.Context, studentID string, data []byte) (string, error) {
	if b.photos == nil {
		return "", ErrNoPhotoStorage
	}
	jpeg, err := photo.Normalize(data, b.maxSide)
	if err != nil {
		return "", err
	}
	res, err := b.photos.Upload(ctx, "student_photos/"+studentID, jpeg, studentID+".jpg")
	if err != nil {
		return "", err
	}
	if res.SecureURL != "" {
		return res.SecureURL, nil
	}
	return res.URL, nil
}
