package docstore

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"smis/internal/cloudinary"
	"smis/internal/student"
)

type fakeUploader struct {
	publicID string
	size     int
}

func (f *fakeUploader) Upload(ctx context.Context, publicID string, data []byte, filename string) (*cloudinary.UploadResult, error) {
	f.publicID = publicID
	f.size = len(data)
	return &cloudinary.UploadResult{PublicID: publicID, SecureURL: "https://cdn.example/" + publicID + ".jpg"}, nil
}

func TestRequiresUser(t *testing.T) {
	b := New(nil, func() string { return "" })
	ctx := context.Background()

	if _, err := b.Push(ctx, student.Record{ID: "s1"}); !errors.Is(err, ErrNoUser) {
		t.Errorf("Push: expected ErrNoUser, got %v", err)
	}
	if _, err := b.PullAll(ctx); !errors.Is(err, ErrNoUser) {
		t.Errorf("PullAll: expected ErrNoUser, got %v", err)
	}
	if err := b.Delete(ctx, "r1"); !errors.Is(err, ErrNoUser) {
		t.Errorf("Delete: expected ErrNoUser, got %v", err)
	}
}

func TestUploadPhoto(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	up := &fakeUploader{}
	b := New(nil, func() string { return "u1" }, WithPhotos(up, 32))
	url, err := b.UploadPhoto(context.Background(), "s1", buf.Bytes())
	if err != nil {
		t.Fatalf("UploadPhoto failed: %v", err)
	}
	if up.publicID != "student_photos/s1" {
		t.Errorf("publicID = %q", up.publicID)
	}
	if url != "https://cdn.example/student_photos/s1.jpg" {
		t.Errorf("url = %q", url)
	}

	if _, err := New(nil, nil).UploadPhoto(context.Background(), "s1", buf.Bytes()); !errors.Is(err, ErrNoPhotoStorage) {
		t.Errorf("expected ErrNoPhotoStorage, got %v", err)
	}
}

// TestRedisRoundTrip needs a live Redis; set SMIS_TEST_REDIS_ADDR to run it.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("SMIS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SMIS_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	prefix := "smis-test-" + uuid.NewString()
	user := "user-1"
	b := New(rdb, func() string { return user }, WithPrefix(prefix))

	rec := student.Record{ID: "s1", Name: "Alice", RegistrationNumber: "R1", Course: "CS", UpdatedAt: 10}
	remoteID, err := b.Push(ctx, rec)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if remoteID == "" {
		t.Fatal("expected generated remote id")
	}

	docs, err := b.PullAll(ctx)
	if err != nil {
		t.Fatalf("PullAll failed: %v", err)
	}
	if len(docs) != 1 || docs[0].RemoteID != remoteID || docs[0].Name != "Alice" || !docs[0].IsSynced {
		t.Fatalf("unexpected documents %+v", docs)
	}

	user = "someone-else"
	other, err := b.PullAll(ctx)
	if err != nil {
		t.Fatalf("PullAll other user failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("documents leaked across users: %+v", other)
	}

	user = "user-1"
	if err := b.Delete(ctx, remoteID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	docs, _ = b.PullAll(ctx)
	if len(docs) != 0 {
		t.Errorf("expected no documents after delete, got %d", len(docs))
	}
}
