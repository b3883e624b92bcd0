package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"smis/internal/app"
	"smis/internal/auth"
	"smis/internal/config"
	"smis/internal/queue"
	"smis/internal/repository"
)

type fakeSyncer struct {
	mu      sync.Mutex
	calls   []string
	retries []int
}

func (f *fakeSyncer) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeSyncer) SyncAll(ctx context.Context, maxRetries int) repository.Result[bool] {
	f.record("sync")
	f.mu.Lock()
	f.retries = append(f.retries, maxRetries)
	f.mu.Unlock()
	return repository.Success(true)
}

func (f *fakeSyncer) ForceSyncFromAPI(ctx context.Context) repository.Result[bool] {
	f.record("pull-api")
	return repository.Failure[bool]("failed to sync from api", errors.New("offline"))
}

func (f *fakeSyncer) ForceSyncFromCloud(ctx context.Context) repository.Result[bool] {
	f.record("force-cloud")
	return repository.Success(true)
}

func TestRunDispatchesRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &fakeSyncer{}
	requests := make(chan queue.Request, 4)
	requests <- queue.Request{Kind: queue.KindSync, MaxRetries: 7}
	requests <- queue.Request{Kind: queue.KindPullAPI}
	requests <- queue.Request{Kind: queue.KindForceCloud}
	requests <- queue.Request{Kind: "bogus"}
	close(requests)

	done := make(chan struct{})
	go func() {
		run(context.Background(), repo, requests, 0, 3, logger)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the queue closed")
	}

	want := []string{"sync", "pull-api", "force-cloud"}
	if len(repo.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", repo.calls, want)
	}
	for i := range want {
		if repo.calls[i] != want[i] {
			t.Errorf("calls = %v, want %v", repo.calls, want)
		}
	}
	if repo.retries[0] != 7 {
		t.Errorf("request retries not honoured: %v", repo.retries)
	}
}

func TestRunPeriodicSync(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &fakeSyncer{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		run(ctx, repo, nil, 5*time.Millisecond, 2, logger)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		repo.mu.Lock()
		n := len(repo.calls)
		repo.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("periodic sync did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
	if repo.retries[0] != 2 {
		t.Errorf("periodic sync retries = %d, want 2", repo.retries[0])
	}
}

// A worker started before `smis login` must send the token saved afterwards.
func TestWorkerPicksUpLaterLogin(t *testing.T) {
	var (
		mu      sync.Mutex
		gotAuth []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/students" {
			mu.Lock()
			gotAuth = append(gotAuth, r.Header.Get("Authorization"))
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := config.App{
		LocalDriver:  "sqlite3",
		LocalDSN:     filepath.Join(dir, "students.db"),
		SessionPath:  filepath.Join(dir, "session.json"),
		APIBaseURL:   srv.URL,
		QueueBackend: "memory",
		SyncRetries:  1,
		SyncBackoff:  time.Millisecond,
		APITimeout:   time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger, app.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer a.Close()

	handle(ctx, a.Repo, queue.Request{Kind: queue.KindPullAPI}, 1, logger)
	if err := auth.SaveSession(cfg.SessionPath, auth.Session{UserID: "u1", AccessToken: "fresh", LoginAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	handle(ctx, a.Repo, queue.Request{Kind: queue.KindPullAPI}, 1, logger)

	mu.Lock()
	defer mu.Unlock()
	if len(gotAuth) != 2 || gotAuth[0] != "" || gotAuth[1] != "Bearer fresh" {
		t.Errorf("Authorization headers = %q", gotAuth)
	}
}
