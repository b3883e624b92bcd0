// Package app wires the device-side components from configuration. The CLI and
// the worker share it so both see the same store, backends and session.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smis/internal/auth"
	"smis/internal/cloudinary"
	"smis/internal/config"
	"smis/internal/docstore"
	"smis/internal/metrics"
	"smis/internal/netcheck"
	"smis/internal/queue"
	"smis/internal/repository"
	"smis/internal/restapi"
	"smis/internal/store"
)

// Options adjusts wiring beyond what config carries.
type Options struct {
	// Offline disables every remote call.
	Offline bool
	// Registerer receives the metrics collectors; nil skips metrics.
	Registerer prometheus.Registerer
}

// App holds the wired components. Optional ones are nil when not configured.
type App struct {
	Config   config.App
	Logger   *slog.Logger
	DB       *store.DB
	Students *store.Students
	Redis    *store.Redis
	REST     *restapi.Client
	Docs     *docstore.Backend
	Queue    queue.Queue
	Metrics  *metrics.Metrics
	Repo     *repository.Repository

	mu          sync.RWMutex
	session     *auth.Session
	sessionFile os.FileInfo
}

// Open connects the local store and builds the repository over whichever
// remote backends cfg enables.
func Open(ctx context.Context, cfg config.App, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := store.Open(ctx, cfg.LocalDriver, cfg.LocalDSN)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Students: store.NewStudents(db),
		Redis:    store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
	}
	a.reloadSession()
	if opts.Registerer != nil {
		a.Metrics = metrics.New(opts.Registerer)
	}

	repoOpts := []repository.Option{
		repository.WithLogger(logger),
		repository.WithMetrics(a.Metrics),
		repository.WithBackoff(cfg.SyncBackoff),
		repository.WithPullTimeout(cfg.APITimeout),
	}
	if cfg.APIBaseURL != "" {
		a.REST = restapi.New(cfg.APIBaseURL, cfg.APITimeout, a.token)
		repoOpts = append(repoOpts, repository.WithREST(a.REST))
	}
	if a.Redis != nil {
		var docOpts []docstore.Option
		if cfg.CloudinaryURL != "" {
			cdn, err := cloudinary.FromURL(cfg.CloudinaryURL, cfg.CloudinaryFolder)
			if err != nil {
				a.Close()
				return nil, err
			}
			docOpts = append(docOpts, docstore.WithPhotos(cdn, cfg.PhotoMaxSide))
		}
		a.Docs = docstore.New(a.Redis.Client, a.userID, docOpts...)
		repoOpts = append(repoOpts, repository.WithDocuments(a.Docs))
	}
	repoOpts = append(repoOpts, repository.WithConnectivity(a.connectivity(opts.Offline)))
	a.Repo = repository.New(a.Students, repoOpts...)

	switch {
	case cfg.QueueBackend == "memory":
		a.Queue = queue.NewInMemory(64)
	case a.Redis != nil:
		a.Queue = queue.NewRedisQueue(a.Redis.Client, cfg.QueueKey, logger)
	}
	return a, nil
}

func (a *App) connectivity(offline bool) repository.Connectivity {
	switch {
	case offline || a.Config.Offline:
		return netcheck.Static(false)
	case a.REST != nil:
		return netcheck.NewProber(a.REST.Health, a.Config.NetCheckTTL, 3*time.Second)
	case a.Redis != nil:
		return netcheck.NewProber(func(ctx context.Context) error {
			return a.Redis.Client.Ping(ctx).Err()
		}, a.Config.NetCheckTTL, 3*time.Second)
	default:
		return netcheck.Static(true)
	}
}

// Session returns the current login, or nil. The session file is read again
// whenever another process has logged in or out since it was last seen.
func (a *App) Session() *auth.Session {
	a.reloadSession()
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.session.Valid(time.Now()) {
		return nil
	}
	return a.session
}

// SetSession replaces the current login; nil logs out. The session file as it
// is now counts as seen.
func (a *App) SetSession(s *auth.Session) {
	fi := a.statSession()
	a.mu.Lock()
	a.session, a.sessionFile = s, fi
	a.mu.Unlock()
}

func (a *App) reloadSession() {
	fi := a.statSession()
	a.mu.RLock()
	same := sameFile(a.sessionFile, fi)
	a.mu.RUnlock()
	if same {
		return
	}
	s, err := auth.LoadSession(a.Config.SessionPath, time.Now())
	if err != nil && !errors.Is(err, auth.ErrNoSession) {
		a.Logger.Warn("ignoring unreadable session", slog.String("error", err.Error()))
	}
	a.mu.Lock()
	a.session, a.sessionFile = s, fi
	a.mu.Unlock()
	if s != nil {
		a.Logger.Debug("session loaded", slog.String("user", s.UserID))
	}
}

func (a *App) statSession() os.FileInfo {
	if a.Config.SessionPath == "" {
		return nil
	}
	fi, err := os.Stat(a.Config.SessionPath)
	if err != nil {
		return nil
	}
	return fi
}

// sameFile reports whether two stats describe the same unchanged file. Logins
// replace the file by rename, so a new inode counts as a change.
func sameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return os.SameFile(a, b) && a.ModTime().Equal(b.ModTime()) && a.Size() == b.Size()
}

func (a *App) token() string {
	if s := a.Session(); s != nil {
		return s.AccessToken
	}
	return ""
}

func (a *App) userID() string {
	if s := a.Session(); s != nil {
		return s.UserID
	}
	return ""
}

// Close releases the store and the Redis pool.
func (a *App) Close() error {
	return errors.Join(a.Redis.Close(), a.DB.Close())
}
