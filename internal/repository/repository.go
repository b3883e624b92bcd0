// Package repository is the local-first student sync repository. Every read and
// write goes to the local store first; the REST backend and the document backend
// are reached opportunistically and their failures only flip a record's sync flag.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"smis/internal/docstore"
	"smis/internal/metrics"
	"smis/internal/netcheck"
	"smis/internal/restapi"
	"smis/internal/student"
)

var (
	// ErrOffline is the cause reported when an operation needs the network and it is unreachable.
	ErrOffline = errors.New("network unreachable")
	// ErrNoBackend is the cause reported when an operation needs a remote backend that is not configured.
	ErrNoBackend = errors.New("no remote backend configured")
	// ErrNotFound is the cause reported when a local record does not exist.
	ErrNotFound = errors.New("student not found")
)

// LocalStore is the relational store on the device.
type LocalStore interface {
	List(ctx context.Context) ([]student.Record, error)
	ListPage(ctx context.Context, limit, offset int) ([]student.Record, error)
	ListUnsynced(ctx context.Context) ([]student.Record, error)
	Watch(ctx context.Context, logger *slog.Logger) <-chan []student.Record
	Get(ctx context.Context, id string) (*student.Record, error)
	GetByRemoteID(ctx context.Context, remoteID string) (*student.Record, error)
	Count(ctx context.Context) (int, error)
	CountSynced(ctx context.Context) (int, error)
	Insert(ctx context.Context, r student.Record) error
	InsertBatch(ctx context.Context, recs []student.Record) error
	Update(ctx context.Context, r student.Record) error
	MarkSynced(ctx context.Context, recs []student.Record) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	ReplaceAll(ctx context.Context, recs []student.Record) error
}

// RESTBackend is the backend of record.
type RESTBackend interface {
	List(ctx context.Context) ([]student.Record, error)
	Get(ctx context.Context, remoteID string) (*student.Record, error)
	Create(ctx context.Context, r student.Record) (string, error)
	Update(ctx context.Context, r student.Record) error
	Delete(ctx context.Context, remoteID string) error
	Search(ctx context.Context, query string) ([]student.Record, error)
	SyncBatch(ctx context.Context, recs []student.Record) (*restapi.SyncResult, error)
}

// DocumentBackend mirrors records per user and stores photos.
type DocumentBackend interface {
	Push(ctx context.Context, r student.Record) (string, error)
	PullAll(ctx context.Context) ([]student.Record, error)
	Delete(ctx context.Context, remoteID string) error
	UploadPhoto(ctx context.Context, studentID string, data []byte) (string, error)
}

// Connectivity reports whether remote backends are worth trying.
type Connectivity interface {
	Available(ctx context.Context) bool
}

// invalidator is implemented by connectivity checks that cache their answer.
type invalidator interface {
	Invalidate()
}

// draftPrefix keys the document copy of a record the REST backend has not
// accepted yet. Drafts never become a local remoteId.
const draftPrefix = "draft-"

func isDraft(remoteID string) bool { return strings.HasPrefix(remoteID, draftPrefix) }

// Repository coordinates the local store with the optional remote backends.
type Repository struct {
	local       LocalStore
	rest        RESTBackend
	docs        DocumentBackend
	net         Connectivity
	logger      *slog.Logger
	metrics     *metrics.Metrics
	backoff     time.Duration
	pullTimeout time.Duration
	now         func() int64

	pulling atomic.Bool
}

// Option configures a Repository.
type Option func(*Repository)

// WithREST sets the REST backend. Pass only a non-nil backend.
func WithREST(b RESTBackend) Option { return func(r *Repository) { r.rest = b } }

// WithDocuments sets the document backend. Pass only a non-nil backend.
func WithDocuments(b DocumentBackend) Option { return func(r *Repository) { r.docs = b } }

// WithConnectivity sets the reachability check. Defaults to always reachable.
func WithConnectivity(c Connectivity) Option { return func(r *Repository) { r.net = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Repository) { r.logger = l } }

// WithMetrics records remote call and sync outcomes in m.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Repository) { r.metrics = m } }

// WithBackoff sets the base of SyncAll's linear backoff.
func WithBackoff(d time.Duration) Option { return func(r *Repository) { r.backoff = d } }

// WithPullTimeout bounds the background pull started by ListAll.
func WithPullTimeout(d time.Duration) Option { return func(r *Repository) { r.pullTimeout = d } }

// New builds a repository over local.
func New(local LocalStore, opts ...Option) *Repository {
	r := &Repository{
		local:       local,
		net:         netcheck.Static(true),
		backoff:     time.Second,
		pullTimeout: 30 * time.Second,
		now:         student.NowMillis,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.pullTimeout <= 0 {
		r.pullTimeout = 30 * time.Second
	}
	return r
}

// ListAll streams the name-ordered local list. An empty snapshot starts a
// background pull when the network is reachable; its outcome is only logged.
// The channel closes when ctx is done.
func (r *Repository) ListAll(ctx context.Context) <-chan []student.Record {
	in := r.local.Watch(ctx, r.logger)
	out := make(chan []student.Record)
	go func() {
		defer close(out)
		for snap := range in {
			if len(snap) == 0 {
				r.backgroundPull(ctx)
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *Repository) backgroundPull(parent context.Context) {
	if r.rest == nil && r.docs == nil {
		return
	}
	if !r.pulling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.pulling.Store(false)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.pullTimeout)
		defer cancel()
		if !r.net.Available(ctx) {
			return
		}
		n, err := r.pullAll(ctx)
		if err != nil {
			r.logger.Warn("background pull failed", slog.String("error", err.Error()))
			return
		}
		r.logger.Debug("background pull finished", slog.Int("changed", n))
	}()
}

// Add stores a new record locally, then tries to push it. Only a local failure fails the call.
func (r *Repository) Add(ctx context.Context, rec student.Record) Result[string] {
	rec.EnsureIdentity(r.now())
	rec.IsSynced = false
	if err := r.local.Insert(ctx, rec); err != nil {
		return Failure[string]("failed to add student", err)
	}
	if r.hasBackend() && r.net.Available(ctx) {
		if _, err := r.syncRecord(ctx, rec, false); err != nil {
			r.remoteFailed("push after add", rec.ID, err)
		}
	}
	return Success(rec.ID)
}

// Update writes an edit locally, marking it unsynced, then tries to push it.
func (r *Repository) Update(ctx context.Context, rec student.Record) Result[struct{}] {
	rec.Touch(r.now())
	if err := r.local.Update(ctx, rec); err != nil {
		return Failure[struct{}]("failed to update student", err)
	}
	if !r.hasBackend() || !r.net.Available(ctx) {
		return Success(struct{}{})
	}
	// REST creates wait for SyncAll; the document copy is refreshed either way.
	if rec.RemoteID == "" && r.rest != nil {
		r.mirror(ctx, rec, false)
		return Success(struct{}{})
	}
	if _, err := r.syncRecord(ctx, rec, false); err != nil {
		r.remoteFailed("push after update", rec.ID, err)
	}
	return Success(struct{}{})
}

// Delete removes a record locally after a best-effort remote delete.
func (r *Repository) Delete(ctx context.Context, id string) Result[struct{}] {
	rec, err := r.local.Get(ctx, id)
	if err != nil {
		r.logger.Warn("lookup before delete failed", slog.String("id", id), slog.String("error", err.Error()))
	}
	if rec != nil && r.hasBackend() && r.net.Available(ctx) {
		r.deleteRemote(ctx, *rec)
	}
	if err := r.local.Delete(ctx, id); err != nil {
		return Failure[struct{}]("failed to delete student", err)
	}
	return Success(struct{}{})
}

// DeleteMany removes several records in one local transaction after
// best-effort remote deletes. It returns how many of ids existed locally.
func (r *Repository) DeleteMany(ctx context.Context, ids []string) Result[int] {
	online := r.hasBackend() && r.net.Available(ctx)
	found := 0
	for _, id := range ids {
		rec, err := r.local.Get(ctx, id)
		if err != nil {
			r.logger.Warn("lookup before delete failed", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		if rec == nil {
			continue
		}
		found++
		if online && ctx.Err() == nil {
			r.deleteRemote(ctx, *rec)
		}
	}
	if err := r.local.DeleteMany(ctx, ids); err != nil {
		return Failure[int]("failed to delete students", err)
	}
	return Success(found)
}

func (r *Repository) deleteRemote(ctx context.Context, rec student.Record) {
	if r.rest != nil && rec.RemoteID != "" {
		err := r.rest.Delete(ctx, rec.RemoteID)
		if errors.Is(err, restapi.ErrNotFound) {
			err = nil
		}
		r.metrics.Remote("rest", "delete", err)
		if err != nil {
			r.remoteFailed("rest delete", rec.ID, err)
		}
	}
	// A record never pushed to the document backend of record has nothing to remove.
	if r.docs != nil && (rec.RemoteID != "" || r.rest != nil) {
		err := r.docs.Delete(ctx, mirrorKey(rec))
		r.metrics.Remote("docs", "delete", err)
		if err != nil {
			r.remoteFailed("document delete", rec.ID, err)
		}
	}
}

// GetByID returns the local record, falling back to the REST backend on a miss.
// A record found remotely is cached locally. Success(nil) means not found anywhere.
func (r *Repository) GetByID(ctx context.Context, id string) Result[*student.Record] {
	rec, err := r.local.Get(ctx, id)
	if err != nil {
		return Failure[*student.Record]("failed to get student", err)
	}
	if rec != nil || r.rest == nil || !r.net.Available(ctx) {
		return Success(rec)
	}

	remote, err := r.rest.Get(ctx, id)
	if errors.Is(err, restapi.ErrNotFound) {
		r.metrics.Remote("rest", "get", nil)
		return Success[*student.Record](nil)
	}
	r.metrics.Remote("rest", "get", err)
	if err != nil {
		r.remoteFailed("rest get", id, err)
		return Success[*student.Record](nil)
	}
	return Success(r.cache(ctx, *remote))
}

// Search filters the local list by substring, and by similarity when fuzzy is set.
// With no local hits it asks the REST backend and caches what comes back.
func (r *Repository) Search(ctx context.Context, query string, fuzzy bool) Result[[]student.Record] {
	all, err := r.local.List(ctx)
	if err != nil {
		return Failure[[]student.Record]("failed to search students", err)
	}
	hits := student.Filter(all, query, fuzzy)
	if len(hits) > 0 || r.rest == nil || !r.net.Available(ctx) {
		return Success(hits)
	}

	remote, err := r.rest.Search(ctx, query)
	r.metrics.Remote("rest", "search", err)
	if err != nil {
		r.remoteFailed("rest search", "", err)
		return Success(hits)
	}
	out := make([]student.Record, 0, len(remote))
	for _, rec := range remote {
		out = append(out, *r.cache(ctx, rec))
	}
	return Success(out)
}

// AddBatch inserts all records in one local transaction, then pushes each one
// best-effort. Remote failures never undo the local insert.
func (r *Repository) AddBatch(ctx context.Context, recs []student.Record) Result[int] {
	now := r.now()
	batch := make([]student.Record, len(recs))
	for i, rec := range recs {
		rec.EnsureIdentity(now)
		rec.IsSynced = false
		batch[i] = rec
	}
	if err := r.local.InsertBatch(ctx, batch); err != nil {
		return Failure[int]("failed to add students", err)
	}
	if r.hasBackend() && r.net.Available(ctx) {
		for _, rec := range batch {
			if ctx.Err() != nil {
				break
			}
			if _, err := r.syncRecord(ctx, rec, false); err != nil {
				r.remoteFailed("push after batch add", rec.ID, err)
			}
		}
	}
	return Success(len(batch))
}

// GetPaginated returns a window of the name-ordered list.
func (r *Repository) GetPaginated(ctx context.Context, limit, offset int) Result[[]student.Record] {
	page, err := r.local.ListPage(ctx, limit, offset)
	if err != nil {
		return Failure[[]student.Record]("failed to list students", err)
	}
	return Success(page)
}

// GetSyncStatistics counts total and synced records.
func (r *Repository) GetSyncStatistics(ctx context.Context) Result[student.SyncStats] {
	total, err := r.local.Count(ctx)
	if err != nil {
		return Failure[student.SyncStats]("failed to count students", err)
	}
	synced, err := r.local.CountSynced(ctx)
	if err != nil {
		return Failure[student.SyncStats]("failed to count synced students", err)
	}
	r.metrics.SetUnsynced(total - synced)
	return Success(student.NewSyncStats(total, synced))
}

// UploadPhoto stores the photo through the document backend and records its URL on the student.
func (r *Repository) UploadPhoto(ctx context.Context, id string, data []byte) Result[string] {
	rec, err := r.local.Get(ctx, id)
	if err != nil {
		return Failure[string]("failed to upload photo", err)
	}
	if rec == nil {
		return Failure[string]("failed to upload photo", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if r.docs == nil {
		return Failure[string]("failed to upload photo", ErrNoBackend)
	}
	if !r.net.Available(ctx) {
		return Failure[string]("failed to upload photo", ErrOffline)
	}
	url, err := r.docs.UploadPhoto(ctx, id, data)
	r.metrics.Remote("docs", "upload_photo", err)
	if err != nil {
		return Failure[string]("failed to upload photo", err)
	}
	rec.PhotoURL = url
	if res := r.Update(ctx, *rec); !res.OK() {
		return Failure[string](res.Err().Message, res.Err().Cause)
	}
	return Success(url)
}

func (r *Repository) hasBackend() bool { return r.rest != nil || r.docs != nil }

// syncRecord pushes rec to the backend of record and persists the resulting
// remote id and sync flag locally. With REST as the backend of record the
// document copy is written whatever the REST outcome; dropDraft removes the
// draft copy once a REST create succeeds.
func (r *Repository) syncRecord(ctx context.Context, rec student.Record, dropDraft bool) (student.Record, error) {
	switch {
	case r.rest != nil:
		created := rec.RemoteID == ""
		err := r.pushREST(ctx, &rec)
		r.mirror(ctx, rec, dropDraft && created && err == nil)
		if err != nil {
			return rec, err
		}
	case r.docs != nil:
		remoteID, err := r.docs.Push(ctx, rec)
		r.metrics.Remote("docs", "push", err)
		if err != nil {
			return rec, fmt.Errorf("document push: %w", err)
		}
		rec.RemoteID = remoteID
		rec.IsSynced = true
	default:
		return rec, ErrNoBackend
	}

	if err := r.local.Update(ctx, rec); err != nil {
		return rec, fmt.Errorf("record sync state: %w", err)
	}
	return rec, nil
}

// pushREST creates or updates rec on the REST backend. On success rec carries
// the remote id and is marked synced.
func (r *Repository) pushREST(ctx context.Context, rec *student.Record) error {
	if rec.RemoteID == "" {
		remoteID, err := r.rest.Create(ctx, *rec)
		r.metrics.Remote("rest", "create", err)
		if err != nil {
			return fmt.Errorf("rest create: %w", err)
		}
		rec.RemoteID = remoteID
	} else {
		err := r.rest.Update(ctx, *rec)
		r.metrics.Remote("rest", "update", err)
		if err != nil {
			return fmt.Errorf("rest update: %w", err)
		}
	}
	rec.IsSynced = true
	return nil
}

// mirror writes the document copy of rec when the document backend only
// mirrors REST. Records without a REST id are stored under a draft key.
func (r *Repository) mirror(ctx context.Context, rec student.Record, dropDraft bool) {
	if r.docs == nil || r.rest == nil {
		return
	}
	doc := rec
	doc.RemoteID = mirrorKey(rec)
	_, err := r.docs.Push(ctx, doc)
	r.metrics.Remote("docs", "push", err)
	if err != nil {
		r.remoteFailed("document push", rec.ID, err)
		return
	}
	if !dropDraft || rec.RemoteID == "" {
		return
	}
	err = r.docs.Delete(ctx, draftPrefix+rec.ID)
	r.metrics.Remote("docs", "delete", err)
	if err != nil {
		r.remoteFailed("draft cleanup", rec.ID, err)
	}
}

func mirrorKey(rec student.Record) string {
	if rec.RemoteID != "" {
		return rec.RemoteID
	}
	return draftPrefix + rec.ID
}

// cache merges a record fetched from the REST backend and returns the local row
// that now holds it. When the merge fails the remote copy is returned as is.
func (r *Repository) cache(ctx context.Context, remote student.Record) *student.Record {
	if _, err := r.mergeOne(ctx, remote); err != nil {
		r.logger.Warn("caching remote record failed", slog.String("remote_id", remote.RemoteID), slog.String("error", err.Error()))
		return &remote
	}
	rec, err := r.local.GetByRemoteID(ctx, remote.RemoteID)
	if err != nil || rec == nil {
		return &remote
	}
	return rec
}

// remoteFailed logs a failed remote call. Transport failures also drop the
// cached reachability answer so the next call probes again.
func (r *Repository) remoteFailed(op, id string, err error) {
	r.logger.Warn("remote call failed",
		slog.String("op", op),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	if inv, ok := r.net.(invalidator); ok && unreachable(err) {
		inv.Invalidate()
	}
}

// unreachable reports whether err is a transport failure rather than an
// answer from a backend.
func unreachable(err error) bool {
	var apiErr *restapi.APIError
	switch {
	case errors.As(err, &apiErr),
		errors.Is(err, restapi.ErrNotFound),
		errors.Is(err, docstore.ErrNoUser),
		errors.Is(err, docstore.ErrNoPhotoStorage),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
