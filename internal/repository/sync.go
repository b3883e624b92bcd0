package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smis/internal/student"
)

// SyncAll pushes every unsynced record and merges the remote lists back in,
// retrying up to maxRetries times with linear backoff. ctx cancels the wait
// between attempts as well as the remote calls.
func (r *Repository) SyncAll(ctx context.Context, maxRetries int) Result[bool] {
	if !r.hasBackend() {
		return Failure[bool]("failed to sync", ErrNoBackend)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	start := time.Now()
	defer func() { r.metrics.ObserveSync(time.Since(start).Seconds()) }()

	var last error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			last = err
			break
		}
		err := r.syncOnce(ctx)
		r.metrics.SyncAttempt(err)
		if err == nil {
			r.logger.Info("sync finished", slog.Int("attempt", attempt))
			return Success(true)
		}
		last = err
		r.logger.Warn("sync attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.String("error", err.Error()),
		)
		if attempt == maxRetries {
			break
		}
		if err := sleep(ctx, r.backoff*time.Duration(attempt)); err != nil {
			last = err
			break
		}
	}
	return Failure[bool]("failed to sync", last)
}

func (r *Repository) syncOnce(ctx context.Context) error {
	if !r.net.Available(ctx) {
		return ErrOffline
	}
	pending, err := r.local.ListUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("list unsynced: %w", err)
	}
	var fresh, known []student.Record
	for _, rec := range pending {
		if r.rest != nil && rec.RemoteID != "" {
			known = append(known, rec)
		} else {
			fresh = append(fresh, rec)
		}
	}
	pushed := r.pushKnown(ctx, known)
	for _, rec := range fresh {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.syncRecord(ctx, rec, true); err != nil {
			r.remoteFailed("push", rec.ID, err)
			continue
		}
		pushed++
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	changed, err := r.pullAll(ctx)
	if err != nil {
		return err
	}
	r.logger.Debug("sync attempt done",
		slog.Int("pending", len(pending)),
		slog.Int("pushed", pushed),
		slog.Int("merged", changed),
	)
	return nil
}

// pushKnown sends records the REST backend already holds in one bulk request.
// Accepted records are marked synced; conflicting ones stay pending until the
// pull brings the newer copy down. A failed request falls back to one update
// per record.
func (r *Repository) pushKnown(ctx context.Context, recs []student.Record) int {
	if len(recs) == 0 {
		return 0
	}
	res, err := r.rest.SyncBatch(ctx, recs)
	r.metrics.Remote("rest", "sync_batch", err)
	if err != nil {
		r.remoteFailed("rest sync batch", "", err)
		pushed := 0
		for _, rec := range recs {
			if ctx.Err() != nil {
				break
			}
			if _, err := r.syncRecord(ctx, rec, false); err != nil {
				r.remoteFailed("push", rec.ID, err)
				continue
			}
			pushed++
		}
		return pushed
	}
	if res.Conflicts > 0 || len(res.Errors) > 0 {
		r.logger.Warn("bulk sync left records pending",
			slog.Int("conflicts", res.Conflicts),
			slog.Any("errors", res.Errors),
		)
	}

	accepted := make(map[string]bool, len(res.Accepted))
	for _, id := range res.Accepted {
		accepted[id] = true
	}
	var done []student.Record
	for _, rec := range recs {
		if accepted[rec.RemoteID] {
			done = append(done, rec)
		}
	}
	marked, err := r.local.MarkSynced(ctx, done)
	if err != nil {
		r.logger.Warn("marking records synced failed", slog.String("error", err.Error()))
		return 0
	}
	for _, rec := range done {
		rec.IsSynced = true
		r.mirror(ctx, rec, false)
	}
	return marked
}

// ForceSyncFromCloud replaces every local record with the document backend's
// records. The remote list is fetched before anything local is touched and the
// replacement is a single transaction, so a failure leaves local data as it was.
func (r *Repository) ForceSyncFromCloud(ctx context.Context) Result[bool] {
	if r.docs == nil {
		return Failure[bool]("failed to force sync from cloud", ErrNoBackend)
	}
	if !r.net.Available(ctx) {
		return Failure[bool]("failed to force sync from cloud", ErrOffline)
	}
	docs, err := r.docs.PullAll(ctx)
	r.metrics.Remote("docs", "pull", err)
	if err != nil {
		return Failure[bool]("failed to force sync from cloud", err)
	}
	recs := fromCloud(docs)
	if err := r.local.ReplaceAll(ctx, recs); err != nil {
		return Failure[bool]("failed to force sync from cloud", err)
	}
	r.logger.Info("local store replaced from cloud", slog.Int("records", len(recs)))
	return Success(true)
}

// fromCloud turns pulled documents into local rows. Draft copies come back as
// unsynced records without a remote id, unless a pushed copy of the same
// record was pulled too.
func fromCloud(docs []student.Record) []student.Record {
	pushed := make(map[string]bool, len(docs))
	for _, d := range docs {
		if !isDraft(d.RemoteID) && d.ID != "" {
			pushed[d.ID] = true
		}
	}
	out := make([]student.Record, 0, len(docs))
	for _, d := range docs {
		if isDraft(d.RemoteID) {
			if d.ID == "" {
				d.ID = d.RemoteID[len(draftPrefix):]
			}
			if pushed[d.ID] {
				continue
			}
			d.RemoteID = ""
			d.IsSynced = false
			out = append(out, d)
			continue
		}
		d.IsSynced = true
		if d.ID == "" {
			d.ID = d.RemoteID
		}
		out = append(out, d)
	}
	return out
}

// ForceSyncFromAPI pulls the REST list and merges it without deleting anything.
func (r *Repository) ForceSyncFromAPI(ctx context.Context) Result[bool] {
	if r.rest == nil {
		return Failure[bool]("failed to sync from api", ErrNoBackend)
	}
	if !r.net.Available(ctx) {
		return Failure[bool]("failed to sync from api", ErrOffline)
	}
	remote, err := r.rest.List(ctx)
	r.metrics.Remote("rest", "list", err)
	if err != nil {
		return Failure[bool]("failed to sync from api", err)
	}
	changed := r.merge(ctx, remote)
	r.logger.Info("merged records from api", slog.Int("remote", len(remote)), slog.Int("changed", changed))
	return Success(true)
}

// pullAll fetches the backend of record and merges it. The document backend is
// merged too when it only mirrors REST; a failure there is logged, not returned.
func (r *Repository) pullAll(ctx context.Context) (int, error) {
	var remote []student.Record
	if r.rest != nil {
		recs, err := r.rest.List(ctx)
		r.metrics.Remote("rest", "list", err)
		if err != nil {
			return 0, fmt.Errorf("rest list: %w", err)
		}
		remote = recs
		if r.docs != nil {
			docs, err := r.docs.PullAll(ctx)
			r.metrics.Remote("docs", "pull", err)
			if err != nil {
				r.remoteFailed("document pull", "", err)
			} else {
				remote = append(remote, withoutDrafts(docs)...)
			}
		}
	} else if r.docs != nil {
		docs, err := r.docs.PullAll(ctx)
		r.metrics.Remote("docs", "pull", err)
		if err != nil {
			return 0, fmt.Errorf("document pull: %w", err)
		}
		remote = withoutDrafts(docs)
	}
	return r.merge(ctx, remote), nil
}

func withoutDrafts(docs []student.Record) []student.Record {
	out := docs[:0]
	for _, d := range docs {
		if !isDraft(d.RemoteID) {
			out = append(out, d)
		}
	}
	return out
}

// merge applies last-write-wins per remote id and returns how many local rows changed.
// Per-record failures are logged and skipped.
func (r *Repository) merge(ctx context.Context, remote []student.Record) int {
	changed := 0
	for _, rec := range remote {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.mergeOne(ctx, rec)
		if err != nil {
			r.logger.Warn("merge failed",
				slog.String("remote_id", rec.RemoteID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed
}

// mergeOne inserts a remote record that is absent locally and overwrites a local
// one only when the remote updatedAt is strictly newer. Ties keep the local copy.
func (r *Repository) mergeOne(ctx context.Context, remote student.Record) (bool, error) {
	if remote.RemoteID == "" {
		return false, nil
	}
	local, err := r.local.GetByRemoteID(ctx, remote.RemoteID)
	if err != nil {
		return false, err
	}
	remote.IsSynced = true
	if local == nil {
		if remote.ID == "" {
			remote.ID = remote.RemoteID
		}
		if err := r.local.Insert(ctx, remote); err != nil {
			return false, err
		}
		return true, nil
	}
	if remote.UpdatedAt <= local.UpdatedAt {
		return false, nil
	}
	remote.ID = local.ID
	if err := r.local.Update(ctx, remote); err != nil {
		return false, err
	}
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
