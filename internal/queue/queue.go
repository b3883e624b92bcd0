// Package queue carries sync requests from front ends to the background worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kinds of sync work a Request can ask for.
const (
	KindSync       = "sync"
	KindPullAPI    = "pull-api"
	KindForceCloud = "force-cloud"
)

// DefaultKey is the Redis list holding pending requests.
const DefaultKey = "smis:sync-requests"

// ErrUnknownKind is returned when publishing a request the worker cannot run.
var ErrUnknownKind = errors.New("unknown request kind")

// Request is one unit of sync work.
type Request struct {
	Kind        string    `json:"kind"`
	RequestedBy string    `json:"requestedBy,omitempty"`
	MaxRetries  int       `json:"maxRetries,omitempty"`
	At          time.Time `json:"at"`
}

// Validate checks that the worker knows how to run r.
func (r Request) Validate() error {
	switch r.Kind {
	case KindSync, KindPullAPI, KindForceCloud:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, req Request) error
	Consume(ctx context.Context) (<-chan Request, error)
}

// InMemory is a channel-backed queue for a worker running in the same process.
type InMemory struct {
	ch chan Request
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 16
	}
	return &InMemory{ch: make(chan Request, size)}
}

// Publish enqueues a request.
func (q *InMemory) Publish(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers. It closes when ctx is done.
func (q *InMemory) Consume(ctx context.Context) (<-chan Request, error) {
	out := make(chan Request)
	go func() {
		defer close(out)
		for {
			select {
			case req := <-q.ch:
				select {
				case out <- req:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue shared across processes.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Publish enqueues a request.
func (q *RedisQueue) Publish(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume streams requests using BRPOP. Malformed entries are logged and dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Request, error) {
	out := make(chan Request)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.logger.Warn("queue pop failed", slog.String("error", err.Error()))
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var req Request
			if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
				q.logger.Warn("dropping malformed request", slog.String("error", err.Error()))
				continue
			}
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
