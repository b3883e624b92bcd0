package store

import (
	"context"
	"log/slog"
	"sync"

	"smis/internal/student"
)

// notifier fans a "table changed" signal out to subscribers. Each subscriber
// holds a one-slot channel, so bursts of writes collapse into one refresh.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan struct{})}
}

func (n *notifier) subscribe() (int, <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch
	return id, ch
}

func (n *notifier) unsubscribe(id int) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

func (n *notifier) changed() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch streams the name-ordered list: the current snapshot first, then a new
// snapshot after every committed write. The channel closes when ctx is done.
// A failed refresh is logged and skipped; the stream stays open.
func (s *Students) Watch(ctx context.Context, logger *slog.Logger) <-chan []student.Record {
	if logger == nil {
		logger = slog.Default()
	}
	id, signal := s.watch.subscribe()
	out := make(chan []student.Record, 1)

	go func() {
		defer close(out)
		defer s.watch.unsubscribe(id)
		for {
			list, err := s.List(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("watch refresh failed", slog.String("error", err.Error()))
			} else {
				// Replace an undelivered snapshot so readers only see the latest.
				select {
				case <-out:
				default:
				}
				select {
				case out <- list:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
