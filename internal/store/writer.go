package store

import (
	"context"
	"sync"
	"time"

	"github.com/zulandar/labdesk/internal/logging"
	"github.com/zulandar/labdesk/internal/models"
	"go.uber.org/zap"
)

// Saver persists a full snapshot of the thread list.
type Saver interface {
	Save(ctx context.Context, threads []models.SavedThread) error
}

// DefaultWriteTimeout bounds a single background save.
const DefaultWriteTimeout = 10 * time.Second

// Writer saves snapshots in the background. It holds at most one pending
// snapshot: a newer Enqueue replaces an older one that has not been written
// yet, so the last snapshot always wins. Failures are logged, not retried.
type Writer struct {
	saver   Saver
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending []models.SavedThread
	hasNext bool
	idle    *sync.Cond
	busy    bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// WriterOpts holds parameters for creating a Writer.
type WriterOpts struct {
	Saver   Saver
	Logger  *zap.Logger
	Timeout time.Duration // defaults to DefaultWriteTimeout
}

// NewWriter starts the background save loop.
func NewWriter(opts WriterOpts) *Writer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	w := &Writer{
		saver:   opts.Saver,
		log:     logging.OrNop(opts.Logger),
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// Enqueue schedules a save of threads. It never blocks on the store.
func (w *Writer) Enqueue(threads []models.SavedThread) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = threads
	w.hasNext = true
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

// Flush blocks until every enqueued snapshot has been written.
func (w *Writer) Flush() {
	w.mu.Lock()
	for w.hasNext || w.busy {
		w.idle.Wait()
	}
	w.mu.Unlock()
}

// Close flushes and stops the loop. Later Enqueue calls are ignored.
func (w *Writer) Close() {
	w.Flush()
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.wake)
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	for range w.wake {
		for {
			w.mu.Lock()
			if !w.hasNext {
				w.idle.Broadcast()
				w.mu.Unlock()
				break
			}
			snapshot := w.pending
			w.pending, w.hasNext, w.busy = nil, false, true
			w.mu.Unlock()

			w.write(snapshot)

			w.mu.Lock()
			w.busy = false
			w.mu.Unlock()
		}
	}
}

func (w *Writer) write(threads []models.SavedThread) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.saver.Save(ctx, threads); err != nil {
		w.log.Error("save threads failed", zap.Int("threads", len(threads)), zap.Error(err))
		return
	}
	w.log.Debug("saved threads", zap.Int("threads", len(threads)))
}
