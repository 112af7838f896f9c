// Package registry owns the ordered list of conversation threads and the
// active-thread pointer, and triggers persistence when anything changes.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/zulandar/labdesk/internal/logging"
	"github.com/zulandar/labdesk/internal/models"
	"github.com/zulandar/labdesk/internal/session"
	"go.uber.org/zap"
)

// Persister receives every snapshot worth saving. store.Writer satisfies it.
type Persister interface {
	Enqueue(threads []models.SavedThread)
}

// Loader reads the saved thread list. store.Gateway satisfies it.
type Loader interface {
	Load(ctx context.Context) ([]models.SavedThread, error)
}

// Registry is the ordered, most-recent-first list of threads.
type Registry struct {
	machine   *session.Machine
	persister Persister
	newID     func() string
	log       *zap.Logger

	mu      sync.Mutex
	threads []models.Thread
	active  string

	// holdEmpty is set when the last load failed. Empty snapshots are then
	// not saved, so unreadable history is not overwritten by a fresh start.
	holdEmpty bool

	listenMu  sync.Mutex
	listeners []func(Event)
}

// Event describes a change, delivered to listeners after it happened.
type Event struct {
	ThreadID string `json:"threadId"`
	Kind     string `json:"kind"` // created, renamed, deleted, selected, updated
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Machine   *session.Machine
	Persister Persister     // optional; nil disables persistence
	NewID     func() string // defaults to a random UUID
	Logger    *zap.Logger
}

// New creates an empty Registry and subscribes it to state changes of
// machine.
func New(opts RegistryOpts) (*Registry, error) {
	if opts.Machine == nil {
		return nil, fmt.Errorf("registry: machine is required")
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	r := &Registry{
		machine:   opts.Machine,
		persister: opts.Persister,
		newID:     newID,
		log:       logging.OrNop(opts.Logger),
	}
	opts.Machine.SetOnChange(r.stateChanged)
	return r, nil
}

// Subscribe registers fn for every later Event.
func (r *Registry) Subscribe(fn func(Event)) {
	r.listenMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenMu.Unlock()
}

// Create adds a thread named "Chat n" at the head of the list, gives it a
// fresh state and makes it active.
func (r *Registry) Create() string {
	r.mu.Lock()
	id := r.createLocked()
	r.mu.Unlock()

	r.emit(Event{ThreadID: id, Kind: "created"})
	return id
}

func (r *Registry) createLocked() string {
	id := r.newID()
	name := fmt.Sprintf("Chat %d", len(r.threads)+1)
	r.machine.Init(id)
	r.threads = append([]models.Thread{{ID: id, Name: name}}, r.threads...)
	r.active = id
	r.persistLocked()
	r.log.Debug("thread created", zap.String("thread", id), zap.String("name", name))
	return id
}

// Rename sanitizes proposed and applies it. A name that sanitizes to
// nothing is replaced with "Chat n" for the current count. It returns the
// applied name and false when id is unknown.
func (r *Registry) Rename(id, proposed string) (string, bool) {
	return r.rename(id, SanitizeName(proposed))
}

// SetAutoName applies a name already derived by NameFromUtterance, which
// may end in the truncation marker and so must not be sanitized again. An
// empty name gets the "Chat n" fallback.
func (r *Registry) SetAutoName(id, name string) (string, bool) {
	return r.rename(id, name)
}

func (r *Registry) rename(id, name string) (string, bool) {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return "", false
	}
	if name == "" {
		name = fmt.Sprintf("Chat %d", len(r.threads))
	}
	r.threads[idx].Name = name
	r.persistLocked()
	r.mu.Unlock()

	r.emit(Event{ThreadID: id, Kind: "renamed"})
	return name, true
}

// Delete removes a thread and its state. If it was active, the first
// remaining thread becomes active, or a new thread is created when none is
// left. It reports false when id is unknown.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	r.threads = append(r.threads[:idx:idx], r.threads[idx+1:]...)
	r.machine.Remove(id)
	created := ""
	if r.active == id {
		if len(r.threads) > 0 {
			r.active = r.threads[0].ID
		} else {
			created = r.createLocked()
		}
	}
	r.persistLocked()
	r.mu.Unlock()

	r.log.Debug("thread deleted", zap.String("thread", id))
	r.emit(Event{ThreadID: id, Kind: "deleted"})
	if created != "" {
		r.emit(Event{ThreadID: created, Kind: "created"})
	}
	return true
}

// Select makes id the active thread. Unknown ids are ignored.
func (r *Registry) Select(id string) bool {
	r.mu.Lock()
	if r.indexLocked(id) < 0 {
		r.mu.Unlock()
		return false
	}
	r.active = id
	r.mu.Unlock()
	r.emit(Event{ThreadID: id, Kind: "selected"})
	return true
}

// Active returns the active thread id, or "" before the first thread exists.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Threads returns the thread list in display order.
func (r *Registry) Threads() []models.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Thread(nil), r.threads...)
}

// Get returns the thread with id.
func (r *Registry) Get(id string) (models.Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return models.Thread{}, false
	}
	return r.threads[idx], true
}

// Restore replaces the list with threads loaded from l, then creates one
// fresh thread that becomes active. A load failure is returned and leaves
// only the fresh thread; the stored slot is then left untouched until a
// thread holds a user message.
func (r *Registry) Restore(ctx context.Context, l Loader) error {
	saved, err := l.Load(ctx)
	if err != nil {
		r.log.Debug("load threads failed; saving paused until a new conversation starts", zap.Error(err))
		saved = nil
	}

	r.mu.Lock()
	r.holdEmpty = err != nil
	for _, t := range r.threads {
		r.machine.Remove(t.ID)
	}
	r.threads = r.threads[:0]
	seen := make(map[string]bool, len(saved))
	for _, st := range saved {
		if st.ID == "" || seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		r.machine.Restore(st.ID, st.State())
		r.threads = append(r.threads, st.Thread())
	}
	r.log.Info("threads restored", zap.Int("threads", len(r.threads)))
	id := r.createLocked()
	r.mu.Unlock()

	r.emit(Event{ThreadID: id, Kind: "created"})
	return err
}

// Snapshot returns every thread worth saving: those with at least one user
// message, each with its full current state.
func (r *Registry) Snapshot() []models.SavedThread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []models.SavedThread {
	out := make([]models.SavedThread, 0, len(r.threads))
	for _, t := range r.threads {
		st, ok := r.machine.Snapshot(t.ID)
		if !ok || !st.HasUserMessage() {
			continue
		}
		out = append(out, models.SavedThread{
			ID:              t.ID,
			Name:            t.Name,
			Messages:        st.Messages,
			SelectedProduct: st.SelectedProduct,
			Mode:            st.Mode,
		})
	}
	return out
}

func (r *Registry) indexLocked(id string) int {
	for i, t := range r.threads {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// stateChanged is the machine's change callback.
func (r *Registry) stateChanged(threadID string) {
	r.mu.Lock()
	if r.indexLocked(threadID) < 0 {
		r.mu.Unlock()
		return
	}
	r.persistLocked()
	r.mu.Unlock()

	r.emit(Event{ThreadID: threadID, Kind: "updated"})
}

// persistLocked hands the current snapshot to the persister while the lock
// is held, so snapshots reach it in mutation order.
func (r *Registry) persistLocked() {
	if r.persister == nil {
		return
	}
	snapshot := r.snapshotLocked()
	if r.holdEmpty {
		if len(snapshot) == 0 {
			return
		}
		r.holdEmpty = false
	}
	r.persister.Enqueue(snapshot)
}

func (r *Registry) emit(ev Event) {
	r.listenMu.Lock()
	listeners := slices.Clone(r.listeners)
	r.listenMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
