// Package session owns the per-thread conversation state: mode, selected
// product and the append-only message log.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/labdesk/internal/models"
)

// ErrUnknownThread is returned for operations on a thread id with no state.
var ErrUnknownThread = errors.New("session: unknown thread")

// ChangeFunc is called after a thread's state changed. It runs outside the
// machine's lock.
type ChangeFunc func(threadID string)

// Machine holds one state per live thread.
type Machine struct {
	now func() time.Time

	mu       sync.Mutex
	states   map[string]*threadState
	onChange ChangeFunc
}

type threadState struct {
	models.ThreadState
	lastID int64
}

// MachineOpts holds parameters for creating a Machine.
type MachineOpts struct {
	Clock    func() time.Time // defaults to time.Now
	OnChange ChangeFunc       // optional
}

// NewMachine creates an empty Machine.
func NewMachine(opts MachineOpts) *Machine {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Machine{
		now:      now,
		states:   make(map[string]*threadState),
		onChange: opts.OnChange,
	}
}

// SetOnChange replaces the change callback.
func (m *Machine) SetOnChange(fn ChangeFunc) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Init gives threadID a fresh state: the welcome message, no product,
// general mode. It does not fire the change callback.
func (m *Machine) Init(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &threadState{ThreadState: models.ThreadState{Mode: models.ModeGeneral}}
	m.appendLocked(st, WelcomeMessage())
	m.states[threadID] = st
}

// Restore installs a previously saved state, repairing what an older or
// partial save left out. It does not fire the change callback.
func (m *Machine) Restore(threadID string, saved models.ThreadState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &threadState{ThreadState: saved.Clone()}
	if len(st.Messages) == 0 {
		m.appendLocked(st, WelcomeMessage())
	}
	if _, err := models.ParseMode(string(st.Mode)); err != nil {
		st.Mode = models.ModeGeneral
	}
	if st.Mode == models.ModeProductSpecific && st.SelectedProduct == nil {
		st.Mode = models.ModeProductSearch
	}
	for _, msg := range st.Messages {
		if msg.ID > st.lastID {
			st.lastID = msg.ID
		}
	}
	m.states[threadID] = st
}

// Remove drops the state of threadID.
func (m *Machine) Remove(threadID string) {
	m.mu.Lock()
	delete(m.states, threadID)
	m.mu.Unlock()
}

// Snapshot returns a copy of the state of threadID.
func (m *Machine) Snapshot(threadID string) (models.ThreadState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[threadID]
	if !ok {
		return models.ThreadState{}, false
	}
	return st.ThreadState.Clone(), true
}

// SwitchMode moves the thread to mode and announces it. Switching to
// product-specific mode without a selected product is refused; it reports
// false with a nil error.
func (m *Machine) SwitchMode(threadID string, mode models.Mode) (bool, error) {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return false, err
	}
	return m.mutate(threadID, func(st *threadState) bool {
		if mode == models.ModeProductSpecific && st.SelectedProduct == nil {
			return false
		}
		st.Mode = mode
		m.appendLocked(st, models.SystemMessage(modeAnnouncement(mode, st.SelectedProduct), Examples(mode)))
		return true
	})
}

// SelectProduct binds product to the thread and enters product-specific
// mode. A nil or empty product is ignored.
func (m *Machine) SelectProduct(threadID string, product *models.Product) (bool, error) {
	if product == nil || product.IsZero() {
		if !m.exists(threadID) {
			return false, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
		}
		return false, nil
	}
	p := *product
	return m.mutate(threadID, func(st *threadState) bool {
		st.SelectedProduct = &p
		st.Mode = models.ModeProductSpecific
		m.appendLocked(st, models.SystemMessage("Selected Product: "+p.Label(), nil))
		return true
	})
}

// DeselectProduct clears the selected product and falls back to product
// search mode. It is a no-op when nothing is selected.
func (m *Machine) DeselectProduct(threadID string) (bool, error) {
	return m.mutate(threadID, func(st *threadState) bool {
		prev := st.SelectedProduct
		if prev == nil {
			return false
		}
		st.SelectedProduct = nil
		st.Mode = models.ModeProductSearch
		m.appendLocked(st, models.SystemMessage("Product deselected: "+prev.Label(), nil))
		return true
	})
}

// ToggleProductDisplay flips ShowProducts on the message with messageID.
// Nothing changes when no message has that id.
func (m *Machine) ToggleProductDisplay(threadID string, messageID int64) (bool, error) {
	return m.mutate(threadID, func(st *threadState) bool {
		for i := range st.Messages {
			if st.Messages[i].ID == messageID {
				st.Messages[i].ShowProducts = !st.Messages[i].ShowProducts
				return true
			}
		}
		return false
	})
}

// Append adds msg to the log under a fresh id and returns the stored copy.
func (m *Machine) Append(threadID string, msg models.Message) (models.Message, error) {
	var stored models.Message
	_, err := m.mutate(threadID, func(st *threadState) bool {
		stored = m.appendLocked(st, msg)
		return true
	})
	return stored, err
}

func (m *Machine) exists(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[threadID]
	return ok
}

// mutate runs fn under the lock and fires the change callback when fn
// reports a change.
func (m *Machine) mutate(threadID string, fn func(st *threadState) bool) (bool, error) {
	m.mu.Lock()
	st, ok := m.states[threadID]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	changed := fn(st)
	onChange := m.onChange
	m.mu.Unlock()

	if changed && onChange != nil {
		onChange(threadID)
	}
	return changed, nil
}

// appendLocked assigns a time-derived id that is strictly greater than every
// earlier id in the thread.
func (m *Machine) appendLocked(st *threadState, msg models.Message) models.Message {
	id := m.now().UnixMilli()
	if id <= st.lastID {
		id = st.lastID + 1
	}
	st.lastID = id
	msg = msg.Clone()
	msg.ID = id
	msg.ShowProducts = false
	st.Messages = append(st.Messages, msg)
	return msg.Clone()
}
