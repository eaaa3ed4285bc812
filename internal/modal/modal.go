// Package modal tracks the item detail dialog a client has open:
// closed → open(view) → open(edit) | closed. Dirty edit forms need an
// explicit discard before they close.
package modal

import (
	"errors"
	"sync"
)

// Mode of the open dialog.
type Mode string

const (
	Closed Mode = "closed"
	View   Mode = "view"
	Edit   Mode = "edit"
)

var (
	ErrNotOpen        = errors.New("modal: no item open")
	ErrUnsavedChanges = errors.New("modal: unsaved changes")
)

// State is a snapshot of the dialog.
type State struct {
	Mode   Mode   `json:"mode"`
	ItemID string `json:"itemId,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// Machine is one client's dialog state. The zero value is closed.
type Machine struct {
	mu    sync.Mutex
	state State
}

func (m *Machine) current() State {
	if m.state.Mode == "" {
		return State{Mode: Closed}
	}
	return m.state
}

// State returns the current dialog state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

// Open shows itemID in view mode. Opening over a dirty edit form is refused.
func (m *Machine) Open(itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.current(); st.Mode == Edit && st.Dirty {
		return ErrUnsavedChanges
	}
	m.state = State{Mode: View, ItemID: itemID}
	return nil
}

// StartEdit switches the open item to edit mode.
func (m *Machine) StartEdit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.current()
	if st.Mode == Closed {
		return ErrNotOpen
	}
	m.state = State{Mode: Edit, ItemID: st.ItemID, Dirty: st.Dirty}
	return nil
}

// MarkDirty flags unsaved edits. It is a no-op outside edit mode.
func (m *Machine) MarkDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Mode == Edit {
		m.state.Dirty = true
	}
}

// Saved clears the dirty flag and returns to view mode.
func (m *Machine) Saved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Mode == Edit {
		m.state = State{Mode: View, ItemID: m.state.ItemID}
	}
}

// Close closes the dialog. A dirty edit form closes only when discard is
// set.
func (m *Machine) Close(discard bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.current(); st.Mode == Edit && st.Dirty && !discard {
		return ErrUnsavedChanges
	}
	m.state = State{Mode: Closed}
	return nil
}

// CloseIfShowing closes the dialog unconditionally when it shows itemID
// and reports whether it did.
func (m *Machine) CloseIfShowing(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.current()
	if st.Mode == Closed || st.ItemID != itemID {
		return false
	}
	m.state = State{Mode: Closed}
	return true
}
