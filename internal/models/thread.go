package models

// Thread is one named conversation. Identity is the ID; the name is mutable.
type Thread struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ThreadState is the per-thread conversation state owned by the session
// state machine.
type ThreadState struct {
	Messages        []Message `json:"messages"`
	SelectedProduct *Product  `json:"selectedProduct"`
	Mode            Mode      `json:"mode"`
}

// Clone returns a deep enough copy that the caller can hold on to it while
// the original keeps changing.
func (s ThreadState) Clone() ThreadState {
	out := ThreadState{Mode: s.Mode, SelectedProduct: s.SelectedProduct}
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return out
}

// HasUserMessage reports whether any message in the log was typed by the user.
func (s ThreadState) HasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Kind == KindUser {
			return true
		}
	}
	return false
}

// SavedThread is the persisted shape of a thread: the Thread enriched with
// its state.
type SavedThread struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Messages        []Message `json:"messages"`
	SelectedProduct *Product  `json:"selectedProduct"`
	Mode            Mode      `json:"mode"`
}

// Thread returns the identity part of a saved thread.
func (st SavedThread) Thread() Thread {
	return Thread{ID: st.ID, Name: st.Name}
}

// State returns the state part of a saved thread.
func (st SavedThread) State() ThreadState {
	return ThreadState{
		Messages:        st.Messages,
		SelectedProduct: st.SelectedProduct,
		Mode:            st.Mode,
	}
}
