package attendance

import "sync"

// SheetStore holds the active sheet per session token. One sheet per session;
// replacing it is how a selection change discards uncommitted edits.
type SheetStore struct {
	mu     sync.Mutex
	sheets map[string]*Sheet
}

// NewSheetStore creates an empty store.
func NewSheetStore() *SheetStore {
	return &SheetStore{sheets: make(map[string]*Sheet)}
}

// Get returns the session's sheet, if any.
func (st *SheetStore) Get(token string) (*Sheet, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sheet, ok := st.sheets[token]
	return sheet, ok
}

// Put installs the session's sheet, replacing any previous one.
func (st *SheetStore) Put(token string, sheet *Sheet) {
	st.mu.Lock()
	st.sheets[token] = sheet
	st.mu.Unlock()
}

// Delete drops the session's sheet, typically on logout.
func (st *SheetStore) Delete(token string) {
	st.mu.Lock()
	delete(st.sheets, token)
	st.mu.Unlock()
}
