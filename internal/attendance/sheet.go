package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Cyansiiii/attendance/internal/apiclient"
)

// Selection pins a sheet to one date, class, and section. Empty class or
// section means all.
type Selection struct {
	Date      string `json:"date"`
	ClassName string `json:"class_name"`
	Section   string `json:"section"`
}

// Backend is the slice of the API client the sheet consumes.
type Backend interface {
	Students(ctx context.Context, className, section string) ([]apiclient.Student, error)
	Attendance(ctx context.Context, date, className, section string) ([]apiclient.AttendanceEntry, error)
	MarkAttendance(ctx context.Context, req apiclient.MarkRequest) error
}

// Recognized is one entry of the ephemeral recognition log.
type Recognized struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sheet reconciles server attendance state with local edits for one
// selection. The buffer is the single source of truth for unsaved changes;
// the dirty flag is set on every mutation and cleared only after a fully
// successful save. Changing the selection means building a new sheet, which
// silently discards uncommitted edits.
type Sheet struct {
	mu         sync.Mutex
	sel        Selection
	roster     []apiclient.Student
	buffer     map[string]apiclient.Status
	dirty      bool
	recognized []Recognized
}

// NewSheet creates an empty sheet for a selection.
func NewSheet(sel Selection) *Sheet {
	return &Sheet{sel: sel, buffer: make(map[string]apiclient.Status)}
}

// Selection returns the sheet's pinned selection.
func (s *Sheet) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// Load fetches the roster and the persisted records for the selection and
// seeds the edit buffer. Duplicate records for the same student collapse
// last-write-wins; the backend defines no ordering for such duplicates, so
// the surviving record is simply the final one in the response. A reload
// drops all pending edits.
func (s *Sheet) Load(ctx context.Context, backend Backend) error {
	sel := s.Selection()
	if sel.Date == "" {
		return fmt.Errorf("selection date required")
	}

	roster, err := backend.Students(ctx, sel.ClassName, sel.Section)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	records, err := backend.Attendance(ctx, sel.Date, sel.ClassName, sel.Section)
	if err != nil {
		return fmt.Errorf("load attendance: %w", err)
	}

	buffer := make(map[string]apiclient.Status, len(records))
	for _, rec := range records {
		buffer[rec.StudentID] = rec.Status
	}

	s.mu.Lock()
	s.roster = roster
	s.buffer = buffer
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Roster returns the loaded students.
func (s *Sheet) Roster() []apiclient.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]apiclient.Student(nil), s.roster...)
}

// Visible filters the roster by a case-insensitive substring match over name
// and roll number. An empty search returns the full roster.
func (s *Sheet) Visible(search string) []apiclient.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked(search)
}

func (s *Sheet) visibleLocked(search string) []apiclient.Student {
	if search == "" {
		return append([]apiclient.Student(nil), s.roster...)
	}
	needle := strings.ToLower(search)
	var out []apiclient.Student
	for _, st := range s.roster {
		if strings.Contains(strings.ToLower(st.Name), needle) ||
			strings.Contains(strings.ToLower(st.RollNumber), needle) {
			out = append(out, st)
		}
	}
	return out
}

// Mark sets one student's pending status and flags the sheet dirty.
func (s *Sheet) Mark(studentID string, status apiclient.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	if studentID == "" {
		return fmt.Errorf("student id required")
	}
	s.mu.Lock()
	s.buffer[studentID] = status
	s.dirty = true
	s.mu.Unlock()
	return nil
}

// MarkAllVisible applies one status to every student matching the search,
// leaving the rest of the roster untouched. Returns the number of students
// marked; zero matches leave the sheet unmodified.
func (s *Sheet) MarkAllVisible(search string, status apiclient.Status) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	visible := s.visibleLocked(search)
	for _, st := range visible {
		s.buffer[st.ID] = status
	}
	if len(visible) > 0 {
		s.dirty = true
	}
	return len(visible), nil
}

// Entries returns a copy of the pending buffer.
func (s *Sheet) Entries() map[string]apiclient.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]apiclient.Status, len(s.buffer))
	for id, st := range s.buffer {
		out[id] = st
	}
	return out
}

// Dirty reports whether the buffer differs from the last saved state.
func (s *Sheet) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Stats summarizes the buffer against the visible roster.
type Stats struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
}

// Stats counts buffered statuses; Total is the visible roster size.
func (s *Sheet) Stats(search string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{Total: len(s.visibleLocked(search))}
	for _, st := range s.buffer {
		switch st {
		case apiclient.StatusPresent:
			stats.Present++
		case apiclient.StatusAbsent:
			stats.Absent++
		case apiclient.StatusLate:
			stats.Late++
		}
	}
	return stats
}

// Save partitions the buffer by status and issues one persist call per
// non-empty group, all dispatched concurrently and awaited jointly. The dirty
// flag clears only when every group succeeds; any rejection leaves it set, so
// a retry re-sends all groups. The backend upserts per (student, date), which
// keeps that re-send harmless.
func (s *Sheet) Save(ctx context.Context, backend Backend, method apiclient.Method) error {
	s.mu.Lock()
	sel := s.sel
	groups := make(map[apiclient.Status][]string)
	for id, status := range s.buffer {
		groups[status] = append(groups[status], id)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, status := range []apiclient.Status{apiclient.StatusPresent, apiclient.StatusAbsent, apiclient.StatusLate} {
		ids := groups[status]
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		req := apiclient.MarkRequest{
			StudentIDs: ids,
			Date:       sel.Date,
			Status:     status,
			Method:     method,
		}
		g.Go(func() error {
			return backend.MarkAttendance(gctx, req)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// RecognitionCandidates returns the visible students not yet present in the
// recognition log.
func (s *Sheet) RecognitionCandidates(search string) []apiclient.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.recognized))
	for _, r := range s.recognized {
		seen[r.ID] = true
	}
	var out []apiclient.Student
	for _, st := range s.visibleLocked(search) {
		if !seen[st.ID] {
			out = append(out, st)
		}
	}
	return out
}

// ApplyRecognition marks each matched student present through the ordinary
// edit path and appends them to the recognition log with a capture timestamp.
// Students already in the log are skipped.
func (s *Sheet) ApplyRecognition(matches []apiclient.Student, capturedAt time.Time) []Recognized {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.recognized))
	for _, r := range s.recognized {
		seen[r.ID] = true
	}
	var added []Recognized
	for _, st := range matches {
		if st.ID == "" || seen[st.ID] {
			continue
		}
		s.buffer[st.ID] = apiclient.StatusPresent
		s.dirty = true
		entry := Recognized{ID: st.ID, Name: st.Name, PhotoURL: st.PhotoURL, Timestamp: capturedAt}
		s.recognized = append(s.recognized, entry)
		seen[st.ID] = true
		added = append(added, entry)
	}
	return added
}

// RecognizedLog returns the ordered recognition log.
func (s *Sheet) RecognizedLog() []Recognized {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recognized(nil), s.recognized...)
}

// ClearRecognized empties the recognition log. Buffered statuses are kept.
func (s *Sheet) ClearRecognized() {
	s.mu.Lock()
	s.recognized = nil
	s.mu.Unlock()
}
