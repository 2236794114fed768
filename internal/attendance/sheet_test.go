package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyansiiii/attendance/internal/apiclient"
)

// fakeBackend records mark calls and serves a fixed roster and record set.
type fakeBackend struct {
	mu       sync.Mutex
	students []apiclient.Student
	records  []apiclient.AttendanceEntry
	failFor  map[apiclient.Status]error
	marks    []apiclient.MarkRequest
}

func (f *fakeBackend) Students(ctx context.Context, className, section string) ([]apiclient.Student, error) {
	return f.students, nil
}

func (f *fakeBackend) Attendance(ctx context.Context, date, className, section string) ([]apiclient.AttendanceEntry, error) {
	return f.records, nil
}

func (f *fakeBackend) MarkAttendance(ctx context.Context, req apiclient.MarkRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[req.Status]; err != nil {
		return err
	}
	f.marks = append(f.marks, req)
	return nil
}

func (f *fakeBackend) markedStatuses() map[apiclient.Status]apiclient.MarkRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[apiclient.Status]apiclient.MarkRequest, len(f.marks))
	for _, m := range f.marks {
		out[m.Status] = m
	}
	return out
}

func roster() []apiclient.Student {
	return []apiclient.Student{
		{ID: "s1", Name: "Aarav Sharma", RollNumber: "101"},
		{ID: "s2", Name: "Diya Patel", RollNumber: "102"},
		{ID: "s3", Name: "Kabir Singh", RollNumber: "203"},
		{ID: "s4", Name: "Meera Nair", RollNumber: "204"},
	}
}

func loadedSheet(t *testing.T, backend *fakeBackend) *Sheet {
	t.Helper()
	sheet := NewSheet(Selection{Date: "2026-08-29", ClassName: "5", Section: "A"})
	require.NoError(t, sheet.Load(context.Background(), backend))
	return sheet
}

func TestLoadSeedsBufferLastWriteWins(t *testing.T) {
	backend := &fakeBackend{
		students: roster(),
		records: []apiclient.AttendanceEntry{
			{StudentID: "s1", Status: apiclient.StatusPresent},
			{StudentID: "s2", Status: apiclient.StatusAbsent},
			// Duplicate record for s1; the later one wins.
			{StudentID: "s1", Status: apiclient.StatusLate},
		},
	}
	sheet := loadedSheet(t, backend)

	entries := sheet.Entries()
	assert.Equal(t, apiclient.StatusLate, entries["s1"])
	assert.Equal(t, apiclient.StatusAbsent, entries["s2"])
	assert.Len(t, entries, 2)
	assert.False(t, sheet.Dirty(), "a fresh load is clean")
}

func TestLoadRequiresDate(t *testing.T) {
	sheet := NewSheet(Selection{})
	assert.Error(t, sheet.Load(context.Background(), &fakeBackend{}))
}

func TestMarkSetsDirty(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})

	require.NoError(t, sheet.Mark("s1", apiclient.StatusPresent))
	assert.True(t, sheet.Dirty())
	assert.Equal(t, apiclient.StatusPresent, sheet.Entries()["s1"])

	// Re-marking overwrites, it does not accumulate.
	require.NoError(t, sheet.Mark("s1", apiclient.StatusAbsent))
	assert.Equal(t, apiclient.StatusAbsent, sheet.Entries()["s1"])
	assert.Len(t, sheet.Entries(), 1)
}

func TestMarkRejectsInvalidStatus(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})
	assert.Error(t, sheet.Mark("s1", "excused"))
	assert.Error(t, sheet.Mark("", apiclient.StatusPresent))
	assert.False(t, sheet.Dirty())
}

func TestVisibleFiltersNameAndRoll(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})

	assert.Len(t, sheet.Visible(""), 4)

	byName := sheet.Visible("diya")
	require.Len(t, byName, 1)
	assert.Equal(t, "s2", byName[0].ID)

	byRoll := sheet.Visible("20")
	require.Len(t, byRoll, 2)

	assert.Empty(t, sheet.Visible("zzz"))
}

func TestMarkAllVisibleScopedToSearch(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})

	count, err := sheet.MarkAllVisible("20", apiclient.StatusPresent)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, sheet.Dirty())

	entries := sheet.Entries()
	assert.Equal(t, apiclient.StatusPresent, entries["s3"])
	assert.Equal(t, apiclient.StatusPresent, entries["s4"])
	_, marked := entries["s1"]
	assert.False(t, marked, "students outside the filter are untouched")
}

func TestMarkAllVisibleNoMatches(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})

	count, err := sheet.MarkAllVisible("nobody", apiclient.StatusAbsent)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, sheet.Dirty())
	assert.Empty(t, sheet.Entries())
}

func TestStatsCountBufferAgainstVisible(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})
	require.NoError(t, sheet.Mark("s1", apiclient.StatusPresent))
	require.NoError(t, sheet.Mark("s2", apiclient.StatusAbsent))
	require.NoError(t, sheet.Mark("s3", apiclient.StatusLate))

	stats := sheet.Stats("")
	assert.Equal(t, Stats{Total: 4, Present: 1, Absent: 1, Late: 1}, stats)

	filtered := sheet.Stats("20")
	assert.Equal(t, 2, filtered.Total, "total follows the filtered view")
}

func TestSavePartitionsByStatus(t *testing.T) {
	backend := &fakeBackend{students: roster()}
	sheet := loadedSheet(t, backend)
	require.NoError(t, sheet.Mark("s2", apiclient.StatusPresent))
	require.NoError(t, sheet.Mark("s1", apiclient.StatusPresent))
	require.NoError(t, sheet.Mark("s3", apiclient.StatusAbsent))
	require.NoError(t, sheet.Mark("s4", apiclient.StatusLate))

	require.NoError(t, sheet.Save(context.Background(), backend, apiclient.MethodManual))

	marks := backend.markedStatuses()
	require.Len(t, marks, 3, "one call per non-empty status group")
	assert.Equal(t, []string{"s1", "s2"}, marks[apiclient.StatusPresent].StudentIDs)
	assert.Equal(t, []string{"s3"}, marks[apiclient.StatusAbsent].StudentIDs)
	assert.Equal(t, []string{"s4"}, marks[apiclient.StatusLate].StudentIDs)
	for _, m := range marks {
		assert.Equal(t, "2026-08-29", m.Date)
		assert.Equal(t, apiclient.MethodManual, m.Method)
	}
	assert.False(t, sheet.Dirty())
}

func TestSaveSkipsEmptyGroups(t *testing.T) {
	backend := &fakeBackend{students: roster()}
	sheet := loadedSheet(t, backend)
	require.NoError(t, sheet.Mark("s1", apiclient.StatusPresent))

	require.NoError(t, sheet.Save(context.Background(), backend, apiclient.MethodManual))
	assert.Len(t, backend.markedStatuses(), 1)
}

func TestSavePartialFailureKeepsDirty(t *testing.T) {
	backend := &fakeBackend{
		students: roster(),
		failFor:  map[apiclient.Status]error{apiclient.StatusAbsent: errors.New("boom")},
	}
	sheet := loadedSheet(t, backend)
	require.NoError(t, sheet.Mark("s1", apiclient.StatusPresent))
	require.NoError(t, sheet.Mark("s2", apiclient.StatusAbsent))

	err := sheet.Save(context.Background(), backend, apiclient.MethodManual)
	require.Error(t, err)
	assert.True(t, sheet.Dirty(), "a failed group leaves the sheet dirty")

	// A retry after the fault clears re-sends everything and succeeds.
	backend.failFor = nil
	require.NoError(t, sheet.Save(context.Background(), backend, apiclient.MethodManual))
	assert.False(t, sheet.Dirty())
}

func TestRecognitionFlow(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})
	now := time.Now().UTC()

	added := sheet.ApplyRecognition([]apiclient.Student{
		{ID: "s1", Name: "Aarav Sharma"},
		{ID: "s2", Name: "Diya Patel"},
	}, now)
	require.Len(t, added, 2)
	assert.True(t, sheet.Dirty())
	assert.Equal(t, apiclient.StatusPresent, sheet.Entries()["s1"])
	assert.Equal(t, apiclient.StatusPresent, sheet.Entries()["s2"])

	// Recognized students drop out of the candidate pool.
	candidates := sheet.RecognitionCandidates("")
	ids := make([]string, 0, len(candidates))
	for _, st := range candidates {
		ids = append(ids, st.ID)
	}
	assert.ElementsMatch(t, []string{"s3", "s4"}, ids)

	// Re-recognizing an already logged student is a no-op.
	again := sheet.ApplyRecognition([]apiclient.Student{{ID: "s1"}}, now)
	assert.Empty(t, again)
	assert.Len(t, sheet.RecognizedLog(), 2)
}

func TestClearRecognizedKeepsBuffer(t *testing.T) {
	sheet := loadedSheet(t, &fakeBackend{students: roster()})
	sheet.ApplyRecognition([]apiclient.Student{{ID: "s1"}}, time.Now())

	sheet.ClearRecognized()
	assert.Empty(t, sheet.RecognizedLog())
	assert.Equal(t, apiclient.StatusPresent, sheet.Entries()["s1"], "statuses survive a log reset")
	assert.Len(t, sheet.RecognitionCandidates(""), 4, "cleared students are eligible again")
}

func TestSheetStore(t *testing.T) {
	store := NewSheetStore()
	_, ok := store.Get("tok")
	assert.False(t, ok)

	first := NewSheet(Selection{Date: "2026-08-28"})
	store.Put("tok", first)
	got, ok := store.Get("tok")
	require.True(t, ok)
	assert.Same(t, first, got)

	// Replacing the sheet is how a selection change discards edits.
	second := NewSheet(Selection{Date: "2026-08-29"})
	store.Put("tok", second)
	got, _ = store.Get("tok")
	assert.Same(t, second, got)

	store.Delete("tok")
	_, ok = store.Get("tok")
	assert.False(t, ok)
}
