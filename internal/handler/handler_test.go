package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyansiiii/attendance/internal/apiclient"
	"github.com/Cyansiiii/attendance/internal/attendance"
	"github.com/Cyansiiii/attendance/internal/config"
	"github.com/Cyansiiii/attendance/internal/queue"
	"github.com/Cyansiiii/attendance/internal/recognition"
	"github.com/Cyansiiii/attendance/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBackend is an in-process stand-in for the analytics backend.
type fakeBackend struct {
	mu       sync.Mutex
	students []apiclient.Student
	records  []apiclient.AttendanceEntry
	marks    []apiclient.MarkRequest
	failAll  int // when non-zero, every request gets this status
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/session-data", func(w http.ResponseWriter, r *http.Request) {
		if f.rejected(w) {
			return
		}
		if r.Header.Get("X-Session-ID") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(apiclient.SessionData{
			SessionToken: "durable-token",
			Name:         "Asha",
			Email:        "asha@example.com",
			Role:         "teacher",
		})
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})
	mux.HandleFunc("/api/analytics/dashboard", func(w http.ResponseWriter, r *http.Request) {
		if f.rejected(w) {
			return
		}
		json.NewEncoder(w).Encode(apiclient.DashboardSummary{TotalStudents: len(f.students), UserRole: "teacher"})
	})
	mux.HandleFunc("/api/students", func(w http.ResponseWriter, r *http.Request) {
		if f.rejected(w) {
			return
		}
		json.NewEncoder(w).Encode(f.students)
	})
	mux.HandleFunc("/api/attendance", func(w http.ResponseWriter, r *http.Request) {
		if f.rejected(w) {
			return
		}
		json.NewEncoder(w).Encode(f.records)
	})
	mux.HandleFunc("/api/attendance/mark", func(w http.ResponseWriter, r *http.Request) {
		if f.rejected(w) {
			return
		}
		var req apiclient.MarkRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.marks = append(f.marks, req)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})
	return mux
}

func (f *fakeBackend) rejected(w http.ResponseWriter) bool {
	f.mu.Lock()
	status := f.failAll
	f.mu.Unlock()
	if status == 0 {
		return false
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": "rejected"})
	return true
}

// pickFirst is a deterministic recognizer for route tests.
type pickFirst struct{}

func (pickFirst) Capture(ctx context.Context) (recognition.Frame, error) {
	return recognition.Frame{}, nil
}

func (pickFirst) Recognize(ctx context.Context, _ recognition.Frame, candidates []apiclient.Student) ([]apiclient.Student, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[:1], nil
}

type fixture struct {
	router  *gin.Engine
	backend *fakeBackend
	jobs    *queue.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := &fakeBackend{
		students: []apiclient.Student{
			{ID: "s1", Name: "Aarav Sharma", RollNumber: "101"},
			{ID: "s2", Name: "Diya Patel", RollNumber: "102"},
		},
	}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	cfg := config.App{LoginURL: "https://login.example/", BackendBaseURL: srv.URL}
	api := apiclient.New(srv.URL, time.Second, apiclient.StaticToken(""))
	jobs := queue.NewInMemory(8)

	h := New(cfg, api, session.NewBootstrapper(api), attendance.NewSheetStore(), pickFirst{}, jobs)
	r := gin.New()
	h.Register(r)
	return &fixture{router: r, backend: backend, jobs: jobs}
}

func (f *fixture) do(method, path string, body any, cookie string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginRedirect(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/auth/login", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://login.example/?redirect=%2Fdashboard", rec.Header().Get("Location"))
}

func TestCallbackSetsCookie(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/auth/callback?session_id=one-time", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.Equal(t, "durable-token", cookies[0].Value)

	var body struct {
		User *session.Identity `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.User)
	assert.Equal(t, "Asha", body.User.Name)
}

func TestCallbackRedirectTarget(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/auth/callback?session_id=one-time&redirect=%2Fdashboard", nil, "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	require.Len(t, rec.Result().Cookies(), 1)
}

func TestCallbackWithFragmentParam(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/auth/callback?fragment=session_id%3Done-time%26state%3Dx", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallbackFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.failAll = http.StatusUnauthorized
	rec := f.do(http.MethodGet, "/auth/callback?session_id=bad", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeWithoutCookie(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/auth/me", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":null}`, rec.Body.String())
}

func TestMeWithCookie(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/auth/me", nil, "tok")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		User *session.Identity `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.User)
	assert.Equal(t, "teacher", body.User.Role)
}

func TestDashboardSessionExpired(t *testing.T) {
	f := newFixture(t)
	f.backend.failAll = http.StatusUnauthorized

	rec := f.do(http.MethodGet, "/ui/dashboard", nil, "stale")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Session expired. Please login again.")
	assert.Contains(t, rec.Body.String(), "/login")
	// The 401 hook also drops the browser credential.
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestSheetRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/ui/attendance/sheet", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSheetRequiresSelection(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/ui/attendance/sheet", nil, "tok")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func selectSheet(t *testing.T, f *fixture) {
	t.Helper()
	rec := f.do(http.MethodPut, "/ui/attendance/sheet",
		attendance.Selection{Date: "2026-08-29", ClassName: "5", Section: "A"}, "tok")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSelectSheetRequiresDate(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPut, "/ui/attendance/sheet", attendance.Selection{ClassName: "5"}, "tok")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkAndSaveFlow(t *testing.T) {
	f := newFixture(t)
	selectSheet(t, f)

	rec := f.do(http.MethodPost, "/ui/attendance/mark",
		map[string]string{"student_id": "s1", "status": "present"}, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dirty":true`)

	rec = f.do(http.MethodPost, "/ui/attendance/mark-all",
		map[string]string{"status": "absent", "search": "diya"}, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"marked":1`)

	rec = f.do(http.MethodPost, "/ui/attendance/save", map[string]string{}, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Attendance saved successfully!")
	assert.Contains(t, rec.Body.String(), `"dirty":false`)

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	require.Len(t, f.backend.marks, 2)
	byStatus := map[apiclient.Status][]string{}
	for _, m := range f.backend.marks {
		byStatus[m.Status] = m.StudentIDs
		assert.Equal(t, "2026-08-29", m.Date)
		assert.Equal(t, apiclient.MethodManual, m.Method)
	}
	assert.Equal(t, []string{"s1"}, byStatus[apiclient.StatusPresent])
	assert.Equal(t, []string{"s2"}, byStatus[apiclient.StatusAbsent])
}

func TestSaveFailureKeepsSheetDirty(t *testing.T) {
	f := newFixture(t)
	selectSheet(t, f)
	f.do(http.MethodPost, "/ui/attendance/mark", map[string]string{"student_id": "s1", "status": "present"}, "tok")

	f.backend.failAll = http.StatusInternalServerError
	rec := f.do(http.MethodPost, "/ui/attendance/save", map[string]string{}, "tok")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.backend.failAll = 0
	rec = f.do(http.MethodGet, "/ui/attendance/sheet", nil, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dirty":true`)
}

func TestRecognizeMarksPresent(t *testing.T) {
	f := newFixture(t)
	selectSheet(t, f)

	rec := f.do(http.MethodPost, "/ui/attendance/recognize", map[string]string{}, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dirty":true`)
	assert.Contains(t, rec.Body.String(), "s1")
}

func TestRecognizeExhaustedPool(t *testing.T) {
	f := newFixture(t)
	selectSheet(t, f)

	// Two students, one recognized per pass.
	f.do(http.MethodPost, "/ui/attendance/recognize", map[string]string{}, "tok")
	f.do(http.MethodPost, "/ui/attendance/recognize", map[string]string{}, "tok")
	rec := f.do(http.MethodPost, "/ui/attendance/recognize", map[string]string{}, "tok")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No eligible students to recognize")
}

func TestClearRecognized(t *testing.T) {
	f := newFixture(t)
	selectSheet(t, f)
	f.do(http.MethodPost, "/ui/attendance/recognize", map[string]string{}, "tok")

	rec := f.do(http.MethodDelete, "/ui/attendance/recognized", nil, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recognized":[]}`, rec.Body.String())
}

func TestQueueCapture(t *testing.T) {
	f := newFixture(t)
	selectSheet(t, f)

	rec := f.do(http.MethodPost, "/ui/attendance/recognize/queue",
		map[string]string{"image_url": "https://cdn/frame.jpg"}, "tok")
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := f.jobs.Consume(ctx)
	require.NoError(t, err)
	job, err := queue.DecodeCaptureJob(<-out)
	require.NoError(t, err)
	assert.Equal(t, "tok", job.Token)
	assert.Equal(t, "2026-08-29", job.Date)
	assert.Equal(t, "https://cdn/frame.jpg", job.ImageURL)
}

func TestLogoutDropsSheetAndCookie(t *testing.T) {
	f := newFixture(t)
	selectSheet(t, f)

	rec := f.do(http.MethodPost, "/auth/logout", nil, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

	rec = f.do(http.MethodGet, "/ui/attendance/sheet", nil, "tok")
	assert.Equal(t, http.StatusConflict, rec.Code, "the sheet is gone after logout")
}
