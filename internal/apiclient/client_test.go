package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, token string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, time.Second, StaticToken(token))
}

func TestBearerAttached(t *testing.T) {
	var gotAuthz string
	c := testClient(t, "abc", func(w http.ResponseWriter, r *http.Request) {
		gotAuthz = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(DashboardSummary{})
	})

	_, err := c.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", gotAuthz)
}

func TestNoBearerWithoutToken(t *testing.T) {
	var gotAuthz string
	c := testClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		gotAuthz = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(DashboardSummary{})
	})

	_, err := c.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuthz)
}

func TestUnauthorizedFiresHook(t *testing.T) {
	c := testClient(t, "stale", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid session"})
	})

	fired := 0
	c.OnUnauthorized(func() { fired++ })

	_, err := c.Dashboard(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, 1, fired)
	assert.Equal(t, "Invalid session", UserMessage(err, "fallback"))
}

func TestRejectionMessageShapes(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"detail":"from detail"}`, "from detail"},
		{`{"error":"from error"}`, "from error"},
		{`{"message":"from message"}`, "from message"},
		{`not json`, "fallback"},
	}
	for _, tc := range cases {
		c := testClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(tc.body))
		})
		_, err := c.Classes(context.Background())
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, tc.want, UserMessage(err, "fallback"), "body %q", tc.body)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, IsUnauthorized},
		{http.StatusForbidden, IsForbidden},
		{http.StatusNotFound, IsNotFound},
		{http.StatusInternalServerError, IsServerError},
		{http.StatusBadGateway, IsServerError},
		{http.StatusBadRequest, IsValidation},
	}
	for _, tc := range cases {
		c := testClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := c.Dashboard(context.Background())
		require.Error(t, err, "status %d", tc.status)
		assert.True(t, tc.check(err), "status %d", tc.status)
	}
}

func TestSessionDataSendsHeaderNotBearer(t *testing.T) {
	var gotSessionID, gotAuthz string
	c := testClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = r.Header.Get("X-Session-ID")
		gotAuthz = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(SessionData{SessionToken: "tok"})
	})

	data, err := c.SessionData(context.Background(), "one-time")
	require.NoError(t, err)
	assert.Equal(t, "one-time", gotSessionID)
	assert.Empty(t, gotAuthz)
	assert.Equal(t, "tok", data.SessionToken)
}

func TestSessionDataRejectsEmptyToken(t *testing.T) {
	c := testClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SessionData{Name: "N"})
	})

	_, err := c.SessionData(context.Background(), "one-time")
	assert.Error(t, err, "an exchange without a token is unusable")
}

func TestSessionDataRequiresID(t *testing.T) {
	c := New("http://unused", time.Second, StaticToken(""))
	_, err := c.SessionData(context.Background(), "")
	assert.Error(t, err)
}

func TestMarkAttendanceValidation(t *testing.T) {
	c := New("http://unused", time.Second, StaticToken("t"))

	err := c.MarkAttendance(context.Background(), MarkRequest{Date: "2026-08-29", Status: StatusPresent})
	assert.Error(t, err, "empty student list")

	err = c.MarkAttendance(context.Background(), MarkRequest{StudentIDs: []string{"s1"}, Date: "2026-08-29", Status: "excused"})
	assert.Error(t, err, "invalid status")
}

func TestAttendanceRequiresDate(t *testing.T) {
	c := New("http://unused", time.Second, StaticToken("t"))
	_, err := c.Attendance(context.Background(), "", "", "")
	assert.Error(t, err)
}

func TestExportReportRejectsUnknownFormat(t *testing.T) {
	c := New("http://unused", time.Second, StaticToken("t"))
	_, _, err := c.ExportReport(context.Background(), ReportQuery{}, "xlsx")
	assert.Error(t, err)
}

func TestStudentsForwardsFilters(t *testing.T) {
	var gotQuery string
	c := testClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]Student{{ID: "s1"}})
	})

	students, err := c.Students(context.Background(), "5", "A")
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Contains(t, gotQuery, "class_name=5")
	assert.Contains(t, gotQuery, "section=A")
}

func TestWithTokenSourceDoesNotMutateOriginal(t *testing.T) {
	var gotAuthz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthz = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(DashboardSummary{})
	}))
	t.Cleanup(srv.Close)

	base := New(srv.URL, time.Second, StaticToken(""))
	scoped := base.WithTokenSource(StaticToken("scoped"))

	_, err := scoped.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer scoped", gotAuthz)

	_, err = base.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuthz)
}
