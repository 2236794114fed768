package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// TokenSource supplies the bearer credential for outgoing calls. The ui
// server backs it with the per-request session cookie; the worker uses a
// static token. A call proceeds without an Authorization header when no
// token is available.
type TokenSource interface {
	Token() (string, bool)
}

// StaticToken is a fixed-credential TokenSource.
type StaticToken string

// Token returns the token; an empty value means unauthenticated.
func (t StaticToken) Token() (string, bool) { return string(t), t != "" }

// Client calls the analytics backend REST API. All paths are relative to the
// configured base URL + /api.
type Client struct {
	base           string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func()
}

// New creates a client with the given base URL and per-request timeout.
func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   baseURL + "/api",
		tokens: tokens,
		http:   &http.Client{Timeout: timeout},
	}
}

// WithTokenSource returns a shallow copy bound to a different credential
// source. The ui server uses this to scope one client to one request's cookie.
func (c *Client) WithTokenSource(tokens TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

// OnUnauthorized registers a hook invoked once per 401-rejected call, before
// the error is returned to the call site.
func (c *Client) OnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// SessionData exchanges a one-time session identifier for the durable
// credential and identity payload. The identifier travels in a header rather
// than the query string so it stays out of caches and access logs.
func (c *Client) SessionData(ctx context.Context, sessionID string) (SessionData, error) {
	if sessionID == "" {
		return SessionData{}, fmt.Errorf("session id required")
	}
	var out SessionData
	err := c.do(ctx, http.MethodGet, "/auth/session-data", nil, nil, &out, func(req *http.Request) {
		req.Header.Set("X-Session-ID", sessionID)
	})
	if err != nil {
		return SessionData{}, err
	}
	if out.SessionToken == "" {
		return SessionData{}, fmt.Errorf("session exchange returned no token")
	}
	return out, nil
}

// Logout invalidates the current credential on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil, nil)
}

// Dashboard fetches the dashboard summary for the signed-in user.
func (c *Client) Dashboard(ctx context.Context) (DashboardSummary, error) {
	var out DashboardSummary
	err := c.do(ctx, http.MethodGet, "/analytics/dashboard", nil, nil, &out, nil)
	return out, err
}

// Insights requests AI-assisted analytics over a date range.
func (c *Client) Insights(ctx context.Context, req InsightsRequest) (InsightsResponse, error) {
	var out InsightsResponse
	err := c.do(ctx, http.MethodPost, "/analytics/insights", nil, req, &out, nil)
	return out, err
}

// Reports fetches the aggregated report for a window and optional filters.
func (c *Client) Reports(ctx context.Context, q ReportQuery) (ReportResponse, error) {
	var out ReportResponse
	err := c.do(ctx, http.MethodGet, "/analytics/reports", reportValues(q, ""), nil, &out, nil)
	return out, err
}

// ExportReport streams a csv or pdf rendition of the report. The caller owns
// the returned body.
func (c *Client) ExportReport(ctx context.Context, q ReportQuery, format string) (io.ReadCloser, string, error) {
	if format != "csv" && format != "pdf" {
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/analytics/export-report", reportValues(q, format), nil)
	if err != nil {
		return nil, "", err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observe("/analytics/export-report", 0)
		return nil, "", fmt.Errorf("backend request failed: %w", err)
	}
	observe("/analytics/export-report", resp.StatusCode)
	log.Printf("api GET /analytics/export-report -> %d (%s)", resp.StatusCode, time.Since(start).Round(time.Millisecond))
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, "", c.rejection(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Classes fetches the class name to sections mapping.
func (c *Client) Classes(ctx context.Context) (Classes, error) {
	var out Classes
	err := c.do(ctx, http.MethodGet, "/classes", nil, nil, &out, nil)
	return out, err
}

// Students fetches the roster, optionally filtered by class and section.
// Empty filters mean all students.
func (c *Client) Students(ctx context.Context, className, section string) ([]Student, error) {
	vals := url.Values{}
	if className != "" {
		vals.Set("class_name", className)
	}
	if section != "" {
		vals.Set("section", section)
	}
	var out []Student
	err := c.do(ctx, http.MethodGet, "/students", vals, nil, &out, nil)
	return out, err
}

// AddStudent creates a student via multipart form, with an optional photo part.
func (c *Client) AddStudent(ctx context.Context, ns NewStudent) (Student, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"name":           ns.Name,
		"roll_number":    ns.RollNumber,
		"class_name":     ns.ClassName,
		"section":        ns.Section,
		"date_of_birth":  ns.DateOfBirth,
		"parent_name":    ns.ParentName,
		"parent_contact": ns.ParentContact,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return Student{}, err
		}
	}
	if len(ns.Photo) > 0 {
		name := ns.PhotoFilename
		if name == "" {
			name = "photo.jpg"
		}
		part, err := mw.CreateFormFile("photo", name)
		if err != nil {
			return Student{}, err
		}
		if _, err := part.Write(ns.Photo); err != nil {
			return Student{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Student{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/students", nil, &buf)
	if err != nil {
		return Student{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Student
	if err := c.send(req, "/students", &out); err != nil {
		return Student{}, err
	}
	return out, nil
}

// Attendance fetches the persisted records for one date and optional filters.
func (c *Client) Attendance(ctx context.Context, date, className, section string) ([]AttendanceEntry, error) {
	if date == "" {
		return nil, fmt.Errorf("date required")
	}
	vals := url.Values{}
	vals.Set("date", date)
	if className != "" {
		vals.Set("class_name", className)
	}
	if section != "" {
		vals.Set("section", section)
	}
	var out []AttendanceEntry
	err := c.do(ctx, http.MethodGet, "/attendance", vals, nil, &out, nil)
	return out, err
}

// MarkAttendance persists one status for a group of students.
func (c *Client) MarkAttendance(ctx context.Context, req MarkRequest) error {
	if len(req.StudentIDs) == 0 {
		return fmt.Errorf("no students to mark")
	}
	if !req.Status.Valid() {
		return fmt.Errorf("invalid status %q", req.Status)
	}
	return c.do(ctx, http.MethodPost, "/attendance/mark", nil, req, nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, vals url.Values, body io.Reader) (*http.Request, error) {
	u := c.base + path
	if len(vals) > 0 {
		u += "?" + vals.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if token, ok := c.tokens.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, vals url.Values, body, out any, mutate func(*http.Request)) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, path, vals, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	return c.send(req, path, out)
}

func (c *Client) send(req *http.Request, endpoint string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observe(endpoint, 0)
		log.Printf("api %s %s failed: %v", req.Method, endpoint, err)
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()
	observe(endpoint, resp.StatusCode)
	log.Printf("api %s %s -> %d (%s)", req.Method, endpoint, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode >= 300 {
		return c.rejection(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// rejection converts a non-2xx response into *Error, firing the unauthorized
// hook for 401s. The backend reports failures as {"detail": ...} or
// {"error": ...}; both are accepted.
func (c *Client) rejection(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Detail  string `json:"detail"`
		ErrMsg  string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &parsed)
	msg := parsed.Detail
	if msg == "" {
		msg = parsed.ErrMsg
	}
	if msg == "" {
		msg = parsed.Message
	}
	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}

func reportValues(q ReportQuery, format string) url.Values {
	vals := url.Values{}
	if q.StartDate != "" {
		vals.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		vals.Set("end_date", q.EndDate)
	}
	if q.ClassName != "" {
		vals.Set("class_name", q.ClassName)
	}
	if q.Section != "" {
		vals.Set("section", q.Section)
	}
	if format != "" {
		vals.Set("format", format)
	}
	return vals
}
