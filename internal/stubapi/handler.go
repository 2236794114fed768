package stubapi

import (
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cyansiiii/attendance/internal/apiclient"
	"github.com/Cyansiiii/attendance/internal/auth"
	"github.com/Cyansiiii/attendance/internal/cloudinary"
	"github.com/Cyansiiii/attendance/internal/config"
)

// Handler serves the local development backend. It implements the same REST
// surface the ui server's client talks to, so the stack runs end to end
// without the hosted analytics service.
type Handler struct {
	cfg    config.App
	store  *Store
	photos *cloudinary.Client
}

// New creates a handler. photos may be nil; student photos then fall back to
// inline data URLs.
func New(cfg config.App, store *Store, photos *cloudinary.Client) *Handler {
	return &Handler{cfg: cfg, store: store, photos: photos}
}

// Register mounts the routes.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/auth/login", h.devLogin)

	api := r.Group("/api")
	api.GET("/auth/session-data", h.sessionData)

	authed := api.Group("")
	authed.Use(auth.RequireUser(h.cfg.JWTSigningKey, h.cfg.JWTIssuer, h.store.SessionRevoked))
	authed.POST("/auth/logout", h.logout)
	authed.GET("/students", h.listStudents)
	authed.POST("/students", h.addStudent)
	authed.GET("/students/:id", h.getStudent)
	authed.GET("/attendance", h.listAttendance)
	authed.POST("/attendance/mark", h.markAttendance)
	authed.GET("/classes", h.classes)
	authed.GET("/analytics/dashboard", h.dashboard)
	authed.POST("/analytics/insights", h.insights)
	authed.GET("/analytics/reports", h.reports)
	authed.GET("/analytics/export-report", h.exportReport)
}

// devLogin mimics the hosted login flow: it mints a one-time session id and
// either redirects back with it in the URL fragment or returns it as JSON.
func (h *Handler) devLogin(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		email = "teacher@example.com"
	}
	name := c.Query("name")

	id, err := h.store.CreateOneTimeSession(c.Request.Context(), email, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not create session"})
		return
	}

	if redirect := c.Query("redirect"); redirect != "" {
		c.Redirect(http.StatusFound, redirect+"#session_id="+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (h *Handler) sessionData(c *gin.Context) {
	sessionID := c.GetHeader("X-Session-ID")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "X-Session-ID header required"})
		return
	}

	ctx := c.Request.Context()
	email, name, err := h.store.ConsumeOneTimeSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionConsumed) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid session id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Session lookup failed"})
		return
	}

	userID, role, err := h.store.UpsertUser(ctx, email, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not save user"})
		return
	}
	token, expiresAt, err := auth.IssueSession(userID, email, name, role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.SessionTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not issue session"})
		return
	}
	if err := h.store.SaveSession(ctx, token, userID, expiresAt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not save session"})
		return
	}

	if name == "" {
		name = "User"
	}
	c.JSON(http.StatusOK, apiclient.SessionData{
		ID:           userID,
		SessionToken: token,
		Name:         name,
		Email:        email,
		Role:         role,
	})
}

func (h *Handler) logout(c *gin.Context) {
	token := c.GetString("session_token")
	if err := h.store.RevokeSession(c.Request.Context(), token); err != nil {
		log.Printf("revoke session: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.store.ListStudents(c.Request.Context(), c.Query("class_name"), c.Query("section"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not list students"})
		return
	}
	if students == nil {
		students = []apiclient.Student{}
	}
	c.JSON(http.StatusOK, students)
}

func (h *Handler) getStudent(c *gin.Context) {
	st, err := h.store.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not load student"})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Student not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) addStudent(c *gin.Context) {
	st := apiclient.Student{
		Name:          strings.TrimSpace(c.PostForm("name")),
		RollNumber:    strings.TrimSpace(c.PostForm("roll_number")),
		ClassName:     strings.TrimSpace(c.PostForm("class_name")),
		Section:       strings.TrimSpace(c.PostForm("section")),
		DateOfBirth:   c.PostForm("date_of_birth"),
		ParentName:    c.PostForm("parent_name"),
		ParentContact: c.PostForm("parent_contact"),
	}
	if st.Name == "" || st.RollNumber == "" || st.ClassName == "" || st.Section == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "name, roll_number, class_name and section are required"})
		return
	}

	if file, header, err := c.Request.FormFile("photo"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, 8<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Could not read photo"})
			return
		}
		url, err := h.storePhoto(data, header.Filename)
		if err != nil {
			log.Printf("photo upload: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"detail": "Photo upload failed"})
			return
		}
		st.PhotoURL = url
	}

	if err := h.store.CreateStudent(c.Request.Context(), &st); err != nil {
		if errors.Is(err, ErrDuplicateRoll) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Student with this roll number already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not save student"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// storePhoto uploads to Cloudinary when configured, otherwise keeps the image
// inline as a data URL so local development needs no external account.
func (h *Handler) storePhoto(data []byte, filename string) (string, error) {
	if h.photos != nil {
		res, err := h.photos.UploadBytes(data, filename)
		if err != nil {
			return "", err
		}
		return res.SecureURL, nil
	}
	mimeType := "image/jpeg"
	if strings.HasSuffix(strings.ToLower(filename), ".png") {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (h *Handler) listAttendance(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "date is required"})
		return
	}
	entries, err := h.store.ListAttendance(c.Request.Context(), date, c.Query("class_name"), c.Query("section"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not list attendance"})
		return
	}
	if entries == nil {
		entries = []apiclient.AttendanceEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) markAttendance(c *gin.Context) {
	var req apiclient.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}
	if len(req.StudentIDs) == 0 || req.Date == "" || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "student_ids, date and a valid status are required"})
		return
	}
	method := req.Method
	if method == "" {
		method = apiclient.MethodManual
	}

	claims, _ := auth.ClaimsFrom(c)
	err := h.store.MarkAttendance(c.Request.Context(), req.StudentIDs, req.Date, string(req.Status), string(method), claims.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not save attendance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Marked %d students as %s", len(req.StudentIDs), req.Status)})
}

func (h *Handler) classes(c *gin.Context) {
	classes, err := h.store.ClassSections(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not aggregate classes"})
		return
	}
	c.JSON(http.StatusOK, classes)
}

func (h *Handler) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	total, err := h.store.CountStudents(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not load dashboard"})
		return
	}

	today := time.Now().Format("2006-01-02")
	present, absent, _, err := h.store.DayCounts(ctx, today)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not load dashboard"})
		return
	}

	trends := make([]apiclient.TrendPoint, 0, 7)
	for i := 6; i >= 0; i-- {
		date := time.Now().AddDate(0, 0, -i).Format("2006-01-02")
		p, _, t, err := h.store.DayCounts(ctx, date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not load dashboard"})
			return
		}
		trends = append(trends, apiclient.TrendPoint{Date: date, Present: p, Total: t})
	}

	rate := 0.0
	if total > 0 {
		rate = float64(present) / float64(total) * 100
	}
	claims, _ := auth.ClaimsFrom(c)
	c.JSON(http.StatusOK, apiclient.DashboardSummary{
		TotalStudents:  total,
		TodayPresent:   present,
		TodayAbsent:    absent,
		AttendanceRate: rate,
		Trends:         trends,
		UserRole:       claims.Role,
	})
}

func (h *Handler) insights(c *gin.Context) {
	var req apiclient.InsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}

	q := apiclient.ReportQuery{ClassName: req.ClassFilter}
	if req.DateRange != nil {
		q.StartDate = req.DateRange.Start
		q.EndDate = req.DateRange.End
	}
	rows, err := h.store.ReportRows(c.Request.Context(), q.StartDate, q.EndDate, q.ClassName, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not compute insights"})
		return
	}
	total, err := h.store.CountStudents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not compute insights"})
		return
	}

	byStatus := map[string]int{}
	byClass := map[string]int{}
	for _, r := range rows {
		byStatus[r.Status]++
		byClass[r.ClassName]++
	}

	c.JSON(http.StatusOK, apiclient.InsightsResponse{
		Analytics: apiclient.AnalyticsData{
			TotalStudents:          total,
			TotalAttendanceRecords: len(rows),
			AttendanceByStatus:     byStatus,
			AttendanceByClass:      byClass,
		},
		AIInsights:  narrative(total, len(rows), byStatus),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// narrative produces a deterministic summary in place of the hosted AI call.
func narrative(students, records int, byStatus map[string]int) string {
	if records == 0 {
		return "No attendance records in the selected window yet. Mark attendance to start building trends."
	}
	present := byStatus["present"]
	rate := float64(present) / float64(records) * 100
	verdict := "needs attention"
	switch {
	case rate >= 90:
		verdict = "excellent"
	case rate >= 75:
		verdict = "healthy"
	}
	return fmt.Sprintf("Across %d students and %d records, the present rate is %.1f%%, which is %s. "+
		"Absences: %d, late arrivals: %d.", students, records, rate, verdict, byStatus["absent"], byStatus["late"])
}

func (h *Handler) reports(c *gin.Context) {
	rows, err := h.store.ReportRows(c.Request.Context(),
		c.Query("start_date"), c.Query("end_date"), c.Query("class_name"), c.Query("section"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not build report"})
		return
	}
	c.JSON(http.StatusOK, buildReport(rows))
}

func buildReport(rows []ReportRow) apiclient.ReportResponse {
	var summary apiclient.ReportSummary
	byDate := map[string]*apiclient.TrendPoint{}
	byClass := map[string]*apiclient.ClassPerformance{}

	for _, r := range rows {
		summary.TotalRecords++
		switch r.Status {
		case "present":
			summary.PresentCount++
		case "absent":
			summary.AbsentCount++
		case "late":
			summary.LateCount++
		}

		tp := byDate[r.Date]
		if tp == nil {
			tp = &apiclient.TrendPoint{Date: r.Date}
			byDate[r.Date] = tp
		}
		tp.Total++
		if r.Status == "present" {
			tp.Present++
		}

		cp := byClass[r.ClassName]
		if cp == nil {
			cp = &apiclient.ClassPerformance{ClassName: r.ClassName}
			byClass[r.ClassName] = cp
		}
		cp.Total++
		if r.Status == "present" {
			cp.Present++
		}
	}

	if summary.TotalRecords > 0 {
		summary.AttendanceRate = float64(summary.PresentCount) / float64(summary.TotalRecords) * 100
	}

	resp := apiclient.ReportResponse{Summary: summary}
	for _, tp := range byDate {
		resp.DailyTrends = append(resp.DailyTrends, *tp)
	}
	sort.Slice(resp.DailyTrends, func(i, j int) bool { return resp.DailyTrends[i].Date < resp.DailyTrends[j].Date })
	for _, cp := range byClass {
		if cp.Total > 0 {
			cp.Rate = float64(cp.Present) / float64(cp.Total) * 100
		}
		resp.ClassPerformance = append(resp.ClassPerformance, *cp)
	}
	sort.Slice(resp.ClassPerformance, func(i, j int) bool {
		return resp.ClassPerformance[i].ClassName < resp.ClassPerformance[j].ClassName
	})
	return resp
}

func (h *Handler) exportReport(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Only csv export is supported"})
		return
	}

	rows, err := h.store.ReportRows(c.Request.Context(),
		c.Query("start_date"), c.Query("end_date"), c.Query("class_name"), c.Query("section"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not build report"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="attendance_report.csv"`)
	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"date", "student_id", "name", "roll_number", "class_name", "section", "status", "method"})
	for _, r := range rows {
		_ = w.Write([]string{r.Date, r.StudentID, r.Name, r.Roll, r.ClassName, r.Section, r.Status, r.Method})
	}
	w.Flush()
}
