package apiclient

// Status is an attendance outcome for one student on one date.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// Valid reports whether s is one of the three persistable statuses.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusLate
}

// Method describes how an attendance marking session was performed.
type Method string

const (
	MethodManual Method = "manual"
	MethodFacial Method = "facial"
	MethodBatch  Method = "batch"
)

// Student is a backend student record.
type Student struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	RollNumber       string `json:"roll_number"`
	ClassName        string `json:"class_name"`
	Section          string `json:"section"`
	PhotoURL         string `json:"photo_url,omitempty"`
	DateOfBirth      string `json:"date_of_birth,omitempty"`
	ParentName       string `json:"parent_name,omitempty"`
	ParentContact    string `json:"parent_contact,omitempty"`
	EnrollmentStatus string `json:"enrollment_status"`
}

// NewStudent carries the multipart fields for student creation.
type NewStudent struct {
	Name          string
	RollNumber    string
	ClassName     string
	Section       string
	DateOfBirth   string
	ParentName    string
	ParentContact string

	// Optional photo; sent as the "photo" file part when non-empty.
	Photo         []byte
	PhotoFilename string
}

// AttendanceEntry is one persisted (student, status) pair for a queried date.
type AttendanceEntry struct {
	StudentID string `json:"student_id"`
	Status    Status `json:"status"`
}

// MarkRequest persists one status for a group of students on a date.
type MarkRequest struct {
	StudentIDs []string `json:"student_ids"`
	Date       string   `json:"date"`
	Status     Status   `json:"status"`
	Method     Method   `json:"method"`
}

// SessionData is the payload returned by the one-time session exchange.
type SessionData struct {
	ID           string `json:"id,omitempty"`
	SessionToken string `json:"session_token"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Picture      string `json:"picture,omitempty"`
	Role         string `json:"role"`
}

// TrendPoint is one day of the dashboard attendance trend.
type TrendPoint struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Total   int    `json:"total"`
}

// DashboardSummary is the aggregate consumed by the dashboard view.
type DashboardSummary struct {
	TotalStudents  int          `json:"total_students"`
	TodayPresent   int          `json:"today_present"`
	TodayAbsent    int          `json:"today_absent"`
	AttendanceRate float64      `json:"attendance_rate"`
	Trends         []TrendPoint `json:"trends"`
	UserRole       string       `json:"user_role"`
}

// DateRange bounds an analytics query, dates in YYYY-MM-DD.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// InsightsRequest asks the backend for AI-assisted analytics.
type InsightsRequest struct {
	DateRange   *DateRange `json:"date_range,omitempty"`
	ClassFilter string     `json:"class_filter,omitempty"`
}

// AnalyticsData is the structured half of an insights response.
type AnalyticsData struct {
	TotalStudents          int            `json:"total_students"`
	TotalAttendanceRecords int            `json:"total_attendance_records"`
	AttendanceByStatus     map[string]int `json:"attendance_by_status"`
	AttendanceByClass      map[string]int `json:"attendance_by_class"`
}

// InsightsResponse pairs analytics aggregates with a generated narrative.
type InsightsResponse struct {
	Analytics   AnalyticsData `json:"analytics"`
	AIInsights  string        `json:"ai_insights"`
	GeneratedAt string        `json:"generated_at,omitempty"`
}

// ReportQuery filters the reports endpoints.
type ReportQuery struct {
	StartDate string
	EndDate   string
	ClassName string
	Section   string
}

// ReportSummary aggregates a reporting window.
type ReportSummary struct {
	TotalRecords   int     `json:"total_records"`
	PresentCount   int     `json:"present_count"`
	AbsentCount    int     `json:"absent_count"`
	LateCount      int     `json:"late_count"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// ClassPerformance is per-class attendance over a reporting window.
type ClassPerformance struct {
	ClassName string  `json:"class_name"`
	Present   int     `json:"present"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate"`
}

// ReportResponse is the full reports payload.
type ReportResponse struct {
	Summary          ReportSummary      `json:"summary"`
	DailyTrends      []TrendPoint       `json:"daily_trends"`
	ClassPerformance []ClassPerformance `json:"class_performance"`
}

// ClassSection is one section of a class with its roster size.
type ClassSection struct {
	Section      string `json:"section"`
	StudentCount int    `json:"student_count"`
}

// Classes maps class name to its sections.
type Classes map[string][]ClassSection
