package stubapi

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Cyansiiii/attendance/internal/apiclient"
)

// ErrDuplicateRoll means a student with the same roll number already exists
// in the class/section.
var ErrDuplicateRoll = errors.New("student with this roll number already exists")

// ErrSessionConsumed means a one-time session id was already exchanged or
// never existed.
var ErrSessionConsumed = errors.New("invalid or consumed session id")

// Store persists the stub backend's data in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT UNIQUE NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL DEFAULT 'teacher',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS one_time_sessions (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			consumed   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS sessions (
			token      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			expires_at TIMESTAMPTZ NOT NULL,
			revoked    BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS students (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			roll_number       TEXT NOT NULL,
			class_name        TEXT NOT NULL,
			section           TEXT NOT NULL,
			date_of_birth     TEXT NOT NULL DEFAULT '',
			parent_name       TEXT NOT NULL DEFAULT '',
			parent_contact    TEXT NOT NULL DEFAULT '',
			photo_url         TEXT NOT NULL DEFAULT '',
			enrollment_status TEXT NOT NULL DEFAULT 'active',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (roll_number, class_name, section)
		);

		CREATE TABLE IF NOT EXISTS attendance (
			id         TEXT PRIMARY KEY,
			student_id TEXT NOT NULL REFERENCES students(id),
			date       TEXT NOT NULL,
			status     TEXT NOT NULL,
			method     TEXT NOT NULL DEFAULT 'manual',
			marked_by  TEXT NOT NULL DEFAULT '',
			marked_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (student_id, date)
		);

		CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);
	`)
	return err
}

// CreateOneTimeSession mints a single-use login identifier.
func (s *Store) CreateOneTimeSession(ctx context.Context, email, name string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO one_time_sessions (id, email, name) VALUES ($1, $2, $3)
	`, id, email, name)
	return id, err
}

// ConsumeOneTimeSession exchanges a single-use identifier exactly once.
func (s *Store) ConsumeOneTimeSession(ctx context.Context, id string) (email, name string, err error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE one_time_sessions SET consumed = TRUE
		WHERE id = $1 AND NOT consumed
		RETURNING email, name
	`, id)
	if err := row.Scan(&email, &name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrSessionConsumed
		}
		return "", "", err
	}
	return email, name, nil
}

// UpsertUser ensures a user exists and returns its id and role.
func (s *Store) UpsertUser(ctx context.Context, email, name string) (id, role string, err error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, last_login)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (email) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END,
			last_login = NOW()
		RETURNING id, role
	`, uuid.NewString(), email, name)
	if err := row.Scan(&id, &role); err != nil {
		return "", "", err
	}
	return id, role, nil
}

// SaveSession records an issued token so logout can revoke it.
func (s *Store) SaveSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	return err
}

// SessionRevoked reports whether a token has been revoked.
func (s *Store) SessionRevoked(ctx context.Context, token string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT revoked FROM sessions WHERE token = $1`, token).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown tokens fail signature validation anyway.
		return false, nil
	}
	return revoked, err
}

// RevokeSession marks a token revoked.
func (s *Store) RevokeSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// CreateStudent inserts a student, rejecting duplicate roll numbers within
// the class/section.
func (s *Store) CreateStudent(ctx context.Context, st *apiclient.Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.EnrollmentStatus == "" {
		st.EnrollmentStatus = "active"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, name, roll_number, class_name, section, date_of_birth, parent_name, parent_contact, photo_url, enrollment_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, st.ID, st.Name, st.RollNumber, st.ClassName, st.Section, st.DateOfBirth, st.ParentName, st.ParentContact, st.PhotoURL, st.EnrollmentStatus)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRoll
		}
		return err
	}
	return nil
}

const studentColumns = `id, name, roll_number, class_name, section, date_of_birth, parent_name, parent_contact, photo_url, enrollment_status`

func scanStudent(row interface{ Scan(...any) error }) (apiclient.Student, error) {
	var st apiclient.Student
	err := row.Scan(&st.ID, &st.Name, &st.RollNumber, &st.ClassName, &st.Section,
		&st.DateOfBirth, &st.ParentName, &st.ParentContact, &st.PhotoURL, &st.EnrollmentStatus)
	return st, err
}

// ListStudents returns students, optionally filtered by class and section.
func (s *Store) ListStudents(ctx context.Context, className, section string) ([]apiclient.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE 1=1`
	args := []any{}
	if className != "" {
		args = append(args, className)
		query += " AND class_name = $" + strconv.Itoa(len(args))
	}
	if section != "" {
		args = append(args, section)
		query += " AND section = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY class_name, section, roll_number"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []apiclient.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// GetStudent returns one student, nil when absent.
func (s *Store) GetStudent(ctx context.Context, id string) (*apiclient.Student, error) {
	st, err := scanStudent(s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// MarkAttendance upserts one status per (student, date), so re-sent groups
// after a partial save failure stay harmless.
func (s *Store) MarkAttendance(ctx context.Context, studentIDs []string, date, status, method, markedBy string) error {
	for _, studentID := range studentIDs {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attendance (id, student_id, date, status, method, marked_by, marked_at)
			VALUES ($1,$2,$3,$4,$5,$6,NOW())
			ON CONFLICT (student_id, date) DO UPDATE SET
				status = EXCLUDED.status,
				method = EXCLUDED.method,
				marked_by = EXCLUDED.marked_by,
				marked_at = NOW()
		`, uuid.NewString(), studentID, date, status, method, markedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListAttendance returns the records for a date, filtered through the
// student's class and section.
func (s *Store) ListAttendance(ctx context.Context, date, className, section string) ([]apiclient.AttendanceEntry, error) {
	query := `
		SELECT a.student_id, a.status
		FROM attendance a
		JOIN students st ON st.id = a.student_id
		WHERE a.date = $1`
	args := []any{date}
	if className != "" {
		args = append(args, className)
		query += " AND st.class_name = $" + strconv.Itoa(len(args))
	}
	if section != "" {
		args = append(args, section)
		query += " AND st.section = $" + strconv.Itoa(len(args))
	}
	query += ` ORDER BY a.marked_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []apiclient.AttendanceEntry
	for rows.Next() {
		var e apiclient.AttendanceEntry
		if err := rows.Scan(&e.StudentID, &e.Status); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountStudents returns the roster size.
func (s *Store) CountStudents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}

// DayCounts returns the present and total marks for a date.
func (s *Store) DayCounts(ctx context.Context, date string) (present, absent, total int, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM attendance WHERE date = $1 GROUP BY status
	`, date)
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, err
		}
		total += n
		switch status {
		case "present":
			present = n
		case "absent":
			absent = n
		}
	}
	return present, absent, total, rows.Err()
}

// ReportRow is one persisted record joined with its student, for reporting.
type ReportRow struct {
	StudentID string
	Name      string
	Roll      string
	ClassName string
	Section   string
	Date      string
	Status    string
	Method    string
}

// ReportRows returns the records in a date window with optional filters.
func (s *Store) ReportRows(ctx context.Context, startDate, endDate, className, section string) ([]ReportRow, error) {
	query := `
		SELECT a.student_id, st.name, st.roll_number, st.class_name, st.section, a.date, a.status, a.method
		FROM attendance a
		JOIN students st ON st.id = a.student_id
		WHERE 1=1`
	args := []any{}
	add := func(clause string, val string) {
		args = append(args, val)
		query += " AND " + clause + "$" + strconv.Itoa(len(args))
	}
	if startDate != "" {
		add("a.date >= ", startDate)
	}
	if endDate != "" {
		add("a.date <= ", endDate)
	}
	if className != "" {
		add("st.class_name = ", className)
	}
	if section != "" {
		add("st.section = ", section)
	}
	query += ` ORDER BY a.date, st.class_name, st.section, st.roll_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		if err := rows.Scan(&r.StudentID, &r.Name, &r.Roll, &r.ClassName, &r.Section, &r.Date, &r.Status, &r.Method); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClassSections groups the roster into class name -> sections with counts.
func (s *Store) ClassSections(ctx context.Context) (apiclient.Classes, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT class_name, section, COUNT(*)
		FROM students
		GROUP BY class_name, section
		ORDER BY class_name, section
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	classes := apiclient.Classes{}
	for rows.Next() {
		var className, section string
		var count int
		if err := rows.Scan(&className, &section, &count); err != nil {
			return nil, err
		}
		classes[className] = append(classes[className], apiclient.ClassSection{Section: section, StudentCount: count})
	}
	return classes, rows.Err()
}
