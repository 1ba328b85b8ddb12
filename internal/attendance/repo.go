// Package attendance is the durable ledger of attendance records. Uniqueness
// is enforced on (student, course, date): the first mark for a day wins and a
// second insert surfaces as ErrDuplicateRecord for callers to translate.
package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Record statuses.
const (
	StatusPresent = "PRESENT"
	StatusLate    = "LATE"
	StatusAbsent  = "ABSENT"
)

// ErrDuplicateRecord signals a (student, course, date) uniqueness violation.
var ErrDuplicateRecord = errors.New("attendance record already exists")

// Record is one attendance mark.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	CourseID  string    `json:"course_id"`
	Date      time.Time `json:"date"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateRecord inserts a new record for (studentID, courseID, date). A second
// insert for the same triple returns ErrDuplicateRecord.
func (r *Repository) CreateRecord(ctx context.Context, studentID, courseID string, date time.Time, status string) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		CourseID:  courseID,
		Date:      date,
		Status:    status,
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.CourseID, rec.Date, rec.Status)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrDuplicateRecord
		}
		return Record{}, err
	}
	return rec, nil
}

// FillAbsences inserts an ABSENT record for every enrolled student without a
// mark for (courseID, date). Existing rows are left untouched, so a PRESENT or
// LATE mark is never downgraded by this path. Returns the number of rows added.
func (r *Repository) FillAbsences(ctx context.Context, courseID string, date time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, date, status)
		SELECT gen_random_uuid(), e.student_id, e.course_id, $2, $3
		FROM enrollments e
		WHERE e.course_id = $1
		ON CONFLICT (student_id, course_id, date) DO NOTHING
	`, courseID, date, StatusAbsent)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OverrideStatus upserts a record with the given status, overwriting whatever
// is there. Manual-correction path for instructors.
func (r *Repository) OverrideStatus(ctx context.Context, studentID, courseID string, date time.Time, status string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, date, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		ON CONFLICT (student_id, course_id, date) DO UPDATE SET status = EXCLUDED.status
	`, studentID, courseID, date, status)
	return err
}

// ListForStudent returns a student's own records, newest first.
func (r *Repository) ListForStudent(ctx context.Context, studentID string, limit, offset int) ([]Record, error) {
	return r.list(ctx, `
		SELECT id, student_id, course_id, date, status, created_at
		FROM attendance_records
		WHERE student_id = $1
		ORDER BY date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
}

// ListForProfessor returns records across the professor's courses, newest first.
func (r *Repository) ListForProfessor(ctx context.Context, professorID string, limit, offset int) ([]Record, error) {
	return r.list(ctx, `
		SELECT a.id, a.student_id, a.course_id, a.date, a.status, a.created_at
		FROM attendance_records a
		JOIN courses c ON c.id = a.course_id
		WHERE c.professor_id = $1
		ORDER BY a.date DESC, a.created_at DESC
		LIMIT $2 OFFSET $3
	`, professorID, limit, offset)
}

func (r *Repository) list(ctx context.Context, query string, id string, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, query, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Date, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// isUniqueViolation detects a unique-constraint violation from pgx, with a
// string fallback for drivers that do not surface *pgconn.PgError.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}
