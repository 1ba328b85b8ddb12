// Package course is the directory of courses this core consults: classroom
// geodata for the geofence and ownership for the generate/finalize paths.
package course

import (
	"context"
	"database/sql"
	"errors"

	"rollcall/internal/session"
)

// Course is the subset of the course row this core reads.
type Course struct {
	ID           string   `json:"id"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	ProfessorID  string   `json:"professor_id"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	RadiusMeters float64  `json:"allowed_radius"`
}

// Repository reads course data from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a course by id, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, professor_id, latitude, longitude, allowed_radius
		FROM courses WHERE id = $1
	`, id)
	var c Course
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.ProfessorID, &c.Latitude, &c.Longitude, &c.RadiusMeters); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Owner returns the professor id for a course, or "" when the course does not
// exist.
func (r *Repository) Owner(ctx context.Context, id string) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT professor_id FROM courses WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return owner, err
}

// CourseLocation implements session.Directory. Returns nil when the course is
// missing or has never been set up for geofencing.
func (r *Repository) CourseLocation(ctx context.Context, courseID string) (*session.Location, error) {
	c, err := r.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Latitude == nil || c.Longitude == nil {
		return nil, nil
	}
	return &session.Location{Lat: *c.Latitude, Lon: *c.Longitude, RadiusMeters: c.RadiusMeters}, nil
}
