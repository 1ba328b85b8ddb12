// Package checkin decides whether an attendance check-in attempt is accepted.
// This file centralizes the expected, user-recoverable failure conditions so
// service methods return stable sentinels and the HTTP layer can map them to
// status codes. Infrastructure faults (cache or database down) are not part of
// this taxonomy and propagate as plain errors.
package checkin

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotActive means no live secret exists for the course's
	// current session; the instructor must (re)generate.
	ErrSessionNotActive = errors.New("attendance session not active")

	// ErrInvalidCode means the submitted code matches neither the current
	// nor an adjacent time step.
	ErrInvalidCode = errors.New("invalid or expired code")

	// ErrLocationNotConfigured means the course has no classroom geodata.
	// Absence of a geofence fails the check-in; it is never an automatic pass.
	ErrLocationNotConfigured = errors.New("course location not configured")

	// ErrOutOfRange means the student is outside the allowed radius. The
	// concrete error is an *OutOfRangeError carrying the measured distance.
	ErrOutOfRange = errors.New("outside allowed radius")

	// ErrAlreadyMarked means attendance for (student, course, today) exists.
	ErrAlreadyMarked = errors.New("attendance already marked for today")

	// ErrCourseNotFound is surfaced when the course does not exist.
	ErrCourseNotFound = errors.New("course not found")

	// ErrPermissionDenied is surfaced when the caller does not own the course.
	ErrPermissionDenied = errors.New("permission denied")
)

// OutOfRangeError reports how far outside the geofence the student was.
type OutOfRangeError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("location verification failed: distance %.2fm exceeds allowed %.0fm", e.DistanceMeters, e.RadiusMeters)
}

// Is makes errors.Is(err, ErrOutOfRange) match.
func (e *OutOfRangeError) Is(target error) bool {
	return target == ErrOutOfRange
}
