package checkin

import (
	"context"
	"errors"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/geo"
	"rollcall/internal/session"
	"rollcall/internal/token"
)

// Ledger is the persistence collaborator that records accepted check-ins.
type Ledger interface {
	CreateRecord(ctx context.Context, studentID, courseID string, date time.Time, status string) (attendance.Record, error)
}

// Request is one ephemeral check-in attempt. Validated and discarded, never
// persisted.
type Request struct {
	CourseID string
	Code     string
	Lat      float64
	Lon      float64
}

// Service orchestrates the accept/reject decision for check-in attempts and
// the secret/code issuance for instructors. Each call is a self-contained
// decision over its inputs plus current cache state; the service keeps no
// memory across calls.
type Service struct {
	sessions *session.Store
	tokens   *token.Engine
	ledger   Ledger
	now      func() time.Time
}

// NewService wires the verification pipeline.
func NewService(sessions *session.Store, tokens *token.Engine, ledger Ledger) *Service {
	return &Service{sessions: sessions, tokens: tokens, ledger: ledger, now: time.Now}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate creates or reuses the session secret for courseID's session today
// and returns the code currently valid for it. It also refreshes the cached
// classroom location so the entry is hot before students start checking in.
func (s *Service) Generate(ctx context.Context, courseID string) (string, error) {
	key := session.NewKey(courseID, s.now())
	secret, err := s.sessions.GetOrCreateSecret(ctx, key)
	if err != nil {
		return "", err
	}
	code, err := s.tokens.Issue(secret)
	if err != nil {
		return "", err
	}
	if err := s.sessions.WarmLocation(ctx, courseID); err != nil {
		// The read-through path covers a cold cache; warming is best effort.
		observeWarmFailure(courseID, err)
	}
	return code, nil
}

// CheckIn runs the dual-factor verification for one attempt, short-circuiting
// on the first failure:
//
//  1. a live session secret must exist for the course today,
//  2. the code must match the current or an adjacent time step,
//  3. the course must have a configured geofence,
//  4. the coordinates must fall within the allowed radius.
//
// Only then is a PRESENT record requested from the ledger; a same-day
// duplicate is translated to ErrAlreadyMarked. All returned failures are the
// sentinel errors in this package except infrastructure faults, which pass
// through untranslated.
func (s *Service) CheckIn(ctx context.Context, studentID string, req Request) error {
	now := s.now()

	secret, found, err := s.sessions.GetSecret(ctx, session.NewKey(req.CourseID, now))
	if err != nil {
		return err
	}
	if !found {
		return s.reject(ErrSessionNotActive)
	}

	ok, err := s.tokens.Verify(secret, req.Code)
	if err != nil {
		// Unparseable secret: the session state is unusable, not the code.
		return s.reject(ErrSessionNotActive)
	}
	if !ok {
		return s.reject(ErrInvalidCode)
	}

	loc, err := s.sessions.GetLocation(ctx, req.CourseID)
	if err != nil {
		return err
	}
	if loc == nil {
		return s.reject(ErrLocationNotConfigured)
	}

	dist := geo.DistanceMeters(
		geo.Point{Lat: req.Lat, Lon: req.Lon},
		geo.Point{Lat: loc.Lat, Lon: loc.Lon},
	)
	if !geo.WithinRadius(dist, loc.RadiusMeters) {
		return s.reject(&OutOfRangeError{DistanceMeters: dist, RadiusMeters: loc.RadiusMeters})
	}

	if _, err := s.ledger.CreateRecord(ctx, studentID, req.CourseID, dateOf(now), attendance.StatusPresent); err != nil {
		if errors.Is(err, attendance.ErrDuplicateRecord) {
			return s.reject(ErrAlreadyMarked)
		}
		return err
	}
	observeResult("accepted")
	return nil
}

func (s *Service) reject(err error) error {
	observeResult(resultLabel(err))
	return err
}

// dateOf truncates to the calendar date the uniqueness constraint keys on.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
