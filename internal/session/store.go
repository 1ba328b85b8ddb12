// Package session is the read-through cache behind attendance verification.
// It manages two independent keyspaces with their own TTLs: per-session shared
// secrets (4h by default, cache-only, gone means the session is over) and
// classroom locations (1h by default, backed by the durable course directory).
//
// Location entries are never proactively invalidated when a course's location
// is edited; staleness is bounded by the TTL. That window is a known property
// of the design, not an oversight.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Cache is the injected cache client. The redis-backed implementation lives in
// the store package; an in-process implementation in this package serves dev
// and tests.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent must be atomic: under concurrent first writes to a key,
	// exactly one caller wins and all others observe the winner's value.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Directory is the durable source of classroom geodata.
type Directory interface {
	// CourseLocation returns nil with no error when the course has no
	// location configured (or does not exist).
	CourseLocation(ctx context.Context, courseID string) (*Location, error)
}

// Location is the classroom geofence: a verbatim projection of the course row
// at last read.
type Location struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadiusMeters float64 `json:"radius"`
}

// Key identifies one attendance session: a course on a given day. Making the
// day an explicit part of the key (instead of an implicit clock read) means
// session boundaries roll over by construction.
type Key struct {
	CourseID string
	Date     string
}

// NewKey builds a session key for the given course and session start day.
func NewKey(courseID string, day time.Time) Key {
	return Key{CourseID: courseID, Date: day.UTC().Format("20060102")}
}

func (k Key) String() string {
	return fmt.Sprintf("attendance:secret:%s:%s", k.CourseID, k.Date)
}

func locationKey(courseID string) string {
	return "attendance:location:" + courseID
}

// Store combines the secret and location keyspaces over one cache client.
type Store struct {
	cache       Cache
	dir         Directory
	secretTTL   time.Duration
	locationTTL time.Duration
	newSecret   func() (string, error)
}

// NewStore builds a store. newSecret generates fresh session secrets.
func NewStore(cache Cache, dir Directory, secretTTL, locationTTL time.Duration, newSecret func() (string, error)) *Store {
	if secretTTL <= 0 {
		secretTTL = 4 * time.Hour
	}
	if locationTTL <= 0 {
		locationTTL = time.Hour
	}
	return &Store{
		cache:       cache,
		dir:         dir,
		secretTTL:   secretTTL,
		locationTTL: locationTTL,
		newSecret:   newSecret,
	}
}

// GetSecret returns the live secret for key, or found=false when no session is
// active. Cache errors propagate: there is no durable fallback for secrets.
func (s *Store) GetSecret(ctx context.Context, key Key) (secret string, found bool, err error) {
	return s.cache.Get(ctx, key.String())
}

// GetOrCreateSecret returns the live secret for key, generating and storing a
// fresh one when absent. Racing callers may each generate a candidate; the
// atomic set-if-absent decides the winner and losers re-read it, so every
// caller leaves with the same secret.
func (s *Store) GetOrCreateSecret(ctx context.Context, key Key) (string, error) {
	k := key.String()
	if val, ok, err := s.cache.Get(ctx, k); err != nil {
		return "", err
	} else if ok {
		return val, nil
	}

	candidate, err := s.newSecret()
	if err != nil {
		return "", err
	}
	won, err := s.cache.SetIfAbsent(ctx, k, candidate, s.secretTTL)
	if err != nil {
		return "", err
	}
	if won {
		return candidate, nil
	}

	val, ok, err := s.cache.Get(ctx, k)
	if err != nil {
		return "", err
	}
	if !ok {
		// Lost the race and the winner's entry is already gone. A fresh
		// generate call starts a new session.
		return "", fmt.Errorf("session secret for %s vanished after racing write", k)
	}
	return val, nil
}

// InvalidateSecret ends the session for key. Previously issued codes become
// permanently invalid; there is deliberately no recovery path.
func (s *Store) InvalidateSecret(ctx context.Context, key Key) error {
	return s.cache.Delete(ctx, key.String())
}

// GetLocation returns the classroom geofence for courseID, reading through to
// the durable directory on a miss and repopulating the cache. Returns nil when
// the course has no location configured. Cache unavailability degrades to a
// durable read rather than failing the lookup.
func (s *Store) GetLocation(ctx context.Context, courseID string) (*Location, error) {
	k := locationKey(courseID)
	if raw, ok, err := s.cache.Get(ctx, k); err != nil {
		log.Printf("location cache read failed for %s, falling back to db: %v", courseID, err)
	} else if ok {
		var loc Location
		if err := json.Unmarshal([]byte(raw), &loc); err == nil {
			return &loc, nil
		}
		log.Printf("corrupt location cache entry for %s, rereading", courseID)
	}

	loc, err := s.dir.CourseLocation(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, nil
	}
	if raw, err := json.Marshal(loc); err == nil {
		if err := s.cache.SetWithTTL(ctx, k, string(raw), s.locationTTL); err != nil {
			log.Printf("location cache write failed for %s: %v", courseID, err)
		}
	}
	return loc, nil
}

// WarmLocation refreshes the cached geofence for courseID from the directory.
// Called on the generate path so the entry is hot before the check-in burst.
func (s *Store) WarmLocation(ctx context.Context, courseID string) error {
	loc, err := s.dir.CourseLocation(ctx, courseID)
	if err != nil || loc == nil {
		return err
	}
	raw, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return s.cache.SetWithTTL(ctx, locationKey(courseID), string(raw), s.locationTTL)
}
