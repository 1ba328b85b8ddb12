package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters_IdenticalPointsAreZero(t *testing.T) {
	points := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 37.5665, Lon: 126.9780},
		{Lat: -90, Lon: 0},
		{Lat: 90, Lon: 180},
	}
	for _, p := range points {
		assert.Zero(t, DistanceMeters(p, p))
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	a := Point{Lat: 37.5665, Lon: 126.9780}
	b := Point{Lat: 35.1796, Lon: 129.0756}
	assert.Equal(t, DistanceMeters(a, b), DistanceMeters(b, a))
}

func TestDistanceMeters_KnownOffsets(t *testing.T) {
	// 0.001 degrees of latitude is ~111.2m anywhere on the sphere.
	a := Point{Lat: 37.5665, Lon: 126.9780}
	b := Point{Lat: 37.5675, Lon: 126.9780}
	assert.InDelta(t, 111.2, DistanceMeters(a, b), 0.5)
}

func TestDistanceMeters_AcrossAntimeridian(t *testing.T) {
	// 0.2 degrees of longitude at the equator, straddling the date line.
	a := Point{Lat: 0, Lon: 179.9}
	b := Point{Lat: 0, Lon: -179.9}
	assert.InDelta(t, 22240, DistanceMeters(a, b), 50)
}

func TestWithinRadius_InclusiveBoundary(t *testing.T) {
	assert.True(t, WithinRadius(49.9, 50))
	assert.True(t, WithinRadius(50, 50))
	assert.False(t, WithinRadius(50.1, 50))
}
