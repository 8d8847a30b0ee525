// Package geo keeps the parsed zone polygons and answers containment queries.
package geo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/monitoring"
)

var (
	ErrNotPolygon   = errors.New("boundary is not a polygon")
	ErrEmptyPolygon = errors.New("polygon has no outer ring")
)

type entry struct {
	boundary string
	ring     orb.Ring
}

// Cache maps zone names to the outer ring of their boundary polygon. Entries are
// immutable; a zone is rebuilt only when its boundary string changes.
type Cache struct {
	mu    sync.RWMutex
	zones map[string]entry
}

func NewCache() *Cache {
	return &Cache{zones: make(map[string]entry)}
}

// PointOf returns the sample position in (lng, lat) order.
func PointOf(p domain.PositionSample) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// Build parses boundary and stores it under name. On failure the zone is removed
// from the cache so that IsInside reports false for it.
func (c *Cache) Build(name, boundary string) error {
	c.mu.RLock()
	cur, ok := c.zones[name]
	c.mu.RUnlock()
	if ok && cur.boundary == boundary {
		return nil
	}

	ring, err := parseRing(boundary)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		delete(c.zones, name)
		monitoring.Logf("Error while building zone %s: %v", name, err)
		return fmt.Errorf("build zone %q: %w", name, err)
	}
	c.zones[name] = entry{boundary: boundary, ring: ring}
	return nil
}

func parseRing(boundary string) (orb.Ring, error) {
	g, err := wkt.Unmarshal(boundary)
	if err != nil {
		return nil, err
	}
	poly, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotPolygon, g.GeoJSONType())
	}
	if len(poly) == 0 || len(poly[0]) < 3 {
		return nil, ErrEmptyPolygon
	}
	// Holes are not supported; only the outer ring is kept.
	return poly[0], nil
}

// IsInside reports whether point lies within the named zone. Unknown zones are
// never inside.
func (c *Cache) IsInside(name string, point orb.Point) bool {
	c.mu.RLock()
	e, ok := c.zones[name]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return planar.RingContains(e.ring, point)
}

func (c *Cache) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.zones[name]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.zones)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones = make(map[string]entry)
}
