// Package zonegraph holds the parking zones, their free/used capacity
// counters and the directed connections between them.
package zonegraph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultPenalty is the cross-zone multiplier a connection gets when the
// catalog does not provide one.
const DefaultPenalty = 1.5

var (
	ErrZoneNotFound       = errors.New("zonegraph: zone not found")
	ErrZoneExists         = errors.New("zonegraph: zone already exists")
	ErrInvalidZone        = errors.New("zonegraph: invalid zone")
	ErrInvalidConnection  = errors.New("zonegraph: invalid connection")
	ErrConnectionNotFound = errors.New("zonegraph: connection not found")
	// ErrZoneFull is returned by TryReserve when no capacity is left.
	ErrZoneFull = errors.New("zonegraph: zone has no free capacity")
	// ErrZoneAtCapacity is returned by Release when nothing is reserved.
	ErrZoneAtCapacity = errors.New("zonegraph: zone already fully free")
)

// Zone is a partition of parking capacity.
type Zone struct {
	ID         string
	Name       string
	Capacity   int
	Free       int
	HourlyRate decimal.Decimal
}

// Used returns the number of reserved units.
func (z Zone) Used() int { return z.Capacity - z.Free }

// Utilization returns the reserved share of capacity as a percentage.
func (z Zone) Utilization() float64 {
	if z.Capacity == 0 {
		return 0
	}
	return float64(z.Used()) / float64(z.Capacity) * 100
}

// Connection is a directed edge between two zones.
type Connection struct {
	From     string
	To       string
	Distance int
	Penalty  float64
	Active   bool
}

// Graph owns every zone and connection. It is not safe for concurrent use;
// callers serialise access (see services.ParkingService).
type Graph struct {
	zones map[string]*Zone
	adj   map[string][]Connection
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		zones: make(map[string]*Zone),
		adj:   make(map[string][]Connection),
	}
}

// AddZone registers a zone with all of its capacity free.
func (g *Graph) AddZone(id, name string, capacity int, rate decimal.Decimal) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidZone)
	}
	if capacity < 0 {
		return fmt.Errorf("%w: %s capacity %d", ErrInvalidZone, id, capacity)
	}
	if rate.IsNegative() {
		return fmt.Errorf("%w: %s rate %s", ErrInvalidZone, id, rate)
	}
	if _, ok := g.zones[id]; ok {
		return fmt.Errorf("%w: %s", ErrZoneExists, id)
	}
	g.zones[id] = &Zone{
		ID:         id,
		Name:       name,
		Capacity:   capacity,
		Free:       capacity,
		HourlyRate: rate,
	}
	return nil
}

// Connect adds a directed connection from -> to. A zero penalty selects
// DefaultPenalty. Connecting a pair twice replaces the first edge.
func (g *Graph) Connect(from, to string, distance int, penalty float64) error {
	if _, ok := g.zones[from]; !ok {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, from)
	}
	if _, ok := g.zones[to]; !ok {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, to)
	}
	if from == to {
		return fmt.Errorf("%w: self loop on %s", ErrInvalidConnection, from)
	}
	if distance < 0 {
		return fmt.Errorf("%w: %s->%s distance %d", ErrInvalidConnection, from, to, distance)
	}
	if penalty == 0 {
		penalty = DefaultPenalty
	}
	if penalty <= 1.0 {
		return fmt.Errorf("%w: %s->%s penalty %.2f must be > 1", ErrInvalidConnection, from, to, penalty)
	}

	conn := Connection{From: from, To: to, Distance: distance, Penalty: penalty, Active: true}
	if i := g.edgeIndex(from, to); i >= 0 {
		g.adj[from][i] = conn
		return nil
	}
	g.adj[from] = append(g.adj[from], conn)
	return nil
}

// Neighbors returns the outgoing connections of id in insertion order,
// inactive ones included.
func (g *Graph) Neighbors(id string) ([]Connection, error) {
	if _, ok := g.zones[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	out := make([]Connection, len(g.adj[id]))
	copy(out, g.adj[id])
	return out, nil
}

// SetConnectionActive opens or closes an existing connection.
func (g *Graph) SetConnectionActive(from, to string, active bool) error {
	i, err := g.lookupEdge(from, to)
	if err != nil {
		return err
	}
	g.adj[from][i].Active = active
	return nil
}

// SetConnectionDistance updates the distance of an existing connection.
func (g *Graph) SetConnectionDistance(from, to string, distance int) error {
	if distance < 0 {
		return fmt.Errorf("%w: %s->%s distance %d", ErrInvalidConnection, from, to, distance)
	}
	i, err := g.lookupEdge(from, to)
	if err != nil {
		return err
	}
	g.adj[from][i].Distance = distance
	return nil
}

// TryReserve takes one unit of capacity from id.
func (g *Graph) TryReserve(id string) error {
	z, ok := g.zones[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	if z.Free == 0 {
		return fmt.Errorf("%w: %s", ErrZoneFull, id)
	}
	z.Free--
	return nil
}

// Release gives one unit of capacity back to id.
func (g *Graph) Release(id string) error {
	z, ok := g.zones[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	if z.Free >= z.Capacity {
		return fmt.Errorf("%w: %s", ErrZoneAtCapacity, id)
	}
	z.Free++
	return nil
}

// Utilization returns the reserved share of id's capacity as a percentage.
func (g *Graph) Utilization(id string) (float64, error) {
	z, ok := g.zones[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	return z.Utilization(), nil
}

// RemoveZone drops a zone with every connection into or out of it.
func (g *Graph) RemoveZone(id string) error {
	if _, ok := g.zones[id]; !ok {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	delete(g.zones, id)
	delete(g.adj, id)
	for from, edges := range g.adj {
		kept := edges[:0]
		for _, c := range edges {
			if c.To != id {
				kept = append(kept, c)
			}
		}
		g.adj[from] = kept
	}
	return nil
}

// Has reports whether id is a known zone.
func (g *Graph) Has(id string) bool {
	_, ok := g.zones[id]
	return ok
}

// Zone returns a copy of the zone.
func (g *Graph) Zone(id string) (Zone, error) {
	z, ok := g.zones[id]
	if !ok {
		return Zone{}, fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	return *z, nil
}

// Zones returns copies of every zone sorted by id.
func (g *Graph) Zones() []Zone {
	out := make([]Zone, 0, len(g.zones))
	for _, z := range g.zones {
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connections returns every connection, grouped by source zone id.
func (g *Graph) Connections() []Connection {
	var out []Connection
	for _, z := range g.Zones() {
		out = append(out, g.adj[z.ID]...)
	}
	return out
}

func (g *Graph) TotalCapacity() int {
	total := 0
	for _, z := range g.zones {
		total += z.Capacity
	}
	return total
}

func (g *Graph) TotalFree() int {
	total := 0
	for _, z := range g.zones {
		total += z.Free
	}
	return total
}

// OverallUtilization is the reserved share of all capacity as a percentage.
func (g *Graph) OverallUtilization() float64 {
	capacity := g.TotalCapacity()
	if capacity == 0 {
		return 0
	}
	return float64(capacity-g.TotalFree()) / float64(capacity) * 100
}

func (g *Graph) edgeIndex(from, to string) int {
	for i, c := range g.adj[from] {
		if c.To == to {
			return i
		}
	}
	return -1
}

func (g *Graph) lookupEdge(from, to string) (int, error) {
	if _, ok := g.zones[from]; !ok {
		return -1, fmt.Errorf("%w: %s", ErrZoneNotFound, from)
	}
	if _, ok := g.zones[to]; !ok {
		return -1, fmt.Errorf("%w: %s", ErrZoneNotFound, to)
	}
	i := g.edgeIndex(from, to)
	if i < 0 {
		return -1, fmt.Errorf("%w: %s->%s", ErrConnectionNotFound, from, to)
	}
	return i, nil
}
