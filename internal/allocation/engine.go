// Package allocation places parking requests into zones: the preferred zone
// when it has room, otherwise the nearest reachable zone with room, and
// prices the stay.
package allocation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"nexuspark/internal/dijkstra"
	"nexuspark/internal/models"
	"nexuspark/internal/request"
	"nexuspark/internal/zonegraph"
)

var (
	ErrNoCapacityAvailable = errors.New("allocation: no zone with free capacity is reachable")
	ErrInvalidDuration     = errors.New("allocation: duration must be positive")
	ErrInvalidTransition   = request.ErrInvalidTransition
	ErrZoneNotFound        = zonegraph.ErrZoneNotFound
)

var (
	defaultCrossZonePenalty = decimal.NewFromFloat(1.5)
	extraHourFactor         = decimal.NewFromFloat(0.8)
	one                     = decimal.NewFromInt(1)
)

// Allocation is the outcome of a successful Allocate.
type Allocation struct {
	ZoneID    string          `json:"zone_id"`
	SlotID    string          `json:"slot_id"`
	Path      []string        `json:"path"`
	Distance  int             `json:"distance"`
	Cost      decimal.Decimal `json:"cost"`
	CrossZone bool            `json:"cross_zone"`
}

type Option func(*Engine)

// WithCrossZonePenalty overrides the 1.5 multiplier applied to allocations
// outside the preferred zone.
func WithCrossZonePenalty(p decimal.Decimal) Option {
	return func(e *Engine) {
		if p.GreaterThan(one) {
			e.crossZonePenalty = p
		}
	}
}

// Engine is not safe for concurrent use.
type Engine struct {
	graph            *zonegraph.Graph
	paths            *dijkstra.PathFinder
	crossZonePenalty decimal.Decimal
	slots            int
}

func NewEngine(g *zonegraph.Graph, pf *dijkstra.PathFinder, opts ...Option) *Engine {
	e := &Engine{
		graph:            g,
		paths:            pf,
		crossZonePenalty: defaultCrossZonePenalty,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allocate reserves capacity for req and moves it to ALLOCATED. On error
// neither the graph nor the request is changed.
func (e *Engine) Allocate(req *request.Request, v models.Vehicle, hours float64, now time.Time) (Allocation, error) {
	if req.State != request.Requested {
		return Allocation{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, req.ID, req.State)
	}
	if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return Allocation{}, fmt.Errorf("%w: %v", ErrInvalidDuration, hours)
	}
	preferred, err := e.graph.Zone(req.PreferredZone)
	if err != nil {
		return Allocation{}, err
	}

	target := preferred
	route := models.Route{Path: []string{preferred.ID}, Target: preferred.ID}
	crossZone := false
	if preferred.Free == 0 {
		nearest, found, err := e.paths.NearestReachable(preferred.ID, func(z zonegraph.Zone) bool {
			return z.Free > 0 && z.ID != preferred.ID
		})
		if err != nil {
			return Allocation{}, err
		}
		if !found {
			return Allocation{}, fmt.Errorf("%w: from %s", ErrNoCapacityAvailable, preferred.ID)
		}
		if target, err = e.graph.Zone(nearest.Target); err != nil {
			return Allocation{}, err
		}
		route = nearest
		crossZone = true
	}

	if err := e.graph.TryReserve(target.ID); err != nil {
		return Allocation{}, err
	}
	a := Allocation{
		ZoneID:    target.ID,
		SlotID:    fmt.Sprintf("%s-%d", target.ID, e.slots+1),
		Path:      route.Path,
		Distance:  route.Distance,
		Cost:      e.Cost(target.HourlyRate, hours, v.Category.Multiplier(), crossZone),
		CrossZone: crossZone,
	}
	if err := req.Allocate(a.ZoneID, a.SlotID, a.Cost, a.CrossZone, a.Path, now); err != nil {
		_ = e.graph.Release(target.ID)
		return Allocation{}, err
	}
	req.RequestedHours = hours
	e.slots++
	return a, nil
}

// Cost prices a stay: the first hour at the full rate, every further hour at
// 80% of it, times the vehicle multiplier and the cross-zone penalty.
func (e *Engine) Cost(rate decimal.Decimal, hours float64, multiplier decimal.Decimal, crossZone bool) decimal.Decimal {
	h := decimal.NewFromFloat(hours)
	var base decimal.Decimal
	if h.LessThanOrEqual(one) {
		base = rate.Mul(h)
	} else {
		base = rate.Add(rate.Mul(extraHourFactor).Mul(h.Sub(one)))
	}
	cost := base.Mul(multiplier)
	if crossZone {
		cost = cost.Mul(e.crossZonePenalty)
	}
	return cost
}

// Vacate returns one unit of capacity to zoneID.
func (e *Engine) Vacate(zoneID string) error {
	return e.graph.Release(zoneID)
}
