package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nexuspark/internal/allocation"
	"nexuspark/internal/dijkstra"
	"nexuspark/internal/logging"
	"nexuspark/internal/models"
	"nexuspark/internal/request"
	"nexuspark/internal/rollback"
	"nexuspark/internal/zonegraph"
)

var (
	ErrZoneNotFound        = zonegraph.ErrZoneNotFound
	ErrZoneExists          = zonegraph.ErrZoneExists
	ErrInvalidZone         = zonegraph.ErrInvalidZone
	ErrInvalidConnection   = zonegraph.ErrInvalidConnection
	ErrConnectionNotFound  = zonegraph.ErrConnectionNotFound
	ErrInvalidTransition   = request.ErrInvalidTransition
	ErrRequestNotFound     = request.ErrRequestNotFound
	ErrNoCapacityAvailable = allocation.ErrNoCapacityAvailable
	ErrInvalidDuration     = allocation.ErrInvalidDuration
	ErrUndoUnavailable     = rollback.ErrUndoUnavailable
	ErrInvalidSteps        = rollback.ErrInvalidSteps
	ErrUndoInconsistent    = rollback.ErrInconsistent
	ErrInvalidVehicle      = errors.New("services: invalid vehicle")
)

// Operation outcomes reported to the metrics recorder.
const (
	OutcomeOK       = "ok"
	OutcomePartial  = "partial"
	OutcomeRejected = "rejected"
)

// MetricsRecorder receives counters and gauges from the service.
type MetricsRecorder interface {
	ObserveOperation(op, outcome string)
	SetZoneCounts(zoneID string, free, capacity int)
	SetUndoDepth(n int)
}

// ConnectionStore persists zones and connection changes made at runtime,
// e.g. back to the graph database the catalog was read from.
type ConnectionStore interface {
	CreateZoneAndConnections(ctx context.Context, zone models.Zone, connections []models.Connection) error
	SetConnectionActive(ctx context.Context, from, to string, active bool) error
	UpdateConnectionDistance(ctx context.Context, from, to string, distance int) error
}

type Option func(*ParkingService)

func WithLogger(l logging.Logger) Option {
	return func(s *ParkingService) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *ParkingService) { s.metrics = m }
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(s *ParkingService) { s.store = store }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ParkingService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUndoDepth sets the rollback log capacity.
func WithUndoDepth(n int) Option {
	return func(s *ParkingService) { s.undoDepth = n }
}

func WithIDGenerator(gen request.IDGenerator) Option {
	return func(s *ParkingService) { s.idGen = gen }
}

func WithEngineOptions(opts ...allocation.Option) Option {
	return func(s *ParkingService) { s.engineOpts = append(s.engineOpts, opts...) }
}

// ParkingService owns the zone graph, the requests, the vehicles and the
// rollback log. Every method takes the same mutex, so a service shared by
// concurrent HTTP handlers sees one operation at a time.
type ParkingService struct {
	mu sync.Mutex

	graph    *zonegraph.Graph
	paths    *dijkstra.PathFinder
	engine   *allocation.Engine
	requests *request.Registry
	vehicles map[string]models.Vehicle
	history  *rollback.Log

	log     logging.Logger
	metrics MetricsRecorder
	store   ConnectionStore
	now     func() time.Time

	undoDepth  int
	idGen      request.IDGenerator
	engineOpts []allocation.Option
}

func NewParkingService(opts ...Option) *ParkingService {
	s := &ParkingService{
		graph:    zonegraph.New(),
		vehicles: make(map[string]models.Vehicle),
		log:      logging.Noop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.paths = dijkstra.NewPathFinder(s.graph)
	s.engine = allocation.NewEngine(s.graph, s.paths, s.engineOpts...)
	s.requests = request.NewRegistry(request.WithIDGenerator(s.idGen))
	s.history = rollback.NewLog(s.undoDepth)
	s.log = s.log.With(logging.String("component", "parking"))
	return s
}

// RequestParking allocates a slot for vehicleID, preferring preferredZone
// (the vehicle's registered zone when empty). Unknown vehicles are
// registered as cars. A failed allocation leaves no request behind.
func (s *ParkingService) RequestParking(ctx context.Context, vehicleID, preferredZone string, hours float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vehicleID == "" {
		return "", s.reject(ctx, "allocate", fmt.Errorf("%w: empty vehicle id", ErrInvalidVehicle))
	}
	v, known := s.vehicles[vehicleID]
	if preferredZone == "" {
		preferredZone = v.PreferredZone
	}
	if !known {
		v = models.Vehicle{ID: vehicleID, PreferredZone: preferredZone, Category: models.CategoryCar}
	}

	now := s.now()
	req := request.New(s.requests.NextID(), vehicleID, preferredZone, hours, now)
	a, err := s.engine.Allocate(req, v, hours, now)
	if err != nil {
		return "", s.reject(ctx, "allocate", err,
			logging.String("vehicle", vehicleID), logging.String("zone", preferredZone))
	}
	if err := s.requests.Add(req); err != nil {
		_ = s.engine.Vacate(a.ZoneID)
		return "", s.reject(ctx, "allocate", err)
	}
	if !known {
		s.vehicles[vehicleID] = v
	}

	s.record(rollback.Entry{Op: rollback.OpAllocate, RequestID: req.ID, ZoneID: a.ZoneID, SlotID: a.SlotID, PrevState: request.Requested, At: now})
	s.refreshZone(a.ZoneID)
	s.log.Info(ctx, "parking allocated",
		logging.String("request", req.ID),
		logging.String("vehicle", vehicleID),
		logging.String("zone", a.ZoneID),
		logging.String("slot", a.SlotID),
		logging.Bool("cross_zone", a.CrossZone),
		logging.String("cost", a.Cost.StringFixed(2)))
	return req.ID, nil
}

// CancelParking cancels a REQUESTED or ALLOCATED request and hands an
// allocated slot back to its zone.
func (s *ParkingService) CancelParking(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requests.Get(id)
	if err != nil {
		return s.reject(ctx, "cancel", err)
	}
	prev := req.State
	if !request.CanTransition(prev, request.Cancelled) {
		return s.reject(ctx, "cancel", fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, prev, request.Cancelled))
	}
	zone, slot := req.AllocatedZone, req.SlotID
	if prev == request.Allocated {
		if err := s.engine.Vacate(zone); err != nil {
			return s.reject(ctx, "cancel", err)
		}
	}
	now := s.now()
	if err := req.Cancel(now); err != nil {
		return s.reject(ctx, "cancel", err)
	}

	s.record(rollback.Entry{Op: rollback.OpCancel, RequestID: id, ZoneID: zone, SlotID: slot, PrevState: prev, At: now})
	s.refreshZone(zone)
	s.log.Info(ctx, "parking cancelled", logging.String("request", id), logging.String("from", prev.String()))
	return nil
}

// OccupyParking marks an ALLOCATED request as parked.
func (s *ParkingService) OccupyParking(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requests.Get(id)
	if err != nil {
		return s.reject(ctx, "occupy", err)
	}
	now := s.now()
	if err := req.Occupy(now); err != nil {
		return s.reject(ctx, "occupy", err)
	}

	s.record(rollback.Entry{Op: rollback.OpOccupy, RequestID: id, ZoneID: req.AllocatedZone, SlotID: req.SlotID, PrevState: request.Allocated, At: now})
	s.log.Info(ctx, "parking occupied", logging.String("request", id), logging.String("zone", req.AllocatedZone))
	return nil
}

// ReleaseParking ends an OCCUPIED request and frees its slot.
func (s *ParkingService) ReleaseParking(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requests.Get(id)
	if err != nil {
		return s.reject(ctx, "release", err)
	}
	if !request.CanTransition(req.State, request.Released) {
		return s.reject(ctx, "release", fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, req.State, request.Released))
	}
	if err := s.engine.Vacate(req.AllocatedZone); err != nil {
		return s.reject(ctx, "release", err)
	}
	now := s.now()
	if err := req.Release(now); err != nil {
		return s.reject(ctx, "release", err)
	}

	s.record(rollback.Entry{Op: rollback.OpRelease, RequestID: id, ZoneID: req.AllocatedZone, SlotID: req.SlotID, PrevState: request.Occupied, At: now})
	s.refreshZone(req.AllocatedZone)
	s.log.Info(ctx, "parking released",
		logging.String("request", id),
		logging.String("zone", req.AllocatedZone),
		logging.Float("hours", req.DurationHours))
	return nil
}

// Undo reverts up to steps operations, newest first. When it stops early the
// returned Result says how many were applied alongside the error.
func (s *ParkingService) Undo(ctx context.Context, steps int) (rollback.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.history.UndoMany(steps, s.graph, s.requests)
	for _, e := range res.Entries {
		s.refreshZone(e.ZoneID)
		s.log.Info(ctx, "operation undone", logging.String("op", e.Op.String()), logging.String("request", e.RequestID))
	}
	s.setUndoDepth()

	switch {
	case err == nil:
		s.observe("undo", OutcomeOK)
	case res.Applied > 0:
		s.observe("undo", OutcomePartial)
		s.log.Warn(ctx, "undo stopped early",
			logging.Int("requested", res.Requested), logging.Int("applied", res.Applied), logging.Err(err))
	default:
		s.observe("undo", OutcomeRejected)
		s.log.Warn(ctx, "undo rejected", logging.Int("requested", steps), logging.Err(err))
	}
	return res, err
}

// AddZone registers a catalog zone.
func (s *ParkingService) AddZone(ctx context.Context, z models.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addZone(ctx, z)
}

func (s *ParkingService) addZone(ctx context.Context, z models.Zone) error {
	if err := s.graph.AddZone(z.ID, z.Name, z.Capacity, decimal.NewFromFloat(z.HourlyRate)); err != nil {
		return err
	}
	s.refreshZone(z.ID)
	s.log.Debug(ctx, "zone added", logging.String("zone", z.ID), logging.Int("capacity", z.Capacity))
	return nil
}

// AddZoneWithConnections adds a zone together with connections that all
// touch it. Either everything is added, written through to the store, or
// nothing is.
func (s *ParkingService) AddZoneWithConnections(ctx context.Context, z models.Zone, connections []models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range connections {
		if c.Source != z.ID && c.Target != z.ID {
			return fmt.Errorf("%w: %s->%s does not touch zone %s", ErrInvalidConnection, c.Source, c.Target, z.ID)
		}
	}
	if err := s.graph.AddZone(z.ID, z.Name, z.Capacity, decimal.NewFromFloat(z.HourlyRate)); err != nil {
		return err
	}
	for _, c := range connections {
		if err := s.connect(ctx, c); err != nil {
			_ = s.graph.RemoveZone(z.ID)
			return fmt.Errorf("connection %s->%s: %w", c.Source, c.Target, err)
		}
	}
	if s.store != nil {
		if err := s.store.CreateZoneAndConnections(ctx, z, connections); err != nil {
			_ = s.graph.RemoveZone(z.ID)
			return fmt.Errorf("persisting zone %s: %w", z.ID, err)
		}
	}

	s.refreshZone(z.ID)
	s.log.Info(ctx, "zone created",
		logging.String("zone", z.ID),
		logging.Int("capacity", z.Capacity),
		logging.Int("connections", len(connections)))
	return nil
}

// Connect adds a catalog connection, and its reverse when bidirectional.
func (s *ParkingService) Connect(ctx context.Context, c models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connect(ctx, c)
}

func (s *ParkingService) connect(ctx context.Context, c models.Connection) error {
	for _, p := range c.Edges() {
		if err := s.graph.Connect(p[0], p[1], c.Distance, c.Penalty); err != nil {
			return err
		}
		if !c.IsActive() {
			if err := s.graph.SetConnectionActive(p[0], p[1], false); err != nil {
				return err
			}
		}
	}
	s.log.Debug(ctx, "zones connected",
		logging.String("from", c.Source), logging.String("to", c.Target), logging.Int("distance", c.Distance))
	return nil
}

// RegisterVehicle adds or replaces a vehicle. A preferred zone, when set,
// must exist.
func (s *ParkingService) RegisterVehicle(ctx context.Context, v models.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerVehicle(ctx, v)
}

func (s *ParkingService) registerVehicle(ctx context.Context, v models.Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidVehicle)
	}
	category, err := models.ParseCategory(string(v.Category))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidVehicle, v.ID, err)
	}
	v.Category = category
	if v.PreferredZone != "" && !s.graph.Has(v.PreferredZone) {
		return fmt.Errorf("%w: %s preferred by %s", ErrZoneNotFound, v.PreferredZone, v.ID)
	}
	s.vehicles[v.ID] = v
	s.log.Debug(ctx, "vehicle registered", logging.String("vehicle", v.ID), logging.String("category", string(category)))
	return nil
}

// LoadCatalog adds every zone, then every connection, then every vehicle.
// It stops at the first invalid entry.
func (s *ParkingService) LoadCatalog(ctx context.Context, c *models.Catalog) error {
	if c == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, z := range c.Zones {
		if err := s.addZone(ctx, z); err != nil {
			return fmt.Errorf("zone %s: %w", z.ID, err)
		}
	}
	for _, conn := range c.Connections {
		if err := s.connect(ctx, conn); err != nil {
			return fmt.Errorf("connection %s->%s: %w", conn.Source, conn.Target, err)
		}
	}
	for _, v := range c.Vehicles {
		if err := s.registerVehicle(ctx, v); err != nil {
			return fmt.Errorf("vehicle %s: %w", v.ID, err)
		}
	}
	s.log.Info(ctx, "catalog loaded",
		logging.Int("zones", len(c.Zones)),
		logging.Int("connections", len(c.Connections)),
		logging.Int("vehicles", len(c.Vehicles)))
	return nil
}

func (s *ParkingService) Zones() []zonegraph.Zone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Zones()
}

func (s *ParkingService) Zone(id string) (zonegraph.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Zone(id)
}

// Request returns a copy of the request.
func (s *ParkingService) Request(id string) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.requests.Get(id)
	if err != nil {
		return request.Request{}, err
	}
	return req.Clone(), nil
}

// Requests returns copies of every request in submission order.
func (s *ParkingService) Requests() []request.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests.List()
}

// Vehicles returns every known vehicle sorted by id.
func (s *ParkingService) Vehicles() []models.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShortestPath returns the route between two zones over open connections.
// An unreachable target gives an empty route.
func (s *ParkingService) ShortestPath(from, to string) (models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.graph.Has(from) {
		return models.Route{}, fmt.Errorf("%w: %s", ErrZoneNotFound, from)
	}
	return s.paths.ShortestPath(from, to)
}

// Reachable lists the zones reachable from start and those cut off.
func (s *ParkingService) Reachable(start string) ([]string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths.Reachable(start)
}

// CloseConnection takes a connection out of routing.
func (s *ParkingService) CloseConnection(ctx context.Context, from, to string) error {
	return s.setConnectionActive(ctx, from, to, false)
}

// OpenConnection puts a closed connection back into routing.
func (s *ParkingService) OpenConnection(ctx context.Context, from, to string) error {
	return s.setConnectionActive(ctx, from, to, true)
}

func (s *ParkingService) setConnectionActive(ctx context.Context, from, to string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.connection(from, to)
	if err != nil {
		return err
	}
	if err := s.graph.SetConnectionActive(from, to, active); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SetConnectionActive(ctx, from, to, active); err != nil {
			_ = s.graph.SetConnectionActive(from, to, before.Active)
			return fmt.Errorf("persisting connection %s->%s: %w", from, to, err)
		}
	}
	s.log.Info(ctx, "connection updated",
		logging.String("from", from), logging.String("to", to), logging.Bool("active", active))
	return nil
}

// UpdateConnectionDistance changes the distance of an existing connection.
func (s *ParkingService) UpdateConnectionDistance(ctx context.Context, from, to string, distance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.connection(from, to)
	if err != nil {
		return err
	}
	if err := s.graph.SetConnectionDistance(from, to, distance); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.UpdateConnectionDistance(ctx, from, to, distance); err != nil {
			_ = s.graph.SetConnectionDistance(from, to, before.Distance)
			return fmt.Errorf("persisting connection %s->%s: %w", from, to, err)
		}
	}
	s.log.Info(ctx, "connection distance updated",
		logging.String("from", from), logging.String("to", to), logging.Int("distance", distance))
	return nil
}

func (s *ParkingService) connection(from, to string) (zonegraph.Connection, error) {
	edges, err := s.graph.Neighbors(from)
	if err != nil {
		return zonegraph.Connection{}, err
	}
	if !s.graph.Has(to) {
		return zonegraph.Connection{}, fmt.Errorf("%w: %s", ErrZoneNotFound, to)
	}
	for _, e := range edges {
		if e.To == to {
			return e, nil
		}
	}
	return zonegraph.Connection{}, fmt.Errorf("%w: %s->%s", ErrConnectionNotFound, from, to)
}

// History returns the undoable operations, newest first.
func (s *ParkingService) History() []rollback.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

// Snapshot is a consistent copy of the service state.
type Snapshot struct {
	Zones       []zonegraph.Zone
	Connections []zonegraph.Connection
	Requests    []request.Request
	TakenAt     time.Time
}

func (s *ParkingService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Zones:       s.graph.Zones(),
		Connections: s.graph.Connections(),
		Requests:    s.requests.List(),
		TakenAt:     s.now(),
	}
}

// GraphData returns the zone map with live capacity for front ends.
func (s *ParkingService) GraphData() models.GraphData {
	snap := s.Snapshot()
	data := models.GraphData{
		Nodes: make([]models.Node, 0, len(snap.Zones)),
		Links: make([]models.Link, 0, len(snap.Connections)),
	}
	for _, z := range snap.Zones {
		data.Nodes = append(data.Nodes, models.Node{
			ID:          z.ID,
			Name:        z.Name,
			Capacity:    z.Capacity,
			Free:        z.Free,
			HourlyRate:  z.HourlyRate.StringFixed(2),
			Utilization: z.Utilization(),
		})
	}
	for _, c := range snap.Connections {
		data.Links = append(data.Links, models.Link{
			Source:   c.From,
			Target:   c.To,
			Distance: c.Distance,
			Penalty:  c.Penalty,
			Active:   c.Active,
		})
	}
	return data
}

func (s *ParkingService) record(e rollback.Entry) {
	if s.history.Push(e) {
		s.log.Debug(context.Background(), "oldest undo entry evicted", logging.Int("depth", s.history.Cap()))
	}
	s.observe(opName(e.Op), OutcomeOK)
	s.setUndoDepth()
}

func (s *ParkingService) reject(ctx context.Context, op string, err error, fields ...logging.Field) error {
	s.observe(op, OutcomeRejected)
	s.log.Warn(ctx, op+" rejected", append(fields, logging.Err(err))...)
	return err
}

func (s *ParkingService) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, outcome)
	}
}

func (s *ParkingService) refreshZone(id string) {
	if s.metrics == nil || id == "" {
		return
	}
	if z, err := s.graph.Zone(id); err == nil {
		s.metrics.SetZoneCounts(z.ID, z.Free, z.Capacity)
	}
}

func (s *ParkingService) setUndoDepth() {
	if s.metrics != nil {
		s.metrics.SetUndoDepth(s.history.Len())
	}
}

func opName(op rollback.Op) string {
	switch op {
	case rollback.OpAllocate:
		return "allocate"
	case rollback.OpOccupy:
		return "occupy"
	case rollback.OpRelease:
		return "release"
	case rollback.OpCancel:
		return "cancel"
	}
	return "unknown"
}
