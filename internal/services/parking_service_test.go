package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"nexuspark/internal/models"
	"nexuspark/internal/request"
	"nexuspark/internal/rollback"
	"nexuspark/internal/zonegraph"
)

type fakeRecorder struct {
	mu    sync.Mutex
	ops   map[string]int
	free  map[string]int
	depth int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ops: map[string]int{}, free: map[string]int{}}
}

func (f *fakeRecorder) ObserveOperation(op, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[op+"/"+outcome]++
}

func (f *fakeRecorder) SetZoneCounts(zoneID string, free, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free[zoneID] = free
}

func (f *fakeRecorder) SetUndoDepth(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depth = n
}

type fakeStore struct {
	fail   error
	active map[string]bool
	dist   map[string]int
	zones  map[string][]models.Connection
}

func (f *fakeStore) CreateZoneAndConnections(_ context.Context, zone models.Zone, connections []models.Connection) error {
	if f.fail != nil {
		return f.fail
	}
	f.zones[zone.ID] = connections
	return nil
}

func (f *fakeStore) SetConnectionActive(_ context.Context, from, to string, active bool) error {
	if f.fail != nil {
		return f.fail
	}
	f.active[from+"->"+to] = active
	return nil
}

func (f *fakeStore) UpdateConnectionDistance(_ context.Context, from, to string, distance int) error {
	if f.fail != nil {
		return f.fail
	}
	f.dist[from+"->"+to] = distance
	return nil
}

// testCatalog: A has one slot; A<->B 500, A<->C 800, B->D 200.
func testCatalog() *models.Catalog {
	return &models.Catalog{
		Zones: []models.Zone{
			{ID: "A", Name: "Downtown", Capacity: 1, HourlyRate: 5},
			{ID: "B", Name: "Mall", Capacity: 2, HourlyRate: 4},
			{ID: "C", Name: "Office", Capacity: 2, HourlyRate: 6},
			{ID: "D", Name: "Residential", Capacity: 2, HourlyRate: 3.5},
		},
		Connections: []models.Connection{
			{Source: "A", Target: "B", Distance: 500, Direction: models.DirectionBi},
			{Source: "A", Target: "C", Distance: 800, Direction: models.DirectionBi},
			{Source: "B", Target: "D", Distance: 200},
		},
		Vehicles: []models.Vehicle{
			{ID: "CAR001", PreferredZone: "A", Category: models.CategoryCar},
			{ID: "BIKE001", PreferredZone: "B", Category: models.CategoryBike},
		},
	}
}

var _ = Describe("ParkingService", func() {
	var (
		ctx      context.Context
		svc      *ParkingService
		recorder *fakeRecorder
		store    *fakeStore
		now      time.Time
		opts     []Option
	)

	free := func(id string) int {
		z, err := svc.Zone(id)
		Expect(err).NotTo(HaveOccurred())
		return z.Free
	}

	state := func(id string) request.State {
		r, err := svc.Request(id)
		Expect(err).NotTo(HaveOccurred())
		return r.State
	}

	build := func() {
		n := 0
		recorder = newFakeRecorder()
		store = &fakeStore{active: map[string]bool{}, dist: map[string]int{}, zones: map[string][]models.Connection{}}
		base := []Option{
			WithClock(func() time.Time { return now }),
			WithIDGenerator(func() string { n++; return fmt.Sprintf("req-%d", n) }),
			WithMetricsRecorder(recorder),
			WithConnectionStore(store),
		}
		svc = NewParkingService(append(base, opts...)...)
		Expect(svc.LoadCatalog(ctx, testCatalog())).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		opts = nil
	})

	JustBeforeEach(build)

	Describe("RequestParking", func() {
		It("allocates in the preferred zone when it has room", func() {
			id, err := svc.RequestParking(ctx, "CAR001", "", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("req-1"))

			r, err := svc.Request(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.State).To(Equal(request.Allocated))
			Expect(r.AllocatedZone).To(Equal("A"))
			Expect(r.SlotID).To(Equal("A-1"))
			Expect(r.CrossZone).To(BeFalse())
			Expect(r.Cost.Equal(decimal.NewFromInt(5))).To(BeTrue())
			Expect(free("A")).To(Equal(0))

			Expect(svc.History()).To(HaveLen(1))
			Expect(svc.History()[0].Op).To(Equal(rollback.OpAllocate))
			Expect(recorder.ops["allocate/ok"]).To(Equal(1))
			Expect(recorder.free["A"]).To(Equal(0))
		})

		It("falls back to the nearest zone with room and charges the cross-zone penalty", func() {
			_, err := svc.RequestParking(ctx, "CAR001", "A", 1)
			Expect(err).NotTo(HaveOccurred())

			id, err := svc.RequestParking(ctx, "CAR002", "A", 2)
			Expect(err).NotTo(HaveOccurred())
			r, _ := svc.Request(id)
			Expect(r.AllocatedZone).To(Equal("B"))
			Expect(r.CrossZone).To(BeTrue())
			Expect(r.Path).To(Equal([]string{"A", "B"}))
			Expect(r.Cost.Equal(decimal.RequireFromString("10.8"))).To(BeTrue(), r.Cost.String())
		})

		It("prices by vehicle category", func() {
			id, err := svc.RequestParking(ctx, "BIKE001", "", 1)
			Expect(err).NotTo(HaveOccurred())
			r, _ := svc.Request(id)
			Expect(r.AllocatedZone).To(Equal("B"))
			Expect(r.Cost.Equal(decimal.NewFromInt(2))).To(BeTrue())
		})

		It("registers unknown vehicles as cars", func() {
			_, err := svc.RequestParking(ctx, "NEW001", "C", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.Vehicles()).To(ContainElement(models.Vehicle{ID: "NEW001", PreferredZone: "C", Category: models.CategoryCar}))
		})

		It("leaves no request behind when allocation fails", func() {
			_, err := svc.RequestParking(ctx, "CAR001", "nowhere", 1)
			Expect(err).To(MatchError(ErrZoneNotFound))

			_, err = svc.RequestParking(ctx, "CAR001", "A", 0)
			Expect(err).To(MatchError(ErrInvalidDuration))

			_, err = svc.RequestParking(ctx, "", "A", 1)
			Expect(err).To(MatchError(ErrInvalidVehicle))

			Expect(svc.Requests()).To(BeEmpty())
			Expect(svc.History()).To(BeEmpty())
			Expect(recorder.ops["allocate/rejected"]).To(Equal(3))
		})

		It("reports no capacity once every reachable zone is full", func() {
			for i := 0; i < 7; i++ {
				_, err := svc.RequestParking(ctx, fmt.Sprintf("CAR%03d", i), "A", 1)
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := svc.RequestParking(ctx, "CAR999", "A", 1)
			Expect(err).To(MatchError(ErrNoCapacityAvailable))
			Expect(svc.Requests()).To(HaveLen(7))
			for _, z := range svc.Zones() {
				Expect(z.Free).To(BeZero())
			}
		})

		It("never over-allocates under concurrent callers", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			succeeded := 0
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := svc.RequestParking(ctx, fmt.Sprintf("V%02d", i), "A", 1); err == nil {
						mu.Lock()
						succeeded++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			Expect(succeeded).To(Equal(7))
			for _, z := range svc.Zones() {
				Expect(z.Free).To(BeNumerically(">=", 0))
			}
		})
	})

	Describe("lifecycle", func() {
		var id string

		JustBeforeEach(func() {
			var err error
			id, err = svc.RequestParking(ctx, "CAR001", "A", 2)
			Expect(err).NotTo(HaveOccurred())
		})

		It("occupies then releases, freeing the slot and freezing the duration", func() {
			Expect(svc.OccupyParking(ctx, id)).To(Succeed())
			Expect(state(id)).To(Equal(request.Occupied))
			Expect(free("A")).To(Equal(0))

			now = now.Add(2*time.Hour + 10*time.Minute)
			Expect(svc.ReleaseParking(ctx, id)).To(Succeed())

			r, _ := svc.Request(id)
			Expect(r.State).To(Equal(request.Released))
			Expect(r.DurationHours).To(Equal(2.0))
			Expect(free("A")).To(Equal(1))
		})

		It("rejects release before occupy without touching capacity", func() {
			Expect(svc.ReleaseParking(ctx, id)).To(MatchError(ErrInvalidTransition))
			Expect(state(id)).To(Equal(request.Allocated))
			Expect(free("A")).To(Equal(0))
		})

		It("cancels an allocation, returns capacity and refuses to revive it", func() {
			Expect(svc.CancelParking(ctx, id)).To(Succeed())
			Expect(state(id)).To(Equal(request.Cancelled))
			Expect(free("A")).To(Equal(1))

			Expect(svc.CancelParking(ctx, id)).To(MatchError(ErrInvalidTransition))
			Expect(svc.OccupyParking(ctx, id)).To(MatchError(ErrInvalidTransition))
			Expect(free("A")).To(Equal(1))
		})

		It("cannot cancel once occupied", func() {
			Expect(svc.OccupyParking(ctx, id)).To(Succeed())
			Expect(svc.CancelParking(ctx, id)).To(MatchError(ErrInvalidTransition))
			Expect(state(id)).To(Equal(request.Occupied))
		})

		It("reports unknown requests", func() {
			Expect(svc.OccupyParking(ctx, "nope")).To(MatchError(ErrRequestNotFound))
			Expect(svc.ReleaseParking(ctx, "nope")).To(MatchError(ErrRequestNotFound))
			Expect(svc.CancelParking(ctx, "nope")).To(MatchError(ErrRequestNotFound))
			_, err := svc.Request("nope")
			Expect(err).To(MatchError(ErrRequestNotFound))
		})
	})

	Describe("Undo", func() {
		It("restores capacity and state after an allocation", func() {
			id, err := svc.RequestParking(ctx, "CAR001", "A", 1)
			Expect(err).NotTo(HaveOccurred())

			res, err := svc.Undo(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(Equal(1))
			Expect(free("A")).To(Equal(1))
			Expect(state(id)).To(Equal(request.Requested))
			Expect(recorder.depth).To(Equal(0))

			By("refusing to occupy the rewound request without mutating it")
			before, _ := svc.Request(id)
			Expect(svc.OccupyParking(ctx, id)).To(MatchError(ErrInvalidTransition))
			after, _ := svc.Request(id)
			Expect(after).To(Equal(before))
			Expect(free("A")).To(Equal(1))
		})

		It("walks back a full lifecycle newest first", func() {
			id, _ := svc.RequestParking(ctx, "CAR001", "A", 1)
			Expect(svc.OccupyParking(ctx, id)).To(Succeed())
			Expect(svc.ReleaseParking(ctx, id)).To(Succeed())

			res, err := svc.Undo(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Entries[0].Op).To(Equal(rollback.OpRelease))
			Expect(res.Entries[1].Op).To(Equal(rollback.OpOccupy))
			Expect(state(id)).To(Equal(request.Allocated))
			Expect(free("A")).To(Equal(0))

			_, err = svc.Undo(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(state(id)).To(Equal(request.Requested))
			Expect(free("A")).To(Equal(1))
		})

		It("re-reserves the slot when undoing a cancellation", func() {
			id, _ := svc.RequestParking(ctx, "CAR001", "A", 1)
			Expect(svc.CancelParking(ctx, id)).To(Succeed())
			Expect(free("A")).To(Equal(1))

			cancelled, _ := svc.Request(id)
			Expect(cancelled.SlotID).To(BeEmpty())

			_, err := svc.Undo(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(state(id)).To(Equal(request.Allocated))
			Expect(free("A")).To(Equal(0))
			revived, _ := svc.Request(id)
			Expect(revived.AllocatedZone).To(Equal("A"))
			Expect(revived.SlotID).To(Equal("A-1"))
		})

		It("validates the step count and an empty log", func() {
			_, err := svc.Undo(ctx, 0)
			Expect(err).To(MatchError(ErrInvalidSteps))

			res, err := svc.Undo(ctx, 1)
			Expect(err).To(MatchError(ErrUndoUnavailable))
			Expect(res.Applied).To(BeZero())
			Expect(recorder.ops["undo/rejected"]).To(Equal(2))
		})

		Context("with a shallow log", func() {
			BeforeEach(func() {
				opts = []Option{WithUndoDepth(2)}
			})

			It("only undoes what the log still holds", func() {
				for _, v := range []string{"CAR001", "CAR002", "CAR003"} {
					_, err := svc.RequestParking(ctx, v, "B", 1)
					Expect(err).NotTo(HaveOccurred())
				}
				Expect(svc.History()).To(HaveLen(2))

				res, err := svc.Undo(ctx, 3)
				Expect(err).To(MatchError(ErrUndoUnavailable))
				Expect(res.Applied).To(Equal(2))
				Expect(res.Partial()).To(BeTrue())
				Expect(state("req-1")).To(Equal(request.Allocated))
				Expect(recorder.ops["undo/partial"]).To(Equal(1))
			})
		})
	})

	Describe("connections", func() {
		It("routes around a closed connection and persists the change", func() {
			Expect(svc.CloseConnection(ctx, "A", "B")).To(Succeed())
			Expect(store.active["A->B"]).To(BeFalse())

			_, err := svc.RequestParking(ctx, "CAR001", "A", 1)
			Expect(err).NotTo(HaveOccurred())
			id, err := svc.RequestParking(ctx, "CAR002", "A", 1)
			Expect(err).NotTo(HaveOccurred())
			r, _ := svc.Request(id)
			Expect(r.AllocatedZone).To(Equal("C"))

			reachable, unreachable, err := svc.Reachable("A")
			Expect(err).NotTo(HaveOccurred())
			Expect(reachable).To(Equal([]string{"A", "C"}))
			Expect(unreachable).To(Equal([]string{"B", "D"}))

			Expect(svc.OpenConnection(ctx, "A", "B")).To(Succeed())
			Expect(store.active["A->B"]).To(BeTrue())
		})

		It("updates distances used by routing", func() {
			Expect(svc.UpdateConnectionDistance(ctx, "A", "C", 100)).To(Succeed())
			Expect(store.dist["A->C"]).To(Equal(100))

			route, err := svc.ShortestPath("A", "C")
			Expect(err).NotTo(HaveOccurred())
			Expect(route.Distance).To(Equal(100))
			Expect(route.Path).To(Equal([]string{"A", "C"}))
		})

		It("rolls back the in-memory change when persisting fails", func() {
			store.fail = errors.New("db down")
			Expect(svc.CloseConnection(ctx, "A", "B")).To(MatchError(ContainSubstring("db down")))
			route, err := svc.ShortestPath("A", "B")
			Expect(err).NotTo(HaveOccurred())
			Expect(route.Found()).To(BeTrue())

			Expect(svc.UpdateConnectionDistance(ctx, "A", "B", 1)).NotTo(Succeed())
			route, _ = svc.ShortestPath("A", "B")
			Expect(route.Distance).To(Equal(500))
		})

		It("reports unknown connections and zones", func() {
			Expect(svc.CloseConnection(ctx, "D", "B")).To(MatchError(ErrConnectionNotFound))
			Expect(svc.CloseConnection(ctx, "A", "Z")).To(MatchError(ErrZoneNotFound))
			_, err := svc.ShortestPath("Z", "A")
			Expect(err).To(MatchError(ErrZoneNotFound))
		})

		It("reports a connection missing from the store as not found", func() {
			store.fail = fmt.Errorf("error setting connection A->B active=false: %w", zonegraph.ErrConnectionNotFound)
			Expect(svc.CloseConnection(ctx, "A", "B")).To(MatchError(ErrConnectionNotFound))
		})
	})

	Describe("AddZoneWithConnections", func() {
		zx := models.Zone{ID: "X", Name: "Airport", Capacity: 2, HourlyRate: 7}

		It("adds the zone, its connections and persists them together", func() {
			conns := []models.Connection{
				{Source: "X", Target: "A", Distance: 300, Direction: models.DirectionBi},
				{Source: "D", Target: "X", Distance: 100},
			}
			Expect(svc.AddZoneWithConnections(ctx, zx, conns)).To(Succeed())
			Expect(store.zones).To(HaveKeyWithValue("X", conns))

			route, err := svc.ShortestPath("X", "A")
			Expect(err).NotTo(HaveOccurred())
			Expect(route.Distance).To(Equal(300))
			route, err = svc.ShortestPath("B", "X")
			Expect(err).NotTo(HaveOccurred())
			Expect(route.Path).To(Equal([]string{"B", "D", "X"}))
			Expect(svc.GraphData().Links).To(HaveLen(8))
		})

		It("leaves nothing behind when a connection names an unknown zone", func() {
			conns := []models.Connection{
				{Source: "X", Target: "A", Distance: 300},
				{Source: "X", Target: "NOPE", Distance: 10},
			}
			Expect(svc.AddZoneWithConnections(ctx, zx, conns)).To(MatchError(ErrZoneNotFound))
			_, err := svc.Zone("X")
			Expect(err).To(MatchError(ErrZoneNotFound))
			Expect(svc.GraphData().Links).To(HaveLen(5))
			Expect(store.zones).To(BeEmpty())

			Expect(svc.AddZoneWithConnections(ctx, zx, conns[:1])).To(Succeed())
		})

		It("rejects connections that do not touch the new zone", func() {
			conns := []models.Connection{{Source: "A", Target: "D", Distance: 10}}
			Expect(svc.AddZoneWithConnections(ctx, zx, conns)).To(MatchError(ErrInvalidConnection))
			_, err := svc.Zone("X")
			Expect(err).To(MatchError(ErrZoneNotFound))
		})

		It("removes the zone again when persisting fails", func() {
			store.fail = errors.New("db down")
			conns := []models.Connection{{Source: "A", Target: "X", Distance: 50, Direction: models.DirectionBi}}
			Expect(svc.AddZoneWithConnections(ctx, zx, conns)).To(MatchError(ContainSubstring("db down")))
			_, err := svc.Zone("X")
			Expect(err).To(MatchError(ErrZoneNotFound))
			Expect(svc.GraphData().Links).To(HaveLen(5))
		})
	})

	Describe("catalog and views", func() {
		It("rejects bad catalog entries", func() {
			Expect(svc.AddZone(ctx, models.Zone{ID: "A", Capacity: 1})).To(MatchError(ErrZoneExists))
			Expect(svc.Connect(ctx, models.Connection{Source: "A", Target: "Q", Distance: 1})).To(MatchError(ErrZoneNotFound))
			Expect(svc.RegisterVehicle(ctx, models.Vehicle{ID: "X", Category: "BOAT"})).To(MatchError(ErrInvalidVehicle))
			Expect(svc.RegisterVehicle(ctx, models.Vehicle{ID: "X", PreferredZone: "Q"})).To(MatchError(ErrZoneNotFound))
		})

		It("builds the zone map with live capacity", func() {
			_, err := svc.RequestParking(ctx, "CAR001", "A", 1)
			Expect(err).NotTo(HaveOccurred())

			data := svc.GraphData()
			Expect(data.Nodes).To(HaveLen(4))
			Expect(data.Nodes[0]).To(Equal(models.Node{
				ID: "A", Name: "Downtown", Capacity: 1, Free: 0, HourlyRate: "5.00", Utilization: 100,
			}))
			Expect(data.Links).To(HaveLen(5))
		})

		It("snapshots zones and requests together", func() {
			_, _ = svc.RequestParking(ctx, "CAR001", "A", 1)
			snap := svc.Snapshot()
			Expect(snap.Zones).To(HaveLen(4))
			Expect(snap.Requests).To(HaveLen(1))
			Expect(snap.TakenAt).To(Equal(now))
		})
	})
})
