// Package request implements the parking request lifecycle:
//
//	REQUESTED -> ALLOCATED -> OCCUPIED -> RELEASED
//	REQUESTED -> CANCELLED
//	ALLOCATED -> CANCELLED
//
// RELEASED and CANCELLED are terminal. A transition outside that table fails
// with ErrInvalidTransition and leaves the request untouched. Rewind is the
// undo counterpart and only walks those edges backwards.
package request

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition = errors.New("request: invalid state transition")
	ErrRequestNotFound   = errors.New("request: not found")
	ErrRequestExists     = errors.New("request: already exists")
)

// State is a lifecycle state.
type State int

const (
	Requested State = iota
	Allocated
	Occupied
	Released
	Cancelled
)

var stateNames = [...]string{
	Requested: "REQUESTED",
	Allocated: "ALLOCATED",
	Occupied:  "OCCUPIED",
	Released:  "RELEASED",
	Cancelled: "CANCELLED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ParseState is the inverse of String, case-insensitive.
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if strings.EqualFold(name, s) {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("request: unknown state %q", s)
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no forward transition leaves s.
func (s State) IsTerminal() bool { return s == Released || s == Cancelled }

// HoldsSlot reports whether a request in s owns an allocated zone and slot.
func (s State) HoldsSlot() bool { return s == Allocated || s == Occupied || s == Released }

var transitions = map[State][]State{
	Requested: {Allocated, Cancelled},
	Allocated: {Occupied, Cancelled},
	Occupied:  {Released},
}

// rewinds lists the backward moves an undo may apply.
var rewinds = map[State][]State{
	Allocated: {Requested},
	Occupied:  {Allocated, Requested},
	Released:  {Occupied},
	Cancelled: {Requested, Allocated},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	return contains(transitions[from], to)
}

// CanRewind reports whether an undo may move a request from -> to.
func CanRewind(from, to State) bool {
	return contains(rewinds[from], to)
}

func contains(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

// Request is a single parking request. Mutate it only through its methods.
type Request struct {
	ID            string          `json:"id"`
	VehicleID     string          `json:"vehicle_id"`
	PreferredZone string          `json:"preferred_zone"`
	AllocatedZone string          `json:"allocated_zone,omitempty"`
	SlotID        string          `json:"slot_id,omitempty"`
	State         State           `json:"state"`
	RequestedAt   time.Time       `json:"requested_at"`
	AllocatedAt   time.Time       `json:"allocated_at,omitzero"`
	CompletedAt   time.Time       `json:"completed_at,omitzero"`
	// RequestedHours is the duration the allocation was priced for.
	RequestedHours float64 `json:"requested_hours"`
	// DurationHours is the elapsed time frozen on release.
	DurationHours float64         `json:"duration_hours"`
	Cost          decimal.Decimal `json:"cost"`
	CrossZone     bool            `json:"cross_zone"`
	Path          []string        `json:"path,omitempty"`
}

// New returns a request in the REQUESTED state.
func New(id, vehicleID, preferredZone string, hours float64, now time.Time) *Request {
	return &Request{
		ID:             id,
		VehicleID:      vehicleID,
		PreferredZone:  preferredZone,
		State:          Requested,
		RequestedAt:    now,
		RequestedHours: hours,
		Cost:           decimal.Zero,
	}
}

func (r *Request) transition(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, r.ID, r.State, to)
	}
	return nil
}

// Allocate moves REQUESTED -> ALLOCATED and records where and at what cost.
func (r *Request) Allocate(zone, slot string, cost decimal.Decimal, crossZone bool, path []string, now time.Time) error {
	if err := r.transition(Allocated); err != nil {
		return err
	}
	if zone == "" || slot == "" {
		return fmt.Errorf("%w: %s allocation needs zone and slot", ErrInvalidTransition, r.ID)
	}
	r.AllocatedZone = zone
	r.SlotID = slot
	r.Cost = cost
	r.CrossZone = crossZone
	r.Path = append([]string(nil), path...)
	r.AllocatedAt = now
	r.State = Allocated
	return nil
}

// Occupy moves ALLOCATED -> OCCUPIED.
func (r *Request) Occupy(now time.Time) error {
	if err := r.transition(Occupied); err != nil {
		return err
	}
	r.State = Occupied
	return nil
}

// Release moves OCCUPIED -> RELEASED and freezes the elapsed duration,
// rounded to the nearest hour.
func (r *Request) Release(now time.Time) error {
	if err := r.transition(Released); err != nil {
		return err
	}
	r.State = Released
	r.CompletedAt = now
	r.DurationHours = math.Round(now.Sub(r.AllocatedAt).Hours())
	return nil
}

// Cancel moves REQUESTED or ALLOCATED -> CANCELLED and gives up the zone
// and slot. Price and path stay for reporting.
func (r *Request) Cancel(now time.Time) error {
	if err := r.transition(Cancelled); err != nil {
		return err
	}
	r.State = Cancelled
	r.AllocatedZone = ""
	r.SlotID = ""
	r.CompletedAt = now
	return nil
}

// Reinstate undoes the cancellation of an allocated request, handing its
// zone and slot back.
func (r *Request) Reinstate(zone, slot string) error {
	if r.State != Cancelled || zone == "" || slot == "" {
		return fmt.Errorf("%w: %s cannot reinstate %s into %q/%q", ErrInvalidTransition, r.ID, r.State, zone, slot)
	}
	r.AllocatedZone = zone
	r.SlotID = slot
	r.CompletedAt = time.Time{}
	r.State = Allocated
	return nil
}

// Rewind undoes forward transitions, landing the request in to.
func (r *Request) Rewind(to State) error {
	if !CanRewind(r.State, to) {
		return fmt.Errorf("%w: %s cannot rewind %s -> %s", ErrInvalidTransition, r.ID, r.State, to)
	}
	if r.State == Cancelled && to == Allocated {
		return fmt.Errorf("%w: %s needs its zone and slot back, see Reinstate", ErrInvalidTransition, r.ID)
	}
	switch to {
	case Requested:
		r.AllocatedZone = ""
		r.SlotID = ""
		r.Cost = decimal.Zero
		r.CrossZone = false
		r.Path = nil
		r.AllocatedAt = time.Time{}
		r.CompletedAt = time.Time{}
		r.DurationHours = 0
	case Allocated, Occupied:
		r.CompletedAt = time.Time{}
		r.DurationHours = 0
	}
	r.State = to
	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (r *Request) Clone() Request {
	c := *r
	c.Path = append([]string(nil), r.Path...)
	return c
}
