// Package rollback records committed lifecycle operations in a bounded
// newest-first log and undoes them in LIFO order.
//
// The log holds at most Cap entries. Pushing onto a full log overwrites the
// oldest entry, which can then never be undone. An undo validates the entry
// against the zone graph and the request before touching either, and the
// entry is popped only when the undo applied.
package rollback

import (
	"errors"
	"fmt"
	"time"

	"nexuspark/internal/request"
	"nexuspark/internal/zonegraph"
)

// DefaultDepth is the log capacity used when none is configured.
const DefaultDepth = 10

var (
	ErrUndoUnavailable = errors.New("rollback: nothing to undo")
	ErrInvalidSteps    = errors.New("rollback: steps must be positive")
	ErrRequestNotFound = request.ErrRequestNotFound
	ErrZoneNotFound    = zonegraph.ErrZoneNotFound
	ErrInconsistent    = errors.New("rollback: entry does not match request state")
)

// Op is the kind of operation an entry records.
type Op int

const (
	OpAllocate Op = iota
	OpOccupy
	OpRelease
	OpCancel
)

func (o Op) String() string {
	switch o {
	case OpAllocate:
		return "ALLOCATE"
	case OpOccupy:
		return "OCCUPY"
	case OpRelease:
		return "RELEASE"
	case OpCancel:
		return "CANCEL"
	}
	return "UNKNOWN"
}

func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Op) UnmarshalText(text []byte) error {
	for _, op := range []Op{OpAllocate, OpOccupy, OpRelease, OpCancel} {
		if op.String() == string(text) {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("rollback: unknown op %q", text)
}

// Entry is one committed operation.
type Entry struct {
	Op        Op            `json:"op"`
	RequestID string        `json:"request_id"`
	ZoneID    string        `json:"zone_id,omitempty"`
	SlotID    string        `json:"slot_id,omitempty"`
	PrevState request.State `json:"prev_state"`
	At        time.Time     `json:"at"`
}

// Capacity is the slice of the zone graph an undo needs.
type Capacity interface {
	Has(zoneID string) bool
	TryReserve(zoneID string) error
	Release(zoneID string) error
}

// Requests resolves request ids to live requests.
type Requests interface {
	Get(id string) (*request.Request, error)
}

// Log is a fixed-capacity ring buffer of entries. Not safe for concurrent use.
type Log struct {
	buf  []Entry
	head int // next write position
	size int
}

func NewLog(depth int) *Log {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Log{buf: make([]Entry, depth)}
}

// Push records e and reports whether the oldest entry was evicted to make room.
func (l *Log) Push(e Entry) bool {
	evicted := l.size == len(l.buf)
	l.buf[l.head] = e
	l.head = (l.head + 1) % len(l.buf)
	if !evicted {
		l.size++
	}
	return evicted
}

// Peek returns the newest entry.
func (l *Log) Peek() (Entry, bool) {
	if l.size == 0 {
		return Entry{}, false
	}
	return l.buf[l.index(0)], true
}

func (l *Log) Len() int { return l.size }
func (l *Log) Cap() int { return len(l.buf) }

// Entries returns the log newest first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, l.size)
	for i := range out {
		out[i] = l.buf[l.index(i)]
	}
	return out
}

func (l *Log) Clear() {
	clear(l.buf)
	l.head, l.size = 0, 0
}

// index maps the i-th newest entry to its buffer slot.
func (l *Log) index(i int) int {
	n := len(l.buf)
	return ((l.head-1-i)%n + n) % n
}

func (l *Log) pop() {
	l.head = (l.head - 1 + len(l.buf)) % len(l.buf)
	l.buf[l.head] = Entry{}
	l.size--
}

// UndoOne reverts the newest entry.
func (l *Log) UndoOne(g Capacity, reqs Requests) (Entry, error) {
	e, ok := l.Peek()
	if !ok {
		return Entry{}, ErrUndoUnavailable
	}
	if err := apply(e, g, reqs); err != nil {
		return e, err
	}
	l.pop()
	return e, nil
}

// Result describes an UndoMany call.
type Result struct {
	Requested int     `json:"requested"`
	Applied   int     `json:"applied"`
	Entries   []Entry `json:"entries"`
}

// Partial reports whether fewer undos applied than were requested.
func (r Result) Partial() bool { return r.Applied > 0 && r.Applied < r.Requested }

// UndoMany reverts up to steps entries, stopping at the first failure.
// Undos applied before a failure stay applied.
func (l *Log) UndoMany(steps int, g Capacity, reqs Requests) (Result, error) {
	res := Result{Requested: steps}
	if steps <= 0 {
		return res, fmt.Errorf("%w: %d", ErrInvalidSteps, steps)
	}
	for res.Applied < steps {
		e, err := l.UndoOne(g, reqs)
		if err != nil {
			return res, err
		}
		res.Applied++
		res.Entries = append(res.Entries, e)
	}
	return res, nil
}

// apply checks every precondition of e before mutating anything.
func apply(e Entry, g Capacity, reqs Requests) error {
	req, err := reqs.Get(e.RequestID)
	if err != nil {
		return err
	}

	var target request.State
	var reserve, release bool
	switch e.Op {
	case OpAllocate:
		target, release = request.Requested, true
	case OpOccupy:
		target = request.Allocated
	case OpRelease:
		target, reserve = request.Occupied, true
	case OpCancel:
		target = e.PrevState
		reserve = e.PrevState == request.Allocated
	default:
		return fmt.Errorf("%w: unknown op %d", ErrInconsistent, e.Op)
	}

	if !request.CanRewind(req.State, target) {
		return fmt.Errorf("%w: %s %s is %s, cannot return to %s",
			ErrInconsistent, e.Op, req.ID, req.State, target)
	}
	if (reserve || release) && !g.Has(e.ZoneID) {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, e.ZoneID)
	}
	rewind := func() error { return req.Rewind(target) }
	if e.Op == OpCancel && target == request.Allocated {
		if e.SlotID == "" {
			return fmt.Errorf("%w: %s %s has no slot to hand back", ErrInconsistent, e.Op, req.ID)
		}
		rewind = func() error { return req.Reinstate(e.ZoneID, e.SlotID) }
	}

	switch {
	case release:
		if err := g.Release(e.ZoneID); err != nil {
			return err
		}
	case reserve:
		if err := g.TryReserve(e.ZoneID); err != nil {
			return err
		}
	}
	if err := rewind(); err != nil {
		switch {
		case release:
			_ = g.TryReserve(e.ZoneID)
		case reserve:
			_ = g.Release(e.ZoneID)
		}
		return err
	}
	return nil
}
