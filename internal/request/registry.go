package request

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator produces request identifiers.
type IDGenerator func() string

// Registry keeps every submitted request in submission order. It is not safe
// for concurrent use.
type Registry struct {
	byID   map[string]*Request
	order  []string
	nextID IDGenerator
}

type RegistryOption func(*Registry)

// WithIDGenerator replaces the default uuid generator.
func WithIDGenerator(gen IDGenerator) RegistryOption {
	return func(r *Registry) {
		if gen != nil {
			r.nextID = gen
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:   make(map[string]*Request),
		nextID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextID returns a fresh identifier. It does not reserve it.
func (r *Registry) NextID() string { return r.nextID() }

func (r *Registry) Add(req *Request) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("request: empty id")
	}
	if _, ok := r.byID[req.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRequestExists, req.ID)
	}
	r.byID[req.ID] = req
	r.order = append(r.order, req.ID)
	return nil
}

// Get returns the live request; callers mutate it only through its methods.
func (r *Registry) Get(id string) (*Request, error) {
	req, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return req, nil
}

// List returns copies of every request in submission order.
func (r *Registry) List() []Request {
	out := make([]Request, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }
