// Package order tracks the bracket orders of the single trade cycle: it ages
// the working entry, expires it, opens and manages the position on fill and
// moves the protective stop to breakeven once.
package order

import (
	"errors"
	"fmt"
	"sort"
)

// Errors for order tracking
var (
	ErrUnknownOrder   = errors.New("unknown order reference")
	ErrDuplicateOrder = errors.New("order reference already registered")
	ErrBusy           = errors.New("a trade cycle is already in progress")
)

// Role is the function of an order within a bracket.
type Role string

const (
	RoleEntry  Role = "ENTRY"
	RoleStop   Role = "STOP"
	RoleTarget Role = "TARGET"
)

// Handle is the local record of one broker order.
type Handle struct {
	Role            Role    `json:"role"`
	Ref             string  `json:"ref"`
	Age             int     `json:"age"`
	Price           float64 `json:"price"`
	Size            float64 `json:"size"`
	CancelRequested bool    `json:"cancel_requested"`
	CancelAttempts  int     `json:"cancel_attempts"`
}

// Registry maps broker references to handles.
type Registry struct {
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Insert registers a handle under its reference.
func (r *Registry) Insert(h Handle) error {
	if h.Ref == "" {
		return fmt.Errorf("%w: empty reference", ErrUnknownOrder)
	}
	if _, exists := r.handles[h.Ref]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, h.Ref)
	}
	r.handles[h.Ref] = &h
	return nil
}

// Get returns the handle for ref.
func (r *Registry) Get(ref string) (*Handle, bool) {
	h, ok := r.handles[ref]
	return h, ok
}

// Age advances every handle that is not waiting on a cancel by one bar.
func (r *Registry) Age() {
	for _, h := range r.handles {
		if !h.CancelRequested {
			h.Age++
		}
	}
}

// Expired returns the references of role handles older than maxAge that have
// no cancel outstanding, in reference order.
func (r *Registry) Expired(role Role, maxAge int) []string {
	var refs []string
	for ref, h := range r.handles {
		if h.Role == role && !h.CancelRequested && h.Age > maxAge {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs
}

// Remove deletes ref and returns its last state.
func (r *Registry) Remove(ref string) (Handle, bool) {
	h, ok := r.handles[ref]
	if !ok {
		return Handle{}, false
	}
	delete(r.handles, ref)
	return *h, true
}

// ByRole returns the first handle with the given role.
func (r *Registry) ByRole(role Role) (*Handle, bool) {
	for _, ref := range r.refs() {
		if h := r.handles[ref]; h.Role == role {
			return h, true
		}
	}
	return nil, false
}

// Handles returns copies of every handle in reference order.
func (r *Registry) Handles() []Handle {
	out := make([]Handle, 0, len(r.handles))
	for _, ref := range r.refs() {
		out = append(out, *r.handles[ref])
	}
	return out
}

// Clear drops every handle.
func (r *Registry) Clear() {
	r.handles = make(map[string]*Handle)
}

func (r *Registry) refs() []string {
	refs := make([]string, 0, len(r.handles))
	for ref := range r.handles {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
