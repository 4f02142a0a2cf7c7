package vector

import (
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// Guard is a borrowed view of one stored vector.
//
// Stored vectors are never modified in place, so the view stays coherent
// even if the id is later replaced, removed or the index is compacted; it
// simply describes the generation it was taken from (see Stale). After
// Close, Vector returns nil.
type Guard struct {
	scope *zerocopy.Scope
	index *Index
	id    string
	vec   []float32
	gen   uint64
}

// View returns a guard over the vector stored for id.
func (h *Index) View(id string) (*Guard, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	slot, ok := h.slots.Get(id)
	if !ok {
		return nil, false
	}
	return &Guard{
		scope: zerocopy.NewScope(nil),
		index: h,
		id:    id,
		vec:   h.vectors[slot],
		gen:   h.gen,
	}, true
}

// ID returns the vector id.
func (g *Guard) ID() string { return g.id }

// Vector returns the borrowed vector, or nil once the guard is closed.
// The slice must not be modified.
func (g *Guard) Vector() []float32 {
	if !g.scope.Alive() {
		return nil
	}
	return g.vec
}

// Stale reports whether the index has been compacted since the guard was
// taken.
func (g *Guard) Stale() bool {
	g.index.mu.RLock()
	defer g.index.mu.RUnlock()
	return g.index.gen != g.gen
}

// ToOwned returns a copy of the vector, or nil once the guard is closed.
func (g *Guard) ToOwned() []float32 {
	v := g.Vector()
	if v == nil {
		return nil
	}
	return append([]float32(nil), v...)
}

// Close releases the guard.
func (g *Guard) Close() {
	g.scope.Close()
}
