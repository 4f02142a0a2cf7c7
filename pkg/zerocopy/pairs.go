package zerocopy

import "strings"

// Pairs is a read-only guard over an adjacency list.
//
// It is backed either by an archived record read from the store, or by an
// immutable []Pair published by the lock-free graph. Both back ends iterate
// in insertion order without allocating.
//
// A nil *Pairs is a valid empty guard.
type Pairs struct {
	guard
	rec   record
	slice []Pair
	hot   bool
}

// NewPairs validates buf and returns a guard bound to scope.
func NewPairs(scope *Scope, owns bool, buf []byte) (*Pairs, error) {
	rec, err := parse(buf, KindPairs)
	if err != nil {
		return nil, err
	}
	return &Pairs{guard: guard{scope: scope, owns: owns}, rec: rec}, nil
}

// NewPairsFromSlice returns a guard over pairs, which must not be mutated
// while the scope is open.
func NewPairsFromSlice(scope *Scope, owns bool, pairs []Pair) *Pairs {
	return &Pairs{guard: guard{scope: scope, owns: owns}, slice: pairs, hot: true}
}

// Len returns the number of pairs.
func (g *Pairs) Len() int {
	if g == nil {
		return 0
	}
	if g.hot {
		return len(g.slice)
	}
	return g.rec.count
}

// Iter iterates (relationship, neighbor) pairs.
func (g *Pairs) Iter() PairIter {
	if g == nil {
		return PairIter{}
	}
	return PairIter{g: g, rest: g.rec.payload}
}

// Rels iterates relationship ids only.
func (g *Pairs) Rels() FieldIter {
	return FieldIter{PairIter: g.Iter()}
}

// Neighbors iterates neighbor ids only.
func (g *Pairs) Neighbors() FieldIter {
	return FieldIter{PairIter: g.Iter(), neighbors: true}
}

// ToOwned copies the pairs out of the guard.
func (g *Pairs) ToOwned() []Pair {
	if g == nil {
		return nil
	}
	out := make([]Pair, 0, g.Len())
	for it := g.Iter(); it.Next(); {
		out = append(out, Pair{Rel: strings.Clone(it.Rel()), Nbr: strings.Clone(it.Nbr())})
	}
	return out
}

// Close releases the guard.
func (g *Pairs) Close() {
	if g == nil {
		return
	}
	g.close()
}

// PairIter walks a Pairs guard. The zero value yields nothing.
type PairIter struct {
	g    *Pairs
	rest []byte
	pos  int
	rel  string
	nbr  string
	err  error
}

// Next advances to the next pair. It returns false at the end, or when
// the guard has been closed (Err then reports ErrClosed).
func (it *PairIter) Next() bool {
	if it.g == nil || it.err != nil {
		return false
	}
	if it.g.hot {
		if it.pos >= len(it.g.slice) {
			return false
		}
	} else if len(it.rest) == 0 {
		return false
	}
	if !it.g.alive() {
		it.err = ErrClosed
		it.rest = nil
		return false
	}

	if it.g.hot {
		p := it.g.slice[it.pos]
		it.pos++
		it.rel, it.nbr = p.Rel, p.Nbr
		return true
	}
	rel, rest, _ := readField(it.rest)
	nbr, rest, _ := readField(rest)
	it.rel, it.nbr = borrow(rel), borrow(nbr)
	it.rest = rest
	return true
}

// Rel returns the current relationship id.
func (it *PairIter) Rel() string { return it.rel }

// Nbr returns the current neighbor id.
func (it *PairIter) Nbr() string { return it.nbr }

// Pair returns the current pair. Its strings alias the guard.
func (it *PairIter) Pair() Pair { return Pair{Rel: it.rel, Nbr: it.nbr} }

// Err returns ErrClosed if iteration stopped because the guard closed.
func (it *PairIter) Err() error { return it.err }

// FieldIter yields a single field of each pair.
type FieldIter struct {
	PairIter
	neighbors bool
}

// ID returns the selected field of the current pair.
func (it *FieldIter) ID() string {
	if it.neighbors {
		return it.nbr
	}
	return it.rel
}
