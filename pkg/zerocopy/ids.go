package zerocopy

import "strings"

// IDs is a read-only guard over an archived id list.
//
// A nil *IDs is a valid empty guard: Len is 0, iteration yields nothing
// and Close does nothing. Indexes return nil when a key is absent.
//
// Example:
//
//	ids, err := idx.Query("chat_id", "c1")
//	if err != nil {
//		return err
//	}
//	defer ids.Close()
//	for it := ids.Iter(); it.Next(); {
//		fmt.Println(it.ID())
//	}
type IDs struct {
	guard
	rec record
}

// NewIDs validates buf and returns a guard bound to scope. If owns is
// true, closing the guard closes the scope.
func NewIDs(scope *Scope, owns bool, buf []byte) (*IDs, error) {
	rec, err := parse(buf, KindIDs)
	if err != nil {
		return nil, err
	}
	return &IDs{guard: guard{scope: scope, owns: owns}, rec: rec}, nil
}

// Len returns the number of ids.
func (g *IDs) Len() int {
	if g == nil {
		return 0
	}
	return g.rec.count
}

// Iter returns an iterator positioned before the first id.
func (g *IDs) Iter() IDIter {
	if g == nil {
		return IDIter{}
	}
	return IDIter{g: g, rest: g.rec.payload}
}

// Contains reports whether id is in the list.
func (g *IDs) Contains(id string) bool {
	for it := g.Iter(); it.Next(); {
		if it.ID() == id {
			return true
		}
	}
	return false
}

// ToOwned copies the ids out of the guard.
func (g *IDs) ToOwned() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, g.rec.count)
	for it := g.Iter(); it.Next(); {
		out = append(out, strings.Clone(it.ID()))
	}
	return out
}

// Close releases the guard.
func (g *IDs) Close() {
	if g == nil {
		return
	}
	g.close()
}

// IDIter walks an IDs guard. The zero value yields nothing.
type IDIter struct {
	g    *IDs
	rest []byte
	cur  string
	err  error
}

// Next advances to the next id. It returns false at the end, or when the
// guard has been closed (Err then reports ErrClosed).
func (it *IDIter) Next() bool {
	if it.g == nil || it.err != nil || len(it.rest) == 0 {
		return false
	}
	if !it.g.alive() {
		it.err = ErrClosed
		it.rest = nil
		return false
	}
	f, rest, _ := readField(it.rest)
	it.cur = borrow(f)
	it.rest = rest
	return true
}

// ID returns the current id. It aliases the record bytes.
func (it *IDIter) ID() string { return it.cur }

// Err returns ErrClosed if iteration stopped because the guard closed.
func (it *IDIter) Err() error { return it.err }
