// Package graph implements the bidirectional adjacency index.
//
// Every edge a -[r]-> b is recorded twice: as (r, b) in the outgoing list
// of a ("out:a") and as (r, a) in the incoming list of b ("in:b"). The two
// records are written atomically, so for any committed state
//
//	(r, b) ∈ out:a  ⇔  (r, a) ∈ in:b
//
// Lists keep insertion order and allow parallel edges (distinct relationship
// ids between the same endpoints). Reads return zerocopy.Pairs guards.
//
// Two write strategies are supported:
//
//   - Default: both sides in a single store transaction.
//   - WriteIntents: an "intent:{uuid}" marker is committed first, then each
//     side in its own transaction, then the marker is cleared. Recover rolls
//     any leftover marker forward, so a crash between the sides is repaired
//     on the next open instead of leaving a one-sided edge.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// Options configures an Index.
type Options struct {
	// WriteIntents splits each edge mutation into separate transactions
	// guarded by a recoverable intent marker.
	WriteIntents bool

	// Locks is the key lock table shared with other writers. Optional.
	Locks *storage.KeyLocks

	Logger *slog.Logger
}

// Index is the graph adjacency index.
type Index struct {
	store   storage.Store
	locks   *storage.KeyLocks
	log     *slog.Logger
	intents bool
}

// New creates a graph index over store.
func New(store storage.Store, opts Options) *Index {
	if opts.Locks == nil {
		opts.Locks = storage.NewKeyLocks(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Index{
		store:   store,
		locks:   opts.Locks,
		log:     opts.Logger.With("component", "graph"),
		intents: opts.WriteIntents,
	}
}

// Edge identifies one directed relationship.
type Edge struct {
	Rel  string
	From string
	To   string
}

func (e Edge) validate() error {
	if e.Rel == "" || e.From == "" || e.To == "" {
		return fmt.Errorf("%w: edge %q %q->%q", storage.ErrInvalidID, e.Rel, e.From, e.To)
	}
	return nil
}

// Keys returns the store keys an edge mutation touches, for lock
// acquisition by callers that batch writes.
func (e Edge) Keys() [][]byte {
	return [][]byte{storage.OutgoingKey(e.From), storage.IncomingKey(e.To)}
}

// AddEdge records rel from → to in both directions.
//
// Adding the exact same (rel, from, to) twice is a no-op; distinct
// relationship ids between the same endpoints are kept as parallel edges.
func (x *Index) AddEdge(rel, from, to string) error {
	return x.mutate(Edge{Rel: rel, From: from, To: to}, opAdd)
}

// RemoveEdge removes rel from → to from both directions. Removing an edge
// that does not exist is a no-op.
func (x *Index) RemoveEdge(rel, from, to string) error {
	return x.mutate(Edge{Rel: rel, From: from, To: to}, opRemove)
}

func (x *Index) mutate(e Edge, op string) error {
	if err := e.validate(); err != nil {
		return err
	}
	unlock := x.locks.Lock(e.Keys()...)
	defer unlock()

	if x.intents {
		return x.mutateWithIntent(e, op)
	}
	err := x.store.Update(func(txn storage.Txn) error {
		if op == opAdd {
			return x.AddEdgeTxn(txn, e)
		}
		return x.RemoveEdgeTxn(txn, e)
	})
	if err != nil {
		return fmt.Errorf("graph %s %s: %w", op, e.Rel, err)
	}
	return nil
}

// AddEdgeTxn writes both sides of e inside a caller-owned transaction.
// The caller holds the key locks for e.Keys().
func (x *Index) AddEdgeTxn(txn storage.Txn, e Edge) error {
	if err := e.validate(); err != nil {
		return err
	}
	if err := addSide(txn, storage.OutgoingKey(e.From), zerocopy.Pair{Rel: e.Rel, Nbr: e.To}); err != nil {
		return err
	}
	if err := addSide(txn, storage.IncomingKey(e.To), zerocopy.Pair{Rel: e.Rel, Nbr: e.From}); err != nil {
		return err
	}
	x.log.Debug("edge added", "rel", e.Rel, "from", e.From, "to", e.To)
	return nil
}

// RemoveEdgeTxn removes both sides of e inside a caller-owned transaction.
func (x *Index) RemoveEdgeTxn(txn storage.Txn, e Edge) error {
	if err := e.validate(); err != nil {
		return err
	}
	if err := removeSide(txn, storage.OutgoingKey(e.From), zerocopy.Pair{Rel: e.Rel, Nbr: e.To}); err != nil {
		return err
	}
	if err := removeSide(txn, storage.IncomingKey(e.To), zerocopy.Pair{Rel: e.Rel, Nbr: e.From}); err != nil {
		return err
	}
	x.log.Debug("edge removed", "rel", e.Rel, "from", e.From, "to", e.To)
	return nil
}

func addSide(txn storage.Txn, key []byte, p zerocopy.Pair) error {
	cur, err := get(txn, key)
	if err != nil {
		return err
	}
	has, err := zerocopy.HasPair(cur, p)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if has {
		return nil
	}
	next, err := zerocopy.AppendPair(cur, p)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return txn.Set(key, next)
}

func removeSide(txn storage.Txn, key []byte, p zerocopy.Pair) error {
	cur, err := get(txn, key)
	if err != nil || cur == nil {
		return err
	}
	next, removed, err := zerocopy.RemovePair(cur, p)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if !removed {
		return nil
	}
	if next == nil {
		return txn.Delete(key)
	}
	return txn.Set(key, next)
}

// Outgoing returns a guard over the (relationship, target) pairs leaving
// entity, or nil when it has none.
func (x *Index) Outgoing(entity string) (*zerocopy.Pairs, error) {
	return x.open(storage.OutgoingKey(entity))
}

// Incoming returns a guard over the (relationship, source) pairs entering
// entity, or nil when it has none.
func (x *Index) Incoming(entity string) (*zerocopy.Pairs, error) {
	return x.open(storage.IncomingKey(entity))
}

func (x *Index) open(key []byte) (*zerocopy.Pairs, error) {
	rtx, err := x.store.BeginRead()
	if err != nil {
		return nil, err
	}
	buf, err := get(rtx, key)
	if err != nil || buf == nil {
		rtx.Discard()
		return nil, err
	}
	pairs, err := zerocopy.NewPairs(zerocopy.NewScope(rtx.Discard), true, buf)
	if err != nil {
		rtx.Discard()
		x.log.Error("corrupted adjacency entry", "key", string(key), "error", err)
		return nil, err
	}
	return pairs, nil
}

var errLockSetChanged = errors.New("neighbor set changed")

// RemoveEntity drops every edge touching entity, on both sides. It returns
// the removed edges.
func (x *Index) RemoveEntity(entity string) ([]Edge, error) {
	return x.RemoveEntityWith(entity, nil, nil)
}

// RemoveEntityWith is RemoveEntity with extra writes committed in the same
// transaction. keys are locked alongside the adjacency keys for the
// duration; fn runs after the edges are removed and may be nil. If fn
// fails nothing is written.
func (x *Index) RemoveEntityWith(entity string, keys [][]byte, fn func(txn storage.Txn) error) ([]Edge, error) {
	if entity == "" {
		return nil, storage.ErrInvalidID
	}

	for attempt := 0; attempt < 3; attempt++ {
		edges, err := x.edgesOf(entity)
		if err != nil {
			return nil, err
		}
		locked := append(entityKeys(entity, edges), keys...)
		unlock := x.locks.Lock(locked...)
		err = x.store.Update(func(txn storage.Txn) error {
			fresh, err := edgesOfTxn(txn, entity)
			if err != nil {
				return err
			}
			if !sameEdges(edges, fresh) {
				return errLockSetChanged
			}
			for _, e := range fresh {
				if err := x.RemoveEdgeTxn(txn, e); err != nil {
					return err
				}
			}
			if fn != nil {
				return fn(txn)
			}
			return nil
		})
		unlock()
		if errors.Is(err, errLockSetChanged) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("graph remove entity %s: %w", entity, err)
		}
		if len(edges) > 0 {
			x.log.Debug("entity removed", "id", entity, "edges", len(edges))
		}
		return edges, nil
	}
	return nil, fmt.Errorf("graph remove entity %s: %w", entity, errLockSetChanged)
}

func (x *Index) edgesOf(entity string) ([]Edge, error) {
	var edges []Edge
	err := x.store.View(func(txn storage.ReadTxn) error {
		var err error
		edges, err = edgesOfTxn(txn, entity)
		return err
	})
	return edges, err
}

// edgesOfTxn returns owned copies of every edge with entity as an endpoint.
// A self loop appears once.
func edgesOfTxn(txn storage.ReadTxn, entity string) ([]Edge, error) {
	var edges []Edge
	out, err := get(txn, storage.OutgoingKey(entity))
	if err != nil {
		return nil, err
	}
	if out != nil {
		pairs, err := zerocopy.DecodePairs(out)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			edges = append(edges, Edge{Rel: p.Rel, From: entity, To: p.Nbr})
		}
	}
	in, err := get(txn, storage.IncomingKey(entity))
	if err != nil {
		return nil, err
	}
	if in != nil {
		pairs, err := zerocopy.DecodePairs(in)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			if p.Nbr == entity {
				continue
			}
			edges = append(edges, Edge{Rel: p.Rel, From: p.Nbr, To: entity})
		}
	}
	return edges, nil
}

func entityKeys(entity string, edges []Edge) [][]byte {
	keys := [][]byte{storage.OutgoingKey(entity), storage.IncomingKey(entity)}
	for _, e := range edges {
		keys = append(keys, e.Keys()...)
	}
	return keys
}

func sameEdges(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// get returns nil, nil for a missing key.
func get(txn storage.ReadTxn, key []byte) ([]byte, error) {
	buf, err := txn.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return buf, err
}

func entityFromKey(key []byte) (string, bool) {
	s := string(key)
	if rest, ok := strings.CutPrefix(s, storage.PrefixOutgoing); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(s, storage.PrefixIncoming); ok {
		return rest, true
	}
	return "", false
}
