package graph

import (
	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// Snapshot is a consistent read view of the whole graph. All guards it
// hands out share one read transaction, so strings borrowed from any of
// them stay valid (and comparable as map keys) until the snapshot is
// closed. Graph algorithms run against a Snapshot.
//
// Guards from a snapshot do not own it: closing one guard leaves the
// others usable, and closing the snapshot invalidates all of them.
type Snapshot struct {
	rtx   storage.ReadTxn
	scope *zerocopy.Scope
	index *Index
}

// Snapshot opens a read view. The caller must Close it.
func (x *Index) Snapshot() (*Snapshot, error) {
	rtx, err := x.store.BeginRead()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		rtx:   rtx,
		scope: zerocopy.NewScope(rtx.Discard),
		index: x,
	}, nil
}

// Outgoing returns the outgoing pairs of entity, or nil.
func (s *Snapshot) Outgoing(entity string) (*zerocopy.Pairs, error) {
	return s.open(storage.OutgoingKey(entity))
}

// Incoming returns the incoming pairs of entity, or nil.
func (s *Snapshot) Incoming(entity string) (*zerocopy.Pairs, error) {
	return s.open(storage.IncomingKey(entity))
}

func (s *Snapshot) open(key []byte) (*zerocopy.Pairs, error) {
	if !s.scope.Alive() {
		return nil, zerocopy.ErrClosed
	}
	buf, err := get(s.rtx, key)
	if err != nil || buf == nil {
		return nil, err
	}
	pairs, err := zerocopy.NewPairs(s.scope, false, buf)
	if err != nil {
		s.index.log.Error("corrupted adjacency entry", "key", string(key), "error", err)
		return nil, err
	}
	return pairs, nil
}

// Nodes calls fn once for every entity that has at least one edge, in key
// order (entities with outgoing edges first). The ids passed to fn are
// owned. Returning storage.ErrIterationStopped stops early.
func (s *Snapshot) Nodes(fn func(id string) error) error {
	if !s.scope.Alive() {
		return zerocopy.ErrClosed
	}
	seen := make(map[string]struct{})
	for _, prefix := range []string{storage.PrefixOutgoing, storage.PrefixIncoming} {
		stopped := false
		err := s.rtx.Iterate([]byte(prefix), func(key, _ []byte) error {
			id, ok := entityFromKey(key)
			if !ok {
				return nil
			}
			if _, dup := seen[id]; dup {
				return nil
			}
			seen[id] = struct{}{}
			if err := fn(id); err != nil {
				if err == storage.ErrIterationStopped {
					stopped = true
				}
				return err
			}
			return nil
		})
		if err != nil || stopped {
			return err
		}
	}
	return nil
}

// Close releases the snapshot and every guard obtained from it.
func (s *Snapshot) Close() {
	s.scope.Close()
}
