package indexing

import (
	"errors"
	"fmt"

	"github.com/ocentra/TabAgentServer-sub005/pkg/graph"
	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
)

type opKind uint8

const (
	opPut opKind = iota
	opRemove
	opAddEdge
	opRemoveEdge
	opAddVector
	opRemoveVector
)

type batchOp struct {
	kind opKind
	id   string
	pair Pair
	edge graph.Edge
	vec  []float32
}

// Batch collects mutations applied together by Manager.Batch. Its methods
// only record; nothing touches the indexes until the batch function
// returns nil.
type Batch struct {
	schema Schema
	ops    []batchOp
	err    error
}

func (b *Batch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// IndexNode records the entries of n.
func (b *Batch) IndexNode(n Node) {
	pairs, err := b.schema.Pairs(n)
	if err != nil {
		b.fail(err)
		return
	}
	for _, p := range pairs {
		b.ops = append(b.ops, batchOp{kind: opPut, id: n.ID, pair: p})
	}
}

// UnindexNode records the removal of the entries of n.
func (b *Batch) UnindexNode(n Node) {
	pairs, err := b.schema.Pairs(n)
	if err != nil {
		b.fail(err)
		return
	}
	for _, p := range pairs {
		b.ops = append(b.ops, batchOp{kind: opRemove, id: n.ID, pair: p})
	}
}

// UpdateNode records the entry changes from old to next.
func (b *Batch) UpdateNode(old, next Node) {
	if old.ID != next.ID {
		b.fail(fmt.Errorf("%w: update changes id %q to %q", storage.ErrInvalidID, old.ID, next.ID))
		return
	}
	before, err := b.schema.Pairs(old)
	if err != nil {
		b.fail(err)
		return
	}
	after, err := b.schema.Pairs(next)
	if err != nil {
		b.fail(err)
		return
	}
	removed, added := diffPairs(before, after)
	for _, p := range removed {
		b.ops = append(b.ops, batchOp{kind: opRemove, id: next.ID, pair: p})
	}
	for _, p := range added {
		b.ops = append(b.ops, batchOp{kind: opPut, id: next.ID, pair: p})
	}
}

// IndexEdge records e.
func (b *Batch) IndexEdge(e graph.Edge) {
	b.ops = append(b.ops, batchOp{kind: opAddEdge, edge: e})
}

// UnindexEdge records the removal of e.
func (b *Batch) UnindexEdge(e graph.Edge) {
	b.ops = append(b.ops, batchOp{kind: opRemoveEdge, edge: e})
}

// IndexEmbedding records emb. The vector is copied.
func (b *Batch) IndexEmbedding(emb Embedding) {
	b.ops = append(b.ops, batchOp{kind: opAddVector, id: emb.ID, vec: append([]float32(nil), emb.Vector...)})
}

// UnindexEmbedding records the removal of id.
func (b *Batch) UnindexEmbedding(id string) {
	b.ops = append(b.ops, batchOp{kind: opRemoveVector, id: id})
}

// Len returns the number of recorded index operations.
func (b *Batch) Len() int { return len(b.ops) }

// Batch runs fn to collect mutations and applies them all or none:
//
//  1. fn returns an error, or recorded a node without id or type: nothing
//     is applied and that error is returned
//  2. every edge and every vector is validated (ids, dimension)
//  3. structural and graph writes commit in one store transaction
//  4. vector writes are applied after the commit; in hot mode committed
//     edges are mirrored into the lock-free graph
//
// Vector writes cannot fail after validation, so a batch that commits is
// applied completely. Batches exclude single writes while they run.
func (m *Manager) Batch(fn func(b *Batch) error) (err error) {
	defer func() { m.metrics.Op("batch", err) }()
	b := &Batch{schema: m.schema}
	if err := fn(b); err != nil {
		return err
	}
	if b.err != nil {
		return b.err
	}
	if len(b.ops) == 0 {
		return nil
	}

	hot, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := m.validateBatch(b); err != nil {
		return err
	}

	m.writes.Lock()
	defer m.writes.Unlock()

	if err := m.commitBatch(b); err != nil {
		return fmt.Errorf("batch of %d: %w", len(b.ops), err)
	}

	vectorsChanged := false
	for _, op := range b.ops {
		switch op.kind {
		case opAddEdge, opRemoveEdge:
			if hot {
				err = m.hotGraph.Apply(op.edge, op.kind == opRemoveEdge)
			}
		case opAddVector:
			vectorsChanged = true
			if hot {
				err = m.hotVectors.Add(op.id, op.vec)
			} else {
				err = m.vectors.Add(op.id, op.vec)
			}
		case opRemoveVector:
			vectorsChanged = true
			if hot {
				m.hotVectors.Remove(op.id)
			} else {
				m.vectors.Remove(op.id)
			}
		}
		if err != nil {
			// Unreachable after validation; the store side is committed.
			m.log.Error("batch apply after commit failed", "error", err)
			return fmt.Errorf("batch apply: %w", err)
		}
	}
	if vectorsChanged {
		m.invalidateSearches()
	}
	m.log.Debug("batch applied", "ops", len(b.ops))
	return nil
}

func (m *Manager) validateBatch(b *Batch) error {
	var errs []error
	for _, op := range b.ops {
		switch op.kind {
		case opAddEdge, opRemoveEdge:
			if op.edge.Rel == "" || op.edge.From == "" || op.edge.To == "" {
				errs = append(errs, fmt.Errorf("%w: edge %q %q->%q", storage.ErrInvalidID, op.edge.Rel, op.edge.From, op.edge.To))
			}
		case opAddVector:
			if op.id == "" {
				errs = append(errs, fmt.Errorf("%w: embedding without id", storage.ErrInvalidID))
			} else if err := m.vectors.ValidateVector(op.vec); err != nil {
				errs = append(errs, fmt.Errorf("embedding %s: %w", op.id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) commitBatch(b *Batch) error {
	var keys [][]byte
	for _, op := range b.ops {
		switch op.kind {
		case opPut, opRemove:
			keys = append(keys, op.pair.Key())
		case opAddEdge, opRemoveEdge:
			keys = append(keys, op.edge.Keys()...)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	unlock := m.locks.Lock(keys...)
	defer unlock()

	return m.store.Update(func(txn storage.Txn) error {
		for _, op := range b.ops {
			var err error
			switch op.kind {
			case opPut:
				err = m.structural.PutTxn(txn, op.pair.Property, op.pair.Value, op.id)
			case opRemove:
				err = m.structural.RemoveTxn(txn, op.pair.Property, op.pair.Value, op.id)
			case opAddEdge:
				err = m.graph.AddEdgeTxn(txn, op.edge)
			case opRemoveEdge:
				err = m.graph.RemoveEdgeTxn(txn, op.edge)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
