package graph

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

const (
	opAdd    = "add"
	opRemove = "remove"
)

// intent is the marker persisted before a split edge write.
type intent struct {
	Op   string `msgpack:"op"`
	Rel  string `msgpack:"rel"`
	From string `msgpack:"from"`
	To   string `msgpack:"to"`
}

func (in intent) edge() Edge {
	return Edge{Rel: in.Rel, From: in.From, To: in.To}
}

// mutateWithIntent commits the marker, each side, and the marker removal as
// four separate transactions. If any step after the first fails the marker
// stays behind for Recover.
func (x *Index) mutateWithIntent(e Edge, op string) error {
	id := uuid.NewString()
	key := storage.IntentKey(id)
	rec, err := msgpack.Marshal(intent{Op: op, Rel: e.Rel, From: e.From, To: e.To})
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}

	if err := x.store.Update(func(txn storage.Txn) error {
		return txn.Set(key, rec)
	}); err != nil {
		return fmt.Errorf("graph %s %s: write intent: %w", op, e.Rel, err)
	}
	if err := x.applySides(e, op); err != nil {
		x.log.Warn("edge write interrupted, intent left for recovery",
			"intent", id, "op", op, "rel", e.Rel, "error", err)
		return fmt.Errorf("graph %s %s: %w", op, e.Rel, err)
	}
	if err := x.store.Update(func(txn storage.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("graph %s %s: clear intent: %w", op, e.Rel, err)
	}
	return nil
}

// applySides writes the outgoing side, then the incoming side, each in its
// own transaction. Both steps are idempotent so replay is safe.
func (x *Index) applySides(e Edge, op string) error {
	out := storage.OutgoingKey(e.From)
	in := storage.IncomingKey(e.To)

	steps := []func(storage.Txn) error{
		func(txn storage.Txn) error {
			if op == opAdd {
				return addSide(txn, out, zerocopy.Pair{Rel: e.Rel, Nbr: e.To})
			}
			return removeSide(txn, out, zerocopy.Pair{Rel: e.Rel, Nbr: e.To})
		},
		func(txn storage.Txn) error {
			if op == opAdd {
				return addSide(txn, in, zerocopy.Pair{Rel: e.Rel, Nbr: e.From})
			}
			return removeSide(txn, in, zerocopy.Pair{Rel: e.Rel, Nbr: e.From})
		},
	}
	for _, step := range steps {
		if err := x.store.Update(step); err != nil {
			return err
		}
	}
	return nil
}

// Recover rolls every pending intent forward and clears it. It returns the
// number of intents replayed. Call it once on open, before serving writes.
func (x *Index) Recover() (int, error) {
	type pending struct {
		key []byte
		in  intent
	}
	var todo []pending

	err := x.store.View(func(txn storage.ReadTxn) error {
		return txn.Iterate([]byte(storage.PrefixIntent), func(key, val []byte) error {
			var in intent
			if err := msgpack.Unmarshal(val, &in); err != nil {
				return fmt.Errorf("%w: intent %s: %v", storage.ErrCorruption, key, err)
			}
			todo = append(todo, pending{key: append([]byte(nil), key...), in: in})
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("scan intents: %w", err)
	}

	for _, p := range todo {
		e := p.in.edge()
		if err := e.validate(); err != nil {
			return 0, fmt.Errorf("%w: intent %s: %v", storage.ErrCorruption, p.key, err)
		}
		if p.in.Op != opAdd && p.in.Op != opRemove {
			return 0, fmt.Errorf("%w: intent %s: unknown op %q", storage.ErrCorruption, p.key, p.in.Op)
		}

		unlock := x.locks.Lock(e.Keys()...)
		err := x.applySides(e, p.in.Op)
		if err == nil {
			err = x.store.Update(func(txn storage.Txn) error {
				return txn.Delete(p.key)
			})
		}
		unlock()
		if err != nil {
			return 0, fmt.Errorf("replay intent %s: %w", p.key, err)
		}
	}

	if len(todo) > 0 {
		x.log.Info("recovered pending edge writes", "count", len(todo))
	}
	return len(todo), nil
}

// PendingIntents returns the number of intent markers in the store.
func (x *Index) PendingIntents() (int, error) {
	n := 0
	err := x.store.View(func(txn storage.ReadTxn) error {
		return txn.Iterate([]byte(storage.PrefixIntent), func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
