package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

// ErrConsistencyViolation is returned when the outgoing and incoming lists
// disagree about an edge.
var ErrConsistencyViolation = errors.New("graph consistency violation")

// maxReportedViolations bounds the detail kept in a VerifyReport.
const maxReportedViolations = 20

// Violation describes one one-sided edge.
type Violation struct {
	Edge Edge
	// Missing is the key that should contain the edge but does not.
	Missing string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s -[%s]-> %s missing from %s", v.Edge.From, v.Edge.Rel, v.Edge.To, v.Missing)
}

// VerifyReport summarizes a symmetry check.
type VerifyReport struct {
	Entities   int
	Edges      int
	Violations []Violation
	// Total counts every violation, including those not kept in Violations.
	Total int
}

// Verify scans every adjacency list and checks that each edge is recorded
// on both sides. Any asymmetry is logged at error level and returned as
// ErrConsistencyViolation together with the report.
func (x *Index) Verify(ctx context.Context) (*VerifyReport, error) {
	snap, err := x.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	report := &VerifyReport{}
	check := func(prefix string, mirror func(entity string, p zerocopy.Pair) (Edge, []byte)) error {
		return snap.rtx.Iterate([]byte(prefix), func(key, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entity := strings.TrimPrefix(string(key), prefix)
			pairs, err := zerocopy.DecodePairs(val)
			if err != nil {
				x.log.Error("corrupted adjacency entry", "key", string(key), "error", err)
				return fmt.Errorf("%s: %w", key, err)
			}
			if prefix == storage.PrefixOutgoing {
				report.Entities++
				report.Edges += len(pairs)
			}
			for _, p := range pairs {
				e, otherKey := mirror(entity, p)
				other, err := get(snap.rtx, otherKey)
				if err != nil {
					return err
				}
				want := zerocopy.Pair{Rel: e.Rel, Nbr: entity}
				ok, err := zerocopy.HasPair(other, want)
				if err != nil {
					x.log.Error("corrupted adjacency entry", "key", string(otherKey), "error", err)
					return fmt.Errorf("%s: %w", otherKey, err)
				}
				if !ok {
					report.Total++
					if len(report.Violations) < maxReportedViolations {
						report.Violations = append(report.Violations, Violation{Edge: e, Missing: string(otherKey)})
					}
				}
			}
			return nil
		})
	}

	if err := check(storage.PrefixOutgoing, func(entity string, p zerocopy.Pair) (Edge, []byte) {
		return Edge{Rel: p.Rel, From: entity, To: p.Nbr}, storage.IncomingKey(p.Nbr)
	}); err != nil {
		return nil, err
	}
	if err := check(storage.PrefixIncoming, func(entity string, p zerocopy.Pair) (Edge, []byte) {
		return Edge{Rel: p.Rel, From: p.Nbr, To: entity}, storage.OutgoingKey(p.Nbr)
	}); err != nil {
		return nil, err
	}

	if report.Total > 0 {
		for _, v := range report.Violations {
			x.log.Error("asymmetric edge", "violation", v.String())
		}
		x.log.Error("graph consistency check failed", "violations", report.Total)
		return report, fmt.Errorf("%w: %d one-sided edges", ErrConsistencyViolation, report.Total)
	}
	return report, nil
}
