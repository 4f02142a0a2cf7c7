package indexing

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
)

// PropertyNodeType is indexed for every node with the node's type as value.
const PropertyNodeType = "node_type"

// Node is the indexable view of a primary-store node: its id, its type and
// the properties the schema may pick from. The manager never stores nodes
// itself; callers pass the node on insert and its pre-image on delete.
type Node struct {
	ID         string
	Type       string
	Properties map[string]any
}

// Embedding is a vector attached to an embedding id.
type Embedding struct {
	ID     string
	Vector []float32
}

// Pair is one (property, value) entry derived from a node.
type Pair struct {
	Property string
	Value    string
}

// Key returns the structural store key for the pair.
func (p Pair) Key() []byte {
	return storage.StructuralKey(p.Property, p.Value)
}

// Schema maps a node type to the properties indexed for it. Types without
// an entry get node_type only.
type Schema map[string][]string

// DefaultSchema returns the built-in property lists for the node types of
// the chat knowledge graph.
func DefaultSchema() Schema {
	return Schema{
		"Chat":            {"topic"},
		"Message":         {"chat_id", "sender"},
		"Entity":          {"entity_type", "label"},
		"Summary":         {"chat_id"},
		"Attachment":      {"message_id", "mime_type"},
		"WebSearch":       {},
		"ScrapedPage":     {"url"},
		"Bookmark":        {"url"},
		"ImageMetadata":   {},
		"AudioTranscript": {},
		"ModelInfo":       {"model_name"},
		"ActionOutcome":   {"action_type", "conversation_context"},
		"Log":             {"level", "context", "source"},
	}
}

// With returns a copy of s where every type in overrides replaces the
// built-in entry.
func (s Schema) With(overrides map[string][]string) Schema {
	out := maps.Clone(s)
	if out == nil {
		out = Schema{}
	}
	for typ, props := range overrides {
		out[typ] = slices.Clone(props)
	}
	return out
}

// Types returns the node types with an entry, sorted.
func (s Schema) Types() []string {
	return slices.Sorted(maps.Keys(s))
}

func validNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node without id", storage.ErrInvalidID)
	}
	if n.Type == "" {
		return fmt.Errorf("%w: node %s without type", storage.ErrInvalidKey, n.ID)
	}
	return nil
}

// Pairs derives the (property, value) entries of n: node_type first, then
// the schema properties in schema order. Properties missing from n, or
// holding nil, are skipped; a property listed twice is indexed once.
func (s Schema) Pairs(n Node) ([]Pair, error) {
	if err := validNode(n); err != nil {
		return nil, err
	}
	props := s[n.Type]
	out := make([]Pair, 0, len(props)+1)
	out = append(out, Pair{Property: PropertyNodeType, Value: n.Type})
	for _, prop := range props {
		if prop == PropertyNodeType || slices.ContainsFunc(out, func(p Pair) bool { return p.Property == prop }) {
			continue
		}
		raw, ok := n.Properties[prop]
		if !ok || raw == nil {
			continue
		}
		out = append(out, Pair{Property: prop, Value: formatValue(raw)})
	}
	return out, nil
}

// formatValue renders a property value as its index key text.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// diffPairs returns the pairs only in old and the pairs only in next.
func diffPairs(old, next []Pair) (removed, added []Pair) {
	for _, p := range old {
		if !slices.Contains(next, p) {
			removed = append(removed, p)
		}
	}
	for _, p := range next {
		if !slices.Contains(old, p) {
			added = append(added, p)
		}
	}
	return removed, added
}
