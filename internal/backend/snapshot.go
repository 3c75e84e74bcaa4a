package backend

import (
	"reflect"
	"sort"
)

// Match applies the query's filters, ordering and limit to a set of
// documents and returns the matching snapshot in delivery order.
func (q Query) Match(docs []Document) []Document {
	var out []Document
	for _, d := range docs {
		if q.matches(d) {
			out = append(out, d)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			if c != 0 {
				return c < 0
			}
			// tie-break on id so delivery order is stable
			return out[i].ID < out[j].ID
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}

	return out
}

func (q Query) matches(d Document) bool {
	for _, f := range q.Filters {
		if !valuesEqual(d.Fields[f.Field], f.Value) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, aok := asFloat(a); aok {
		bn, bok := asFloat(b)
		return bok && an == bn
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders field values of the same JSON type. Timestamps
// are TimeLayout strings, so string comparison orders them correctly.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if an, ok := asFloat(a); ok {
		if bn, ok := asFloat(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	}

	return 0
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// DiffSnapshot computes the change records between the previously
// delivered snapshot (keyed by id) and the next ordered snapshot.
// Removals are delivered first, then additions and modifications in
// snapshot order.
func DiffSnapshot(prev map[string]Document, next []Document) []Change {
	var changes []Change

	nextIDs := make(map[string]struct{}, len(next))
	for _, d := range next {
		nextIDs[d.ID] = struct{}{}
	}

	for id, doc := range prev {
		if _, ok := nextIDs[id]; !ok {
			changes = append(changes, Change{Kind: Removed, Doc: doc})
		}
	}
	// deterministic order for removals
	sort.Slice(changes, func(i, j int) bool { return changes[i].Doc.ID < changes[j].Doc.ID })

	for _, d := range next {
		old, ok := prev[d.ID]
		if !ok {
			changes = append(changes, Change{Kind: Added, Doc: d})
		} else if !reflect.DeepEqual(old.Fields, d.Fields) {
			changes = append(changes, Change{Kind: Modified, Doc: d})
		}
	}

	return changes
}

// Snapshot rebuilds the keyed snapshot map from an ordered snapshot.
func Snapshot(docs []Document) map[string]Document {
	m := make(map[string]Document, len(docs))
	for _, d := range docs {
		m[d.ID] = d
	}
	return m
}
