package retention

import (
	"strconv"
	"strings"
	"time"
)

// Evaluator decides whether a document matches policy conditions. It is a
// pure function over the document's attributes: no side effects, and every
// malformed input fails closed (no match) rather than raising, so a policy
// can never be force-matched by a bad condition.
type Evaluator struct{}

// fieldValue resolves a condition field name against the document.
// Unknown names fail closed.
func fieldValue(d Document, field string) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "id":
		return d.ID, true
	case "category":
		return d.Category, true
	case "type":
		return d.Type, true
	case "title":
		return d.Title, true
	case "owner_id", "ownerid":
		return d.OwnerID, true
	case "storage_key", "storagekey":
		return d.StorageKey, true
	case "created_at", "createdat":
		return d.CreatedAt, true
	default:
		return nil, false
	}
}

// Matches evaluates a single condition against the document.
func (Evaluator) Matches(d Document, c Condition) bool {
	v, ok := fieldValue(d, c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEquals:
		return equalValue(v, c.Value)
	case OpNotEquals:
		return !equalValue(v, c.Value)
	case OpContains:
		s, ok := v.(string)
		return ok && strings.Contains(s, c.Value)
	case OpNotContains:
		s, ok := v.(string)
		return ok && !strings.Contains(s, c.Value)
	case OpGreaterThan:
		cmp, ok := orderValue(v, c.Value)
		return ok && cmp > 0
	case OpLessThan:
		cmp, ok := orderValue(v, c.Value)
		return ok && cmp < 0
	default:
		return false
	}
}

// MatchesAll is the conjunction over the condition list. An empty list
// trivially matches.
func (e Evaluator) MatchesAll(d Document, conds []Condition) bool {
	for _, c := range conds {
		if !e.Matches(d, c) {
			return false
		}
	}
	return true
}

func equalValue(v any, want string) bool {
	switch x := v.(type) {
	case string:
		return x == want
	case time.Time:
		t, err := time.Parse(time.RFC3339, want)
		return err == nil && x.Equal(t)
	default:
		return false
	}
}

// orderValue compares the field value with the condition value numerically
// or by date. Returns (sign, ok); ok=false on any type mismatch.
func orderValue(v any, want string) (int, bool) {
	switch x := v.(type) {
	case time.Time:
		t, err := time.Parse(time.RFC3339, want)
		if err != nil {
			return 0, false
		}
		return x.Compare(t), true
	case string:
		a, errA := strconv.ParseFloat(strings.TrimSpace(x), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(want), 64)
		if errA == nil && errB == nil {
			switch {
			case a > b:
				return 1, true
			case a < b:
				return -1, true
			default:
				return 0, true
			}
		}
		ta, errA := time.Parse(time.RFC3339, x)
		tb, errB := time.Parse(time.RFC3339, want)
		if errA == nil && errB == nil {
			return ta.Compare(tb), true
		}
		return 0, false
	default:
		return 0, false
	}
}
