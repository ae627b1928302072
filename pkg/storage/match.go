package storage

import (
	"strconv"
	"strings"

	"github.com/mtnfog/entitydb/pkg/entity"
)

// Target is the queryable view of an entity, used by backends that evaluate
// compiled queries in process (memory store, memory index, client-side
// filtering backends).
type Target struct {
	Entity    *entity.Entity
	ID        string
	Timestamp int64
}

// Matches evaluates every clause of the compiled query against the target.
// Clauses form a strict conjunction.
func Matches(q *EntityQuery, t Target) bool {
	if q.ID != "" && q.ID != t.ID {
		return false
	}
	if q.Text != "" && !MatchText(q.Text, t.Entity.Text) {
		return false
	}
	if q.Type != "" && q.Type != t.Entity.Type {
		return false
	}
	if q.Context != "" && q.Context != t.Entity.Context {
		return false
	}
	if q.DocumentID != "" && q.DocumentID != t.Entity.DocumentID {
		return false
	}
	if q.URI != "" && q.URI != t.Entity.URI {
		return false
	}
	if q.LanguageCode != "" && q.LanguageCode != t.Entity.LanguageCode {
		return false
	}

	if q.Confidence != nil && !matchConfidence(q.Confidence, t.Entity.Confidence) {
		return false
	}

	if q.Date != nil && !matchDate(q.Date, t.Timestamp) {
		return false
	}

	for _, f := range q.Metadata {
		if !f.Match(t.Entity.Metadata) {
			return false
		}
	}

	return true
}

// MatchText matches a text clause against an entity text. A trailing '*' in
// the pattern requests a prefix match; it is not a general glob.
func MatchText(pattern, text string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(text, prefix)
	}
	return pattern == text
}

func matchConfidence(r *ConfidenceRange, confidence float64) bool {
	if r.HasMin {
		if r.MinInclusive {
			if confidence < r.Min {
				return false
			}
		} else if confidence <= r.Min {
			return false
		}
	}
	if r.HasMax {
		if r.MaxInclusive {
			if confidence > r.Max {
				return false
			}
		} else if confidence >= r.Max {
			return false
		}
	}
	return true
}

func matchDate(r *DateRange, timestamp int64) bool {
	switch r.Comparator {
	case DateBefore:
		return timestamp < r.Start
	case DateAfter:
		return timestamp > r.Start
	case DateBetween:
		return timestamp >= r.Start && timestamp <= r.End
	default:
		return false
	}
}

// Match evaluates the metadata filter against an entity's metadata map.
// A filter on an absent key never matches.
func (f EntityMetadataFilter) Match(metadata map[string]string) bool {
	value, ok := metadata[entity.SanitizeMetadataKey(f.Name)]
	if !ok {
		return false
	}

	want := f.Value
	wantTo := f.ValueTo
	if !f.CaseSensitive {
		value = strings.ToLower(value)
		want = strings.ToLower(want)
		wantTo = strings.ToLower(wantTo)
	}

	switch f.Comparator {
	case ComparatorEquals:
		return value == want
	case ComparatorNotEquals:
		return value != want
	case ComparatorLess:
		return compareValues(value, want) < 0
	case ComparatorLessOrEquals:
		return compareValues(value, want) <= 0
	case ComparatorGreater:
		return compareValues(value, want) > 0
	case ComparatorGreaterOrEquals:
		return compareValues(value, want) >= 0
	case ComparatorBetween:
		return compareValues(value, want) >= 0 && compareValues(value, wantTo) <= 0
	default:
		return false
	}
}

// compareValues compares numerically when both sides parse as numbers and
// lexically otherwise.
func compareValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// Less orders two targets by the query's order-by clause. Ties fall back to
// the derived id so paging is deterministic across calls.
func Less(order string, dir SortOrder, a, b Target) bool {
	c := compareTargets(order, a, b)
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if dir == SortDescending {
		return c > 0
	}
	return c < 0
}

func compareTargets(order string, a, b Target) int {
	switch order {
	case OrderText:
		return strings.Compare(a.Entity.Text, b.Entity.Text)
	case OrderType:
		return strings.Compare(a.Entity.Type, b.Entity.Type)
	case OrderConfidence:
		switch {
		case a.Entity.Confidence < b.Entity.Confidence:
			return -1
		case a.Entity.Confidence > b.Entity.Confidence:
			return 1
		default:
			return 0
		}
	case OrderTimestamp:
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(a.ID, b.ID)
	}
}

// Page applies offset and limit to an already ordered slice.
func Page[E any](items []E, offset, limit int) []E {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
