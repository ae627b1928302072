package elasticsearch

import (
	"strings"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/storage"
)

// buildSearchBody translates a compiled query into an Elasticsearch bool
// filter. Every clause is a filter (conjunction, no scoring).
func buildSearchBody(query *storage.EntityQuery) map[string]any {
	var filters []map[string]any

	term := func(field, value string) {
		if value != "" {
			filters = append(filters, map[string]any{
				"term": map[string]any{field: value},
			})
		}
	}

	if query.Text != "" {
		if prefix, ok := strings.CutSuffix(query.Text, "*"); ok {
			filters = append(filters, map[string]any{
				"prefix": map[string]any{"text": prefix},
			})
		} else {
			term("text", query.Text)
		}
	}

	term("entity_id", query.ID)
	term("type", query.Type)
	term("context", query.Context)
	term("document_id", query.DocumentID)
	term("uri", query.URI)
	term("language_code", query.LanguageCode)

	if r := query.Confidence; r != nil {
		bounds := map[string]any{}
		if r.HasMin {
			if r.MinInclusive {
				bounds["gte"] = r.Min
			} else {
				bounds["gt"] = r.Min
			}
		}
		if r.HasMax {
			if r.MaxInclusive {
				bounds["lte"] = r.Max
			} else {
				bounds["lt"] = r.Max
			}
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"confidence": bounds},
		})
	}

	if d := query.Date; d != nil {
		bounds := map[string]any{}
		switch d.Comparator {
		case storage.DateBefore:
			bounds["lt"] = d.Start
		case storage.DateAfter:
			bounds["gt"] = d.Start
		case storage.DateBetween:
			bounds["gte"] = d.Start
			bounds["lte"] = d.End
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"ts": bounds},
		})
	}

	for _, f := range query.Metadata {
		filters = append(filters, metadataFilter(f))
	}

	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": filters,
			},
		},
		"sort": buildSort(query),
		"from": query.Offset,
	}
	if query.Limit > 0 {
		body["size"] = query.Limit
	}

	return body
}

func metadataFilter(f storage.EntityMetadataFilter) map[string]any {
	field := "metadata." + entity.SanitizeMetadataKey(f.Name)

	switch f.Comparator {
	case storage.ComparatorNotEquals:
		return map[string]any{
			"bool": map[string]any{
				"must_not": []map[string]any{termQuery(field, f)},
			},
		}
	case storage.ComparatorLess:
		return rangeQuery(field, "lt", f.Value)
	case storage.ComparatorLessOrEquals:
		return rangeQuery(field, "lte", f.Value)
	case storage.ComparatorGreater:
		return rangeQuery(field, "gt", f.Value)
	case storage.ComparatorGreaterOrEquals:
		return rangeQuery(field, "gte", f.Value)
	case storage.ComparatorBetween:
		return map[string]any{
			"range": map[string]any{
				field: map[string]any{"gte": f.Value, "lte": f.ValueTo},
			},
		}
	default:
		return termQuery(field, f)
	}
}

func termQuery(field string, f storage.EntityMetadataFilter) map[string]any {
	term := map[string]any{"value": f.Value}
	if !f.CaseSensitive {
		term["case_insensitive"] = true
	}
	return map[string]any{
		"term": map[string]any{field: term},
	}
}

func rangeQuery(field, op, value string) map[string]any {
	return map[string]any{
		"range": map[string]any{
			field: map[string]any{op: value},
		},
	}
}

func buildSort(query *storage.EntityQuery) []map[string]any {
	dir := "asc"
	if query.SortOrder == storage.SortDescending {
		dir = "desc"
	}

	field := "entity_id"
	switch query.Order {
	case storage.OrderText:
		field = "text"
	case storage.OrderType:
		field = "type"
	case storage.OrderConfidence:
		field = "confidence"
	case storage.OrderTimestamp:
		field = "ts"
	}

	sort := []map[string]any{
		{field: map[string]any{"order": dir}},
	}
	if field != "entity_id" {
		sort = append(sort, map[string]any{"entity_id": map[string]any{"order": "asc"}})
	}

	return sort
}
