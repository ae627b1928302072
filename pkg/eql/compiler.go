package eql

import (
	"strconv"

	"github.com/mtnfog/entitydb/pkg/storage"
)

// Compile translates an EQL query string into a compiled EntityQuery. Any
// lexical, syntactic, or semantic problem is returned as a
// *QueryGenerationError; no clause is ever silently dropped.
func Compile(queryString string) (*storage.EntityQuery, error) {
	tokens, err := lex(queryString)
	if err != nil {
		return nil, err
	}

	parsed, err := parse(tokens)
	if err != nil {
		return nil, err
	}

	q := storage.NewEntityQuery()

	for _, c := range parsed.comparisons {
		if err := compileComparison(q, c); err != nil {
			return nil, err
		}
	}

	if parsed.hasOrder {
		switch parsed.orderField {
		case storage.OrderID, storage.OrderText, storage.OrderType,
			storage.OrderConfidence, storage.OrderTimestamp:
			q.Order = parsed.orderField
		default:
			return nil, newError(parsed.orderField, 0, "cannot order by field %q", parsed.orderField)
		}
		if parsed.orderDesc {
			q.SortOrder = storage.SortDescending
		}
	}

	return q, nil
}

func compileComparison(q *storage.EntityQuery, c comparison) error {
	if c.metadataKey != "" {
		if c.field != "metadata" {
			return newError(c.field+"."+c.metadataKey, c.pos, "unknown field")
		}
		return compileMetadata(q, c)
	}

	switch c.field {
	case "id":
		return compileStringField(&q.ID, c)
	case "context":
		return compileStringField(&q.Context, c)
	case "documentid":
		return compileStringField(&q.DocumentID, c)
	case "text":
		return compileStringField(&q.Text, c)
	case "type":
		return compileStringField(&q.Type, c)
	case "uri":
		return compileStringField(&q.URI, c)
	case "language":
		return compileStringField(&q.LanguageCode, c)
	case "confidence":
		return compileConfidence(q, c)
	case "timestamp":
		return compileTimestamp(q, c)
	default:
		return newError(c.field, c.pos, "unknown field")
	}
}

func compileStringField(dst *string, c comparison) error {
	if c.op != storage.ComparatorEquals {
		return newError(c.field, c.pos, "field %q only supports '='", c.field)
	}
	if c.value.kind != tokenString {
		return newError(c.value.text, c.value.pos, "field %q requires a string literal", c.field)
	}
	if *dst != "" {
		return newError(c.field, c.pos, "duplicate clause for field %q", c.field)
	}
	*dst = c.value.text
	return nil
}

func compileConfidence(q *storage.EntityQuery, c comparison) error {
	value, err := intValue(c.value)
	if err != nil {
		return err
	}

	if q.Confidence == nil {
		q.Confidence = &storage.ConfidenceRange{}
	}
	r := q.Confidence

	setMin := func(min float64, inclusive bool) error {
		if r.HasMin {
			return newError(c.field, c.pos, "conflicting lower bounds on confidence")
		}
		r.HasMin, r.Min, r.MinInclusive = true, min, inclusive
		return nil
	}
	setMax := func(max float64, inclusive bool) error {
		if r.HasMax {
			return newError(c.field, c.pos, "conflicting upper bounds on confidence")
		}
		r.HasMax, r.Max, r.MaxInclusive = true, max, inclusive
		return nil
	}

	switch c.op {
	case storage.ComparatorEquals:
		if err := setMin(float64(value), true); err != nil {
			return err
		}
		return setMax(float64(value), true)
	case storage.ComparatorLess:
		return setMax(float64(value), false)
	case storage.ComparatorLessOrEquals:
		return setMax(float64(value), true)
	case storage.ComparatorGreater:
		return setMin(float64(value), false)
	case storage.ComparatorGreaterOrEquals:
		return setMin(float64(value), true)
	case storage.ComparatorBetween:
		valueTo, err := intValue(c.valueTo)
		if err != nil {
			return err
		}
		if err := setMin(float64(value), true); err != nil {
			return err
		}
		return setMax(float64(valueTo), true)
	default:
		return newError(c.field, c.pos, "operator %s not supported for confidence", c.op)
	}
}

// compileTimestamp maps a timestamp clause onto the date range. Exclusive
// bounds shift by one millisecond so all four inequality operators reduce to
// the three date comparators.
func compileTimestamp(q *storage.EntityQuery, c comparison) error {
	value, err := intValue(c.value)
	if err != nil {
		return err
	}

	if q.Date != nil {
		return newError(c.field, c.pos, "duplicate timestamp clause")
	}

	switch c.op {
	case storage.ComparatorEquals:
		q.Date = &storage.DateRange{Comparator: storage.DateBetween, Start: value, End: value}
	case storage.ComparatorLess:
		q.Date = &storage.DateRange{Comparator: storage.DateBefore, Start: value}
	case storage.ComparatorLessOrEquals:
		q.Date = &storage.DateRange{Comparator: storage.DateBefore, Start: value + 1}
	case storage.ComparatorGreater:
		q.Date = &storage.DateRange{Comparator: storage.DateAfter, Start: value}
	case storage.ComparatorGreaterOrEquals:
		q.Date = &storage.DateRange{Comparator: storage.DateAfter, Start: value - 1}
	case storage.ComparatorBetween:
		valueTo, err := intValue(c.valueTo)
		if err != nil {
			return err
		}
		q.Date = &storage.DateRange{Comparator: storage.DateBetween, Start: value, End: valueTo}
	default:
		return newError(c.field, c.pos, "operator %s not supported for timestamp", c.op)
	}

	return nil
}

func compileMetadata(q *storage.EntityQuery, c comparison) error {
	filter := storage.EntityMetadataFilter{
		Name:          c.metadataKey,
		Value:         c.value.text,
		CaseSensitive: true,
		Comparator:    c.op,
	}
	if c.op == storage.ComparatorBetween {
		filter.ValueTo = c.valueTo.text
	}

	q.Metadata = append(q.Metadata, filter)
	return nil
}

func intValue(t token) (int64, error) {
	if t.kind != tokenInt {
		return 0, newError(t.text, t.pos, "expected an integer literal")
	}
	v, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil {
		return 0, newError(t.text, t.pos, "integer out of range")
	}
	return v, nil
}
