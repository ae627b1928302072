package storage

// Comparator enumerates the comparison operators recognized by EQL.
type Comparator int

const (
	ComparatorEquals Comparator = iota
	ComparatorNotEquals
	ComparatorLess
	ComparatorLessOrEquals
	ComparatorGreater
	ComparatorGreaterOrEquals
	ComparatorBetween
)

func (c Comparator) String() string {
	switch c {
	case ComparatorEquals:
		return "="
	case ComparatorNotEquals:
		return "!="
	case ComparatorLess:
		return "<"
	case ComparatorLessOrEquals:
		return "<="
	case ComparatorGreater:
		return ">"
	case ComparatorGreaterOrEquals:
		return ">="
	case ComparatorBetween:
		return "between"
	default:
		return "unknown"
	}
}

// SortOrder is the direction of an order-by clause.
type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// ConfidenceRange is a bounded range over the confidence field. A bound is
// only applied when its Has flag is set.
type ConfidenceRange struct {
	HasMin       bool
	HasMax       bool
	Min          float64
	Max          float64
	MinInclusive bool
	MaxInclusive bool
}

// DateComparator selects how a date clause constrains the receipt time.
type DateComparator int

const (
	DateBefore DateComparator = iota
	DateAfter
	DateBetween
)

// DateRange constrains the receipt timestamp, in unix milliseconds.
// End is only meaningful for DateBetween.
type DateRange struct {
	Comparator DateComparator
	Start      int64
	End        int64
}

// EntityMetadataFilter is one metadata clause of a compiled query.
type EntityMetadataFilter struct {
	Name          string
	Value         string
	ValueTo       string // upper bound when Comparator is ComparatorBetween
	CaseSensitive bool
	Comparator    Comparator
}

// EntityQuery is the compiled form of an EQL query: a strict conjunction of
// clauses plus ordering and paging. It is built once per query execution by
// the EQL compiler and is not mutated afterwards.
type EntityQuery struct {
	ID           string
	Text         string // a trailing '*' requests a prefix match
	Type         string
	Context      string
	DocumentID   string
	URI          string
	LanguageCode string

	Confidence *ConfidenceRange
	Date       *DateRange
	Metadata   []EntityMetadataFilter

	Order     string
	SortOrder SortOrder
	Limit     int
	Offset    int
}

// NewEntityQuery returns an unconstrained query with the default ordering
// and paging applied.
func NewEntityQuery() *EntityQuery {
	return &EntityQuery{
		Order:     OrderID,
		SortOrder: SortAscending,
		Limit:     DefaultQueryLimit,
	}
}

// Order-by fields recognized by the compiler and the backends.
const (
	OrderID         = "id"
	OrderText       = "text"
	OrderType       = "type"
	OrderConfidence = "confidence"
	OrderTimestamp  = "timestamp"
)
