package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/entity"
)

func TestMatchText(t *testing.T) {
	require.True(t, MatchText("George Washington", "George Washington"))
	require.False(t, MatchText("George Washington", "george washington"))
	require.True(t, MatchText("George*", "George Washington"))
	require.True(t, MatchText("George*", "George"))
	require.False(t, MatchText("George*", "Georg"))
	// Only a trailing '*' is a wildcard.
	require.False(t, MatchText("*Washington", "George Washington"))
}

func TestMatchDate(t *testing.T) {
	before := &DateRange{Comparator: DateBefore, Start: 100}
	require.True(t, matchDate(before, 99))
	require.False(t, matchDate(before, 100))

	after := &DateRange{Comparator: DateAfter, Start: 100}
	require.True(t, matchDate(after, 101))
	require.False(t, matchDate(after, 100))

	between := &DateRange{Comparator: DateBetween, Start: 100, End: 200}
	require.True(t, matchDate(between, 100))
	require.True(t, matchDate(between, 200))
	require.False(t, matchDate(between, 201))
}

func TestMetadataFilterCaseFolding(t *testing.T) {
	md := map[string]string{"birthplace": "Virginia"}

	sensitive := EntityMetadataFilter{
		Name: "birthplace", Value: "virginia",
		CaseSensitive: true, Comparator: ComparatorEquals,
	}
	require.False(t, sensitive.Match(md))

	insensitive := EntityMetadataFilter{
		Name: "birthplace", Value: "virginia",
		Comparator: ComparatorEquals,
	}
	require.True(t, insensitive.Match(md))

	absent := EntityMetadataFilter{
		Name: "nope", Value: "x", Comparator: ComparatorEquals,
	}
	require.False(t, absent.Match(md))
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	require.Equal(t, []int{1, 2, 3}, Page(items, 0, 3))
	require.Equal(t, []int{4, 5}, Page(items, 3, 3))
	require.Empty(t, Page(items, 5, 3))
	require.Empty(t, Page(items, 99, 3))
	require.Equal(t, items, Page(items, 0, 0))
}

func TestLessTieBreaksOnID(t *testing.T) {
	a := Target{Entity: &entity.Entity{Confidence: 90}, ID: "aaa"}
	b := Target{Entity: &entity.Entity{Confidence: 90}, ID: "bbb"}

	require.True(t, Less(OrderConfidence, SortAscending, a, b))
	require.False(t, Less(OrderConfidence, SortAscending, b, a))
}
