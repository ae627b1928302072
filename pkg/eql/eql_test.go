package eql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/storage"
)

func TestCompileSelectAll(t *testing.T) {
	q, err := Compile("select * from entities")
	require.NoError(t, err)
	require.Empty(t, q.Text)
	require.Empty(t, q.Metadata)
	require.Nil(t, q.Confidence)
	require.Nil(t, q.Date)
	require.Equal(t, storage.OrderID, q.Order)
	require.Equal(t, storage.SortAscending, q.SortOrder)
	require.Equal(t, storage.DefaultQueryLimit, q.Limit)
}

func TestCompileStringFields(t *testing.T) {
	q, err := Compile(`select * from entities where text = "George Washington" and type = "PER" and context = "ctx" and documentid = "doc"`)
	require.NoError(t, err)
	require.Equal(t, "George Washington", q.Text)
	require.Equal(t, "PER", q.Type)
	require.Equal(t, "ctx", q.Context)
	require.Equal(t, "doc", q.DocumentID)
}

func TestCompileKeywordsCaseInsensitive(t *testing.T) {
	q, err := Compile(`SELECT * FROM entities WHERE Text = "George Washington" ORDER BY Confidence DESC`)
	require.NoError(t, err)
	require.Equal(t, "George Washington", q.Text)
	require.Equal(t, storage.OrderConfidence, q.Order)
	require.Equal(t, storage.SortDescending, q.SortOrder)
}

func TestCompileTextWildcard(t *testing.T) {
	q, err := Compile(`select * from entities where text = "George*"`)
	require.NoError(t, err)
	require.Equal(t, "George*", q.Text)
}

func TestCompileDoubledQuoteEscape(t *testing.T) {
	q, err := Compile(`select * from entities where text = "O""Brien"`)
	require.NoError(t, err)
	require.Equal(t, `O"Brien`, q.Text)
}

func TestCompileConfidence(t *testing.T) {
	q, err := Compile("select * from entities where confidence > 50")
	require.NoError(t, err)
	require.NotNil(t, q.Confidence)
	require.True(t, q.Confidence.HasMin)
	require.False(t, q.Confidence.MinInclusive)
	require.Equal(t, 50.0, q.Confidence.Min)
	require.False(t, q.Confidence.HasMax)

	q, err = Compile("select * from entities where confidence between 50 and 75")
	require.NoError(t, err)
	require.True(t, q.Confidence.HasMin)
	require.True(t, q.Confidence.MinInclusive)
	require.Equal(t, 50.0, q.Confidence.Min)
	require.True(t, q.Confidence.HasMax)
	require.True(t, q.Confidence.MaxInclusive)
	require.Equal(t, 75.0, q.Confidence.Max)

	// Bounds from separate clauses merge into one range.
	q, err = Compile("select * from entities where confidence >= 50 and confidence < 75")
	require.NoError(t, err)
	require.True(t, q.Confidence.HasMin)
	require.True(t, q.Confidence.MinInclusive)
	require.True(t, q.Confidence.HasMax)
	require.False(t, q.Confidence.MaxInclusive)

	_, err = Compile("select * from entities where confidence > 50 and confidence > 60")
	require.Error(t, err)
}

func TestCompileTimestamp(t *testing.T) {
	q, err := Compile("select * from entities where timestamp < 1700000000000")
	require.NoError(t, err)
	require.NotNil(t, q.Date)
	require.Equal(t, storage.DateBefore, q.Date.Comparator)
	require.Equal(t, int64(1700000000000), q.Date.Start)

	q, err = Compile("select * from entities where timestamp <= 1700000000000")
	require.NoError(t, err)
	require.Equal(t, storage.DateBefore, q.Date.Comparator)
	require.Equal(t, int64(1700000000001), q.Date.Start)

	q, err = Compile("select * from entities where timestamp between 1 and 2")
	require.NoError(t, err)
	require.Equal(t, storage.DateBetween, q.Date.Comparator)
	require.Equal(t, int64(1), q.Date.Start)
	require.Equal(t, int64(2), q.Date.End)

	_, err = Compile("select * from entities where timestamp < 1 and timestamp > 2")
	require.Error(t, err)
}

func TestCompileMetadata(t *testing.T) {
	q, err := Compile(`select * from entities where metadata.BirthPlace = "Virginia" and metadata.age != "30"`)
	require.NoError(t, err)
	require.Len(t, q.Metadata, 2)
	require.Equal(t, "birthplace", q.Metadata[0].Name)
	require.Equal(t, "Virginia", q.Metadata[0].Value)
	require.Equal(t, storage.ComparatorEquals, q.Metadata[0].Comparator)
	require.True(t, q.Metadata[0].CaseSensitive)
	require.Equal(t, "age", q.Metadata[1].Name)
	require.Equal(t, storage.ComparatorNotEquals, q.Metadata[1].Comparator)

	q, err = Compile(`select * from entities where metadata.age between "20" and "30"`)
	require.NoError(t, err)
	require.Len(t, q.Metadata, 1)
	require.Equal(t, storage.ComparatorBetween, q.Metadata[0].Comparator)
	require.Equal(t, "20", q.Metadata[0].Value)
	require.Equal(t, "30", q.Metadata[0].ValueTo)
}

func TestCompileOrderBy(t *testing.T) {
	q, err := Compile(`select * from entities order by text asc`)
	require.NoError(t, err)
	require.Equal(t, storage.OrderText, q.Order)
	require.Equal(t, storage.SortAscending, q.SortOrder)

	_, err = Compile(`select * from entities order by acl`)
	require.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"misspelled where", `select * from entities wher text = "x"`},
		{"unknown field", `select * from entities where nope = "x"`},
		{"unterminated string", `select * from entities where text = "x`},
		{"missing value", `select * from entities where text =`},
		{"bare bang", `select * from entities where text ! "x"`},
		{"duplicate text clause", `select * from entities where text = "a" and text = "b"`},
		{"string op on confidence", `select * from entities where confidence = "high"`},
		{"int on text", `select * from entities where text = 42`},
		{"trailing tokens", `select * from entities order by id asc garbage`},
		{"or unsupported", `select * from entities where text = "a" or type = "b"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.query)
			require.Error(t, err)

			var qge *QueryGenerationError
			require.ErrorAs(t, err, &qge)
		})
	}
}
