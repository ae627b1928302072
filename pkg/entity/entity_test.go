package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveIDDeterministic(t *testing.T) {
	e := Entity{
		Text:       "George Washington",
		Type:       "PER",
		Confidence: 97.0,
		Context:    "ctx",
		DocumentID: "doc",
		Metadata:   map[string]string{"b": "2", "a": "1"},
	}

	first := DeriveID(&e, "::1")
	second := DeriveID(&e, "::1")
	require.Equal(t, first, second)
	require.Len(t, first, 16)

	// Metadata insertion order does not matter.
	e2 := e
	e2.Metadata = map[string]string{"a": "1", "b": "2"}
	require.Equal(t, first, DeriveID(&e2, "::1"))
}

func TestDeriveIDSensitivity(t *testing.T) {
	base := Entity{Text: "George Washington", Type: "PER", Confidence: 97.0, Context: "ctx", DocumentID: "doc"}
	baseID := DeriveID(&base, "::1")

	changedText := base
	changedText.Text = "George Washington Carver"
	require.NotEqual(t, baseID, DeriveID(&changedText, "::1"))

	changedConfidence := base
	changedConfidence.Confidence = 96.0
	require.NotEqual(t, baseID, DeriveID(&changedConfidence, "::1"))

	// The same content under a different ACL is a different entity.
	require.NotEqual(t, baseID, DeriveID(&base, "alice::0"))
}

func TestSanitizeMetadata(t *testing.T) {
	e := Entity{
		Metadata: map[string]string{
			"Birth Place":  "Virginia",
			"year_of-1732": "yes",
			"plain":        "kept",
		},
	}

	e.SanitizeMetadata()

	require.Equal(t, map[string]string{
		"birthplace": "Virginia",
		"yearof1732": "yes",
		"plain":      "kept",
	}, e.Metadata)
}

func TestNewStoredEntity(t *testing.T) {
	stored := NewStoredEntity(Entity{
		Text:     "George Washington",
		Type:     "PER",
		Metadata: map[string]string{"Birth Place": "Virginia"},
	}, "::1")

	require.NotEmpty(t, stored.ID)
	require.Equal(t, "::1", stored.ACL)
	require.True(t, stored.Visible)
	require.NotZero(t, stored.Timestamp)
	require.Zero(t, stored.Indexed)
	require.Equal(t, "Virginia", stored.Metadata["birthplace"])

	// The id is derived from the sanitized form, so sanitizing first
	// changes nothing.
	pre := Entity{
		Text:     "George Washington",
		Type:     "PER",
		Metadata: map[string]string{"birthplace": "Virginia"},
	}
	require.Equal(t, stored.ID, DeriveID(&pre, "::1"))
}
