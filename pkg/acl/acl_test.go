package acl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/entity"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []string{
		"::0",
		"::1",
		"alice::0",
		"alice,bob::1",
		":finance:0",
		":finance,hr:1",
		"alice,bob:finance,hr:0",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			a, err := Parse(s)
			require.NoError(t, err)
			require.Equal(t, s, a.String())
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []string{
		"",
		"::",
		"::2",
		":0",
		"alice:finance",
		"alice::0:extra",
		"alice bob::1",
		"alice,:finance:0",
		",alice::0",
		":finance,:1",
		"alice::1 ",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			require.ErrorIs(t, err, ErrMalformedAcl)
		})
	}
}

func TestIsVisible(t *testing.T) {
	alice := &entity.User{ID: "alice", Groups: []string{"finance"}}
	bob := &entity.User{ID: "bob", Groups: []string{"hr"}}

	tests := []struct {
		acl     string
		user    *entity.User
		visible bool
	}{
		{"::1", alice, true},
		{"::0", alice, false},
		{"alice::0", alice, true},
		{"alice::0", bob, false},
		{":finance:0", alice, true},
		{":finance:0", bob, false},
		{":hr:0", bob, true},
		{"bob:finance:0", alice, true},
		{"bob:finance:0", bob, true},
		{"carol:legal:1", bob, true},
	}

	for _, tc := range tests {
		t.Run(tc.acl+"/"+tc.user.ID, func(t *testing.T) {
			a, err := Parse(tc.acl)
			require.NoError(t, err)
			require.Equal(t, tc.visible, a.IsVisible(tc.user))
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("alice,bob:finance:1"))
	require.ErrorIs(t, Validate("not an acl"), ErrMalformedAcl)
}
