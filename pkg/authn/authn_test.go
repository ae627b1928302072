package authn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/entity"
)

func TestStaticUserDirectory(t *testing.T) {
	directory, err := NewStaticUserDirectory([]entity.User{
		{ID: "alice", Groups: []string{"finance"}, APIKey: "alice-key"},
		{ID: "bob", APIKey: "bob-key"},
	})
	require.NoError(t, err)

	user, err := directory.Authenticate(context.Background(), "alice-key")
	require.NoError(t, err)
	require.Equal(t, "alice", user.ID)
	require.Equal(t, []string{"finance"}, user.Groups)

	_, err = directory.Authenticate(context.Background(), "unknown-key")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = directory.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestStaticUserDirectoryConfigErrors(t *testing.T) {
	_, err := NewStaticUserDirectory(nil)
	require.Error(t, err)

	_, err = NewStaticUserDirectory([]entity.User{{ID: "alice"}})
	require.Error(t, err)

	_, err = NewStaticUserDirectory([]entity.User{
		{ID: "alice", APIKey: "shared-key"},
		{ID: "bob", APIKey: "shared-key"},
	})
	require.ErrorContains(t, err, "duplicate api key")
}

func TestDenyAllDirectory(t *testing.T) {
	_, err := DenyAllDirectory{}.Authenticate(context.Background(), "any-key")
	require.ErrorIs(t, err, ErrUnauthorized)
}
