// Package authn contains the user directory gating the query path.
package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtnfog/entitydb/pkg/entity"
)

// ErrUnauthorized is returned when an api key has no matching user.
var ErrUnauthorized = errors.New("unauthorized")

// UserDirectory resolves api keys to users.
type UserDirectory interface {
	// Authenticate returns the user owning the api key, or
	// ErrUnauthorized if there is none.
	Authenticate(ctx context.Context, apiKey string) (*entity.User, error)
}

// StaticUserDirectory is a UserDirectory over a fixed set of users, keyed
// by api key.
type StaticUserDirectory struct {
	users map[string]*entity.User
}

var _ UserDirectory = (*StaticUserDirectory)(nil)

// NewStaticUserDirectory creates a directory from the given users. Every
// user must carry a unique, non-empty api key.
func NewStaticUserDirectory(users []entity.User) (*StaticUserDirectory, error) {
	if len(users) == 0 {
		return nil, errors.New("invalid auth configuration, please specify at least one user")
	}

	byKey := make(map[string]*entity.User, len(users))
	for i := range users {
		u := users[i]
		if u.APIKey == "" {
			return nil, errors.New("invalid auth configuration, user requires an api key")
		}
		if _, ok := byKey[u.APIKey]; ok {
			return nil, fmt.Errorf("invalid auth configuration, duplicate api key for user '%s'", u.ID)
		}
		byKey[u.APIKey] = &u
	}

	return &StaticUserDirectory{users: byKey}, nil
}

func (d *StaticUserDirectory) Authenticate(ctx context.Context, apiKey string) (*entity.User, error) {
	if apiKey == "" {
		return nil, ErrUnauthorized
	}

	if user, found := d.users[apiKey]; found {
		return user, nil
	}

	return nil, ErrUnauthorized
}

// DenyAllDirectory rejects every api key. It is the directory used when no
// users are configured so an unconfigured server fails closed.
type DenyAllDirectory struct{}

var _ UserDirectory = (*DenyAllDirectory)(nil)

func (DenyAllDirectory) Authenticate(ctx context.Context, apiKey string) (*entity.User, error) {
	return nil, ErrUnauthorized
}
