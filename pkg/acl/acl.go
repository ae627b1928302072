// Package acl implements the compact access-control descriptor gating
// entity visibility.
//
// The canonical serialized form is "<csv users>:<csv groups>:<0|1>", for
// example "jsmith,bjones:sales:0" or "::1" for a world-visible entity.
package acl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mtnfog/entitydb/pkg/entity"
)

// ErrMalformedAcl is returned when an ACL string does not conform to the
// ACL grammar. Malformed strings are rejected outright, never coerced.
var ErrMalformedAcl = errors.New("malformed acl")

var aclPattern = regexp.MustCompile(`^([A-Za-z0-9,]*):([A-Za-z0-9,]*):[01]$`)

// Acl is the parsed form of an access-control string.
type Acl struct {
	Users  []string
	Groups []string
	World  bool
}

// Parse validates an ACL string against the ACL grammar and parses it.
// The empty users and groups fields are valid; a world flag other than
// exactly "0" or "1", a missing colon, or a dangling comma are not.
func Parse(s string) (Acl, error) {
	if !aclPattern.MatchString(s) {
		return Acl{}, fmt.Errorf("%w: %q", ErrMalformedAcl, s)
	}

	parts := strings.Split(s, ":")

	users, err := parseList(parts[0])
	if err != nil {
		return Acl{}, fmt.Errorf("%w: %q", ErrMalformedAcl, s)
	}

	groups, err := parseList(parts[1])
	if err != nil {
		return Acl{}, fmt.Errorf("%w: %q", ErrMalformedAcl, s)
	}

	return Acl{
		Users:  users,
		Groups: groups,
		World:  parts[2] == "1",
	}, nil
}

// Validate returns an error if s is not a well formed ACL string.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

func parseList(field string) ([]string, error) {
	if field == "" {
		return nil, nil
	}

	items := strings.Split(field, ",")
	for _, item := range items {
		if item == "" {
			return nil, errors.New("empty list element")
		}
	}

	return items, nil
}

// String returns the canonical serialized form of the ACL.
func (a Acl) String() string {
	world := "0"
	if a.World {
		world = "1"
	}

	return strings.Join(a.Users, ",") + ":" + strings.Join(a.Groups, ",") + ":" + world
}

// IsVisible evaluates whether the given user may see an entity guarded by
// this ACL. World-visible entities are visible unconditionally. Otherwise
// the user needs a group in common with the ACL or an explicit user entry.
// The evaluation is pure: no partial visibility, no side effects.
func (a Acl) IsVisible(user *entity.User) bool {
	if a.World {
		return true
	}

	if user == nil {
		return false
	}

	for _, g := range a.Groups {
		for _, ug := range user.Groups {
			if g == ug {
				return true
			}
		}
	}

	for _, u := range a.Users {
		if u == user.ID {
			return true
		}
	}

	return false
}
