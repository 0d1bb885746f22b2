package user

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

var (
	usernamePattern  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]{0,127}$`)
	authorityPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)
)

type AccountStatus string

const (
	StatusActive  AccountStatus = "active"
	StatusExpired AccountStatus = "expired"
	StatusLocked  AccountStatus = "locked"
)

// User is the identity record served to every RPC that resolves a caller.
type User struct {
	Username       string
	HashedPassword string
	FirstName      string
	LastName       string
	Status         AccountStatus
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GrantedAuthority is a named permission that can be granted to users.
type GrantedAuthority struct {
	Authority   string
	Description string
	Parent      string
	Group       bool
}

// Clone returns a copy that shares no maps with u.
func (u User) Clone() User {
	out := u
	if u.Metadata != nil {
		out.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CloneAuthorities copies a granted-authority list so cached slices are never aliased.
func CloneAuthorities(in []GrantedAuthority) []GrantedAuthority {
	if in == nil {
		return nil
	}
	return slices.Clone(in)
}

// AuthorityNames flattens a granted-authority list to its names, sorted.
func AuthorityNames(in []GrantedAuthority) []string {
	names := make([]string, 0, len(in))
	for _, a := range in {
		names = append(names, a.Authority)
	}
	slices.Sort(names)
	return names
}

func NormalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", ErrUsernameRequired
	}
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return username, nil
}

func NormalizeAuthority(raw string) (string, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if name == "" {
		return "", ErrAuthorityRequired
	}
	if !authorityPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthority, raw)
	}
	return name, nil
}

func ParseStatus(raw string) (AccountStatus, error) {
	switch AccountStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatusActive:
		return StatusActive, nil
	case StatusExpired:
		return StatusExpired, nil
	case StatusLocked:
		return StatusLocked, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}
