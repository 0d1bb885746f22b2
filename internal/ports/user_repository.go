package ports

import (
	"context"

	"devicehub/internal/domain/user"
)

// UserRepository is the authoritative source for users and their granted authorities.
// Lookups of missing rows return user.ErrNotFound.
type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListGrantedAuthorities(ctx context.Context, username string) ([]user.GrantedAuthority, error)
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	DeleteUser(ctx context.Context, username string) error
	SetUserAuthorities(ctx context.Context, username string, authorities []string) error

	CreateGrantedAuthority(ctx context.Context, authority user.GrantedAuthority) (user.GrantedAuthority, error)
	ListAllAuthorities(ctx context.Context) ([]user.GrantedAuthority, error)
}
