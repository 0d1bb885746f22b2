package usermgmt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/cache"
	"devicehub/internal/domain/user"
	"devicehub/internal/errs"
	"devicehub/internal/ports"
)

var (
	ErrUnknownCache     = errors.New("unknown cache id")
	ErrPasswordRequired = errors.New("hashed password is required")
	// ErrPublishFailed marks a write that committed but whose invalidation did not
	// reach the bus. The returned value is still the committed state.
	ErrPublishFailed = errors.New("invalidation not published")
)

// Service resolves identity and authorization data through the named caches and
// owns every write to users and grants, publishing the invalidations those writes imply.
type Service struct {
	repo   ports.UserRepository
	uow    ports.UnitOfWork
	bus    ports.InvalidationBus
	users  UserCache
	grants GrantedAuthoritiesCache
}

// NewService wires the user management usecases. bus may be nil in single-node
// setups; local caches are still invalidated on every write.
func NewService(repo ports.UserRepository, uow ports.UnitOfWork, bus ports.InvalidationBus, users UserCache, grants GrantedAuthoritiesCache) *Service {
	return &Service{
		repo:   repo,
		uow:    uow,
		bus:    bus,
		users:  users,
		grants: grants,
	}
}

type CreateUserInput struct {
	Username       string
	HashedPassword string
	FirstName      string
	LastName       string
	Status         string
	Metadata       map[string]string
	Authorities    []string
}

type UpdateUserInput struct {
	Username       string
	HashedPassword string
	FirstName      string
	LastName       string
	Status         string
	Metadata       map[string]string
}

type CreateAuthorityInput struct {
	Authority   string
	Description string
	Parent      string
	Group       bool
}

func (s *Service) GetUser(ctx context.Context, username string) (user.User, error) {
	name, err := user.NormalizeUsername(username)
	if err != nil {
		return user.User{}, err
	}

	u, found, err := s.users.GetOrLoad(ctx, name, s.fetchUser)
	if err != nil {
		return user.User{}, errs.Wrap(err, "get user")
	}
	if !found {
		return user.User{}, errs.Wrapf(user.ErrNotFound, "user %q", name)
	}
	return u, nil
}

func (s *Service) GetGrantedAuthorities(ctx context.Context, username string) ([]user.GrantedAuthority, error) {
	name, err := user.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	auths, found, err := s.grants.GetOrLoad(ctx, name, s.fetchGrantedAuthorities)
	if err != nil {
		return nil, errs.Wrap(err, "get granted authorities")
	}
	if !found {
		return nil, errs.Wrapf(user.ErrNotFound, "user %q", name)
	}
	return auths, nil
}

func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (user.User, error) {
	name, err := user.NormalizeUsername(input.Username)
	if err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(input.HashedPassword) == "" {
		return user.User{}, ErrPasswordRequired
	}
	status, err := user.ParseStatus(input.Status)
	if err != nil {
		return user.User{}, err
	}
	authorities, err := normalizeAuthorities(input.Authorities)
	if err != nil {
		return user.User{}, err
	}

	var created user.User
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		u, err := s.repo.CreateUser(txCtx, user.User{
			Username:       name,
			HashedPassword: input.HashedPassword,
			FirstName:      strings.TrimSpace(input.FirstName),
			LastName:       strings.TrimSpace(input.LastName),
			Status:         status,
			Metadata:       input.Metadata,
		})
		if err != nil {
			return err
		}
		created = u
		if len(authorities) == 0 {
			return nil
		}
		return s.repo.SetUserAuthorities(txCtx, name, authorities)
	}); err != nil {
		return user.User{}, errs.Wrap(err, "create user")
	}

	logging.Info(ctx, "user created", slog.String("username", name), slog.Int("authorities", len(authorities)))
	return created, s.invalidate(ctx, name, UserCacheID, GrantedAuthoritiesCacheID)
}

func (s *Service) UpdateUser(ctx context.Context, input UpdateUserInput) (user.User, error) {
	name, err := user.NormalizeUsername(input.Username)
	if err != nil {
		return user.User{}, err
	}
	status, err := user.ParseStatus(input.Status)
	if err != nil {
		return user.User{}, err
	}

	updated, err := s.repo.UpdateUser(ctx, user.User{
		Username:       name,
		HashedPassword: input.HashedPassword,
		FirstName:      strings.TrimSpace(input.FirstName),
		LastName:       strings.TrimSpace(input.LastName),
		Status:         status,
		Metadata:       input.Metadata,
	})
	if err != nil {
		return user.User{}, errs.Wrap(err, "update user")
	}

	logging.Info(ctx, "user updated", slog.String("username", name))
	return updated, s.invalidate(ctx, name, UserCacheID)
}

func (s *Service) DeleteUser(ctx context.Context, username string) error {
	name, err := user.NormalizeUsername(username)
	if err != nil {
		return err
	}

	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		return s.repo.DeleteUser(txCtx, name)
	}); err != nil {
		return errs.Wrap(err, "delete user")
	}

	logging.Info(ctx, "user deleted", slog.String("username", name))
	return s.invalidate(ctx, name, UserCacheID, GrantedAuthoritiesCacheID)
}

// SetUserAuthorities replaces the grants of username.
func (s *Service) SetUserAuthorities(ctx context.Context, username string, authorities []string) ([]user.GrantedAuthority, error) {
	name, err := user.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}
	names, err := normalizeAuthorities(authorities)
	if err != nil {
		return nil, err
	}

	var granted []user.GrantedAuthority
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.SetUserAuthorities(txCtx, name, names); err != nil {
			return err
		}
		granted, err = s.repo.ListGrantedAuthorities(txCtx, name)
		return err
	}); err != nil {
		return nil, errs.Wrap(err, "set user authorities")
	}

	logging.Info(ctx, "user authorities replaced", slog.String("username", name), slog.Any("authorities", names))
	return granted, s.invalidate(ctx, name, GrantedAuthoritiesCacheID)
}

func (s *Service) CreateGrantedAuthority(ctx context.Context, input CreateAuthorityInput) (user.GrantedAuthority, error) {
	name, err := user.NormalizeAuthority(input.Authority)
	if err != nil {
		return user.GrantedAuthority{}, err
	}
	parent := ""
	if strings.TrimSpace(input.Parent) != "" {
		if parent, err = user.NormalizeAuthority(input.Parent); err != nil {
			return user.GrantedAuthority{}, err
		}
	}

	created, err := s.repo.CreateGrantedAuthority(ctx, user.GrantedAuthority{
		Authority:   name,
		Description: strings.TrimSpace(input.Description),
		Parent:      parent,
		Group:       input.Group,
	})
	if err != nil {
		return user.GrantedAuthority{}, errs.Wrap(err, "create granted authority")
	}
	return created, nil
}

func (s *Service) ListAuthorities(ctx context.Context) ([]user.GrantedAuthority, error) {
	out, err := s.repo.ListAllAuthorities(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "list authorities")
	}
	return out, nil
}

// FlushCache drops every entry of cacheID on all instances.
func (s *Service) FlushCache(ctx context.Context, cacheID string) error {
	id := strings.TrimSpace(cacheID)
	c, ok := s.cacheByID(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCache, cacheID)
	}

	n := c.InvalidateAll()
	logging.Info(ctx, "cache flushed locally", slog.String("cache_id", id), slog.Int("discarded", n))

	if s.bus == nil {
		return nil
	}
	if err := s.bus.Publish(ctx, ports.InvalidationEvent{CacheID: id, All: true}); err != nil {
		return errs.Join(ErrPublishFailed, errs.Wrapf(err, "publish flush %s", id))
	}
	return nil
}

func (s *Service) CacheStats() []cache.Stats {
	return []cache.Stats{s.users.Stats(), s.grants.Stats()}
}

type flusher interface {
	InvalidateAll() int
}

func (s *Service) cacheByID(id string) (flusher, bool) {
	switch id {
	case UserCacheID:
		return s.users, true
	case GrantedAuthoritiesCacheID:
		return s.grants, true
	default:
		return nil, false
	}
}

// invalidate evicts username locally for read-your-writes on this instance, then
// tells the rest of the cluster. A publish failure is reported but the write stays
// committed; peers converge once their entries reach the TTL.
func (s *Service) invalidate(ctx context.Context, username string, cacheIDs ...string) error {
	var failed []error
	for _, id := range cacheIDs {
		switch id {
		case UserCacheID:
			_ = s.users.Invalidate(username)
		case GrantedAuthoritiesCacheID:
			_ = s.grants.Invalidate(username)
		}

		if s.bus == nil {
			continue
		}
		if err := s.bus.Publish(ctx, ports.InvalidationEvent{CacheID: id, Key: username}); err != nil {
			logging.Warn(ctx, "publish invalidation failed",
				slog.String("cache_id", id),
				slog.String("username", username),
				slog.Any("err", errs.Loggable(err)),
			)
			failed = append(failed, errs.Wrapf(err, "publish invalidation %s/%s", id, username))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errs.Join(ErrPublishFailed, errors.Join(failed...))
}

func (s *Service) fetchUser(ctx context.Context, username string) (user.User, bool, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, user.ErrNotFound) {
		return user.User{}, false, nil
	}
	if err != nil {
		return user.User{}, false, err
	}
	return u, true, nil
}

func (s *Service) fetchGrantedAuthorities(ctx context.Context, username string) ([]user.GrantedAuthority, bool, error) {
	auths, err := s.repo.ListGrantedAuthorities(ctx, username)
	if errors.Is(err, user.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return auths, true, nil
}

func normalizeAuthorities(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		name, err := user.NormalizeAuthority(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
