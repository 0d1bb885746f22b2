package usermgmt

import (
	"devicehub/internal/cache"
	"devicehub/internal/domain/user"
)

const (
	UserCacheID               = "user"
	GrantedAuthoritiesCacheID = "grau"
)

// CacheIDs lists the named caches this service owns.
var CacheIDs = []string{UserCacheID, GrantedAuthoritiesCacheID}

// UserCache holds user records keyed by username.
type UserCache = cache.NamedCache[user.User]

// GrantedAuthoritiesCache holds each user's granted authorities keyed by username.
type GrantedAuthoritiesCache = cache.NamedCache[[]user.GrantedAuthority]

func NewUserCache(host cache.Lifecycle, cfg cache.Config, deps cache.Deps) UserCache {
	return cache.New[user.User](host, UserCacheID, cfg, deps, cache.WithClone(user.User.Clone))
}

func NewGrantedAuthoritiesCache(host cache.Lifecycle, cfg cache.Config, deps cache.Deps) GrantedAuthoritiesCache {
	return cache.New[[]user.GrantedAuthority](host, GrantedAuthoritiesCacheID, cfg, deps, cache.WithClone(user.CloneAuthorities))
}
