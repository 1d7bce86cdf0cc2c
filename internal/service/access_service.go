package service

import (
	"context"
	"time"

	"balance-platform/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const permissionCacheTTL = 5 * time.Minute

// AccessServiceImpl implements ports.AccessGuard. The effective
// permission set for a user is the union of direct grants and grants
// through active roles, cached in Redis for a short TTL.
//
// Authorize is deliberately infallible: a storage or cache failure
// denies access rather than surfacing an error.
type AccessServiceImpl struct {
	rbacRepo ports.RBACRepository
	cache    ports.PermissionCache
	log      zerolog.Logger
}

// NewAccessService creates a new AccessServiceImpl.
func NewAccessService(rbacRepo ports.RBACRepository, cache ports.PermissionCache, log zerolog.Logger) *AccessServiceImpl {
	return &AccessServiceImpl{
		rbacRepo: rbacRepo,
		cache:    cache,
		log:      log,
	}
}

// Authorize reports whether the actor holds the capability. The
// capability is checked as a canonical permission name first; when that
// does not match, it is resolved as a slug and the lookup retried once
// with the resolved name.
func (s *AccessServiceImpl) Authorize(ctx context.Context, actorID uuid.UUID, capability string) bool {
	names, err := s.effectiveSet(ctx, actorID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("actor_id", actorID.String()).
			Str("capability", capability).
			Msg("authorization check failed, denying")
		return false
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	if _, ok := set[capability]; ok {
		return true
	}

	// Step two: treat the capability as a slug and retry with the
	// permission's canonical name.
	perm, err := s.rbacRepo.GetPermissionBySlug(ctx, capability)
	if err != nil {
		s.log.Warn().Err(err).
			Str("capability", capability).
			Msg("slug resolution failed, denying")
		return false
	}
	if perm == nil {
		return false
	}

	_, ok := set[perm.Name]
	return ok
}

// effectiveSet returns the actor's permission names, serving from cache
// when possible. Cache write failures are logged and ignored.
func (s *AccessServiceImpl) effectiveSet(ctx context.Context, actorID uuid.UUID) ([]string, error) {
	cached, found, err := s.cache.Get(ctx, actorID)
	if err != nil {
		s.log.Warn().Err(err).Str("actor_id", actorID.String()).Msg("permission cache read failed, falling through to DB")
	} else if found {
		return cached, nil
	}

	names, err := s.rbacRepo.UserPermissionNames(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, actorID, names, permissionCacheTTL); err != nil {
		s.log.Warn().Err(err).Str("actor_id", actorID.String()).Msg("permission cache write failed")
	}
	return names, nil
}
