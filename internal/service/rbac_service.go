package service

import (
	"context"
	"fmt"
	"time"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// RBACServiceImpl implements ports.RBACService. Every mutation is
// written together with its audit entry in one database transaction,
// and user-scoped changes invalidate the permission cache.
type RBACServiceImpl struct {
	rbacRepo   ports.RBACRepository
	userRepo   ports.UserRepository
	guard      ports.AccessGuard
	recorder   ports.AuditRecorder
	cache      ports.PermissionCache
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewRBACService creates a new RBACServiceImpl.
func NewRBACService(
	rbacRepo ports.RBACRepository,
	userRepo ports.UserRepository,
	guard ports.AccessGuard,
	recorder ports.AuditRecorder,
	cache ports.PermissionCache,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *RBACServiceImpl {
	return &RBACServiceImpl{
		rbacRepo:   rbacRepo,
		userRepo:   userRepo,
		guard:      guard,
		recorder:   recorder,
		cache:      cache,
		transactor: transactor,
		log:        log,
	}
}

// CreateRole creates a new role with a unique slug.
func (s *RBACServiceImpl) CreateRole(ctx context.Context, req ports.CreateRoleRequest) (*domain.Role, error) {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapManageRoles) {
		return nil, apperror.ErrUnauthorized()
	}
	if req.Name == "" || req.Slug == "" {
		return nil, apperror.Validation("role name and slug are required")
	}

	existing, err := s.rbacRepo.GetRoleBySlug(ctx, req.Slug)
	if err != nil {
		return nil, storageErr(fmt.Errorf("check role slug: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateSlug("role")
	}

	now := time.Now().UTC()
	role := &domain.Role{
		ID:        uuid.New(),
		Name:      req.Name,
		Slug:      req.Slug,
		Level:     req.Level,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.inAuditedTx(ctx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionRoleCreated,
		EntityType: "role",
		EntityID:   role.ID.String(),
		New:        role,
		Request:    req.Request,
	}, func(tx pgx.Tx) error {
		return s.rbacRepo.CreateRole(ctx, tx, role)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("role_id", role.ID.String()).Str("slug", role.Slug).Msg("role created")
	return role, nil
}

// SetRoleActive toggles a role's active flag. Deactivating a role
// suspends its grants for every holder; the permission cache TTL bounds
// how long stale sets survive.
func (s *RBACServiceImpl) SetRoleActive(ctx context.Context, req ports.SetRoleActiveRequest) error {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapManageRoles) {
		return apperror.ErrUnauthorized()
	}

	role, err := s.rbacRepo.GetRoleByID(ctx, req.RoleID)
	if err != nil {
		return storageErr(fmt.Errorf("find role: %w", err))
	}
	if role == nil {
		return apperror.ErrNotFound("role")
	}

	err = s.inAuditedTx(ctx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionRoleUpdated,
		EntityType: "role",
		EntityID:   role.ID.String(),
		Old:        map[string]bool{"is_active": role.IsActive},
		New:        map[string]bool{"is_active": req.Active},
		Request:    req.Request,
	}, func(tx pgx.Tx) error {
		return s.rbacRepo.SetRoleActive(ctx, tx, role.ID, req.Active)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("role_id", role.ID.String()).Bool("active", req.Active).Msg("role active flag updated")
	return nil
}

// ListRoles returns all roles.
func (s *RBACServiceImpl) ListRoles(ctx context.Context) ([]domain.Role, error) {
	roles, err := s.rbacRepo.ListRoles(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	return roles, nil
}

// CreatePermission creates a new permission with a unique slug.
func (s *RBACServiceImpl) CreatePermission(ctx context.Context, req ports.CreatePermissionRequest) (*domain.Permission, error) {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapManagePermissions) {
		return nil, apperror.ErrUnauthorized()
	}
	if req.Name == "" || req.Slug == "" {
		return nil, apperror.Validation("permission name and slug are required")
	}

	existing, err := s.rbacRepo.GetPermissionBySlug(ctx, req.Slug)
	if err != nil {
		return nil, storageErr(fmt.Errorf("check permission slug: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateSlug("permission")
	}

	perm := &domain.Permission{
		ID:        uuid.New(),
		Name:      req.Name,
		Slug:      req.Slug,
		Resource:  req.Resource,
		Action:    req.Action,
		CreatedAt: time.Now().UTC(),
	}

	err = s.inAuditedTx(ctx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionPermissionCreated,
		EntityType: "permission",
		EntityID:   perm.ID.String(),
		New:        perm,
		Request:    req.Request,
	}, func(tx pgx.Tx) error {
		return s.rbacRepo.CreatePermission(ctx, tx, perm)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("permission_id", perm.ID.String()).Str("slug", perm.Slug).Msg("permission created")
	return perm, nil
}

// ListPermissions returns all permissions.
func (s *RBACServiceImpl) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	perms, err := s.rbacRepo.ListPermissions(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	return perms, nil
}

// GrantPermission links a permission to a role or directly to a user.
func (s *RBACServiceImpl) GrantPermission(ctx context.Context, req ports.GrantPermissionRequest) error {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapManagePermissions) {
		return apperror.ErrUnauthorized()
	}
	if err := validateGrantTarget(req); err != nil {
		return err
	}

	perm, err := s.rbacRepo.GetPermissionByID(ctx, req.PermissionID)
	if err != nil {
		return storageErr(fmt.Errorf("find permission: %w", err))
	}
	if perm == nil {
		return apperror.ErrNotFound("permission")
	}

	entry := ports.AuditEntry{
		ActorID: &req.ActorID,
		Action:  domain.AuditActionPermissionGrant,
		New:     map[string]string{"permission": perm.Name},
		Request: req.Request,
	}

	if req.RoleID != nil {
		entry.EntityType = "role"
		entry.EntityID = req.RoleID.String()
		err = s.inAuditedTx(ctx, entry, func(tx pgx.Tx) error {
			return s.rbacRepo.GrantPermissionToRole(ctx, tx, *req.RoleID, perm.ID)
		})
	} else {
		entry.EntityType = "user"
		entry.EntityID = req.UserID.String()
		err = s.inAuditedTx(ctx, entry, func(tx pgx.Tx) error {
			return s.rbacRepo.GrantPermissionToUser(ctx, tx, *req.UserID, perm.ID)
		})
	}
	if err != nil {
		return err
	}

	if req.UserID != nil {
		s.invalidateCache(ctx, *req.UserID)
	}
	return nil
}

// RevokePermission removes a permission from a role or a user.
func (s *RBACServiceImpl) RevokePermission(ctx context.Context, req ports.GrantPermissionRequest) error {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapManagePermissions) {
		return apperror.ErrUnauthorized()
	}
	if err := validateGrantTarget(req); err != nil {
		return err
	}

	entry := ports.AuditEntry{
		ActorID: &req.ActorID,
		Action:  domain.AuditActionPermissionRevoke,
		Old:     map[string]string{"permission_id": req.PermissionID.String()},
		Request: req.Request,
	}

	var err error
	if req.RoleID != nil {
		entry.EntityType = "role"
		entry.EntityID = req.RoleID.String()
		err = s.inAuditedTx(ctx, entry, func(tx pgx.Tx) error {
			return s.rbacRepo.RevokePermissionFromRole(ctx, tx, *req.RoleID, req.PermissionID)
		})
	} else {
		entry.EntityType = "user"
		entry.EntityID = req.UserID.String()
		err = s.inAuditedTx(ctx, entry, func(tx pgx.Tx) error {
			return s.rbacRepo.RevokePermissionFromUser(ctx, tx, *req.UserID, req.PermissionID)
		})
	}
	if err != nil {
		return err
	}

	if req.UserID != nil {
		s.invalidateCache(ctx, *req.UserID)
	}
	return nil
}

// AssignRole links a role to a user. Inactive roles cannot be assigned.
func (s *RBACServiceImpl) AssignRole(ctx context.Context, req ports.AssignRoleRequest) error {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapManageRoles) {
		return apperror.ErrUnauthorized()
	}

	role, err := s.rbacRepo.GetRoleByID(ctx, req.RoleID)
	if err != nil {
		return storageErr(fmt.Errorf("find role: %w", err))
	}
	if role == nil {
		return apperror.ErrNotFound("role")
	}
	if !role.IsActive {
		return apperror.ErrRoleInactive()
	}

	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		return storageErr(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return apperror.ErrNotFound("user")
	}

	err = s.inAuditedTx(ctx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionRoleAssigned,
		EntityType: "user",
		EntityID:   user.ID.String(),
		New:        map[string]string{"role": role.Slug},
		Request:    req.Request,
	}, func(tx pgx.Tx) error {
		if err := s.rbacRepo.AssignRoleToUser(ctx, tx, user.ID, role.ID); err != nil {
			return err
		}
		if req.Primary {
			return s.userRepo.SetPrimaryRole(ctx, tx, user.ID, role.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateCache(ctx, user.ID)
	s.log.Info().Str("user_id", user.ID.String()).Str("role", role.Slug).Msg("role assigned")
	return nil
}

// RevokeRole unlinks a role from a user.
func (s *RBACServiceImpl) RevokeRole(ctx context.Context, req ports.AssignRoleRequest) error {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapManageRoles) {
		return apperror.ErrUnauthorized()
	}

	role, err := s.rbacRepo.GetRoleByID(ctx, req.RoleID)
	if err != nil {
		return storageErr(fmt.Errorf("find role: %w", err))
	}
	if role == nil {
		return apperror.ErrNotFound("role")
	}

	err = s.inAuditedTx(ctx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionRoleRevoked,
		EntityType: "user",
		EntityID:   req.UserID.String(),
		Old:        map[string]string{"role": role.Slug},
		Request:    req.Request,
	}, func(tx pgx.Tx) error {
		return s.rbacRepo.RemoveRoleFromUser(ctx, tx, req.UserID, role.ID)
	})
	if err != nil {
		return err
	}

	s.invalidateCache(ctx, req.UserID)
	s.log.Info().Str("user_id", req.UserID.String()).Str("role", role.Slug).Msg("role revoked")
	return nil
}

// inAuditedTx runs the mutation and its audit entry in one transaction.
func (s *RBACServiceImpl) inAuditedTx(ctx context.Context, entry ports.AuditEntry, fn func(tx pgx.Tx) error) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := fn(dbTx); err != nil {
		return storageErr(err)
	}
	if err := s.recorder.Record(ctx, dbTx, entry); err != nil {
		return storageErr(fmt.Errorf("record audit: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return storageErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (s *RBACServiceImpl) invalidateCache(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to invalidate permission cache")
	}
}

func validateGrantTarget(req ports.GrantPermissionRequest) error {
	if (req.RoleID == nil) == (req.UserID == nil) {
		return apperror.Validation("exactly one of role_id or user_id must be set")
	}
	return nil
}
