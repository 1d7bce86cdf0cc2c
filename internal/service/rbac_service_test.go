package service

import (
	"context"
	"testing"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type rbacTestDeps struct {
	svc        *RBACServiceImpl
	rbacRepo   *mocks.MockRBACRepository
	userRepo   *mocks.MockUserRepository
	guard      *mocks.MockAccessGuard
	recorder   *mocks.MockAuditRecorder
	cache      *mocks.MockPermissionCache
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupRBACService(t *testing.T) *rbacTestDeps {
	ctrl := gomock.NewController(t)
	d := &rbacTestDeps{
		rbacRepo:   mocks.NewMockRBACRepository(ctrl),
		userRepo:   mocks.NewMockUserRepository(ctrl),
		guard:      mocks.NewMockAccessGuard(ctrl),
		recorder:   mocks.NewMockAuditRecorder(ctrl),
		cache:      mocks.NewMockPermissionCache(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewRBACService(
		d.rbacRepo, d.userRepo, d.guard, d.recorder,
		d.cache, d.transactor, zerolog.Nop(),
	)
	return d
}

func TestRBACService_CreateRole_Success(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleBySlug(ctx, "support").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().CreateRole(ctx, tx, gomock.Any()).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)

	role, err := d.svc.CreateRole(ctx, ports.CreateRoleRequest{
		ActorID: actorID,
		Name:    "Support",
		Slug:    "support",
		Level:   30,
	})
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, "Support", role.Name)
	assert.Equal(t, "support", role.Slug)
	assert.Equal(t, 30, role.Level)
	assert.True(t, role.IsActive)
}

func TestRBACService_CreateRole_DuplicateSlug(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleBySlug(ctx, "admin").Return(&domain.Role{
		ID:   uuid.New(),
		Slug: "admin",
	}, nil)

	role, err := d.svc.CreateRole(ctx, ports.CreateRoleRequest{
		ActorID: actorID,
		Name:    "Admin",
		Slug:    "admin",
	})
	assert.Nil(t, role)
	assertAppError(t, err, "RBAC_001")
}

func TestRBACService_CreateRole_Unauthorized(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(false)

	role, err := d.svc.CreateRole(ctx, ports.CreateRoleRequest{
		ActorID: actorID,
		Name:    "Support",
		Slug:    "support",
	})
	assert.Nil(t, role)
	assertAppError(t, err, "ACL_001")
}

func TestRBACService_CreateRole_MissingFields(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)

	role, err := d.svc.CreateRole(ctx, ports.CreateRoleRequest{
		ActorID: actorID,
		Name:    "",
		Slug:    "support",
	})
	assert.Nil(t, role)
	assertAppError(t, err, "LED_005")
}

func TestRBACService_SetRoleActive(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	roleID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleByID(ctx, roleID).Return(&domain.Role{
		ID:       roleID,
		Slug:     "manager",
		IsActive: true,
	}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().SetRoleActive(ctx, tx, roleID, false).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)

	err := d.svc.SetRoleActive(ctx, ports.SetRoleActiveRequest{
		ActorID: actorID,
		RoleID:  roleID,
		Active:  false,
	})
	require.NoError(t, err)
}

func TestRBACService_CreatePermission_Success(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManagePermissions).Return(true)
	d.rbacRepo.EXPECT().GetPermissionBySlug(ctx, "reports.view").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().CreatePermission(ctx, tx, gomock.Any()).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)

	perm, err := d.svc.CreatePermission(ctx, ports.CreatePermissionRequest{
		ActorID:  actorID,
		Name:     "view_reports",
		Slug:     "reports.view",
		Resource: "reports",
		Action:   "view",
	})
	require.NoError(t, err)
	require.NotNil(t, perm)
	assert.Equal(t, "view_reports", perm.Name)
	assert.Equal(t, "reports.view", perm.Slug)
}

func TestRBACService_CreatePermission_DuplicateSlug(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManagePermissions).Return(true)
	d.rbacRepo.EXPECT().GetPermissionBySlug(ctx, "reports.view").Return(&domain.Permission{
		ID:   uuid.New(),
		Slug: "reports.view",
	}, nil)

	perm, err := d.svc.CreatePermission(ctx, ports.CreatePermissionRequest{
		ActorID: actorID,
		Name:    "view_reports",
		Slug:    "reports.view",
	})
	assert.Nil(t, perm)
	assertAppError(t, err, "RBAC_001")
}

func TestRBACService_GrantPermission_ToRole(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	roleID := uuid.New()
	permID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManagePermissions).Return(true)
	d.rbacRepo.EXPECT().GetPermissionByID(ctx, permID).Return(&domain.Permission{
		ID:   permID,
		Name: "view_reports",
	}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().GrantPermissionToRole(ctx, tx, roleID, permID).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)

	err := d.svc.GrantPermission(ctx, ports.GrantPermissionRequest{
		ActorID:      actorID,
		PermissionID: permID,
		RoleID:       &roleID,
	})
	require.NoError(t, err)
}

func TestRBACService_GrantPermission_ToUser_InvalidatesCache(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	userID := uuid.New()
	permID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManagePermissions).Return(true)
	d.rbacRepo.EXPECT().GetPermissionByID(ctx, permID).Return(&domain.Permission{
		ID:   permID,
		Name: "view_reports",
	}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().GrantPermissionToUser(ctx, tx, userID, permID).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Invalidate(ctx, userID).Return(nil)

	err := d.svc.GrantPermission(ctx, ports.GrantPermissionRequest{
		ActorID:      actorID,
		PermissionID: permID,
		UserID:       &userID,
	})
	require.NoError(t, err)
}

func TestRBACService_GrantPermission_BothTargetsRejected(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	roleID := uuid.New()
	userID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManagePermissions).Return(true)

	err := d.svc.GrantPermission(ctx, ports.GrantPermissionRequest{
		ActorID:      actorID,
		PermissionID: uuid.New(),
		RoleID:       &roleID,
		UserID:       &userID,
	})
	assertAppError(t, err, "LED_005")
}

func TestRBACService_GrantPermission_NoTargetRejected(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManagePermissions).Return(true)

	err := d.svc.GrantPermission(ctx, ports.GrantPermissionRequest{
		ActorID:      actorID,
		PermissionID: uuid.New(),
	})
	assertAppError(t, err, "LED_005")
}

func TestRBACService_RevokePermission_FromUser(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	userID := uuid.New()
	permID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManagePermissions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().RevokePermissionFromUser(ctx, tx, userID, permID).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Invalidate(ctx, userID).Return(nil)

	err := d.svc.RevokePermission(ctx, ports.GrantPermissionRequest{
		ActorID:      actorID,
		PermissionID: permID,
		UserID:       &userID,
	})
	require.NoError(t, err)
}

func TestRBACService_AssignRole_Success(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	userID := uuid.New()
	roleID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleByID(ctx, roleID).Return(&domain.Role{
		ID:       roleID,
		Slug:     "manager",
		IsActive: true,
	}, nil)
	d.userRepo.EXPECT().GetByID(ctx, userID).Return(testUser(userID, 0), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().AssignRoleToUser(ctx, tx, userID, roleID).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Invalidate(ctx, userID).Return(nil)

	err := d.svc.AssignRole(ctx, ports.AssignRoleRequest{
		ActorID: actorID,
		UserID:  userID,
		RoleID:  roleID,
	})
	require.NoError(t, err)
}

func TestRBACService_AssignRole_Primary(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	userID := uuid.New()
	roleID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleByID(ctx, roleID).Return(&domain.Role{
		ID:       roleID,
		Slug:     "manager",
		IsActive: true,
	}, nil)
	d.userRepo.EXPECT().GetByID(ctx, userID).Return(testUser(userID, 0), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().AssignRoleToUser(ctx, tx, userID, roleID).Return(nil)
	d.userRepo.EXPECT().SetPrimaryRole(ctx, tx, userID, roleID).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Invalidate(ctx, userID).Return(nil)

	err := d.svc.AssignRole(ctx, ports.AssignRoleRequest{
		ActorID: actorID,
		UserID:  userID,
		RoleID:  roleID,
		Primary: true,
	})
	require.NoError(t, err)
}

func TestRBACService_AssignRole_InactiveRole(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	roleID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleByID(ctx, roleID).Return(&domain.Role{
		ID:       roleID,
		Slug:     "legacy",
		IsActive: false,
	}, nil)

	err := d.svc.AssignRole(ctx, ports.AssignRoleRequest{
		ActorID: actorID,
		UserID:  uuid.New(),
		RoleID:  roleID,
	})
	assertAppError(t, err, "RBAC_002")
}

func TestRBACService_AssignRole_RoleNotFound(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleByID(ctx, gomock.Any()).Return(nil, nil)

	err := d.svc.AssignRole(ctx, ports.AssignRoleRequest{
		ActorID: actorID,
		UserID:  uuid.New(),
		RoleID:  uuid.New(),
	})
	assertAppError(t, err, "LED_008")
}

func TestRBACService_RevokeRole(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	userID := uuid.New()
	roleID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapManageRoles).Return(true)
	d.rbacRepo.EXPECT().GetRoleByID(ctx, roleID).Return(&domain.Role{
		ID:       roleID,
		Slug:     "manager",
		IsActive: true,
	}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.rbacRepo.EXPECT().RemoveRoleFromUser(ctx, tx, userID, roleID).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Invalidate(ctx, userID).Return(nil)

	err := d.svc.RevokeRole(ctx, ports.AssignRoleRequest{
		ActorID: actorID,
		UserID:  userID,
		RoleID:  roleID,
	})
	require.NoError(t, err)
}

func TestRBACService_ListRoles(t *testing.T) {
	d := setupRBACService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()

	d.rbacRepo.EXPECT().ListRoles(ctx).Return([]domain.Role{
		{ID: uuid.New(), Slug: "admin"},
		{ID: uuid.New(), Slug: "user"},
	}, nil)

	roles, err := d.svc.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
}
