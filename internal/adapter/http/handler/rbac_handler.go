package handler

import (
	"context"

	"balance-platform/internal/adapter/http/dto"
	"balance-platform/internal/adapter/http/middleware"
	"balance-platform/internal/core/ports"
	"balance-platform/pkg/apperror"
	"balance-platform/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RBACHandler handles role and permission management endpoints.
type RBACHandler struct {
	rbacSvc ports.RBACService
}

// NewRBACHandler creates a new RBACHandler.
func NewRBACHandler(rbacSvc ports.RBACService) *RBACHandler {
	return &RBACHandler{rbacSvc: rbacSvc}
}

// CreateRole handles POST /api/v1/rbac/roles.
func (h *RBACHandler) CreateRole(c *gin.Context) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	role, err := h.rbacSvc.CreateRole(c.Request.Context(), ports.CreateRoleRequest{
		ActorID: actorID,
		Name:    req.Name,
		Slug:    req.Slug,
		Level:   req.Level,
		Request: middleware.RequestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewRoleResponse(role))
}

// SetRoleActive handles PATCH /api/v1/rbac/roles/:id/active.
func (h *RBACHandler) SetRoleActive(c *gin.Context) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	roleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid role id"))
		return
	}

	var req dto.SetRoleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	err = h.rbacSvc.SetRoleActive(c.Request.Context(), ports.SetRoleActiveRequest{
		ActorID: actorID,
		RoleID:  roleID,
		Active:  *req.Active,
		Request: middleware.RequestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"updated": true})
}

// ListRoles handles GET /api/v1/rbac/roles.
func (h *RBACHandler) ListRoles(c *gin.Context) {
	roles, err := h.rbacSvc.ListRoles(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.RoleResponse, 0, len(roles))
	for i := range roles {
		items = append(items, dto.NewRoleResponse(&roles[i]))
	}
	response.OK(c, items)
}

// CreatePermission handles POST /api/v1/rbac/permissions.
func (h *RBACHandler) CreatePermission(c *gin.Context) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	perm, err := h.rbacSvc.CreatePermission(c.Request.Context(), ports.CreatePermissionRequest{
		ActorID:  actorID,
		Name:     req.Name,
		Slug:     req.Slug,
		Resource: req.Resource,
		Action:   req.Action,
		Request:  middleware.RequestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewPermissionResponse(perm))
}

// ListPermissions handles GET /api/v1/rbac/permissions.
func (h *RBACHandler) ListPermissions(c *gin.Context) {
	perms, err := h.rbacSvc.ListPermissions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PermissionResponse, 0, len(perms))
	for i := range perms {
		items = append(items, dto.NewPermissionResponse(&perms[i]))
	}
	response.OK(c, items)
}

// GrantPermission handles POST /api/v1/rbac/grants.
func (h *RBACHandler) GrantPermission(c *gin.Context) {
	h.changeGrant(c, h.rbacSvc.GrantPermission)
}

// RevokePermission handles POST /api/v1/rbac/grants/revoke.
func (h *RBACHandler) RevokePermission(c *gin.Context) {
	h.changeGrant(c, h.rbacSvc.RevokePermission)
}

func (h *RBACHandler) changeGrant(c *gin.Context, op func(ctx context.Context, req ports.GrantPermissionRequest) error) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.GrantPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	permID, err := uuid.Parse(req.PermissionID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid permission_id"))
		return
	}

	svcReq := ports.GrantPermissionRequest{
		ActorID:      actorID,
		PermissionID: permID,
		Request:      middleware.RequestMeta(c),
	}
	if req.RoleID != nil {
		id, err := uuid.Parse(*req.RoleID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid role_id"))
			return
		}
		svcReq.RoleID = &id
	}
	if req.UserID != nil {
		id, err := uuid.Parse(*req.UserID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid user_id"))
			return
		}
		svcReq.UserID = &id
	}

	if err := op(c.Request.Context(), svcReq); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"updated": true})
}

// AssignRole handles POST /api/v1/rbac/assignments.
func (h *RBACHandler) AssignRole(c *gin.Context) {
	h.changeAssignment(c, h.rbacSvc.AssignRole)
}

// RevokeRole handles POST /api/v1/rbac/assignments/revoke.
func (h *RBACHandler) RevokeRole(c *gin.Context) {
	h.changeAssignment(c, h.rbacSvc.RevokeRole)
}

func (h *RBACHandler) changeAssignment(c *gin.Context, op func(ctx context.Context, req ports.AssignRoleRequest) error) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid user_id"))
		return
	}
	roleID, err := uuid.Parse(req.RoleID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid role_id"))
		return
	}

	err = op(c.Request.Context(), ports.AssignRoleRequest{
		ActorID: actorID,
		UserID:  userID,
		RoleID:  roleID,
		Primary: req.Primary,
		Request: middleware.RequestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"updated": true})
}
