package postgres

import (
	"context"
	"errors"
	"fmt"

	"balance-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RBACRepo implements ports.RBACRepository over the explicit join tables
// roles, permissions, role_has_permissions, user_has_roles and
// user_has_permissions.
type RBACRepo struct {
	pool Pool
}

// NewRBACRepo creates a new RBACRepo.
func NewRBACRepo(pool Pool) *RBACRepo {
	return &RBACRepo{pool: pool}
}

const roleColumns = `id, name, slug, level, is_active, created_at, updated_at`
const permissionColumns = `id, name, slug, resource, action, created_at`

// CreateRole inserts a new role within a database transaction.
func (r *RBACRepo) CreateRole(ctx context.Context, tx pgx.Tx, role *domain.Role) error {
	query := `INSERT INTO roles (id, name, slug, level, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		role.ID, role.Name, role.Slug, role.Level, role.IsActive,
		role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("insert role", err)
	}
	return nil
}

// GetRoleByID fetches a role by UUID.
func (r *RBACRepo) GetRoleByID(ctx context.Context, id uuid.UUID) (*domain.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	return scanRole(r.pool.QueryRow(ctx, query, id))
}

// GetRoleBySlug fetches a role by its unique slug.
func (r *RBACRepo) GetRoleBySlug(ctx context.Context, slug string) (*domain.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE slug = $1`
	return scanRole(r.pool.QueryRow(ctx, query, slug))
}

// ListRoles fetches all roles ordered by level descending.
func (r *RBACRepo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY level DESC, name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapDBError("list roles", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		role := domain.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Slug, &role.Level,
			&role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, wrapDBError("scan role row", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate role rows", err)
	}
	return roles, nil
}

// SetRoleActive toggles a role's active flag within a database transaction.
func (r *RBACRepo) SetRoleActive(ctx context.Context, tx pgx.Tx, roleID uuid.UUID, active bool) error {
	query := `UPDATE roles SET is_active = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, active, roleID)
	if err != nil {
		return wrapDBError("set role active", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role not found: %s", roleID)
	}
	return nil
}

// CreatePermission inserts a new permission within a database transaction.
func (r *RBACRepo) CreatePermission(ctx context.Context, tx pgx.Tx, p *domain.Permission) error {
	query := `INSERT INTO permissions (id, name, slug, resource, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, p.ID, p.Name, p.Slug, p.Resource, p.Action, p.CreatedAt)
	if err != nil {
		return wrapDBError("insert permission", err)
	}
	return nil
}

// GetPermissionByID fetches a permission by UUID.
func (r *RBACRepo) GetPermissionByID(ctx context.Context, id uuid.UUID) (*domain.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`
	return scanPermission(r.pool.QueryRow(ctx, query, id))
}

// GetPermissionByName fetches a permission by its canonical name.
func (r *RBACRepo) GetPermissionByName(ctx context.Context, name string) (*domain.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE name = $1`
	return scanPermission(r.pool.QueryRow(ctx, query, name))
}

// GetPermissionBySlug fetches a permission by its slug.
func (r *RBACRepo) GetPermissionBySlug(ctx context.Context, slug string) (*domain.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE slug = $1`
	return scanPermission(r.pool.QueryRow(ctx, query, slug))
}

// ListPermissions fetches all permissions ordered by name.
func (r *RBACRepo) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions ORDER BY name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapDBError("list permissions", err)
	}
	defer rows.Close()

	var perms []domain.Permission
	for rows.Next() {
		p := domain.Permission{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Resource, &p.Action, &p.CreatedAt); err != nil {
			return nil, wrapDBError("scan permission row", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate permission rows", err)
	}
	return perms, nil
}

// GrantPermissionToRole links a permission to a role.
func (r *RBACRepo) GrantPermissionToRole(ctx context.Context, tx pgx.Tx, roleID, permissionID uuid.UUID) error {
	query := `INSERT INTO role_has_permissions (role_id, permission_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	if _, err := tx.Exec(ctx, query, roleID, permissionID); err != nil {
		return wrapDBError("grant permission to role", err)
	}
	return nil
}

// RevokePermissionFromRole removes a permission from a role.
func (r *RBACRepo) RevokePermissionFromRole(ctx context.Context, tx pgx.Tx, roleID, permissionID uuid.UUID) error {
	query := `DELETE FROM role_has_permissions WHERE role_id = $1 AND permission_id = $2`

	if _, err := tx.Exec(ctx, query, roleID, permissionID); err != nil {
		return wrapDBError("revoke permission from role", err)
	}
	return nil
}

// GrantPermissionToUser links a permission directly to a user.
func (r *RBACRepo) GrantPermissionToUser(ctx context.Context, tx pgx.Tx, userID, permissionID uuid.UUID) error {
	query := `INSERT INTO user_has_permissions (user_id, permission_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	if _, err := tx.Exec(ctx, query, userID, permissionID); err != nil {
		return wrapDBError("grant permission to user", err)
	}
	return nil
}

// RevokePermissionFromUser removes a direct permission grant.
func (r *RBACRepo) RevokePermissionFromUser(ctx context.Context, tx pgx.Tx, userID, permissionID uuid.UUID) error {
	query := `DELETE FROM user_has_permissions WHERE user_id = $1 AND permission_id = $2`

	if _, err := tx.Exec(ctx, query, userID, permissionID); err != nil {
		return wrapDBError("revoke permission from user", err)
	}
	return nil
}

// AssignRoleToUser links a role to a user.
func (r *RBACRepo) AssignRoleToUser(ctx context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error {
	query := `INSERT INTO user_has_roles (user_id, role_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	if _, err := tx.Exec(ctx, query, userID, roleID); err != nil {
		return wrapDBError("assign role to user", err)
	}
	return nil
}

// RemoveRoleFromUser unlinks a role from a user.
func (r *RBACRepo) RemoveRoleFromUser(ctx context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error {
	query := `DELETE FROM user_has_roles WHERE user_id = $1 AND role_id = $2`

	if _, err := tx.Exec(ctx, query, userID, roleID); err != nil {
		return wrapDBError("remove role from user", err)
	}
	return nil
}

// UserRoles fetches all roles assigned to a user.
func (r *RBACRepo) UserRoles(ctx context.Context, userID uuid.UUID) ([]domain.Role, error) {
	query := `SELECT r.id, r.name, r.slug, r.level, r.is_active, r.created_at, r.updated_at
		FROM roles r
		JOIN user_has_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.level DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, wrapDBError("user roles", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		role := domain.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Slug, &role.Level,
			&role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, wrapDBError("scan user role row", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate user role rows", err)
	}
	return roles, nil
}

// UserPermissionNames returns the effective permission names for a user:
// direct grants plus grants through assigned roles with is_active = TRUE.
func (r *RBACRepo) UserPermissionNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `SELECT p.name FROM permissions p
		JOIN user_has_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1
		UNION
		SELECT p.name FROM permissions p
		JOIN role_has_permissions rp ON rp.permission_id = p.id
		JOIN user_has_roles ur ON ur.role_id = rp.role_id
		JOIN roles r ON r.id = ur.role_id AND r.is_active = TRUE
		WHERE ur.user_id = $1`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, wrapDBError("user permission names", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDBError("scan permission name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate permission names", err)
	}
	return names, nil
}

// scanRole is a helper to scan a single row into a Role.
func scanRole(row pgx.Row) (*domain.Role, error) {
	role := &domain.Role{}
	err := row.Scan(&role.ID, &role.Name, &role.Slug, &role.Level,
		&role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("scan role", err)
	}
	return role, nil
}

// scanPermission is a helper to scan a single row into a Permission.
func scanPermission(row pgx.Row) (*domain.Permission, error) {
	p := &domain.Permission{}
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Resource, &p.Action, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("scan permission", err)
	}
	return p, nil
}
