package integration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memStore is a concurrency-faithful in-memory stand-in for PostgreSQL.
// Row locks block the way SELECT ... FOR UPDATE does, and writes made
// through a transaction are journaled so Rollback restores prior state.
// This lets the concurrency tests exercise the real locking protocol in
// the service layer without a database server.
type memStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*domain.User
	txns      map[uuid.UUID]*domain.Transaction
	roles     map[uuid.UUID]*domain.Role
	perms     map[uuid.UUID]*domain.Permission
	rolePerms map[uuid.UUID]map[uuid.UUID]bool
	userRoles map[uuid.UUID]map[uuid.UUID]bool
	userPerms map[uuid.UUID]map[uuid.UUID]bool
	audits    []domain.AuditLog
	rowLocks  map[uuid.UUID]*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[uuid.UUID]*domain.User),
		txns:      make(map[uuid.UUID]*domain.Transaction),
		roles:     make(map[uuid.UUID]*domain.Role),
		perms:     make(map[uuid.UUID]*domain.Permission),
		rolePerms: make(map[uuid.UUID]map[uuid.UUID]bool),
		userRoles: make(map[uuid.UUID]map[uuid.UUID]bool),
		userPerms: make(map[uuid.UUID]map[uuid.UUID]bool),
		rowLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// memTx implements the subset of pgx.Tx the repositories use. Commit
// releases row locks and keeps the writes; Rollback undoes the journal
// first. Rollback after Commit is a no-op, matching the deferred
// rollback pattern in the services.
type memTx struct {
	pgx.Tx
	store *memStore
	undo  []func()
	locks []*sync.Mutex
	held  map[uuid.UUID]bool
	done  bool
}

func (t *memTx) Commit(_ context.Context) error {
	t.finish(false)
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.finish(true)
	return nil
}

func (t *memTx) finish(rollback bool) {
	if t.done {
		return
	}
	t.done = true
	if rollback {
		t.store.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		t.store.mu.Unlock()
	}
	t.undo = nil
	for i := len(t.locks) - 1; i >= 0; i-- {
		t.locks[i].Unlock()
	}
	t.locks = nil
}

// lockRow blocks until the row lock is held, like FOR UPDATE. Re-locking
// a row already held by this transaction is a no-op.
func (t *memTx) lockRow(id uuid.UUID) {
	if t.held[id] {
		return
	}
	t.store.mu.Lock()
	l, ok := t.store.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		t.store.rowLocks[id] = l
	}
	t.store.mu.Unlock()

	l.Lock()
	t.held[id] = true
	t.locks = append(t.locks, l)
}

func (t *memTx) journal(undo func()) {
	t.undo = append(t.undo, undo)
}

func asMemTx(tx pgx.Tx) *memTx {
	return tx.(*memTx)
}

// memTransactor implements ports.DBTransactor.
type memTransactor struct {
	store *memStore
}

func (m *memTransactor) Begin(_ context.Context) (pgx.Tx, error) {
	return &memTx{store: m.store, held: make(map[uuid.UUID]bool)}, nil
}

// --- users ---

type memUserRepo struct {
	store *memStore
}

func copyUser(u *domain.User) *domain.User {
	cp := *u
	if u.PrimaryRoleID != nil {
		id := *u.PrimaryRoleID
		cp.PrimaryRoleID = &id
	}
	return &cp
}

func (r *memUserRepo) Create(_ context.Context, tx pgx.Tx, u *domain.User) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.users {
		if existing.Email == u.Email {
			return fmt.Errorf("duplicate email: %s", u.Email)
		}
	}
	id := u.ID
	mt.journal(func() { delete(r.store.users, id) })
	r.store.users[id] = copyUser(u)
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	mt := asMemTx(tx)
	mt.lockRow(id)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (r *memUserRepo) UpdateBalance(_ context.Context, tx pgx.Tx, userID uuid.UUID, newBalance int64) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	old := u.Balance
	mt.journal(func() { u.Balance = old })
	u.Balance = newBalance
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memUserRepo) SetPrimaryRole(_ context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	old := u.PrimaryRoleID
	mt.journal(func() { u.PrimaryRoleID = old })
	id := roleID
	u.PrimaryRoleID = &id
	return nil
}

func (r *memUserRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	u.IsActive = active
	return nil
}

// --- transactions ---

type memTransactionRepo struct {
	store *memStore
}

func copyTxn(t *domain.Transaction) *domain.Transaction {
	cp := *t
	if t.OriginalTransactionID != nil {
		id := *t.OriginalTransactionID
		cp.OriginalTransactionID = &id
	}
	return &cp
}

func (r *memTransactionRepo) Create(_ context.Context, tx pgx.Tx, t *domain.Transaction) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id := t.ID
	mt.journal(func() { delete(r.store.txns, id) })
	r.store.txns[id] = copyTxn(t)
	return nil
}

func (r *memTransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.txns[id]
	if !ok {
		return nil, nil
	}
	return copyTxn(t), nil
}

func (r *memTransactionRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	mt := asMemTx(tx)
	mt.lockRow(id)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.txns[id]
	if !ok {
		return nil, nil
	}
	return copyTxn(t), nil
}

func (r *memTransactionRepo) UpdateStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.txns[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	oldStatus, oldProcessed := t.Status, t.ProcessedAt
	mt.journal(func() { t.Status, t.ProcessedAt = oldStatus, oldProcessed })
	now := time.Now().UTC()
	t.Status = status
	t.ProcessedAt = &now
	return nil
}

func (r *memTransactionRepo) MarkRefunded(_ context.Context, tx pgx.Tx, id uuid.UUID) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.txns[id]
	if !ok || t.IsRefunded {
		return fmt.Errorf("transaction already refunded or not found: %s", id)
	}
	mt.journal(func() { t.IsRefunded = false })
	t.IsRefunded = true
	return nil
}

func (r *memTransactionRepo) List(_ context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var matched []domain.Transaction
	for _, t := range r.store.txns {
		if t.SenderID != params.UserID && t.RecipientID != params.UserID {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		if params.From != nil && t.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && t.CreatedAt.Unix() > *params.To {
			continue
		}
		matched = append(matched, *copyTxn(t))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *memTransactionRepo) GetStats(_ context.Context, userID uuid.UUID, periodStart *int64) (*ports.TransactionStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stats := &ports.TransactionStats{}
	for _, t := range r.store.txns {
		if t.SenderID != userID && t.RecipientID != userID {
			continue
		}
		if periodStart != nil && t.CreatedAt.Unix() < *periodStart {
			continue
		}
		stats.TotalTransactions++
		switch t.Status {
		case domain.TransactionStatusCompleted:
			stats.Completed++
		case domain.TransactionStatusFailed:
			stats.Failed++
		case domain.TransactionStatusCancelled:
			stats.Cancelled++
		}
		if t.Status != domain.TransactionStatusCompleted {
			continue
		}
		if t.Type == domain.TransactionTypeRefund {
			stats.TotalRefunded += t.Amount
			continue
		}
		if t.SenderID == userID {
			stats.TotalSent += t.Amount
		}
		if t.RecipientID == userID {
			stats.TotalReceived += t.Amount
		}
	}
	return stats, nil
}

// --- roles and permissions ---

type memRBACRepo struct {
	store *memStore
}

func (r *memRBACRepo) CreateRole(_ context.Context, tx pgx.Tx, role *domain.Role) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.roles {
		if existing.Slug == role.Slug {
			return fmt.Errorf("duplicate role slug: %s", role.Slug)
		}
	}
	id := role.ID
	mt.journal(func() { delete(r.store.roles, id) })
	cp := *role
	r.store.roles[id] = &cp
	return nil
}

func (r *memRBACRepo) GetRoleByID(_ context.Context, id uuid.UUID) (*domain.Role, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	role, ok := r.store.roles[id]
	if !ok {
		return nil, nil
	}
	cp := *role
	return &cp, nil
}

func (r *memRBACRepo) GetRoleBySlug(_ context.Context, slug string) (*domain.Role, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, role := range r.store.roles {
		if role.Slug == slug {
			cp := *role
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRBACRepo) ListRoles(_ context.Context) ([]domain.Role, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var roles []domain.Role
	for _, role := range r.store.roles {
		roles = append(roles, *role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

func (r *memRBACRepo) SetRoleActive(_ context.Context, tx pgx.Tx, roleID uuid.UUID, active bool) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	role, ok := r.store.roles[roleID]
	if !ok {
		return fmt.Errorf("role not found: %s", roleID)
	}
	old := role.IsActive
	mt.journal(func() { role.IsActive = old })
	role.IsActive = active
	return nil
}

func (r *memRBACRepo) CreatePermission(_ context.Context, tx pgx.Tx, p *domain.Permission) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.perms {
		if existing.Slug == p.Slug || existing.Name == p.Name {
			return fmt.Errorf("duplicate permission: %s", p.Slug)
		}
	}
	id := p.ID
	mt.journal(func() { delete(r.store.perms, id) })
	cp := *p
	r.store.perms[id] = &cp
	return nil
}

func (r *memRBACRepo) GetPermissionByID(_ context.Context, id uuid.UUID) (*domain.Permission, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.perms[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memRBACRepo) GetPermissionByName(_ context.Context, name string) (*domain.Permission, error) {
	return r.findPermission(func(p *domain.Permission) bool { return p.Name == name })
}

func (r *memRBACRepo) GetPermissionBySlug(_ context.Context, slug string) (*domain.Permission, error) {
	return r.findPermission(func(p *domain.Permission) bool { return p.Slug == slug })
}

func (r *memRBACRepo) findPermission(match func(*domain.Permission) bool) (*domain.Permission, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range r.store.perms {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRBACRepo) ListPermissions(_ context.Context) ([]domain.Permission, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var perms []domain.Permission
	for _, p := range r.store.perms {
		perms = append(perms, *p)
	}
	sort.Slice(perms, func(i, j int) bool {
		return strings.Compare(perms[i].Name, perms[j].Name) < 0
	})
	return perms, nil
}

func (r *memRBACRepo) GrantPermissionToRole(_ context.Context, tx pgx.Tx, roleID, permissionID uuid.UUID) error {
	return r.link(tx, r.store.rolePerms, roleID, permissionID, true)
}

func (r *memRBACRepo) RevokePermissionFromRole(_ context.Context, tx pgx.Tx, roleID, permissionID uuid.UUID) error {
	return r.link(tx, r.store.rolePerms, roleID, permissionID, false)
}

func (r *memRBACRepo) GrantPermissionToUser(_ context.Context, tx pgx.Tx, userID, permissionID uuid.UUID) error {
	return r.link(tx, r.store.userPerms, userID, permissionID, true)
}

func (r *memRBACRepo) RevokePermissionFromUser(_ context.Context, tx pgx.Tx, userID, permissionID uuid.UUID) error {
	return r.link(tx, r.store.userPerms, userID, permissionID, false)
}

func (r *memRBACRepo) AssignRoleToUser(_ context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error {
	return r.link(tx, r.store.userRoles, userID, roleID, true)
}

func (r *memRBACRepo) RemoveRoleFromUser(_ context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error {
	return r.link(tx, r.store.userRoles, userID, roleID, false)
}

func (r *memRBACRepo) link(tx pgx.Tx, table map[uuid.UUID]map[uuid.UUID]bool, owner, target uuid.UUID, add bool) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	set, ok := table[owner]
	if !ok {
		set = make(map[uuid.UUID]bool)
		table[owner] = set
	}
	had := set[target]
	mt.journal(func() {
		if had {
			set[target] = true
		} else {
			delete(set, target)
		}
	})
	if add {
		set[target] = true
	} else {
		delete(set, target)
	}
	return nil
}

func (r *memRBACRepo) UserRoles(_ context.Context, userID uuid.UUID) ([]domain.Role, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var roles []domain.Role
	for roleID := range r.store.userRoles[userID] {
		if role, ok := r.store.roles[roleID]; ok {
			roles = append(roles, *role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Level > roles[j].Level })
	return roles, nil
}

func (r *memRBACRepo) UserPermissionNames(_ context.Context, userID uuid.UUID) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	seen := make(map[string]bool)
	for permID := range r.store.userPerms[userID] {
		if p, ok := r.store.perms[permID]; ok {
			seen[p.Name] = true
		}
	}
	for roleID := range r.store.userRoles[userID] {
		role, ok := r.store.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		for permID := range r.store.rolePerms[roleID] {
			if p, ok := r.store.perms[permID]; ok {
				seen[p.Name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- audit trail ---

type memAuditRepo struct {
	store *memStore
}

func (r *memAuditRepo) Create(_ context.Context, tx pgx.Tx, entry *domain.AuditLog) error {
	mt := asMemTx(tx)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id := entry.ID
	mt.journal(func() {
		for i := range r.store.audits {
			if r.store.audits[i].ID == id {
				r.store.audits = append(r.store.audits[:i], r.store.audits[i+1:]...)
				return
			}
		}
	})
	r.store.audits = append(r.store.audits, *entry)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, params ports.AuditListParams) ([]domain.AuditLog, int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var matched []domain.AuditLog
	for _, e := range r.store.audits {
		if params.ActorID != nil && (e.ActorID == nil || *e.ActorID != *params.ActorID) {
			continue
		}
		if params.Action != nil && e.Action != *params.Action {
			continue
		}
		if params.EntityType != nil && e.EntityType != *params.EntityType {
			continue
		}
		if params.From != nil && e.CreatedAt.Before(*params.From) {
			continue
		}
		if params.To != nil && e.CreatedAt.After(*params.To) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}
