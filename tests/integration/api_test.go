package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"balance-platform/config"
	httpHandler "balance-platform/internal/adapter/http/handler"
	redisStorage "balance-platform/internal/adapter/storage/redis"
	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/internal/service"
	"balance-platform/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp wires the full stack: real HTTP layer, middleware, services,
// Redis stores backed by miniredis, and the journaled in-memory storage.
type testApp struct {
	server *httptest.Server
	store  *memStore
	redis  *miniredis.Miniredis
	rdb    *goredis.Client
}

var emailSeq atomic.Int64

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, emailSeq.Add(1))
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New("error", false)

	store := newMemStore()
	userRepo := &memUserRepo{store: store}
	txRepo := &memTransactionRepo{store: store}
	rbacRepo := &memRBACRepo{store: store}
	auditRepo := &memAuditRepo{store: store}
	transactor := &memTransactor{store: store}

	permCache := redisStorage.NewPermissionCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService("integration-test-secret-0123456789", time.Hour, "balance-platform")
	auditSvc := service.NewAuditService(auditRepo, log)
	guard := service.NewAccessService(rbacRepo, permCache, log)
	notifier := service.NewNotificationService(config.NotifierConfig{}, &http.Client{}, log)

	authSvc := service.NewAuthService(userRepo, rbacRepo, hashSvc, tokenSvc, auditSvc, transactor, log)
	ledgerSvc := service.NewLedgerService(userRepo, txRepo, guard, auditSvc, notifier, transactor, log)
	rbacSvc := service.NewRBACService(rbacRepo, userRepo, guard, auditSvc, permCache, transactor, log)
	reportingSvc := service.NewReportingService(txRepo, userRepo, auditSvc, guard)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		LedgerSvc:      ledgerSvc,
		ReportingSvc:   reportingSvc,
		RBACSvc:        rbacSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		Logger:         log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	app := &testApp{server: srv, store: store, redis: mr, rdb: rdb}
	app.seedRBAC(t)
	return app
}

// seedRBAC installs the capability permissions and the default user role
// (transfer + view reports), mirroring the seed migration.
func (a *testApp) seedRBAC(t *testing.T) {
	t.Helper()
	now := time.Now().UTC()

	caps := map[string]string{
		domain.CapTransferFunds:      "transactions.transfer",
		domain.CapRefundTransactions: "transactions.refund",
		domain.CapUpdateTransactions: "transactions.update",
		domain.CapManageRoles:        "rbac.roles.manage",
		domain.CapManagePermissions:  "rbac.permissions.manage",
		domain.CapViewReports:        "reports.view",
		domain.CapViewAuditLogs:      "audit_logs.view",
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	permIDs := make(map[string]uuid.UUID)
	for name, slug := range caps {
		id := uuid.New()
		permIDs[name] = id
		a.store.perms[id] = &domain.Permission{ID: id, Name: name, Slug: slug, CreatedAt: now}
	}

	userRole := &domain.Role{
		ID: uuid.New(), Name: "User", Slug: "user", Level: 10,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	a.store.roles[userRole.ID] = userRole
	a.store.rolePerms[userRole.ID] = map[uuid.UUID]bool{
		permIDs[domain.CapTransferFunds]: true,
		permIDs[domain.CapViewReports]:   true,
	}
}

// grantCapability gives a user a direct permission grant and drops any
// cached permission set so the next authorize sees it.
func (a *testApp) grantCapability(t *testing.T, userID uuid.UUID, capability string) {
	t.Helper()
	a.store.mu.Lock()
	var permID uuid.UUID
	found := false
	for id, p := range a.store.perms {
		if p.Name == capability {
			permID, found = id, true
			break
		}
	}
	require.True(t, found, "capability %q not seeded", capability)
	set, ok := a.store.userPerms[userID]
	if !ok {
		set = make(map[uuid.UUID]bool)
		a.store.userPerms[userID] = set
	}
	set[permID] = true
	a.store.mu.Unlock()

	a.redis.FlushAll()
}

func (a *testApp) setBalance(t *testing.T, userID uuid.UUID, balance int64) {
	t.Helper()
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	u, ok := a.store.users[userID]
	require.True(t, ok, "user %s not found", userID)
	u.Balance = balance
}

func (a *testApp) balanceOf(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	u, ok := a.store.users[userID]
	require.True(t, ok, "user %s not found", userID)
	return u.Balance
}

// envelope matches both success and error response shapes.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
}

func (a *testApp) doJSON(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	return resp.StatusCode, env
}

// registerAndLogin creates a user through the public API and returns its
// id plus a bearer token.
func (a *testApp) registerAndLogin(t *testing.T, email string) (uuid.UUID, string) {
	t.Helper()

	status, env := a.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":    email,
		"password": "correct-horse-battery",
		"name":     "Test User",
	})
	require.Equal(t, http.StatusCreated, status, "register failed: %s", env.Message)

	var reg struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	userID, err := uuid.Parse(reg.UserID)
	require.NoError(t, err)

	status, env = a.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusOK, status, "login failed: %s", env.Message)

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(t, login.Token)
	return userID, login.Token
}

func TestRegisterAndLogin(t *testing.T) {
	app := newTestApp(t)

	email := uniqueEmail("alice")
	userID, token := app.registerAndLogin(t, email)
	assert.NotEqual(t, uuid.Nil, userID)
	assert.NotEmpty(t, token)

	// The persisted row carries the default role, both as the primary
	// role column and as a user_has_roles assignment.
	app.store.mu.Lock()
	stored := app.store.users[userID]
	require.NotNil(t, stored)
	require.NotNil(t, stored.PrimaryRoleID, "persisted user row should carry the default primary role")
	defaultRole := app.store.roles[*stored.PrimaryRoleID]
	require.NotNil(t, defaultRole)
	assert.Equal(t, "user", defaultRole.Slug)
	assert.True(t, app.store.userRoles[userID][defaultRole.ID])
	app.store.mu.Unlock()

	// Duplicate registration is rejected.
	status, env := app.doJSON(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":    email,
		"password": "correct-horse-battery",
		"name":     "Test User",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AUTH_002", env.ErrorCode)

	// Wrong password is rejected without leaking which part failed.
	status, env = app.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": "wrong-password-here",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "AUTH_001", env.ErrorCode)
}

func TestTransferFlow(t *testing.T) {
	app := newTestApp(t)

	senderID, senderToken := app.registerAndLogin(t, uniqueEmail("sender"))
	recipientID, recipientToken := app.registerAndLogin(t, uniqueEmail("recipient"))
	app.setBalance(t, senderID, 50_000)

	status, env := app.doJSON(t, http.MethodPost, "/api/v1/transfers", senderToken, map[string]any{
		"recipient_id": recipientID.String(),
		"amount":       12_500,
	})
	require.Equal(t, http.StatusCreated, status, "transfer failed: %s", env.Message)

	var txn struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
		Type   string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, int64(12_500), txn.Amount)
	assert.Equal(t, "completed", txn.Status)
	assert.Equal(t, "transfer", txn.Type)

	assert.Equal(t, int64(37_500), app.balanceOf(t, senderID))
	assert.Equal(t, int64(12_500), app.balanceOf(t, recipientID))

	// Both parties see the transaction in their history.
	for _, token := range []string{senderToken, recipientToken} {
		status, env = app.doJSON(t, http.MethodGet, "/api/v1/transactions", token, nil)
		require.Equal(t, http.StatusOK, status)
		var list struct {
			Items []json.RawMessage `json:"items"`
			Total int64             `json:"total"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &list))
		assert.Equal(t, int64(1), list.Total)
	}

	// The mutation left an audit entry.
	app.store.mu.Lock()
	var transferAudits int
	for _, e := range app.store.audits {
		if e.Action == domain.AuditActionTransfer {
			transferAudits++
		}
	}
	app.store.mu.Unlock()
	assert.Equal(t, 1, transferAudits)
}

func TestTransferRejections(t *testing.T) {
	app := newTestApp(t)

	senderID, senderToken := app.registerAndLogin(t, uniqueEmail("sender"))
	recipientID, _ := app.registerAndLogin(t, uniqueEmail("recipient"))
	app.setBalance(t, senderID, 1_000)

	cases := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantCode   string
	}{
		{
			name: "insufficient funds",
			body: map[string]any{
				"recipient_id": recipientID.String(),
				"amount":       1_001,
			},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "LED_001",
		},
		{
			name: "self transfer",
			body: map[string]any{
				"recipient_id": senderID.String(),
				"amount":       100,
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "LED_007",
		},
		{
			name: "unknown recipient",
			body: map[string]any{
				"recipient_id": uuid.NewString(),
				"amount":       100,
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "LED_008",
		},
		{
			name: "currency mismatch",
			body: map[string]any{
				"recipient_id": recipientID.String(),
				"amount":       100,
				"currency":     "EUR",
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "LED_006",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := app.doJSON(t, http.MethodPost, "/api/v1/transfers", senderToken, tc.body)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, env.ErrorCode)
		})
	}

	// Nothing moved.
	assert.Equal(t, int64(1_000), app.balanceOf(t, senderID))
	assert.Equal(t, int64(0), app.balanceOf(t, recipientID))
}

func TestTransferExactBalance(t *testing.T) {
	app := newTestApp(t)

	senderID, senderToken := app.registerAndLogin(t, uniqueEmail("sender"))
	recipientID, _ := app.registerAndLogin(t, uniqueEmail("recipient"))
	app.setBalance(t, senderID, 777)

	status, env := app.doJSON(t, http.MethodPost, "/api/v1/transfers", senderToken, map[string]any{
		"recipient_id": recipientID.String(),
		"amount":       777,
	})
	require.Equal(t, http.StatusCreated, status, "transfer failed: %s", env.Message)
	assert.Equal(t, int64(0), app.balanceOf(t, senderID))
	assert.Equal(t, int64(777), app.balanceOf(t, recipientID))
}

func TestRefundFlow(t *testing.T) {
	app := newTestApp(t)

	senderID, senderToken := app.registerAndLogin(t, uniqueEmail("sender"))
	recipientID, _ := app.registerAndLogin(t, uniqueEmail("recipient"))
	app.setBalance(t, senderID, 10_000)

	status, env := app.doJSON(t, http.MethodPost, "/api/v1/transfers", senderToken, map[string]any{
		"recipient_id": recipientID.String(),
		"amount":       4_000,
	})
	require.Equal(t, http.StatusCreated, status)

	var txn struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &txn))

	// A plain user cannot refund.
	status, env = app.doJSON(t, http.MethodPost, "/api/v1/transfers/refund", senderToken, map[string]any{
		"transaction_id": txn.ID,
		"reason":         "goods not delivered",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACL_001", env.ErrorCode)

	app.grantCapability(t, senderID, domain.CapRefundTransactions)

	status, env = app.doJSON(t, http.MethodPost, "/api/v1/transfers/refund", senderToken, map[string]any{
		"transaction_id": txn.ID,
		"reason":         "goods not delivered",
	})
	require.Equal(t, http.StatusCreated, status, "refund failed: %s", env.Message)

	var refund struct {
		Type                  string  `json:"type"`
		OriginalTransactionID *string `json:"original_transaction_id"`
		SenderID              string  `json:"sender_id"`
		RecipientID           string  `json:"recipient_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &refund))
	assert.Equal(t, "refund", refund.Type)
	require.NotNil(t, refund.OriginalTransactionID)
	assert.Equal(t, txn.ID, *refund.OriginalTransactionID)
	// The refund row reverses direction.
	assert.Equal(t, recipientID.String(), refund.SenderID)
	assert.Equal(t, senderID.String(), refund.RecipientID)

	assert.Equal(t, int64(10_000), app.balanceOf(t, senderID))
	assert.Equal(t, int64(0), app.balanceOf(t, recipientID))

	// Second refund of the same transaction is rejected.
	status, env = app.doJSON(t, http.MethodPost, "/api/v1/transfers/refund", senderToken, map[string]any{
		"transaction_id": txn.ID,
		"reason":         "trying again",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "LED_002", env.ErrorCode)
}

func TestUpdateStatusFlow(t *testing.T) {
	app := newTestApp(t)

	actorID, token := app.registerAndLogin(t, uniqueEmail("operator"))
	otherID, _ := app.registerAndLogin(t, uniqueEmail("counterparty"))
	app.grantCapability(t, actorID, domain.CapUpdateTransactions)

	// Seed a pending transaction directly; pending rows never move funds.
	txnID := uuid.New()
	now := time.Now().UTC()
	app.store.mu.Lock()
	app.store.txns[txnID] = &domain.Transaction{
		ID: txnID, SenderID: actorID, RecipientID: otherID,
		Amount: 500, Currency: "USD",
		Type: domain.TransactionTypeTransfer, Status: domain.TransactionStatusPending,
		CreatedAt: now,
	}
	app.store.mu.Unlock()

	status, env := app.doJSON(t, http.MethodPatch, "/api/v1/transactions/"+txnID.String()+"/status", token, map[string]any{
		"status": "completed",
	})
	require.Equal(t, http.StatusOK, status, "update failed: %s", env.Message)

	var updated struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "completed", updated.Status)

	// Terminal rows are immutable.
	status, env = app.doJSON(t, http.MethodPatch, "/api/v1/transactions/"+txnID.String()+"/status", token, map[string]any{
		"status": "failed",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "LED_004", env.ErrorCode)
}

func TestAuditLogAccess(t *testing.T) {
	app := newTestApp(t)

	viewerID, viewerToken := app.registerAndLogin(t, uniqueEmail("viewer"))
	recipientID, _ := app.registerAndLogin(t, uniqueEmail("recipient"))
	app.setBalance(t, viewerID, 5_000)

	status, _ := app.doJSON(t, http.MethodPost, "/api/v1/transfers", viewerToken, map[string]any{
		"recipient_id": recipientID.String(),
		"amount":       1_000,
	})
	require.Equal(t, http.StatusCreated, status)

	// Without the capability the trail is off limits.
	status, env := app.doJSON(t, http.MethodGet, "/api/v1/audit-logs", viewerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACL_001", env.ErrorCode)

	app.grantCapability(t, viewerID, domain.CapViewAuditLogs)

	status, env = app.doJSON(t, http.MethodGet, "/api/v1/audit-logs", viewerToken, nil)
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Items []struct {
			Action string `json:"action"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.GreaterOrEqual(t, list.Total, int64(1))

	var sawTransfer bool
	for _, item := range list.Items {
		if item.Action == string(domain.AuditActionTransfer) {
			sawTransfer = true
		}
	}
	assert.True(t, sawTransfer, "expected a transfer audit entry")
}

func TestBalanceAndStats(t *testing.T) {
	app := newTestApp(t)

	senderID, senderToken := app.registerAndLogin(t, uniqueEmail("sender"))
	recipientID, recipientToken := app.registerAndLogin(t, uniqueEmail("recipient"))
	app.setBalance(t, senderID, 20_000)

	for _, amount := range []int64{3_000, 2_000} {
		status, env := app.doJSON(t, http.MethodPost, "/api/v1/transfers", senderToken, map[string]any{
			"recipient_id": recipientID.String(),
			"amount":       amount,
		})
		require.Equal(t, http.StatusCreated, status, "transfer failed: %s", env.Message)
	}

	status, env := app.doJSON(t, http.MethodGet, "/api/v1/balance", recipientToken, nil)
	require.Equal(t, http.StatusOK, status)
	var bal struct {
		Balance  int64  `json:"balance"`
		Currency string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, int64(5_000), bal.Balance)
	assert.Equal(t, "USD", bal.Currency)

	status, env = app.doJSON(t, http.MethodGet, "/api/v1/dashboard/stats?period=all", senderToken, nil)
	require.Equal(t, http.StatusOK, status)
	var stats struct {
		TotalTransactions int64 `json:"total_transactions"`
		Completed         int64 `json:"completed"`
		TotalSent         int64 `json:"total_sent"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(2), stats.TotalTransactions)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(5_000), stats.TotalSent)
}

func TestRBACManagementFlow(t *testing.T) {
	app := newTestApp(t)

	adminID, adminToken := app.registerAndLogin(t, uniqueEmail("admin"))
	app.grantCapability(t, adminID, domain.CapManageRoles)
	app.grantCapability(t, adminID, domain.CapManagePermissions)

	// Create a role.
	status, env := app.doJSON(t, http.MethodPost, "/api/v1/rbac/roles", adminToken, map[string]any{
		"name":  "Auditor",
		"slug":  "auditor",
		"level": 30,
	})
	require.Equal(t, http.StatusCreated, status, "create role failed: %s", env.Message)
	var role struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &role))

	// Duplicate slug is rejected.
	status, env = app.doJSON(t, http.MethodPost, "/api/v1/rbac/roles", adminToken, map[string]any{
		"name":  "Auditor Two",
		"slug":  "auditor",
		"level": 30,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "RBAC_001", env.ErrorCode)

	// Create a permission and grant it to the new role.
	status, env = app.doJSON(t, http.MethodPost, "/api/v1/rbac/permissions", adminToken, map[string]any{
		"name": "close books",
		"slug": "ledger.close",
	})
	require.Equal(t, http.StatusCreated, status, "create permission failed: %s", env.Message)
	var perm struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &perm))

	status, env = app.doJSON(t, http.MethodPost, "/api/v1/rbac/grants", adminToken, map[string]any{
		"permission_id": perm.ID,
		"role_id":       role.ID,
	})
	require.Equal(t, http.StatusOK, status, "grant failed: %s", env.Message)

	// Assign the role to a user; the new capability becomes effective.
	memberID, memberToken := app.registerAndLogin(t, uniqueEmail("member"))
	status, env = app.doJSON(t, http.MethodPost, "/api/v1/rbac/assignments", adminToken, map[string]any{
		"user_id": memberID.String(),
		"role_id": role.ID,
	})
	require.Equal(t, http.StatusOK, status, "assign failed: %s", env.Message)

	// Deactivating the role withdraws its grants.
	status, env = app.doJSON(t, http.MethodPatch, "/api/v1/rbac/roles/"+role.ID+"/active", adminToken, map[string]any{
		"active": false,
	})
	require.Equal(t, http.StatusOK, status, "deactivate failed: %s", env.Message)
	app.redis.FlushAll()

	// The member still authenticates but holds nothing from the dead role.
	status, _ = app.doJSON(t, http.MethodGet, "/api/v1/balance", memberToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.server.Client().Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
