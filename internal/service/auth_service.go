package service

import (
	"context"
	"fmt"
	"time"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRoleSlug is assigned to every newly registered user.
const DefaultRoleSlug = "user"

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	userRepo   ports.UserRepository
	rbacRepo   ports.RBACRepository
	hashSvc    ports.HashService
	tokenSvc   ports.TokenService
	recorder   ports.AuditRecorder
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	userRepo ports.UserRepository,
	rbacRepo ports.RBACRepository,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
	recorder ports.AuditRecorder,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		userRepo:   userRepo,
		rbacRepo:   rbacRepo,
		hashSvc:    hashSvc,
		tokenSvc:   tokenSvc,
		recorder:   recorder,
		transactor: transactor,
		log:        log,
	}
}

// Register creates a new user with a zero balance and the default role.
func (s *AuthServiceImpl) Register(ctx context.Context, req ports.RegisterRequest) (*domain.User, error) {
	existing, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check email: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrEmailExists()
	}

	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	defaultRole, err := s.rbacRepo.GetRoleBySlug(ctx, DefaultRoleSlug)
	if err != nil {
		return nil, storageErr(fmt.Errorf("load default role: %w", err))
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: passwordHash,
		Balance:      0,
		Currency:     currency,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if defaultRole != nil {
		user.PrimaryRoleID = &defaultRole.ID
	}

	// The user row, role assignment and audit entry commit as one unit.
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.userRepo.Create(ctx, dbTx, user); err != nil {
		return nil, storageErr(fmt.Errorf("create user: %w", err))
	}

	if defaultRole != nil {
		if err := s.rbacRepo.AssignRoleToUser(ctx, dbTx, user.ID, defaultRole.ID); err != nil {
			return nil, storageErr(fmt.Errorf("assign default role: %w", err))
		}
	}

	err = s.recorder.Record(ctx, dbTx, ports.AuditEntry{
		ActorID:    &user.ID,
		Action:     domain.AuditActionRegister,
		EntityType: "user",
		EntityID:   user.ID.String(),
		New:        map[string]string{"email": user.Email, "currency": user.Currency},
		Request:    req.Request,
	})
	if err != nil {
		return nil, storageErr(fmt.Errorf("record audit: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, storageErr(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("user registered")
	return user, nil
}

// Login validates credentials and returns a JWT token.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, user.PasswordHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if !user.IsActive {
		return "", time.Time{}, apperror.ErrAccountDeactivated()
	}

	token, expiry, err := s.tokenSvc.Generate(user.ID)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	// Login audit is best-effort: a recorder failure should not block
	// an otherwise valid login.
	if dbTx, err := s.transactor.Begin(ctx); err == nil {
		err = s.recorder.Record(ctx, dbTx, ports.AuditEntry{
			ActorID:    &user.ID,
			Action:     domain.AuditActionLogin,
			EntityType: "user",
			EntityID:   user.ID.String(),
		})
		if err == nil {
			err = dbTx.Commit(ctx)
		} else {
			dbTx.Rollback(ctx) //nolint:errcheck
		}
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to record login audit")
		}
	}

	return token, expiry, nil
}
