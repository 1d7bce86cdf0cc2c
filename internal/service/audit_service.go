package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// AuditServiceImpl implements ports.AuditRecorder. Entries are written
// through the caller's database transaction so they commit or roll back
// together with the mutation they document.
type AuditServiceImpl struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new AuditServiceImpl.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{repo: repo, log: log}
}

// Record marshals the entry snapshots and appends the audit row inside tx.
// A failure here must abort the caller's transaction.
func (s *AuditServiceImpl) Record(ctx context.Context, tx pgx.Tx, entry ports.AuditEntry) error {
	oldJSON, err := marshalSnapshot(entry.Old)
	if err != nil {
		return fmt.Errorf("marshal old snapshot: %w", err)
	}
	newJSON, err := marshalSnapshot(entry.New)
	if err != nil {
		return fmt.Errorf("marshal new snapshot: %w", err)
	}

	row := &domain.AuditLog{
		ID:         uuid.New(),
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		OldValues:  oldJSON,
		NewValues:  newJSON,
		IPAddress:  entry.Request.IPAddress,
		UserAgent:  entry.Request.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, tx, row); err != nil {
		return fmt.Errorf("persist audit entry: %w", err)
	}

	s.log.Debug().
		Str("action", string(entry.Action)).
		Str("entity_type", entry.EntityType).
		Str("entity_id", entry.EntityID).
		Msg("audit entry recorded")

	return nil
}

// List reads back the audit trail with filters and pagination.
func (s *AuditServiceImpl) List(ctx context.Context, params ports.AuditListParams) ([]domain.AuditLog, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 50
	}
	return s.repo.List(ctx, params)
}

func marshalSnapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
