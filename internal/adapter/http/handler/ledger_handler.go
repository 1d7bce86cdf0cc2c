package handler

import (
	"balance-platform/internal/adapter/http/dto"
	"balance-platform/internal/adapter/http/middleware"
	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/pkg/apperror"
	"balance-platform/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LedgerHandler handles balance transfer, refund and status endpoints.
type LedgerHandler struct {
	ledgerSvc ports.LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerSvc ports.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc}
}

// authedUserID pulls the authenticated user from the request context.
func authedUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.CtxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// Transfer handles POST /api/v1/transfers. The authenticated user is
// both the actor and the sender.
func (h *LedgerHandler) Transfer(c *gin.Context) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid recipient_id"))
		return
	}

	txn, err := h.ledgerSvc.Transfer(c.Request.Context(), ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    actorID,
		RecipientID: recipientID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Request:     middleware.RequestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewTransactionResponse(txn))
}

// Refund handles POST /api/v1/transfers/refund.
func (h *LedgerHandler) Refund(c *gin.Context) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction_id"))
		return
	}

	txn, err := h.ledgerSvc.Refund(c.Request.Context(), ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: txID,
		Reason:        req.Reason,
		Request:       middleware.RequestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewTransactionResponse(txn))
}

// UpdateStatus handles PATCH /api/v1/transactions/:id/status.
func (h *LedgerHandler) UpdateStatus(c *gin.Context) {
	actorID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	txn, err := h.ledgerSvc.UpdateStatus(c.Request.Context(), ports.UpdateStatusRequest{
		ActorID:       actorID,
		TransactionID: txID,
		NewStatus:     domain.TransactionStatus(req.Status),
		Request:       middleware.RequestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewTransactionResponse(txn))
}
