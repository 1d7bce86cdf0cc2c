package handler

import (
	"math"
	"strconv"
	"time"

	"balance-platform/internal/adapter/http/dto"
	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/pkg/apperror"
	"balance-platform/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DashboardHandler handles balance, stats, transaction list and audit
// trail endpoints.
type DashboardHandler struct {
	reportingSvc ports.ReportingService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(reportingSvc ports.ReportingService) *DashboardHandler {
	return &DashboardHandler{reportingSvc: reportingSvc}
}

// GetBalance handles GET /api/v1/balance.
func (h *DashboardHandler) GetBalance(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	balance, currency, err := h.reportingSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		Balance:  balance,
		Currency: currency,
	})
}

// GetStats handles GET /api/v1/dashboard/stats.
func (h *DashboardHandler) GetStats(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	period := c.DefaultQuery("period", "all")
	stats, err := h.reportingSvc.GetStats(c.Request.Context(), userID, period)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		TotalTransactions: stats.TotalTransactions,
		Completed:         stats.Completed,
		Failed:            stats.Failed,
		Cancelled:         stats.Cancelled,
		TotalSent:         stats.TotalSent,
		TotalReceived:     stats.TotalReceived,
		TotalRefunded:     stats.TotalRefunded,
	})
}

// ListTransactions handles GET /api/v1/transactions.
func (h *DashboardHandler) ListTransactions(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page, pageSize := pagination(c, 20)

	params := ports.TransactionListParams{
		UserID:   userID,
		Page:     page,
		PageSize: pageSize,
	}

	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		params.Status = &status
	}
	if t := c.Query("type"); t != "" {
		txType := domain.TransactionType(t)
		params.Type = &txType
	}
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			params.From = &v
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			params.To = &v
		}
	}

	txns, total, err := h.reportingSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, dto.NewTransactionResponse(&txns[i]))
	}

	response.OK(c, dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

// ListAuditLogs handles GET /api/v1/audit-logs.
func (h *DashboardHandler) ListAuditLogs(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page, pageSize := pagination(c, 50)

	params := ports.AuditListParams{
		Page:     page,
		PageSize: pageSize,
	}

	if a := c.Query("actor_id"); a != "" {
		if id, err := uuid.Parse(a); err == nil {
			params.ActorID = &id
		}
	}
	if a := c.Query("action"); a != "" {
		action := domain.AuditAction(a)
		params.Action = &action
	}
	if e := c.Query("entity_type"); e != "" {
		entityType := e
		params.EntityType = &entityType
	}
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			ts := time.Unix(v, 0)
			params.From = &ts
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			ts := time.Unix(v, 0)
			params.To = &ts
		}
	}

	logs, total, err := h.reportingSvc.ListAuditLogs(c.Request.Context(), userID, params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.AuditLogResponse, 0, len(logs))
	for i := range logs {
		items = append(items, dto.NewAuditLogResponse(&logs[i]))
	}

	response.OK(c, dto.AuditLogListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

func pagination(c *gin.Context, defaultSize int) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultSize)))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = defaultSize
	}
	return page, pageSize
}

func totalPages(total int64, pageSize int) int {
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
