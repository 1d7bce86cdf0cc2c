package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"balance-platform/config"
	"balance-platform/internal/core/domain"

	"github.com/rs/zerolog"
)

// notifyRetryIntervals defines the delivery retry schedule.
var notifyRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
}

// Notification event types.
const (
	EventTransactionSent     = "TRANSACTION_SENT"
	EventTransactionRefunded = "TRANSACTION_REFUNDED"
)

// NotificationPayload is the JSON structure posted to the configured
// notification endpoint.
type NotificationPayload struct {
	EventType string                  `json:"event_type"`
	Data      NotificationPayloadData `json:"data"`
}

// NotificationPayloadData holds the transaction details in the event.
type NotificationPayloadData struct {
	TransactionID         string  `json:"transaction_id"`
	SenderID              string  `json:"sender_id"`
	RecipientID           string  `json:"recipient_id"`
	Amount                int64   `json:"amount"`
	Currency              string  `json:"currency"`
	Type                  string  `json:"type"`
	Status                string  `json:"status"`
	OriginalTransactionID *string `json:"original_transaction_id,omitempty"`
	Timestamp             int64   `json:"timestamp"`
}

// NotificationServiceImpl implements ports.NotificationService. Events
// are dispatched after the ledger transaction commits; delivery is
// best-effort and never affects the committed state.
type NotificationServiceImpl struct {
	cfg        config.NotifierConfig
	httpClient HTTPClient
	log        zerolog.Logger
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewNotificationService creates a new NotificationServiceImpl.
func NewNotificationService(cfg config.NotifierConfig, httpClient HTTPClient, log zerolog.Logger) *NotificationServiceImpl {
	return &NotificationServiceImpl{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
	}
}

// TransactionSent dispatches a transfer-completed event.
func (s *NotificationServiceImpl) TransactionSent(ctx context.Context, txn *domain.Transaction) {
	s.dispatch(EventTransactionSent, txn)
}

// TransactionRefunded dispatches a refund-completed event.
func (s *NotificationServiceImpl) TransactionRefunded(ctx context.Context, txn *domain.Transaction) {
	s.dispatch(EventTransactionRefunded, txn)
}

func (s *NotificationServiceImpl) dispatch(eventType string, txn *domain.Transaction) {
	if s.cfg.URL == "" {
		s.log.Debug().Str("tx_id", txn.ID.String()).Msg("notify: no endpoint configured, skipping")
		return
	}

	data := NotificationPayloadData{
		TransactionID: txn.ID.String(),
		SenderID:      txn.SenderID.String(),
		RecipientID:   txn.RecipientID.String(),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Type:          string(txn.Type),
		Status:        string(txn.Status),
		Timestamp:     time.Now().Unix(),
	}
	if txn.OriginalTransactionID != nil {
		id := txn.OriginalTransactionID.String()
		data.OriginalTransactionID = &id
	}

	go s.deliverWithRetries(NotificationPayload{EventType: eventType, Data: data}, txn.ID.String())
}

// deliverWithRetries attempts delivery with backoff until a 2xx response.
func (s *NotificationServiceImpl) deliverWithRetries(payload NotificationPayload, txID string) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("tx_id", txID).Msg("notify: failed to marshal payload")
		return
	}

	for attempt := 0; attempt <= len(notifyRetryIntervals); attempt++ {
		if attempt > 0 {
			time.Sleep(notifyRetryIntervals[attempt-1])
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payloadBytes))
		if err != nil {
			cancel()
			s.log.Error().Err(err).Str("tx_id", txID).Int("attempt", attempt+1).Msg("notify: failed to create request")
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("tx_id", txID).Int("attempt", attempt+1).Msg("notify: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.log.Info().Str("tx_id", txID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("notify: delivered")
			return
		}

		s.log.Warn().Str("tx_id", txID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("notify: non-2xx response, retrying")
	}

	s.log.Error().Str("tx_id", txID).Msg("notify: all retry attempts exhausted")
}
