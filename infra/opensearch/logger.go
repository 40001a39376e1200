package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// PaymentEvent is a structured record of one gateway interaction: a checkout
// creation, a webhook delivery, a status query or a refund.
type PaymentEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Processor     string    `json:"processor"`
	Kind          string    `json:"kind"` // create | callback | status | refund
	RequestID     string    `json:"request_id"`
	ClientIP      string    `json:"client_ip,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Amount        float64   `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	SignatureOK   bool      `json:"signature_ok"`
	Error         string    `json:"error,omitempty"`
}

// Logger ships structured events to OpenSearch.
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger.
func NewLogger(client *Client) *Logger {
	return &Logger{client: client}
}

// LogPaymentEvent indexes one gateway interaction.
func (l *Logger) LogPaymentEvent(ctx context.Context, event PaymentEvent) error {
	if !l.client.IsEnabled() {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		event.RequestID = uuid.New().String()
	}

	indexName := l.client.GetEventIndexName(event.TenantID, event.Processor)
	return l.index(ctx, indexName, event)
}

// LogSystemEvent indexes one application log entry.
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	if !l.client.IsEnabled() {
		return nil
	}
	return l.index(ctx, SystemIndexName, entry)
}

func (l *Logger) index(ctx context.Context, indexName string, doc any) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(docJSON),
	}
	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}
	return nil
}
