package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// StockMovementReference points a posting back to the source document.
type StockMovementReference struct {
	Type   string `json:"type"` // order | batch
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
}

// StockMovementRequest is the "record a stock movement" contract of the
// inventory ledger.
type StockMovementRequest struct {
	MovementType   string                 `json:"movement_type"` // addition | warranty_bonus
	VariantID      string                 `json:"variant_id"`
	OrganizationID string                 `json:"organization_id"`
	Quantity       int                    `json:"quantity"`
	UnitCost       decimal.Decimal        `json:"unit_cost"`
	ManufacturerID *string                `json:"manufacturer_id,omitempty"`
	ReasonCode     string                 `json:"reason_code"`
	Note           string                 `json:"note,omitempty"`
	Reference      StockMovementReference `json:"reference"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

type stockMovementResponse struct {
	MovementID string `json:"movement_id"`
}

// LedgerClient posts stock movements to the inventory ledger over HTTP.
type LedgerClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *CircuitBreaker
}

// NewLedgerClient wires the ledger URL, request timeout and an optional breaker.
func NewLedgerClient(baseURL string, timeout time.Duration, cb *CircuitBreaker) *LedgerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LedgerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
	}
}

// Breaker exposes the breaker for health reporting; may be nil.
func (c *LedgerClient) Breaker() *CircuitBreaker { return c.cb }

// RecordStockMovement posts one movement and returns the ledger's movement id.
func (c *LedgerClient) RecordStockMovement(ctx context.Context, req StockMovementRequest) (string, error) {
	var id string
	call := func() error {
		var err error
		id, err = c.post(ctx, req)
		return err
	}
	if c.cb == nil {
		return id, call()
	}
	if err := c.cb.Execute(call); err != nil {
		return "", err
	}
	return id, nil
}

func (c *LedgerClient) post(ctx context.Context, payload StockMovementRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stock-movements", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ledger: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ledger: returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result stockMovementResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ledger: decode response: %w", err)
	}
	if result.MovementID == "" {
		return "", fmt.Errorf("ledger: empty movement_id")
	}
	return result.MovementID, nil
}
