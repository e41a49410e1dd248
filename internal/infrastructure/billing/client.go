package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/reckon/engine/internal/domain/invoice"
	"github.com/reckon/engine/internal/domain/reconcile"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/infrastructure/config"
)

// maxResponseSize is the maximum allowed response size from the billing API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// Client talks to the billing system's REST API. It serves both outbound
// halves of a run: the customer and item catalog read during
// reconciliation and the invoice commit at the end.
//
// Every request waits for the pacer, carries the configured bearer
// token, and runs under the per-request timeout. Transient failures are
// retried with exponential backoff; auth, validation, and not-found
// failures are not.
type Client struct {
	config     *config.BillingConfig
	baseURL    string
	httpClient *http.Client
	pacer      *requestPacer
	retry      retryPolicy
	logger     *zap.Logger
}

var (
	_ reconcile.Catalog = (*Client)(nil)
	_ invoice.Gateway   = (*Client)(nil)
)

// NewClient creates a billing API client from configuration
func NewClient(cfg *config.BillingConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("billing: config is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("billing: base URL is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, fmt.Errorf("billing: API token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:  cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		pacer: newRequestPacer(cfg.MinRequestInterval),
		retry: retryPolicy{
			maxAttempts:    cfg.MaxRetries,
			initialBackoff: cfg.RetryInitialBackoff,
			maxBackoff:     cfg.RetryMaxBackoff,
		},
		logger: logger.Named("billing"),
	}, nil
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// Money travels as decimal strings so amounts survive the wire without
// float truncation.

type customerPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type customersResponse struct {
	Customers []customerPayload `json:"customers"`
}

type itemPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Currency  string `json:"currency,omitempty"`
}

type itemsResponse struct {
	Items []itemPayload `json:"items"`
}

type invoiceLinePayload struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

type invoiceRequest struct {
	CustomerID string               `json:"customer_id"`
	Period     string               `json:"period"`
	LineItems  []invoiceLinePayload `json:"line_items"`
}

type invoiceResponse struct {
	ID string `json:"id"`
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// FetchCatalog loads the full customer and item lists into one snapshot.
// An item without a price comes back as a zero amount; reconciliation
// treats such items as valid targets and invoicing prices them at zero.
func (c *Client) FetchCatalog(ctx context.Context) (*reconcile.CatalogView, error) {
	c.logger.Debug("Fetching billing catalog")

	var custResp customersResponse
	if err := c.getJSON(ctx, "/v1/customers", &custResp); err != nil {
		return nil, fmt.Errorf("fetch customers: %w", err)
	}

	var itemResp itemsResponse
	if err := c.getJSON(ctx, "/v1/items", &itemResp); err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}

	customers := make([]reconcile.Customer, 0, len(custResp.Customers))
	for _, cust := range custResp.Customers {
		customers = append(customers, reconcile.Customer{ID: cust.ID, Name: cust.Name})
	}

	items := make([]reconcile.CatalogItem, 0, len(itemResp.Items))
	for _, item := range itemResp.Items {
		price, err := parsePrice(item.UnitPrice, item.Currency)
		if err != nil {
			return nil, fmt.Errorf("item %s has invalid unit price %q: %w", item.ID, item.UnitPrice, err)
		}
		items = append(items, reconcile.CatalogItem{ID: item.ID, Name: item.Name, UnitPrice: price})
	}

	c.logger.Info("Fetched billing catalog",
		zap.Int("customers", len(customers)),
		zap.Int("items", len(items)))

	return reconcile.NewCatalogView(customers, items), nil
}

// parsePrice converts a wire price into Money. Empty amounts mean the
// item carries no price, which maps to zero in the default currency.
func parsePrice(amount, currency string) (valueobject.Money, error) {
	cur := valueobject.Currency(currency)
	if currency == "" {
		cur = valueobject.DefaultCurrency
	}
	if strings.TrimSpace(amount) == "" {
		return valueobject.Zero(cur), nil
	}
	return valueobject.NewMoneyFromString(amount, cur)
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

// CommitInvoice posts one invoice to the billing API and returns the
// identifier the billing system assigned to it
func (c *Client) CommitInvoice(ctx context.Context, inv *invoice.Invoice) (string, error) {
	if inv == nil {
		return "", fmt.Errorf("billing: invoice is required")
	}

	req := invoiceRequest{
		CustomerID: inv.CustomerID,
		Period:     inv.Period().String(),
		LineItems:  make([]invoiceLinePayload, 0, len(inv.Lines)),
	}
	for _, line := range inv.Lines {
		req.LineItems = append(req.LineItems, invoiceLinePayload{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.Amount().String(),
		})
	}

	c.logger.Debug("Committing invoice",
		zap.String("customer_id", inv.CustomerID),
		zap.String("period", req.Period),
		zap.Int("lines", len(req.LineItems)))

	var resp invoiceResponse
	if err := c.postJSON(ctx, "/v1/invoices", req, &resp); err != nil {
		c.logger.Error("Invoice commit failed",
			zap.String("customer_id", inv.CustomerID),
			zap.String("period", req.Period),
			zap.Error(err))
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", &APIError{
			Kind:    ErrorKindServer,
			Message: "billing API accepted the invoice but returned no id",
		}
	}

	c.logger.Info("Invoice committed",
		zap.String("customer_id", inv.CustomerID),
		zap.String("period", req.Period),
		zap.String("external_invoice_id", resp.ID),
		zap.String("total", inv.TotalAmount.String()))

	return resp.ID, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

// getJSON performs a GET with retries and decodes the JSON response
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.retry.do(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		return decodeJSON(body, out)
	})
}

// postJSON encodes a request body, performs a POST with retries, and
// decodes the JSON response
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("billing: encode request: %w", err)
	}
	return c.retry.do(ctx, func() error {
		body, err := c.doRequest(ctx, http.MethodPost, path, payload)
		if err != nil {
			return err
		}
		return decodeJSON(body, out)
	})
}

// doRequest performs one paced, authenticated HTTP exchange. The retry
// loop re-enters here per attempt, so the pacer gates every attempt,
// not just the first.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("billing: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newNetworkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, newNetworkError(err)
	}

	if resp.StatusCode >= 400 {
		return nil, newStatusError(resp, respBody)
	}

	return respBody, nil
}

// decodeJSON unmarshals a response body. A 2xx response the client
// cannot decode counts as a server failure.
func decodeJSON(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{
			Kind:    ErrorKindServer,
			Message: fmt.Sprintf("decode response: %v", err),
			Err:     err,
		}
	}
	return nil
}
