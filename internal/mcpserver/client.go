package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sentinelpay/triage/internal/idgen"
)

// Config holds the configuration for connecting to the triage platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// TriageClient is a pure HTTP client for the triage platform API.
type TriageClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewTriageClient creates a new client for the triage platform.
func NewTriageClient(cfg Config) *TriageClient {
	return &TriageClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *TriageClient) doRequest(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// StartTriage kicks off a triage session for a transaction.
func (c *TriageClient) StartTriage(ctx context.Context, customerID, transactionID string) (json.RawMessage, error) {
	body := map[string]string{
		"customerId":    customerID,
		"transactionId": transactionID,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/triage", nil, body, nil)
}

// GetSession fetches the current state of a triage session.
func (c *TriageClient) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/triage/"+sessionID, nil, nil, nil)
}

// FreezeCard deactivates a card. The idempotency key is generated per call;
// retries at the MCP layer create new keys and so new freezes, which is safe
// because freezing a frozen card is a no-op at the issuer.
func (c *TriageClient) FreezeCard(ctx context.Context, customerID, cardID, reason string) (json.RawMessage, error) {
	body := map[string]string{
		"customerId": customerID,
		"cardId":     cardID,
		"reason":     reason,
	}
	headers := map[string]string{"Idempotency-Key": idgen.WithPrefix("idem_")}
	return c.doRequest(ctx, http.MethodPost, "/v1/actions/freeze-card", nil, body, headers)
}

// OpenDispute files a dispute against a transaction.
func (c *TriageClient) OpenDispute(ctx context.Context, customerID, transactionID, reason string) (json.RawMessage, error) {
	body := map[string]string{
		"customerId":    customerID,
		"transactionId": transactionID,
		"reason":        reason,
	}
	headers := map[string]string{"Idempotency-Key": idgen.WithPrefix("idem_")}
	return c.doRequest(ctx, http.MethodPost, "/v1/actions/open-dispute", nil, body, headers)
}

// ListPolicies returns the active compliance policy set.
func (c *TriageClient) ListPolicies(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/policies", nil, nil, nil)
}

// GetRiskHistory returns recent risk assessments for a customer.
func (c *TriageClient) GetRiskHistory(ctx context.Context, customerID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/assessments/"+customerID, q, nil, nil)
}
