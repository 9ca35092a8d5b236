package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HTTPGateway charges through a hosted payment provider: init, then check the
// resulting payment status.
type HTTPGateway struct {
	baseURL    string
	teamSlug   string
	password   string
	httpClient *http.Client
}

// Payment provider models
type PaymentInitRequest struct {
	TeamSlug    string `json:"teamSlug"`
	Token       string `json:"token"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
}

type PaymentInitResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Message   string `json:"message,omitempty"`
}

type PaymentCheckRequest struct {
	TeamSlug  string `json:"teamSlug"`
	Token     string `json:"token"`
	PaymentID string `json:"paymentId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

type PaymentCheckResponse struct {
	Success    bool             `json:"success"`
	Payments   []PaymentDetails `json:"payments"`
	TotalCount int              `json:"totalCount"`
	OrderID    string           `json:"orderId"`
}

type PaymentDetails struct {
	PaymentID         string `json:"paymentId"`
	OrderID           string `json:"orderId"`
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
}

func NewHTTPGateway(cfg PaymentConfig) *HTTPGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPGateway{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		teamSlug: cfg.TeamSlug,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	orderID := req.BookingID
	if req.IdempotencyKey != "" {
		orderID = req.BookingID + ":" + req.IdempotencyKey
	}

	initResp, err := g.initPayment(ctx, req.Amount, orderID, req.Currency, "Rental booking "+req.BookingID)
	if err != nil {
		return nil, err
	}
	if !initResp.Success {
		reason := initResp.Message
		if reason == "" {
			reason = "payment init rejected"
		}
		return &ChargeResult{DeclineReason: reason}, nil
	}

	check, err := g.checkPayment(ctx, initResp.PaymentID)
	if err != nil {
		return nil, err
	}
	if len(check.Payments) == 0 {
		return nil, fmt.Errorf("payment %s not found by provider", initResp.PaymentID)
	}

	p := check.Payments[0]
	switch strings.ToUpper(p.Status) {
	case "CONFIRMED", "AUTHORIZED":
		return &ChargeResult{Approved: true, TransactionID: p.PaymentID}, nil
	default:
		reason := p.StatusDescription
		if reason == "" {
			reason = "payment status " + p.Status
		}
		return &ChargeResult{DeclineReason: reason}, nil
	}
}

func (g *HTTPGateway) generateToken(params map[string]string) string {
	params["TeamSlug"] = g.teamSlug
	params["Password"] = g.password

	// значения конкатенируются в алфавитном порядке ключей
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(params[key])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

func (g *HTTPGateway) initPayment(ctx context.Context, amount int64, orderID, currency, description string) (*PaymentInitResponse, error) {
	token := g.generateToken(map[string]string{
		"Amount":   strconv.FormatInt(amount, 10),
		"Currency": currency,
		"OrderId":  orderID,
	})

	req := PaymentInitRequest{
		TeamSlug:    g.teamSlug,
		Token:       token,
		Amount:      amount,
		OrderID:     orderID,
		Currency:    currency,
		Description: description,
		Language:    "en",
	}

	var result PaymentInitResponse
	if err := g.post(ctx, "/api/v1/PaymentInit/init", req, &result); err != nil {
		return nil, fmt.Errorf("failed to init payment: %w", err)
	}
	return &result, nil
}

func (g *HTTPGateway) checkPayment(ctx context.Context, paymentID string) (*PaymentCheckResponse, error) {
	token := g.generateToken(map[string]string{
		"PaymentId": paymentID,
	})

	req := PaymentCheckRequest{
		TeamSlug:  g.teamSlug,
		Token:     token,
		PaymentID: paymentID,
	}

	var result PaymentCheckResponse
	if err := g.post(ctx, "/api/v1/PaymentCheck/check", req, &result); err != nil {
		return nil, fmt.Errorf("failed to check payment: %w", err)
	}
	return &result, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
