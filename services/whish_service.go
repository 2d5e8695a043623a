package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HSouheill/barrim_settlement/config"
	"github.com/HSouheill/barrim_settlement/metrics"
	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/utils"
	"github.com/lestrrat-go/backoff/v2"
	log "github.com/sirupsen/logrus"
)

// permanentCodes are processor business codes that no retry can fix
var permanentCodes = map[string]bool{
	"insufficient_funds":     true,
	"invalid_payment_method": true,
	"card_declined":          true,
	"account_not_found":      true,
}

// WhishService handles interactions with the Whish API
type WhishService struct {
	baseURL    string
	channel    string
	secret     string
	websiteURL string
	debug      bool
	client     *http.Client
	policy     backoff.Policy
}

// NewWhishService creates a new Whish service instance
func NewWhishService(cfg config.WhishConfig) *WhishService {
	if cfg.Channel == "" || cfg.Secret == "" || cfg.WebsiteURL == "" {
		log.Printf("WARNING: Whish credentials not fully configured:")
		if cfg.Channel == "" {
			log.Printf("  - WHISH_CHANNEL is missing")
		}
		if cfg.Secret == "" {
			log.Printf("  - WHISH_SECRET is missing")
		}
		if cfg.WebsiteURL == "" {
			log.Printf("  - WHISH_WEBSITE_URL is missing")
		}
	} else {
		log.WithFields(log.Fields{
			"baseUrl":    cfg.BaseURL,
			"channel":    cfg.Channel,
			"websiteUrl": cfg.WebsiteURL,
			"maxRetries": cfg.MaxRetries,
		}).Info("Whish service configured")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &WhishService{
		baseURL:    baseURL,
		channel:    cfg.Channel,
		secret:     cfg.Secret,
		websiteURL: cfg.WebsiteURL,
		debug:      cfg.Debug,
		client:     &http.Client{Timeout: timeout},
		policy: backoff.Exponential(
			backoff.WithMinInterval(cfg.MinInterval),
			backoff.WithMaxInterval(cfg.MaxInterval),
			backoff.WithJitterFactor(cfg.Jitter),
			backoff.WithMaxRetries(maxRetries),
		),
	}
}

// getHeaders returns the standard headers required for Whish API requests
func (s *WhishService) getHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"channel":      s.channel,
		"secret":       s.secret,
		"websiteurl":   s.websiteURL,
	}
}

// makeRequest performs a Whish API call, retrying transient failures with
// jittered exponential backoff. The idempotency key is sent on every attempt.
func (s *WhishService) makeRequest(ctx context.Context, op, method, endpoint, idempotencyKey string, payload interface{}) (*models.WhishResponse, error) {
	if s.channel == "" || s.secret == "" || s.websiteURL == "" {
		return nil, &ExternalPaymentError{Op: op, Code: "not_configured", Err: errors.New("missing Whish credentials")}
	}

	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = raw
	}

	var lastErr error
	b := s.policy.Start(ctx)
	for attempt := 1; backoff.Continue(b); attempt++ {
		resp, err := s.doOnce(ctx, op, method, endpoint, idempotencyKey, body)
		metrics.RecordProcessorCall(op, err == nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var extErr *ExternalPaymentError
		if !errors.As(err, &extErr) || !extErr.Retryable {
			return nil, err
		}
		log.WithFields(log.Fields{
			"op":      op,
			"attempt": attempt,
			"code":    extErr.Code,
		}).WithError(err).Warn("Whish call failed, retrying")
	}

	if lastErr == nil {
		lastErr = &ExternalPaymentError{Op: op, Retryable: true, Err: ctx.Err()}
	}
	return nil, lastErr
}

func (s *WhishService) doOnce(ctx context.Context, op, method, endpoint, idempotencyKey string, body []byte) (*models.WhishResponse, error) {
	url := s.baseURL + endpoint

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range s.getHeaders() {
		req.Header.Set(key, value)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	if s.debug {
		log.WithFields(log.Fields{"url": url, "method": method, "idempotencyKey": idempotencyKey}).Debug("Whish API request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ExternalPaymentError{Op: op, Code: "transport", Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExternalPaymentError{Op: op, Code: "transport", Retryable: true, Err: err}
	}

	if s.debug {
		log.Debugf("Whish API Response: %s", string(respBody))
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ExternalPaymentError{
			Op:        op,
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Retryable: true,
			Err:       fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var whishResp models.WhishResponse
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&whishResp); err != nil {
		return nil, &ExternalPaymentError{Op: op, Code: "bad_response", Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if !whishResp.Status {
		code := responseCode(whishResp)
		log.Printf("Whish API Error Details: Code=%s, Dialog=%v", code, whishResp.Dialog)
		return &whishResp, &ExternalPaymentError{
			Op:   op,
			Code: code,
			// unknown business codes are treated as permanent
			Retryable: false,
			Err:       errors.New(dialogMessage(whishResp, code)),
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ExternalPaymentError{Op: op, Code: fmt.Sprintf("http_%d", resp.StatusCode), Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	return &whishResp, nil
}

func responseCode(resp models.WhishResponse) string {
	if resp.Code == nil {
		return "unknown"
	}
	if codeStr, ok := resp.Code.(string); ok {
		return codeStr
	}
	return fmt.Sprintf("%v", resp.Code)
}

func dialogMessage(resp models.WhishResponse, code string) string {
	if dialogMap, ok := resp.Dialog.(map[string]interface{}); ok {
		if msg, ok := dialogMap["message"].(string); ok {
			return fmt.Sprintf("whish API error: %s - %s", code, msg)
		}
	}
	if msg, ok := resp.Dialog.(string); ok && msg != "" {
		return fmt.Sprintf("whish API error: %s - %s", code, msg)
	}
	return fmt.Sprintf("whish API error: %s", code)
}

// IsPermanentCode reports whether a processor code can never succeed on retry
func IsPermanentCode(code string) bool {
	return permanentCodes[code]
}

// GetBalance retrieves the available balance of a provider sub-account in minor units
func (s *WhishService) GetBalance(ctx context.Context, account, currency string) (int64, error) {
	payload := models.WhishRequest{Account: account, Currency: currency}
	resp, err := s.makeRequest(ctx, "balance", http.MethodPost, "payment/account/balance", "", payload)
	if err != nil {
		return 0, err
	}

	balanceDetails, ok := resp.Data["balanceDetails"].(map[string]interface{})
	if !ok {
		return 0, &ExternalPaymentError{Op: "balance", Code: "bad_response", Err: errors.New("failed to parse balance from response")}
	}
	balance, err := utils.ParseMajorUnits(balanceDetails["balance"], currency)
	if err != nil {
		return 0, &ExternalPaymentError{Op: "balance", Code: "bad_response", Err: err}
	}
	return balance, nil
}

// Transfer moves funds from a provider sub-account to the platform account
func (s *WhishService) Transfer(ctx context.Context, req models.TransferRequest) (models.TransferResult, error) {
	payload := models.WhishRequest{
		Account:    req.FromAccount,
		Amount:     utils.ToMajorUnits(req.Amount, req.Currency),
		Currency:   req.Currency,
		Invoice:    "Commission settlement " + req.DebtID,
		ExternalID: req.IdempotencyKey,
		Metadata:   map[string]string{"debtId": req.DebtID},
	}
	resp, err := s.makeRequest(ctx, "transfer", http.MethodPost, "payment/transfer", req.IdempotencyKey, payload)
	if err != nil {
		return models.TransferResult{}, err
	}

	id := stringField(resp.Data, "transferId")
	if id == "" {
		return models.TransferResult{}, &ExternalPaymentError{Op: "transfer", Code: "bad_response", Err: errors.New("failed to parse transfer id from response")}
	}
	return models.TransferResult{ID: id}, nil
}

// Charge initiates an off-session charge; the outcome arrives later by webhook
func (s *WhishService) Charge(ctx context.Context, req models.ChargeRequest) (models.ChargeResult, error) {
	payload := models.WhishRequest{
		Account:       req.Account,
		Amount:        utils.ToMajorUnits(req.Amount, req.Currency),
		Currency:      req.Currency,
		Invoice:       "Commission settlement " + req.DebtID,
		ExternalID:    req.IdempotencyKey,
		PaymentMethod: req.PaymentMethod,
		OffSession:    true,
		Metadata:      map[string]string{"debtId": req.DebtID},
	}
	resp, err := s.makeRequest(ctx, "charge", http.MethodPost, "payment/charge", req.IdempotencyKey, payload)
	if err != nil {
		return models.ChargeResult{}, err
	}

	id := stringField(resp.Data, "chargeId")
	if id == "" {
		return models.ChargeResult{}, &ExternalPaymentError{Op: "charge", Code: "bad_response", Err: errors.New("failed to parse charge id from response")}
	}
	return models.ChargeResult{ID: id, Status: stringField(resp.Data, "status")}, nil
}

func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}
