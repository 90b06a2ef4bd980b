package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myhometown/textline/internal/config"
)

// Compile-time check
var _ Gateway = (*HTTPGateway)(nil)

// HTTPGateway talks to a REST SMS/MMS carrier API (account-scoped message
// resources, basic auth, form-encoded submission). Transient failures are
// retried here; sustained failures trip the circuit breaker.
type HTTPGateway struct {
	cfg        config.CarrierConfig
	httpClient *http.Client
	breaker    *CircuitBreaker
}

func NewHTTPGateway(cfg config.CarrierConfig) *HTTPGateway {
	return &HTTPGateway{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: NewCircuitBreaker(CircuitBreakerConfig{}),
	}
}

type messageResponse struct {
	Sid          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	DateUpdated  *string `json:"date_updated"`
	Price        *string `json:"price"`
}

type accountResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send submits one message via POST /Accounts/{id}/Messages.json.
func (g *HTTPGateway) Send(ctx context.Context, params SendParams) (*SendResult, error) {
	if !g.breaker.AllowRequest() {
		g.breaker.RecordFailure()
		return nil, &SendError{Message: "carrier circuit open, send rejected locally"}
	}

	form := url.Values{}
	form.Set("To", params.To)
	form.Set("From", params.From)
	form.Set("Body", params.Body)
	for _, mediaURL := range params.MediaURLs {
		form.Add("MediaUrl", mediaURL)
	}
	if params.StatusCallbackURL != "" {
		form.Set("StatusCallback", params.StatusCallbackURL)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", g.cfg.BaseURL, g.cfg.AccountID)
	body, status, err := g.doWithRetry(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		g.breaker.RecordFailure()
		return nil, &SendError{Message: err.Error()}
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		var msg messageResponse
		if err := json.Unmarshal(body, &msg); err != nil {
			g.breaker.RecordFailure()
			return nil, &SendError{Message: fmt.Sprintf("decode send response: %v body=%q", err, string(body))}
		}
		if msg.Sid == "" {
			g.breaker.RecordFailure()
			return nil, &SendError{Message: fmt.Sprintf("carrier accepted send but returned no message id, body=%q", string(body))}
		}
		g.breaker.RecordSuccess()
		return &SendResult{CarrierMessageID: msg.Sid, Status: msg.Status}, nil

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		g.breaker.RecordFailure()
		return nil, &AuthError{StatusCode: status, Message: carrierErrorMessage(body)}

	default:
		g.breaker.RecordFailure()
		return nil, &SendError{StatusCode: status, Message: carrierErrorMessage(body)}
	}
}

// FetchStatus retrieves the authoritative message state via
// GET /Accounts/{id}/Messages/{sid}.json.
func (g *HTTPGateway) FetchStatus(ctx context.Context, carrierMessageID string) (*StatusResult, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages/%s.json", g.cfg.BaseURL, g.cfg.AccountID, carrierMessageID)
	body, status, err := g.doWithRetry(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, &SendError{Message: err.Error()}
	}

	switch {
	case status == http.StatusOK:
		var msg messageResponse
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, &SendError{Message: fmt.Sprintf("decode status response: %v body=%q", err, string(body))}
		}
		result := &StatusResult{
			Status:       msg.Status,
			ErrorMessage: msg.ErrorMessage,
		}
		if msg.DateUpdated != nil {
			if t, err := time.Parse(time.RFC1123Z, *msg.DateUpdated); err == nil {
				result.DateUpdated = &t
			}
		}
		if msg.Price != nil {
			if p, err := decimal.NewFromString(*msg.Price); err == nil {
				result.Price = &p
			} else {
				slog.DebugContext(ctx, "Unparseable price on message resource", slog.String("price", *msg.Price))
			}
		}
		return result, nil

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &AuthError{StatusCode: status, Message: carrierErrorMessage(body)}

	default:
		return nil, &SendError{StatusCode: status, Message: carrierErrorMessage(body)}
	}
}

// VerifyCredentials probes GET /Accounts/{id}.json and returns the account
// status string.
func (g *HTTPGateway) VerifyCredentials(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", g.cfg.BaseURL, g.cfg.AccountID)
	body, status, err := g.doWithRetry(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return "", &SendError{Message: err.Error()}
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", &AuthError{StatusCode: status, Message: carrierErrorMessage(body)}
	}
	if status != http.StatusOK {
		return "", &SendError{StatusCode: status, Message: carrierErrorMessage(body)}
	}

	var account accountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return "", &SendError{Message: fmt.Sprintf("decode account response: %v body=%q", err, string(body))}
	}
	return account.Status, nil
}

// doWithRetry performs one HTTP exchange, retrying network errors and 5xx
// responses up to cfg.MaxRetries times. 4xx responses return immediately;
// retrying them cannot help.
func (g *HTTPGateway) doWithRetry(ctx context.Context, method, endpoint string, payload io.Reader, contentType string) ([]byte, int, error) {
	var (
		lastErr  error
		bodyFunc func() (io.Reader, error)
	)

	if payload != nil {
		// Buffer the payload once so retries can replay it.
		raw, err := io.ReadAll(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("read request payload: %w", err)
		}
		bodyFunc = func() (io.Reader, error) { return strings.NewReader(string(raw)), nil }
	} else {
		bodyFunc = func() (io.Reader, error) { return nil, nil }
	}

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(g.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		reqBody, err := bodyFunc()
		if err != nil {
			return nil, 0, err
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return nil, 0, fmt.Errorf("create carrier request: %w", err)
		}
		req.SetBasicAuth(g.cfg.AccountID, g.cfg.AuthToken)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("carrier request failed: %w", err)
			slog.WarnContext(ctx, "Carrier request failed, may retry",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read carrier response: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("carrier returned status %d body=%q", resp.StatusCode, string(body))
			slog.WarnContext(ctx, "Carrier returned server error, may retry",
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
			)
			continue
		}

		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

func carrierErrorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}
