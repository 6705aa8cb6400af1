package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
)

// Module provides the Paystack client as the Gateway.
var Module = fx.Provide(
	fx.Annotate(NewPaystackFromConfig, fx.As(new(Gateway))),
)

const (
	defaultBaseURL     = "https://api.paystack.co"
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	maxResponseBytes   = 1 << 20
)

// Paystack implements Gateway against the Paystack transaction API.
type Paystack struct {
	client      *http.Client
	baseURL     string
	secret      string
	timeout     time.Duration
	maxAttempts int
	initialWait time.Duration
	logger      *zap.Logger
}

// NewPaystackFromConfig builds the client from payment settings.
func NewPaystackFromConfig(cfg config.Config, logger *zap.Logger) *Paystack {
	return NewPaystack(cfg.Payment, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}, logger)
}

// NewPaystack returns a client using hc for transport. Zero settings fall back to defaults.
func NewPaystack(cfg config.Payment, hc *http.Client, logger *zap.Logger) *Paystack {
	p := &Paystack{
		client:      hc,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secret:      cfg.SecretKey,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		initialWait: 250 * time.Millisecond,
		logger:      logger,
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// transactionData is the transaction object shared by verify responses and webhooks.
type transactionData struct {
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Channel         string     `json:"channel"`
	PaidAt          *time.Time `json:"paid_at"`
	GatewayResponse string     `json:"gateway_response"`
}

func (d transactionData) transaction() *Transaction {
	return &Transaction{
		Status:          TransactionStatus(strings.ToLower(d.Status)),
		Reference:       d.Reference,
		Amount:          FromMinor(d.Amount),
		Currency:        d.Currency,
		Channel:         d.Channel,
		PaidAt:          d.PaidAt,
		GatewayResponse: d.GatewayResponse,
	}
}

// Initialize opens a transaction and returns the hosted checkout URL.
func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	const op = "initialize"
	minor, err := ToMinor(req.Amount)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindInvalidAmount, Err: err}
	}

	body := initializeBody{
		Email:       req.Email,
		Amount:      minor,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}
	var auth Authorization
	if err := p.do(ctx, op, http.MethodPost, "/transaction/initialize", body, &auth); err != nil {
		return nil, err
	}
	if auth.AuthorizationURL == "" {
		return nil, &Error{Op: op, Kind: KindInvalidResponse, Err: errors.New("missing authorization_url")}
	}
	if auth.Reference == "" {
		auth.Reference = req.Reference
	}
	return &auth, nil
}

// Verify fetches the current state of a transaction.
func (p *Paystack) Verify(ctx context.Context, reference string) (*Transaction, error) {
	const op = "verify"
	if strings.TrimSpace(reference) == "" {
		return nil, &Error{Op: op, Kind: KindRejected, Err: errors.New("reference is required")}
	}

	var data transactionData
	if err := p.do(ctx, op, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}
	if data.Reference == "" {
		data.Reference = reference
	}
	return data.transaction(), nil
}

func (p *Paystack) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return &Error{Op: op, Kind: KindInvalidResponse, Err: err}
		}
	}

	attempt := 0
	call := func() (struct{}, error) {
		attempt++
		err := p.roundTrip(ctx, op, method, path, payload, out)
		if err == nil {
			return struct{}{}, nil
		}
		if gerr, ok := AsError(err); ok && !gerr.Retryable {
			return struct{}{}, backoff.Permanent(err)
		}
		p.logger.Warn("paystack call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return struct{}{}, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialWait
	policy.MaxInterval = 4 * p.initialWait

	_, err := backoff.Retry(ctx, call,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(p.maxAttempts)),
	)
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return &Error{Op: op, Kind: KindUnavailable, Retryable: true, Err: err}
}

func (p *Paystack) roundTrip(ctx context.Context, op, method, path string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindUnavailable, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, Kind: KindUnavailable, Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return &Error{Op: op, Kind: KindUnavailable, Retryable: true, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= http.StatusBadRequest:
		return &Error{Op: op, Kind: KindRejected, Err: fmt.Errorf("status %d: %s", resp.StatusCode, messageOf(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Op: op, Kind: KindInvalidResponse, Err: err}
	}
	if !env.Status {
		return &Error{Op: op, Kind: KindRejected, Err: errors.New(env.Message)}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Op: op, Kind: KindInvalidResponse, Err: err}
		}
	}
	return nil
}

func messageOf(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return http.StatusText(http.StatusBadRequest)
}
