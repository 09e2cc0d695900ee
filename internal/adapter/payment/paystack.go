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

	"golang.org/x/time/rate"

	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/usecase"
)

const DefaultBaseURL = "https://api.paystack.co"

var ErrRejected = errors.New("gateway rejected request")

type PaystackConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	// RatePerSecond caps outgoing calls; zero disables the limiter.
	RatePerSecond float64
}

// Paystack talks to the Paystack transaction API.
type Paystack struct {
	base    string
	secret  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewPaystack(cfg PaystackConfig) *Paystack {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Paystack{base: base, secret: cfg.SecretKey, http: &http.Client{Timeout: timeout}}
	if cfg.RatePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1)
	}
	return p
}

var _ usecase.PaymentGateway = (*Paystack)(nil)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string                  `json:"email"`
	Amount      int64                   `json:"amount"`
	Reference   string                  `json:"reference"`
	CallbackURL string                  `json:"callback_url,omitempty"`
	Metadata    usecase.PaymentMetadata `json:"metadata"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (p *Paystack) Initialize(ctx context.Context, req usecase.InitializeRequest) (usecase.InitializeResult, error) {
	var data initializeData
	err := p.do(ctx, http.MethodPost, "/transaction/initialize", initializeBody{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}, &data)
	if err != nil {
		return usecase.InitializeResult{}, err
	}
	if data.AuthorizationURL == "" {
		return usecase.InitializeResult{}, fmt.Errorf("%w: no authorization url", ErrRejected)
	}
	return usecase.InitializeResult{
		RedirectURL: data.AuthorizationURL,
		AccessCode:  data.AccessCode,
		Reference:   data.Reference,
	}, nil
}

type verifyData struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Channel   string          `json:"channel"`
	PaidAt    string          `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (p *Paystack) Verify(ctx context.Context, reference string) (usecase.VerifyResult, error) {
	var data verifyData
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return usecase.VerifyResult{}, err
	}
	res := usecase.VerifyResult{
		Paid:        data.Status == "success",
		Status:      data.Status,
		AmountMinor: data.Amount,
		Reference:   data.Reference,
		Channel:     data.Channel,
		Metadata:    parseMetadata(data.Metadata),
	}
	if data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			res.PaidAt = t.UTC()
		}
	}
	return res, nil
}

// parseMetadata accepts metadata as an object or as a JSON-encoded string.
// Anything else yields empty metadata, which callers treat as invalid.
func parseMetadata(raw json.RawMessage) usecase.PaymentMetadata {
	var md usecase.PaymentMetadata
	if len(raw) == 0 {
		return md
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return md
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return usecase.PaymentMetadata{}
	}
	return md
}

func (p *Paystack) do(ctx context.Context, method, path string, body, out any) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	logging.FromCtx(ctx).Debug("paystack call", "method", method, "path", path,
		"status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return fmt.Errorf("paystack %s %s: status %d: decode: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("paystack %s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}
