// README: Outbound payment gateway client: client-credential auth, transaction registration, refunds.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"autoszkola/internal/config"
	"autoszkola/internal/types"
)

// ErrUnavailable marks dependency failures the caller may retry.
var ErrUnavailable = errors.New("payment gateway unavailable")

const (
	tokenCacheKey = "gateway:token"
	// Refresh slightly early so a cached token never expires mid-call.
	tokenTTLSlack = 60 * time.Second
)

type RegisterRequest struct {
	Amount      types.Money
	Description string
	HiddenRef   string
	PayerName   string
	PayerEmail  string
}

type RegisterResult struct {
	ExternalID string
	Title      string
	PaymentURL string
}

type Client struct {
	cfg   config.GatewayConfig
	http  *http.Client
	cache *redis.Client
}

func NewClient(cfg config.GatewayConfig, cache *redis.Client) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 15 * time.Second},
		cache: cache,
	}
}

// Register creates a transaction with the provider and returns its id,
// title, and the URL the payer is redirected to.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	token, err := c.token(ctx)
	if err != nil {
		return RegisterResult{}, err
	}

	body := map[string]any{
		"amount":            req.Amount.Amount,
		"currency":          req.Amount.Currency,
		"description":       req.Description,
		"hiddenDescription": req.HiddenRef,
		"payer": map[string]string{
			"name":  req.PayerName,
			"email": req.PayerEmail,
		},
		"callbacks": map[string]any{
			"payerUrls": map[string]string{
				"success": c.cfg.SuccessURL,
				"error":   c.cfg.FailureURL,
			},
			"notification": map[string]string{
				"url": c.cfg.NotifyURL,
			},
		},
	}

	var resp struct {
		TransactionID         string `json:"transactionId"`
		Title                 string `json:"title"`
		TransactionPaymentURL string `json:"transactionPaymentUrl"`
	}
	if err := c.postJSON(ctx, "/transactions", token, body, &resp); err != nil {
		return RegisterResult{}, err
	}
	if resp.TransactionID == "" || resp.Title == "" {
		return RegisterResult{}, errors.Wrap(ErrUnavailable, "register: incomplete provider response")
	}
	return RegisterResult{
		ExternalID: resp.TransactionID,
		Title:      resp.Title,
		PaymentURL: resp.TransactionPaymentURL,
	}, nil
}

// Refund asks the provider to return the full captured amount.
func (c *Client) Refund(ctx context.Context, externalID string, amount types.Money) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{"amount": amount.Amount}
	var resp struct {
		Result string `json:"result"`
	}
	path := fmt.Sprintf("/transactions/%s/refunds", url.PathEscape(externalID))
	if err := c.postJSON(ctx, path, token, body, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Result, "success") {
		return errors.Wrapf(ErrUnavailable, "refund rejected: %s", resp.Result)
	}
	return nil
}

// token returns a bearer token, preferring the Redis cache over a
// fresh client-credential exchange.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.cache != nil {
		if v, err := c.cache.Get(ctx, tokenCacheKey).Result(); err == nil && v != "" {
			return v, nil
		}
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth/auth", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "build token request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(ErrUnavailable, err.Error())
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrUnavailable, "token endpoint returned %d", httpResp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&tok); err != nil {
		return "", errors.Wrap(ErrUnavailable, err.Error())
	}
	if tok.AccessToken == "" {
		return "", errors.Wrap(ErrUnavailable, "empty access token")
	}

	if c.cache != nil && tok.ExpiresIn > 0 {
		ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenTTLSlack
		if ttl > 0 {
			// Cache failures only cost an extra exchange next time.
			_ = c.cache.Set(ctx, tokenCacheKey, tok.AccessToken, ttl).Err()
		}
	}
	return tok.AccessToken, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return errors.Wrapf(ErrUnavailable, "%s returned %d: %s", path, httpResp.StatusCode, string(snippet))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}
