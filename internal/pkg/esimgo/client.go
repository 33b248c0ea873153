package esimgo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/tiktel/ttelgo/internal/pkg/cache"
	"github.com/tiktel/ttelgo/internal/pkg/env"
)

const catalogueCacheKey = "esimgo:catalogue"
const catalogueCacheTTL = time.Hour

// APIError is a non-2xx answer from the eSIM Go API. 5xx and transport
// errors are transient and worth retrying; 4xx are permanent.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("esimgo: API status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether a retry may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Bundle is one catalogue entry.
type Bundle struct {
	Code         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	CountryISO   string          `json:"country_iso"`
	DataAmount   string          `json:"data_amount"`
	ValidityDays int             `json:"duration"`
}

// OrderResponse is the vendor's answer to a new order.
type OrderResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	ICCID          string `json:"iccid"`
	MatchingID     string `json:"matching_id"`
	SmdpAddress    string `json:"smdp_address"`
	ActivationCode string `json:"activation_code"`
}

// EsimDetails describes one provisioned profile.
type EsimDetails struct {
	ICCID       string `json:"iccid"`
	Status      string `json:"status"`
	BundleCode  string `json:"bundle"`
	ExpiresAt   string `json:"expires_at"`
	DataUsedMB  int64  `json:"data_used_mb"`
	DataTotalMB int64  `json:"data_total_mb"`
}

// Client talks to the eSIM Go API. The bundle catalogue is cached in Redis
// for an hour; everything else goes straight through.
type Client struct {
	http *resty.Client
}

// NewClient builds a client from the environment.
func NewClient() *Client {
	c := resty.New().
		SetBaseURL(env.GetEnv("ESIMGO_API_URL", "https://api.esim-go.com/v2.4")).
		SetHeader("X-API-Key", env.GetEnv("ESIMGO_API_KEY", "")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Client{http: c}
}

// NewClientWithBaseURL builds a client against an explicit endpoint, used
// by tests with a local server.
func NewClientWithBaseURL(baseURL, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-API-Key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(5 * time.Second)
	return &Client{http: c}
}

func apiErr(resp *resty.Response) error {
	return &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
}

// ListBundles fetches the catalogue, serving from cache when possible.
func (c *Client) ListBundles() ([]Bundle, error) {
	if raw, err := cache.Get(catalogueCacheKey); err == nil && raw != "" {
		var bundles []Bundle
		if err := json.Unmarshal([]byte(raw), &bundles); err == nil {
			return bundles, nil
		}
	}

	resp, err := c.http.R().Get("/catalogue")
	if err != nil {
		return nil, &APIError{StatusCode: 0, Body: err.Error()}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr(resp)
	}

	var payload struct {
		Bundles []Bundle `json:"bundles"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("esimgo: decoding catalogue: %w", err)
	}

	if raw, err := json.Marshal(payload.Bundles); err == nil {
		// Cache failures are not fatal; the next call re-fetches.
		_ = cache.Set(catalogueCacheKey, string(raw), catalogueCacheTTL)
	}
	return payload.Bundles, nil
}

// GetBundle resolves one bundle by code.
func (c *Client) GetBundle(code string) (*Bundle, error) {
	bundles, err := c.ListBundles()
	if err != nil {
		return nil, err
	}
	for i := range bundles {
		if bundles[i].Code == code {
			return &bundles[i], nil
		}
	}
	return nil, &APIError{StatusCode: http.StatusNotFound, Body: "bundle " + code + " not found"}
}

// CreateOrder places a provisioning order with the vendor.
func (c *Client) CreateOrder(bundleCode string, quantity int) (*OrderResponse, error) {
	body := map[string]interface{}{
		"type":     "transaction",
		"assign":   true,
		"order":    []map[string]interface{}{{"type": "bundle", "item": bundleCode, "quantity": quantity}},
	}
	resp, err := c.http.R().SetBody(body).Post("/orders")
	if err != nil {
		return nil, &APIError{StatusCode: 0, Body: err.Error()}
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, apiErr(resp)
	}

	var out OrderResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("esimgo: decoding order response: %w", err)
	}
	return &out, nil
}

// GetEsimDetails fetches the live state of one profile.
func (c *Client) GetEsimDetails(iccid string) (*EsimDetails, error) {
	resp, err := c.http.R().Get("/esims/" + iccid)
	if err != nil {
		return nil, &APIError{StatusCode: 0, Body: err.Error()}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr(resp)
	}

	var out EsimDetails
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("esimgo: decoding esim details: %w", err)
	}
	return &out, nil
}
