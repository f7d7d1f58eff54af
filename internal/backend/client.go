// Package backend is the typed client for the upstream restaurant API, the
// owner of all durable state. The till never touches a database directly.
package backend

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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tillpoint/internal/domain"
	"tillpoint/internal/money"
)

const defaultTimeout = 10 * time.Second

// ErrAuthExpired means the session is gone and a token refresh failed. This
// is the one failure the till treats as fatal: in-memory state is abandoned
// and the operator must sign in again.
var ErrAuthExpired = errors.New("backend: session expired")

// APIError is a non-2xx response from the upstream.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logrus.WithField("component", "backend"),
	}
}

// SetTokens installs the session tokens, e.g. after an out-of-band login.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}

func (c *Client) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

// do runs one json request, attaching the bearer token and retrying exactly
// once through a token refresh on 401.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
	}

	send := func(token string) (*http.Response, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return c.http.Do(req)
	}

	access, _ := c.tokens()
	resp, err := send(access)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && access != "" {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		refreshed, err := c.refreshAccessToken(ctx)
		if err != nil {
			return err
		}
		resp, err = send(refreshed)
		if err != nil {
			return fmt.Errorf("backend: %s %s: %w", method, path, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			return ErrAuthExpired
		}
		return &APIError{Status: resp.StatusCode, Message: apiMessage(raw)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s %s: %w", method, path, err)
	}
	return nil
}

func apiMessage(raw []byte) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = "request failed"
	}
	return msg
}

func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	_, refresh := c.tokens()
	if refresh == "" {
		return "", ErrAuthExpired
	}
	c.log.Debug("access token rejected, refreshing")

	body, _ := json.Marshal(map[string]string{"refresh_token": refresh})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", ErrAuthExpired
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend: refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		c.SetTokens("", "")
		return "", ErrAuthExpired
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		c.SetTokens("", "")
		return "", ErrAuthExpired
	}

	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.mu.Unlock()
	return out.AccessToken, nil
}

// OrderItemInput is one captured line of a create-order request.
type OrderItemInput struct {
	MenuItemID string      `json:"menu_item_id"`
	Quantity   int         `json:"quantity"`
	UnitPrice  money.Cents `json:"unit_price"`
}

type CreateOrderRequest struct {
	RestaurantID string           `json:"restaurant_id"`
	TableID      *string          `json:"table_id"`
	Items        []OrderItemInput `json:"items"`
}

// CreateOrder opens a backend order from captured cart lines. The caller's
// idempotency key lets a deduplicating backend drop replays where the first
// response was lost.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (domain.Order, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var order domain.Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", nil, headers, req, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CompleteOrder records the payment method and marks the order completed.
func (c *Client) CompleteOrder(ctx context.Context, orderID string, method domain.PaymentMethod) error {
	body := map[string]string{
		"status":         string(domain.OrderCompleted),
		"payment_method": string(method),
	}
	return c.do(ctx, http.MethodPatch, "/api/v1/orders/"+orderID+"/status", nil, nil, body, nil)
}

// MenuItemRecord is the upstream menu item shape, category still a backend
// code such as "main_course".
type MenuItemRecord struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Category    string      `json:"category"`
	Price       money.Cents `json:"price"`
	ImageURL    string      `json:"image_url"`
	IsAvailable bool        `json:"is_available"`
}

func (c *Client) MenuItems(ctx context.Context, restaurantID string) ([]MenuItemRecord, error) {
	query := url.Values{}
	query.Set("is_available", "true")
	query.Set("limit", "100")
	var items []MenuItemRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/restaurants/"+restaurantID+"/menu-items", query, nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ServedOrders lists orders awaiting payment collection.
func (c *Client) ServedOrders(ctx context.Context, restaurantID string) ([]domain.Order, error) {
	query := url.Values{}
	query.Set("status", string(domain.OrderServed))
	var orders []domain.Order
	if err := c.do(ctx, http.MethodGet, "/api/v1/restaurants/"+restaurantID+"/orders", query, nil, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) Tables(ctx context.Context, restaurantID string) ([]domain.Table, error) {
	var tables []domain.Table
	if err := c.do(ctx, http.MethodGet, "/api/v1/restaurants/"+restaurantID+"/tables", nil, nil, nil, &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

type ReportSummary struct {
	TotalOrders  int         `json:"total_orders"`
	TotalRevenue money.Cents `json:"total_revenue"`
	CashOrders   int         `json:"cash_orders"`
	CashTotal    money.Cents `json:"cash_total"`
	CardOrders   int         `json:"card_orders"`
	CardTotal    money.Cents `json:"card_total"`
}

type ReportOrder struct {
	ID            string      `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	TotalAmount   money.Cents `json:"total_amount"`
	PaymentMethod string      `json:"payment_method"`
	Status        string      `json:"status"`
}

type Report struct {
	Summary ReportSummary `json:"summary"`
	Orders  []ReportOrder `json:"orders"`
}

func (c *Client) Reports(ctx context.Context, restaurantID, startDate, endDate string) (Report, error) {
	query := url.Values{}
	query.Set("start_date", startDate)
	query.Set("end_date", endDate)
	var report Report
	if err := c.do(ctx, http.MethodGet, "/api/v1/restaurants/"+restaurantID+"/analytics/reports", query, nil, nil, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}

type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID           string `json:"id"`
		Username     string `json:"username"`
		Role         string `json:"role"`
		RestaurantID string `json:"restaurant_id"`
	} `json:"user"`
}

// Login authenticates the till operator and installs the session tokens.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body := map[string]string{"username": username, "password": password}
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, nil, body, &out); err != nil {
		return LoginResult{}, err
	}
	c.SetTokens(out.AccessToken, out.RefreshToken)
	return out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, refresh := c.tokens()
	defer c.SetTokens("", "")
	if refresh == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil, map[string]string{"refresh_token": refresh}, nil)
}

// Health is a cheap reachability probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil, nil)
}
