// Package client talks to the café POS HTTP API on behalf of a terminal.
// Calls are made once; nothing is retried.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cafepos/m/domain"
	"cafepos/m/internal/catalog"
	"cafepos/m/internal/order"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges staff credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (domain.User, error) {
	var out struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return domain.User{}, err
	}
	c.token = out.Token
	return out.User, nil
}

func (c *Client) Menu(ctx context.Context) (catalog.Menu, error) {
	var m catalog.Menu
	err := c.do(ctx, http.MethodGet, "/menu", nil, &m)
	return m, err
}

func (c *Client) Tables(ctx context.Context) ([]domain.Table, error) {
	var tables []domain.Table
	err := c.do(ctx, http.MethodGet, "/tables", nil, &tables)
	return tables, err
}

func (c *Client) Customer(ctx context.Context, id int64) (domain.Customer, error) {
	var cust domain.Customer
	err := c.do(ctx, http.MethodGet, "/customers/"+strconv.FormatInt(id, 10), nil, &cust)
	return cust, err
}

func (c *Client) FindCustomers(ctx context.Context, phone string) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := c.do(ctx, http.MethodGet, "/customers?phone="+url.QueryEscape(phone), nil, &customers)
	return customers, err
}

func (c *Client) CreateOrder(ctx context.Context, in order.CreateInput) (order.Detail, error) {
	var d order.Detail
	err := c.do(ctx, http.MethodPost, "/orders", in, &d)
	return d, err
}

// ListOrders lists orders with the given status ("" for open ones) and
// optional table.
func (c *Client) ListOrders(ctx context.Context, status string, tableID int64) ([]domain.Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if tableID > 0 {
		q.Set("table", strconv.FormatInt(tableID, 10))
	}
	path := "/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var orders []domain.Order
	err := c.do(ctx, http.MethodGet, path, nil, &orders)
	return orders, err
}

func (c *Client) Order(ctx context.Context, id int64) (order.Detail, error) {
	var d order.Detail
	err := c.do(ctx, http.MethodGet, orderPath(id, ""), nil, &d)
	return d, err
}

func (c *Client) OrderLines(ctx context.Context, id int64) ([]domain.OrderLine, error) {
	var lines []domain.OrderLine
	err := c.do(ctx, http.MethodGet, orderPath(id, "/items"), nil, &lines)
	return lines, err
}

// AddItem, UpdateItem, RemoveItem, UpdatePointsUsed and DeleteOrder send a
// positive version as If-Match.
func (c *Client) AddItem(ctx context.Context, id int64, in order.AddItemInput, version int64) error {
	return c.doWithHeaders(ctx, http.MethodPost, orderPath(id, "/items"), in, nil, ifMatch(version))
}

func (c *Client) UpdateItem(ctx context.Context, id, lineID int64, in order.UpdateItemInput, version int64) error {
	return c.doWithHeaders(ctx, http.MethodPut, linePath(id, lineID), in, nil, ifMatch(version))
}

func (c *Client) RemoveItem(ctx context.Context, id, lineID, version int64) error {
	return c.doWithHeaders(ctx, http.MethodDelete, linePath(id, lineID), nil, nil, ifMatch(version))
}

func (c *Client) ChangeTable(ctx context.Context, id, tableID int64) error {
	return c.do(ctx, http.MethodPut, orderPath(id, ""), map[string]int64{"MaBan": tableID}, nil)
}

// ChangeCustomer attaches customerID, or detaches the customer when nil.
func (c *Client) ChangeCustomer(ctx context.Context, id int64, customerID *int64) error {
	return c.do(ctx, http.MethodPut, orderPath(id, ""), map[string]*int64{"MaKH": customerID}, nil)
}

func (c *Client) UpdatePointsUsed(ctx context.Context, id, points, version int64) error {
	return c.doWithHeaders(ctx, http.MethodPut, orderPath(id, ""), map[string]int64{"DiemSuDung": points}, nil, ifMatch(version))
}

func (c *Client) Complete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPut, orderPath(id, ""), map[string]string{"TrangThai": string(domain.OrderCompleted)}, nil)
}

func (c *Client) Cancel(ctx context.Context, id int64, reason string) error {
	return c.do(ctx, http.MethodPatch, orderPath(id, "/cancel"), map[string]string{"reason": reason}, nil)
}

func (c *Client) DeleteOrder(ctx context.Context, id int64, force bool, version int64) error {
	return c.doWithHeaders(ctx, http.MethodDelete, orderPath(id, "?force="+strconv.FormatBool(force)), nil, nil, ifMatch(version))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithHeaders(ctx, method, path, body, out, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_" + strconv.Itoa(resp.StatusCode)
			apiErr.Message = ""
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func orderPath(id int64, rest string) string {
	return "/orders/" + strconv.FormatInt(id, 10) + rest
}

func linePath(id, lineID int64) string {
	return orderPath(id, "/items/"+strconv.FormatInt(lineID, 10))
}

func ifMatch(version int64) map[string]string {
	if version <= 0 {
		return nil
	}
	return map[string]string{"If-Match": strconv.Quote(strconv.FormatInt(version, 10))}
}
