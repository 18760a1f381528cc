// Package aptos implements a client to the REST API of an Aptos node. Payloads are passed through to the node as
// they are, replies other than success are returned as *types.APIError carrying the reply body.
package aptos

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

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
	"github.com/tarancss/aptosweb3/lib/metrics"
)

// Default values of the client.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultMaxGas       = 1000
	DefaultGasUnitPrice = 1
	DefaultGasCurrency  = "XUS"
	DefaultExpiration   = 600 * time.Second
)

// Client is a connection to an Aptos node.
type Client struct {
	node     string
	client   *http.Client
	poll     time.Duration
	finality time.Duration
	m        *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the http.Client used for requests. The default client applies no timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithPollInterval sets how often a pending transaction is checked.
func WithPollInterval(d time.Duration) Option {
	return func(cl *Client) {
		cl.poll = d
	}
}

// WithFinalityTimeout bounds WaitForTransaction. Zero leaves the wait bounded only by the context.
func WithFinalityTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.finality = d
	}
}

// WithMetrics records every request in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) {
		cl.m = m
	}
}

// New returns a client to the node at nodeURL.
func New(nodeURL string, opts ...Option) *Client {
	c := &Client{
		node:   strings.TrimRight(nodeURL, "/"),
		client: &http.Client{},
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NodeURL returns the url of the node.
func (c *Client) NodeURL() string {
	return c.node
}

// do sends a request to the node and returns the status and body of the reply. in is marshalled as JSON when not
// nil.
func (c *Client) do(ctx context.Context, name, method, path string, in interface{}) (int, []byte, error) {
	var body io.Reader

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s request: %w", name, err)
		}

		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.node+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", name, err)
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		c.m.ObserveNode(name, 0, time.Since(start))

		return 0, nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	c.m.ObserveNode(name, resp.StatusCode, time.Since(start))

	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s reply: %w", name, err)
	}

	log.WithFields(log.Fields{"node": c.node, "path": path, "status": resp.StatusCode}).Debug(name)

	return resp.StatusCode, b, nil
}

// call sends a request expecting a 2xx reply that is decoded into out when out is not nil.
func (c *Client) call(ctx context.Context, name, method, path string, in, out interface{}) error {
	status, b, err := c.do(ctx, name, method, path, in)
	if err != nil {
		return err
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return &types.APIError{Status: status, Body: string(b)}
	}

	if out != nil {
		if err = json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("decode %s reply: %w", name, err)
		}
	}

	return nil
}

// GetLedgerInfo returns the chain id and ledger version of the node.
func (c *Client) GetLedgerInfo(ctx context.Context) (li types.LedgerInfo, err error) {
	err = c.call(ctx, "ledger_info", http.MethodGet, "/", nil, &li)

	return
}

// GetAccount returns the sequence number and authentication key of an account.
func (c *Client) GetAccount(ctx context.Context, address string) (a types.AccountData, err error) {
	err = c.call(ctx, "account", http.MethodGet, "/accounts/"+url.PathEscape(address), nil, &a)

	return
}

// GetAccountResources returns all the resources stored under an account.
func (c *Client) GetAccountResources(ctx context.Context, address string) (rs []types.AccountResource, err error) {
	err = c.call(ctx, "account_resources", http.MethodGet, "/accounts/"+url.PathEscape(address)+"/resources", nil,
		&rs)

	return
}

// GetAccountResource returns the resource of type resourceType stored under an account.
func (c *Client) GetAccountResource(ctx context.Context, address, resourceType string) (r types.AccountResource,
	err error,
) {
	err = c.call(ctx, "account_resource", http.MethodGet,
		"/accounts/"+url.PathEscape(address)+"/resource/"+url.PathEscape(resourceType), nil, &r)

	return
}

// GetEventsByEventHandle returns the events of the handle field of struct eventHandleStruct under an account.
func (c *Client) GetEventsByEventHandle(ctx context.Context, address, eventHandleStruct, field string) (
	evs []types.Event, err error,
) {
	err = c.call(ctx, "events", http.MethodGet, "/accounts/"+url.PathEscape(address)+"/events/"+
		url.PathEscape(eventHandleStruct)+"/"+url.PathEscape(field), nil, &evs)

	return
}

// TableItem looks up key in the table referenced by handle. A missing item yields a nil item and no error, any
// other reply but 200 yields a *types.APIError with the reply body.
func (c *Client) TableItem(ctx context.Context, handle, keyType, valueType string, key interface{}) (
	json.RawMessage, error,
) {
	status, b, err := c.do(ctx, "table_item", http.MethodPost, "/tables/"+url.PathEscape(handle)+"/item",
		types.TableItemRequest{KeyType: keyType, ValueType: valueType, Key: key})
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return b, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, &types.APIError{Status: status, Body: string(b)}
	}
}

// GetTableItem looks up an item and decodes it into out. A missing item is reported with an error matching
// types.ErrNotFound.
func (c *Client) GetTableItem(ctx context.Context, handle string, req types.TableItemRequest, out interface{}) error {
	return c.call(ctx, "table_item", http.MethodPost, "/tables/"+url.PathEscape(handle)+"/item", req, out)
}

// GetTransaction returns a transaction by hash or version.
func (c *Client) GetTransaction(ctx context.Context, hashOrVersion string) (tx types.Transaction, err error) {
	err = c.call(ctx, "transaction", http.MethodGet, "/transactions/"+url.PathEscape(hashOrVersion), nil, &tx)

	return
}
