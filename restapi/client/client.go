// Package client is a docstore.Backend talking to the docstore REST API, letting
// sessions run against a remote gateway.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
	"github.com/sharedcode/docstore/restapi"
)

// Config holds the gateway address and credentials.
type Config struct {
	// BaseURL of the API, e.g. "http://localhost:8080/api/v1".
	BaseURL string `json:"base_url"`
	// Token is sent as bearer token when not empty.
	Token string `json:"-"`
	// Timeout per request, defaults to 30 seconds.
	Timeout time.Duration `json:"timeout"`
}

// Client implements docstore.Backend over HTTP.
type Client struct {
	config Config
	http   *http.Client
}

var _ docstore.Backend = (*Client)(nil)

// New returns a client for cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url can't be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{config: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Execute posts commands to /batch.
func (c *Client) Execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	body, err := encoding.DefaultMarshaler.Marshal(restapi.BatchRequest{Commands: commands})
	if err != nil {
		return nil, err
	}
	var r restapi.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/batch", bytes.NewReader(body), &r); err != nil {
		return nil, err
	}
	return r.Results, nil
}

// Get fetches documents from /docs.
func (c *Client) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	var r restapi.DocumentsResponse
	if err := c.do(ctx, http.MethodGet, "/docs?"+q.Encode(), nil, &r); err != nil {
		return nil, err
	}
	if len(r.Documents) != len(ids) {
		return nil, docstore.NewError(docstore.TransportFailure, nil, "got %d documents for %d ids", len(r.Documents), len(ids))
	}
	return r.Documents, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	var ba []byte
	var status int
	// Only reads are retried, a batch may have been applied before its reply got lost.
	task := func(ctx context.Context) error {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			return docstore.RetryableError(fmt.Errorf("%s %s failed: %w", method, path, err))
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		if ba, err = io.ReadAll(resp.Body); err != nil {
			return docstore.RetryableError(err)
		}
		return nil
	}
	if method == http.MethodGet {
		err = docstore.Retry(ctx, task, nil)
	} else {
		err = task(ctx)
	}
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return decodeError(status, ba)
	}
	return encoding.DefaultMarshaler.Unmarshal(ba, out)
}

func decodeError(status int, ba []byte) error {
	var er restapi.ErrorResponse
	if err := encoding.DefaultMarshaler.Unmarshal(ba, &er); err != nil || er.Message == "" {
		return fmt.Errorf("gateway responded %d: %s", status, strings.TrimSpace(string(ba)))
	}
	if code := docstore.ParseErrorCode(er.Code); code != docstore.Unknown {
		return docstore.NewError(code, nil, "%s", er.Message)
	}
	return fmt.Errorf("gateway responded %d: %s", status, er.Message)
}
