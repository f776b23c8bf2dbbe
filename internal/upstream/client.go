// Package upstream forwards requests to the state/transaction service the
// agent sits in front of. It adds no retries and no transformation.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
)

const DefaultContentType = "application/json; charset=utf-8"

// Response is an upstream reply captured verbatim.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type Client struct {
	httpClient *http.Client
	cfg        Config
}

// NewClient returns a client for cfg. A nil httpClient means a plain
// http.Client with no timeout; hangs are bounded only by the transport.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg.Normalize(),
	}
}

func (c *Client) Config() Config { return c.cfg }

// Do sends one request to pathname (relative to the configured prefix) and
// returns status, body and content type unchanged.
func (c *Client) Do(ctx context.Context, method, pathname string, body []byte, header http.Header) (*Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	target := c.cfg.URL(pathname)
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, errors.Wrapf(err, "build upstream request %s %s", method, target)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "upstream %s %s", method, target)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read upstream body %s %s", method, target)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = DefaultContentType
	}
	return &Response{Status: resp.StatusCode, Body: b, ContentType: ct}, nil
}

// State fetches GET /state?key=<key>.
func (c *Client) State(ctx context.Context, key string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, StatePath(key), nil, http.Header{"Cache-Control": {"no-store"}})
}

// SubmitTx forwards a raw {command} body to POST /tx.
func (c *Client) SubmitTx(ctx context.Context, body []byte) (*Response, error) {
	return c.Do(ctx, http.MethodPost, "/tx", body, http.Header{"Content-Type": {"application/json"}})
}
