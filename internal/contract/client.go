// Package contract talks to the peer network's contract API: nonce issue,
// transaction preparation and (simulated or real) submission.
package contract

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/tuxedex/internal/normalize"
	"github.com/quantumauth-io/tuxedex/internal/upstream"
)

var (
	ErrEmptyNonce      = errors.New("peer returned no nonce")
	ErrEmptyPreparedTx = errors.New("peer returned no prepared transaction")
)

// StatusError is a non-2xx answer from the contract API.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string { return e.Message }

// Message is the text shown for err: the peer's own message when err came
// from a non-2xx answer, err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

type PrepareRequest struct {
	PreparedCommand string `json:"prepared_command"`
	Address         string `json:"address"`
	Nonce           string `json:"nonce"`
}

type SubmitRequest struct {
	Tx              string `json:"tx"`
	PreparedCommand string `json:"prepared_command"`
	Address         string `json:"address"`
	Signature       string `json:"signature"`
	Nonce           string `json:"nonce"`
	Sim             bool   `json:"sim"`
}

type Client struct {
	up       *upstream.Client
	basePath string
}

// New returns a client rooted at basePath below the upstream prefix.
func New(up *upstream.Client, basePath string) *Client {
	return &Client{up: up, basePath: "/" + strings.Trim(basePath, "/")}
}

// Forward passes a request through to <basePath><sub> unchanged.
func (c *Client) Forward(ctx context.Context, method, sub string, body []byte) (*upstream.Response, error) {
	var header http.Header
	if body != nil {
		header = http.Header{"Content-Type": {"application/json"}}
	}
	return c.up.Do(ctx, method, c.basePath+sub, body, header)
}

// Nonce fetches a fresh nonce as lowercase hex.
func (c *Client) Nonce(ctx context.Context) (string, error) {
	var out struct {
		Nonce any `json:"nonce"`
	}
	if err := c.call(ctx, http.MethodGet, "/nonce", nil, &out); err != nil {
		return "", errors.Wrap(err, "fetch nonce")
	}
	nonce := normalize.Hex(normalize.Text(out.Nonce))
	if nonce == "" {
		return "", ErrEmptyNonce
	}
	return nonce, nil
}

// Prepare asks the peer for the unsigned transaction hash of req.
func (c *Client) Prepare(ctx context.Context, req PrepareRequest) (string, error) {
	var out struct {
		Tx any `json:"tx"`
	}
	if err := c.call(ctx, http.MethodPost, "/tx/prepare", req, &out); err != nil {
		return "", errors.Wrap(err, "prepare transaction")
	}
	tx := normalize.Hex(normalize.Text(out.Tx))
	if tx == "" {
		return "", ErrEmptyPreparedTx
	}
	return tx, nil
}

// Submit posts req; only the status matters.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) error {
	phase := "commit"
	if req.Sim {
		phase = "simulate"
	}
	if err := c.call(ctx, http.MethodPost, "/tx", req, nil); err != nil {
		return errors.Wrapf(err, "submit transaction (%s)", phase)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, sub string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = b
	}

	resp, err := c.Forward(ctx, method, sub, body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return statusError(resp)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	// Unexpected shapes leave out zero; the caller decides what empty means.
	_ = json.Unmarshal(resp.Body, out)
	return nil
}

func statusError(resp *upstream.Response) *StatusError {
	var body struct {
		Error any `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		msg = normalize.Text(body.Error)
	}
	if msg == "" {
		msg = "request failed with status " + strconv.Itoa(resp.Status)
	}
	return &StatusError{Status: resp.Status, Message: msg}
}
