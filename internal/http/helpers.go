package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/tuxedex/internal/catch"
	"github.com/quantumauth-io/tuxedex/internal/contract"
	"github.com/quantumauth-io/tuxedex/internal/session"
	"github.com/quantumauth-io/tuxedex/internal/upstream"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

func isLoopbackRequest(r *http.Request) bool {
	ra := r.RemoteAddr

	h, _, err := net.SplitHostPort(ra)
	if err != nil {
		ip := net.ParseIP(ra)
		return ip != nil && ip.IsLoopback()
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func isSafeLocalHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(strings.ToLower(host), "[]")
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

func normalizeOrigin(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	u, err := url.Parse(in)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSONBody(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// readRawBody returns the request body as-is, nil when empty.
func readRawBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return b, nil
}

// writeUpstream relays an upstream reply byte for byte.
func writeUpstream(w http.ResponseWriter, resp *upstream.Response) {
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), errorResponse{Error: contract.Message(err)})
}

// errorStatus maps flow errors onto HTTP statuses: the caller's fault or
// state is 409, a bad wallet signature 422, the peer 502.
func errorStatus(err error) int {
	var se *contract.StatusError
	switch {
	case catch.IsPrecondition(err),
		errors.Is(err, session.ErrCatchInFlight),
		errors.Is(err, wallet.ErrNoProvider),
		errors.Is(err, wallet.ErrNoAccount),
		wallet.IsNotConnected(err):
		return http.StatusConflict
	case catch.IsSignature(err):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
