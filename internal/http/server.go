// Package http is the agent's local HTTP surface: the upstream proxy routes,
// the contract pass-through, the dex/wallet/catch API and the embedded page.
package http

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/tuxedex/internal/catch"
	"github.com/quantumauth-io/tuxedex/internal/contract"
	"github.com/quantumauth-io/tuxedex/internal/httpui"
	"github.com/quantumauth-io/tuxedex/internal/session"
	"github.com/quantumauth-io/tuxedex/internal/upstream"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

// Catcher runs one catch attempt.
type Catcher interface {
	Catch(ctx context.Context) (*catch.Result, error)
}

// Refresher requests an out-of-band state fetch.
type Refresher interface {
	Refresh()
}

type Deps struct {
	Upstream *upstream.Client
	Contract *contract.Client
	Wallet   *wallet.Binding
	Catcher  Catcher
	State    *session.State
	Poller   Refresher

	// AllowedOrigins lists the browser origins allowed to call the API.
	// Requests without an Origin header are not affected.
	AllowedOrigins []string
}

type Server struct {
	mux *http.ServeMux

	upstream *upstream.Client
	contract *contract.Client
	wallet   *wallet.Binding
	catcher  Catcher
	state    *session.State
	poller   Refresher

	uiAllowedOrigins map[string]struct{}
}

func NewServer(d Deps) (*Server, error) {
	if d.Upstream == nil || d.Contract == nil || d.Wallet == nil || d.Catcher == nil || d.State == nil {
		return nil, errors.New("http server: missing dependency")
	}

	s := &Server{
		mux:      http.NewServeMux(),
		upstream: d.Upstream,
		contract: d.Contract,
		wallet:   d.Wallet,
		catcher:  d.Catcher,
		state:    d.State,
		poller:   d.Poller,
	}

	s.uiAllowedOrigins = make(map[string]struct{}, len(d.AllowedOrigins))
	for _, o := range d.AllowedOrigins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		s.uiAllowedOrigins[o] = struct{}{}
	}

	get := func(h Handler) http.HandlerFunc {
		return s.withAgentGuards(http.MethodGet, http.HandlerFunc(requireMethod(http.MethodGet, h)))
	}
	post := func(h Handler) http.HandlerFunc {
		return s.withAgentGuards(http.MethodPost, http.HandlerFunc(requireMethod(http.MethodPost, h)))
	}

	s.mux.HandleFunc("/healthz", get(s.handleHealth))

	// upstream pass-through
	s.mux.HandleFunc("/api/state", get(s.handleState))
	s.mux.HandleFunc("/api/tx", post(s.handleTx))

	// peer contract pass-through
	s.mux.HandleFunc("/api/contract/nonce", get(s.handleContract("/nonce")))
	s.mux.HandleFunc("/api/contract/tx/prepare", post(s.handleContract("/tx/prepare")))
	s.mux.HandleFunc("/api/contract/tx", post(s.handleContract("/tx")))

	// agent
	s.mux.HandleFunc("/api/dex", get(s.handleDex))
	s.mux.HandleFunc("/api/wallet", get(s.handleWallet))
	s.mux.HandleFunc("/api/wallet/connect", post(s.handleWalletConnect))
	s.mux.HandleFunc("/api/wallet/disconnect", post(s.handleWalletDisconnect))
	s.mux.HandleFunc("/api/wallet/network", post(s.handleWalletNetwork))
	s.mux.HandleFunc("/api/catch", post(s.handleCatch))

	// attach the page last so it doesn't steal API routes
	ui, err := httpui.Handler()
	if err != nil {
		return nil, err
	}
	s.mux.Handle("/", ui)

	return s, nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
