package http

import (
	"net/http"

	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{JSONKeyStatus: "ok"})
}

// GET /api/state?key=<key> relays upstream GET /state untouched.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.upstream.State(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		s.upstreamFailed(w, r, err)
		return
	}
	writeUpstream(w, resp)
}

// POST /api/tx relays a {command} body to upstream POST /tx.
func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	body, err := readRawBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	resp, err := s.upstream.SubmitTx(r.Context(), body)
	if err != nil {
		s.upstreamFailed(w, r, err)
		return
	}
	writeUpstream(w, resp)
}

func (s *Server) handleContract(sub string) Handler {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readRawBody(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		resp, err := s.contract.Forward(r.Context(), r.Method, sub, body)
		if err != nil {
			s.upstreamFailed(w, r, err)
			return
		}
		writeUpstream(w, resp)
	}
}

func (s *Server) upstreamFailed(w http.ResponseWriter, r *http.Request, err error) {
	log.Warn("upstream request failed",
		"path", r.URL.Path,
		"request_id", w.Header().Get(requestIDHeader),
		"error", err,
	)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
}

func (s *Server) handleDex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, walletResponse{
		Status:   s.wallet.Status().String(),
		Identity: s.wallet.Identity(),
	})
}

func (s *Server) handleWalletConnect(w http.ResponseWriter, r *http.Request) {
	id, err := s.wallet.Connect(r.Context())
	if err != nil {
		log.Warn("wallet connect failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{Status: s.wallet.Status().String(), Identity: id})
}

// POST /api/wallet/disconnect, for providers that can drop the session.
func (s *Server) handleWalletDisconnect(w http.ResponseWriter, r *http.Request) {
	p, ok := s.wallet.Provider()
	if !ok {
		writeError(w, wallet.ErrNoProvider)
		return
	}
	d, ok := p.(interface{ Disconnect() })
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "wallet cannot disconnect"})
		return
	}
	d.Disconnect()
	// the provider event refreshes the binding asynchronously; report the
	// outcome we know
	writeJSON(w, http.StatusOK, walletResponse{Status: wallet.Detected.String()})
}

type networkRequest struct {
	Network string `json:"network"`
}

// POST /api/wallet/network {network}, for providers that can switch networks.
func (s *Server) handleWalletNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Network == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "network required"})
		return
	}

	p, ok := s.wallet.Provider()
	if !ok {
		writeError(w, wallet.ErrNoProvider)
		return
	}
	n, ok := p.(interface{ SetNetwork(string) })
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "wallet cannot switch networks"})
		return
	}
	n.SetNetwork(req.Network)
	writeJSON(w, http.StatusOK, map[string]any{JSONKeyOK: true, "network": req.Network})
}

// POST /api/catch runs one attempt. At most one runs at a time; a success
// schedules a state refresh.
func (s *Server) handleCatch(w http.ResponseWriter, r *http.Request) {
	if err := s.state.BeginCatch(); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.catcher.Catch(r.Context())
	s.state.EndCatch(err)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.poller != nil {
		s.poller.Refresh()
	}
	writeJSON(w, http.StatusOK, catchResponse{OK: true, Result: res})
}
