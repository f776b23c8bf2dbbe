package http

import (
	"github.com/quantumauth-io/tuxedex/internal/catch"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

type corsPolicy struct {
	allowedOrigins map[string]struct{}
	allowMethods   string

	allowHeaders string
	maxAge       int
}

type errorResponse struct {
	Error string `json:"error"`
}

type walletResponse struct {
	Status   string          `json:"status"`
	Identity wallet.Identity `json:"identity"`
}

type catchResponse struct {
	OK     bool          `json:"ok"`
	Result *catch.Result `json:"result,omitempty"`
}
