package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/event"
)

// SigningProvider is the capability a wallet exposes to the agent. It is
// the Go side of the provider object a browser extension injects.
type SigningProvider interface {
	// RequestAccount asks the wallet to connect and returns the account address.
	RequestAccount(ctx context.Context) (string, error)
	Address(ctx context.Context) (string, error)
	PublicKey(ctx context.Context) (string, error)
	// SignTx signs req and returns the wallet's raw response string
	// (base64 JSON or plain JSON, depending on the wallet).
	SignTx(ctx context.Context, req SignRequest) (string, error)
}

// EventSource is implemented by providers that announce account or network
// switches. It is optional.
type EventSource interface {
	SubscribeEvents(ch chan<- ProviderEvent) event.Subscription
}

type EventKind string

const (
	AccountsChanged EventKind = "accountsChanged"
	NetworkChanged  EventKind = "networkChanged"
)

type ProviderEvent struct {
	Kind EventKind
}

// SignRequest is the transfer descriptor handed to the wallet. The wallet
// signs whatever is in Hash; BufferFields names the fields it must treat as
// raw hex buffers.
type SignRequest struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	Amount       string   `json:"amount"`
	Nonce        string   `json:"nonce"`
	Hash         string   `json:"hash"`
	BufferFields []string `json:"buffer_fields"`
}

// Identity is what the agent knows about the connected account.
// PublicKey is lowercase hex without 0x, empty when unknown.
type Identity struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

func (i Identity) Connected() bool {
	return i.Address != ""
}

type Status int

const (
	Undetected Status = iota
	Detected
	Connected
)

func (s Status) String() string {
	switch s {
	case Detected:
		return "detected"
	case Connected:
		return "connected"
	default:
		return "undetected"
	}
}
