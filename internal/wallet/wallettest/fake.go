// Package wallettest provides a scriptable SigningProvider for tests.
package wallettest

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

// Provider is an in-memory SigningProvider. Zero value is a connected-less
// wallet; set the fields before use.
type Provider struct {
	mu sync.Mutex

	Account   string
	Addr      string
	PubKey    string
	AddrErr   error
	PubErr    error
	AcctErr   error
	SignReply string
	SignErr   error

	SignCalls []wallet.SignRequest

	feed event.Feed
}

func (p *Provider) RequestAccount(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Account, p.AcctErr
}

func (p *Provider) Address(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Addr, p.AddrErr
}

func (p *Provider) PublicKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PubKey, p.PubErr
}

func (p *Provider) SignTx(ctx context.Context, req wallet.SignRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SignCalls = append(p.SignCalls, req)
	return p.SignReply, p.SignErr
}

func (p *Provider) SubscribeEvents(ch chan<- wallet.ProviderEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}

// Emit announces an event to subscribers and returns how many received it.
func (p *Provider) Emit(kind wallet.EventKind) int {
	return p.feed.Send(wallet.ProviderEvent{Kind: kind})
}

// Update mutates the provider under its lock.
func (p *Provider) Update(fn func(*Provider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// Signed returns a copy of the recorded sign requests.
func (p *Provider) Signed() []wallet.SignRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]wallet.SignRequest(nil), p.SignCalls...)
}
