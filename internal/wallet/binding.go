// Package wallet binds the agent to a SigningProvider and tracks the
// connected identity.
package wallet

import (
	"context"
	"regexp"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/tuxedex/internal/normalize"
)

var (
	ErrNoProvider   = errors.New("wallet provider not found")
	ErrNoAccount    = errors.New("wallet returned no account")
	ErrNotConnected = errors.New("wallet not connected")
)

var notConnectedPattern = regexp.MustCompile(`(?i)not\s*connected`)

// IsNotConnected reports whether err means "the wallet is simply not
// connected", which callers treat as a silent downgrade.
func IsNotConnected(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotConnected) || notConnectedPattern.MatchString(err.Error())
}

// Binding is the state machine Undetected -> Detected -> Connected around a
// single provider.
type Binding struct {
	mu       sync.RWMutex
	provider SigningProvider
	status   Status
	identity Identity

	feed event.Feed
}

func NewBinding() *Binding {
	return &Binding{}
}

// Detect installs p. Installing a provider resets any previous identity.
func (b *Binding) Detect(p SigningProvider) {
	if p == nil {
		return
	}
	b.mu.Lock()
	b.provider = p
	b.status = Detected
	b.identity = Identity{}
	b.mu.Unlock()

	b.feed.Send(Identity{})
}

func (b *Binding) Provider() (SigningProvider, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.provider, b.provider != nil
}

func (b *Binding) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Binding) Identity() Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.identity
}

// LookupKey derives the per-wallet state key. ok is false while no public
// key is known.
func (b *Binding) LookupKey(prefix string) (string, bool) {
	id := b.Identity()
	if id.PublicKey == "" {
		return "", false
	}
	return prefix + id.PublicKey, true
}

// SubscribeIdentity delivers the identity after every change. Slow
// receivers block the sender, so give ch a buffer.
func (b *Binding) SubscribeIdentity(ch chan<- Identity) event.Subscription {
	return b.feed.Subscribe(ch)
}

// Connect asks the provider for an account and then loads the full identity.
func (b *Binding) Connect(ctx context.Context) (Identity, error) {
	p, ok := b.Provider()
	if !ok {
		return Identity{}, ErrNoProvider
	}

	addr, err := p.RequestAccount(ctx)
	if err != nil {
		return Identity{}, errors.Wrap(err, "request wallet account")
	}
	if addr == "" {
		return Identity{}, ErrNoAccount
	}
	return b.Refresh(ctx)
}

// Refresh reloads address and public key. On failure the identity is
// cleared and the binding drops back to Detected; a "not connected" failure
// wraps ErrNotConnected so callers can stay silent about it.
func (b *Binding) Refresh(ctx context.Context) (Identity, error) {
	p, ok := b.Provider()
	if !ok {
		return Identity{}, ErrNoProvider
	}

	id, err := loadIdentity(ctx, p)
	if err != nil {
		b.set(Detected, Identity{})
		if IsNotConnected(err) {
			if errors.Is(err, ErrNotConnected) {
				return Identity{}, err
			}
			return Identity{}, errors.Wrapf(ErrNotConnected, "%v", err)
		}
		return Identity{}, errors.Wrap(err, "refresh wallet identity")
	}

	status := Detected
	if id.Connected() {
		status = Connected
	}
	b.set(status, id)
	return id, nil
}

// Watch refreshes the identity whenever the provider announces an account
// or network change. onRefresh, when set, sees every refresh outcome.
// It returns when ctx is done or the provider subscription fails.
func (b *Binding) Watch(ctx context.Context, onRefresh func(Identity, error)) error {
	p, ok := b.Provider()
	if !ok {
		return ErrNoProvider
	}
	src, ok := p.(EventSource)
	if !ok {
		<-ctx.Done()
		return nil
	}

	events := make(chan ProviderEvent, 4)
	sub := src.SubscribeEvents(events)
	if sub == nil {
		<-ctx.Done()
		return nil
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case ev := <-events:
			id, err := b.Refresh(ctx)
			if err != nil && !IsNotConnected(err) {
				log.Warn("wallet refresh failed", "event", string(ev.Kind), "error", err)
			} else {
				log.Info("wallet identity refreshed", "event", string(ev.Kind), "address", id.Address)
			}
			if onRefresh != nil {
				onRefresh(id, err)
			}
		}
	}
}

func (b *Binding) set(status Status, id Identity) {
	b.mu.Lock()
	changed := b.status != status || b.identity != id
	b.status = status
	b.identity = id
	b.mu.Unlock()

	if changed {
		b.feed.Send(id)
	}
}

func loadIdentity(ctx context.Context, p SigningProvider) (Identity, error) {
	addr, err := p.Address(ctx)
	if err != nil {
		return Identity{}, err
	}
	pub, err := p.PublicKey(ctx)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Address: addr, PublicKey: normalize.Hex(pub)}, nil
}
