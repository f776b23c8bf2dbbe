package wallet_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tuxedex/internal/wallet"
	"github.com/quantumauth-io/tuxedex/internal/wallet/wallettest"
)

func connectedProvider() *wallettest.Provider {
	return &wallettest.Provider{
		Account: "trac1alice",
		Addr:    "trac1alice",
		PubKey:  "0xABCDEF",
	}
}

func TestBinding_StartsUndetected(t *testing.T) {
	b := wallet.NewBinding()
	assert.Equal(t, wallet.Undetected, b.Status())

	_, err := b.Connect(context.Background())
	require.ErrorIs(t, err, wallet.ErrNoProvider)

	_, ok := b.LookupKey("app/")
	assert.False(t, ok)
}

func TestBinding_ConnectLoadsIdentity(t *testing.T) {
	b := wallet.NewBinding()
	b.Detect(connectedProvider())
	assert.Equal(t, wallet.Detected, b.Status())

	id, err := b.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wallet.Identity{Address: "trac1alice", PublicKey: "abcdef"}, id)
	assert.Equal(t, wallet.Connected, b.Status())

	key, ok := b.LookupKey("app/tuxedex/")
	require.True(t, ok)
	assert.Equal(t, "app/tuxedex/abcdef", key)
}

func TestBinding_ConnectEmptyAccount(t *testing.T) {
	p := connectedProvider()
	p.Account = ""
	b := wallet.NewBinding()
	b.Detect(p)

	_, err := b.Connect(context.Background())
	require.ErrorIs(t, err, wallet.ErrNoAccount)
	assert.Equal(t, wallet.Detected, b.Status())
}

func TestBinding_RefreshNotConnectedIsSilentDowngrade(t *testing.T) {
	p := connectedProvider()
	b := wallet.NewBinding()
	b.Detect(p)
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	p.Update(func(p *wallettest.Provider) { p.AddrErr = errors.New("Wallet is Not Connected") })

	id, err := b.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, wallet.IsNotConnected(err))
	assert.ErrorIs(t, err, wallet.ErrNotConnected)
	assert.True(t, stderrors.Is(err, wallet.ErrNotConnected))
	assert.Contains(t, err.Error(), "Wallet is Not Connected")
	assert.Equal(t, wallet.Identity{}, id)
	assert.Equal(t, wallet.Detected, b.Status())
}

func TestBinding_RefreshOtherFailureSurfaces(t *testing.T) {
	p := connectedProvider()
	b := wallet.NewBinding()
	b.Detect(p)
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	p.Update(func(p *wallettest.Provider) { p.PubErr = errors.New("extension crashed") })

	_, err = b.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, wallet.IsNotConnected(err))
	assert.Contains(t, err.Error(), "extension crashed")
	assert.Equal(t, wallet.Identity{}, b.Identity())
	assert.Equal(t, wallet.Detected, b.Status())
}

func TestBinding_WatchRefreshesOnProviderEvents(t *testing.T) {
	p := connectedProvider()
	b := wallet.NewBinding()
	b.Detect(p)
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refreshed := make(chan wallet.Identity, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, func(id wallet.Identity, err error) { refreshed <- id })
	}()

	p.Update(func(p *wallettest.Provider) {
		p.Addr = "trac1bob"
		p.PubKey = "0X0102"
	})
	require.Eventually(t, func() bool { return p.Emit(wallet.AccountsChanged) == 1 }, time.Second, 5*time.Millisecond)

	select {
	case id := <-refreshed:
		assert.Equal(t, wallet.Identity{Address: "trac1bob", PublicKey: "0102"}, id)
	case <-time.After(time.Second):
		t.Fatal("no refresh after accountsChanged")
	}

	p.Update(func(p *wallettest.Provider) { p.AddrErr = errors.New("not connected") })
	p.Emit(wallet.NetworkChanged)
	select {
	case id := <-refreshed:
		assert.Equal(t, wallet.Identity{}, id)
	case <-time.After(time.Second):
		t.Fatal("no refresh after networkChanged")
	}
	assert.Equal(t, wallet.Detected, b.Status())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestBinding_SubscribeIdentityNotifiesOnChange(t *testing.T) {
	b := wallet.NewBinding()
	ch := make(chan wallet.Identity, 8)
	sub := b.SubscribeIdentity(ch)
	defer sub.Unsubscribe()

	b.Detect(connectedProvider())
	assert.Equal(t, wallet.Identity{}, <-ch)

	_, err := b.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcdef", (<-ch).PublicKey)

	// unchanged refresh sends nothing
	_, err = b.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ch)
}

func TestIsNotConnected(t *testing.T) {
	assert.True(t, wallet.IsNotConnected(errors.New("wallet not connected")))
	assert.True(t, wallet.IsNotConnected(errors.New("NotConnected")))
	assert.True(t, wallet.IsNotConnected(errors.Wrap(wallet.ErrNotConnected, "x")))
	assert.False(t, wallet.IsNotConnected(errors.New("connection refused")))
	assert.False(t, wallet.IsNotConnected(nil))
}
