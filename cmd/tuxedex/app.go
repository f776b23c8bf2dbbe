package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"

	"github.com/quantumauth-io/tuxedex/internal/catch"
	"github.com/quantumauth-io/tuxedex/internal/contract"
	"github.com/quantumauth-io/tuxedex/internal/poller"
	"github.com/quantumauth-io/tuxedex/internal/session"
	"github.com/quantumauth-io/tuxedex/internal/upstream"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
	"github.com/quantumauth-io/tuxedex/internal/wallet/localwallet"
)

// app is every long-lived component, wired from the loaded config.
type app struct {
	upstream *upstream.Client
	contract *contract.Client
	local    *localwallet.Wallet
	binding  *wallet.Binding
	catcher  *catch.Orchestrator
	state    *session.State
	poller   *poller.Poller
}

func newApp() (*app, error) {
	local, err := openWallet(false)
	if err != nil {
		return nil, err
	}
	if cfg.Wallet.Network != "" {
		local.SetNetwork(cfg.Wallet.Network)
	}

	up := newUpstream()
	peer := contract.New(up, cfg.Agent.ContractPath)

	binding := wallet.NewBinding()
	binding.Detect(local)

	state := session.New()

	return &app{
		upstream: up,
		contract: peer,
		local:    local,
		binding:  binding,
		catcher:  catch.New(binding, peer),
		state:    state,
		poller: poller.New(up, binding, state,
			poller.WithInterval(cfg.Agent.PollInterval),
			poller.WithKeyPrefix(cfg.Agent.StateKeyPrefix),
			poller.WithFields(cfg.Agent.Fields...),
		),
	}, nil
}

// newUpstream sets no client timeout on outbound calls; they end when the
// caller's context does.
func newUpstream() *upstream.Client {
	return upstream.NewClient(cfg.Upstream, nil)
}

func newStore() (*localwallet.Store, error) {
	store, err := localwallet.NewStore(cfg.Wallet.Keystore)
	if err != nil {
		return nil, err
	}
	store.Scheme = cfg.Wallet.SignatureScheme
	return store, nil
}

// openWallet unlocks (or creates) the keystore. confirm asks for the
// password twice when no keystore exists yet.
func openWallet(confirm bool) (*localwallet.Wallet, error) {
	store, err := newStore()
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(store.Path)
	creating := errors.Is(statErr, os.ErrNotExist)

	pw, err := walletPassword(creating && confirm)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(pw)

	return localwallet.Open(store, pw, cfg.Wallet.SignatureScheme)
}

// walletPassword takes TUXEDEX_PASSWORD when set and prompts otherwise.
func walletPassword(confirm bool) ([]byte, error) {
	if cfg.Wallet.Password != "" {
		return []byte(cfg.Wallet.Password), nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("wallet password required: set TUXEDEX_PASSWORD or run interactively")
	}

	pw, err := promptPassword("Wallet password: ")
	if err != nil {
		return nil, err
	}
	if !confirm {
		return pw, nil
	}

	again, err := promptPassword("Confirm password: ")
	if err != nil {
		zeroBytes(pw)
		return nil, err
	}
	defer zeroBytes(again)
	if string(pw) != string(again) {
		zeroBytes(pw)
		return nil, errors.New("passwords do not match")
	}
	return pw, nil
}

func promptPassword(prompt string) ([]byte, error) {
	_, _ = fmt.Fprint(os.Stderr, prompt)

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(os.Stderr) // best-effort newline

	if err != nil {
		zeroBytes(pw)
		return nil, errors.Wrap(err, "password input failed")
	}
	if len(strings.TrimSpace(string(pw))) == 0 {
		zeroBytes(pw)
		return nil, errors.New("password cannot be empty")
	}
	return pw, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
