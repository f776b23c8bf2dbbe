// Package catch runs a catch attempt against the peer network: nonce,
// prepare, wallet signature, simulate, commit. Every step depends on the
// previous one and nothing is retried.
package catch

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/tuxedex/internal/contract"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

var (
	ErrNoProvider  = wallet.ErrNoProvider
	ErrNoPublicKey = errors.New("wallet public key unknown, connect the wallet first")
	ErrNoAddress   = errors.New("wallet address unknown, connect the wallet first")
)

// PreconditionError means the attempt never started; no network call was made.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string { return e.Err.Error() }
func (e *PreconditionError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err stopped an attempt before any network call.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsSignature reports whether err is a rejected wallet signature.
func IsSignature(err error) bool {
	return errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrSignedHashMismatch)
}

// PreparedCommand is the declarative action sent to the peer.
type PreparedCommand struct {
	Type  string         `json:"type"`
	Value map[string]any `json:"value"`
}

// DefaultCommand is the catch command the page always sends.
func DefaultCommand() PreparedCommand {
	return PreparedCommand{Type: "catch", Value: map[string]any{"msg": "hi"}}
}

// Peer is the contract API the flow needs.
type Peer interface {
	Nonce(ctx context.Context) (string, error)
	Prepare(ctx context.Context, req contract.PrepareRequest) (string, error)
	Submit(ctx context.Context, req contract.SubmitRequest) error
}

// Wallet is the slice of the wallet binding the flow reads.
type Wallet interface {
	Provider() (wallet.SigningProvider, bool)
	Identity() wallet.Identity
}

// Result describes a committed attempt.
type Result struct {
	AttemptID string `json:"attemptId"`
	Tx        string `json:"tx"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

type Orchestrator struct {
	wallet  Wallet
	peer    Peer
	command PreparedCommand
	rnd     io.Reader

	locks keyedMutex
}

type Option func(*Orchestrator)

func WithCommand(cmd PreparedCommand) Option {
	return func(o *Orchestrator) { o.command = cmd }
}

// WithRandom replaces crypto/rand as the source of the sign request nonce.
func WithRandom(r io.Reader) Option {
	return func(o *Orchestrator) { o.rnd = r }
}

func New(w Wallet, peer Peer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		wallet:  w,
		peer:    peer,
		command: DefaultCommand(),
		rnd:     rand.Reader,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Catch runs one attempt. Attempts for the same public key are serialized.
func (o *Orchestrator) Catch(ctx context.Context) (*Result, error) {
	provider, id, err := o.preconditions()
	if err != nil {
		return nil, err
	}

	unlock := o.locks.lock(id.PublicKey)
	defer unlock()

	attempt := uuid.NewString()
	step := func(name string) {
		log.Info("catch step", "attempt", attempt, "step", name, "address", id.Address)
	}

	step("nonce")
	nonce, err := o.peer.Nonce(ctx)
	if err != nil {
		return nil, o.fail(attempt, "nonce", err)
	}

	cmd, err := json.Marshal(o.command)
	if err != nil {
		return nil, o.fail(attempt, "prepare", errors.Wrap(err, "encode command"))
	}

	step("prepare")
	tx, err := o.peer.Prepare(ctx, contract.PrepareRequest{
		PreparedCommand: string(cmd),
		Address:         id.PublicKey,
		Nonce:           nonce,
	})
	if err != nil {
		return nil, o.fail(attempt, "prepare", err)
	}

	req, err := BuildSignRequest(id.Address, tx, o.rnd)
	if err != nil {
		return nil, o.fail(attempt, "build", err)
	}

	step("sign")
	raw, err := provider.SignTx(ctx, req)
	if err != nil {
		return nil, o.fail(attempt, "sign", errors.Wrap(err, "wallet signing"))
	}
	signed := DecodeSignResponse(raw)
	if err := VerifySigned(tx, signed); err != nil {
		return nil, o.fail(attempt, "sign", err)
	}

	submit := contract.SubmitRequest{
		Tx:              tx,
		PreparedCommand: string(cmd),
		Address:         id.PublicKey,
		Signature:       signed.Is,
		Nonce:           nonce,
		Sim:             true,
	}

	step("simulate")
	if err := o.peer.Submit(ctx, submit); err != nil {
		return nil, o.fail(attempt, "simulate", err)
	}

	step("commit")
	submit.Sim = false
	if err := o.peer.Submit(ctx, submit); err != nil {
		return nil, o.fail(attempt, "commit", err)
	}

	log.Info("catch committed", "attempt", attempt, "tx", tx)
	return &Result{AttemptID: attempt, Tx: tx, Signature: signed.Is, Nonce: nonce}, nil
}

func (o *Orchestrator) preconditions() (wallet.SigningProvider, wallet.Identity, error) {
	provider, ok := o.wallet.Provider()
	if !ok {
		return nil, wallet.Identity{}, &PreconditionError{Err: ErrNoProvider}
	}
	id := o.wallet.Identity()
	if id.PublicKey == "" {
		return nil, id, &PreconditionError{Err: ErrNoPublicKey}
	}
	if id.Address == "" {
		return nil, id, &PreconditionError{Err: ErrNoAddress}
	}
	return provider, id, nil
}

func (o *Orchestrator) fail(attempt, step string, err error) error {
	log.Warn("catch failed", "attempt", attempt, "step", step, "error", err)
	return err
}

// keyedMutex hands out one mutex per key and drops it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
