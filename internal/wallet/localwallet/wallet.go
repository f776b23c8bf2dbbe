// Package localwallet is a SigningProvider backed by an encrypted keystore
// on disk. It signs with a circl signature scheme and answers in the same
// base64 envelope browser wallets use.
package localwallet

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/quantumauth-io/tuxedex/internal/constants"
	"github.com/quantumauth-io/tuxedex/internal/normalize"
	"github.com/quantumauth-io/tuxedex/internal/securefile"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

var (
	ErrUnknownScheme  = errors.New("unknown signature scheme")
	ErrSchemeMismatch = errors.New("keystore was created with a different signature scheme")
	ErrBadHash        = errors.New("hash must be non-empty hex")
)

// Keystore is the decrypted keystore document.
type Keystore struct {
	Version   int    `json:"version"`
	Scheme    string `json:"scheme"`
	SeedB64   string `json:"seed_b64"`
	CreatedAt string `json:"created_at,omitempty"` // RFC3339
}

type Store struct {
	Path string
	// Scheme is used when Ensure has to create a keystore.
	Scheme string
	Opt    securefile.Options
}

// NewStore sets up a keystore at path, or at the canonical config path when
// path is empty.
func NewStore(path string) (*Store, error) {
	if path == "" {
		paths, err := securefile.ConfigPathCandidates(constants.AppName, constants.WalletFile)
		if err != nil {
			return nil, err
		}
		path = paths[0]
	}
	return &Store{
		Path:   path,
		Scheme: constants.DefaultSignatureScheme,
		Opt: securefile.Options{
			// must be identical for read and write
			AADFunc: func(_ string) []byte { return []byte(constants.KeystoreAAD) },
		},
	}, nil
}

// Ensure loads the keystore or creates and persists a new one if missing.
func (s *Store) Ensure(password []byte) (*Keystore, error) {
	ks, err := securefile.ReadEncryptedJSON[Keystore](s.Path, password, s.Opt)
	if err == nil {
		return &ks, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "load keystore %s", s.Path)
	}

	nk, err := NewKeystore(s.Scheme)
	if err != nil {
		return nil, err
	}
	if err := securefile.WriteEncryptedJSON(s.Path, *nk, password, s.Opt); err != nil {
		return nil, errors.Wrapf(err, "write keystore %s", s.Path)
	}
	return nk, nil
}

// NewKeystore draws a fresh seed for the named scheme.
func NewKeystore(schemeName string) (*Keystore, error) {
	scheme, err := lookupScheme(schemeName)
	if err != nil {
		return nil, err
	}
	seed := make([]byte, scheme.SeedSize())
	if _, err := rand.Read(seed); err != nil {
		return nil, errors.Wrap(err, "generate seed")
	}
	return &Keystore{
		Version:   constants.SchemaV1,
		Scheme:    scheme.Name(),
		SeedB64:   base64.StdEncoding.EncodeToString(seed),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Wallet implements wallet.SigningProvider and wallet.EventSource.
type Wallet struct {
	mu        sync.RWMutex
	scheme    sign.Scheme
	sk        sign.PrivateKey
	pub       []byte
	address   string
	connected bool
	network   string

	feed event.Feed
}

var (
	_ wallet.SigningProvider = (*Wallet)(nil)
	_ wallet.EventSource     = (*Wallet)(nil)
)

// Open loads (or creates) the keystore and returns a disconnected wallet.
// An empty scheme accepts whatever the keystore holds.
func Open(s *Store, password []byte, scheme string) (*Wallet, error) {
	if scheme != "" {
		s.Scheme = scheme
	}
	ks, err := s.Ensure(password)
	if err != nil {
		return nil, err
	}
	if scheme != "" && !strings.EqualFold(ks.Scheme, scheme) {
		return nil, errors.Wrapf(ErrSchemeMismatch, "keystore %s, requested %s", ks.Scheme, scheme)
	}
	return FromKeystore(ks)
}

func FromKeystore(ks *Keystore) (*Wallet, error) {
	scheme, err := lookupScheme(ks.Scheme)
	if err != nil {
		return nil, err
	}
	seed, err := base64.StdEncoding.DecodeString(ks.SeedB64)
	if err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	if len(seed) != scheme.SeedSize() {
		return nil, errors.Newf("seed must be %d bytes, got %d", scheme.SeedSize(), len(seed))
	}

	pk, sk := scheme.DeriveKey(seed)
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal public key")
	}

	return &Wallet{
		scheme:  scheme,
		sk:      sk,
		pub:     pub,
		address: DeriveAddress(pub),
	}, nil
}

// DeriveAddress is the lowercase hex of the last 20 bytes of Keccak-256(pub).
func DeriveAddress(pub []byte) string {
	return strings.ToLower(common.BytesToAddress(crypto.Keccak256(pub)[12:]).Hex())
}

func (w *Wallet) RequestAccount(ctx context.Context) (string, error) {
	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()
	return w.address, nil
}

func (w *Wallet) Address(ctx context.Context) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return "", wallet.ErrNotConnected
	}
	return w.address, nil
}

func (w *Wallet) PublicKey(ctx context.Context) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return "", wallet.ErrNotConnected
	}
	return hex.EncodeToString(w.pub), nil
}

// SignTx signs the hex-decoded hash and returns base64 of
// {"tro":{"tx":<hash>,"is":<signature hex>}}.
func (w *Wallet) SignTx(ctx context.Context, req wallet.SignRequest) (string, error) {
	w.mu.RLock()
	connected := w.connected
	w.mu.RUnlock()
	if !connected {
		return "", wallet.ErrNotConnected
	}

	msg, err := hex.DecodeString(normalize.Hex(req.Hash))
	if err != nil || len(msg) == 0 {
		return "", ErrBadHash
	}

	sig := w.scheme.Sign(w.sk, msg, nil)

	env := map[string]any{
		"tro": map[string]string{
			"tx": req.Hash,
			"is": hex.EncodeToString(sig),
		},
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", errors.Wrap(err, "marshal signature envelope")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Verify checks a signature produced by SignTx against this wallet's key.
func (w *Wallet) Verify(hash, sigHex string) bool {
	msg, err := hex.DecodeString(normalize.Hex(hash))
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(normalize.Hex(sigHex))
	if err != nil {
		return false
	}
	pk, err := w.scheme.UnmarshalBinaryPublicKey(w.pub)
	if err != nil {
		return false
	}
	return w.scheme.Verify(pk, msg, sig, nil)
}

func (w *Wallet) SubscribeEvents(ch chan<- wallet.ProviderEvent) event.Subscription {
	return w.feed.Subscribe(ch)
}

// Disconnect drops the connection and announces an account change.
func (w *Wallet) Disconnect() {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	w.feed.Send(wallet.ProviderEvent{Kind: wallet.AccountsChanged})
}

// SetNetwork records the selected network and announces the switch.
func (w *Wallet) SetNetwork(name string) {
	w.mu.Lock()
	w.network = name
	w.mu.Unlock()
	w.feed.Send(wallet.ProviderEvent{Kind: wallet.NetworkChanged})
}

func (w *Wallet) Network() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.network
}

func (w *Wallet) SchemeName() string {
	return w.scheme.Name()
}

func lookupScheme(name string) (sign.Scheme, error) {
	if name == "" {
		name = constants.DefaultSignatureScheme
	}
	scheme := schemes.ByName(name)
	if scheme == nil {
		return nil, errors.Wrapf(ErrUnknownScheme, "%q", name)
	}
	return scheme, nil
}
