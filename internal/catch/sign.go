package catch

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"io"
	mrand "math/rand/v2"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/tuxedex/internal/normalize"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

var (
	ErrMissingSignature   = errors.New("wallet returned no signature")
	ErrSignedHashMismatch = errors.New("wallet signed a different hash than prepared")
)

// SignedPayload is what the wallet reports back: the signature and, when the
// wallet echoes it, the hash it signed.
type SignedPayload struct {
	Tx string `json:"tx"`
	Is string `json:"is"`
}

var (
	signatureFields = normalize.Pipeline{
		normalize.Then(normalize.Descend("tro"), normalize.Field("is")),
		normalize.Field("is"),
		normalize.Field("signature"),
	}
	hashFields = normalize.Pipeline{
		normalize.Then(normalize.Descend("tro"), normalize.Field("tx")),
		normalize.Field("tx"),
		normalize.Field("hash"),
	}
)

// BuildSignRequest makes the zero-value self transfer whose hash field
// carries the prepared transaction hash.
func BuildSignRequest(address, hash string, rnd io.Reader) (wallet.SignRequest, error) {
	if address == "" {
		return wallet.SignRequest{}, ErrNoAddress
	}
	if hash == "" {
		return wallet.SignRequest{}, errors.New("sign request needs a hash")
	}
	return wallet.SignRequest{
		From:         address,
		To:           address,
		Amount:       "0",
		Nonce:        randomNonce(rnd),
		Hash:         hash,
		BufferFields: []string{"hash"},
	}, nil
}

// randomNonce returns 32 random bytes as hex. If rnd fails it falls back to
// a time-seeded ChaCha8 stream, which is not suitable for secrets. The value
// only makes the throwaway transfer unique.
func randomNonce(rnd io.Reader) string {
	b := make([]byte, 32)
	if rnd != nil {
		_, err := io.ReadFull(rnd, b)
		if err == nil {
			return hex.EncodeToString(b)
		}
		log.Warn("secure random source failed, using non-cryptographic fallback", "error", err)
	}

	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
	_, _ = mrand.NewChaCha8(seed).Read(b)
	return hex.EncodeToString(b)
}

// DecodeSignResponse reads the wallet's answer as base64 JSON, then as plain
// JSON. It returns nil when neither yields an object.
func DecodeSignResponse(s string) *SignedPayload {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	// padding is optional, as with atob
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		raw, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if obj, ok := decodeObject(raw); ok {
			return extract(obj)
		}
	}
	if obj, ok := decodeObject([]byte(s)); ok {
		return extract(obj)
	}
	return nil
}

func extract(obj map[string]any) *SignedPayload {
	p := &SignedPayload{}
	if v, found := signatureFields.Apply(obj); found {
		p.Is = strings.TrimSpace(normalize.Text(v))
	}
	if v, found := hashFields.Apply(obj); found {
		p.Tx = strings.TrimSpace(normalize.Text(v))
	}
	return p
}

// VerifySigned rejects a payload without a signature or one whose echoed
// hash differs from prepared.
func VerifySigned(prepared string, p *SignedPayload) error {
	if p == nil || p.Is == "" {
		return ErrMissingSignature
	}
	if p.Tx != "" && normalize.Hex(p.Tx) != normalize.Hex(prepared) {
		return errors.Wrapf(ErrSignedHashMismatch, "signed %s, prepared %s", normalize.Hex(p.Tx), normalize.Hex(prepared))
	}
	return nil
}

func decodeObject(b []byte) (map[string]any, bool) {
	obj, ok := normalize.Decode(b).(map[string]any)
	return obj, ok
}
