package catch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tuxedex/internal/contract"
	"github.com/quantumauth-io/tuxedex/internal/upstream"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
	"github.com/quantumauth-io/tuxedex/internal/wallet/wallettest"
)

type fakePeer struct {
	mu sync.Mutex

	nonce      string
	nonceErr   error
	tx         string
	prepareErr error
	simErr     error
	commitErr  error
	delay      time.Duration

	nonceCalls int
	prepared   []contract.PrepareRequest
	submits    []contract.SubmitRequest

	inflight    int
	maxInflight int
}

func (p *fakePeer) Nonce(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.nonceCalls++
	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}
	delay := p.delay
	p.mu.Unlock()

	time.Sleep(delay)
	if p.nonceErr != nil {
		p.done()
	}
	return p.nonce, p.nonceErr
}

func (p *fakePeer) Prepare(ctx context.Context, req contract.PrepareRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepared = append(p.prepared, req)
	return p.tx, p.prepareErr
}

func (p *fakePeer) Submit(ctx context.Context, req contract.SubmitRequest) error {
	p.mu.Lock()
	p.submits = append(p.submits, req)
	p.mu.Unlock()
	if req.Sim {
		return p.simErr
	}
	p.done()
	return p.commitErr
}

func (p *fakePeer) done() {
	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()
}

func (p *fakePeer) calls() (nonce, prepare, submit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nonceCalls, len(p.prepared), len(p.submits)
}

func tro(tx, sig string) string {
	b, _ := json.Marshal(map[string]any{"tro": map[string]string{"tx": tx, "is": sig}})
	return base64.StdEncoding.EncodeToString(b)
}

func connected(t *testing.T, p *wallettest.Provider) *wallet.Binding {
	t.Helper()
	b := wallet.NewBinding()
	b.Detect(p)
	_, err := b.Connect(context.Background())
	require.NoError(t, err)
	return b
}

func signer(reply string) *wallettest.Provider {
	return &wallettest.Provider{
		Account:   "trac1alice",
		Addr:      "trac1alice",
		PubKey:    "0xAB01",
		SignReply: reply,
	}
}

func TestCatch_EndToEnd(t *testing.T) {
	nonce := strings.Repeat("00", 16)
	peer := &fakePeer{nonce: nonce, tx: "deadbeef"}
	p := signer(tro("deadbeef", "feed"))

	res, err := New(connected(t, p), peer).Catch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feed", res.Signature)
	assert.Equal(t, "deadbeef", res.Tx)
	assert.Equal(t, nonce, res.Nonce)
	assert.NotEmpty(t, res.AttemptID)

	require.Len(t, peer.prepared, 1)
	assert.Equal(t, contract.PrepareRequest{
		PreparedCommand: `{"type":"catch","value":{"msg":"hi"}}`,
		Address:         "ab01",
		Nonce:           nonce,
	}, peer.prepared[0])

	require.Len(t, peer.submits, 2)
	sim, commit := peer.submits[0], peer.submits[1]
	assert.True(t, sim.Sim)
	assert.False(t, commit.Sim)
	assert.Equal(t, "deadbeef", sim.Tx)
	assert.Equal(t, "feed", sim.Signature)
	assert.Equal(t, nonce, sim.Nonce)
	commit.Sim = true
	assert.Equal(t, sim, commit)

	signed := p.Signed()
	require.Len(t, signed, 1)
	assert.Equal(t, "trac1alice", signed[0].From)
	assert.Equal(t, "trac1alice", signed[0].To)
	assert.Equal(t, "0", signed[0].Amount)
	assert.Equal(t, "deadbeef", signed[0].Hash)
	assert.Equal(t, []string{"hash"}, signed[0].BufferFields)
	assert.Regexp(t, `^[0-9a-f]{64}$`, signed[0].Nonce)
}

func TestCatch_SimulateFailureSkipsCommit(t *testing.T) {
	peer := &fakePeer{
		nonce:  "01",
		tx:     "deadbeef",
		simErr: &contract.StatusError{Status: 400, Message: "insufficient balance"},
	}

	_, err := New(connected(t, signer(tro("deadbeef", "feed"))), peer).Catch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")

	require.Len(t, peer.submits, 1)
	assert.True(t, peer.submits[0].Sim)
}

func TestCatch_HashMismatchAbortsBeforeSubmit(t *testing.T) {
	peer := &fakePeer{nonce: "01", tx: "ab12"}

	_, err := New(connected(t, signer(tro("ff99", "sig"))), peer).Catch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignedHashMismatch)
	assert.True(t, IsSignature(err))
	assert.Empty(t, peer.submits)
}

func TestCatch_MissingSignatureAborts(t *testing.T) {
	for _, reply := range []string{"", "not json at all", base64.StdEncoding.EncodeToString([]byte(`{"tro":{"tx":"ab12"}}`))} {
		peer := &fakePeer{nonce: "01", tx: "ab12"}
		_, err := New(connected(t, signer(reply)), peer).Catch(context.Background())
		assert.ErrorIs(t, err, ErrMissingSignature, reply)
		assert.Empty(t, peer.submits)
	}
}

func TestCatch_StepFailuresStopTheFlow(t *testing.T) {
	t.Run("nonce", func(t *testing.T) {
		peer := &fakePeer{nonceErr: contract.ErrEmptyNonce}
		_, err := New(connected(t, signer(tro("ab", "s"))), peer).Catch(context.Background())
		assert.ErrorIs(t, err, contract.ErrEmptyNonce)
		_, prepare, submit := peer.calls()
		assert.Zero(t, prepare)
		assert.Zero(t, submit)
	})
	t.Run("prepare", func(t *testing.T) {
		peer := &fakePeer{nonce: "01", prepareErr: contract.ErrEmptyPreparedTx}
		p := signer(tro("ab", "s"))
		_, err := New(connected(t, p), peer).Catch(context.Background())
		assert.ErrorIs(t, err, contract.ErrEmptyPreparedTx)
		assert.Empty(t, p.Signed())
		assert.Empty(t, peer.submits)
	})
	t.Run("wallet", func(t *testing.T) {
		peer := &fakePeer{nonce: "01", tx: "ab"}
		p := signer("")
		p.SignErr = errors.New("user rejected")
		_, err := New(connected(t, p), peer).Catch(context.Background())
		assert.ErrorContains(t, err, "user rejected")
		assert.Empty(t, peer.submits)
	})
	t.Run("commit", func(t *testing.T) {
		peer := &fakePeer{nonce: "01", tx: "ab", commitErr: errors.New("boom")}
		_, err := New(connected(t, signer(tro("ab", "s"))), peer).Catch(context.Background())
		assert.ErrorContains(t, err, "boom")
		assert.Len(t, peer.submits, 2)
	})
}

func TestCatch_PreconditionsMakeNoCalls(t *testing.T) {
	cases := []struct {
		name    string
		binding func() *wallet.Binding
		want    error
	}{
		{"no provider", wallet.NewBinding, ErrNoProvider},
		{"detected only", func() *wallet.Binding {
			b := wallet.NewBinding()
			b.Detect(signer(""))
			return b
		}, ErrNoPublicKey},
		{"no address", func() *wallet.Binding {
			p := signer("")
			p.Addr = ""
			return connected(t, p)
		}, ErrNoAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			peer := &fakePeer{}
			_, err := New(tc.binding(), peer).Catch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsPrecondition(err))

			nonce, prepare, submit := peer.calls()
			assert.Zero(t, nonce+prepare+submit)
		})
	}
}

func TestCatch_SerializedPerWallet(t *testing.T) {
	peer := &fakePeer{nonce: "01", tx: "ab", delay: 20 * time.Millisecond}
	o := New(connected(t, signer(tro("ab", "s"))), peer)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Catch(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peer.maxInflight)
	assert.Len(t, peer.submits, 6)
}

func TestCatch_CustomCommand(t *testing.T) {
	peer := &fakePeer{nonce: "01", tx: "ab"}
	cmd := PreparedCommand{Type: "release", Value: map[string]any{"id": 3}}

	_, err := New(connected(t, signer(tro("ab", "s"))), peer, WithCommand(cmd)).Catch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"release","value":{"id":3}}`, peer.prepared[0].PreparedCommand)
	assert.Equal(t, peer.prepared[0].PreparedCommand, peer.submits[0].PreparedCommand)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestBuildSignRequest(t *testing.T) {
	req, err := BuildSignRequest("trac1a", "ab12", failingReader{})
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}$`, req.Nonce)
	assert.Equal(t, wallet.SignRequest{
		From: "trac1a", To: "trac1a", Amount: "0", Nonce: req.Nonce, Hash: "ab12", BufferFields: []string{"hash"},
	}, req)

	fixed, err := BuildSignRequest("trac1a", "ab12", strings.NewReader(strings.Repeat("\x01", 32)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("01", 32), fixed.Nonce)

	_, err = BuildSignRequest("", "ab12", nil)
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestDecodeSignResponse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want *SignedPayload
	}{
		{"base64 tro", tro("deadbeef", "feed"), &SignedPayload{Tx: "deadbeef", Is: "feed"}},
		{"unpadded base64 tro", strings.TrimRight(tro("deadbeef", "feed"), "="), &SignedPayload{Tx: "deadbeef", Is: "feed"}},
		{"raw json tro", `{"tro":{"tx":"aa","is":"bb"}}`, &SignedPayload{Tx: "aa", Is: "bb"}},
		{"flat", `{"tx":"aa","is":"bb"}`, &SignedPayload{Tx: "aa", Is: "bb"}},
		{"signature and hash", `{"signature":"bb","hash":"0xAA"}`, &SignedPayload{Tx: "0xAA", Is: "bb"}},
		{"tro encoded as string", `{"tro":"{\"tx\":\"aa\",\"is\":\"bb\"}"}`, &SignedPayload{Tx: "aa", Is: "bb"}},
		{"no echo", `{"is":"bb"}`, &SignedPayload{Is: "bb"}},
		{"garbage", `%%%`, nil},
		{"json array", `[1,2]`, nil},
		{"empty", ``, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecodeSignResponse(tc.in))
		})
	}
}

func TestVerifySigned(t *testing.T) {
	assert.ErrorIs(t, VerifySigned("ab", nil), ErrMissingSignature)
	assert.ErrorIs(t, VerifySigned("ab", &SignedPayload{Tx: "ab"}), ErrMissingSignature)
	assert.NoError(t, VerifySigned("ab", &SignedPayload{Is: "s"}))
	assert.NoError(t, VerifySigned("ab", &SignedPayload{Tx: "0xAB", Is: "s"}))
	assert.ErrorIs(t, VerifySigned("ab", &SignedPayload{Tx: "cd", Is: "s"}), ErrSignedHashMismatch)
}

func TestCatch_OverHTTP(t *testing.T) {
	var mu sync.Mutex
	var sims []bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/contract/nonce":
			_, _ = io.WriteString(w, `{"nonce":"0x0A0B"}`)
		case "/v1/contract/tx/prepare":
			_, _ = io.WriteString(w, `{"tx":"DEADBEEF"}`)
		case "/v1/contract/tx":
			var body contract.SubmitRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			sims = append(sims, body.Sim)
			mu.Unlock()
			if !body.Sim {
				w.WriteHeader(http.StatusConflict)
				_, _ = io.WriteString(w, `{"error":"already caught"}`)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	up := upstream.NewClient(upstream.Config{Protocol: "http", Host: u.Hostname(), Port: port, Prefix: "/v1"}, srv.Client())

	o := New(connected(t, signer(tro("deadbeef", "feed"))), contract.New(up, "/contract"))
	_, err = o.Catch(context.Background())
	require.Error(t, err)

	var se *contract.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, "already caught", se.Message)
	assert.Equal(t, []bool{true, false}, sims)
}
