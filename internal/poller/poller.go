// Package poller keeps the session rows in sync with the upstream state of
// the connected wallet.
package poller

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/tuxedex/internal/constants"
	"github.com/quantumauth-io/tuxedex/internal/normalize"
	"github.com/quantumauth-io/tuxedex/internal/session"
	"github.com/quantumauth-io/tuxedex/internal/upstream"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

// Fetcher reads the upstream state for one key.
type Fetcher interface {
	State(ctx context.Context, key string) (*upstream.Response, error)
}

// Identities is where the lookup key comes from.
type Identities interface {
	Identity() wallet.Identity
	SubscribeIdentity(ch chan<- wallet.Identity) event.Subscription
}

type Poller struct {
	fetcher  Fetcher
	ids      Identities
	state    *session.State
	clock    clock.Clock
	interval time.Duration
	prefix   string
	fields   []string

	refresh chan struct{}
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

func WithKeyPrefix(prefix string) Option {
	return func(p *Poller) { p.prefix = prefix }
}

// WithFields sets the payload field names that may hold the rows.
func WithFields(fields ...string) Option {
	return func(p *Poller) {
		if len(fields) > 0 {
			p.fields = fields
		}
	}
}

func New(f Fetcher, ids Identities, state *session.State, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  f,
		ids:      ids,
		state:    state,
		clock:    clock.New(),
		interval: constants.DefaultPollInterval,
		prefix:   constants.DefaultStateKeyPrefix,
		fields:   normalize.DefaultFields,
		refresh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refresh asks the running loop for an out-of-band fetch. Requests made
// while one is pending collapse into it.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done. Every change of lookup key restarts the
// schedule with an immediate fetch; no key means no fetches.
func (p *Poller) Run(ctx context.Context) error {
	idCh := make(chan wallet.Identity, 8)
	sub := p.ids.SubscribeIdentity(idCh)
	defer sub.Unsubscribe()

	var (
		key    string
		ticker *clock.Ticker
		tick   <-chan time.Time
	)
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stop()

	retarget := func(id wallet.Identity) {
		p.state.SetIdentity(id)
		next := p.keyFor(id)
		if next == key {
			return
		}
		stop()
		key = next
		if key == "" {
			log.Info("polling stopped, no wallet key")
			return
		}
		log.Info("polling started", "key", key, "interval", p.interval)
		ticker = p.clock.Ticker(p.interval)
		tick = ticker.C
		p.state.SetLoading(true)
		p.poll(ctx, key)
	}

	retarget(p.ids.Identity())

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case id := <-idCh:
			retarget(id)
		case <-tick:
			p.poll(ctx, key)
		case <-p.refresh:
			if key != "" {
				p.poll(ctx, key)
			}
		}
	}
}

// FetchOnce reads and normalizes the rows stored under key.
func (p *Poller) FetchOnce(ctx context.Context, key string) ([]normalize.Row, error) {
	resp, err := p.fetcher.State(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "fetch state")
	}
	if !resp.OK() {
		return nil, errors.Newf("fetch state: upstream status %d", resp.Status)
	}
	return normalize.Rows(normalize.Decode(resp.Body), p.fields...), nil
}

func (p *Poller) poll(ctx context.Context, key string) {
	rows, err := p.FetchOnce(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("poll failed", "key", key, "error", err)
		p.state.SetError(err)
		return
	}
	p.state.ReplaceRows(rows)
}

func (p *Poller) keyFor(id wallet.Identity) string {
	if id.PublicKey == "" {
		return ""
	}
	return p.prefix + id.PublicKey
}
