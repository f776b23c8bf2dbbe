// Package session holds the agent's display state: the rows last fetched,
// the visible error, the wallet identity and the catch/toast flags.
package session

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/tuxedex/internal/constants"
	"github.com/quantumauth-io/tuxedex/internal/contract"
	"github.com/quantumauth-io/tuxedex/internal/normalize"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

var ErrCatchInFlight = errors.New("a catch is already in progress")

const CaughtMessage = "Caught! Transaction committed."

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	Rows     []normalize.Row `json:"rows"`
	Error    string          `json:"error,omitempty"`
	Identity wallet.Identity `json:"identity"`
	Loading  bool            `json:"loading"`
	Sending  bool            `json:"sending"`
	Toast    string          `json:"toast,omitempty"`
}

type State struct {
	mu sync.Mutex

	rows       []normalize.Row
	errMsg     string
	identity   wallet.Identity
	loading    bool
	sending    bool
	toast      string
	toastUntil time.Time

	toastTTL time.Duration
	now      func() time.Time
}

func New() *State {
	return &State{
		rows:     []normalize.Row{},
		toastTTL: constants.ToastDuration,
		now:      time.Now,
	}
}

// ReplaceRows swaps the whole list and clears the error. Last write wins.
func (s *State) ReplaceRows(rows []normalize.Row) {
	if rows == nil {
		rows = []normalize.Row{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.errMsg = ""
	s.loading = false
}

// SetError shows err and leaves the rows alone.
func (s *State) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = err.Error()
	s.loading = false
}

func (s *State) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
}

func (s *State) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// SetIdentity records the wallet identity. Losing the public key empties
// the list since nothing is being polled for it any more.
func (s *State) SetIdentity(id wallet.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.PublicKey == "" {
		s.rows = []normalize.Row{}
	}
	s.identity = id
}

// BeginCatch marks a catch as running. Only one runs at a time.
func (s *State) BeginCatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return ErrCatchInFlight
	}
	s.sending = true
	s.errMsg = ""
	return nil
}

// EndCatch clears the running flag. A nil err raises the success toast.
func (s *State) EndCatch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	if err != nil {
		s.errMsg = contract.Message(err)
		return
	}
	s.toast = CaughtMessage
	s.toastUntil = s.now().Add(s.toastTTL)
}

func (s *State) Snapshot() Snapshot {
	return s.SnapshotAt(s.now())
}

// SnapshotAt copies the state as seen at now; expired toasts are dropped.
func (s *State) SnapshotAt(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Rows:     append([]normalize.Row{}, s.rows...),
		Error:    s.errMsg,
		Identity: s.identity,
		Loading:  s.loading,
		Sending:  s.sending,
	}
	if s.toast != "" && now.Before(s.toastUntil) {
		snap.Toast = s.toast
	}
	return snap
}
