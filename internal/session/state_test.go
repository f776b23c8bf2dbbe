package session

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tuxedex/internal/contract"
	"github.com/quantumauth-io/tuxedex/internal/normalize"
	"github.com/quantumauth-io/tuxedex/internal/wallet"
)

func TestRowsAndErrors(t *testing.T) {
	s := New()
	assert.NotNil(t, s.Snapshot().Rows)
	assert.Empty(t, s.Snapshot().Rows)

	rows := []normalize.Row{{ID: 1, Name: "bulbasaur", Tx: "aa"}}
	s.ReplaceRows(rows)

	s.SetError(errors.New("upstream down"))
	snap := s.Snapshot()
	assert.Equal(t, "upstream down", snap.Error)
	assert.Equal(t, rows, snap.Rows)

	s.ReplaceRows([]normalize.Row{{ID: 2, Name: "ivysaur"}})
	snap = s.Snapshot()
	assert.Empty(t, snap.Error)
	assert.Equal(t, "ivysaur", snap.Rows[0].Name)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.ReplaceRows([]normalize.Row{{ID: 1, Name: "a"}})
	snap := s.Snapshot()
	snap.Rows[0].Name = "changed"
	assert.Equal(t, "a", s.Snapshot().Rows[0].Name)
}

func TestIdentityLossClearsRows(t *testing.T) {
	s := New()
	s.SetIdentity(wallet.Identity{Address: "a", PublicKey: "ab"})
	s.ReplaceRows([]normalize.Row{{ID: 1}})

	s.SetIdentity(wallet.Identity{})
	assert.Empty(t, s.Snapshot().Rows)
	assert.Equal(t, wallet.Identity{}, s.Snapshot().Identity)
}

func TestCatchLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New()
	s.now = func() time.Time { return now }

	s.SetError(errors.New("stale"))
	require.NoError(t, s.BeginCatch())
	assert.Empty(t, s.Snapshot().Error)
	assert.True(t, s.Snapshot().Sending)
	assert.ErrorIs(t, s.BeginCatch(), ErrCatchInFlight)

	s.EndCatch(nil)
	snap := s.SnapshotAt(now.Add(time.Second))
	assert.False(t, snap.Sending)
	assert.Equal(t, CaughtMessage, snap.Toast)
	assert.Empty(t, s.SnapshotAt(now.Add(4*time.Second)).Toast)

	require.NoError(t, s.BeginCatch())
	s.EndCatch(errors.New("simulate rejected"))
	snap = s.Snapshot()
	assert.False(t, snap.Sending)
	assert.Equal(t, "simulate rejected", snap.Error)
}

func TestEndCatchShowsPeerMessage(t *testing.T) {
	s := New()
	require.NoError(t, s.BeginCatch())

	peerErr := &contract.StatusError{Status: 409, Message: "already caught"}
	s.EndCatch(errors.Wrap(peerErr, "submit transaction (simulate)"))

	assert.Equal(t, "already caught", s.Snapshot().Error)
}
