package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStore_RecentLookupsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendLookup("tg:1", Lookup{
			Target:  "info",
			PSID:    fmt.Sprintf("ps-%d", i),
			Outcome: "ok",
			At:      base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.AppendLookup("tg:2", Lookup{Target: "picture", PSID: "other", Outcome: "not_found", At: base}))

	got, err := s.RecentLookups("tg:1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ps-2", got[0].PSID)
	assert.Equal(t, "ps-1", got[1].PSID)
	assert.True(t, got[0].At.Equal(base.Add(2*time.Minute)))

	got, err = s.RecentLookups("tg:2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "not_found", got[0].Outcome)
}

func TestBoltStore_UnknownChat(t *testing.T) {
	s := newTestStore(t)
	got, err := s.RecentLookups("nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBoltStore_TrimsHistory(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < maxLookupsPerChat+7; i++ {
		require.NoError(t, s.AppendLookup("wa:1", Lookup{PSID: fmt.Sprint(i)}))
	}

	got, err := s.RecentLookups("wa:1", 1000)
	require.NoError(t, err)
	require.Len(t, got, maxLookupsPerChat)
	assert.Equal(t, fmt.Sprint(maxLookupsPerChat+6), got[0].PSID)
	assert.Equal(t, "7", got[len(got)-1].PSID)
}

func TestBoltStore_ClearLookups(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendLookup("tg:9", Lookup{PSID: "x"}))
	require.NoError(t, s.ClearLookups("tg:9"))

	got, err := s.RecentLookups("tg:9", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendLookup("tg:1", Lookup{PSID: "kept"}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.RecentLookups("tg:1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].PSID)
}
