package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, time.Minute)

	_, err := s.Get(ctx, "tg:1")
	require.ErrorIs(t, err, ErrNoSession)

	want := Session{State: StateAwaitingInfoID, CorrelationID: "c-1", StartedAt: time.Now()}
	require.NoError(t, s.Set(ctx, "tg:1", want))

	got, err := s.Get(ctx, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "tg:1"))
	_, err = s.Get(ctx, "tg:1")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestMemoryStore_Expires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, 20*time.Millisecond)

	require.NoError(t, s.Set(ctx, "wa:5511", Session{State: StateAwaitingPictureID}))
	time.Sleep(60 * time.Millisecond)

	_, err := s.Get(ctx, "wa:5511")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting_picture_id", StateAwaitingPictureID.String())
	assert.Equal(t, "awaiting_info_id", StateAwaitingInfoID.String())
}
