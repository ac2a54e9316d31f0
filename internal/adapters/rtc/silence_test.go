package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilenceMute(t *testing.T) {
	s, err := NewSilence("me")
	require.NoError(t, err)
	assert.Equal(t, "audio", s.Track.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Play(ctx)

	require.Eventually(t, func() bool { return s.Frames() > 0 }, time.Second, 5*time.Millisecond)

	s.SetMuted(true)
	assert.True(t, s.Muted())
	time.Sleep(3 * silenceFrame)
	stopped := s.Frames()
	time.Sleep(5 * silenceFrame)
	assert.Equal(t, stopped, s.Frames(), "no frames while muted")

	s.SetMuted(false)
	require.Eventually(t, func() bool { return s.Frames() > stopped }, time.Second, 5*time.Millisecond)
}
