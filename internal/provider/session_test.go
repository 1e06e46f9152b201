package provider

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstream/relay/internal/audio"
	"github.com/vstream/relay/internal/codec"
)

// fakeUpstream is an in-process Upstream double, letting tests drive the
// provider side of a Session without a real websocket.
type fakeUpstream struct {
	mu sync.Mutex

	connectErr error
	sentAudio  [][]byte
	closeCount int
	forceCommitCount int

	onAudio         func([]byte)
	onTranscript    func(string, bool)
	onSetupComplete func()
	onResponseStart func()
	onClosed        func(error)
}

func (f *fakeUpstream) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeUpstream) SendAudio(pcm []byte, rate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentAudio = append(f.sentAudio, pcm)
	return nil
}
func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return nil
}
func (f *fakeUpstream) OnAudio(cb func([]byte))            { f.onAudio = cb }
func (f *fakeUpstream) OnTranscript(cb func(string, bool)) { f.onTranscript = cb }
func (f *fakeUpstream) OnSetupComplete(cb func())          { f.onSetupComplete = cb }
func (f *fakeUpstream) OnResponseStart(cb func())          { f.onResponseStart = cb }
func (f *fakeUpstream) OnClosed(cb func(error))            { f.onClosed = cb }

func (f *fakeUpstream) ForceCommit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceCommitCount++
	return nil
}

func newTestSession(t *testing.T, up *fakeUpstream) (*Session, *audio.PassThroughDecoder) {
	t.Helper()
	dec := audio.NewPassThroughDecoder()
	enc, err := audio.NewEncoder(24000, codec.DefaultEncoderConfig())
	require.NoError(t, err)

	s := New(Config{Tag: "call-1", ProviderSampleRate: 24000}, up, dec, enc, nil)
	return s, dec
}

func TestSessionRoundTripFlushesPendingUntilSetupComplete(t *testing.T) {
	up := &fakeUpstream{}
	s, _ := newTestSession(t, up)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, ConnConnected, s.ConnState())

	payload := []byte("\x00\x01\x02\x03")
	s.HandleMedia("call-1", encodeB64(payload), 1, 0)

	up.mu.Lock()
	sentBeforeSetup := len(up.sentAudio)
	up.mu.Unlock()
	assert.Equal(t, 0, sentBeforeSetup, "audio must queue until setup_complete")

	up.onSetupComplete()
	assert.Equal(t, ConnSetupComplete, s.ConnState())

	up.mu.Lock()
	defer up.mu.Unlock()
	require.Len(t, up.sentAudio, 1)
	assert.Equal(t, payload, up.sentAudio[0])
}

func TestSessionDropsMediaForWrongTag(t *testing.T) {
	up := &fakeUpstream{}
	s, _ := newTestSession(t, up)
	require.NoError(t, s.Start(context.Background()))
	up.onSetupComplete()

	s.HandleMedia("other-tag", encodeB64([]byte("x")), 1, 0)

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Empty(t, up.sentAudio)
}

func TestSessionOutboundStampingFirstFrameAndBoundary(t *testing.T) {
	up := &fakeUpstream{}
	s, _ := newTestSession(t, up)
	require.NoError(t, s.Start(context.Background()))

	var frames []OutboundFrame
	s.SetCallbacks(nil, nil, nil, func(f OutboundFrame) { frames = append(frames, f) })

	pcm := make([]byte, (24000/50)*2) // exactly one 20ms frame
	up.onAudio(pcm)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(1), frames[0].Chunk)
	assert.Equal(t, uint32(0), frames[0].Timestamp)

	up.onAudio(pcm)
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(960), frames[1].Timestamp)

	up.onResponseStart()
	time.Sleep(2 * time.Millisecond)
	up.onAudio(pcm)
	require.Len(t, frames, 3)
	assert.NotEqual(t, uint32(960*2), frames[2].Timestamp, "timestamp snaps to wall time at the response boundary")
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	up := &fakeUpstream{}
	s, _ := newTestSession(t, up)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, 1, up.closeCount)
}

func TestUpstreamInducedCloseFiresOnClosed(t *testing.T) {
	up := &fakeUpstream{}
	s, _ := newTestSession(t, up)
	require.NoError(t, s.Start(context.Background()))

	var closedTag string
	s.SetCallbacks(func(tag string) { closedTag = tag }, nil, nil, nil)

	up.onClosed(nil)

	assert.Equal(t, "call-1", closedTag)
	assert.Equal(t, ConnClosed, s.ConnState())
}

func TestForceCommitFiresAfterTimeout(t *testing.T) {
	up := &fakeUpstream{}
	dec := audio.NewPassThroughDecoder()
	enc, err := audio.NewEncoder(24000, codec.DefaultEncoderConfig())
	require.NoError(t, err)

	s := New(Config{Tag: "call-1", ProviderSampleRate: 24000, ForceCommitTimeout: 5 * time.Millisecond}, up, dec, enc, nil)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.GreaterOrEqual(t, up.forceCommitCount, 1)
}

func encodeB64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
