package multiplexer

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstream/relay/internal/audio"
	"github.com/vstream/relay/internal/codec"
	"github.com/vstream/relay/internal/provider"
)

type fakeUpstream struct {
	onSetupComplete func()
}

func (f *fakeUpstream) Connect(ctx context.Context) error { return nil }
func (f *fakeUpstream) SendAudio(pcm []byte, rate int) error { return nil }
func (f *fakeUpstream) Close() error                          { return nil }
func (f *fakeUpstream) OnAudio(cb func([]byte))                {}
func (f *fakeUpstream) OnTranscript(cb func(string, bool))     {}
func (f *fakeUpstream) OnSetupComplete(cb func())              { f.onSetupComplete = cb }
func (f *fakeUpstream) OnResponseStart(cb func())               {}
func (f *fakeUpstream) OnClosed(cb func(error))                 {}

type fakeClientConn struct {
	mu     sync.Mutex
	events []outboundEvent
}

func (c *fakeClientConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, v.(outboundEvent))
	return nil
}

func newTestMultiplexer(t *testing.T) (*Multiplexer, *fakeClientConn) {
	t.Helper()
	conn := &fakeClientConn{}
	factory := func(ctx context.Context, tag string) (*provider.Session, error) {
		dec := audio.NewPassThroughDecoder()
		enc, err := audio.NewEncoder(24000, codec.DefaultEncoderConfig())
		require.NoError(t, err)
		up := &fakeUpstream{}
		sess := provider.New(provider.Config{Tag: tag, ProviderSampleRate: 24000}, up, dec, enc, nil)
		return sess, nil
	}
	return New(conn, factory, nil), conn
}

func TestPingRepliesPongPreservingID(t *testing.T) {
	m, conn := newTestMultiplexer(t)
	m.HandleMessage(context.Background(), []byte(`{"event":"ping","id":7}`))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.events, 1)
	assert.Equal(t, "pong", conn.events[0].Event)
	require.NotNil(t, conn.events[0].ID)
	assert.Equal(t, "7", conn.events[0].ID.String())
}

func TestMalformedJSONIsDroppedNotFatal(t *testing.T) {
	m, conn := newTestMultiplexer(t)
	m.HandleMessage(context.Background(), []byte(`{not json`))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Empty(t, conn.events)
}

func TestMediaEventLazilyCreatesSessionPerTag(t *testing.T) {
	m, _ := newTestMultiplexer(t)
	payload := base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 3})

	m.HandleMessage(context.Background(), []byte(`{"event":"media","media":{"tag":"call-1","payload":"`+payload+`","chunk":1,"timestamp":0}}`))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.sessions, 1)
	assert.Contains(t, m.sessions, "call-1")
}

func TestCloseClearsAllSessions(t *testing.T) {
	m, _ := newTestMultiplexer(t)
	payload := base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 3})
	m.HandleMessage(context.Background(), []byte(`{"event":"media","media":{"tag":"call-1","payload":"`+payload+`"}}`))

	m.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.sessions)
}
