// Package multiplexer implements the SessionMultiplexer spec.md §4.6
// describes: one per client WebSocket, demultiplexing inbound JSON events
// by tag into lazily-created per-tag ProviderSessions.
package multiplexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vstream/relay/internal/logging"
	"github.com/vstream/relay/internal/metrics"
	"github.com/vstream/relay/internal/provider"
)

// SessionFactory lazily constructs the ProviderSession for a newly-seen
// tag, wiring its Decoder and Encoder and the Upstream that the
// process-scoped TRANSLATION_PROVIDER configuration selects.
type SessionFactory func(ctx context.Context, tag string) (*provider.Session, error)

type inboundEvent struct {
	Event string        `json:"event"`
	ID    *json.Number  `json:"id,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
}

type mediaPayload struct {
	Tag       string `json:"tag"`
	Payload   string `json:"payload"`
	Chunk     uint32 `json:"chunk"`
	Timestamp uint32 `json:"timestamp"`
}

type outboundEvent struct {
	Event          string      `json:"event"`
	ID             *json.Number `json:"id,omitempty"`
	Tag            string      `json:"tag,omitempty"`
	Chunk          uint64      `json:"chunk,omitempty"`
	Timestamp      uint32      `json:"timestamp,omitempty"`
	Payload        string      `json:"payload,omitempty"`
	SequenceNumber uint64      `json:"sequenceNumber,omitempty"`
	Text           string      `json:"text,omitempty"`
	Final          bool        `json:"final,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// ClientConn is the narrow surface Multiplexer writes outbound events
// through; satisfied by *websocket.Conn.
type ClientConn interface {
	WriteJSON(v any) error
}

// Multiplexer demultiplexes one client WebSocket into per-tag
// ProviderSessions.
type Multiplexer struct {
	conn       ClientConn
	writeMu    sync.Mutex
	newSession SessionFactory
	log        logging.Logger

	mu       sync.Mutex
	sessions map[string]*provider.Session
}

// New constructs a Multiplexer writing outbound events to conn.
func New(conn ClientConn, newSession SessionFactory, log logging.Logger) *Multiplexer {
	if log == nil {
		log = logging.Noop()
	}
	return &Multiplexer{
		conn:       conn,
		newSession: newSession,
		log:        log,
		sessions:   make(map[string]*provider.Session),
	}
}

// HandleMessage parses one inbound text frame and dispatches it per
// spec.md §4.6. Malformed JSON is logged and dropped, never closes the
// socket (§7 table row 1).
func (m *Multiplexer) HandleMessage(ctx context.Context, raw []byte) {
	var evt inboundEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		metrics.ErrorsTotal.WithLabelValues("malformed_message").Inc()
		m.log.Warn("multiplexer: malformed inbound frame", zap.Error(err))
		return
	}

	switch evt.Event {
	case "ping":
		m.writeJSON(outboundEvent{Event: "pong", ID: evt.ID})
	case "media":
		if evt.Media == nil {
			m.log.Warn("multiplexer: media event missing media field")
			return
		}
		sess, err := m.sessionFor(ctx, evt.Media.Tag)
		if err != nil {
			m.log.Error("multiplexer: failed to create session", err, zap.String("tag", evt.Media.Tag))
			m.writeJSON(outboundEvent{Event: "error", Tag: evt.Media.Tag, Error: err.Error()})
			return
		}
		sess.HandleMedia(evt.Media.Tag, evt.Media.Payload, evt.Media.Chunk, evt.Media.Timestamp)
	default:
		m.log.Debug("multiplexer: ignoring unknown event", zap.String("event", evt.Event))
	}
}

func (m *Multiplexer) sessionFor(ctx context.Context, tag string) (*provider.Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[tag]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.newSession(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("multiplexer: session factory for tag %q: %w", tag, err)
	}

	sess.SetCallbacks(
		func(t string) { m.handleSessionClosed(t) },
		func(t string, sessErr error) { m.writeJSON(outboundEvent{Event: "error", Tag: t, Error: sessErr.Error()}) },
		func(t, text string, final bool) { m.writeJSON(outboundEvent{Event: "transcript", Tag: t, Text: text, Final: final}) },
		func(f provider.OutboundFrame) {
			m.writeJSON(outboundEvent{
				Event:          "audio",
				Tag:            f.Tag,
				Chunk:          f.Chunk,
				Timestamp:      f.Timestamp,
				Payload:        f.Payload,
				SequenceNumber: f.SequenceNumber,
			})
		},
	)

	if err := sess.Start(ctx); err != nil {
		return nil, fmt.Errorf("multiplexer: start session for tag %q: %w", tag, err)
	}

	m.mu.Lock()
	m.sessions[tag] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *Multiplexer) handleSessionClosed(tag string) {
	m.mu.Lock()
	delete(m.sessions, tag)
	m.mu.Unlock()
	m.writeJSON(outboundEvent{Event: "closed", Tag: tag})
}

func (m *Multiplexer) writeJSON(v outboundEvent) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.conn.WriteJSON(v); err != nil {
		m.log.Warn("multiplexer: write to client failed", zap.Error(err))
	}
}

// Close calls close() on every live ProviderSession and clears the map,
// per spec.md §4.6's "on client close" behavior.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	sessions := make([]*provider.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*provider.Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}
