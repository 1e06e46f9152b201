package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vstream/relay/internal/logging"
)

const defaultGeminiURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// GeminiUpstream talks to a Gemini Live-API-shaped endpoint: a "setup"
// message on connect, realtimeInput audio messages in, serverContent
// messages (inline audio/text parts) out. Deliberately not built on
// google.golang.org/genai; DESIGN.md records why.
type GeminiUpstream struct {
	url        string
	apiKey     string
	model      string
	sampleRate int
	log        logging.Logger

	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	onAudio         func([]byte)
	onTranscript    func(string, bool)
	onSetupComplete func()
	onResponseStart func()
	onClosed        func(error)
}

// GeminiConfig configures a GeminiUpstream.
type GeminiConfig struct {
	URL        string // overridable for tests; defaults to defaultGeminiURL
	APIKey     string
	Model      string
	SampleRate int
}

func NewGeminiUpstream(cfg GeminiConfig, log logging.Logger) *GeminiUpstream {
	url := cfg.URL
	if url == "" {
		url = defaultGeminiURL
	}
	if log == nil {
		log = logging.Noop()
	}
	return &GeminiUpstream{
		url:        url,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		sampleRate: cfg.SampleRate,
		log:        log,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (g *GeminiUpstream) OnAudio(cb func([]byte))            { g.onAudio = cb }
func (g *GeminiUpstream) OnTranscript(cb func(string, bool)) { g.onTranscript = cb }
func (g *GeminiUpstream) OnSetupComplete(cb func())          { g.onSetupComplete = cb }
func (g *GeminiUpstream) OnResponseStart(cb func())          { g.onResponseStart = cb }
func (g *GeminiUpstream) OnClosed(cb func(error))            { g.onClosed = cb }

func (g *GeminiUpstream) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?key=%s", g.url, g.apiKey)
	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("gemini upstream connect: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	setup := map[string]any{
		"setup": map[string]any{
			"model": g.model,
		},
	}
	if err := g.conn.WriteJSON(setup); err != nil {
		conn.Close()
		return fmt.Errorf("gemini setup: %w", err)
	}

	go g.readLoop()
	return nil
}

// geminiMessage covers the handful of top-level keys the Live API uses as
// its message-type discriminator: presence of a field, not a single
// "type" string, selects the branch.
type geminiMessage struct {
	SetupComplete json.RawMessage `json:"setupComplete"`
	ServerContent *struct {
		TurnComplete bool `json:"turnComplete"`
		ModelTurn    *struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"modelTurn"`
	} `json:"serverContent"`
}

func (g *GeminiUpstream) readLoop() {
	for {
		_, msg, err := g.conn.ReadMessage()
		if err != nil {
			g.fireClosed(err)
			return
		}

		var gm geminiMessage
		if err := json.Unmarshal(msg, &gm); err != nil {
			g.log.Warn("gemini upstream: malformed message", zap.Error(err))
			continue
		}

		if gm.SetupComplete != nil {
			if g.onSetupComplete != nil {
				g.onSetupComplete()
			}
			continue
		}

		if gm.ServerContent == nil {
			continue
		}

		if gm.ServerContent.ModelTurn != nil {
			for _, part := range gm.ServerContent.ModelTurn.Parts {
				if part.InlineData != nil && g.onAudio != nil {
					if pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data); err == nil {
						g.onAudio(pcm)
					}
				}
				if part.Text != "" && g.onTranscript != nil {
					g.onTranscript(part.Text, gm.ServerContent.TurnComplete)
				}
			}
		}
		if gm.ServerContent.TurnComplete && g.onResponseStart != nil {
			// The next model turn, once it arrives, starts a fresh response;
			// mark the boundary now so the next emitted frame snaps its timestamp.
			g.onResponseStart()
		}
	}
}

func (g *GeminiUpstream) SendAudio(pcm []byte, sampleRate int) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("gemini upstream: not connected")
	}
	msg := map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{
				"data":     base64.StdEncoding.EncodeToString(pcm),
				"mimeType": fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
			},
		},
	}
	return conn.WriteJSON(msg)
}

// Gemini has no equivalent of OpenAI's response.create; ForceCommitter is
// deliberately not implemented here, so the force-commit timer is a no-op
// for this provider.

func (g *GeminiUpstream) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.conn == nil {
		return nil
	}
	g.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return g.conn.Close()
}

func (g *GeminiUpstream) fireClosed(err error) {
	g.mu.Lock()
	already := g.closed
	g.closed = true
	g.mu.Unlock()
	if !already && g.onClosed != nil {
		g.onClosed(err)
	}
}
