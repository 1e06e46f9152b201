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

const defaultOpenAIURL = "wss://api.openai.com/v1/realtime"

// OpenAIUpstream talks to an OpenAI realtime-style endpoint: a single
// session.update on connect, input_audio_buffer.append for audio in,
// response.audio.delta / response.audio_transcript.done for audio and
// transcript out.
type OpenAIUpstream struct {
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

// OpenAIConfig configures an OpenAIUpstream.
type OpenAIConfig struct {
	URL        string // overridable for tests; defaults to defaultOpenAIURL
	APIKey     string
	Model      string
	SampleRate int
}

func NewOpenAIUpstream(cfg OpenAIConfig, log logging.Logger) *OpenAIUpstream {
	url := cfg.URL
	if url == "" {
		url = defaultOpenAIURL
	}
	if log == nil {
		log = logging.Noop()
	}
	return &OpenAIUpstream{
		url:        url,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		sampleRate: cfg.SampleRate,
		log:        log,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (o *OpenAIUpstream) OnAudio(cb func([]byte))          { o.onAudio = cb }
func (o *OpenAIUpstream) OnTranscript(cb func(string, bool)) { o.onTranscript = cb }
func (o *OpenAIUpstream) OnSetupComplete(cb func())        { o.onSetupComplete = cb }
func (o *OpenAIUpstream) OnResponseStart(cb func())        { o.onResponseStart = cb }
func (o *OpenAIUpstream) OnClosed(cb func(error))          { o.onClosed = cb }

func (o *OpenAIUpstream) Connect(ctx context.Context) error {
	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer " + o.apiKey}
	header["OpenAI-Beta"] = []string{"realtime=v1"}

	url := o.url
	if o.model != "" {
		url = fmt.Sprintf("%s?model=%s", url, o.model)
	}

	conn, _, err := o.dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("openai upstream connect: %w", err)
	}

	o.mu.Lock()
	o.conn = conn
	o.mu.Unlock()

	setup := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":         []string{"audio", "text"},
			"input_audio_format": "pcm16",
		},
	}
	if err := o.conn.WriteJSON(setup); err != nil {
		conn.Close()
		return fmt.Errorf("openai session.update: %w", err)
	}

	go o.readLoop()
	return nil
}

func (o *OpenAIUpstream) readLoop() {
	for {
		_, msg, err := o.conn.ReadMessage()
		if err != nil {
			o.fireClosed(err)
			return
		}

		var discriminator struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &discriminator); err != nil {
			o.log.Warn("openai upstream: malformed message", zap.Error(err))
			continue
		}

		switch discriminator.Type {
		case "session.created", "session.updated":
			if o.onSetupComplete != nil {
				o.onSetupComplete()
			}
		case "response.created":
			if o.onResponseStart != nil {
				o.onResponseStart()
			}
		case "response.audio.delta":
			var evt struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal(msg, &evt); err == nil && evt.Delta != "" && o.onAudio != nil {
				if pcm, err := base64.StdEncoding.DecodeString(evt.Delta); err == nil {
					o.onAudio(pcm)
				}
			}
		case "response.audio_transcript.delta":
			var evt struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal(msg, &evt); err == nil && o.onTranscript != nil {
				o.onTranscript(evt.Delta, false)
			}
		case "response.audio_transcript.done":
			var evt struct {
				Transcript string `json:"transcript"`
			}
			if err := json.Unmarshal(msg, &evt); err == nil && o.onTranscript != nil {
				o.onTranscript(evt.Transcript, true)
			}
		case "error":
			o.log.Warn("openai upstream: provider error", zap.String("message", string(msg)))
		}
	}
}

func (o *OpenAIUpstream) SendAudio(pcm []byte, sampleRate int) error {
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("openai upstream: not connected")
	}
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	}
	return conn.WriteJSON(msg)
}

// ForceCommit implements ForceCommitter: forces the provider to finalize
// whatever audio it has buffered, per spec.md §6's FORCE_COMMIT_TIMEOUT.
func (o *OpenAIUpstream) ForceCommit() error {
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]any{"type": "response.create"})
}

func (o *OpenAIUpstream) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.conn == nil {
		return nil
	}
	o.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return o.conn.Close()
}

func (o *OpenAIUpstream) fireClosed(err error) {
	o.mu.Lock()
	already := o.closed
	o.closed = true
	o.mu.Unlock()
	if !already && o.onClosed != nil {
		o.onClosed(err)
	}
}
