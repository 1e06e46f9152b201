package provider

import (
	"context"
	"encoding/base64"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vstream/relay/internal/audio"
	"github.com/vstream/relay/internal/logging"
	"github.com/vstream/relay/internal/metrics"
	"github.com/vstream/relay/internal/seqnum"
)

// ConnState is the Connection state machine spec.md §4.5 describes.
type ConnState string

const (
	ConnPending       ConnState = "pending"
	ConnConnected     ConnState = "connected"
	ConnSetupComplete ConnState = "setup_complete"
	ConnFailed        ConnState = "failed"
	ConnClosed        ConnState = "closed"
)

// CodecState is shared by the Decoder and Encoder state machines.
type CodecState string

const (
	CodecPending CodecState = "pending"
	CodecReady   CodecState = "ready"
	CodecFailed  CodecState = "failed"
	CodecClosed  CodecState = "closed"
)

// OutboundFrame is one stamped outbound audio event, per spec.md §4.5's
// "{tag, chunk, timestamp, payload, sequenceNumber}".
type OutboundFrame struct {
	Tag            string
	Chunk          uint64
	Timestamp      uint32
	Payload        string
	SequenceNumber uint64
}

// Config carries the per-session settings a Session needs beyond its
// Decoder/Encoder/Upstream collaborators.
type Config struct {
	Tag                string
	ProviderSampleRate int
	ForceCommitTimeout time.Duration
}

// Session is the per-tag ProviderSession spec.md §4.5 specifies.
type Session struct {
	cfg      Config
	upstream Upstream
	decoder  audio.Decoder
	encoder  *audio.Encoder
	seq      *seqnum.Counter
	log      logging.Logger

	mu        sync.Mutex
	connState ConnState
	decState  CodecState
	encState  CodecState
	closed    bool
	started   bool

	pendingOpusFrames [][3]any // {frame []byte, chunkNo, timestamp uint32}
	pendingPCMChunks  [][]byte

	chunkCounter   uint64
	startWall      time.Time
	haveFirstFrame bool
	responseBoundaryPending bool
	timestamp48k   uint32

	forceCommitTimer *time.Timer

	onClosed        func(tag string)
	onError         func(tag string, err error)
	onTranscription func(tag, text string, final bool)
	onAudioFrame    func(OutboundFrame)
}

// New constructs a Session. decoder and encoder are assumed already
// constructed (decoder init failure is fatal before a Session is even
// created; encoder init failure is handled by passing a nil encoder, which
// starts the Encoder state machine in failed).
func New(cfg Config, upstream Upstream, decoder audio.Decoder, encoder *audio.Encoder, log logging.Logger) *Session {
	if log == nil {
		log = logging.Noop()
	}
	encState := CodecFailed
	if encoder != nil {
		encState = CodecReady
	}
	s := &Session{
		cfg:       cfg,
		upstream:  upstream,
		decoder:   decoder,
		encoder:   encoder,
		seq:       seqnum.Global,
		log:       log.With(zap.String("tag", cfg.Tag)),
		connState: ConnPending,
		decState:  CodecPending,
		encState:  encState,
	}
	return s
}

// SetCallbacks wires the multiplexer's outbound event handlers.
func (s *Session) SetCallbacks(onClosed func(string), onError func(string, error), onTranscription func(string, string, bool), onAudioFrame func(OutboundFrame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClosed = onClosed
	s.onError = onError
	s.onTranscription = onTranscription
	s.onAudioFrame = onAudioFrame
}

// Start connects the upstream and wires its callbacks. The Decoder state
// machine transitions pending -> ready as soon as decoder.Ready() closes.
func (s *Session) Start(ctx context.Context) error {
	s.upstream.OnSetupComplete(s.handleSetupComplete)
	s.upstream.OnResponseStart(s.handleResponseStart)
	s.upstream.OnAudio(s.handleUpstreamAudio)
	s.upstream.OnTranscript(s.handleUpstreamTranscript)
	s.upstream.OnClosed(s.handleUpstreamClosed)

	select {
	case <-s.decoder.Ready():
		s.handleDecoderReady()
	default:
		go func() {
			select {
			case <-s.decoder.Ready():
				s.handleDecoderReady()
			case <-ctx.Done():
			}
		}()
	}

	if err := s.upstream.Connect(ctx); err != nil {
		s.mu.Lock()
		s.connState = ConnFailed
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.connState = ConnConnected
	s.mu.Unlock()

	if s.cfg.ForceCommitTimeout > 0 {
		s.resetForceCommitTimer()
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()
	return nil
}

// HandleMedia implements spec.md §4.5's handleMedia(event).
func (s *Session) HandleMedia(tag string, payloadB64 string, chunkNo, timestamp uint32) {
	if tag != s.cfg.Tag {
		return
	}
	frame, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		s.log.Warn("handleMedia: invalid base64 payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	decState := s.decState
	s.mu.Unlock()

	switch decState {
	case CodecReady:
		s.decodeAndDispatch(frame, chunkNo, timestamp)
	case CodecPending:
		s.mu.Lock()
		s.pendingOpusFrames = append(s.pendingOpusFrames, [3]any{frame, chunkNo, timestamp})
		s.mu.Unlock()
	default:
		s.log.Debug("handleMedia: dropping frame, decoder not ready", zap.String("decState", string(decState)))
	}
}

func (s *Session) decodeAndDispatch(frame []byte, chunkNo, timestamp uint32) {
	results, err := s.decoder.DecodeChunk(frame, chunkNo, timestamp)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("decode_failure").Inc()
		s.log.Warn("decode failure", zap.Error(err))
		return
	}
	if audio.IsDiscard(results) {
		metrics.DiscardedChunksTotal.Inc()
		return
	}
	for _, r := range results {
		metrics.DecodedFramesTotal.WithLabelValues(string(r.Kind)).Inc()
		if len(r.Errors) > 0 {
			metrics.ErrorsTotal.WithLabelValues("decode_failure").Inc()
			continue
		}
		s.sendOrEnqueueDecodedAudio(r.PCM)
	}
}

func (s *Session) handleDecoderReady() {
	s.mu.Lock()
	s.decState = CodecReady
	pending := s.pendingOpusFrames
	s.pendingOpusFrames = nil
	s.mu.Unlock()

	for _, p := range pending {
		frame := p[0].([]byte)
		chunkNo := p[1].(uint32)
		timestamp := p[2].(uint32)
		s.decodeAndDispatch(frame, chunkNo, timestamp)
	}
}

// sendOrEnqueueDecodedAudio implements spec.md §4.5's dispatch rule.
func (s *Session) sendOrEnqueueDecodedAudio(pcm []byte) {
	s.mu.Lock()
	state := s.connState
	s.mu.Unlock()

	switch state {
	case ConnSetupComplete:
		if err := s.upstream.SendAudio(pcm, s.cfg.ProviderSampleRate); err != nil {
			metrics.ErrorsTotal.WithLabelValues("upstream_socket").Inc()
			s.log.Warn("send audio to upstream failed", zap.Error(err))
		}
	case ConnPending, ConnConnected:
		s.mu.Lock()
		s.pendingPCMChunks = append(s.pendingPCMChunks, pcm)
		s.mu.Unlock()
	default:
		// failed/closed: drop.
	}
}

func (s *Session) handleSetupComplete() {
	s.mu.Lock()
	s.connState = ConnSetupComplete
	pending := s.pendingPCMChunks
	s.pendingPCMChunks = nil
	s.mu.Unlock()

	for _, pcm := range pending {
		if err := s.upstream.SendAudio(pcm, s.cfg.ProviderSampleRate); err != nil {
			metrics.ErrorsTotal.WithLabelValues("upstream_socket").Inc()
			s.log.Warn("flush pending audio failed", zap.Error(err))
		}
	}
}

func (s *Session) handleResponseStart() {
	s.mu.Lock()
	s.responseBoundaryPending = true
	s.mu.Unlock()
}

// handleUpstreamAudio implements the "inbound upstream audio" stamping
// algorithm of spec.md §4.5.
func (s *Session) handleUpstreamAudio(pcm []byte) {
	s.resetForceCommitTimer()

	s.mu.Lock()
	enc := s.encoder
	encState := s.encState
	s.mu.Unlock()
	if encState != CodecReady || enc == nil {
		return
	}

	packets, err := enc.EncodeFrame(pcm)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("encoder_init").Inc()
		s.log.Warn("encode outbound frame failed", zap.Error(err))
		return
	}

	for _, packet := range packets {
		frame := s.stampOutboundFrame(packet)
		s.mu.Lock()
		cb := s.onAudioFrame
		s.mu.Unlock()
		if cb != nil {
			cb(frame)
		}
	}
}

func (s *Session) stampOutboundFrame(packet []byte) OutboundFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.haveFirstFrame {
		s.startWall = now
		s.timestamp48k = 0
		s.haveFirstFrame = true
	} else if s.responseBoundaryPending {
		elapsed := now.Sub(s.startWall)
		s.timestamp48k = uint32(math.Round(elapsed.Seconds() * audio.RTPClockHz))
		s.responseBoundaryPending = false
	}

	s.chunkCounter++
	seq := s.seq.Next()
	metrics.SequenceNumber.Set(float64(seq))

	frame := OutboundFrame{
		Tag:            s.cfg.Tag,
		Chunk:          s.chunkCounter,
		Timestamp:      s.timestamp48k,
		Payload:        base64.StdEncoding.EncodeToString(packet),
		SequenceNumber: seq,
	}
	s.timestamp48k += 960
	return frame
}

func (s *Session) handleUpstreamTranscript(text string, final bool) {
	s.resetForceCommitTimer()
	s.mu.Lock()
	cb := s.onTranscription
	s.mu.Unlock()
	if cb != nil {
		cb(s.cfg.Tag, text, final)
	}
}

func (s *Session) resetForceCommitTimer() {
	if s.cfg.ForceCommitTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceCommitTimer == nil {
		s.forceCommitTimer = time.AfterFunc(s.cfg.ForceCommitTimeout, s.forceCommit)
		return
	}
	s.forceCommitTimer.Reset(s.cfg.ForceCommitTimeout)
}

func (s *Session) forceCommit() {
	if fc, ok := s.upstream.(ForceCommitter); ok {
		if err := fc.ForceCommit(); err != nil {
			s.log.Warn("force commit failed", zap.Error(err))
		}
	}
}

func (s *Session) handleUpstreamClosed(err error) {
	s.internalClose(err, true)
}

// Close tears the session down per spec.md §4.5's close() semantics.
// Idempotent.
func (s *Session) Close() error {
	return s.internalClose(nil, false)
}

func (s *Session) internalClose(cause error, upstreamInduced bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connState = ConnClosed
	s.decState = CodecClosed
	s.encState = CodecClosed
	if s.forceCommitTimer != nil {
		s.forceCommitTimer.Stop()
	}
	started := s.started
	onClosed := s.onClosed
	onError := s.onError
	tag := s.cfg.Tag
	s.mu.Unlock()

	s.decoder.Free()
	if s.encoder != nil {
		s.encoder.Close()
	}
	if !upstreamInduced {
		s.upstream.Close()
	}
	if started {
		metrics.ActiveSessions.Dec()
	}

	if cause != nil && onError != nil {
		onError(tag, cause)
	}
	if upstreamInduced && onClosed != nil {
		onClosed(tag)
	}
	return nil
}

// ConnState reports the current Connection state, for tests and metrics.
func (s *Session) ConnState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// DecoderState reports the current Decoder state.
func (s *Session) DecoderState() CodecState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decState
}
