// Package provider implements the per-tag ProviderSession spec.md §4.5
// describes, along with the two concrete upstream adapters
// (TRANSLATION_PROVIDER openai/gemini) behind a shared Upstream contract.
package provider

import "context"

// Upstream is the provider-agnostic contract ProviderSession drives.
// Both adapters are grounded on the teacher's pkg/deepgram and
// pkg/assemblyai clients: a gorilla/websocket connection, a
// callback-registration surface, and a read-loop goroutine demultiplexing
// JSON messages by a type/event discriminator field.
type Upstream interface {
	// Connect dials the upstream and sends the provider-specific session
	// setup message. OnSetupComplete fires once the provider acknowledges.
	Connect(ctx context.Context) error

	// SendAudio delivers one decoded PCM16 chunk to the provider at the
	// given sample rate, wrapped in the provider's realtime-input shape.
	SendAudio(pcm []byte, sampleRate int) error

	// Close tears down the upstream connection. Idempotent.
	Close() error

	OnAudio(cb func(pcm []byte))
	OnTranscript(cb func(text string, final bool))
	OnSetupComplete(cb func())
	// OnResponseStart fires when the provider begins a new response/turn,
	// the boundary ProviderSession's outbound stamping snaps to wall time on.
	OnResponseStart(cb func())
	OnClosed(cb func(err error))
}

// ForceCommitter is implemented by upstream adapters that support an
// explicit "finalize now" control message (OpenAI's response.create).
// Adapters without an equivalent (Gemini) simply don't implement it; the
// force-commit timer becomes a no-op for them.
type ForceCommitter interface {
	ForceCommit() error
}
