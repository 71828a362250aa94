package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aria-ai/aria/internal/observe"
	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/provider/tts"
	"github.com/aria-ai/aria/pkg/types"
)

// DefaultTurnTimeout bounds the reply generation and synthesis of one turn.
const DefaultTurnTimeout = 30 * time.Second

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithSystemPrompt sets the agent instructions sent as the system turn.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = strings.TrimSpace(prompt) }
}

// WithThresholds sets the gate thresholds. Zero fields keep the defaults.
func WithThresholds(t Thresholds) Option {
	return func(o *Orchestrator) { o.thresholds = t.withDefaults() }
}

// WithSpeakingMargin sets the safety margin added to the speaking estimate.
func WithSpeakingMargin(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.margin = d
		}
	}
}

// WithFilter sets the minimum transcript length and duplicate window.
func WithFilter(minLength int, window time.Duration) Option {
	return func(o *Orchestrator) { o.sm.SetFilter(minLength, window) }
}

// WithTurnTimeout bounds the vendor calls of a single turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.turnTimeout = d
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCallID labels logs and spans with the meeting the orchestrator serves.
func WithCallID(id string) Option {
	return func(o *Orchestrator) { o.callID = id }
}

// WithProviderNames sets the provider labels used in metrics.
func WithProviderNames(llmName, ttsName string) Option {
	return func(o *Orchestrator) {
		o.llmName, o.ttsName = llmName, ttsName
	}
}

// Orchestrator runs the turn-taking loop for one call. It reads final
// transcripts from an stt session, asks the reply generator for an answer,
// synthesizes it and plays it through an [audio.Sink]. Microphone frames are
// fed in through [Orchestrator.HandlePCM] or [Orchestrator.HandleSamples].
//
// At most one reply is in flight at a time: transcripts arriving while a turn
// is running are dropped, not queued.
type Orchestrator struct {
	session stt.SessionHandle
	replies llm.Provider
	speech  tts.Provider
	sink    audio.Sink
	sm      *StateMachine

	systemPrompt string
	margin       time.Duration
	turnTimeout  time.Duration
	metrics      *observe.Metrics
	callID       string
	llmName      string
	ttsName      string

	mu          sync.Mutex
	thresholds  Thresholds
	subscribers []func(types.TranscriptEvent)
	log         []types.ConversationTurn
	interrupted chan struct{}

	closed     atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
	sessionErr sync.Once
}

// New creates an orchestrator for one call. The orchestrator takes ownership
// of session and closes it in [Orchestrator.Close].
func New(session stt.SessionHandle, replies llm.Provider, speech tts.Provider, sink audio.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session:     session,
		replies:     replies,
		speech:      speech,
		sink:        sink,
		sm:          NewStateMachine(),
		margin:      DefaultSpeakingMargin,
		turnTimeout: DefaultTurnTimeout,
		thresholds:  DefaultThresholds(),
		llmName:     "llm",
		ttsName:     "tts",
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Run consumes final transcripts until the session ends, ctx is cancelled or
// the orchestrator is closed. A session that ends on its own returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Interim results are not used; keep the session from blocking on them.
	go audio.Drain(o.session.Partials())

	finals := o.session.Finals()
	for {
		select {
		case ev, ok := <-finals:
			if !ok {
				slog.Info("voice: transcription session ended", "call_id", o.callID)
				return nil
			}
			o.HandleTranscript(ev)
		case <-ctx.Done():
			return ctx.Err()
		case <-o.done:
			return nil
		}
	}
}

// HandleTranscript offers one final transcript to the state machine. When it
// is accepted, the transcript is logged as a user turn, subscribers are
// notified and a reply is produced in the background. It reports whether a
// turn was started.
func (o *Orchestrator) HandleTranscript(ev types.TranscriptEvent) bool {
	if o.closed.Load() {
		return false
	}
	ctx := context.Background()

	if _, reason := o.sm.Accept(ev); reason != DropNone {
		o.metrics.RecordTurnDropped(ctx, string(reason))
		slog.Debug("voice: transcript dropped", "call_id", o.callID, "reason", reason, "text", ev.Text)
		return false
	}
	o.metrics.TurnsAccepted.Add(ctx, 1)

	text := strings.TrimSpace(ev.Text)
	interrupted := make(chan struct{}, 1)

	o.mu.Lock()
	o.log = append(o.log, types.ConversationTurn{Role: types.RoleUser, Content: text})
	o.interrupted = interrupted
	subs := append([]func(types.TranscriptEvent){}, o.subscribers...)
	o.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}

	go o.runTurn(text, interrupted)
	return true
}

// runTurn produces and plays the reply to text, then returns the machine to
// idle when playback is estimated to be over or was interrupted.
func (o *Orchestrator) runTurn(text string, interrupted <-chan struct{}) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), o.turnTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "voice.turn", trace.WithAttributes(attribute.String("call_id", o.callID)))
	defer span.End()

	turns := make([]types.ConversationTurn, 0, 2)
	if o.systemPrompt != "" {
		turns = append(turns, types.ConversationTurn{Role: types.RoleSystem, Content: o.systemPrompt})
	}
	turns = append(turns, types.ConversationTurn{Role: types.RoleUser, Content: text})

	reply, err := o.generate(ctx, turns)
	if err != nil {
		o.fail(ctx, "llm", o.llmName, err)
		return
	}
	pcm, err := o.synthesize(ctx, reply)
	if err != nil {
		o.fail(ctx, "tts", o.ttsName, err)
		return
	}
	if o.closed.Load() {
		// The call ended while the vendors were working.
		o.sm.Fail()
		return
	}

	if err := o.sink.Play(ctx, pcm, tts.SampleRate); err != nil {
		o.fail(ctx, "playback", "sink", err)
		return
	}
	if err := o.sm.StartSpeaking(); err != nil {
		o.sink.Cancel()
		o.fail(ctx, "playback", "sink", err)
		return
	}
	o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())

	o.mu.Lock()
	o.log = append(o.log, types.ConversationTurn{Role: types.RoleAssistant, Content: reply})
	o.mu.Unlock()

	d := SpeakingDuration(len(pcm), o.margin)
	observe.Logger(ctx).Debug("voice: speaking", "call_id", o.callID, "bytes", len(pcm), "duration", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-interrupted:
	case <-o.done:
		o.sink.Cancel()
	}
	o.sm.Finish()
}

func (o *Orchestrator) generate(ctx context.Context, turns []types.ConversationTurn) (string, error) {
	ctx, end := observe.Stage(ctx, "llm.chat_completion", o.metrics.LLMDuration)
	reply, err := o.replies.ChatCompletion(ctx, turns)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = llm.ErrEmptyResponse
	}
	end(err)
	o.recordRequest(ctx, o.llmName, "llm", err)
	return strings.TrimSpace(reply), err
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, end := observe.Stage(ctx, "tts.synthesize", o.metrics.TTSDuration)
	pcm, err := o.speech.Synthesize(ctx, text)
	end(err)
	o.recordRequest(ctx, o.ttsName, "tts", err)
	return pcm, err
}

func (o *Orchestrator) recordRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordProviderRequest(ctx, provider, kind, status)
}

// fail abandons the current turn. No retry is attempted; the next utterance
// starts a fresh turn.
func (o *Orchestrator) fail(ctx context.Context, stage, provider string, err error) {
	observe.Logger(ctx).Warn("voice: turn failed", "call_id", o.callID, "stage", stage, "err", err)
	o.metrics.RecordProviderError(ctx, provider, stage)
	o.sm.Fail()
}

// Interrupt cancels playback if the agent is speaking. It reports whether
// anything was cancelled; calling it while silent is a no-op. The lock is
// released by the turn's own cleanup once it observes the interruption.
func (o *Orchestrator) Interrupt() bool {
	if !o.sm.Interrupt() {
		return false
	}
	o.sink.Cancel()
	o.metrics.Interruptions.Add(context.Background(), 1)
	slog.Info("voice: playback interrupted", "call_id", o.callID)

	o.mu.Lock()
	ch := o.interrupted
	o.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true
}

// HandlePCM gates one frame of 16 kHz mono PCM16. Loud frames interrupt the
// agent while it speaks; frames at or above the activity threshold are
// forwarded to the transcription session.
func (o *Orchestrator) HandlePCM(pcm []byte) GateDecision {
	d := o.Thresholds().Classify(audio.RMS(pcm), o.sm.IsSpeaking())
	if d.Interrupt {
		o.Interrupt()
	}
	if d.Forward && !o.closed.Load() {
		if err := o.session.SendAudio(pcm); err != nil {
			o.logSendError(err)
		}
	}
	return d
}

// HandleSamples converts interleaved float32 capture samples to 16-bit mono
// and gates them. Samples must already be at [audio.InputSampleRate].
func (o *Orchestrator) HandleSamples(samples []float32, channels int) GateDecision {
	return o.HandlePCM(audio.Float32ToPCM16(audio.DownmixFloat32(samples, channels)))
}

func (o *Orchestrator) logSendError(err error) {
	if errors.Is(err, stt.ErrSessionClosed) {
		o.sessionErr.Do(func() {
			slog.Warn("voice: transcription session closed, frames are dropped", "call_id", o.callID)
		})
		return
	}
	slog.Debug("voice: send audio failed", "call_id", o.callID, "err", err)
}

// OnTranscript registers fn to be called synchronously with every accepted
// transcript, before the reply is requested.
func (o *Orchestrator) OnTranscript(fn func(types.TranscriptEvent)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

// SetThresholds replaces the gate thresholds of a running orchestrator.
func (o *Orchestrator) SetThresholds(t Thresholds) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.thresholds = t.withDefaults()
}

// Thresholds returns the current gate thresholds.
func (o *Orchestrator) Thresholds() Thresholds {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.thresholds
}

// State returns a snapshot of the call's runtime state.
func (o *Orchestrator) State() RuntimeState { return o.sm.Snapshot() }

// Phase returns the current state machine state name.
func (o *Orchestrator) Phase() string { return o.sm.Current() }

// Transcript returns the user and assistant turns of the call so far.
func (o *Orchestrator) Transcript() []types.ConversationTurn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.ConversationTurn(nil), o.log...)
}

// Close stops the orchestrator, cancels any playback and closes the
// transcription session. Vendor calls already in flight run to completion and
// their results are discarded. Close is idempotent.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		close(o.done)
		if o.sm.IsSpeaking() {
			o.sink.Cancel()
		}
		err = o.session.Close()
	})
	return err
}
