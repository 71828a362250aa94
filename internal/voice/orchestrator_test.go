package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aria-ai/aria/internal/observe"
	audiomock "github.com/aria-ai/aria/pkg/audio/mock"
	llmmock "github.com/aria-ai/aria/pkg/provider/llm/mock"
	sttmock "github.com/aria-ai/aria/pkg/provider/stt/mock"
	ttsmock "github.com/aria-ai/aria/pkg/provider/tts/mock"
	"github.com/aria-ai/aria/pkg/types"
)

type harness struct {
	session *sttmock.Session
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	sink    *audiomock.Sink
	reader  *sdkmetric.ManualReader
	orch    *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		session: sttmock.NewSession(),
		llm:     &llmmock.Provider{Replies: []string{"Sure, turning them on."}},
		tts:     &ttsmock.Provider{Audio: make([]byte, 48000)},
		sink:    &audiomock.Sink{},
		reader:  reader,
	}
	opts = append([]Option{WithMetrics(metrics), WithCallID("test-call")}, opts...)
	h.orch = New(h.session, h.llm, h.tts, h.sink, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = h.orch.Close()
		<-done
	})
	return h
}

// counter returns the total of the named int64 sum across all points.
func (h *harness) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// tone returns n mono samples of constant amplitude, whose RMS is amp.
func tone(n int, amp float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = amp
	}
	return s
}

// frameSamples is 20 ms at 16 kHz.
const frameSamples = 320

func TestOrchestrator_EndToEndTurn(t *testing.T) {
	h := newHarness(t, WithSystemPrompt("You are a home assistant."))

	// 400 ms of speech at volume 0.05.
	for range 20 {
		if d := h.orch.HandleSamples(tone(frameSamples, 0.05), 1); !d.Forward || d.Interrupt {
			t.Fatalf("speech frame decision = %+v", d)
		}
	}
	if got := h.session.SendAudioCallCount(); got != 20 {
		t.Fatalf("forwarded frames = %d, want 20", got)
	}
	if got := len(h.session.Chunks()[0]); got != frameSamples*2 {
		t.Errorf("forwarded chunk = %d bytes, want %d", got, frameSamples*2)
	}

	var seen []string
	var seenMu sync.Mutex
	h.orch.OnTranscript(func(ev types.TranscriptEvent) {
		seenMu.Lock()
		defer seenMu.Unlock()
		seen = append(seen, ev.Text)
	})

	h.session.EmitFinal("turn on the lights")

	waitFor(t, 2*time.Second, "playback", func() bool { return len(h.sink.PlayCalls()) == 1 })
	playedAt := time.Now()

	play := h.sink.PlayCalls()[0]
	if len(play.PCM) != 48000 || play.SampleRate != 24000 {
		t.Errorf("played %d bytes at %d Hz, want 48000 at 24000", len(play.PCM), play.SampleRate)
	}
	waitFor(t, time.Second, "speaking flag", func() bool { return h.orch.State().IsSpeaking })
	if h.orch.Phase() != StateSpeaking {
		t.Errorf("phase = %q, want %q", h.orch.Phase(), StateSpeaking)
	}

	calls := h.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	want := []types.ConversationTurn{
		{Role: types.RoleSystem, Content: "You are a home assistant."},
		{Role: types.RoleUser, Content: "turn on the lights"},
	}
	if len(calls[0]) != len(want) || calls[0][0] != want[0] || calls[0][1] != want[1] {
		t.Errorf("llm turns = %+v, want %+v", calls[0], want)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "Sure, turning them on." {
		t.Errorf("tts texts = %q", texts)
	}
	seenMu.Lock()
	if len(seen) != 1 || seen[0] != "turn on the lights" {
		t.Errorf("subscriber saw %q", seen)
	}
	seenMu.Unlock()

	// Still speaking well before the 1500 ms estimate.
	time.Sleep(1200 * time.Millisecond)
	if !h.orch.State().IsSpeaking {
		t.Fatal("stopped speaking before the estimated duration")
	}

	waitFor(t, 2*time.Second, "idle", func() bool {
		s := h.orch.State()
		return !s.IsSpeaking && !s.IsLocked
	})
	if elapsed := time.Since(playedAt); elapsed < 1450*time.Millisecond {
		t.Errorf("returned to idle after %v, want about 1500ms", elapsed)
	}
	if h.orch.Phase() != StateIdle {
		t.Errorf("phase = %q, want idle", h.orch.Phase())
	}
	if h.sink.CancelCount() != 0 {
		t.Errorf("sink cancelled %d times on a normal turn", h.sink.CancelCount())
	}

	log := h.orch.Transcript()
	if len(log) != 2 || log[1].Role != types.RoleAssistant || log[1].Content != "Sure, turning them on." {
		t.Errorf("transcript log = %+v", log)
	}
	if got := h.counter(t, "aria.turns.accepted"); got != 1 {
		t.Errorf("turns accepted = %d, want 1", got)
	}
}

func TestOrchestrator_InterruptWhileSpeaking(t *testing.T) {
	h := newHarness(t)
	h.tts.Audio = make([]byte, 480000) // ten seconds

	h.session.EmitFinal("tell me a long story")
	waitFor(t, 2*time.Second, "speaking", func() bool { return h.orch.State().IsSpeaking })

	d := h.orch.HandleSamples(tone(frameSamples, 0.02), 1)
	if !d.Interrupt {
		t.Fatalf("loud frame decision = %+v", d)
	}
	if got := h.sink.CancelCount(); got != 1 {
		t.Fatalf("cancel count = %d, want 1", got)
	}
	if h.orch.State().IsSpeaking {
		t.Fatal("IsSpeaking still set right after the interrupt")
	}

	// Further loud frames do not cancel again.
	h.orch.HandleSamples(tone(frameSamples, 0.05), 1)
	h.orch.HandleSamples(tone(frameSamples, 0.05), 1)

	waitFor(t, time.Second, "lock release", func() bool { return !h.orch.State().IsLocked })
	if got := h.sink.CancelCount(); got != 1 {
		t.Errorf("cancel count = %d after more loud frames, want 1", got)
	}
	if h.orch.Phase() != StateIdle {
		t.Errorf("phase = %q, want idle", h.orch.Phase())
	}
	if got := h.counter(t, "aria.interruptions"); got != 1 {
		t.Errorf("interruptions = %d, want 1", got)
	}

	// The call continues with a fresh turn.
	h.session.EmitFinal("something else")
	waitFor(t, 2*time.Second, "second playback", func() bool { return len(h.sink.PlayCalls()) == 2 })
}

func TestOrchestrator_InterruptWhenSilentIsNoop(t *testing.T) {
	h := newHarness(t)
	if h.orch.Interrupt() {
		t.Error("Interrupt() = true with nothing playing")
	}
	d := h.orch.HandleSamples(tone(frameSamples, 0.5), 1)
	if d.Interrupt {
		t.Error("loud frame while idle flagged as interrupt")
	}
	if h.sink.CancelCount() != 0 {
		t.Errorf("sink cancelled %d times", h.sink.CancelCount())
	}
	if h.orch.Phase() != StateIdle {
		t.Errorf("phase = %q, want idle", h.orch.Phase())
	}
}

func TestOrchestrator_ProviderErrorsResetState(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantTTS   int
		wantStage string
	}{
		{
			name:    "llm error",
			setup:   func(h *harness) { h.llm.Err = errors.New("llm: openai: HTTP 500: boom") },
			wantTTS: 0,
		},
		{
			name:    "llm empty reply",
			setup:   func(h *harness) { h.llm.Replies = []string{"   "} },
			wantTTS: 0,
		},
		{
			name:    "tts error",
			setup:   func(h *harness) { h.tts.Err = errors.New("tts: elevenlabs: HTTP 401: bad key") },
			wantTTS: 1,
		},
		{
			name:    "playback error",
			setup:   func(h *harness) { h.sink.PlayError = errors.New("device gone") },
			wantTTS: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)

			h.session.EmitFinal("turn on the lights")
			waitFor(t, 2*time.Second, "llm call", func() bool { return h.llm.CallCount() == 1 })
			waitFor(t, 2*time.Second, "reset", func() bool {
				s := h.orch.State()
				return !s.IsLocked && !s.IsSpeaking && h.orch.Phase() == StateIdle
			})

			if got := h.tts.CallCount(); got != tc.wantTTS {
				t.Errorf("tts calls = %d, want %d", got, tc.wantTTS)
			}
			if h.sink.PlayError == nil && len(h.sink.PlayCalls()) != 0 {
				t.Errorf("sink played %d times after a failed turn", len(h.sink.PlayCalls()))
			}
			if got := h.counter(t, "aria.provider.errors"); got != 1 {
				t.Errorf("provider errors = %d, want 1", got)
			}

			// No retry: nothing else is called until the next utterance.
			time.Sleep(50 * time.Millisecond)
			if h.llm.CallCount() != 1 {
				t.Errorf("llm retried: %d calls", h.llm.CallCount())
			}
		})
	}
}

func TestOrchestrator_TranscriptsWhileLockedAreDropped(t *testing.T) {
	h := newHarness(t)
	h.llm.Block = make(chan struct{})

	h.session.EmitFinal("first question")
	waitFor(t, time.Second, "llm call", func() bool { return h.llm.CallCount() == 1 })

	if h.orch.HandleTranscript(types.TranscriptEvent{Text: "second question", IsFinal: true, Timestamp: time.Now()}) {
		t.Error("transcript accepted while locked")
	}
	close(h.llm.Block)
	waitFor(t, 2*time.Second, "playback", func() bool { return len(h.sink.PlayCalls()) == 1 })

	if got := h.llm.CallCount(); got != 1 {
		t.Errorf("llm calls = %d, want 1", got)
	}
	if got := h.counter(t, "aria.turns.dropped"); got != 1 {
		t.Errorf("turns dropped = %d, want 1", got)
	}
	if log := h.orch.Transcript(); log[0].Content != "first question" || len(log) != 2 {
		t.Errorf("transcript log = %+v", log)
	}
}

func TestOrchestrator_DuplicateTranscripts(t *testing.T) {
	h := newHarness(t, WithSpeakingMargin(0))
	h.tts.Audio = nil

	t0 := time.Now()
	accept := func(text string, at time.Time) bool {
		return h.orch.HandleTranscript(types.TranscriptEvent{Text: text, IsFinal: true, Timestamp: at})
	}
	if !accept("Hello there", t0) {
		t.Fatal("first transcript dropped")
	}
	waitFor(t, time.Second, "idle", func() bool { return !h.orch.State().IsLocked })

	if accept("hello there", t0.Add(5000*time.Millisecond)) {
		t.Error("duplicate at 5000ms accepted")
	}
	if !accept("hello there", t0.Add(5001*time.Millisecond)) {
		t.Error("repeat at 5001ms dropped")
	}
}

func TestOrchestrator_GateDropsSilence(t *testing.T) {
	h := newHarness(t)
	for range 10 {
		if d := h.orch.HandleSamples(tone(frameSamples, 0.001), 1); d.Forward {
			t.Fatalf("silent frame forwarded: %+v", d)
		}
	}
	h.orch.HandleSamples(tone(frameSamples*2, 0.05), 2)
	if got := h.session.SendAudioCallCount(); got != 1 {
		t.Fatalf("forwarded = %d, want 1", got)
	}
	if got := len(h.session.Chunks()[0]); got != frameSamples*2 {
		t.Errorf("stereo frame downmixed to %d bytes, want %d", got, frameSamples*2)
	}
}

func TestOrchestrator_SetThresholds(t *testing.T) {
	h := newHarness(t)
	h.orch.SetThresholds(Thresholds{Activity: 0.1, Interrupt: 0.2})
	if d := h.orch.HandleSamples(tone(frameSamples, 0.05), 1); d.Forward {
		t.Error("frame below raised activity threshold was forwarded")
	}
	if got := h.orch.Thresholds(); got.Activity != 0.1 || got.Interrupt != 0.2 {
		t.Errorf("Thresholds() = %+v", got)
	}
}

func TestOrchestrator_SessionEndStopsRun(t *testing.T) {
	session := sttmock.NewSession()
	o := New(session, &llmmock.Provider{}, &ttsmock.Provider{}, &audiomock.Sink{})
	errc := make(chan error, 1)
	go func() { errc <- o.Run(context.Background()) }()

	session.Disconnect()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run after session end: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the session ended")
	}

	// Frames after the session ended are dropped without error.
	o.HandleSamples(tone(frameSamples, 0.05), 1)
	_ = o.Close()
}

func TestOrchestrator_CloseDiscardsPendingReply(t *testing.T) {
	h := newHarness(t)
	h.llm.Block = make(chan struct{})

	h.session.EmitFinal("are you there")
	waitFor(t, time.Second, "llm call", func() bool { return h.llm.CallCount() == 1 })

	if err := h.orch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.orch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.session.CloseCallCount() != 1 {
		t.Errorf("session closed %d times, want 1", h.session.CloseCallCount())
	}

	close(h.llm.Block)
	time.Sleep(50 * time.Millisecond)
	if n := len(h.sink.PlayCalls()); n != 0 {
		t.Errorf("reply played after Close: %d calls", n)
	}
	if h.orch.HandleTranscript(types.TranscriptEvent{Text: "hello again", Timestamp: time.Now()}) {
		t.Error("transcript accepted after Close")
	}
}

func TestOrchestrator_InterimResultsDoNotStall(t *testing.T) {
	h := newHarness(t)
	for range 64 {
		if !h.session.EmitPartial("turn on") {
			t.Fatal("session ended early")
		}
	}
	h.session.EmitFinal("Turn on the lights.")
	waitFor(t, 2*time.Second, "reply generated", func() bool { return h.llm.CallCount() == 1 })
}
