package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/meeting"
	"github.com/aria-ai/aria/internal/observe"
	"github.com/aria-ai/aria/internal/voice"
	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/audio/playback"
	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/types"
)

// summaryTimeout bounds the post-call summary and its write.
const summaryTimeout = 60 * time.Second

var (
	// ErrCallActive is returned by [CallManager.Start] when the meeting
	// already has a running call.
	ErrCallActive = errors.New("app: call already active")

	// ErrNoCall is returned for a meeting without a running call.
	ErrNoCall = errors.New("app: no active call")

	// ErrShuttingDown is returned by Start after Shutdown has begun.
	ErrShuttingDown = errors.New("app: shutting down")
)

// CallInfo describes a running call.
type CallInfo struct {
	MeetingID string    `json:"meeting_id"`
	AgentID   string    `json:"agent_id"`
	RoomID    string    `json:"room_id"`
	StartedAt time.Time `json:"started_at"`
}

// CallStatus is a snapshot of a running call.
type CallStatus struct {
	CallInfo
	Phase      string                   `json:"phase"`
	Tracks     int                      `json:"tracks"`
	Transcript []types.ConversationTurn `json:"transcript"`
}

// OutputSink is the playback side of a call. Close releases it when the
// call ends.
type OutputSink interface {
	audio.Sink
	Close() error
}

// CallManagerConfig holds the dependencies of a [CallManager].
type CallManagerConfig struct {
	Store     meeting.Store
	Platform  audio.Platform
	Providers *Providers
	Voice     config.VoiceConfig

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// NewSink creates the playback sink of a call. Defaults to
	// [playback.NewForConnection].
	NewSink func(audio.Connection) OutputSink

	// OnTranscript, if set, receives every accepted transcript with its
	// meeting ID.
	OnTranscript func(meetingID string, ev types.TranscriptEvent)
}

type call struct {
	info         CallInfo
	instructions string
	conn         audio.Connection
	sink         OutputSink
	orch         *voice.Orchestrator
	tracks       *voice.TrackAttacher

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// CallManager runs one voice orchestrator per meeting. Calls are started and
// stopped by meeting ID; any number of meetings may run at once.
//
// All methods are safe for concurrent use.
type CallManager struct {
	cfg CallManagerConfig

	mu         sync.Mutex
	calls      map[string]*call
	pending    map[string]struct{}
	thresholds voice.Thresholds
	closing    bool
	wg         sync.WaitGroup
}

// NewCallManager creates a CallManager.
func NewCallManager(cfg CallManagerConfig) *CallManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.NewSink == nil {
		cfg.NewSink = func(conn audio.Connection) OutputSink {
			return playback.NewForConnection(conn)
		}
	}
	return &CallManager{
		cfg:        cfg,
		calls:      make(map[string]*call),
		pending:    make(map[string]struct{}),
		thresholds: thresholdsFrom(cfg.Voice),
	}
}

func thresholdsFrom(v config.VoiceConfig) voice.Thresholds {
	return voice.Thresholds{Activity: v.ActivityThreshold, Interrupt: v.InterruptThreshold}
}

// Start sets up and starts the call of meetingID. The agent instructions and
// the transport credentials are fetched concurrently; the call then joins
// the room, opens a transcription session and attaches every participant
// track. ctx bounds the setup only.
func (m *CallManager) Start(ctx context.Context, meetingID string) (CallInfo, error) {
	if err := m.reserve(meetingID); err != nil {
		return CallInfo{}, err
	}
	c, err := m.setup(ctx, meetingID)
	runCtx, cancel := context.WithCancel(context.Background())
	if c != nil {
		c.cancel = cancel
	}

	m.mu.Lock()
	delete(m.pending, meetingID)
	if err == nil && m.closing {
		err = ErrShuttingDown
	}
	if err != nil {
		m.mu.Unlock()
		cancel()
		if c != nil {
			c.teardown()
		}
		return CallInfo{}, err
	}
	m.calls[meetingID] = c
	m.wg.Add(1)
	m.mu.Unlock()

	m.cfg.Metrics.ActiveCalls.Add(context.Background(), 1)
	go m.run(runCtx, c)

	slog.Info("app: call started", "meeting_id", meetingID, "room", c.info.RoomID, "agent_id", c.info.AgentID)
	return c.info, nil
}

func (m *CallManager) reserve(meetingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	if _, ok := m.calls[meetingID]; ok {
		return fmt.Errorf("%w: %s", ErrCallActive, meetingID)
	}
	if _, ok := m.pending[meetingID]; ok {
		return fmt.Errorf("%w: %s", ErrCallActive, meetingID)
	}
	m.pending[meetingID] = struct{}{}
	return nil
}

// setup builds a call. On error the returned call, if non-nil, holds the
// resources acquired so far.
func (m *CallManager) setup(ctx context.Context, meetingID string) (*call, error) {
	mt, err := m.cfg.Store.Get(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("app: start call %s: %w", meetingID, err)
	}

	var (
		instructions string
		state        audio.TransportState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		instructions, err = m.cfg.Store.FetchAgentInstructions(gctx, mt.AgentID)
		return err
	})
	g.Go(func() error {
		var err error
		state, err = m.cfg.Store.PushTransportState(gctx, meetingID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("app: start call %s: %w", meetingID, err)
	}

	conn, err := m.cfg.Platform.Connect(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("app: start call %s: connect: %w", meetingID, err)
	}
	c := &call{
		info: CallInfo{
			MeetingID: meetingID,
			AgentID:   mt.AgentID,
			RoomID:    state.RoomIdentifier,
			StartedAt: time.Now().UTC(),
		},
		instructions: instructions,
		conn:         conn,
		done:         make(chan struct{}),
	}

	// The session outlives the setup request.
	session, err := m.cfg.Providers.STT.StartStream(context.WithoutCancel(ctx), stt.StreamConfig{
		SampleRate: audio.InputSampleRate,
		Channels:   1,
		Language:   m.cfg.Voice.Language,
	})
	if err != nil {
		return c, fmt.Errorf("app: start call %s: transcription: %w", meetingID, err)
	}

	c.sink = m.cfg.NewSink(conn)
	m.mu.Lock()
	thresholds := m.thresholds
	m.mu.Unlock()
	opts := append(voiceOptions(m.cfg.Voice, m.cfg.Providers, m.cfg.Metrics),
		voice.WithSystemPrompt(instructions),
		voice.WithThresholds(thresholds),
		voice.WithCallID(meetingID),
	)
	c.orch = voice.New(session, m.cfg.Providers.LLM, m.cfg.Providers.TTS, c.sink, opts...)
	if fn := m.cfg.OnTranscript; fn != nil {
		c.orch.OnTranscript(func(ev types.TranscriptEvent) { fn(meetingID, ev) })
	}
	c.tracks = voice.NewTrackAttacher(c.orch, func(delta int64) {
		m.cfg.Metrics.ActiveParticipants.Add(context.Background(), delta)
	})
	return c, nil
}

// voiceOptions maps the voice config onto orchestrator options. Zero values
// keep the orchestrator defaults.
func voiceOptions(v config.VoiceConfig, ps *Providers, metrics *observe.Metrics) []voice.Option {
	opts := []voice.Option{
		voice.WithFilter(v.MinLength, v.DuplicateWindow),
		voice.WithTurnTimeout(v.TurnTimeout),
		voice.WithMetrics(metrics),
		voice.WithProviderNames(ps.LLMName, ps.TTSName),
	}
	if v.SpeakingMargin > 0 {
		opts = append(opts, voice.WithSpeakingMargin(v.SpeakingMargin))
	}
	return opts
}

// run attaches participant tracks and runs the orchestrator until the call
// is stopped or its transcription session ends.
func (m *CallManager) run(ctx context.Context, c *call) {
	defer m.wg.Done()
	defer close(c.done)

	c.conn.OnParticipantChange(func(ev audio.Event) {
		switch ev.Type {
		case audio.EventJoin:
			c.tracks.Sync(ctx, c.conn)
		case audio.EventLeave:
			c.tracks.Detach(ev.SessionID)
		}
	})
	c.tracks.Sync(ctx, c.conn)

	err := c.orch.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("app: call ended with error", "meeting_id", c.info.MeetingID, "err", err)
	}
	if ctx.Err() == nil {
		// The session ended on its own; finish the call from here.
		go func() {
			if err := m.finish(context.Background(), c); err != nil {
				slog.Warn("app: finish call", "meeting_id", c.info.MeetingID, "err", err)
			}
		}()
	}
}

// Stop ends the call of meetingID and stores its summary. ctx bounds the
// summary.
func (m *CallManager) Stop(ctx context.Context, meetingID string) error {
	m.mu.Lock()
	c, ok := m.calls[meetingID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCall, meetingID)
	}
	return m.finish(ctx, c)
}

// finish tears c down once and summarises it.
func (m *CallManager) finish(ctx context.Context, c *call) error {
	c.stopOnce.Do(func() {
		m.mu.Lock()
		if m.calls[c.info.MeetingID] == c {
			delete(m.calls, c.info.MeetingID)
		}
		m.mu.Unlock()

		c.cancel()
		c.teardown()
		<-c.done
		m.cfg.Metrics.ActiveCalls.Add(context.Background(), -1)

		transcript := c.orch.Transcript()
		slog.Info("app: call stopped", "meeting_id", c.info.MeetingID, "turns", len(transcript))
		c.stopErr = saveSummary(ctx, m.cfg.Providers.LLM, m.cfg.Store, c.info.MeetingID, c.instructions, transcript)
	})
	return c.stopErr
}

// teardown releases whatever the call holds.
func (c *call) teardown() {
	if c.orch != nil {
		if err := c.orch.Close(); err != nil {
			slog.Debug("app: close orchestrator", "meeting_id", c.info.MeetingID, "err", err)
		}
	}
	if c.tracks != nil {
		c.tracks.Close()
	}
	if c.sink != nil {
		_ = c.sink.Close()
	}
	if err := c.conn.Disconnect(); err != nil {
		slog.Warn("app: disconnect", "meeting_id", c.info.MeetingID, "err", err)
	}
}

// saveSummary summarises transcript and stores it. An empty transcript
// stores nothing.
func saveSummary(ctx context.Context, p llm.Provider, store meeting.Store, meetingID, instructions string, transcript []types.ConversationTurn) error {
	if len(transcript) == 0 || store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryTimeout)
	defer cancel()

	summary, err := llm.Summarize(ctx, p, transcript, instructions)
	if err != nil {
		// The transcript is still worth keeping.
		slog.Warn("app: summarize call", "meeting_id", meetingID, "err", err)
		summary = ""
	}
	if err := store.SaveSummary(ctx, meetingID, summary, transcript); err != nil {
		return fmt.Errorf("app: save summary %s: %w", meetingID, err)
	}
	return nil
}

// Status returns a snapshot of the call of meetingID.
func (m *CallManager) Status(meetingID string) (CallStatus, error) {
	m.mu.Lock()
	c, ok := m.calls[meetingID]
	m.mu.Unlock()
	if !ok {
		return CallStatus{}, fmt.Errorf("%w: %s", ErrNoCall, meetingID)
	}
	return CallStatus{
		CallInfo:   c.info,
		Phase:      c.orch.Phase(),
		Tracks:     c.tracks.Len(),
		Transcript: c.orch.Transcript(),
	}, nil
}

// Active returns the running calls ordered by meeting ID.
func (m *CallManager) Active() []CallInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallInfo, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeetingID < out[j].MeetingID })
	return out
}

// SetThresholds applies t to every running call and to calls started later.
func (m *CallManager) SetThresholds(t voice.Thresholds) {
	m.mu.Lock()
	m.thresholds = t
	calls := make([]*call, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	m.mu.Unlock()

	for _, c := range calls {
		c.orch.SetThresholds(t)
	}
	slog.Info("app: voice thresholds updated", "activity", t.Activity, "interrupt", t.Interrupt, "calls", len(calls))
}

// Shutdown stops every call concurrently and refuses new ones. It returns
// the first stop error, or ctx.Err() if ctx expires first.
func (m *CallManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	calls := make([]*call, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, c := range calls {
		g.Go(func() error { return m.finish(ctx, c) })
	}
	errc := make(chan error, 1)
	go func() {
		err := g.Wait()
		m.wg.Wait()
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
