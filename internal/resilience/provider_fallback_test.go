package resilience

import (
	"context"
	"errors"
	"testing"

	llmmock "github.com/aria-ai/aria/pkg/provider/llm/mock"
	"github.com/aria-ai/aria/pkg/provider/stt"
	sttmock "github.com/aria-ai/aria/pkg/provider/stt/mock"
	ttsmock "github.com/aria-ai/aria/pkg/provider/tts/mock"
	"github.com/aria-ai/aria/pkg/types"
)

var testTurns = []types.ConversationTurn{{Role: types.RoleUser, Content: "hello"}}

func TestLLMFallback_ChatCompletion(t *testing.T) {
	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		want          string
		wantAllFailed bool
	}{
		{name: "primary serves", want: "from primary"},
		{name: "failover", primaryErr: errTest, want: "from secondary"},
		{name: "all fail", primaryErr: errTest, secondaryErr: errTest, wantAllFailed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &llmmock.Provider{Replies: []string{"from primary"}, Err: tt.primaryErr}
			secondary := &llmmock.Provider{Replies: []string{"from secondary"}, Err: tt.secondaryErr}
			fb := NewLLMFallback(primary, "primary", FallbackConfig{})
			fb.AddFallback("secondary", secondary)

			got, err := fb.ChatCompletion(context.Background(), testTurns)
			if tt.wantAllFailed {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ChatCompletion: %v", err)
			}
			if got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if primary.CallCount() != 1 {
				t.Errorf("primary called %d times, want exactly 1", primary.CallCount())
			}
			if c := primary.Calls()[0]; len(c) != 1 || c[0].Content != "hello" {
				t.Errorf("primary received %v", c)
			}
		})
	}
}

func TestLLMFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &llmmock.Provider{Err: errTest}
	secondary := &llmmock.Provider{Replies: []string{"backup"}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	_, _ = fb.ChatCompletion(context.Background(), testTurns)
	_, _ = fb.ChatCompletion(context.Background(), testTurns)
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should be open)", primary.CallCount())
	}
	if secondary.CallCount() != 2 {
		t.Errorf("secondary called %d times, want 2", secondary.CallCount())
	}
}

func TestSTTFallback_StartStream(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errTest}
	session := sttmock.NewSession()
	secondary := &sttmock.Provider{Session: session}
	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("local", secondary)

	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1}
	got, err := fb.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if got != session {
		t.Error("session did not come from the secondary")
	}
	if primary.CallCount() != 1 || secondary.StartStreamCalls[0].Cfg != cfg {
		t.Errorf("calls: primary=%d secondary=%+v", primary.CallCount(), secondary.StartStreamCalls)
	}
}

func TestTTSFallback_Synthesize(t *testing.T) {
	primary := &ttsmock.Provider{Err: errTest}
	secondary := &ttsmock.Provider{Audio: []byte{1, 2, 3, 4}}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	pcm, err := fb.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 4 || secondary.Texts()[0] != "hi" {
		t.Errorf("pcm=%v texts=%v", pcm, secondary.Texts())
	}
}

// failingStream delivers one chunk and then fails.
type failingStream struct{ ttsmock.Provider }

func (f *failingStream) SynthesizeStream(_ context.Context, _ string, onChunk func([]byte) error) error {
	if err := onChunk([]byte{9, 9}); err != nil {
		return err
	}
	return errTest
}

func TestTTSFallback_SynthesizeStream(t *testing.T) {
	t.Run("failover before first chunk", func(t *testing.T) {
		secondary := &ttsmock.Provider{Audio: make([]byte, 10)}
		fb := NewTTSFallback(&ttsmock.Provider{Err: errTest}, "primary", FallbackConfig{})
		fb.AddFallback("secondary", secondary)

		var got int
		err := fb.SynthesizeStream(context.Background(), "hi", func(c []byte) error {
			got += len(c)
			return nil
		})
		if err != nil || got != 10 {
			t.Errorf("err=%v bytes=%d", err, got)
		}
	})
	t.Run("no failover after first chunk", func(t *testing.T) {
		secondary := &ttsmock.Provider{Audio: make([]byte, 10)}
		fb := NewTTSFallback(&failingStream{}, "primary", FallbackConfig{})
		fb.AddFallback("secondary", secondary)

		var chunks int
		err := fb.SynthesizeStream(context.Background(), "hi", func([]byte) error {
			chunks++
			return nil
		})
		if !errors.Is(err, errTest) || errors.Is(err, ErrAllFailed) {
			t.Errorf("err = %v, want the primary's error", err)
		}
		if chunks != 1 || secondary.CallCount() != 0 {
			t.Errorf("chunks=%d secondary calls=%d", chunks, secondary.CallCount())
		}
	})
}
