package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time interface assertion.
var _ Recognizer = (*Whisper)(nil)

// Whisper is a [Recognizer] backed by the whisper.cpp CGO bindings. The
// libwhisper static library and headers must be reachable through
// LIBRARY_PATH and C_INCLUDE_PATH at build time.
//
// The model is loaded once; each Transcribe call gets its own context, which
// is the unit whisper.cpp allows per goroutine.
type Whisper struct {
	mu    sync.Mutex
	model whisperlib.Model
}

// NewWhisper loads the ggml model at modelPath. Call Close to release it.
func NewWhisper(modelPath string) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("local: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("local: load model %q: %w", modelPath, err)
	}
	return &Whisper{model: model}, nil
}

// Transcribe runs inference over samples and joins the non-empty segments.
func (w *Whisper) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w.mu.Lock()
	model := w.model
	w.mu.Unlock()
	if model == nil {
		return "", errors.New("local: model closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("local: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("local: unsupported language, using model default", "language", language, "err", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("local: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("local: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the model. Further Transcribe calls fail.
func (w *Whisper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}
