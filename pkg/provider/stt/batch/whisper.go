package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Compile-time interface assertion.
var _ Recognizer = (*WhisperServer)(nil)

// WhisperServerOption configures a [WhisperServer].
type WhisperServerOption func(*WhisperServer)

// WithWhisperModel sets the optional model hint sent with each request.
func WithWhisperModel(model string) WhisperServerOption {
	return func(w *WhisperServer) { w.model = model }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) WhisperServerOption {
	return func(w *WhisperServer) { w.httpClient = c }
}

// WhisperServer recognises speech through a whisper.cpp server's
// POST /inference endpoint.
type WhisperServer struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// NewWhisperServer returns a recogniser for the whisper.cpp server at
// serverURL (e.g. "http://localhost:8080").
func NewWhisperServer(serverURL string, opts ...WhisperServerOption) (*WhisperServer, error) {
	if serverURL == "" {
		return nil, errors.New("batch: whisper server URL must not be empty")
	}
	w := &WhisperServer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Recognize uploads wav as multipart/form-data and returns the text field of
// the JSON response.
func (w *WhisperServer) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", fmt.Errorf("batch: whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("batch: whisper: write wav data: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("batch: whisper: write language field: %w", err)
		}
	}
	if w.model != "" {
		if err := mw.WriteField("model", w.model); err != nil {
			return "", fmt.Errorf("batch: whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("batch: whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("batch: whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("batch: whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("batch: whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("batch: whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("batch: whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
