package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// captureSampleRate is the pager microphone's sample rate.
const captureSampleRate = 16000

// HTTPTranscriber sends captured PCM to a speech-to-text HTTP endpoint.
// The request carries the audio base64-encoded in a JSON body; the
// response is expected to contain the recognized text.
type HTTPTranscriber struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPTranscriber creates a transcriber for the given endpoint.
// The token is optional; when set it is sent as a bearer token.
func NewHTTPTranscriber(url, token string) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:   url,
		token: token,
		// The pipeline enforces its own deadline via ctx; this timeout is
		// a backstop for a transcriber used outside the pipeline.
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// asrRequest is the wire format of a recognition request.
type asrRequest struct {
	Audio      string `json:"audio"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// asrResponse is the wire format of a recognition response.
type asrResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe implements Transcriber.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	body, err := json.Marshal(asrRequest{
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		Format:     "pcm_s16le",
		SampleRate: captureSampleRate,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asr endpoint returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed asrResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("asr error: %s", parsed.Error)
	}
	return parsed.Text, nil
}
