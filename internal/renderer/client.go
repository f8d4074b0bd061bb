// Package renderer talks to the external script-enhancement, voice
// synthesis and video rendering backend. The backend is an opaque HTTP
// service; this package only shapes requests and acknowledgments.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RenderRequest is the submission accepted by the rendering backend.
type RenderRequest struct {
	VideoID    int    `json:"video_id"`
	Script     string `json:"script"`
	Template   string `json:"template"`
	Voice      string `json:"voice"`
	Resolution string `json:"resolution"`
}

// RenderAck is the backend's acknowledgment of a scheduled render.
type RenderAck struct {
	JobRef    string `json:"job_ref"`
	OutputURL string `json:"output_url,omitempty"`
}

// Client is the interface the worker depends on.
type Client interface {
	// EnhanceScript rewrites a raw script for short-video delivery.
	EnhanceScript(ctx context.Context, script string) (string, error)

	// SynthesizeVoice produces a narration asset and returns its reference.
	SynthesizeVoice(ctx context.Context, script, voice string) (string, error)

	// SubmitRender schedules the final render.
	SubmitRender(ctx context.Context, req RenderRequest) (*RenderAck, error)
}

// HTTPClient implements Client against the configured backend base URL.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal renderer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create renderer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("renderer request %s failed with status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode renderer response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) EnhanceScript(ctx context.Context, script string) (string, error) {
	var out struct {
		Script string `json:"script"`
	}
	err := c.post(ctx, "/v1/enhance-script", map[string]string{"script": script}, &out)
	if err != nil {
		return "", err
	}
	return out.Script, nil
}

func (c *HTTPClient) SynthesizeVoice(ctx context.Context, script, voice string) (string, error) {
	var out struct {
		AudioRef string `json:"audio_ref"`
	}
	err := c.post(ctx, "/v1/synthesize", map[string]string{"script": script, "voice": voice}, &out)
	if err != nil {
		return "", err
	}
	return out.AudioRef, nil
}

func (c *HTTPClient) SubmitRender(ctx context.Context, req RenderRequest) (*RenderAck, error) {
	var ack RenderAck
	if err := c.post(ctx, "/v1/render", req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// MockClient records calls for testing.
type MockClient struct {
	mu sync.Mutex

	EnhanceCalls []string
	VoiceCalls   []string
	RenderCalls  []RenderRequest

	EnhanceErr error
	VoiceErr   error
	RenderErr  error
	Ack        *RenderAck
}

func (m *MockClient) EnhanceScript(ctx context.Context, script string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnhanceCalls = append(m.EnhanceCalls, script)
	if m.EnhanceErr != nil {
		return "", m.EnhanceErr
	}
	return script + " (enhanced)", nil
}

func (m *MockClient) SynthesizeVoice(ctx context.Context, script, voice string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VoiceCalls = append(m.VoiceCalls, voice)
	if m.VoiceErr != nil {
		return "", m.VoiceErr
	}
	return "audio-ref-1", nil
}

func (m *MockClient) SubmitRender(ctx context.Context, req RenderRequest) (*RenderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RenderCalls = append(m.RenderCalls, req)
	if m.RenderErr != nil {
		return nil, m.RenderErr
	}
	if m.Ack != nil {
		return m.Ack, nil
	}
	return &RenderAck{JobRef: "job-ref-1", OutputURL: "https://cdn.example.com/out.mp4"}, nil
}
