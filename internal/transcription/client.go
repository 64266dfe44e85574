// Package transcription is the client for the speech-to-text and diarization service.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/models"
)

// Result is a speech-to-text result.
type Result struct {
	FullText string                     `json:"full_text"`
	Segments []models.TranscriptSegment `json:"segments"`
	Language string                     `json:"language"`
	Duration float64                    `json:"duration"` // seconds
}

// Client calls the transcription service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a transcription client. Speech-to-text jobs are slow, so the default
// HTTP timeout is generous.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, httpClient: httpClient}
}

type transcribeRequest struct {
	AudioURL       string `json:"audio_url"`
	DiarizationURL string `json:"diarization_url,omitempty"`
}

// Transcribe runs speech-to-text over audioURL, attributing speakers from diarizationURL
// when given.
func (c *Client) Transcribe(ctx context.Context, audioURL, diarizationURL string) (*Result, error) {
	body, err := json.Marshal(transcribeRequest{AudioURL: audioURL, DiarizationURL: diarizationURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	raw, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	if res.FullText == "" {
		res.FullText = botvendor.FromSegments(res.Segments, "").FullText
	}
	return &res, nil
}

// FetchDiarization downloads diarization output and returns it as a transcript. Entries
// without text still carry speaker turns.
func (c *Client) FetchDiarization(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	raw, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("fetch diarization: %w", err)
	}
	t, err := botvendor.ParseTranscript(raw, "application/json")
	if err != nil {
		return nil, err
	}
	return &Result{FullText: t.FullText, Segments: t.Segments, Language: t.Language, Duration: t.Duration}, nil
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
