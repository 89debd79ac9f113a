package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bookshelf/api/internal/config"
)

// googleMaxInputBytes is the text:synthesize input limit
const googleMaxInputBytes = 5000

// GoogleTTSClient calls the Google Cloud Text-to-Speech REST API
type GoogleTTSClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	languageCode string
	voiceName    string
	speakingRate float64
	pitch        float64
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch"`
}

type synthesizeResponse struct {
	// base64 in the wire format, decoded by encoding/json
	AudioContent []byte `json:"audioContent"`
}

// NewGoogleTTSClient creates a new Google Text-to-Speech client.
// The HTTP timeout is left to the caller's context.
func NewGoogleTTSClient(cfg *config.TTSConfig) *GoogleTTSClient {
	return &GoogleTTSClient{
		httpClient:   &http.Client{},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		languageCode: cfg.LanguageCode,
		voiceName:    cfg.VoiceName,
		speakingRate: cfg.SpeakingRate,
		pitch:        cfg.Pitch,
	}
}

func (c *GoogleTTSClient) Name() string {
	return "google"
}

// Synthesize narrates text and returns MP3 bytes
func (c *GoogleTTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	req := &synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceSelection{
			LanguageCode: c.languageCode,
			Name:         c.voiceName,
		},
		AudioConfig: audioConfig{
			AudioEncoding: "MP3",
			SpeakingRate:  c.speakingRate,
			Pitch:         c.pitch,
		},
	}

	var result synthesizeResponse
	if err := c.post(ctx, "/v1/text:synthesize", req, &result); err != nil {
		return nil, err
	}
	if len(result.AudioContent) == 0 {
		return nil, fmt.Errorf("google returned empty audio")
	}
	return result.AudioContent, nil
}

// post sends a POST request with JSON body and parses the response
func (c *GoogleTTSClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	u := c.baseURL + endpoint + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Backend: "google", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GoogleTTSClient) MaxInputBytes() int {
	return googleMaxInputBytes
}

func (c *GoogleTTSClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}
